// Package challenge issues small proof-of-work puzzles for agent
// registration. The puzzle is trivial for a program and tedious for a
// human: compute sha256(nonce + a*b) as hex.
package challenge

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	mrand "math/rand"
	"strings"
	"sync"
	"time"
)

// TTL is how long an issued challenge stays solvable.
const TTL = 5 * time.Minute

const sweepInterval = time.Minute

// Challenge is handed to the caller. The expected answer is kept
// server-side, keyed by nonce.
type Challenge struct {
	Nonce       string `json:"nonce"`
	A           int    `json:"a"`
	B           int    `json:"b"`
	Instruction string `json:"instruction"`
}

type pending struct {
	answer  string
	created time.Time
}

// Registry issues and checks challenges. Challenges are single-use and
// expire after TTL.
type Registry struct {
	mu      sync.Mutex
	pending map[string]pending
	done    chan struct{}
	once    sync.Once

	now func() time.Time
}

// NewRegistry creates a registry with a background expiry sweep.
func NewRegistry() *Registry {
	r := &Registry{
		pending: make(map[string]pending),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go r.sweep()
	return r
}

func (r *Registry) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			now := r.now()
			r.mu.Lock()
			for nonce, p := range r.pending {
				if now.Sub(p.created) > TTL {
					delete(r.pending, nonce)
				}
			}
			r.mu.Unlock()
		}
	}
}

// Stop ends the sweep goroutine.
func (r *Registry) Stop() {
	r.once.Do(func() { close(r.done) })
}

// Generate issues a new challenge.
func (r *Registry) Generate() (*Challenge, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	nonce := hex.EncodeToString(b)

	x := mrand.Intn(900) + 100
	y := mrand.Intn(900) + 100

	sum := sha256.Sum256([]byte(nonce + fmt.Sprint(x*y)))

	r.mu.Lock()
	r.pending[nonce] = pending{answer: hex.EncodeToString(sum[:]), created: r.now()}
	r.mu.Unlock()

	return &Challenge{
		Nonce:       nonce,
		A:           x,
		B:           y,
		Instruction: "compute sha256(nonce + (a * b)) as hex",
	}, nil
}

// Solve checks an answer and consumes the challenge regardless of
// outcome, so a nonce cannot be brute-forced by repeated guesses.
func (r *Registry) Solve(nonce, answer string) bool {
	r.mu.Lock()
	p, ok := r.pending[nonce]
	delete(r.pending, nonce)
	r.mu.Unlock()

	if !ok || r.now().Sub(p.created) > TTL {
		return false
	}
	return strings.EqualFold(answer, p.answer)
}

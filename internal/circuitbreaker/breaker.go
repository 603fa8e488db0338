// Package circuitbreaker guards calls to upstream payment providers.
// Each network's RPC endpoint gets its own closed → open → half-open
// circuit, so one flaky chain cannot stall key issuance on the others.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State is the position of one network's circuit.
type State int

const (
	StateClosed   State = iota // Normal: verification calls flow through
	StateOpen                  // Tripped: calls are rejected outright
	StateHalfOpen              // Probing: one call allowed to test recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "agentchat",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by network, from-state, and to-state.",
}, []string{"network", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(stateTransitions)
}

// circuit tracks one network's state.
type circuit struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker holds a circuit per network. A circuit trips open after
// threshold consecutive failures and stays open for openDuration
// before letting one probe call through.
type Breaker struct {
	mu           sync.Mutex
	circuits     map[string]*circuit
	threshold    int
	openDuration time.Duration
	onTransition func(network string, from, to State)
}

// New creates a breaker that opens after threshold consecutive
// failures and probes again after openDuration.
func New(threshold int, openDuration time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openDuration <= 0 {
		openDuration = 30 * time.Second
	}
	return &Breaker{
		circuits:     make(map[string]*circuit),
		threshold:    threshold,
		openDuration: openDuration,
	}
}

// OnTransition sets a callback invoked on state changes.
func (b *Breaker) OnTransition(fn func(network string, from, to State)) {
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
}

// Allow reports whether a call to network should proceed. An open
// circuit past openDuration moves to half-open and admits one probe.
func (b *Breaker) Allow(network string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[network]
	if !ok {
		return true // no circuit yet = closed
	}

	switch c.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(c.lastFailure) >= b.openDuration {
			b.transition(c, network, StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return false // a probe is already in flight
	default:
		return true
	}
}

// RecordSuccess clears the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess(network string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[network]
	if !ok {
		return
	}

	if c.state == StateHalfOpen {
		b.transition(c, network, StateClosed)
	}
	c.failures = 0
}

// RecordFailure counts a failed call, tripping the circuit open at the
// threshold. A failed probe reopens immediately.
func (b *Breaker) RecordFailure(network string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[network]
	if !ok {
		c = &circuit{state: StateClosed}
		b.circuits[network] = c
	}

	c.failures++
	c.lastFailure = time.Now()

	if c.state == StateHalfOpen {
		b.transition(c, network, StateOpen)
		return
	}

	if c.state == StateClosed && c.failures >= b.threshold {
		b.transition(c, network, StateOpen)
	}
}

// State returns the circuit state for network, StateClosed when unknown.
func (b *Breaker) State(network string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[network]
	if !ok {
		return StateClosed
	}
	return c.state
}

// transition changes state and fires the callback. Caller holds b.mu.
func (b *Breaker) transition(c *circuit, network string, to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	stateTransitions.WithLabelValues(network, from.String(), to.String()).Inc()
	if b.onTransition != nil {
		fn := b.onTransition
		go fn(network, from, to)
	}
}

// Package ratelimit provides fixed-window rate limiting for the agentchat API.
//
// Windows are process-local and reset on restart. That is an accepted
// tradeoff: the limiters exist to blunt abuse, not to provide hard
// guarantees, and bursts at window boundaries may briefly reach 2x the
// nominal rate.
package ratelimit

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Config configures a fixed-window limiter
type Config struct {
	// Window is the fixed window duration
	Window time.Duration
	// Max is the number of allowed hits per identity per window
	Max int
	// CleanupInterval is how often to sweep expired windows
	CleanupInterval time.Duration
}

// Limiter tracks fixed windows by identity (IP or API key)
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	windows map[string]*window
	stop    chan struct{}
	now     func() time.Time // swappable for tests
}

type window struct {
	start time.Time
	count int
}

// New creates a new fixed-window limiter and starts its sweep goroutine
func New(cfg Config) *Limiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	l := &Limiter{
		cfg:     cfg,
		windows: make(map[string]*window),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	go l.cleanup()
	return l
}

// cleanup removes expired windows periodically to bound memory
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := l.now()
			l.mu.Lock()
			for id, w := range l.windows {
				if now.Sub(w.start) > l.cfg.Window {
					delete(l.windows, id)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Stop stops the sweep goroutine
func (l *Limiter) Stop() {
	close(l.stop)
}

// Allow checks whether a hit for identity fits in the current window.
// A fresh or expired window restarts at count 1.
func (l *Limiter) Allow(identity string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[identity]
	if !ok || now.Sub(w.start) > l.cfg.Window {
		l.windows[identity] = &window{start: now, count: 1}
		return true
	}
	if w.count >= l.cfg.Max {
		return false
	}
	w.count++
	return true
}

// Max returns the configured per-window maximum.
func (l *Limiter) Max() int { return l.cfg.Max }

// Window returns the configured window duration.
func (l *Limiter) Window() time.Duration { return l.cfg.Window }

// KeyFunc extracts the identity to limit on from a request.
type KeyFunc func(c *gin.Context) string

// ByClientIP limits per client IP.
func ByClientIP(c *gin.Context) string {
	return c.ClientIP()
}

// Middleware returns a gin middleware enforcing this limiter.
// Denials respond 429 with the limiter's policy so the client can back off.
func (l *Limiter) Middleware(key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(key(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": fmt.Sprintf("Rate limited. Max %d per %s.", l.cfg.Max, l.cfg.Window),
				"max":     l.cfg.Max,
				"window":  l.cfg.Window.String(),
			})
			return
		}
		c.Next()
	}
}

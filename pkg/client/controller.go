package client

import (
	"math/rand"
	"sync"
	"time"
)

// State is the connection-supervision state of the controller.
type State string

const (
	// StateConnected means the persistent transport is healthy.
	StateConnected State = "connected"
	// StateReconnecting means the transport dropped and re-establishment is
	// being attempted under the retry ceiling.
	StateReconnecting State = "reconnecting"
	// StateFallback means the retry ceiling was exceeded; turn submissions
	// use the non-streaming HTTP path until an explicit manual retry.
	StateFallback State = "fallback"
	// StateFailed means an unrecoverable configuration error; terminal until
	// reconfiguration.
	StateFailed State = "failed"
)

// BackoffConfig tunes the reconnect loop.
type BackoffConfig struct {
	// BaseDelay is the first retry delay. Zero means 500ms.
	BaseDelay time.Duration
	// MaxDelay caps the exponential growth. Zero means 10s.
	MaxDelay time.Duration
	// MaxRetries is the ceiling before the controller enters fallback.
	// Zero means 5.
	MaxRetries int
	// DisableJitter makes delays deterministic, for tests.
	DisableJitter bool
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	return c
}

// Controller is the reconnect/fallback state machine. It holds no transport
// of its own; the owning client reports outcomes and asks for the next delay,
// which keeps every transition testable without a network.
type Controller struct {
	mu      sync.Mutex
	state   State
	retries int
	cfg     BackoffConfig
	rng     *rand.Rand
}

// NewController creates a controller in the connected state.
func NewController(cfg BackoffConfig) *Controller {
	return &Controller{
		state: StateConnected,
		cfg:   cfg.withDefaults(),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CurrentState returns the controller state.
func (c *Controller) CurrentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Retries returns the current consecutive-failure count.
func (c *Controller) Retries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries
}

// OnTransportError records a transport drop or missed heartbeat:
// connected -> reconnecting. No-op in fallback or failed.
func (c *Controller) OnTransportError() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConnected {
		c.state = StateReconnecting
	}
	return c.state
}

// OnConnected records a successful (re-)establishment:
// reconnecting -> connected, retry counter resets to zero.
func (c *Controller) OnConnected() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateFailed {
		return c.state
	}
	c.state = StateConnected
	c.retries = 0
	return c.state
}

// OnAttemptFailed records one failed reconnect attempt. Under the ceiling it
// stays in reconnecting and returns the backoff delay before the next
// attempt; past the ceiling it transitions to fallback with a zero delay.
func (c *Controller) OnAttemptFailed() (State, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateFailed || c.state == StateFallback {
		return c.state, 0
	}
	c.state = StateReconnecting
	c.retries++
	if c.retries >= c.cfg.MaxRetries {
		c.state = StateFallback
		return c.state, 0
	}
	return c.state, c.delayLocked()
}

// OnConfigError records an unrecoverable configuration error. Terminal.
func (c *Controller) OnConfigError() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateFailed
	return c.state
}

// ManualRetry is the explicit user action that leaves fallback: the next
// submission attempts the persistent transport again from a clean counter.
// fallback -> connected is never automatic.
func (c *Controller) ManualRetry() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateFallback {
		return c.state
	}
	c.state = StateReconnecting
	c.retries = 0
	return c.state
}

// delayLocked computes the exponential backoff with cap and jitter. Callers
// hold c.mu.
func (c *Controller) delayLocked() time.Duration {
	delay := c.cfg.BaseDelay * time.Duration(1<<uint(c.retries-1))
	if delay > c.cfg.MaxDelay || delay <= 0 {
		delay = c.cfg.MaxDelay
	}
	if !c.cfg.DisableJitter {
		// Up to 25% extra spread avoids thundering-herd reconnection.
		delay += time.Duration(c.rng.Int63n(int64(delay)/4 + 1))
	}
	return delay
}

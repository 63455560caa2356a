package client

import (
	"testing"
	"time"
)

func deterministicController() *Controller {
	return NewController(BackoffConfig{
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		MaxRetries:    5,
		DisableJitter: true,
	})
}

func TestControllerStartsConnected(t *testing.T) {
	c := NewController(BackoffConfig{})
	if c.CurrentState() != StateConnected {
		t.Fatalf("initial state = %q, want connected", c.CurrentState())
	}
}

func TestBackoffGrowsToCapThenFallback(t *testing.T) {
	c := NewController(BackoffConfig{
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		MaxRetries:    10,
		DisableJitter: true,
	})
	c.OnTransportError()

	wantDelays := []time.Duration{
		500 * time.Millisecond, // 1st failure
		1 * time.Second,        // 2nd
		2 * time.Second,        // 3rd: capped
		2 * time.Second,        // 4th: stays at cap
	}
	var prev time.Duration
	for i, want := range wantDelays {
		state, delay := c.OnAttemptFailed()
		if state != StateReconnecting {
			t.Fatalf("attempt %d: state = %q, want reconnecting", i+1, state)
		}
		if delay != want {
			t.Errorf("attempt %d: delay = %v, want %v", i+1, delay, want)
		}
		if delay < prev {
			t.Errorf("attempt %d: delay %v decreased below %v", i+1, delay, prev)
		}
		prev = delay
	}
}

func TestFallbackAfterRetryCeiling(t *testing.T) {
	c := deterministicController()
	c.OnTransportError()

	for i := 0; i < 4; i++ {
		state, _ := c.OnAttemptFailed()
		if state != StateReconnecting {
			t.Fatalf("attempt %d: state = %q, want reconnecting", i+1, state)
		}
	}
	state, delay := c.OnAttemptFailed()
	if state != StateFallback {
		t.Fatalf("state after 5th failure = %q, want fallback", state)
	}
	if delay != 0 {
		t.Errorf("fallback delay = %v, want 0", delay)
	}

	// Fallback is sticky: further failures and transport errors do not move it.
	state, _ = c.OnAttemptFailed()
	if state != StateFallback {
		t.Errorf("state = %q, fallback must be sticky", state)
	}
	if got := c.OnTransportError(); got != StateFallback {
		t.Errorf("OnTransportError() in fallback = %q, want fallback", got)
	}
}

func TestOnConnectedResetsRetries(t *testing.T) {
	c := deterministicController()
	c.OnTransportError()
	c.OnAttemptFailed()
	c.OnAttemptFailed()
	if c.Retries() != 2 {
		t.Fatalf("retries = %d, want 2", c.Retries())
	}

	if got := c.OnConnected(); got != StateConnected {
		t.Fatalf("OnConnected() = %q, want connected", got)
	}
	if c.Retries() != 0 {
		t.Errorf("retries after reconnect = %d, want 0", c.Retries())
	}

	// A fresh drop starts the exponential curve over from the base delay.
	c.OnTransportError()
	_, delay := c.OnAttemptFailed()
	if delay != 500*time.Millisecond {
		t.Errorf("first delay after reset = %v, want 500ms", delay)
	}
}

func TestManualRetryLeavesFallback(t *testing.T) {
	c := deterministicController()
	c.OnTransportError()
	for i := 0; i < 5; i++ {
		c.OnAttemptFailed()
	}
	if c.CurrentState() != StateFallback {
		t.Fatalf("state = %q, want fallback", c.CurrentState())
	}

	if got := c.ManualRetry(); got != StateReconnecting {
		t.Fatalf("ManualRetry() = %q, want reconnecting", got)
	}
	if c.Retries() != 0 {
		t.Errorf("retries after manual retry = %d, want 0", c.Retries())
	}
	if got := c.OnConnected(); got != StateConnected {
		t.Errorf("OnConnected() after manual retry = %q, want connected", got)
	}
}

func TestManualRetryOnlyFromFallback(t *testing.T) {
	c := deterministicController()
	if got := c.ManualRetry(); got != StateConnected {
		t.Errorf("ManualRetry() while connected = %q, want connected", got)
	}
}

func TestConfigErrorIsTerminal(t *testing.T) {
	c := deterministicController()
	if got := c.OnConfigError(); got != StateFailed {
		t.Fatalf("OnConfigError() = %q, want failed", got)
	}
	if got := c.OnConnected(); got != StateFailed {
		t.Errorf("OnConnected() from failed = %q, want failed", got)
	}
	state, _ := c.OnAttemptFailed()
	if state != StateFailed {
		t.Errorf("OnAttemptFailed() from failed = %q, want failed", state)
	}
}

func TestJitterStaysWithinBound(t *testing.T) {
	c := NewController(BackoffConfig{
		BaseDelay:  1 * time.Second,
		MaxDelay:   10 * time.Second,
		MaxRetries: 100,
	})
	c.OnTransportError()
	_, delay := c.OnAttemptFailed()
	if delay < 1*time.Second || delay > 1250*time.Millisecond {
		t.Errorf("jittered delay = %v, want within [1s, 1.25s]", delay)
	}
}

package connmgr

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSessionHeartbeatRestoresOpen(t *testing.T) {
	s := NewSession("conn-1", "sess-1")
	if s.State() != StateConnecting {
		t.Fatalf("initial state = %q, want connecting", s.State())
	}

	s.Heartbeat(time.Now())
	if s.State() != StateOpen {
		t.Errorf("state after heartbeat = %q, want open", s.State())
	}

	s.SetState(StateDegraded)
	s.Heartbeat(time.Now())
	if s.State() != StateOpen {
		t.Errorf("state after recovery heartbeat = %q, want open", s.State())
	}
}

func TestSessionClosedIsTerminal(t *testing.T) {
	s := NewSession("conn-1", "sess-1")
	s.SetState(StateClosed)
	s.SetState(StateOpen)
	if s.State() != StateClosed {
		t.Errorf("state = %q, want closed to be terminal", s.State())
	}
	if s.TryBeginTurn(func() {}) {
		t.Error("TryBeginTurn succeeded on a closed session")
	}
}

func TestTryBeginTurn_SingleWinnerUnderContention(t *testing.T) {
	s := NewSession("conn-1", "sess-1")
	s.SetState(StateOpen)

	const attempts = 32
	var wins int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if s.TryBeginTurn(func() {}) {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1 concurrent turn claim", wins)
	}

	// Releasing the slot lets the next submission through.
	s.EndTurn()
	if !s.TryBeginTurn(func() {}) {
		t.Error("TryBeginTurn failed after EndTurn")
	}
}

func TestCancelActiveTurn(t *testing.T) {
	s := NewSession("conn-1", "sess-1")
	s.SetState(StateOpen)

	cancelled := false
	if !s.TryBeginTurn(func() { cancelled = true }) {
		t.Fatal("TryBeginTurn failed")
	}
	s.CancelActiveTurn()
	if !cancelled {
		t.Error("CancelActiveTurn did not invoke the cancel func")
	}

	// No-op when idle.
	s.EndTurn()
	s.CancelActiveTurn()
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := NewSession("conn-a", "sess-1")
	b := NewSession("conn-b", "sess-2")
	r.Add(a)
	r.Add(b)

	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
	got, ok := r.Get("conn-a")
	if !ok || got.SessionID != "sess-1" {
		t.Errorf("Get(conn-a) = %+v, %v", got, ok)
	}

	r.Remove("conn-a")
	if _, ok := r.Get("conn-a"); ok {
		t.Error("Get(conn-a) found a removed session")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistryCloseAll(t *testing.T) {
	r := NewRegistry()
	s := NewSession("conn-a", "sess-1")
	s.SetState(StateOpen)
	cancelled := false
	s.TryBeginTurn(func() { cancelled = true })
	r.Add(s)

	r.CloseAll()

	if s.State() != StateClosed {
		t.Errorf("state = %q, want closed", s.State())
	}
	if !cancelled {
		t.Error("CloseAll did not cancel the in-flight turn")
	}
}

package relay

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/chatstream/relay/internal/provider"
	"github.com/chatstream/relay/internal/turnstore"
)

// TurnRequest is one user submission: the ordered history plus the selected
// provider and model.
type TurnRequest struct {
	SessionID string
	History   []provider.Message
	Provider  string
	Model     string
}

// Coordinator orchestrates exactly one turn end-to-end: it resolves the
// adapter, consumes the delta sequence, forwards each delta immediately, and
// persists the completed turn exactly once. The caller (connection manager)
// enforces the one-turn-per-session invariant before calling BeginTurn.
type Coordinator struct {
	registry *provider.Registry
	store    turnstore.Store
	logger   *log.Logger
}

// NewCoordinator creates a Coordinator. store may be nil, in which case
// completed turns are not persisted (useful for tests and dry runs).
func NewCoordinator(registry *provider.Registry, store turnstore.Store, logger *log.Logger) *Coordinator {
	return &Coordinator{registry: registry, store: store, logger: logger}
}

// BeginTurn runs one turn to its terminal status, emitting normalized events
// as they happen. It blocks until the turn is terminal and returns the final
// turn record. Cancelling ctx releases the upstream connection promptly and
// discards partial text.
func (c *Coordinator) BeginTurn(ctx context.Context, req TurnRequest, emit EmitFunc) *Turn {
	start := time.Now()
	turn := &Turn{
		ID:        uuid.New().String(),
		SessionID: req.SessionID,
		History:   req.History,
		Provider:  req.Provider,
		Model:     req.Model,
		Status:    StatusStreaming,
	}

	adapter, err := c.registry.Lookup(req.Provider)
	if err != nil {
		c.failTurn(turn, err, emit)
		return turn
	}

	ch, err := adapter.OpenStream(ctx, req.Model, req.History)
	if err != nil {
		c.failTurn(turn, err, emit)
		return turn
	}

	emit(StartEvent(req.Provider, req.Model))

	firstDeltaAt := time.Time{}
	for ev := range ch {
		if ev.Err != nil {
			if errors.Is(ev.Err, context.Canceled) || ctx.Err() != nil {
				c.cancelTurn(turn)
				return turn
			}
			c.failTurn(turn, ev.Err, emit)
			return turn
		}
		if ev.Done {
			turn.Output = ev.Text
			turn.CompletedAt = time.Now()
			turn.Status = StatusComplete
			emit(CompleteEvent(turn.Output, turn.Provider, turn.Model, turn.CompletedAt))
			c.persist(ctx, turn)
			c.logTurn(turn, start, firstDeltaAt)
			return turn
		}
		if ev.Delta == "" {
			continue
		}
		if firstDeltaAt.IsZero() {
			firstDeltaAt = time.Now()
		}
		turn.Sequence++
		turn.Output += ev.Delta
		emit(ChunkEvent(ev.Delta, turn.Sequence))
	}

	// The adapter closed its channel without a terminal event. Treat it as a
	// dropped upstream connection so the partial text is never persisted.
	if ctx.Err() != nil {
		c.cancelTurn(turn)
		return turn
	}
	c.failTurn(turn, provider.Errorf(provider.KindNetwork, "%s: stream ended unexpectedly", req.Provider), emit)
	return turn
}

func (c *Coordinator) failTurn(turn *Turn, err error, emit EmitFunc) {
	turn.Status = StatusErrored
	turn.Output = "" // never keep partial output on an errored turn
	emit(ErrorEvent(provider.KindOf(err), err.Error()))
	if c.logger != nil {
		c.logger.Printf("turn.errored turn=%s session=%s provider=%s err=%v", turn.ID, turn.SessionID, turn.Provider, err)
	}
}

func (c *Coordinator) cancelTurn(turn *Turn) {
	turn.Status = StatusCancelled
	turn.Output = "" // partial text is discarded, never persisted
	if c.logger != nil {
		c.logger.Printf("turn.cancelled turn=%s session=%s provider=%s", turn.ID, turn.SessionID, turn.Provider)
	}
}

// persist writes the completed turn to the sink exactly once. A sink failure
// does not change the turn status: the client already saw the complete event.
func (c *Coordinator) persist(ctx context.Context, turn *Turn) {
	if c.store == nil {
		return
	}
	rec := turnstore.Record{
		TurnID:    turn.ID,
		SessionID: turn.SessionID,
		Role:      "assistant",
		Content:   turn.Output,
		Provider:  turn.Provider,
		Model:     turn.Model,
		Timestamp: turn.CompletedAt,
	}
	if err := c.store.Save(ctx, rec); err != nil && c.logger != nil {
		c.logger.Printf("turn.persist_failed turn=%s session=%s err=%v", turn.ID, turn.SessionID, err)
	}
}

func (c *Coordinator) logTurn(turn *Turn, start, firstDeltaAt time.Time) {
	if c.logger == nil {
		return
	}
	total := time.Since(start)
	ttfb := time.Duration(0)
	if !firstDeltaAt.IsZero() {
		ttfb = firstDeltaAt.Sub(start)
	}
	c.logger.Printf("turn.complete turn=%s session=%s provider=%s model=%s total_ms=%d ttfb_ms=%d chunks=%d",
		turn.ID, turn.SessionID, turn.Provider, turn.Model, total.Milliseconds(), ttfb.Milliseconds(), turn.Sequence)
}

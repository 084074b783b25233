package session

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
)

// Token is the cancellation identity of one turn. It pairs a context (for
// in-flight provider calls) with a sequence number checked against the
// session's active-turn counter, so a pipeline can tell "my context was
// cancelled" apart from "a newer turn has replaced me" — both mean stop, but
// the check is cheap enough to run at chunk granularity.
type Token struct {
	id     string
	seq    uint64
	ctx    context.Context
	cancel context.CancelFunc
	active *atomic.Uint64
}

// newToken issues the next turn token, making it the active one.
func newToken(parent context.Context, active *atomic.Uint64) *Token {
	ctx, cancel := context.WithCancel(parent)
	return &Token{
		id:     uuid.NewString(),
		seq:    active.Add(1),
		ctx:    ctx,
		cancel: cancel,
		active: active,
	}
}

// ID is the turn identifier, used in logs and trace attributes.
func (t *Token) ID() string { return t.id }

// Context carries the token's cancellation to blocking provider calls.
func (t *Token) Context() context.Context { return t.ctx }

// Live reports whether this token still owns the session: its context is not
// cancelled and no newer turn has been issued.
func (t *Token) Live() bool {
	return t.ctx.Err() == nil && t.active.Load() == t.seq
}

// Cancel invalidates the token. Idempotent.
func (t *Token) Cancel() { t.cancel() }

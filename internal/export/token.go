package export

import (
	"context"
	"errors"
)

// ErrCancelled is the cause carried by a cancelled token.
var ErrCancelled = errors.New("export: cancelled")

// Token is a cooperative cancellation signal. Cancel may be called any
// number of times from any goroutine; the first call wins.
type Token struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// NewToken derives a token from parent. Cancelling parent cancels the token.
func NewToken(parent context.Context) *Token {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

func (t *Token) Cancel() { t.cancel(ErrCancelled) }

// Cancelled reports whether the token has been cancelled.
func (t *Token) Cancelled() bool {
	select {
	case <-t.ctx.Done():
		return true
	default:
		return false
	}
}

// Done is closed once the token is cancelled.
func (t *Token) Done() <-chan struct{} { return t.ctx.Done() }

// Err is ErrCancelled after Cancel, the parent's cause if the parent ended
// first, and nil otherwise.
func (t *Token) Err() error { return context.Cause(t.ctx) }

// Context exposes the token for APIs that take a context.
func (t *Token) Context() context.Context { return t.ctx }

// Await blocks until done is closed or the token is cancelled and reports
// which happened first. A token cancelled before done closes wins.
func (t *Token) Await(done <-chan struct{}) (cancelled bool) {
	select {
	case <-done:
		return false
	case <-t.ctx.Done():
		return true
	}
}

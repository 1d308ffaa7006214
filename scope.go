package ddapm

import (
	"context"
	"sync"
)

// Scope is a logical execution context: it carries the stack of spans the
// context is currently inside. A Scope follows the logical flow of work,
// not goroutine identity - hand the same Scope across goroutine boundaries
// when a computation is suspended and resumed elsewhere.
//
// The zero Scope is not usable; create one with NewScope.
type Scope struct {
	mu    sync.Mutex
	stack []SpanID
}

// NewScope creates an empty logical execution context.
func NewScope() *Scope {
	return &Scope{}
}

// current returns the innermost entered span, if any.
func (s *Scope) current() (SpanID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) == 0 {
		return 0, false
	}
	return s.stack[len(s.stack)-1], true
}

func (s *Scope) push(id SpanID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stack = append(s.stack, id)
}

// pop removes the innermost span and reports what was removed.
func (s *Scope) pop() (SpanID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) == 0 {
		return 0, false
	}
	id := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return id, true
}

// scopeKeyType is a private type for context keys to avoid collisions.
type scopeKeyType struct{}

var scopeKey scopeKeyType

// ContextWithScope returns a context carrying the scope, so code that
// already threads a context.Context does not need a second parameter.
func ContextWithScope(ctx context.Context, scope *Scope) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, scopeKey, scope)
}

// ScopeFromContext extracts the scope from a context.
// Returns nil if no scope is present.
func ScopeFromContext(ctx context.Context) *Scope {
	if ctx == nil {
		return nil
	}
	if scope, ok := ctx.Value(scopeKey).(*Scope); ok {
		return scope
	}
	return nil
}

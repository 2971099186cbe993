// Package qrl implements lazy behavior handles: serializable references to
// executable behavior that are resolved on first use instead of at load time.
package qrl

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalid  = errors.New("qrl: invalid handle")
	ErrNotFound = errors.New("qrl: symbol not found")
)

type Resolver interface {
	Resolve(ctx context.Context, chunk, symbol string) (any, error)
}

type ResolverFunc func(ctx context.Context, chunk, symbol string) (any, error)

func (f ResolverFunc) Resolve(ctx context.Context, chunk, symbol string) (any, error) {
	return f(ctx, chunk, symbol)
}

// QRL names a symbol exported by a chunk together with the values it closes over.
type QRL struct {
	Chunk  string
	Symbol string

	// Captured holds the live values the behavior closes over.
	Captured []any
	// CaptureRefs holds unresolved capture ids of a parsed handle until they
	// are replaced by Captured.
	CaptureRefs []string

	resolved    any
	hasResolved bool
}

func New(chunk, symbol string, captured ...any) *QRL {
	return &QRL{
		Chunk:    chunk,
		Symbol:   symbol,
		Captured: captured,
	}
}

func (q *QRL) Resolve(ctx context.Context, r Resolver) (any, error) {
	if q.hasResolved {
		return q.resolved, nil
	}
	if r == nil {
		return nil, fmt.Errorf("%w: no resolver for %s", ErrNotFound, q)
	}
	v, err := r.Resolve(ctx, q.Chunk, q.Symbol)
	if err != nil {
		return nil, err
	}
	q.resolved = v
	q.hasResolved = true
	return v, nil
}

func (q *QRL) Resolved() (any, bool) {
	return q.resolved, q.hasResolved
}

// WithCaptured returns a copy of q sharing the resolved behavior but closing over captured.
func (q *QRL) WithCaptured(captured ...any) *QRL {
	c := *q
	c.Captured = captured
	c.CaptureRefs = nil
	return &c
}

func (q *QRL) String() string {
	return q.Chunk + "#" + q.Symbol
}

// Stringify renders the wire form `chunk#symbol[ref ref ...]`.
func (q *QRL) Stringify(refs []string) string {
	if len(refs) == 0 {
		return q.String()
	}
	return q.String() + "[" + strings.Join(refs, " ") + "]"
}

func Parse(s string) (*QRL, error) {
	body, refs := s, ""
	if strings.HasSuffix(s, "]") {
		open := strings.LastIndexByte(s, '[')
		if open < 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalid, s)
		}
		body, refs = s[:open], s[open+1:len(s)-1]
	}
	hash := strings.LastIndexByte(body, '#')
	if hash < 0 || hash == len(body)-1 {
		return nil, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	q := &QRL{
		Chunk:  body[:hash],
		Symbol: body[hash+1:],
	}
	if refs != "" {
		q.CaptureRefs = strings.Fields(refs)
	}
	return q, nil
}

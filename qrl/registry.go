package qrl

import (
	"context"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
)

func SymbolHash(chunk, symbol string) uint64 {
	return xxhash.Sum64String(chunk + "#" + symbol)
}

// Registry is an in-process Resolver keyed by symbol hash.
type Registry struct {
	mu      sync.RWMutex
	symbols map[uint64]any
}

func NewRegistry() *Registry {
	return &Registry{symbols: map[uint64]any{}}
}

func (r *Registry) Register(chunk, symbol string, behavior any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.symbols[SymbolHash(chunk, symbol)] = behavior
}

// Handle registers behavior and returns a handle to it closing over captured.
func (r *Registry) Handle(chunk, symbol string, behavior any, captured ...any) *QRL {
	r.Register(chunk, symbol, behavior)
	return New(chunk, symbol, captured...)
}

func (r *Registry) Resolve(ctx context.Context, chunk, symbol string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.symbols[SymbolHash(chunk, symbol)]
	if !ok {
		return nil, fmt.Errorf("%w: %s#%s", ErrNotFound, chunk, symbol)
	}
	return v, nil
}

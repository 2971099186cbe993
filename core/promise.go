package core

import (
	"context"
	"sync"
)

// Promise is an asynchronous result that settles exactly once, either
// resolved with a value or rejected with an error.
type Promise struct {
	once     sync.Once
	done     chan struct{}
	value    any
	err      error
	rejected bool
}

func NewPromise() (p *Promise, resolve func(any), reject func(error)) {
	p = &Promise{done: make(chan struct{})}
	resolve = func(v any) {
		p.once.Do(func() {
			p.value = v
			close(p.done)
		})
	}
	reject = func(err error) {
		p.once.Do(func() {
			p.err = err
			p.rejected = true
			close(p.done)
		})
	}
	return p, resolve, reject
}

// Go settles the returned promise with the result of fn run on its own goroutine.
func Go(ctx context.Context, fn func(ctx context.Context) (any, error)) *Promise {
	p, resolve, reject := NewPromise()
	go func() {
		v, err := fn(ctx)
		if err != nil {
			reject(err)
			return
		}
		resolve(v)
	}()
	return p
}

func Resolved(v any) *Promise {
	p, resolve, _ := NewPromise()
	resolve(v)
	return p
}

func Rejected(err error) *Promise {
	p, _, reject := NewPromise()
	reject(err)
	return p
}

// Await blocks until the promise settles or ctx is done.
func (p *Promise) Await(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		if p.rejected {
			return nil, p.err
		}
		return p.value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Settled reports the outcome without blocking. For a rejected promise the
// value is the rejection error.
func (p *Promise) Settled() (value any, resolved bool, settled bool) {
	select {
	case <-p.done:
	default:
		return nil, false, false
	}
	if p.rejected {
		return p.err, false, true
	}
	return p.value, true, true
}

package core

import (
	"context"
	"sync"
)

// Platform schedules scheduler passes. Every callback handed to NextTick
// must run on the container's single logical thread, after the caller returns.
type Platform interface {
	NextTick(fn func())
}

// ManualPlatform queues ticks until Flush or Step is called. NextTick may be
// called from any goroutine.
type ManualPlatform struct {
	mu    sync.Mutex
	queue []func()
}

func NewManualPlatform() *ManualPlatform {
	return &ManualPlatform{}
}

func (p *ManualPlatform) NextTick(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, fn)
}

func (p *ManualPlatform) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Step runs the oldest queued tick.
func (p *ManualPlatform) Step() bool {
	p.mu.Lock()
	if len(p.queue) == 0 {
		p.mu.Unlock()
		return false
	}
	fn := p.queue[0]
	p.queue = p.queue[1:]
	p.mu.Unlock()
	fn()
	return true
}

// Flush runs ticks, including ones queued while flushing, until none remain.
func (p *ManualPlatform) Flush() int {
	n := 0
	for p.Step() {
		n++
	}
	return n
}

// Loop is an event loop running every task on one goroutine.
type Loop struct {
	mu    sync.Mutex
	tasks []func()
	wake  chan struct{}
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func NewLoop() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (l *Loop) Start(ctx context.Context) {
	go l.run(ctx)
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	for {
		l.mu.Lock()
		tasks := l.tasks
		l.tasks = nil
		l.mu.Unlock()

		for _, fn := range tasks {
			fn()
		}
		if len(tasks) > 0 {
			continue
		}

		select {
		case <-l.wake:
		case <-l.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (l *Loop) NextTick(fn func()) {
	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	l.NextTick(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return context.Canceled
	}
}

func (l *Loop) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// Do runs fn on the container's thread: posted to the loop when the platform
// is a Loop, inline otherwise.
func (c *Container) Do(ctx context.Context, fn func()) error {
	if l, ok := c.platform.(*Loop); ok {
		return l.Do(ctx, fn)
	}
	fn()
	return nil
}

package store

import (
	"context"
	"sync"
)

// feed is a single-listener delivery queue. Producers push without blocking;
// one goroutine drains everything pending into a single batch per callback.
type feed[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []T
	stopped bool

	deliver func([]T)
	done    chan struct{}
	once    sync.Once
}

func newFeed[T any](deliver func([]T)) *feed[T] {
	f := &feed[T]{deliver: deliver, done: make(chan struct{})}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// start runs the delivery loop and stops the feed when ctx ends.
func (f *feed[T]) start(ctx context.Context) {
	go f.run()
	go func() {
		select {
		case <-ctx.Done():
			f.Stop()
		case <-f.done:
		}
	}()
}

func (f *feed[T]) push(items ...T) {
	if len(items) == 0 {
		return
	}
	f.mu.Lock()
	if !f.stopped {
		f.pending = append(f.pending, items...)
		f.cond.Signal()
	}
	f.mu.Unlock()
}

func (f *feed[T]) run() {
	defer close(f.done)
	for {
		f.mu.Lock()
		for len(f.pending) == 0 && !f.stopped {
			f.cond.Wait()
		}
		if f.stopped {
			f.mu.Unlock()
			return
		}
		batch := f.pending
		f.pending = nil
		f.mu.Unlock()

		f.deliver(batch)
	}
}

// Stop must not be called from inside the delivery callback.
func (f *feed[T]) Stop() {
	f.once.Do(func() {
		f.mu.Lock()
		f.stopped = true
		f.pending = nil
		f.cond.Broadcast()
		f.mu.Unlock()
	})
	<-f.done
}

// listenerSub stops a goroutine-driven listener and waits for it to exit.
type listenerSub struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *listenerSub) Stop() {
	s.cancel()
	<-s.done
}

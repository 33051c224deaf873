// Package exithook keeps the callbacks that must run once when the test
// process ends. Go has no runtime shutdown hooks, so the registry is drained
// explicitly: by a TestMain wrapper after m.Run, or when a termination signal
// arrives.
package exithook

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Hook is one registered exit callback. Run executes it at most once no matter
// how many times, or from where, it is triggered.
type Hook struct {
	id       uint64
	fn       func()
	registry *Registry
	once     sync.Once
	ran      bool
	mu       sync.Mutex
}

// Run executes the callback once and removes it from its registry.
func (h *Hook) Run() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		if h.registry != nil {
			h.registry.remove(h.id)
		}
		h.mu.Lock()
		h.ran = true
		h.mu.Unlock()
		if h.fn != nil {
			h.fn()
		}
	})
}

// Ran reports whether the callback has been executed.
func (h *Hook) Ran() bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ran
}

// Deregister removes the hook without running it. It reports false when the
// hook already ran or was already removed.
func (h *Hook) Deregister() bool {
	if h == nil || h.registry == nil {
		return false
	}
	return h.registry.remove(h.id)
}

// Registry holds pending exit hooks.
type Registry struct {
	mu    sync.Mutex
	next  uint64
	hooks map[uint64]*Hook
	order []uint64
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{hooks: map[uint64]*Hook{}}
}

// Default is the process-wide registry.
var Default = New()

// Register adds fn and returns its handle.
func (r *Registry) Register(fn func()) *Hook {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hooks == nil {
		r.hooks = map[uint64]*Hook{}
	}
	r.next++
	hook := &Hook{id: r.next, fn: fn, registry: r}
	r.hooks[hook.id] = hook
	r.order = append(r.order, hook.id)
	return hook
}

// Len returns the number of pending hooks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hooks)
}

// Run executes every pending hook, most recently registered first.
func (r *Registry) Run() {
	r.mu.Lock()
	pending := make([]*Hook, 0, len(r.hooks))
	for i := len(r.order) - 1; i >= 0; i-- {
		if hook, ok := r.hooks[r.order[i]]; ok {
			pending = append(pending, hook)
		}
	}
	r.mu.Unlock()

	for _, hook := range pending {
		hook.Run()
	}
}

func (r *Registry) remove(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.hooks[id]; !ok {
		return false
	}
	delete(r.hooks, id)
	for i, candidate := range r.order {
		if candidate == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// RunOnSignal drains r when SIGINT or SIGTERM arrives, then exits with code
// 130. The returned stop function cancels the watch; cancelling ctx does the
// same.
func (r *Registry) RunOnSignal(ctx context.Context) (stop func()) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	var once sync.Once
	stop = func() {
		once.Do(func() {
			signal.Stop(signals)
			close(done)
		})
	}
	go func() {
		select {
		case <-signals:
			r.Run()
			os.Exit(130)
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()
	return stop
}

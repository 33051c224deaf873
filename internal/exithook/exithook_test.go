package exithook

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

func TestRunExecutesPendingHooksLIFOOnce(t *testing.T) {
	registry := New()
	var order []int
	var mu sync.Mutex
	for i := 1; i <= 3; i++ {
		i := i
		registry.Register(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	registry.Run()
	registry.Run()

	want := []int{3, 2, 1}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
	if registry.Len() != 0 {
		t.Fatalf("expected registry drained, len=%d", registry.Len())
	}
}

func TestDeregisterSkipsHook(t *testing.T) {
	registry := New()
	var calls atomic.Int32
	hook := registry.Register(func() { calls.Add(1) })

	if !hook.Deregister() {
		t.Fatalf("expected first deregister to succeed")
	}
	if hook.Deregister() {
		t.Fatalf("second deregister should report false")
	}
	registry.Run()
	if calls.Load() != 0 {
		t.Fatalf("deregistered hook must not run")
	}
	if hook.Ran() {
		t.Fatalf("hook should not report ran")
	}
}

func TestHookRunIsIdempotentAcrossTriggers(t *testing.T) {
	registry := New()
	var calls atomic.Int32
	hook := registry.Register(func() { calls.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hook.Run()
		}()
	}
	registry.Run()
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected exactly one run, got %d", calls.Load())
	}
	if !hook.Ran() {
		t.Fatalf("expected hook to report ran")
	}
	if hook.Deregister() {
		t.Fatalf("deregister after run should report false")
	}
}

func TestRunOnSignalStopsWithContext(t *testing.T) {
	registry := New()
	ctx, cancel := context.WithCancel(context.Background())
	stop := registry.RunOnSignal(ctx)
	cancel()
	stop()
	stop()
}

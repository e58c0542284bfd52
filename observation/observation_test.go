package observation

import (
	"sync"
	"testing"
)

func TestPublish_DeliversToAllObservers(t *testing.T) {
	r := NewRegistry("plugin-a", "reader-1")

	var mu sync.Mutex
	var received []Kind
	r.AddObserver(ObserverFunc(func(e ReaderEvent) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e.Kind)
	}))
	r.AddObserver(ObserverFunc(func(e ReaderEvent) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e.Kind)
	}))

	r.Publish(CardInserted, nil)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(received))
	}
}

// TestPublish_ObserverIsolation covers the invariant that a panicking
// observer never prevents other observers from receiving the event.
func TestPublish_ObserverIsolation(t *testing.T) {
	r := NewRegistry("plugin-a", "reader-1")

	var handledErr error
	var mu sync.Mutex
	r.SetExceptionHandler(func(plugin, reader string, err error) {
		mu.Lock()
		defer mu.Unlock()
		handledErr = err
	})

	secondCalled := false
	r.AddObserver(ObserverFunc(func(e ReaderEvent) {
		panic("boom")
	}))
	r.AddObserver(ObserverFunc(func(e ReaderEvent) {
		secondCalled = true
	}))

	r.Publish(CardRemoved, nil)

	if !secondCalled {
		t.Error("second observer should still have been called after the first panicked")
	}
	mu.Lock()
	defer mu.Unlock()
	if handledErr == nil {
		t.Error("expected the exception handler to have been invoked")
	}
}

func TestRegistry_AddRemoveClearCount(t *testing.T) {
	r := NewRegistry("plugin-a", "reader-1")
	obs := ObserverFunc(func(e ReaderEvent) {})

	sub := r.AddObserver(obs)
	if r.CountObservers() != 1 {
		t.Fatalf("expected 1 observer, got %d", r.CountObservers())
	}

	r.RemoveObserver(sub)
	if r.CountObservers() != 0 {
		t.Fatalf("expected 0 observers after remove, got %d", r.CountObservers())
	}

	r.AddObserver(obs)
	r.AddObserver(obs)
	r.ClearObservers()
	if r.CountObservers() != 0 {
		t.Fatalf("expected 0 observers after clear, got %d", r.CountObservers())
	}

	r.AddObserver(obs)
	if r.CountObservers() != 1 {
		t.Fatalf("expected a cleared registry to accept new observers, got %d", r.CountObservers())
	}
}

func TestReaderEvent_CarriesTraceID(t *testing.T) {
	r := NewRegistry("plugin-a", "reader-1")
	var got ReaderEvent
	r.AddObserver(ObserverFunc(func(e ReaderEvent) { got = e }))
	r.Publish(Unavailable, nil)

	if got.TraceID == "" {
		t.Error("expected a non-empty TraceID")
	}
	if got.PluginName != "plugin-a" || got.ReaderName != "reader-1" {
		t.Errorf("unexpected plugin/reader on event: %+v", got)
	}
}

// Package observation dispatches reader lifecycle events to registered
// observers: card insertion, a matched selection, removal, and reader
// unavailability. Dispatch isolates observers from one another — a
// panicking observer never breaks delivery to the others. Observers are
// called one after another on the publishing goroutine, so a slow
// observer delays the ones called after it.
package observation

import (
	"sync"

	"github.com/google/uuid"

	"github.com/dotside-studios/cardterm/selection"
)

// Kind identifies what happened to a reader.
type Kind int

const (
	CardInserted Kind = iota
	CardMatched
	CardRemoved
	Unavailable
)

func (k Kind) String() string {
	switch k {
	case CardInserted:
		return "CARD_INSERTED"
	case CardMatched:
		return "CARD_MATCHED"
	case CardRemoved:
		return "CARD_REMOVED"
	case Unavailable:
		return "UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// ReaderEvent is published to every registered Observer on a reader
// lifecycle transition.
type ReaderEvent struct {
	TraceID        string
	PluginName     string
	ReaderName     string
	Kind           Kind
	ScenarioResult *selection.Result
}

func newReaderEvent(plugin, reader string, kind Kind, result *selection.Result) ReaderEvent {
	return ReaderEvent{
		TraceID:        uuid.New().String(),
		PluginName:     plugin,
		ReaderName:     reader,
		Kind:           kind,
		ScenarioResult: result,
	}
}

// Observer receives ReaderEvents. OnReaderEvent must not assume ordering
// relative to other observers, only relative to events it itself
// receives.
type Observer interface {
	OnReaderEvent(event ReaderEvent)
}

// ObserverFunc adapts a plain function into an Observer.
type ObserverFunc func(event ReaderEvent)

func (f ObserverFunc) OnReaderEvent(event ReaderEvent) { f(event) }

// ExceptionHandler is invoked when an Observer panics while handling an
// event, so that one misbehaving observer doesn't take down the
// dispatcher or the reader loop that triggered it.
type ExceptionHandler func(pluginName, readerName string, err error)

// Subscription identifies one AddObserver call for later removal.
// Observers are frequently funcs, which aren't comparable, so removal
// goes through this token rather than the Observer value itself.
type Subscription uint64

// Registry is a thread-safe set of Observers for one reader, with
// per-observer dispatch ordering and an installable ExceptionHandler.
type Registry struct {
	mu         sync.RWMutex
	pluginName string
	readerName string
	nextID     Subscription
	observers  map[Subscription]Observer
	onPanic    ExceptionHandler
}

// NewRegistry creates an empty Registry for the named plugin/reader pair.
func NewRegistry(pluginName, readerName string) *Registry {
	return &Registry{pluginName: pluginName, readerName: readerName, observers: make(map[Subscription]Observer)}
}

// SetExceptionHandler installs the handler invoked when an observer
// panics. Passing nil silently drops panics (not recommended).
func (r *Registry) SetExceptionHandler(h ExceptionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onPanic = h
}

// AddObserver registers o and returns a Subscription that RemoveObserver
// accepts. The same Observer value may be added more than once, each
// under its own Subscription.
func (r *Registry) AddObserver(o Observer) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.observers[id] = o
	return id
}

// RemoveObserver removes the observer registered under sub, if any.
func (r *Registry) RemoveObserver(sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.observers, sub)
}

// ClearObservers removes every registered observer.
func (r *Registry) ClearObservers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = make(map[Subscription]Observer)
}

// CountObservers reports how many observers are currently registered.
func (r *Registry) CountObservers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.observers)
}

// Publish builds a ReaderEvent for kind/result and dispatches it to every
// registered observer. Each observer call is recovered independently: a
// panic is reported to the ExceptionHandler and does not prevent the
// remaining observers from running.
func (r *Registry) Publish(kind Kind, result *selection.Result) {
	r.mu.RLock()
	observers := make([]Observer, 0, len(r.observers))
	for _, o := range r.observers {
		observers = append(observers, o)
	}
	handler := r.onPanic
	plugin, reader := r.pluginName, r.readerName
	r.mu.RUnlock()

	event := newReaderEvent(plugin, reader, kind, result)
	for _, o := range observers {
		dispatchOne(o, event, handler, plugin, reader)
	}
}

// ReportError invokes the installed ExceptionHandler directly with err,
// for failures that originate outside observer dispatch — a monitoring
// job's driver error, for instance — but still belong on the same
// reporting path as an observer panic.
func (r *Registry) ReportError(err error) {
	r.mu.RLock()
	handler := r.onPanic
	plugin, reader := r.pluginName, r.readerName
	r.mu.RUnlock()

	if handler != nil {
		handler(plugin, reader, err)
	}
}

func dispatchOne(o Observer, event ReaderEvent, handler ExceptionHandler, plugin, reader string) {
	defer func() {
		if rec := recover(); rec != nil && handler != nil {
			err, ok := rec.(error)
			if !ok {
				err = panicError{value: rec}
			}
			handler(plugin, reader, err)
		}
	}()
	o.OnReaderEvent(event)
}

type panicError struct{ value any }

func (p panicError) Error() string {
	if s, ok := p.value.(string); ok {
		return s
	}
	return "observer panicked"
}

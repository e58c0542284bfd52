// Package monitor implements the background jobs that watch a reader for
// card insertion and removal and feed the result back through callbacks.
// A Reader (see package reader) starts exactly one
// job at a time and stops it before starting the next.
package monitor

import (
	"sync"
	"time"

	"github.com/dotside-studios/cardterm/clock"
	"github.com/dotside-studios/cardterm/driver"
)

// DefaultCycle is the polling interval used by the active-polling jobs
// when none is supplied.
const DefaultCycle = 200 * time.Millisecond

// Handle controls a running Job. Stop is idempotent and never blocks the
// caller waiting on the job's own goroutine.
type Handle interface {
	Stop()
}

// Job is something that can be started against a reader and produces at
// most one result callback (OnInserted, OnRemoved or OnTimeout) before
// exiting, unless stopped first. An OnError callback, where a job has
// one, may be called in addition, once per driver failure.
type Job interface {
	Start() Handle
}

type handle struct {
	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func newHandle() *handle {
	return &handle{stop: make(chan struct{}), done: make(chan struct{})}
}

func (h *handle) Stop() {
	h.once.Do(func() { close(h.stop) })
}

func (h *handle) finished() { close(h.done) }

// BlockingInsertionJob waits on reader.WaitForCardInsertion in its own
// goroutine and calls OnInserted exactly once if it returns cleanly before
// Stop is called. A non-nil return is forwarded to OnError (if set) and
// then treated as a timeout: OnTimeout is called instead of OnInserted.
type BlockingInsertionJob struct {
	Reader     driver.BlockingReader
	OnInserted func()
	OnTimeout  func()
	OnError    func(error)
}

func (j BlockingInsertionJob) Start() Handle {
	h := newHandle()
	resultCh := make(chan error, 1)
	go func() {
		resultCh <- j.Reader.WaitForCardInsertion()
	}()
	go func() {
		defer h.finished()
		select {
		case err := <-resultCh:
			if err != nil {
				if j.OnError != nil {
					j.OnError(err)
				}
				if j.OnTimeout != nil {
					j.OnTimeout()
				}
				return
			}
			j.OnInserted()
		case <-h.stop:
		}
	}()
	return h
}

// BlockingRemovalJob mirrors BlockingInsertionJob for card removal. A
// non-nil return from WaitForCardRemoval is forwarded to OnError, if set,
// and the job exits without calling OnRemoved.
type BlockingRemovalJob struct {
	Reader    driver.BlockingReader
	OnRemoved func()
	OnError   func(error)
}

func (j BlockingRemovalJob) Start() Handle {
	h := newHandle()
	resultCh := make(chan error, 1)
	go func() {
		resultCh <- j.Reader.WaitForCardRemoval()
	}()
	go func() {
		defer h.finished()
		select {
		case err := <-resultCh:
			if err != nil {
				if j.OnError != nil {
					j.OnError(err)
				}
				return
			}
			j.OnRemoved()
		case <-h.stop:
		}
	}()
	return h
}

// PollingInsertionJob polls reader.IsCardPresent every Cycle until it sees
// true, then calls OnInserted once. A poll error is forwarded to OnError,
// if set, and polling continues on the next cycle rather than exiting.
type PollingInsertionJob struct {
	Reader     driver.Reader
	Clock      clock.Clock
	Cycle      time.Duration
	OnInserted func()
	OnError    func(error)
}

func (j PollingInsertionJob) Start() Handle {
	h := newHandle()
	clk := j.Clock
	if clk == nil {
		clk = clock.NewReal()
	}
	cycle := j.Cycle
	if cycle <= 0 {
		cycle = DefaultCycle
	}

	ticker := clk.NewTicker(cycle)
	go func() {
		defer h.finished()
		defer ticker.Stop()
		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C():
				present, err := j.Reader.IsCardPresent()
				if err != nil {
					if j.OnError != nil {
						j.OnError(err)
					}
					continue
				}
				if present {
					j.OnInserted()
					return
				}
			}
		}
	}()
	return h
}

// PollingRemovalJob polls reader.IsCardPresentPing every Cycle until it
// sees false, then calls OnRemoved once. Retries reports how many polls
// observed the card still present, for tests and diagnostics. A poll
// error is forwarded to OnError, if set, and polling continues on the
// next cycle rather than exiting.
type PollingRemovalJob struct {
	Reader    driver.Reader
	Clock     clock.Clock
	Cycle     time.Duration
	OnRemoved func()
	OnError   func(error)

	mu      sync.Mutex
	retries int
}

// Retries returns the number of polls that still observed the card
// present before removal was detected (or the job was stopped).
func (j *PollingRemovalJob) Retries() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.retries
}

func (j *PollingRemovalJob) Start() Handle {
	h := newHandle()
	clk := j.Clock
	if clk == nil {
		clk = clock.NewReal()
	}
	cycle := j.Cycle
	if cycle <= 0 {
		cycle = DefaultCycle
	}

	ticker := clk.NewTicker(cycle)
	go func() {
		defer h.finished()
		defer ticker.Stop()
		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C():
				present, err := j.Reader.IsCardPresentPing()
				if err != nil {
					if j.OnError != nil {
						j.OnError(err)
					}
					continue
				}
				if !present {
					j.OnRemoved()
					return
				}
				j.mu.Lock()
				j.retries++
				j.mu.Unlock()
			}
		}
	}()
	return h
}

// SmartInsertionJob registers a callback with a driver.SmartInsertionReader
// that natively notifies on card insertion instead of being polled or
// blocked on.
type SmartInsertionJob struct {
	Reader     driver.SmartInsertionReader
	OnInserted func()
}

func (j SmartInsertionJob) Start() Handle {
	h := newHandle()
	fired := make(chan struct{}, 1)
	j.Reader.SetCardInsertionListener(func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	go func() {
		defer h.finished()
		defer j.Reader.SetCardInsertionListener(nil)
		select {
		case <-fired:
			j.OnInserted()
		case <-h.stop:
		}
	}()
	return h
}

// Package reader implements the monitoring state machine: a Reader owns a
// driver, a channel controller, and exactly one active background job at a
// time, and walks the four WAIT_FOR_* states as insertion, processing, and
// removal occur.
package reader

import (
	"sync"
	"time"

	"github.com/dotside-studios/cardterm/channel"
	"github.com/dotside-studios/cardterm/clock"
	"github.com/dotside-studios/cardterm/driver"
	"github.com/dotside-studios/cardterm/monitor"
	"github.com/dotside-studios/cardterm/observation"
	"github.com/dotside-studios/cardterm/selection"
)

// ScenarioFactory builds a fresh, single-use selection.Pipeline for one
// card insertion. A nil factory means no selection scenario is scheduled:
// the reader just notifies CardInserted on insertion.
type ScenarioFactory func() *selection.Pipeline

// Reader drives one physical reader through the monitoring state machine.
// All state transitions and the active job handle are guarded by a single
// mutex, matching the "shared resources" rule that the selection pipeline
// and the removal-polling job never run concurrently against the same
// physical channel.
type Reader struct {
	mu sync.Mutex

	pluginName string
	driver     driver.Reader
	ctrl       *channel.Controller
	observers  *observation.Registry
	clk        clock.Clock
	cycle      time.Duration

	mode     DetectionMode
	scenario ScenarioFactory
	state    State
}

// New creates an idle Reader wrapping driverReader. observers may be nil,
// in which case events are computed but never published.
func New(pluginName string, driverReader driver.Reader, observers *observation.Registry, clk clock.Clock) *Reader {
	if clk == nil {
		clk = clock.NewReal()
	}
	return &Reader{
		pluginName: pluginName,
		driver:     driverReader,
		ctrl:       channel.New(driverReader),
		observers:  observers,
		clk:        clk,
		cycle:      monitor.DefaultCycle,
		state:      WaitForStartDetection{},
	}
}

// SetCycle overrides the active-polling interval. It is used for insertion
// when the wrapped driver implements neither driver.BlockingReader nor
// driver.SmartInsertionReader, and for removal when the wrapped driver
// doesn't implement driver.BlockingReader.
func (r *Reader) SetCycle(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycle = d
}

// State returns the current monitoring state.
func (r *Reader) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Name returns the driver name this Reader wraps, used in published
// events.
func (r *Reader) Name() string {
	return r.driver.Name()
}

// PluginName returns the name of the plugin this reader was obtained
// from.
func (r *Reader) PluginName() string {
	return r.pluginName
}

// StartDetection posts START_DETECT: the reader must be idle
// (WaitForStartDetection). scenario, if non-nil, is invoked fresh for
// every card insertion seen while detection is active.
func (r *Reader) StartDetection(mode DetectionMode, scenario ScenarioFactory) error {
	r.mu.Lock()
	if _, ok := r.state.(WaitForStartDetection); !ok {
		r.mu.Unlock()
		return driver.IllegalStateError("StartDetection", "reader is not idle")
	}
	r.mode = mode
	r.scenario = scenario
	r.mu.Unlock()

	handle := r.startInsertionJob()

	r.mu.Lock()
	r.state = WaitForSEInsertion{Job: handle}
	r.mu.Unlock()
	return nil
}

// StopDetection posts STOP_DETECT. It is a no-op if the reader is already
// idle, and returns a CodeIllegalState error if called while a selection
// scenario is actively processing: a scenario is not cancellable
// mid-APDU.
func (r *Reader) StopDetection() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch st := r.state.(type) {
	case WaitForStartDetection:
		return nil
	case WaitForSEInsertion:
		st.Job.Stop()
		r.state = WaitForStartDetection{}
		return nil
	case WaitForSERemoval:
		st.Job.Stop()
		r.state = WaitForStartDetection{}
		return nil
	default:
		return driver.IllegalStateError("StopDetection", "cannot stop while a selection scenario is processing")
	}
}

func (r *Reader) startInsertionJob() monitor.Handle {
	if smart, ok := r.driver.(driver.SmartInsertionReader); ok {
		return monitor.SmartInsertionJob{Reader: smart, OnInserted: r.onCardInserted}.Start()
	}
	if blocking, ok := r.driver.(driver.BlockingReader); ok {
		return monitor.BlockingInsertionJob{
			Reader:     blocking,
			OnInserted: r.onCardInserted,
			OnTimeout:  r.onInsertionTimeout,
			OnError:    r.onJobError,
		}.Start()
	}
	r.mu.Lock()
	cycle := r.cycle
	clk := r.clk
	r.mu.Unlock()
	return monitor.PollingInsertionJob{
		Reader:     r.driver,
		Clock:      clk,
		Cycle:      cycle,
		OnInserted: r.onCardInserted,
		OnError:    r.onJobError,
	}.Start()
}

func (r *Reader) startRemovalJob() monitor.Handle {
	if blocking, ok := r.driver.(driver.BlockingReader); ok {
		return monitor.BlockingRemovalJob{Reader: blocking, OnRemoved: r.onCardRemoved, OnError: r.onJobError}.Start()
	}
	r.mu.Lock()
	cycle := r.cycle
	clk := r.clk
	r.mu.Unlock()
	return (&monitor.PollingRemovalJob{
		Reader:    r.driver,
		Clock:     clk,
		Cycle:     cycle,
		OnRemoved: r.onCardRemoved,
		OnError:   r.onJobError,
	}).Start()
}

// onJobError forwards a monitoring job's runtime error to the observation
// exception handler, the same path an observer panic takes.
func (r *Reader) onJobError(err error) {
	if r.observers != nil {
		r.observers.ReportError(err)
	}
}

// onInsertionTimeout is BlockingInsertionJob's OnTimeout callback: a driver
// error while waiting for insertion is treated as TIME_OUT, returning the
// machine to WAIT_FOR_START_DETECTION instead of waiting forever.
func (r *Reader) onInsertionTimeout() {
	r.mu.Lock()
	if _, ok := next(r.state, TimeOut, r.mode); !ok {
		r.mu.Unlock()
		return
	}
	r.state = WaitForStartDetection{}
	r.mu.Unlock()

	r.publish(observation.Unavailable, nil)
}

// onCardInserted is the insertion job's callback: it runs the scheduled
// scenario (if any) synchronously, publishes the resulting event, and
// moves on to WAIT_FOR_SE_REMOVAL.
func (r *Reader) onCardInserted() {
	r.mu.Lock()
	if _, ok := next(r.state, CardInserted, r.mode); !ok {
		r.mu.Unlock()
		return
	}
	r.state = WaitForSEProcessing{}
	scenario := r.scenario
	r.mu.Unlock()

	kind := observation.CardInserted
	var result *selection.Result
	if scenario != nil {
		pipeline := scenario()
		res, err := pipeline.Process(r.ctrl)
		switch {
		case err != nil:
			kind = observation.Unavailable
		default:
			result = &res
			if _, matched := res.ActiveSmartCard(); matched {
				kind = observation.CardMatched
			}
		}
	}
	r.publish(kind, result)

	handle := r.startRemovalJob()
	r.mu.Lock()
	r.state = WaitForSERemoval{Job: handle}
	r.mu.Unlock()
}

// onCardRemoved is the removal job's callback: it publishes CARD_REMOVED
// and returns the machine to WAIT_FOR_SE_INSERTION (Repeating) or
// WAIT_FOR_START_DETECTION (SingleShot).
func (r *Reader) onCardRemoved() {
	r.mu.Lock()
	kindName, ok := next(r.state, CardRemoved, r.mode)
	if !ok {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.publish(observation.CardRemoved, nil)

	if kindName == "WAIT_FOR_SE_INSERTION" {
		handle := r.startInsertionJob()
		r.mu.Lock()
		r.state = WaitForSEInsertion{Job: handle}
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	r.state = WaitForStartDetection{}
	r.mu.Unlock()
}

func (r *Reader) publish(kind observation.Kind, result *selection.Result) {
	if r.observers == nil {
		return
	}
	r.observers.Publish(kind, result)
}

package monitor

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dotside-studios/cardterm/clock"
)

// pingSequenceReader answers IsCardPresentPing from a fixed sequence of
// canned values, signalling each call on calls so a test can drive a Fake
// clock deterministically.
type pingSequenceReader struct {
	mu       sync.Mutex
	sequence []bool
	idx      int
	calls    chan struct{}
}

func (r *pingSequenceReader) Name() string                       { return "seq" }
func (r *pingSequenceReader) IsCardPresent() (bool, error)        { return r.IsCardPresentPing() }
func (r *pingSequenceReader) OpenPhysicalChannel() error          { return nil }
func (r *pingSequenceReader) ClosePhysicalChannel() error         { return nil }
func (r *pingSequenceReader) IsPhysicalChannelOpen() bool         { return true }
func (r *pingSequenceReader) TransmitAPDU(b []byte) ([]byte, error) { return nil, nil }
func (r *pingSequenceReader) GetPowerOnData() ([]byte, error)     { return nil, nil }
func (r *pingSequenceReader) ActivateProtocol(p string) error     { return nil }
func (r *pingSequenceReader) DeactivateProtocol(p string) error   { return nil }

func (r *pingSequenceReader) IsCardPresentPing() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.sequence[r.idx]
	if r.idx < len(r.sequence)-1 {
		r.idx++
	}
	if r.calls != nil {
		r.calls <- struct{}{}
	}
	return v, nil
}

// TestPollingRemovalJob_EmitsExactlyOneRemovalAfterPresence checks that
// ten present pings followed by one absent ping produce exactly one
// OnRemoved call, after which the job exits and a later Stop is a no-op.
func TestPollingRemovalJob_EmitsExactlyOneRemovalAfterPresence(t *testing.T) {
	seq := make([]bool, 10)
	for i := range seq {
		seq[i] = true
	}
	seq = append(seq, false)
	r := &pingSequenceReader{sequence: seq, calls: make(chan struct{}, len(seq))}

	fc := clock.NewFake(time.Unix(0, 0))
	removed := make(chan struct{}, 1)
	job := &PollingRemovalJob{
		Reader:    r,
		Clock:     fc,
		Cycle:     50 * time.Millisecond,
		OnRemoved: func() { removed <- struct{}{} },
	}
	h := job.Start()

	for i := 0; i < len(seq); i++ {
		fc.Advance(50 * time.Millisecond)
		select {
		case <-r.calls:
		case <-time.After(time.Second):
			t.Fatalf("ping %d: reader was never polled", i)
		}
	}

	select {
	case <-removed:
	case <-time.After(time.Second):
		t.Fatal("OnRemoved was never called")
	}

	if got := job.Retries(); got != 10 {
		t.Errorf("Retries() = %d, want 10", got)
	}

	// Stop after the job has already exited must not panic or block.
	h.Stop()
	h.Stop()
}

// errThenPresentReader fails IsCardPresent a fixed number of times before
// reporting present, so a test can observe OnError firing without the
// poll loop giving up.
type errThenPresentReader struct {
	pingSequenceReader
	mu       sync.Mutex
	failLeft int
	failErr  error
}

func (r *errThenPresentReader) IsCardPresent() (bool, error) {
	r.mu.Lock()
	if r.failLeft > 0 {
		r.failLeft--
		err := r.failErr
		r.mu.Unlock()
		return false, err
	}
	r.mu.Unlock()
	return true, nil
}

func TestPollingInsertionJob_ForwardsPollErrorsToOnError(t *testing.T) {
	wantErr := fmt.Errorf("card present check failed")
	r := &errThenPresentReader{failLeft: 2, failErr: wantErr}

	fc := clock.NewFake(time.Unix(0, 0))
	errCh := make(chan error, 2)
	inserted := make(chan struct{}, 1)
	job := PollingInsertionJob{
		Reader:     r,
		Clock:      fc,
		Cycle:      10 * time.Millisecond,
		OnInserted: func() { inserted <- struct{}{} },
		OnError:    func(err error) { errCh <- err },
	}
	h := job.Start()
	defer h.Stop()

	for i := 0; i < 2; i++ {
		fc.Advance(10 * time.Millisecond)
		select {
		case got := <-errCh:
			if got != wantErr {
				t.Fatalf("OnError got %v, want %v", got, wantErr)
			}
		case <-time.After(time.Second):
			t.Fatalf("poll %d: OnError was never called", i)
		}
	}

	fc.Advance(10 * time.Millisecond)
	select {
	case <-inserted:
	case <-time.After(time.Second):
		t.Fatal("OnInserted was never called after errors cleared")
	}
}

func TestPollingInsertionJob_StopBeforeDetectionIsClean(t *testing.T) {
	r := &pingSequenceReader{sequence: []bool{false, false, false}}
	fc := clock.NewFake(time.Unix(0, 0))
	calledCh := make(chan struct{}, 1)
	job := PollingInsertionJob{
		Reader:     r,
		Clock:      fc,
		Cycle:      10 * time.Millisecond,
		OnInserted: func() { calledCh <- struct{}{} },
	}
	h := job.Start()
	h.Stop()

	select {
	case <-calledCh:
		t.Fatal("OnInserted should not fire after Stop")
	case <-time.After(50 * time.Millisecond):
	}
}

package reader

import "github.com/dotside-studios/cardterm/monitor"

// DetectionMode governs what a Reader does once a card has been
// processed: loop back for the next card (Repeating) or return to idle
// (SingleShot). Set per StartDetection call.
type DetectionMode int

const (
	Repeating DetectionMode = iota
	SingleShot
)

// Event is an internal signal driving the monitoring state machine.
type Event int

const (
	StartDetect Event = iota
	StopDetect
	CardInserted
	CardProcessed
	CardRemoved
	TimeOut
)

func (e Event) String() string {
	switch e {
	case StartDetect:
		return "START_DETECT"
	case StopDetect:
		return "STOP_DETECT"
	case CardInserted:
		return "CARD_INSERTED"
	case CardProcessed:
		return "CARD_PROCESSED"
	case CardRemoved:
		return "CARD_REMOVED"
	case TimeOut:
		return "TIME_OUT"
	default:
		return "UNKNOWN_EVENT"
	}
}

// State is the monitoring state machine's sum type. Each concrete variant
// carries whatever that state needs to clean itself up — a wait state
// carries the monitor.Handle for the job running on its behalf, so
// stopping it is just a field access rather than a side lookup table.
type State interface {
	Name() string
}

// WaitForStartDetection is the idle state: no job is running and the
// reader awaits StartDetection.
type WaitForStartDetection struct{}

func (WaitForStartDetection) Name() string { return "WAIT_FOR_START_DETECTION" }

// WaitForSEInsertion is active while an insertion job runs in the
// background.
type WaitForSEInsertion struct{ Job monitor.Handle }

func (WaitForSEInsertion) Name() string { return "WAIT_FOR_SE_INSERTION" }

// WaitForSEProcessing is active while the scheduled selection scenario
// (if any) runs synchronously against the inserted card.
type WaitForSEProcessing struct{}

func (WaitForSEProcessing) Name() string { return "WAIT_FOR_SE_PROCESSING" }

// WaitForSERemoval is active while a removal job runs in the background.
type WaitForSERemoval struct{ Job monitor.Handle }

func (WaitForSERemoval) Name() string { return "WAIT_FOR_SE_REMOVAL" }

// next computes the state the machine moves to for (current, event, mode),
// per the monitoring state machine's transition table. ok is false if the
// event isn't valid in the current state.
func next(current State, event Event, mode DetectionMode) (kind string, ok bool) {
	switch current.(type) {
	case WaitForStartDetection:
		if event == StartDetect {
			return "WAIT_FOR_SE_INSERTION", true
		}
	case WaitForSEInsertion:
		switch event {
		case CardInserted:
			return "WAIT_FOR_SE_PROCESSING", true
		case StopDetect, TimeOut:
			return "WAIT_FOR_START_DETECTION", true
		}
	case WaitForSEProcessing:
		switch event {
		case CardProcessed:
			return "WAIT_FOR_SE_REMOVAL", true
		case CardRemoved:
			return afterRemoval(mode), true
		}
	case WaitForSERemoval:
		switch event {
		case CardRemoved:
			return afterRemoval(mode), true
		case StopDetect:
			return "WAIT_FOR_START_DETECTION", true
		}
	}
	return "", false
}

func afterRemoval(mode DetectionMode) string {
	if mode == Repeating {
		return "WAIT_FOR_SE_INSERTION"
	}
	return "WAIT_FOR_START_DETECTION"
}

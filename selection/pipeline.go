package selection

import (
	"sort"
	"sync"

	"github.com/dotside-studios/cardterm/apdu"
	"github.com/dotside-studios/cardterm/channel"
	"github.com/dotside-studios/cardterm/driver"
)

// MultiSelectionProcessing controls whether a scenario stops at the first
// matching selector or keeps going through all of them.
type MultiSelectionProcessing int

const (
	// FirstMatch stops iterating as soon as one selector matches.
	FirstMatch MultiSelectionProcessing = iota
	// ProcessAll runs every selector regardless of earlier matches.
	// Requires every selector in the scenario to be AID-based.
	ProcessAll
)

// Pipeline executes an ordered scenario of selection Requests against a
// reader in a single Process call. A Pipeline is single-use: once Process
// has run, further PrepareSelection/PrepareReleaseChannel/Process calls
// return driver.IllegalStateError.
type Pipeline struct {
	mu sync.Mutex

	mode           MultiSelectionProcessing
	requests       []Request
	releaseChannel bool
	processed      bool
}

// NewPipeline creates an empty Pipeline with the given multi-selection
// mode.
func NewPipeline(mode MultiSelectionProcessing) *Pipeline {
	return &Pipeline{mode: mode}
}

// PrepareSelection appends req to the scenario. Returns
// driver.IllegalStateError if the pipeline has already run, or if the mode
// is ProcessAll and req's selector has no AID: first/next navigation only
// makes sense once every selector in the scenario discriminates by AID.
func (p *Pipeline) PrepareSelection(req Request) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.processed {
		return driver.IllegalStateError("PrepareSelection", "pipeline already processed a scenario")
	}
	if p.mode == ProcessAll && !req.Selector.HasAID() {
		return driver.IllegalStateError("PrepareSelection", "PROCESS_ALL requires every selector to be AID-based")
	}
	p.requests = append(p.requests, req)
	return nil
}

// PrepareReleaseChannel marks the physical channel to be closed once the
// scenario completes, regardless of match outcome.
func (p *Pipeline) PrepareReleaseChannel() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.processed {
		return driver.IllegalStateError("PrepareReleaseChannel", "pipeline already processed a scenario")
	}
	p.releaseChannel = true
	return nil
}

// Process runs the prepared scenario against ctrl, consuming the pipeline:
// it builds and transmits a select APDU per selector in order, skips
// selectors whose power-on-data filter doesn't match, runs each matched
// selector's follow-up CardRequest (if any), and aggregates the results.
// A CardCommunicationError on one selector doesn't abort the scenario as
// long as the physical channel can be reopened for the next one; a
// ReaderCommunicationError always does.
func (p *Pipeline) Process(ctrl *channel.Controller) (Result, error) {
	p.mu.Lock()
	if p.processed {
		p.mu.Unlock()
		return Result{}, driver.IllegalStateError("Process", "pipeline already processed a scenario")
	}
	if len(p.requests) == 0 {
		p.mu.Unlock()
		return Result{}, driver.IllegalStateError("Process", "scenario has zero selectors")
	}
	requests := make([]Request, len(p.requests))
	copy(requests, p.requests)
	releaseChannel := p.releaseChannel
	p.processed = true
	p.mu.Unlock()

	responses := make(map[int]Response)
	matchCount := 0

	for i, req := range requests {
		resp, err := processOne(ctrl, req)
		if err != nil {
			if driver.IsCode(err, driver.CodeCardCommunication) {
				if reopenErr := ctrl.Reader().OpenPhysicalChannel(); reopenErr == nil {
					// Channel recovered: this selector didn't match, but the
					// scenario is still viable, so move on to the next one.
					continue
				}
			}
			if releaseChannel || driver.IsCode(err, driver.CodeReaderCommunication) {
				ctrl.ClosePhysicalChannel()
			}
			return Result{}, err
		}
		responses[i] = resp
		if resp.HasMatched {
			matchCount++
		}

		if p.mode == FirstMatch && resp.HasMatched {
			break
		}
	}

	if releaseChannel || matchCount == 0 {
		if err := ctrl.ClosePhysicalChannel(); err != nil {
			return Result{}, err
		}
	}

	return aggregate(responses), nil
}

// processOne runs one selector-selection attempt: activates the selector's
// protocol, matches power-on data, transmits the select APDU if the
// selector is AID-based, and runs the follow-up CardRequest on a match. It
// never returns an error for a non-match; only communication failures
// propagate as errors.
func processOne(ctrl *channel.Controller, req Request) (Response, error) {
	if req.Selector.CardProtocol != "" {
		if err := ctrl.Reader().ActivateProtocol(req.Selector.CardProtocol); err != nil {
			// The driver can't speak this selector's protocol, so the
			// selector can't match this card.
			return Response{HasMatched: false}, nil
		}
	}

	powerOnData, err := ctrl.Reader().GetPowerOnData()
	if err != nil {
		return Response{}, driver.ReaderCommunicationError("GetPowerOnData", ctrl.Reader().Name(), err)
	}

	if !req.Selector.MatchesPowerOnData(powerOnData) {
		return Response{PowerOnData: powerOnData, HasMatched: false}, nil
	}

	selectApdu, hasAID := req.Selector.BuildSelectApdu()
	if !hasAID {
		// Power-on data matched and there's nothing else to select on:
		// this counts as a match by power-on data alone.
		return Response{PowerOnData: powerOnData, HasMatched: true}, nil
	}

	selectReq := apdu.NewCardRequest([]apdu.Request{selectApdu}, false)
	selectResp, err := ctrl.TransmitCardRequest(selectReq, driver.KeepOpen)
	if err != nil {
		return Response{}, err
	}
	if len(selectResp.Apdus) == 0 {
		return Response{PowerOnData: powerOnData, HasMatched: false}, nil
	}
	applicationResp := selectResp.Apdus[0]

	if !req.Selector.IsSuccessfulStatusWord(applicationResp.StatusWord()) {
		return Response{
			PowerOnData:               powerOnData,
			SelectApplicationResponse: &applicationResp,
			HasMatched:                false,
		}, nil
	}

	result := Response{
		PowerOnData:               powerOnData,
		SelectApplicationResponse: &applicationResp,
		HasMatched:                true,
	}

	if req.CardRequest != nil {
		followUpResp, err := ctrl.TransmitCardRequest(*req.CardRequest, driver.KeepOpen)
		if err != nil {
			return Response{}, err
		}
		result.CardResponse = &followUpResp
	} else {
		result.CardResponse = &apdu.CardResponse{IsLogicalChannelOpen: selectResp.IsLogicalChannelOpen}
	}

	return result, nil
}

// aggregate builds a Result from every matched Response, preserving
// original scenario indices and picking the active index as the lowest
// matched index whose logical channel remained open.
func aggregate(responses map[int]Response) Result {
	smartCards := make(map[int]SmartCard)
	var activeIndex *int

	indices := make([]int, 0, len(responses))
	for i := range responses {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	for _, i := range indices {
		resp := responses[i]
		if !resp.HasMatched {
			continue
		}
		smartCards[i] = newSmartCard(resp)
		if activeIndex == nil && resp.CardResponse != nil && resp.CardResponse.IsLogicalChannelOpen {
			idx := i
			activeIndex = &idx
		}
	}

	return Result{SmartCards: smartCards, ActiveIndex: activeIndex}
}


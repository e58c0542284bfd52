package selection

import (
	"fmt"

	"github.com/dotside-studios/cardterm/apdu"
)

// Request pairs a Selector with optional follow-up APDUs to run once the
// selector matches; the pipeline treats it as an opaque, ready-to-run
// unit.
type Request struct {
	Selector    Selector
	CardRequest *apdu.CardRequest
}


// NewRequest builds a Request. cardRequest may be nil when the selector
// has no follow-up APDUs.
func NewRequest(selector Selector, cardRequest *apdu.CardRequest) Request {
	return Request{Selector: selector, CardRequest: cardRequest}
}

// Response is what processing one Request against a card produces: the
// power-on data observed, the select-application response (if a select
// APDU was sent), whether it counted as a match, and the follow-up
// CardResponse (if any).
type Response struct {
	PowerOnData               []byte
	SelectApplicationResponse *apdu.Response
	HasMatched                bool
	CardResponse              *apdu.CardResponse
}

// PowerOnDataHex returns the power-on data as an uppercase hex string, the
// same encoding Selector matches its regex against, or "" if none was
// observed.
func (r Response) PowerOnDataHex() string {
	if len(r.PowerOnData) == 0 {
		return ""
	}
	return fmt.Sprintf("%X", r.PowerOnData)
}

// SmartCard is a matched selection's result: its own copy of the FCI and
// power-on data, independent of the reader that produced it.
type SmartCard struct {
	PowerOnData               []byte
	SelectApplicationResponse *apdu.Response
	CardResponse              *apdu.CardResponse
}

func newSmartCard(resp Response) SmartCard {
	var powerOnData []byte
	if len(resp.PowerOnData) > 0 {
		powerOnData = append([]byte(nil), resp.PowerOnData...)
	}
	return SmartCard{
		PowerOnData:               powerOnData,
		SelectApplicationResponse: resp.SelectApplicationResponse,
		CardResponse:              resp.CardResponse,
	}
}

// Result aggregates every matched selector's SmartCard, keyed by the
// selector's original index in the scenario.
type Result struct {
	SmartCards  map[int]SmartCard
	ActiveIndex *int
}

// ActiveSmartCard returns the SmartCard at ActiveIndex, or false if there
// is no active index.
func (r Result) ActiveSmartCard() (SmartCard, bool) {
	if r.ActiveIndex == nil {
		return SmartCard{}, false
	}
	sc, ok := r.SmartCards[*r.ActiveIndex]
	return sc, ok
}

package apdu

// CardRequest is an ordered sequence of APDUs to run against a card in one
// logical exchange.
type CardRequest struct {
	apdus                    []Request
	stopOnUnsuccessfulStatus bool
}

// NewCardRequest builds a CardRequest from an ordered list of APDUs.
// stopOnUnsuccessfulStatusWord controls whether the Channel Controller
// aborts the sequence on the first response whose status word the
// corresponding Request doesn't accept.
func NewCardRequest(apdus []Request, stopOnUnsuccessfulStatusWord bool) CardRequest {
	cp := make([]Request, len(apdus))
	copy(cp, apdus)
	return CardRequest{apdus: cp, stopOnUnsuccessfulStatus: stopOnUnsuccessfulStatusWord}
}

// Apdus returns a copy of the ordered APDU list.
func (c CardRequest) Apdus() []Request {
	out := make([]Request, len(c.apdus))
	copy(out, c.apdus)
	return out
}

// StopOnUnsuccessfulStatusWord reports whether the sequence aborts early on
// the first unsuccessful status word.
func (c CardRequest) StopOnUnsuccessfulStatusWord() bool {
	return c.stopOnUnsuccessfulStatus
}

// CardResponse is the outcome of running a CardRequest: the responses
// actually executed (which may be fewer than requested, on early stop) and
// whether the logical channel remained open afterwards.
type CardResponse struct {
	Apdus                []Response
	IsLogicalChannelOpen bool
}

// NewCardResponse builds a CardResponse, copying the response slice.
func NewCardResponse(apdus []Response, logicalChannelOpen bool) CardResponse {
	cp := make([]Response, len(apdus))
	copy(cp, apdus)
	return CardResponse{Apdus: cp, IsLogicalChannelOpen: logicalChannelOpen}
}

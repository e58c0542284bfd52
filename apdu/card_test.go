package apdu

import "testing"

func TestCardRequestApdusIsACopy(t *testing.T) {
	reqs := []Request{NewRequest([]byte{0x00}, "a"), NewRequest([]byte{0x01}, "b")}
	cr := NewCardRequest(reqs, true)

	out := cr.Apdus()
	out[0] = NewRequest([]byte{0xFF}, "mutated")

	if cr.Apdus()[0].Info() != "a" {
		t.Error("mutating the returned slice mutated the CardRequest")
	}
}

func TestCardRequestStopOnUnsuccessful(t *testing.T) {
	cr := NewCardRequest(nil, true)
	if !cr.StopOnUnsuccessfulStatusWord() {
		t.Error("expected StopOnUnsuccessfulStatusWord to be true")
	}

	cr2 := NewCardRequest(nil, false)
	if cr2.StopOnUnsuccessfulStatusWord() {
		t.Error("expected StopOnUnsuccessfulStatusWord to be false")
	}
}

func TestCardResponsePartialOnEarlyStop(t *testing.T) {
	resp := NewCardResponse([]Response{NewResponse([]byte{0x90, 0x00})}, true)
	if len(resp.Apdus) != 1 {
		t.Fatalf("expected 1 response, got %d", len(resp.Apdus))
	}
	if !resp.IsLogicalChannelOpen {
		t.Error("expected logical channel to remain open")
	}
}

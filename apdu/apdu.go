// Package apdu provides the immutable request/response value types for
// ISO 7816-4 command/response exchanges with a smart card.
package apdu

import "fmt"

// SWSuccess is the status word every ApduRequest accepts implicitly, in
// addition to whatever the caller configures.
const SWSuccess uint16 = 0x9000

// Request is an immutable APDU command plus the set of status words the
// caller considers successful.
type Request struct {
	bytes   []byte
	info    string
	success map[uint16]struct{}
}

// NewRequest builds a Request. successfulStatusWords always implicitly
// includes SWSuccess (0x9000) regardless of what's passed in.
func NewRequest(bytes []byte, info string, successfulStatusWords ...uint16) Request {
	cmd := make([]byte, len(bytes))
	copy(cmd, bytes)

	success := make(map[uint16]struct{}, len(successfulStatusWords)+1)
	success[SWSuccess] = struct{}{}
	for _, sw := range successfulStatusWords {
		success[sw] = struct{}{}
	}

	return Request{bytes: cmd, info: info, success: success}
}

// Bytes returns a copy of the raw command bytes.
func (r Request) Bytes() []byte {
	out := make([]byte, len(r.bytes))
	copy(out, r.bytes)
	return out
}

// Info returns the caller-supplied descriptive label for this command.
func (r Request) Info() string {
	return r.info
}

// IsSuccessful reports whether sw is among this request's accepted status
// words.
func (r Request) IsSuccessful(sw uint16) bool {
	_, ok := r.success[sw]
	return ok
}

// Response is an immutable APDU response: the raw bytes returned by the
// card, always at least 2 bytes (the trailing status word).
type Response struct {
	bytes []byte
}

// NewResponse wraps raw response bytes. Panics if fewer than 2 bytes are
// given — callers that can't guarantee this should use ParseResponse.
func NewResponse(bytes []byte) Response {
	r, err := ParseResponse(bytes)
	if err != nil {
		panic(err)
	}
	return r
}

// ParseResponse validates and wraps raw response bytes.
func ParseResponse(bytes []byte) (Response, error) {
	if len(bytes) < 2 {
		return Response{}, fmt.Errorf("apdu: response must be at least 2 bytes, got %d", len(bytes))
	}
	out := make([]byte, len(bytes))
	copy(out, bytes)
	return Response{bytes: out}, nil
}

// Bytes returns a copy of the full raw response, status word included.
func (r Response) Bytes() []byte {
	out := make([]byte, len(r.bytes))
	copy(out, r.bytes)
	return out
}

// StatusWord returns the 2-byte trailing status word.
func (r Response) StatusWord() uint16 {
	n := len(r.bytes)
	return uint16(r.bytes[n-2])<<8 | uint16(r.bytes[n-1])
}

// Data returns the response payload with the trailing status word
// stripped.
func (r Response) Data() []byte {
	n := len(r.bytes)
	out := make([]byte, n-2)
	copy(out, r.bytes[:n-2])
	return out
}

// String renders the status word as a 4-hex-digit string, e.g. "9000".
func (r Response) String() string {
	return fmt.Sprintf("%04X", r.StatusWord())
}

package selection

import (
	"fmt"
	"regexp"

	"github.com/dotside-studios/cardterm/apdu"
)

// FileOccurrence is the ISO 7816-4 §7.1.1 P2 bits-0-1 "occurrence" field of
// a SELECT command. The core passes it through verbatim; it never
// interprets NEXT/PREVIOUS itself — the card is responsible for returning
// the next/previous occurrence.
type FileOccurrence int

const (
	FileOccurrenceFirst FileOccurrence = iota
	FileOccurrenceLast
	FileOccurrenceNext
	FileOccurrencePrevious
)

func (o FileOccurrence) p2Bits() byte {
	switch o {
	case FileOccurrenceFirst:
		return 0x00
	case FileOccurrenceLast:
		return 0x01
	case FileOccurrenceNext:
		return 0x02
	case FileOccurrencePrevious:
		return 0x03
	default:
		return 0x00
	}
}

// FileControlInformation is the ISO 7816-4 §7.1.1 P2 bits-2-3 field
// selecting what the card returns after a successful SELECT.
type FileControlInformation int

const (
	FileControlInfoFCI FileControlInformation = iota
	FileControlInfoFCP
	FileControlInfoFMD
	FileControlInfoNone
)

func (f FileControlInformation) p2Bits() byte {
	switch f {
	case FileControlInfoFCI:
		return 0x00
	case FileControlInfoFCP:
		return 0x04
	case FileControlInfoFMD:
		return 0x08
	case FileControlInfoNone:
		return 0x0C
	default:
		return 0x00
	}
}

// Selector describes one ISO 7816-4 application-selection attempt: an
// optional AID, an optional power-on-data filter, and the select-command
// parameters.
type Selector struct {
	CardProtocol                   string
	PowerOnDataRegex               string
	AID                            []byte
	FileOccurrence                 FileOccurrence
	FileControlInformation         FileControlInformation
	SuccessfulSelectionStatusWords map[uint16]struct{}

	powerOnDataRE *regexp.Regexp
}

// NewSelector validates and builds a Selector. aid, when non-nil, must be
// 1-16 bytes. successfulStatusWords always implicitly includes 0x9000.
func NewSelector(cardProtocol, powerOnDataRegex string, aid []byte, occurrence FileOccurrence, fci FileControlInformation, successfulStatusWords ...uint16) (Selector, error) {
	if aid != nil && (len(aid) < 1 || len(aid) > 16) {
		return Selector{}, fmt.Errorf("selection: aid must be 1-16 bytes, got %d", len(aid))
	}

	var re *regexp.Regexp
	if powerOnDataRegex != "" {
		compiled, err := regexp.Compile(powerOnDataRegex)
		if err != nil {
			return Selector{}, fmt.Errorf("selection: invalid power-on data regex: %w", err)
		}
		re = compiled
	}

	success := map[uint16]struct{}{apdu.SWSuccess: {}}
	for _, sw := range successfulStatusWords {
		success[sw] = struct{}{}
	}

	var aidCopy []byte
	if aid != nil {
		aidCopy = make([]byte, len(aid))
		copy(aidCopy, aid)
	}

	return Selector{
		CardProtocol:                   cardProtocol,
		PowerOnDataRegex:               powerOnDataRegex,
		AID:                            aidCopy,
		FileOccurrence:                 occurrence,
		FileControlInformation:         fci,
		SuccessfulSelectionStatusWords: success,
		powerOnDataRE:                  re,
	}, nil
}

// HasAID reports whether this selector discriminates by AID.
func (s Selector) HasAID() bool {
	return len(s.AID) > 0
}

// MatchesPowerOnData reports whether powerOnData (raw bytes) satisfies
// this selector's power-on-data regex, matched against its uppercase hex
// encoding. A selector with no regex matches everything.
func (s Selector) MatchesPowerOnData(powerOnData []byte) bool {
	if s.powerOnDataRE == nil {
		return true
	}
	return s.powerOnDataRE.MatchString(fmt.Sprintf("%X", powerOnData))
}

// IsSuccessfulStatusWord reports whether sw is in this selector's accepted
// set for a successful selection.
func (s Selector) IsSuccessfulStatusWord(sw uint16) bool {
	_, ok := s.SuccessfulSelectionStatusWords[sw]
	return ok
}

// BuildSelectApdu encodes the ISO 7816-4 SELECT command for this selector's
// AID, occurrence, and file-control-information. Returns false if the
// selector has no AID, meaning selection relies on power-on data alone.
func (s Selector) BuildSelectApdu() (apdu.Request, bool) {
	if !s.HasAID() {
		return apdu.Request{}, false
	}
	p2 := s.FileOccurrence.p2Bits() | s.FileControlInformation.p2Bits()
	cmd := make([]byte, 0, 6+len(s.AID))
	cmd = append(cmd, 0x00, 0xA4, 0x04, p2, byte(len(s.AID)))
	cmd = append(cmd, s.AID...)
	cmd = append(cmd, 0x00)

	statusWords := make([]uint16, 0, len(s.SuccessfulSelectionStatusWords))
	for sw := range s.SuccessfulSelectionStatusWords {
		statusWords = append(statusWords, sw)
	}
	return apdu.NewRequest(cmd, "select-application", statusWords...), true
}

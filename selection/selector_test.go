package selection

import (
	"bytes"
	"testing"
)

func TestBuildSelectApdu_P2Encoding(t *testing.T) {
	aid := []byte{0xA0, 0x00, 0x00, 0x00, 0x62}

	tests := []struct {
		name   string
		occ    FileOccurrence
		fci    FileControlInformation
		wantP2 byte
	}{
		{"first+fci", FileOccurrenceFirst, FileControlInfoFCI, 0x00},
		{"last+fci", FileOccurrenceLast, FileControlInfoFCI, 0x01},
		{"next+fci", FileOccurrenceNext, FileControlInfoFCI, 0x02},
		{"previous+fci", FileOccurrencePrevious, FileControlInfoFCI, 0x03},
		{"first+fcp", FileOccurrenceFirst, FileControlInfoFCP, 0x04},
		{"first+fmd", FileOccurrenceFirst, FileControlInfoFMD, 0x08},
		{"first+none", FileOccurrenceFirst, FileControlInfoNone, 0x0C},
		{"next+fcp", FileOccurrenceNext, FileControlInfoFCP, 0x06},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := NewSelector("", "", aid, tt.occ, tt.fci)
			if err != nil {
				t.Fatalf("NewSelector: %v", err)
			}
			req, ok := sel.BuildSelectApdu()
			if !ok {
				t.Fatal("expected a select APDU for an AID-based selector")
			}

			cmd := req.Bytes()
			want := append([]byte{0x00, 0xA4, 0x04, tt.wantP2, byte(len(aid))}, aid...)
			want = append(want, 0x00)
			if !bytes.Equal(cmd, want) {
				t.Errorf("select APDU = % X, want % X", cmd, want)
			}
		})
	}
}

func TestBuildSelectApdu_NoAID(t *testing.T) {
	sel, err := NewSelector("", "^3B.*", nil, FileOccurrenceFirst, FileControlInfoFCI)
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}
	if _, ok := sel.BuildSelectApdu(); ok {
		t.Error("expected no select APDU for a power-on-data-only selector")
	}
}

func TestNewSelector_AIDLengthBounds(t *testing.T) {
	if _, err := NewSelector("", "", []byte{}, FileOccurrenceFirst, FileControlInfoFCI); err == nil {
		t.Error("expected an error for a zero-length AID")
	}
	if _, err := NewSelector("", "", make([]byte, 17), FileOccurrenceFirst, FileControlInfoFCI); err == nil {
		t.Error("expected an error for a 17-byte AID")
	}
	if _, err := NewSelector("", "", make([]byte, 16), FileOccurrenceFirst, FileControlInfoFCI); err != nil {
		t.Errorf("expected a 16-byte AID to be accepted, got %v", err)
	}
}

func TestNewSelector_InvalidRegex(t *testing.T) {
	if _, err := NewSelector("", "^3B(", nil, FileOccurrenceFirst, FileControlInfoFCI); err == nil {
		t.Error("expected an error for an invalid regex")
	}
}

func TestMatchesPowerOnData(t *testing.T) {
	sel, err := NewSelector("", "^3B.*", nil, FileOccurrenceFirst, FileControlInfoFCI)
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}

	if !sel.MatchesPowerOnData([]byte{0x3B, 0x8F, 0x80}) {
		t.Error("expected 3B8F80 to match ^3B.*")
	}
	if sel.MatchesPowerOnData([]byte{0x3F, 0x00}) {
		t.Error("expected 3F00 to not match ^3B.*")
	}

	noRegex, err := NewSelector("", "", []byte{0xA0}, FileOccurrenceFirst, FileControlInfoFCI)
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}
	if !noRegex.MatchesPowerOnData(nil) {
		t.Error("expected a selector with no regex to match anything")
	}
}

func TestIsSuccessfulStatusWord_Implicit9000AndExtras(t *testing.T) {
	sel, err := NewSelector("", "", []byte{0xA0}, FileOccurrenceFirst, FileControlInfoFCI, 0x6283)
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}

	if !sel.IsSuccessfulStatusWord(0x9000) {
		t.Error("expected 9000 to always be accepted")
	}
	if !sel.IsSuccessfulStatusWord(0x6283) {
		t.Error("expected the configured 6283 to be accepted")
	}
	if sel.IsSuccessfulStatusWord(0x6A82) {
		t.Error("expected 6A82 to be rejected")
	}
}

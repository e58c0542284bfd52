package selection

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dotside-studios/cardterm/apdu"
	"github.com/dotside-studios/cardterm/channel"
	"github.com/dotside-studios/cardterm/driver/drivertest"
)

// fakeExtension builds a Request with one follow-up APDU and records the
// version it was offered.
type fakeExtension struct {
	versionErr error

	sawMajor, sawMinor int
}

func (f *fakeExtension) CreateCardSelection(selector Selector) (Request, error) {
	followUp := apdu.NewCardRequest([]apdu.Request{
		apdu.NewRequest([]byte{0x00, 0xB0, 0x00, 0x00, 0x00}, "read-binary"),
	}, true)
	return NewRequest(selector, &followUp), nil
}

func (f *fakeExtension) CheckServiceVersion(major, minor int) error {
	f.sawMajor, f.sawMinor = major, minor
	return f.versionErr
}

func TestPrepareSelectionWith_RunsExtensionRequest(t *testing.T) {
	d := drivertest.New("mock")
	d.SetPowerOnData([]byte{0x3B, 0x8F})
	d.QueueResponse([]byte{0xAA, 0x90, 0x00}) // select
	d.QueueResponse([]byte{0x01, 0x02, 0x90, 0x00}) // read-binary
	ctrl := channel.New(d)

	ext := &fakeExtension{}
	pipeline := NewPipeline(FirstMatch)
	sel := mustSelector(t, []byte{0xA0, 0x00, 0x00, 0x00, 0x62}, FileOccurrenceFirst)
	if err := pipeline.PrepareSelectionWith(ext, sel); err != nil {
		t.Fatalf("PrepareSelectionWith: %v", err)
	}
	if ext.sawMajor != ServiceAPIVersionMajor || ext.sawMinor != ServiceAPIVersionMinor {
		t.Errorf("extension saw version %d.%d, want %d.%d", ext.sawMajor, ext.sawMinor, ServiceAPIVersionMajor, ServiceAPIVersionMinor)
	}

	result, err := pipeline.Process(ctrl)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	sc, ok := result.SmartCards[0]
	if !ok {
		t.Fatal("expected a match at index 0")
	}
	if sc.CardResponse == nil || len(sc.CardResponse.Apdus) != 1 {
		t.Fatalf("expected the extension's follow-up APDU to have run, got %+v", sc.CardResponse)
	}
	if got := sc.CardResponse.Apdus[0].Data(); len(got) != 2 || got[0] != 0x01 {
		t.Errorf("follow-up response data = %X, want 0102", got)
	}
}

func TestPrepareSelectionWith_VersionMismatchRejectsExtension(t *testing.T) {
	wantErr := fmt.Errorf("built against service API 9.9")
	ext := &fakeExtension{versionErr: wantErr}

	pipeline := NewPipeline(FirstMatch)
	sel := mustSelector(t, []byte{0xA0, 0x00, 0x00, 0x00, 0x62}, FileOccurrenceFirst)
	err := pipeline.PrepareSelectionWith(ext, sel)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected the extension's version error, got %v", err)
	}

	d := drivertest.New("mock")
	if _, err := pipeline.Process(channel.New(d)); err == nil {
		t.Fatal("expected Process to fail: nothing was prepared")
	}
}

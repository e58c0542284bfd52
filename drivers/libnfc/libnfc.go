// Package libnfc adapts a github.com/clausecker/nfc/v2 device to the
// driver.Reader contract, for contactless readers supported by libnfc
// (PN532, ACR122U in libnfc mode, and friends).
package libnfc

import (
	"fmt"
	"sync"

	"github.com/clausecker/freefare"
	"github.com/clausecker/nfc/v2"

	"github.com/dotside-studios/cardterm/driver"
)

var passiveModulation = nfc.Modulation{Type: nfc.ISO14443a, BaudRate: nfc.Nbr106}

// Reader implements driver.Reader over one libnfc device connection
// string, e.g. "pn532_uart:/dev/ttyUSB0" or "acr122_usb".
type Reader struct {
	mu sync.Mutex

	name       string
	connString string
	dev        nfc.Device
	open       bool
	target     nfc.ISO14443aTarget
	hasTarget  bool
}

// New opens connString and wraps it as a driver.Reader.
func New(name, connString string) (*Reader, error) {
	dev, err := nfc.Open(connString)
	if err != nil {
		return nil, driver.ReaderCommunicationError("Open", name, err)
	}
	if err := dev.InitiatorInit(); err != nil {
		dev.Close()
		return nil, driver.ReaderCommunicationError("InitiatorInit", name, err)
	}
	return &Reader{name: name, connString: connString, dev: dev}, nil
}

func (r *Reader) Name() string { return r.name }

func (r *Reader) IsCardPresent() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Classify freefare-known tags first. Memory-card tags (MIFARE
	// Classic, Ultralight) can't speak ISO 7816-4, so a field holding only
	// those counts as no card for the selection pipeline's purposes.
	if tags, err := freefare.GetTags(r.dev); err == nil && len(tags) > 0 {
		iso4 := false
		for _, t := range tags {
			if _, ok := t.(freefare.DESFireTag); ok {
				iso4 = true
			}
		}
		if !iso4 {
			r.hasTarget = false
			return false, nil
		}
	}
	target, err := r.dev.InitiatorSelectPassiveTarget(passiveModulation, nil)
	if err != nil {
		r.hasTarget = false
		return false, nil
	}
	iso, ok := target.(*nfc.ISO14443aTarget)
	if !ok {
		r.hasTarget = false
		return false, nil
	}
	r.target = *iso
	r.hasTarget = true
	return true, nil
}

// IsCardPresentPing re-selects the last seen target to check it's still
// reachable, rather than issuing a fresh passive-target poll.
func (r *Reader) IsCardPresentPing() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasTarget {
		return false, nil
	}
	_, err := r.dev.InitiatorSelectPassiveTarget(passiveModulation, r.target.UID[:r.target.UIDLen])
	if err != nil {
		r.hasTarget = false
		return false, nil
	}
	return true, nil
}

func (r *Reader) OpenPhysicalChannel() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = true
	return nil
}

func (r *Reader) ClosePhysicalChannel() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = false
	r.hasTarget = false
	return nil
}

func (r *Reader) IsPhysicalChannelOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

func (r *Reader) TransmitAPDU(command []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var rx [262]byte
	n, err := r.dev.InitiatorTransceiveBytes(command, rx[:], 0)
	if err != nil {
		return nil, fmt.Errorf("libnfc: transceive failed: %w", err)
	}
	return rx[:n], nil
}

func (r *Reader) GetPowerOnData() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasTarget {
		return nil, nil
	}
	out := make([]byte, r.target.ATSLen)
	copy(out, r.target.ATS[:r.target.ATSLen])
	return out, nil
}

func (r *Reader) ActivateProtocol(protocol string) error   { return nil }
func (r *Reader) DeactivateProtocol(protocol string) error { return nil }

// Close releases the underlying libnfc device.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dev.Close()
	return nil
}

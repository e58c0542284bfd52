// Package pcsc adapts a github.com/ebfe/scard PC/SC card and context to
// the driver.Reader contract.
package pcsc

import (
	"fmt"
	"sync"

	"github.com/ebfe/scard"

	"github.com/dotside-studios/cardterm/driver"
)

// Reader implements driver.Reader over one PC/SC reader slot.
type Reader struct {
	mu sync.Mutex

	name       string
	ctx        *scard.Context
	readerName string
	card       *scard.Card
	atr        []byte
}

// ListReaderNames returns the names of every PC/SC reader slot currently
// known to the system's resource manager.
func ListReaderNames() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("pcsc: establish context: %w", err)
	}
	defer ctx.Release()
	return ctx.ListReaders()
}

// New connects to the system's PC/SC resource manager and wraps
// readerName (as reported by scard.Context.ListReaders) as a
// driver.Reader. The physical channel starts closed: no card connection
// is opened until the first TransmitCardRequest.
func New(readerName string) (*Reader, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, driver.ReaderCommunicationError("EstablishContext", readerName, err)
	}
	return &Reader{name: readerName, ctx: ctx, readerName: readerName}, nil
}

func (r *Reader) Name() string { return r.name }

func (r *Reader) IsCardPresent() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs := []scard.ReaderState{{Reader: r.readerName, CurrentState: scard.StateUnaware}}
	if err := r.ctx.GetStatusChange(rs, 0); err != nil {
		return false, driver.ReaderCommunicationError("GetStatusChange", r.name, err)
	}
	return rs[0].EventState&scard.StatePresent != 0, nil
}

// IsCardPresentPing issues a neutral SELECT APDU with an empty AID
// (00 A4 04 00 00) against an already-connected card to confirm it's still reachable, instead of
// re-querying PC/SC reader state — this avoids racing the selection
// pipeline's own exchange over the same card handle.
func (r *Reader) IsCardPresentPing() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.card == nil {
		return false, nil
	}
	_, err := r.card.Transmit([]byte{0x00, 0xA4, 0x04, 0x00, 0x00})
	return err == nil, nil
}

func (r *Reader) OpenPhysicalChannel() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.card != nil {
		return nil
	}
	card, err := r.ctx.Connect(r.readerName, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		return fmt.Errorf("pcsc: connect failed: %w", err)
	}
	status, err := card.Status()
	if err != nil {
		card.Disconnect(scard.LeaveCard)
		return fmt.Errorf("pcsc: status failed: %w", err)
	}
	r.card = card
	r.atr = status.Atr
	return nil
}

func (r *Reader) ClosePhysicalChannel() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.card == nil {
		return nil
	}
	err := r.card.Disconnect(scard.LeaveCard)
	r.card = nil
	r.atr = nil
	return err
}

func (r *Reader) IsPhysicalChannelOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.card != nil
}

func (r *Reader) TransmitAPDU(command []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.card == nil {
		return nil, fmt.Errorf("pcsc: no card connected")
	}
	return r.card.Transmit(command)
}

func (r *Reader) GetPowerOnData() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, len(r.atr))
	copy(out, r.atr)
	return out, nil
}

func (r *Reader) ActivateProtocol(protocol string) error   { return nil }
func (r *Reader) DeactivateProtocol(protocol string) error { return nil }

// Close releases the PC/SC context.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.card != nil {
		r.card.Disconnect(scard.LeaveCard)
		r.card = nil
	}
	return r.ctx.Release()
}

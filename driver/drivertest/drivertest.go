// Package drivertest provides an in-memory fake implementing
// driver.Reader, so the selection pipeline and reader state machine can be
// exercised without physical hardware: a scriptable fake with a call log
// for spy-style assertions (e.g. "selector B was never transmitted").
package drivertest

import (
	"fmt"
	"sync"
)

// Driver is a scriptable fake driver.Reader.
type Driver struct {
	mu   sync.Mutex
	cond *sync.Cond

	name string

	physicalOpen bool
	powerOnData  []byte

	// responses is consumed in order by TransmitAPDU: each call to
	// TransmitAPDU pops the next entry. If exhausted, ErrNoMoreResponses
	// is returned.
	responses [][]byte

	cardPresent bool

	openErr         error
	closeErr        error
	transmitErr     error
	transmitErrOnce bool
	powerOnErr      error
	presentErr      error
	protocolErr     error
	waitInsertErr   error
	waitRemoveErr   error

	insertionListener func()

	callLog []string
}

// New creates a Driver with the given name. The card starts absent and the
// physical channel starts closed.
func New(name string) *Driver {
	d := &Driver{name: name}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *Driver) log(entry string) {
	d.callLog = append(d.callLog, entry)
}

// CallLog returns a copy of every method invocation recorded so far, in
// order. Used by tests asserting that a selector was (or wasn't)
// transmitted.
func (d *Driver) CallLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.callLog))
	copy(out, d.callLog)
	return out
}

// SetPowerOnData configures what GetPowerOnData returns.
func (d *Driver) SetPowerOnData(data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.powerOnData = append([]byte(nil), data...)
}

// QueueResponse appends a raw response to be returned by the next
// TransmitAPDU call, in FIFO order.
func (d *Driver) QueueResponse(resp []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responses = append(d.responses, append([]byte(nil), resp...))
}

// SetCardPresent controls IsCardPresent/IsCardPresentPing and, if a
// listener is registered, fires it on a present transition.
func (d *Driver) SetCardPresent(present bool) {
	d.mu.Lock()
	wasPresent := d.cardPresent
	d.cardPresent = present
	listener := d.insertionListener
	d.cond.Broadcast()
	d.mu.Unlock()

	if present && !wasPresent && listener != nil {
		listener()
	}
}

// SetOpenError/SetTransmitError/etc. script failures for error-path tests.
func (d *Driver) SetOpenError(err error)     { d.mu.Lock(); d.openErr = err; d.mu.Unlock() }
func (d *Driver) SetCloseError(err error)    { d.mu.Lock(); d.closeErr = err; d.mu.Unlock() }
func (d *Driver) SetTransmitError(err error) { d.mu.Lock(); d.transmitErr = err; d.mu.Unlock() }
func (d *Driver) SetPowerOnError(err error)  { d.mu.Lock(); d.powerOnErr = err; d.mu.Unlock() }
func (d *Driver) SetPresentError(err error)  { d.mu.Lock(); d.presentErr = err; d.mu.Unlock() }
func (d *Driver) SetProtocolError(err error) { d.mu.Lock(); d.protocolErr = err; d.mu.Unlock() }

// SetTransmitErrorOnce scripts err to be returned by exactly the next
// TransmitAPDU call; the error then clears itself so later calls in the
// same scenario succeed normally.
func (d *Driver) SetTransmitErrorOnce(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transmitErr = err
	d.transmitErrOnce = true
}

// SetWaitInsertionError makes WaitForCardInsertion return err immediately
// instead of blocking.
func (d *Driver) SetWaitInsertionError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waitInsertErr = err
	d.cond.Broadcast()
}

// SetWaitRemovalError makes WaitForCardRemoval return err immediately
// instead of blocking.
func (d *Driver) SetWaitRemovalError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waitRemoveErr = err
	d.cond.Broadcast()
}

// ErrNoMoreResponses is returned by TransmitAPDU when the response queue is
// exhausted — the test forgot to QueueResponse enough entries.
var ErrNoMoreResponses = fmt.Errorf("drivertest: no more queued responses")

func (d *Driver) Name() string {
	return d.name
}

func (d *Driver) IsCardPresent() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log("IsCardPresent")
	if d.presentErr != nil {
		return false, d.presentErr
	}
	return d.cardPresent, nil
}

func (d *Driver) IsCardPresentPing() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log("IsCardPresentPing")
	if d.presentErr != nil {
		return false, d.presentErr
	}
	return d.cardPresent, nil
}

func (d *Driver) OpenPhysicalChannel() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log("OpenPhysicalChannel")
	if d.openErr != nil {
		return d.openErr
	}
	d.physicalOpen = true
	return nil
}

func (d *Driver) ClosePhysicalChannel() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log("ClosePhysicalChannel")
	if d.closeErr != nil {
		return d.closeErr
	}
	d.physicalOpen = false
	return nil
}

func (d *Driver) IsPhysicalChannelOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.physicalOpen
}

func (d *Driver) TransmitAPDU(command []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log(fmt.Sprintf("TransmitAPDU(% X)", command))
	if d.transmitErr != nil {
		err := d.transmitErr
		if d.transmitErrOnce {
			d.transmitErr = nil
			d.transmitErrOnce = false
		}
		return nil, err
	}
	if len(d.responses) == 0 {
		return nil, ErrNoMoreResponses
	}
	resp := d.responses[0]
	d.responses = d.responses[1:]
	return resp, nil
}

func (d *Driver) GetPowerOnData() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log("GetPowerOnData")
	if d.powerOnErr != nil {
		return nil, d.powerOnErr
	}
	return append([]byte(nil), d.powerOnData...), nil
}

func (d *Driver) ActivateProtocol(protocol string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log("ActivateProtocol(" + protocol + ")")
	return d.protocolErr
}

func (d *Driver) DeactivateProtocol(protocol string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log("DeactivateProtocol(" + protocol + ")")
	return nil
}

// WaitForCardInsertion blocks until SetCardPresent(true) is called, or
// returns immediately if a card is already present. If
// SetWaitInsertionError has scripted an error, it returns (and clears)
// that error instead. Implements driver.BlockingReader.
func (d *Driver) WaitForCardInsertion() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for !d.cardPresent && d.waitInsertErr == nil {
		d.cond.Wait()
	}
	if d.waitInsertErr != nil {
		err := d.waitInsertErr
		d.waitInsertErr = nil
		return err
	}
	return nil
}

// WaitForCardRemoval blocks until SetCardPresent(false) is called. If
// SetWaitRemovalError has scripted an error, it returns (and clears) that
// error instead. Implements driver.BlockingReader.
func (d *Driver) WaitForCardRemoval() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.cardPresent && d.waitRemoveErr == nil {
		d.cond.Wait()
	}
	if d.waitRemoveErr != nil {
		err := d.waitRemoveErr
		d.waitRemoveErr = nil
		return err
	}
	return nil
}

// SetCardInsertionListener implements driver.SmartInsertionReader.
func (d *Driver) SetCardInsertionListener(cb func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.insertionListener = cb
}

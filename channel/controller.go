// Package channel tracks physical and logical channel state on one reader
// and executes CardRequest sequences against it: a small mutex-guarded
// struct wrapping a driver handle, with reconnect-style open/close
// bookkeeping.
package channel

import (
	"fmt"
	"sync"

	"github.com/dotside-studios/cardterm/apdu"
	"github.com/dotside-studios/cardterm/driver"
)

// Controller wraps a driver.Reader and tracks physical/logical channel
// state for it. A Controller is owned by exactly one reader at a time.
type Controller struct {
	mu sync.Mutex

	reader             driver.Reader
	logicalChannelOpen bool
}

// New wraps reader with a fresh Controller. The physical channel state is
// whatever reader reports; the logical channel always starts closed.
func New(reader driver.Reader) *Controller {
	return &Controller{reader: reader}
}

// Reader returns the underlying driver.Reader.
func (c *Controller) Reader() driver.Reader {
	return c.reader
}

// IsPhysicalChannelOpen reports the driver's current physical channel
// state.
func (c *Controller) IsPhysicalChannelOpen() bool {
	return c.reader.IsPhysicalChannelOpen()
}

// IsLogicalChannelOpen reports whether the logical channel is considered
// open. Reset to false whenever the physical channel is closed.
func (c *Controller) IsLogicalChannelOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logicalChannelOpen
}

// ClosePhysicalChannel closes the physical channel via the driver and
// resets logical channel state.
func (c *Controller) ClosePhysicalChannel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closePhysicalChannelLocked()
}

func (c *Controller) closePhysicalChannelLocked() error {
	err := c.reader.ClosePhysicalChannel()
	c.logicalChannelOpen = false
	if err != nil {
		return driver.ReaderCommunicationError("ClosePhysicalChannel", c.reader.Name(), err)
	}
	return nil
}

// TransmitCardRequest runs req's APDUs in order against the driver,
// opening the physical channel first if necessary.
//   - after each response, if its status word isn't in the APDU's accepted
//     set and req.StopOnUnsuccessfulStatusWord() is true, the sequence
//     stops and the partial response is returned with the logical channel
//     reported open;
//   - if control is CloseAfter, the physical channel is closed once the
//     sequence completes (success or failure path alike) and the logical
//     channel is reported closed.
func (c *Controller) TransmitCardRequest(req apdu.CardRequest, control driver.ChannelControl) (apdu.CardResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.reader.IsPhysicalChannelOpen() {
		if err := c.reader.OpenPhysicalChannel(); err != nil {
			return apdu.CardResponse{}, driver.ReaderCommunicationError("OpenPhysicalChannel", c.reader.Name(), err)
		}
	}

	apdus := req.Apdus()
	responses := make([]apdu.Response, 0, len(apdus))
	c.logicalChannelOpen = true

	for _, request := range apdus {
		raw, err := c.reader.TransmitAPDU(request.Bytes())
		if err != nil {
			if control == driver.CloseAfter {
				c.closePhysicalChannelLocked()
			}
			return apdu.CardResponse{}, driver.CardCommunicationError(
				fmt.Sprintf("TransmitAPDU(%s)", request.Info()), c.reader.Name(), err)
		}

		resp, err := apdu.ParseResponse(raw)
		if err != nil {
			if control == driver.CloseAfter {
				c.closePhysicalChannelLocked()
			}
			return apdu.CardResponse{}, driver.CardCommunicationError(
				fmt.Sprintf("ParseResponse(%s)", request.Info()), c.reader.Name(), err)
		}
		responses = append(responses, resp)

		if !request.IsSuccessful(resp.StatusWord()) && req.StopOnUnsuccessfulStatusWord() {
			if control == driver.CloseAfter {
				c.closePhysicalChannelLocked()
				return apdu.NewCardResponse(responses, false), nil
			}
			return apdu.NewCardResponse(responses, true), nil
		}
	}

	if control == driver.CloseAfter {
		c.closePhysicalChannelLocked()
		return apdu.NewCardResponse(responses, false), nil
	}
	return apdu.NewCardResponse(responses, true), nil
}

// Package remote adapts a driver.Reader running in another process to a
// local one, by proxying every call over a JSON/WebSocket RPC connection.
// This is what lets a reader physically attached to one machine be
// consumed by a selection pipeline running on another.
package remote

import (
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dotside-studios/cardterm/driver"
)

// rpcRequest is one call sent to the remote agent.
type rpcRequest struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// rpcResponse is the matching reply, correlated by ID.
type rpcResponse struct {
	ID     string `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Reader implements driver.Reader by forwarding every operation to a
// cardterm agent over a WebSocket connection, identified by name on the
// remote side (the remote process may host more than one physical
// reader behind a single socket).
type Reader struct {
	mu sync.Mutex

	name     string
	readerID string
	conn     *websocket.Conn

	pending map[string]chan rpcResponse
}

// Dial connects to a remote cardterm agent's WebSocket endpoint and
// wraps readerID (the name the remote process knows this reader by) as
// a local driver.Reader.
func Dial(url, readerID string) (*Reader, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("remote: dial %s: %w", url, err)
	}
	r := &Reader{
		name:     fmt.Sprintf("remote:%s", readerID),
		readerID: readerID,
		conn:     conn,
		pending:  make(map[string]chan rpcResponse),
	}
	go r.readLoop()
	return r, nil
}

func (r *Reader) readLoop() {
	for {
		var resp rpcResponse
		if err := r.conn.ReadJSON(&resp); err != nil {
			r.mu.Lock()
			for _, ch := range r.pending {
				close(ch)
			}
			r.pending = nil
			r.mu.Unlock()
			return
		}
		r.mu.Lock()
		ch, ok := r.pending[resp.ID]
		if ok {
			delete(r.pending, resp.ID)
		}
		r.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (r *Reader) call(method string, params any) (rpcResponse, error) {
	id := uuid.New().String()
	ch := make(chan rpcResponse, 1)

	r.mu.Lock()
	if r.pending == nil {
		r.mu.Unlock()
		return rpcResponse{}, driver.ReaderCommunicationError(method, r.name, fmt.Errorf("connection closed"))
	}
	r.pending[id] = ch
	err := r.conn.WriteJSON(rpcRequest{ID: id, Method: method, Params: params})
	r.mu.Unlock()

	if err != nil {
		return rpcResponse{}, driver.ReaderCommunicationError(method, r.name, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return rpcResponse{}, driver.ReaderCommunicationError(method, r.name, fmt.Errorf("connection closed"))
		}
		if resp.Error != "" {
			return rpcResponse{}, driver.CardCommunicationError(method, r.name, fmt.Errorf("%s", resp.Error))
		}
		return resp, nil
	case <-time.After(10 * time.Second):
		return rpcResponse{}, driver.ReaderCommunicationError(method, r.name, fmt.Errorf("timed out"))
	}
}

func (r *Reader) Name() string { return r.name }

func (r *Reader) IsCardPresent() (bool, error) {
	resp, err := r.call("is_card_present", map[string]string{"reader": r.readerID})
	if err != nil {
		return false, err
	}
	present, _ := resp.Result.(bool)
	return present, nil
}

func (r *Reader) IsCardPresentPing() (bool, error) {
	resp, err := r.call("is_card_present_ping", map[string]string{"reader": r.readerID})
	if err != nil {
		return false, err
	}
	present, _ := resp.Result.(bool)
	return present, nil
}

func (r *Reader) OpenPhysicalChannel() error {
	_, err := r.call("open_physical_channel", map[string]string{"reader": r.readerID})
	return err
}

func (r *Reader) ClosePhysicalChannel() error {
	_, err := r.call("close_physical_channel", map[string]string{"reader": r.readerID})
	return err
}

func (r *Reader) IsPhysicalChannelOpen() bool {
	resp, err := r.call("is_physical_channel_open", map[string]string{"reader": r.readerID})
	if err != nil {
		return false
	}
	open, _ := resp.Result.(bool)
	return open
}

func (r *Reader) TransmitAPDU(command []byte) ([]byte, error) {
	resp, err := r.call("transmit_apdu", map[string]string{
		"reader":  r.readerID,
		"command": hex.EncodeToString(command),
	})
	if err != nil {
		return nil, err
	}
	encoded, _ := resp.Result.(string)
	decoded, decodeErr := hex.DecodeString(encoded)
	if decodeErr != nil {
		return nil, driver.CardCommunicationError("TransmitAPDU", r.name, decodeErr)
	}
	return decoded, nil
}

func (r *Reader) GetPowerOnData() ([]byte, error) {
	resp, err := r.call("get_power_on_data", map[string]string{"reader": r.readerID})
	if err != nil {
		return nil, err
	}
	encoded, _ := resp.Result.(string)
	return hex.DecodeString(encoded)
}

func (r *Reader) ActivateProtocol(protocol string) error {
	_, err := r.call("activate_protocol", map[string]string{"reader": r.readerID, "protocol": protocol})
	return err
}

func (r *Reader) DeactivateProtocol(protocol string) error {
	_, err := r.call("deactivate_protocol", map[string]string{"reader": r.readerID, "protocol": protocol})
	return err
}

// Close closes the underlying WebSocket connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

package att

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultTransactionTimeout is the ATT transaction timeout (Core Spec Vol 3, Part F, 3.3.3)
const DefaultTransactionTimeout = 30 * time.Second

var (
	// ErrRequestPending is returned when a second request is started while one is outstanding
	ErrRequestPending = errors.New("att: request already pending")
	// ErrNoPendingRequest is returned when a response arrives with nothing outstanding
	ErrNoPendingRequest = errors.New("att: no pending request")
	// ErrTransactionTimeout is delivered when a request gets no response in time
	ErrTransactionTimeout = errors.New("att: transaction timeout")
	// ErrCancelled is delivered to a pending request when its link closes
	ErrCancelled = errors.New("att: request cancelled")
)

// Response is an ATT response or the error that ended the transaction
type Response struct {
	PDU PDU
	Err error
}

type pendingRequest struct {
	opcode uint8
	handle uint16
	respC  chan Response
	timer  *time.Timer
}

// RequestTracker enforces the one-outstanding-request rule of an ATT bearer
// and pairs responses with the request that caused them.
type RequestTracker struct {
	mu      sync.Mutex
	pending *pendingRequest
	timeout time.Duration
}

// NewRequestTracker creates a tracker. A zero timeout selects DefaultTransactionTimeout.
func NewRequestTracker(timeout time.Duration) *RequestTracker {
	if timeout <= 0 {
		timeout = DefaultTransactionTimeout
	}
	return &RequestTracker{timeout: timeout}
}

// StartRequest registers an outstanding request and returns the channel its
// response will be delivered on. The channel receives exactly one value.
func (rt *RequestTracker) StartRequest(opcode uint8, handle uint16) (<-chan Response, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.pending != nil {
		return nil, fmt.Errorf("%w (opcode 0x%02X on handle 0x%04X)", ErrRequestPending, rt.pending.opcode, rt.pending.handle)
	}

	p := &pendingRequest{
		opcode: opcode,
		handle: handle,
		respC:  make(chan Response, 1),
	}
	p.timer = time.AfterFunc(rt.timeout, func() {
		rt.finish(p, Response{Err: fmt.Errorf("%w: opcode 0x%02X, handle 0x%04X", ErrTransactionTimeout, opcode, handle)})
	})
	rt.pending = p
	return p.respC, nil
}

// finish delivers resp if p is still the outstanding request
func (rt *RequestTracker) finish(p *pendingRequest, resp Response) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.pending != p {
		return false
	}
	rt.pending = nil
	p.timer.Stop()
	p.respC <- resp
	close(p.respC)
	return true
}

// CompleteRequest delivers a response PDU. Error responses are converted to *Error.
func (rt *RequestTracker) CompleteRequest(pdu PDU) error {
	rt.mu.Lock()
	p := rt.pending
	rt.mu.Unlock()

	if p == nil {
		return fmt.Errorf("%w for opcode 0x%02X", ErrNoPendingRequest, pdu.Opcode())
	}

	if errResp, ok := pdu.(*ErrorResponse); ok {
		rt.finish(p, Response{Err: NewError(errResp.Code, errResp.RequestOpcode, errResp.Handle)})
		return nil
	}

	if want := ResponseOpcode(p.opcode); pdu.Opcode() != want {
		return fmt.Errorf("att: unexpected response opcode 0x%02X for request 0x%02X (expected 0x%02X)",
			pdu.Opcode(), p.opcode, want)
	}
	rt.finish(p, Response{PDU: pdu})
	return nil
}

// CancelPending fails any outstanding request with ErrCancelled
func (rt *RequestTracker) CancelPending() {
	rt.mu.Lock()
	p := rt.pending
	rt.mu.Unlock()
	if p != nil {
		rt.finish(p, Response{Err: ErrCancelled})
	}
}

// HasPending reports whether a request is outstanding
func (rt *RequestTracker) HasPending() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.pending != nil
}

// Wait blocks for the response on respC or until ctx is done. A context
// cancellation also releases the tracker slot.
func (rt *RequestTracker) Wait(ctx context.Context, respC <-chan Response) (PDU, error) {
	select {
	case resp := <-respC:
		return resp.PDU, resp.Err
	case <-ctx.Done():
		rt.CancelPending()
		return nil, ctx.Err()
	}
}

package att

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRequestTracker_SingleRequest(t *testing.T) {
	tracker := NewRequestTracker(time.Second)

	respC, err := tracker.StartRequest(OpReadRequest, 0x0010)
	if err != nil {
		t.Fatalf("StartRequest failed: %v", err)
	}
	if !tracker.HasPending() {
		t.Fatal("Expected pending request")
	}

	if err := tracker.CompleteRequest(&ReadResponse{Value: []byte{0xDE, 0xAD}}); err != nil {
		t.Fatalf("CompleteRequest failed: %v", err)
	}

	pdu, err := tracker.Wait(context.Background(), respC)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if rr, ok := pdu.(*ReadResponse); !ok || len(rr.Value) != 2 {
		t.Errorf("Wait = %#v", pdu)
	}
	if tracker.HasPending() {
		t.Error("Expected no pending request after completion")
	}
}

func TestRequestTracker_OnlyOneRequestAtTime(t *testing.T) {
	tracker := NewRequestTracker(time.Second)

	if _, err := tracker.StartRequest(OpReadRequest, 0x0010); err != nil {
		t.Fatalf("First StartRequest failed: %v", err)
	}
	_, err := tracker.StartRequest(OpWriteRequest, 0x0020)
	if !errors.Is(err, ErrRequestPending) {
		t.Fatalf("second StartRequest error = %v, want ErrRequestPending", err)
	}
}

func TestRequestTracker_ErrorResponse(t *testing.T) {
	tracker := NewRequestTracker(time.Second)
	respC, _ := tracker.StartRequest(OpReadRequest, 0x000B)

	err := tracker.CompleteRequest(&ErrorResponse{RequestOpcode: OpReadRequest, Handle: 0x000B, Code: ErrReadNotPermitted})
	if err != nil {
		t.Fatalf("CompleteRequest failed: %v", err)
	}
	_, err = tracker.Wait(context.Background(), respC)
	if !IsATTError(err, ErrReadNotPermitted) {
		t.Errorf("Wait error = %v, want Read Not Permitted", err)
	}
}

func TestRequestTracker_MismatchedResponse(t *testing.T) {
	tracker := NewRequestTracker(time.Second)
	tracker.StartRequest(OpReadRequest, 0x000B)

	if err := tracker.CompleteRequest(&WriteResponse{}); err == nil {
		t.Fatal("expected error for mismatched response")
	}
	if !tracker.HasPending() {
		t.Error("mismatched response must not clear the pending request")
	}
}

func TestRequestTracker_Timeout(t *testing.T) {
	tracker := NewRequestTracker(20 * time.Millisecond)
	respC, _ := tracker.StartRequest(OpReadRequest, 0x000B)

	_, err := tracker.Wait(context.Background(), respC)
	if !errors.Is(err, ErrTransactionTimeout) {
		t.Errorf("Wait error = %v, want ErrTransactionTimeout", err)
	}
	if tracker.HasPending() {
		t.Error("timed out request still pending")
	}
}

func TestRequestTracker_Cancel(t *testing.T) {
	tracker := NewRequestTracker(time.Second)
	respC, _ := tracker.StartRequest(OpWriteRequest, 0x000D)

	tracker.CancelPending()
	_, err := tracker.Wait(context.Background(), respC)
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("Wait error = %v, want ErrCancelled", err)
	}
	if err := tracker.CompleteRequest(&WriteResponse{}); !errors.Is(err, ErrNoPendingRequest) {
		t.Errorf("late CompleteRequest error = %v, want ErrNoPendingRequest", err)
	}
}

package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stef-writes/iceOS-sub005/blueprint"
)

// approvalHub routes ResolveApproval calls to the human node goroutines
// parked in AwaitApproval, keyed by node id within one run.
type approvalHub struct {
	mu      sync.Mutex
	pending map[string]chan bool
}

func newApprovalHub() *approvalHub {
	return &approvalHub{pending: make(map[string]chan bool)}
}

// wait parks until resolve delivers a verdict for nodeID, the timeout
// elapses, or ctx is canceled.
func (h *approvalHub) wait(ctx context.Context, nodeID string, timeoutMS int) (bool, error) {
	ch := make(chan bool, 1)
	h.mu.Lock()
	if _, exists := h.pending[nodeID]; exists {
		h.mu.Unlock()
		return false, fmt.Errorf("approval for node %q already pending", nodeID)
	}
	h.pending[nodeID] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.pending, nodeID)
		h.mu.Unlock()
	}()

	var timeout <-chan time.Time
	if timeoutMS > 0 {
		t := time.NewTimer(time.Duration(timeoutMS) * time.Millisecond)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case approved := <-ch:
		return approved, nil
	case <-timeout:
		return false, blueprint.ErrTimeout
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// resolve delivers a verdict; returns false if no approval is pending for
// nodeID.
func (h *approvalHub) resolve(nodeID string, approve bool) bool {
	h.mu.Lock()
	ch, ok := h.pending[nodeID]
	h.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- approve:
		return true
	default:
		return false
	}
}

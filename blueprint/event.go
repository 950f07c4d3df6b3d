package blueprint

import "github.com/stef-writes/iceOS-sub005/graph/emit"

// EventKind enumerates the run-state transitions the scheduler and node
// executor emit. It is carried in emit.Event.Msg and mirrored into
// Meta["kind"] so subscribers can filter without parsing Msg.
type EventKind string

const (
	EventRunStarted             EventKind = "RunStarted"
	EventNodeStarted            EventKind = "NodeStarted"
	EventNodeRetrying           EventKind = "NodeRetrying"
	EventNodeSucceeded          EventKind = "NodeSucceeded"
	EventNodeFailed             EventKind = "NodeFailed"
	EventBranchDecision         EventKind = "BranchDecision"
	EventRecursionRound         EventKind = "RecursionRound"
	EventHumanApprovalRequested EventKind = "HumanApprovalRequested"
	EventHumanApprovalResolved  EventKind = "HumanApprovalResolved"
	EventBudgetWarning          EventKind = "BudgetWarning"
	EventRunCompleted           EventKind = "RunCompleted"
	EventRunFailed              EventKind = "RunFailed"
	EventRunCanceled            EventKind = "RunCanceled"
)

// NewEvent builds an emit.Event for kind. Step is left at zero; the
// runtime facade assigns the run's monotonic sequence number when the
// event is actually emitted, so callers never coordinate a shared
// counter.
func NewEvent(runID string, kind EventKind, nodeID string, meta map[string]interface{}) emit.Event {
	if meta == nil {
		meta = make(map[string]interface{}, 1)
	}
	meta["kind"] = string(kind)
	return emit.Event{RunID: runID, NodeID: nodeID, Msg: string(kind), Meta: meta}
}

// KindOf extracts the EventKind an emit.Event was built with, for
// subscribers that only have the generic emit.Event shape to work with.
func KindOf(e emit.Event) EventKind {
	if e.Meta != nil {
		if k, ok := e.Meta["kind"].(string); ok {
			return EventKind(k)
		}
	}
	return EventKind(e.Msg)
}

package blueprint

import "errors"

// ErrorKind is the taxonomy of runtime and validation failures a node or
// blueprint can produce. Retry policies and failure routing switch on
// these with errors.Is rather than string comparison.
type ErrorKind string

const (
	ErrKindValidation       ErrorKind = "ValidationError"
	ErrKindRegistry         ErrorKind = "RegistryError"
	ErrKindInputUnresolved  ErrorKind = "InputUnresolvedError"
	ErrKindOutputSchema     ErrorKind = "OutputSchemaError"
	ErrKindTransient        ErrorKind = "Transient"
	ErrKindRateLimited      ErrorKind = "RateLimited"
	ErrKindTimeout          ErrorKind = "Timeout"
	ErrKindCanceled         ErrorKind = "Canceled"
	ErrKindBudgetExceeded   ErrorKind = "BudgetExceeded"
	ErrKindSandboxViolation ErrorKind = "SandboxViolation"
	ErrKindResourceExceeded ErrorKind = "ResourceExceeded"
	ErrKindCircularDep      ErrorKind = "CircularDependency"
	ErrKindAirgapViolation  ErrorKind = "AirgapViolation"
	ErrKindInternal         ErrorKind = "Internal"
)

// One sentinel error per ErrorKind so callers can errors.Is(err, blueprint.ErrTransient)
// instead of string-matching the error message.
var (
	ErrValidation       = errors.New("validation error")
	ErrRegistry         = errors.New("registry error")
	ErrInputUnresolved  = errors.New("input unresolved")
	ErrOutputSchema     = errors.New("output schema error")
	ErrTransient        = errors.New("transient error")
	ErrRateLimited      = errors.New("rate limited")
	ErrTimeout          = errors.New("timeout")
	ErrCanceled         = errors.New("canceled")
	ErrBudgetExceeded   = errors.New("budget exceeded")
	ErrSandboxViolation = errors.New("sandbox violation")
	ErrResourceExceeded = errors.New("resource exceeded")
	ErrCircularDep      = errors.New("circular dependency")
	ErrAirgapViolation  = errors.New("airgap violation")
	ErrInternal         = errors.New("internal error")
)

// sentinelByKind maps an ErrorKind to its sentinel, used by Retryable
// predicates and by executors classifying an error for the event stream.
var sentinelByKind = map[ErrorKind]error{
	ErrKindValidation:       ErrValidation,
	ErrKindRegistry:         ErrRegistry,
	ErrKindInputUnresolved:  ErrInputUnresolved,
	ErrKindOutputSchema:     ErrOutputSchema,
	ErrKindTransient:        ErrTransient,
	ErrKindRateLimited:      ErrRateLimited,
	ErrKindTimeout:          ErrTimeout,
	ErrKindCanceled:         ErrCanceled,
	ErrKindBudgetExceeded:   ErrBudgetExceeded,
	ErrKindSandboxViolation: ErrSandboxViolation,
	ErrKindResourceExceeded: ErrResourceExceeded,
	ErrKindCircularDep:      ErrCircularDep,
	ErrKindAirgapViolation:  ErrAirgapViolation,
	ErrKindInternal:         ErrInternal,
}

// SentinelFor returns the sentinel error associated with kind, or ErrInternal
// if kind is unrecognized.
func SentinelFor(kind ErrorKind) error {
	if err, ok := sentinelByKind[kind]; ok {
		return err
	}
	return ErrInternal
}

// Retryable reports whether kind is one of the three retryable error
// kinds; everything else promotes straight to failure.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrKindTransient, ErrKindRateLimited, ErrKindTimeout:
		return true
	default:
		return false
	}
}

// ValidationKind is the narrower sub-taxonomy for blueprint structural
// failures, distinct from the runtime ErrorKind taxonomy: a DuplicateID is
// always a finalization-time blueprint defect, never a per-node runtime
// outcome.
type ValidationKind string

const (
	ValDuplicateID     ValidationKind = "DuplicateId"
	ValUnknownRef      ValidationKind = "UnknownRef"
	ValCycle           ValidationKind = "Cycle"
	ValSchemaInvalid   ValidationKind = "SchemaInvalid"
	ValAirgapViolation ValidationKind = "AirgapViolation"
	ValBadMapping      ValidationKind = "BadMapping"
)

// ValidationError is returned by Validate when a blueprint fails a
// structural check.
type ValidationError struct {
	Kind   ValidationKind
	NodeID string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.NodeID != "" {
		return string(e.Kind) + " (" + e.NodeID + "): " + e.Detail
	}
	return string(e.Kind) + ": " + e.Detail
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// RunError wraps a node-level failure with its ErrorKind and the node it
// came from.
type RunError struct {
	Kind    ErrorKind
	NodeID  string
	Message string
	Cause   error
}

func (e *RunError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

func (e *RunError) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return SentinelFor(e.Kind)
}

// NewRunError builds a RunError, defaulting Message to the sentinel text
// when cause is non-nil and no explicit message is given.
func NewRunError(kind ErrorKind, nodeID string, cause error) *RunError {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	} else {
		msg = string(kind)
	}
	return &RunError{Kind: kind, NodeID: nodeID, Message: msg, Cause: cause}
}

package sharding

import "fmt"

// Kind classifies a ShardError per the taxonomy the engine surfaces to
// callers. Retry/breaker decisions consult Kind, never a type hierarchy.
type Kind int

const (
	// KindUnknown is never constructed by this package; its presence
	// would indicate an unclassified error slipped through.
	KindUnknown Kind = iota
	KindParameterNotFound
	KindNoMappingAttributesFound
	KindMockTypeMismatch
	KindCircuitOpen
	KindRetryable
	KindFatalForCommand
	KindFatalAndFailure
	KindUnknownShard
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindParameterNotFound:
		return "ParameterNotFound"
	case KindNoMappingAttributesFound:
		return "NoMappingAttributesFound"
	case KindMockTypeMismatch:
		return "MockTypeMismatch"
	case KindCircuitOpen:
		return "CircuitOpen"
	case KindRetryable:
		return "Retryable"
	case KindFatalForCommand:
		return "FatalForCommand"
	case KindFatalAndFailure:
		return "FatalAndFailure"
	case KindUnknownShard:
		return "UnknownShard"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// ShardError is the single error type the engine ever returns. Every
// non-mock execution path either succeeds or returns a *ShardError whose
// Kind is one of the enumerated values — see spec.md §8 invariant 1.
type ShardError struct {
	Kind    Kind
	Message string
	Shard   string // empty when the error is not shard-scoped
	Step    int    // -1 when the error is not batch-scoped
	Err     error
}

func (e *ShardError) Error() string {
	prefix := e.Kind.String()
	if e.Shard != "" {
		prefix = fmt.Sprintf("%s[shard=%s]", prefix, e.Shard)
	}
	if e.Step >= 0 {
		prefix = fmt.Sprintf("%s[step=%d]", prefix, e.Step)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *ShardError) Unwrap() error {
	return e.Err
}

func newError(kind Kind, message string) *ShardError {
	return &ShardError{Kind: kind, Message: message, Step: -1}
}

func wrapError(kind Kind, message string, err error) *ShardError {
	return &ShardError{Kind: kind, Message: message, Step: -1, Err: err}
}

func (e *ShardError) withShard(shard string) *ShardError {
	e.Shard = shard
	return e
}

func (e *ShardError) withStep(step int) *ShardError {
	e.Step = step
	return e
}

// ErrParameterNotFound reports a Query-declared parameter name absent
// from the supplied ParameterSet.
func ErrParameterNotFound(name string) *ShardError {
	return newError(KindParameterNotFound, fmt.Sprintf("declared parameter %q not supplied", name))
}

// ErrNoMappingAttributesFound reports that a built-in handler could not
// find binding metadata on its target Model.
func ErrNoMappingAttributesFound(model string) *ShardError {
	return newError(KindNoMappingAttributesFound, fmt.Sprintf("no mapping attributes found on %s", model))
}

// ErrMockTypeMismatch reports a mock result whose runtime type does not
// satisfy the call's declared return type.
func ErrMockTypeMismatch(queryName string) *ShardError {
	return newError(KindMockTypeMismatch, fmt.Sprintf("mock result for query %q does not match the declared return type", queryName))
}

// ErrCircuitOpen reports a breaker that has not yet reached its test
// interval.
func ErrCircuitOpen(endpoint string) *ShardError {
	return newError(KindCircuitOpen, fmt.Sprintf("circuit open for endpoint %q", endpoint))
}

// ErrUnknownShard reports a ShardParameterValues entry referencing a
// shard absent from the shard set.
func ErrUnknownShard(shard string) *ShardError {
	return newError(KindUnknownShard, fmt.Sprintf("shard %q is not a member of this shard set", shard)).withShard(shard)
}

// ErrCancelled reports caller-initiated cancellation.
func ErrCancelled(err error) *ShardError {
	return wrapError(KindCancelled, "operation cancelled", err)
}

// IsRetryable reports whether err is a *ShardError of kind Retryable.
func IsRetryable(err error) bool {
	return kindOf(err) == KindRetryable
}

// IsCircuitOpen reports whether err is a *ShardError of kind CircuitOpen.
func IsCircuitOpen(err error) bool {
	return kindOf(err) == KindCircuitOpen
}

func kindOf(err error) Kind {
	se, ok := err.(*ShardError)
	if !ok {
		return KindUnknown
	}
	return se.Kind
}

// KindOf returns the Kind of err if it is a *ShardError, or KindUnknown
// otherwise. pkg/observability uses this to label dispatch metrics, and
// external test packages use it to assert on kinds, without a type
// assertion of their own.
func KindOf(err error) Kind {
	return kindOf(err)
}

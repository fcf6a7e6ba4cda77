// Package client turns the gateway's raw event stream into safe, synchronous
// operations: quote lookup, historical series retrieval, portfolio snapshots
// and order submission. All correlation, deduplication, timeout and cleanup
// logic lives in the Multiplexer; the other components are thin clients of it.
package client

import (
	"fmt"
	"time"
)

// GatewayError is a fatal gateway notice correlated to a single request. It
// rejects only that request; sibling requests are unaffected.
type GatewayError struct {
	ReqID   int64
	Code    int
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error %d: %v", e.Code, e.Message)
}

// TimeoutError reports that no completion event arrived within the kind's
// bound. Order tracking never returns it; see Tracker.Submit.
type TimeoutError struct {
	Kind  Kind
	Key   string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%v %q timed out after %v", e.Kind, e.Key, e.After)
}

// ValidationError is raised before any network call; failing validation has
// zero side effects.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// AmbiguousOrderError reports a failure after an order may already have
// reached the gateway. Placing an order has financial consequences, so the
// caller decides whether to retry; the tracker never does.
type AmbiguousOrderError struct {
	OrderID int64
	Err     error
}

func (e *AmbiguousOrderError) Error() string {
	return fmt.Sprintf("order %d: outcome unknown after send: %v", e.OrderID, e.Err)
}

func (e *AmbiguousOrderError) Unwrap() error { return e.Err }

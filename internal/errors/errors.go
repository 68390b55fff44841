// Package errors provides error types and handling for gateway node access.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorType categorizes errors for handling decisions.
type ErrorType int

const (
	// Unknown is an uncategorized error.
	Unknown ErrorType = iota
	// Network represents network-related errors (DNS, connection).
	Network
	// Timeout represents an attempt aborted by its deadline.
	Timeout
	// HTTPStatus represents a non-success HTTP status.
	HTTPStatus
	// Parse represents decoding errors (JSON, YAML).
	Parse
	// Cancelled represents context cancellation.
	Cancelled
	// Validation represents a missing or malformed required input.
	Validation
	// Discovery represents a failed statistics service listing.
	Discovery
	// NoUsableNodes represents a discovery that yielded no usable node.
	NoUsableNodes
	// Dispatch represents a logical request that failed on every candidate.
	Dispatch
)

// String returns the string representation of ErrorType.
func (t ErrorType) String() string {
	switch t {
	case Network:
		return "network"
	case Timeout:
		return "timeout"
	case HTTPStatus:
		return "http_status"
	case Parse:
		return "parse"
	case Cancelled:
		return "cancelled"
	case Validation:
		return "validation"
	case Discovery:
		return "discovery"
	case NoUsableNodes:
		return "no_usable_nodes"
	case Dispatch:
		return "dispatch"
	default:
		return "unknown"
	}
}

// IsRetryable returns whether errors of this type are worth another attempt.
func (t ErrorType) IsRetryable() bool {
	switch t {
	case Network, Timeout:
		return true
	default:
		return false
	}
}

// NodeError represents a categorized failure talking to a node or service.
type NodeError struct {
	Type       ErrorType
	URL        string
	Operation  string
	Message    string
	Cause      error
	StatusCode int
	Retryable  bool
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Type.String())
	b.WriteString(" error")
	if e.Operation != "" {
		b.WriteString(" during ")
		b.WriteString(e.Operation)
	}
	if e.URL != "" {
		b.WriteString(" on ")
		b.WriteString(e.URL)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *NodeError) Unwrap() error {
	return e.Cause
}

// Is matches any *NodeError of the same type.
func (e *NodeError) Is(target error) bool {
	t, ok := target.(*NodeError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// NewNodeError creates a new NodeError.
func NewNodeError(errType ErrorType, url, operation, message string, cause error) *NodeError {
	return &NodeError{
		Type:      errType,
		URL:       url,
		Operation: operation,
		Message:   message,
		Cause:     cause,
		Retryable: errType.IsRetryable(),
	}
}

// NewNetworkError creates a network error.
func NewNetworkError(url, operation string, cause error) *NodeError {
	return NewNodeError(Network, url, operation, "network failure", cause)
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(url, operation string, cause error) *NodeError {
	return NewNodeError(Timeout, url, operation, "request timed out", cause)
}

// NewStatusError creates an error for a non-success HTTP status. The
// message is the status text followed by a body excerpt.
func NewStatusError(url string, statusCode int, status, excerpt string) *NodeError {
	msg := fmt.Sprintf("request failed (%s)", status)
	if excerpt != "" {
		msg += ": " + excerpt
	}
	err := NewNodeError(HTTPStatus, url, "request", msg, nil)
	err.StatusCode = statusCode
	err.Retryable = statusCode == 429 || statusCode >= 500
	return err
}

// NewParseError creates a parse error.
func NewParseError(url, operation string, cause error) *NodeError {
	return NewNodeError(Parse, url, operation, "parsing failed", cause)
}

// NewCancelledError creates a cancelled error.
func NewCancelledError(url, operation string) *NodeError {
	return NewNodeError(Cancelled, url, operation, "operation cancelled", nil)
}

// NewValidationError creates an error for a missing required input.
func NewValidationError(operation, message string) *NodeError {
	return NewNodeError(Validation, "", operation, message, nil)
}

// NewDiscoveryError creates an error for a failed node listing.
func NewDiscoveryError(url string, cause error) *NodeError {
	err := NewNodeError(Discovery, url, "discover_nodes", "node listing failed", cause)
	err.StatusCode = GetStatusCode(cause)
	return err
}

// NewNoUsableNodesError creates an error for an empty discovery result.
func NewNoUsableNodesError(url string) *NodeError {
	return NewNodeError(NoUsableNodes, url, "discover_nodes", "no usable gateway nodes returned", nil)
}

// Categorize determines the error type of a transport error.
func Categorize(err error, url string) *NodeError {
	if err == nil {
		return nil
	}

	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		return nodeErr
	}

	// Deadline is checked first: an expired per-attempt timeout is a timeout,
	// not a cancellation.
	if isTimeout(err) {
		return NewTimeoutError(url, "request", err)
	}

	if errors.Is(err, context.Canceled) {
		return NewCancelledError(url, "request")
	}

	if isNetworkError(err) {
		return NewNetworkError(url, "request", err)
	}

	return NewNodeError(Unknown, url, "request", err.Error(), err)
}

// isTimeout checks if an error is a timeout.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}

// isNetworkError checks if an error is network-related.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "dial tcp")
}

// IsRetryable checks if an error should be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		return nodeErr.Retryable
	}

	return isTimeout(err) || isNetworkError(err)
}

// GetErrorType extracts the error type from an error.
func GetErrorType(err error) ErrorType {
	var dispatchErr *DispatchError
	if errors.As(err, &dispatchErr) {
		return Dispatch
	}
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		return nodeErr.Type
	}
	return Unknown
}

// AsNodeError returns the first *NodeError in err's chain.
func AsNodeError(err error) (*NodeError, bool) {
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		return nodeErr, true
	}
	return nil, false
}

// GetStatusCode extracts the HTTP status code from an error.
func GetStatusCode(err error) int {
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		return nodeErr.StatusCode
	}
	return 0
}

// IsTimeout checks if an error is a timed out attempt.
func IsTimeout(err error) bool {
	return GetErrorType(err) == Timeout
}

// IsValidationError checks if an error is a missing-input failure.
func IsValidationError(err error) bool {
	return GetErrorType(err) == Validation
}

// IsDiscoveryError checks if an error is a failed node listing.
func IsDiscoveryError(err error) bool {
	return GetErrorType(err) == Discovery
}

// IsNoUsableNodes checks if an error is an empty discovery result.
func IsNoUsableNodes(err error) bool {
	return GetErrorType(err) == NoUsableNodes
}

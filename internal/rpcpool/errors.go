package rpcpool

import (
	"errors"
	"fmt"
)

var (
	// ErrAllRateLimited is raised only when every candidate endpoint failed
	// with a rate-limit shaped error. Callers match on the message.
	ErrAllRateLimited = errors.New("All RPCs rate limited")

	// ErrNoEndpoints means the candidate list was empty after filtering.
	ErrNoEndpoints = errors.New("no RPC endpoints configured")
)

// Error wraps a failure from one endpoint with its URL and method.
type Error struct {
	Err      error
	Endpoint string
	Method   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("RPC error [%s] at %s: %v", e.Method, e.Endpoint, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

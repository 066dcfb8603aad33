package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstream classifies reasoning-service failures: network errors,
	// timeouts, non-2xx responses, and calls rejected by an open circuit.
	// These are always recoverable.
	ErrUpstream = errors.New("reasoning service unavailable")

	// ErrParse classifies responses that cannot be decoded into a memory
	// decision.
	ErrParse = errors.New("unparseable reasoning service response")
)

// upstreamError tags err as an upstream failure while keeping the original
// chain (context deadline, circuit open) inspectable with errors.Is.
func upstreamError(provider string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUpstream, provider, err)
}

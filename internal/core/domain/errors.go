package domain

import (
	"fmt"
)

// FailureType classifies why an ingestion cycle produced no block.
type FailureType string

const (
	FailureTypeRPC       FailureType = "rpc"
	FailureTypeThrottled FailureType = "throttled"
	FailureTypeParsing   FailureType = "parsing"
	FailureTypeAbsent    FailureType = "absent"
)

// ProviderError is a transport or RPC failure while fetching a block.
type ProviderError struct {
	Provider string
	Method   string
	Type     FailureType
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("%s: %v", e.Method, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Method, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError wraps err as an RPC failure of method on provider.
func NewProviderError(provider, method string, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Method:   method,
		Type:     FailureTypeRPC,
		Err:      err,
	}
}

package domain

import "fmt"

// ErrorKind is the spec's twelve-plus-category error taxonomy. The class
// determines retry eligibility in the resilience engine and the metric
// bucket a failure is filed under.
type ErrorKind string

const (
	ErrNetwork           ErrorKind = "Network"
	ErrTimeout           ErrorKind = "Timeout"
	ErrRateLimited       ErrorKind = "RateLimited"
	ErrAuthInvalid       ErrorKind = "AuthInvalid"
	ErrPermanentClient   ErrorKind = "PermanentClient"
	ErrTransient         ErrorKind = "Transient"
	ErrSchema            ErrorKind = "Schema"
	ErrSymbolUnknown     ErrorKind = "SymbolUnknown"
	ErrConfigMissing     ErrorKind = "ConfigMissing"
	ErrCircuitOpen       ErrorKind = "CircuitOpen"
	ErrNoProvider        ErrorKind = "NoProvider"
	ErrAllProvidersFailed ErrorKind = "AllProvidersFailed"
	ErrConsensus         ErrorKind = "Consensus"
	ErrSaturated         ErrorKind = "Saturated"
	ErrCancelled         ErrorKind = "Cancelled"
	ErrInternal          ErrorKind = "Internal"
	ErrValidation        ErrorKind = "Validation"
	ErrBudgetExceeded    ErrorKind = "BudgetExceeded"
)

// retryable mirrors spec.md §4.2: Transient, Network, Timeout, RateLimited
// are retried; everything else propagates immediately.
var retryable = map[ErrorKind]bool{
	ErrTransient:   true,
	ErrNetwork:     true,
	ErrTimeout:     true,
	ErrRateLimited: true,
}

// Retryable reports whether the resilience engine should attempt another
// try for this class of failure.
func (k ErrorKind) Retryable() bool {
	return retryable[k]
}

// AggregatorError is the single error type every component returns; it
// carries enough context to build the wire error envelope (spec.md §6)
// without the orchestrator needing to know which layer produced it.
type AggregatorError struct {
	Kind         ErrorKind
	Provider     string
	Message      string
	RetryAfterMS int64
	Cause        error
}

func (e *AggregatorError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: provider %s: %s", e.Kind, e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AggregatorError) Unwrap() error {
	return e.Cause
}

// NewError builds an AggregatorError, the common constructor path used by
// adapters, the resilience engine, and the orchestrator alike.
func NewError(kind ErrorKind, provider, message string, cause error) *AggregatorError {
	return &AggregatorError{Kind: kind, Provider: provider, Message: message, Cause: cause}
}

// KindOf extracts the ErrorKind from any error produced by this module,
// defaulting to Internal for foreign errors so callers never branch on nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ae *AggregatorError
	if as(err, &ae) {
		return ae.Kind
	}
	return ErrInternal
}

// as is a tiny errors.As shim kept local to avoid importing "errors" just
// for this one call site everywhere KindOf is used.
func as(err error, target **AggregatorError) bool {
	for err != nil {
		if ae, ok := err.(*AggregatorError); ok {
			*target = ae
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

package unifiedllm

import (
	"errors"
	"fmt"
)

// SDKError is the base error type for all unified LLM errors.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// ProviderError is a non-2xx response from a vendor API. Body holds the
// response body verbatim.
type ProviderError struct {
	SDKError
	Provider   string
	StatusCode int
	Body       string
	Retryable  bool
	RetryAfter *float64
}

func (e *ProviderError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("[%s] %s (status=%d): %s", e.Provider, e.Message, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

func (e *ProviderError) providerError() *ProviderError { return e }

// providerFailure is satisfied by ProviderError and every type embedding it.
type providerFailure interface {
	error
	providerError() *ProviderError
}

// Concrete provider error types.

type AuthenticationError struct{ ProviderError }
type AccessDeniedError struct{ ProviderError }
type NotFoundError struct{ ProviderError }
type InvalidRequestError struct{ ProviderError }
type RateLimitError struct{ ProviderError }
type ServerError struct{ ProviderError }
type ContentFilterError struct{ ProviderError }
type ContextLengthError struct{ ProviderError }

// RequestTimeoutError is a 408 from the vendor or a client-side timeout.
// StatusCode is zero for the latter.
type RequestTimeoutError struct{ ProviderError }

func (e *RequestTimeoutError) Error() string {
	if e.StatusCode == 0 {
		return e.SDKError.Error()
	}
	return e.ProviderError.Error()
}

// Non-provider errors.

type AbortError struct{ SDKError }
type NetworkError struct{ SDKError }
type ConfigurationError struct{ SDKError }

// ProtocolError reports a vendor stream that violated its own protocol: an
// in-band error frame or a payload that could not be decoded in strict mode.
type ProtocolError struct {
	SDKError
	Provider string
	Event    string
}

// ParseError reports malformed frame or tool-argument JSON. Outside strict
// mode these are recovered locally and only logged.
type ParseError struct {
	SDKError
	Data string
}

// ErrorFromStatusCode maps an HTTP status code and raw body to the
// appropriate error type.
func ErrorFromStatusCode(statusCode int, body, provider string, retryAfter *float64) error {
	pe := ProviderError{
		SDKError:   SDKError{Message: fmt.Sprintf("HTTP %d", statusCode)},
		Provider:   provider,
		StatusCode: statusCode,
		Body:       body,
		RetryAfter: retryAfter,
	}

	switch statusCode {
	case 400, 422:
		pe.Retryable = false
		return &InvalidRequestError{ProviderError: pe}
	case 401:
		pe.Retryable = false
		return &AuthenticationError{ProviderError: pe}
	case 403:
		pe.Retryable = false
		return &AccessDeniedError{ProviderError: pe}
	case 404:
		pe.Retryable = false
		return &NotFoundError{ProviderError: pe}
	case 408:
		pe.Retryable = true
		return &RequestTimeoutError{ProviderError: pe}
	case 413:
		pe.Retryable = false
		return &ContextLengthError{ProviderError: pe}
	case 429:
		pe.Retryable = true
		return &RateLimitError{ProviderError: pe}
	case 500, 502, 503, 504, 529:
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	default:
		// Unknown errors default to retryable.
		pe.Retryable = true
		return &pe
	}
}

// StatusOf returns the HTTP status and body carried by a provider error
// anywhere in err's chain.
func StatusOf(err error) (int, string, bool) {
	var pf providerFailure
	if !errors.As(err, &pf) {
		return 0, "", false
	}
	pe := pf.providerError()
	if pe.StatusCode == 0 {
		return 0, "", false
	}
	return pe.StatusCode, pe.Body, true
}

// IsRetryable returns true if the error is safe to retry. Wrapped errors are
// classified by the first known type in their chain.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch e := e.(type) {
		case *ProviderError:
			return e.Retryable
		case *AuthenticationError, *AccessDeniedError, *NotFoundError, *InvalidRequestError,
			*ContextLengthError, *ContentFilterError, *ConfigurationError, *AbortError,
			*ParseError, *ProtocolError, *committedError:
			return false
		case *RateLimitError, *ServerError, *NetworkError, *RequestTimeoutError:
			return true
		}
	}
	// Unknown errors default to retryable.
	return true
}

package core

import (
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"
)

// MaxDetailBytes bounds the upstream detail carried in an Error.
const MaxDetailBytes = 512

// Kind classifies failures of the TTS cache.
type Kind int

// Error kinds.
const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindQuotaExceeded
	KindUpstreamFailure
	KindStoreUnavailable
	KindConfigurationError
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindInvalidInput:       "invalid_input",
	KindQuotaExceeded:      "quota_exceeded",
	KindUpstreamFailure:    "upstream_failure",
	KindStoreUnavailable:   "store_unavailable",
	KindConfigurationError: "configuration_error",
}

func (k Kind) String() string {
	name, ok := kindNames[k]
	if !ok {
		return kindNames[KindUnknown]
	}

	return name
}

// HTTPStatus maps the kind onto the status served by the HTTP surface.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindUpstreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure. Details holds truncated diagnostics that are safe to
// return to callers.
type Error struct {
	Kind    Kind
	Message string
	Details string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error without details.
func NewError(kind Kind, message string, err error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Details: "",
		Err:     err,
	}
}

// WithDetails attaches truncated diagnostics and returns the same error.
func (e *Error) WithDetails(details string) *Error {
	e.Details = TruncateDetails(details)

	return e
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var coreErr *Error
	if errors.As(err, &coreErr) {
		return coreErr.Kind
	}

	return KindUnknown
}

// TruncateDetails cuts s to at most MaxDetailBytes without splitting a rune.
func TruncateDetails(s string) string {
	if len(s) <= MaxDetailBytes {
		return s
	}

	cut := MaxDetailBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}

	return s[:cut]
}

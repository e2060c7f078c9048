// Package apperr defines the error taxonomy shared by the engines, the store and the
// handlers. Engines return *Error values; only the session facade and the HTTP layer turn
// them into user-facing text or status codes.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies how a caller recovers from an error.
type Kind int

const (
	// KindValidation is malformed input, rejected before any write.
	KindValidation Kind = iota + 1
	// KindPrecondition is a state-machine precondition violated by a race or a stale view.
	KindPrecondition
	// KindTransport is a store or channel failure.
	KindTransport
	// KindNotFound is a referenced record that no longer resolves.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPrecondition:
		return "precondition"
	case KindTransport:
		return "transport"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Precondition codes.
const (
	CodeOfferNotRespondable       = "OfferNotRespondable"
	CodeOfferExpired              = "OfferExpired"
	CodeAppointmentNotRespondable = "AppointmentNotRespondable"
	CodeMissingSuggestion         = "MissingSuggestion"
	CodeSuggestionSuperseded      = "SuggestionSuperseded"
	CodeCalendarUnavailable       = "CalendarUnavailable"
	CodeNotParticipant            = "NotParticipant"
)

// Error is the typed error returned across package boundaries.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind and code so sentinels like ErrOfferNotRespondable work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrOfferNotRespondable       = &Error{Kind: KindPrecondition, Code: CodeOfferNotRespondable}
	ErrOfferExpired              = &Error{Kind: KindPrecondition, Code: CodeOfferExpired}
	ErrAppointmentNotRespondable = &Error{Kind: KindPrecondition, Code: CodeAppointmentNotRespondable}
	ErrMissingSuggestion         = &Error{Kind: KindPrecondition, Code: CodeMissingSuggestion}
	ErrSuggestionSuperseded      = &Error{Kind: KindPrecondition, Code: CodeSuggestionSuperseded}
	ErrCalendarUnavailable       = &Error{Kind: KindPrecondition, Code: CodeCalendarUnavailable}
	ErrNotParticipant            = &Error{Kind: KindPrecondition, Code: CodeNotParticipant}
)

// Validation builds a KindValidation error.
func Validation(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Precondition builds a KindPrecondition error.
func Precondition(code, format string, args ...any) *Error {
	return &Error{Kind: KindPrecondition, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a KindNotFound error for the named entity.
func NotFound(entity string) *Error {
	return &Error{Kind: KindNotFound, Code: entity + "NotFound", Message: entity + " not found"}
}

// Transport wraps a store or channel failure.
func Transport(message string, err error) *Error {
	return &Error{Kind: KindTransport, Code: "TransportError", Message: message, Err: err}
}

// KindOf reports the kind of err, or 0 for errors outside the taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// CodeOf reports the code of err, or "" for errors outside the taxonomy.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsKind reports whether err belongs to kind k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

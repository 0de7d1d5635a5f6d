// Package failure defines the error taxonomy shared by the collection pipeline
// and the CLI boundary.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind names a class of fatal failure.
type Kind string

const (
	InvalidState              Kind = "InvalidState"
	UnsupportedYear           Kind = "UnsupportedYear"
	MissingCredential         Kind = "MissingCredential"
	APIRequestError           Kind = "ApiRequestError"
	GeometrySourceUnavailable Kind = "GeometrySourceUnavailable"
	FetchTimeout              Kind = "FetchTimeout"
	EmptyJoinResult           Kind = "EmptyJoinResult"
	UnknownAttribute          Kind = "UnknownAttribute"
	NoRenderableData          Kind = "NoRenderableData"
)

// Category groups kinds by when they happen and whether a retry could help.
type Category int

const (
	CategoryUnknown Category = iota
	// CategorySetup failures happen before any network call.
	CategorySetup
	// CategoryNetwork failures are raised after the retry policy gave up.
	CategoryNetwork
	// CategoryData failures mean the inputs cannot produce a result.
	CategoryData
)

func (c Category) String() string {
	switch c {
	case CategorySetup:
		return "setup"
	case CategoryNetwork:
		return "network"
	case CategoryData:
		return "data"
	default:
		return "unknown"
	}
}

// Category returns the category a kind belongs to.
func (k Kind) Category() Category {
	switch k {
	case InvalidState, UnsupportedYear, MissingCredential:
		return CategorySetup
	case APIRequestError, GeometrySourceUnavailable, FetchTimeout:
		return CategoryNetwork
	case EmptyJoinResult, UnknownAttribute, NoRenderableData:
		return CategoryData
	default:
		return CategoryUnknown
	}
}

// Exit codes returned by the CLI per category. 1 is reserved for generic
// failures and empty lookups.
const (
	ExitOK      = 0
	ExitGeneric = 1
	ExitSetup   = 2
	ExitNetwork = 3
	ExitData    = 4
)

// Error is a classified failure carrying the (state, year) it happened for.
type Error struct {
	Kind       Kind
	Msg        string
	State      string
	Year       int
	StatusCode int    // HTTP status for ApiRequestError, 0 otherwise
	Body       string // truncated response body for ApiRequestError
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.State != "" || e.Year != 0 {
		b.WriteString(" (")
		var parts []string
		if e.State != "" {
			parts = append(parts, "state "+e.State)
		}
		if e.Year != 0 {
			parts = append(parts, fmt.Sprintf("year %d", e.Year))
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString(")")
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " [status %d]", e.StatusCode)
	}
	if e.Body != "" {
		b.WriteString(" body: ")
		b.WriteString(e.Body)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. Returns nil when err is nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// HTTP creates an ApiRequestError for a non-retryable HTTP response.
func HTTP(status int, body, format string, args ...any) *Error {
	return &Error{
		Kind:       APIRequestError,
		Msg:        fmt.Sprintf(format, args...),
		StatusCode: status,
		Body:       truncate(body, 512),
	}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// Is reports whether err's chain contains a failure of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// WithContext fills in the (state, year) context on the first *Error in err's
// chain when it is not already set. Unclassified errors are returned as is.
func WithContext(err error, state string, year int) error {
	var fe *Error
	if !errors.As(err, &fe) {
		return err
	}
	if fe.State == "" {
		fe.State = state
	}
	if fe.Year == 0 {
		fe.Year = year
	}
	return err
}

// ExitCode maps an error to the CLI exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	k, ok := KindOf(err)
	if !ok {
		return ExitGeneric
	}
	switch k.Category() {
	case CategorySetup:
		return ExitSetup
	case CategoryNetwork:
		return ExitNetwork
	case CategoryData:
		return ExitData
	default:
		return ExitGeneric
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

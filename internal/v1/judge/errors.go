// Package judge runs user submissions against a Judge0-compatible code
// execution service and decides, per test case, whether the output matches.
package judge

import (
	"errors"
	"fmt"
)

// Kind classifies judge failures. Transport and Timeout abort a verification
// run; the rest either reject the submission up front or mark a single case.
type Kind int

const (
	// KindUnsupportedLanguage rejects a language outside the supported set.
	KindUnsupportedLanguage Kind = iota
	// KindBadSubmission rejects code the harness cannot wrap.
	KindBadSubmission
	// KindTransport covers connection failures and non-201 judge responses.
	KindTransport
	// KindTimeout covers judge calls that exceeded the configured deadline.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindUnsupportedLanguage:
		return "unsupported_language"
	case KindBadSubmission:
		return "bad_submission"
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	}
	return "unknown"
}

// Error is a judge failure with its classification.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("judge %s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("judge %s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a judge error of the given kind.
func IsKind(err error, kind Kind) bool {
	var je *Error
	return errors.As(err, &je) && je.Kind == kind
}

// Package classifier holds the URL verdict contract consumed by the engine and
// its implementations: the remote /check-url service, a static blocklist and a
// chain of both.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Verdict is the classifier's judgment for one normalized URL.
type Verdict struct {
	Malicious  bool     `json:"is_malicious"`
	Label      string   `json:"label,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Rule       string   `json:"rule,omitempty"`
}

// Classifier maps a normalized URL to a verdict. Implementations must honour
// ctx cancellation; the engine treats any error as a failed lookup.
type Classifier interface {
	Classify(ctx context.Context, url string) (Verdict, error)
}

// Func adapts a plain function to Classifier.
type Func func(ctx context.Context, url string) (Verdict, error)

func (f Func) Classify(ctx context.Context, url string) (Verdict, error) {
	return f(ctx, url)
}

const (
	CodeTransport = "TRANSPORT"
	CodeStatus    = "BAD_STATUS"
	CodeMalformed = "MALFORMED"
	CodeTimeout   = "TIMEOUT"
	CodeConfig    = "CONFIG"
)

// Error is a classification failure with a stable code.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &Error{Code: code, Message: msg, Cause: cause}
}

// Reason returns a short lower-case failure reason for events and logs.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) {
		return strings.ToLower(coded.Code)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "error"
}

// Chain asks each classifier in order and returns the first malicious verdict.
// When nothing matched and any member failed, the failure is returned so the
// engine's failure policy applies.
type Chain []Classifier

func (c Chain) Classify(ctx context.Context, url string) (Verdict, error) {
	if len(c) == 0 {
		return Verdict{}, newError(CodeConfig, "empty classifier chain", nil)
	}
	var (
		last    Verdict
		lastErr error
	)
	for _, cl := range c {
		v, err := cl.Classify(ctx, url)
		if err != nil {
			lastErr = err
			continue
		}
		if v.Malicious {
			return v, nil
		}
		last = v
	}
	if lastErr != nil {
		return Verdict{}, lastErr
	}
	return last, nil
}

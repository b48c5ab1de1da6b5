// Package txerror attaches a structured kind to errors raised by wallets and
// backends so that retry decisions never depend on message text.
package txerror

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure for retry and remediation decisions
type Kind string

const (
	KindUnknown               Kind = "unknown"
	KindInput                 Kind = "input"
	KindLiquidity             Kind = "liquidity"
	KindQuote                 Kind = "quote"
	KindPrivacy               Kind = "privacy"
	KindInvalidSignature      Kind = "invalid_signature"
	KindInsufficientAllowance Kind = "insufficient_allowance"
	KindEntrypointNotFound    Kind = "entrypoint_not_found"
	KindUserRejected          Kind = "user_rejected"
	KindTimeout               Kind = "timeout"
)

// Error carries a kind alongside the underlying cause
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with an explicit kind
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Newf formats a new error of the given kind
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind attached anywhere in the chain
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// Is reports whether err carries kind
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

var patterns = []struct {
	kind    Kind
	needles []string
}{
	{KindUserRejected, []string{"user rejected", "user denied", "rejected by user", "user abort", "request rejected", "user cancelled", "user canceled"}},
	{KindInsufficientAllowance, []string{"insufficient allowance", "allowance exceeded", "erc20: insufficient allowance", "u256_sub overflow"}},
	{KindEntrypointNotFound, []string{"entrypoint not found", "entry point not found", "entry_point_not_found", "entrypoint_not_found"}},
	{KindInvalidSignature, []string{"invalid signature", "invalid-signature", "signature expired", "invalid transaction nonce", "signature is invalid"}},
}

// Classify tags a raw boundary error by matching its message.
// Errors that already carry a kind are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		for _, needle := range p.needles {
			if strings.Contains(msg, needle) {
				return &Error{Kind: p.kind, Err: err}
			}
		}
	}
	return err
}

// Retryable reports whether the submitter may retry once automatically
func Retryable(kind Kind) bool {
	switch kind {
	case KindInvalidSignature, KindInsufficientAllowance, KindEntrypointNotFound:
		return true
	default:
		return false
	}
}

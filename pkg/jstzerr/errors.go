// Package jstzerr is the typed error taxonomy for the execution core. It
// plays the same role the teacher's common/errors.go plays for the HTTP
// API: a small set of structured error types plus a sentinel table, so
// that any error produced deep in the call stack carries enough
// information to build a Receipt failure body (operation.Receipt) without
// the executor having to re-derive it by string matching.
package jstzerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories spec.md §7 requires every
// operation receipt (or the envelope-parse failure, which emits none) to
// surface as.
type Kind string

const (
	KindMalformed            Kind = "Malformed"
	KindBadSignature         Kind = "BadSignature"
	KindBadNonce             Kind = "BadNonce"
	KindUnrevealedWithoutKey Kind = "UnrevealedWithoutKey"
	KindInsufficientFunds    Kind = "InsufficientFunds"
	KindNegativeAmount       Kind = "NegativeAmount"
	KindInvalidAddress       Kind = "InvalidAddress"
	KindUnknownFunction      Kind = "UnknownFunction"
	KindAlreadyDeployed      Kind = "AlreadyDeployed"
	KindStorageCodec         Kind = "StorageCodec"
	KindStorageConflict      Kind = "StorageConflict"
	KindGasExhausted         Kind = "GasExhausted"
	KindJsException          Kind = "JsException"
)

// Error is the typed error that flows through the executor pipeline. Its
// Kind maps directly onto a Receipt failure kind; Message is the
// human-readable text; Err, when set, is the underlying cause (wrapped
// for errors.Is/As).
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}

	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
	}

	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around an existing error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err if it is (or wraps) a *jstzerr.Error,
// defaulting to KindJsException for any other uncaught error — spec.md
// §7's catch-all "any uncaught JS error".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindJsException
}

// Retriable reports whether the error represents the defensive
// StorageConflict path (§4.2): under the single-threaded execution model
// of §5 it should never actually occur, but callers that retry operations
// on OCC failure need a way to recognize it.
func Retriable(err error) bool {
	return KindOf(err) == KindStorageConflict
}

var (
	// ErrInsufficientFunds, etc. are sentinels for errors.Is comparisons
	// where callers don't need the full typed Error (e.g. inside Ledger
	// method bodies before they get wrapped for the JS boundary).
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNegativeAmount    = errors.New("amount must be positive")
	ErrInvalidAddress    = errors.New("invalid address")
	ErrUnknownFunction   = errors.New("unknown function")
	ErrAlreadyDeployed   = errors.New("address already deployed")
	ErrBadNonce          = errors.New("bad nonce")
	ErrBadSignature      = errors.New("bad signature")
	ErrUnrevealed        = errors.New("account not revealed: public key required")
	ErrMalformed         = errors.New("malformed operation")
	ErrStorageCodec      = errors.New("storage codec mismatch")
	ErrStorageConflict   = errors.New("storage conflict")
	ErrGasExhausted      = errors.New("gas exhausted")
)

// fromSentinel maps the package sentinels to their Kind, used by
// Classify below.
var fromSentinel = map[error]Kind{
	ErrInsufficientFunds: KindInsufficientFunds,
	ErrNegativeAmount:    KindNegativeAmount,
	ErrInvalidAddress:    KindInvalidAddress,
	ErrUnknownFunction:   KindUnknownFunction,
	ErrAlreadyDeployed:   KindAlreadyDeployed,
	ErrBadNonce:          KindBadNonce,
	ErrBadSignature:      KindBadSignature,
	ErrUnrevealed:        KindUnrevealedWithoutKey,
	ErrMalformed:         KindMalformed,
	ErrStorageCodec:      KindStorageCodec,
	ErrStorageConflict:   KindStorageConflict,
	ErrGasExhausted:      KindGasExhausted,
}

// Classify turns any error into a typed *Error, preserving an existing
// Kind if err already carries one, mapping known sentinels to their Kind,
// and falling back to KindJsException for everything else (the uncaught
// JS exception catch-all of spec.md §7).
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	for sentinel, kind := range fromSentinel {
		if errors.Is(err, sentinel) {
			return &Error{Kind: kind, Message: err.Error(), Err: err}
		}
	}

	return &Error{Kind: KindJsException, Message: err.Error(), Err: err}
}

package model

import "errors"

// Kind is a stable category for programmatic error handling.
//
// These categories are intended to remain stable across versions. Callers
// should branch on Kind/RuleID rather than matching error strings.
//
// NOTE: Error() strings are intentionally kept human-readable and may evolve.
// Use errors.As to extract *Error for structured handling.
type Kind string

const (
	// KindConfiguration: missing key material, passphrase, endpoint or
	// contract address. Caller must fix setup; never retried automatically.
	KindConfiguration Kind = "Configuration"
	// KindIntegrity: hash mismatch or decryption failure. Indicates
	// tampering or corruption and is never silently ignored.
	KindIntegrity Kind = "Integrity"
	// KindNotFound: unknown glyph id.
	KindNotFound Kind = "NotFound"
	// KindChain: transaction failure, timeout or revert. May be retried by
	// the caller after re-checking IsAnchored.
	KindChain     Kind = "Chain"
	KindCrypto    Kind = "Crypto"
	KindLedger    Kind = "Ledger"
	KindCanonical Kind = "Canonical"
	KindInternal  Kind = "Internal"
)

// Error is the vault's structured error type.
//
// RuleID is a stable identifier (e.g. GV-VAULT-201, GV-CHAIN-102) that names
// the violated invariant or failed precondition.
//
// Message is intended for humans; do not match on it.
type Error struct {
	Kind    Kind
	RuleID  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func NewError(kind Kind, ruleID, msg string) error {
	return &Error{Kind: kind, RuleID: ruleID, Message: msg}
}

func WrapError(kind Kind, ruleID, msg string, cause error) error {
	if cause == nil {
		return NewError(kind, ruleID, msg)
	}
	return &Error{Kind: kind, RuleID: ruleID, Message: msg, Cause: cause}
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// RuleID returns the stable RuleID for a structured error, or "" if unknown.
func RuleID(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.RuleID
}

// IsNotFound reports whether err carries KindNotFound. A failed retrieval
// reports NotFound distinctly from Integrity: the former means "never
// existed", the latter "existed but is compromised or the key is wrong".
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

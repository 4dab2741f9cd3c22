package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind identifies a class of contractmap error. The kind decides how callers
// react: parse-level kinds degrade per item, store-level kinds surface or
// retry once.
type Kind string

const (
	// KindMalformedContract marks a structurally invalid contract document.
	// Surfaced to the caller with the offending document path; never retried.
	KindMalformedContract Kind = "malformed_contract"

	// KindUnparsableSource marks a source file that cannot be syntactically
	// analyzed. The scan skips the file with a warning and continues.
	KindUnparsableSource Kind = "unparsable_source"

	// KindUnresolvedReference marks a reference that points outside any known
	// document. Resolution substitutes an unknown-typed node instead of
	// aborting.
	KindUnresolvedReference Kind = "unresolved_reference"

	// KindVersionConflict marks a concurrent append detected by the store.
	// Retried once internally; surfaced only when the retry also conflicts.
	KindVersionConflict Kind = "version_conflict"

	// KindUnknownRepository marks an operation referencing an unregistered
	// repository. Always surfaced, never retried.
	KindUnknownRepository Kind = "unknown_repository"
)

// Error is a contractmap error with a kind and an optional location.
type Error struct {
	Kind       Kind
	Path       string // document pointer, file path, or repo name
	Message    string
	underlying error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg = fmt.Sprintf("%s (at %s)", msg, e.Path)
	}
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", msg, e.underlying)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.underlying
}

// New creates an Error with the given kind and message.
func New(kind Kind, path, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Path:    path,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap attaches a kind and message to an existing error.
func Wrap(err error, kind Kind, path, format string, args ...interface{}) *Error {
	return &Error{
		Kind:       kind,
		Path:       path,
		Message:    fmt.Sprintf(format, args...),
		underlying: err,
	}
}

// MalformedContract reports a structurally invalid contract document.
func MalformedContract(path, format string, args ...interface{}) *Error {
	return New(KindMalformedContract, path, format, args...)
}

// UnparsableSource reports a source file that failed syntactic analysis.
func UnparsableSource(path, format string, args ...interface{}) *Error {
	return New(KindUnparsableSource, path, format, args...)
}

// UnresolvedReference reports a reference with no known target.
func UnresolvedReference(path, format string, args ...interface{}) *Error {
	return New(KindUnresolvedReference, path, format, args...)
}

// VersionConflict reports a concurrent append on a repository history.
func VersionConflict(repo, format string, args ...interface{}) *Error {
	return New(KindVersionConflict, repo, format, args...)
}

// UnknownRepository reports an operation against an unregistered repository.
func UnknownRepository(repo string) *Error {
	return New(KindUnknownRepository, repo, "repository %q is not registered", repo)
}

// IsKind reports whether err is (or wraps) an Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var ce *Error
	if stderrors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// AsError extracts the Error from err, if any.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if stderrors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

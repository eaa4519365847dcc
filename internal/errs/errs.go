// Package errs provides the error taxonomy used across the DBLink pipeline:
// typed, wrapped errors that carry enough context for the run log to render
// ERROR/CRITICAL records without re-deriving what failed.
package errs

import (
	"errors"
	"strings"
)

// Op names the operation that failed, e.g. "dblink.Finalize".
type Op string

// Kind categorizes an error for the run-log taxonomy (spec.md §7).
type Kind uint8

const (
	KindUnknown Kind = iota
	KindResourceMissing // CRITICAL: abort the step
	KindShard           // ERROR: skip the shard, continue the step
	KindValidation      // DEBUG: closed-set category, never aborts
	KindNetwork         // transient sink/DB error, retried then ERROR
	KindConfig
	KindParse
)

func (k Kind) String() string {
	switch k {
	case KindResourceMissing:
		return "resource_missing"
	case KindShard:
		return "shard"
	case KindValidation:
		return "validation"
	case KindNetwork:
		return "network"
	case KindConfig:
		return "config"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

// Error is the pipeline's structured error type.
type Error struct {
	Op       Op
	Kind     Kind
	Category string // debug_category for KindValidation errors
	Err      error
	Msg      string
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(string(e.Op))
		b.WriteString(": ")
	}
	if e.Msg != "" {
		b.WriteString(e.Msg)
		if e.Err != nil {
			b.WriteString(": ")
		}
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an *Error from a mix of Op, Kind, category string, error, and
// message string arguments, mirroring the teacher's variadic constructor.
func E(args ...interface{}) *Error {
	e := &Error{}
	for _, a := range args {
		switch v := a.(type) {
		case Op:
			e.Op = v
		case Kind:
			e.Kind = v
		case error:
			e.Err = v
		case string:
			if e.Category == "" && e.Msg == "" {
				// First bare string after Kind/Op is treated as message;
				// callers that need both pass Category via WithCategory.
				e.Msg = v
			} else {
				e.Msg = v
			}
		}
	}
	return e
}

// WithCategory attaches a debug category (for KindValidation errors).
func (e *Error) WithCategory(cat string) *Error {
	e.Category = cat
	return e
}

// Wrap wraps err with an operation name, returning nil if err is nil.
func Wrap(op Op, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// IsKind reports whether err (possibly wrapped) is of the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// GetKind returns the Kind of err, or KindUnknown if err isn't an *Error.
func GetKind(err error) Kind {
	e, ok := err.(*Error)
	if !ok {
		return KindUnknown
	}
	return e.Kind
}

// Debug-category constants, the closed set referenced by spec.md §4.1 and
// the ID-classifier invariants.
const (
	CategoryInvalidBioSample  = "INVALID_BIOSAMPLE_ID"
	CategoryInvalidBioProject = "INVALID_BIOPROJECT_ID"
	CategoryInvalidAccession  = "INVALID_ACCESSION_ID"
	CategoryPrivateUmbrella   = "PRIVATE_UMBRELLA_PARENT"
	CategoryNormalizeFailed   = "NORMALIZE_FAILED"
	CategoryBlacklistSkip     = "BLACKLIST_SKIP"
	CategoryStaleRecord       = "STALE_RECORD"
	CategoryMergeCollision    = "MERGE_COLLISION"
	CategorySkippedPreserved  = "SKIPPED_PRESERVED_EDGE"
)

package crudcore

import (
	"regexp"

	"github.com/relaycrud/engine/internal/errs"
)

// Database drivers report not-found/duplicate-key conditions as plain
// errors rather than importing errs (which would make a leaf storage
// package depend on the CRUD-level error taxonomy); the core maps them
// back to canonical errs types by matching their message against the
// error-kind regexes spec.md §7 names.
var (
	notFoundPattern  = regexp.MustCompile(`(?i)the query did not find a document and returned null for ([^/]+)/(.+)$`)
	duplicateKeyPattern = regexp.MustCompile("(?i)duplicate primary key `([^`]*)`")
)

// mapDatabaseError classifies a raw driver error into the canonical
// taxonomy. Anything that doesn't match a known pattern becomes a
// DatabaseError wrapping the original.
func mapDatabaseError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()

	if m := notFoundPattern.FindStringSubmatch(msg); m != nil {
		return &errs.DocumentNotFoundError{Type: m[1], ID: m[2]}
	}
	if m := duplicateKeyPattern.FindStringSubmatch(msg); m != nil {
		return &errs.DuplicatePrimaryKeyError{PrimaryKey: m[1]}
	}
	return &errs.DatabaseError{Err: err}
}

package validate

import (
	"sort"

	"github.com/relaycrud/engine/internal/errs"
)

// ModelValidator validates and sanitizes a record against a fixed set of
// field constraints, as returned by BuildModelValidator.
type ModelValidator func(record map[string]any, allowPartial, throwImmediate bool) (map[string]any, error)

// ModelValidatorOptions configures BuildModelValidator.
type ModelValidatorOptions struct {
	// MaxErrorCount bounds how many field errors accumulate into a single
	// aggregated CRUDValidationError before validation stops early. Zero
	// means the default of 100.
	MaxErrorCount int
}

// BuildModelValidator compiles fieldConstraints once into a reusable
// validator function for modelName. The returned function never mutates its
// input; it returns a sanitized copy.
func BuildModelValidator(modelName string, fieldConstraints map[string]Constraint, opts ModelValidatorOptions) ModelValidator {
	maxErrors := opts.MaxErrorCount
	if maxErrors <= 0 {
		maxErrors = 100
	}

	return func(record map[string]any, allowPartial, throwImmediate bool) (map[string]any, error) {
		var fieldErrors []errs.FieldError
		sanitized := make(map[string]any, len(record))

		addError := func(field, message string) error {
			fe := errs.FieldError{Model: modelName, Field: field, Message: message}
			if throwImmediate {
				return &errs.CRUDValidationError{Model: modelName, Field: field, FieldErrors: []errs.FieldError{fe}}
			}
			fieldErrors = append(fieldErrors, fe)
			return nil
		}

		stop := func() bool { return !throwImmediate && len(fieldErrors) >= maxErrors }

		if allowPartial {
			names := make([]string, 0, len(record))
			for name := range record {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, field := range names {
				if stop() {
					break
				}
				constraint, ok := fieldConstraints[field]
				if !ok {
					if err := addError(field, "unknown field"); err != nil {
						return nil, err
					}
					continue
				}
				value, err := constraint.Apply(record[field], true)
				if err != nil {
					if aerr := addError(field, err.Error()); aerr != nil {
						return nil, aerr
					}
					continue
				}
				sanitized[field] = value
			}
		} else {
			names := make([]string, 0, len(fieldConstraints))
			for name := range fieldConstraints {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, field := range names {
				if stop() {
					break
				}
				value, present := record[field]
				sanitizedValue, err := fieldConstraints[field].Apply(value, present)
				if err != nil {
					if aerr := addError(field, err.Error()); aerr != nil {
						return nil, aerr
					}
					continue
				}
				if present || sanitizedValue != nil {
					sanitized[field] = sanitizedValue
				}
			}

			unknownNames := make([]string, 0)
			for field := range record {
				if _, ok := fieldConstraints[field]; !ok {
					unknownNames = append(unknownNames, field)
				}
			}
			sort.Strings(unknownNames)
			for _, field := range unknownNames {
				if stop() {
					break
				}
				if err := addError(field, "unknown field"); err != nil {
					return nil, err
				}
			}
		}

		if len(fieldErrors) > 0 {
			return nil, &errs.CRUDValidationError{Model: modelName, FieldErrors: fieldErrors}
		}
		return sanitized, nil
	}
}

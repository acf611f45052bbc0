// Package validate implements the field-constraint algebra and the query/
// record validators built on top of it. Constraints are immutable value
// objects: every fluent builder call returns a new instance rather than
// mutating its receiver, so a constraint stored on a schema can be safely
// shared and further refined by callers without aliasing surprises.
package validate

import (
	"fmt"
	"regexp"
	"strings"
)

// Constraint is satisfied by every primitive type's constraint builder.
type Constraint interface {
	// Apply validates and sanitizes value. present is false when the field
	// was absent from the record entirely (as opposed to explicitly null).
	Apply(value any, present bool) (any, error)
	Kind() string
}

// Validator threads a value through one named check, returning the
// (possibly sanitized) value or a descriptive error.
type Validator func(value any) (any, error)

func fail(format string, args ...any) (any, error) {
	return nil, fmt.Errorf(format, args...)
}

// MultiConstraint is implemented by constraints that can be marked Multi().
// The schema layer type-asserts a field's constraint against this to decide
// whether a view's routing field is a genuine comma-separated set, rather
// than inferring it from a value's runtime shape.
type MultiConstraint interface {
	IsMulti() bool
}

// base is shared by every constraint kind; it is never used directly.
type base struct {
	required   bool
	allowNull  bool
	multi      bool
	validators []Validator
}

func (b base) clone() base {
	return base{
		required:   b.required,
		allowNull:  b.allowNull,
		multi:      b.multi,
		validators: append([]Validator{}, b.validators...),
	}
}

func (b base) withValidator(v Validator) base {
	c := b.clone()
	c.validators = append(c.validators, v)
	return c
}

// apply implements the shared required/allowNull/undefined gate described
// in the validator component's design, then threads value through every
// registered validator in order.
func (b base) apply(value any, present bool) (any, error) {
	// present disambiguates an explicit null from a field simply absent from
	// the record: both look like value==nil here, but allowNull is only
	// meant to excuse the former. A required field that is merely absent
	// must still fall through to the required/present check below.
	if present && b.allowNull && value == nil {
		return nil, nil
	}
	if !b.required && !present {
		return nil, nil
	}
	if !present {
		return fail("is required")
	}
	current := value
	for _, v := range b.validators {
		sanitized, err := v(current)
		if err != nil {
			return nil, err
		}
		current = sanitized
	}
	return current, nil
}

// StringConstraint validates and sanitizes string fields.
type StringConstraint struct{ base }

// String starts a new, unconstrained string constraint.
func String() StringConstraint {
	return StringConstraint{}
}

func (c StringConstraint) Required() StringConstraint {
	b := c.base.clone()
	b.required = true
	return StringConstraint{b}
}

func (c StringConstraint) AllowNull() StringConstraint {
	b := c.base.clone()
	b.allowNull = true
	return StringConstraint{b}
}

func (c StringConstraint) with(v Validator) StringConstraint {
	return StringConstraint{c.base.withValidator(v)}
}

func (c StringConstraint) Apply(value any, present bool) (any, error) {
	return c.base.apply(value, present)
}

func (c StringConstraint) Kind() string { return "string" }

func asString(value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("expected a string, got %T", value)
	}
	return s, nil
}

func (c StringConstraint) Min(n int) StringConstraint {
	return c.with(func(value any) (any, error) {
		s, err := asString(value)
		if err != nil {
			return fail("%w", err)
		}
		if len(s) < n {
			return fail("must be at least %d characters long", n)
		}
		return s, nil
	})
}

func (c StringConstraint) Max(n int) StringConstraint {
	return c.with(func(value any) (any, error) {
		s, err := asString(value)
		if err != nil {
			return fail("%w", err)
		}
		if len(s) > n {
			return fail("must be at most %d characters long", n)
		}
		return s, nil
	})
}

func (c StringConstraint) Length(n int) StringConstraint {
	return c.with(func(value any) (any, error) {
		s, err := asString(value)
		if err != nil {
			return fail("%w", err)
		}
		if len(s) != n {
			return fail("must be exactly %d characters long", n)
		}
		return s, nil
	})
}

var alphanumPattern = regexp.MustCompile(`^[a-zA-Z0-9]*$`)

func (c StringConstraint) Alphanum() StringConstraint {
	return c.with(func(value any) (any, error) {
		s, err := asString(value)
		if err != nil {
			return fail("%w", err)
		}
		if !alphanumPattern.MatchString(s) {
			return fail("must only contain alphanumeric characters")
		}
		return s, nil
	})
}

func (c StringConstraint) Regex(pattern string, flags ...string) StringConstraint {
	expr := pattern
	for _, f := range flags {
		if strings.Contains(f, "i") {
			expr = "(?i)" + expr
		}
	}
	re := regexp.MustCompile(expr)
	return c.with(func(value any) (any, error) {
		s, err := asString(value)
		if err != nil {
			return fail("%w", err)
		}
		if !re.MatchString(s) {
			return fail("does not match required pattern")
		}
		return s, nil
	})
}

// emailPattern is the fixed regex the validation component uses to accept a
// pragmatic, not fully RFC 5322-compliant, email address.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

func (c StringConstraint) Email() StringConstraint {
	return c.with(func(value any) (any, error) {
		s, err := asString(value)
		if err != nil {
			return fail("%w", err)
		}
		if !emailPattern.MatchString(s) {
			return fail("must be a valid email address")
		}
		return s, nil
	})
}

func (c StringConstraint) Lowercase() StringConstraint {
	return c.with(func(value any) (any, error) {
		s, err := asString(value)
		if err != nil {
			return fail("%w", err)
		}
		return strings.ToLower(s), nil
	})
}

func (c StringConstraint) Uppercase() StringConstraint {
	return c.with(func(value any) (any, error) {
		s, err := asString(value)
		if err != nil {
			return fail("%w", err)
		}
		return strings.ToUpper(s), nil
	})
}

func (c StringConstraint) Enum(values ...string) StringConstraint {
	return c.with(func(value any) (any, error) {
		s, err := asString(value)
		if err != nil {
			return fail("%w", err)
		}
		for _, v := range values {
			if s == v {
				return s, nil
			}
		}
		return fail("must be one of %v", values)
	})
}

// uuidPatterns holds the fixed regex for each UUID version the validator
// supports; version 0 (unspecified) accepts any RFC 4122 layout.
var uuidPatterns = map[int]*regexp.Regexp{
	0: regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`),
	1: regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-1[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`),
	4: regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`),
}

func (c StringConstraint) UUID(version ...int) StringConstraint {
	v := 0
	if len(version) > 0 {
		v = version[0]
	}
	re, ok := uuidPatterns[v]
	if !ok {
		re = uuidPatterns[0]
	}
	return c.with(func(value any) (any, error) {
		s, err := asString(value)
		if err != nil {
			return fail("%w", err)
		}
		if !re.MatchString(s) {
			return fail("must be a valid UUID")
		}
		return s, nil
	})
}

// Multi marks the field as a comma-separated set for view-routing purposes.
// It performs no validation of its own; schema.New reads IsMulti() off this
// constraint to populate ViewDef.MultiFields for the publication
// dispatcher.
func (c StringConstraint) Multi() StringConstraint {
	b := c.base.clone()
	b.multi = true
	return StringConstraint{b}
}

// IsMulti reports whether Multi was called on this constraint.
func (c StringConstraint) IsMulti() bool { return c.base.multi }

// Blob accepts any string without further checks; it exists to distinguish
// an intentionally-unconstrained string (binary/opaque payload) from a
// constraint nobody finished writing.
func (c StringConstraint) Blob() StringConstraint {
	return c.with(func(value any) (any, error) {
		s, err := asString(value)
		if err != nil {
			return fail("%w", err)
		}
		return s, nil
	})
}

// NumberConstraint validates and sanitizes numeric fields.
type NumberConstraint struct{ base }

func Number() NumberConstraint { return NumberConstraint{} }

func (c NumberConstraint) Required() NumberConstraint {
	b := c.base.clone()
	b.required = true
	return NumberConstraint{b}
}

func (c NumberConstraint) AllowNull() NumberConstraint {
	b := c.base.clone()
	b.allowNull = true
	return NumberConstraint{b}
}

func (c NumberConstraint) with(v Validator) NumberConstraint {
	return NumberConstraint{c.base.withValidator(v)}
}

func (c NumberConstraint) Apply(value any, present bool) (any, error) {
	return c.base.apply(value, present)
}

func (c NumberConstraint) Kind() string { return "number" }

func asFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", value)
	}
}

func (c NumberConstraint) Min(n float64) NumberConstraint {
	return c.with(func(value any) (any, error) {
		f, err := asFloat(value)
		if err != nil {
			return fail("%w", err)
		}
		if f < n {
			return fail("must be at least %v", n)
		}
		return f, nil
	})
}

func (c NumberConstraint) Max(n float64) NumberConstraint {
	return c.with(func(value any) (any, error) {
		f, err := asFloat(value)
		if err != nil {
			return fail("%w", err)
		}
		if f > n {
			return fail("must be at most %v", n)
		}
		return f, nil
	})
}

func (c NumberConstraint) Integer() NumberConstraint {
	return c.with(func(value any) (any, error) {
		f, err := asFloat(value)
		if err != nil {
			return fail("%w", err)
		}
		if f != float64(int64(f)) {
			return fail("must be an integer")
		}
		return f, nil
	})
}

// BooleanConstraint validates boolean fields; it performs a type check only.
type BooleanConstraint struct{ base }

func Boolean() BooleanConstraint { return BooleanConstraint{} }

func (c BooleanConstraint) Required() BooleanConstraint {
	b := c.base.clone()
	b.required = true
	return BooleanConstraint{b}
}

func (c BooleanConstraint) AllowNull() BooleanConstraint {
	b := c.base.clone()
	b.allowNull = true
	return BooleanConstraint{b}
}

func (c BooleanConstraint) Apply(value any, present bool) (any, error) {
	sanitized, err := c.base.apply(value, present)
	if err != nil || sanitized == nil {
		return sanitized, err
	}
	if _, ok := sanitized.(bool); !ok {
		return fail("expected a boolean, got %T", sanitized)
	}
	return sanitized, nil
}

func (c BooleanConstraint) Kind() string { return "boolean" }

// AnyConstraint accepts any value, subject only to the shared
// required/allowNull gate.
type AnyConstraint struct{ base }

func Any() AnyConstraint { return AnyConstraint{} }

func (c AnyConstraint) Required() AnyConstraint {
	b := c.base.clone()
	b.required = true
	return AnyConstraint{b}
}

func (c AnyConstraint) AllowNull() AnyConstraint {
	b := c.base.clone()
	b.allowNull = true
	return AnyConstraint{b}
}

func (c AnyConstraint) Apply(value any, present bool) (any, error) {
	return c.base.apply(value, present)
}

func (c AnyConstraint) Kind() string { return "any" }

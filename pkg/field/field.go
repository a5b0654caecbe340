// Package field defines the primitive column types a workspace table can
// declare: id, text, integer, boolean, date, select, tags, json, and
// rich-text. Each factory returns an opaque Descriptor used both for
// validation (pkg/schema) and for materializer code generation
// (pkg/materialize/sqlitemat, pkg/materialize/markdownmat).
package field

import (
	"fmt"

	"github.com/epicenterlabs/epicenter/pkg/epierr"
	"github.com/google/uuid"
)

// Kind is the logical type tag of a field.
type Kind string

const (
	KindID        Kind = "id"
	KindText      Kind = "text"
	KindInteger   Kind = "integer"
	KindBoolean   Kind = "boolean"
	KindDate      Kind = "date"
	KindSelect    Kind = "select"
	KindTags      Kind = "tags"
	KindJSON      Kind = "json"
	KindRichText  Kind = "rich-text"
)

// Descriptor is the result of a field factory: kind tag, nullability,
// default, validator, and kind-specific metadata. Nothing downstream
// hand-declares a struct per table; the CLI, HTTP layer, and both
// materializers all derive their behavior from Descriptors at runtime.
type Descriptor struct {
	Kind     Kind
	Nullable bool

	// Default, if non-nil, supplies a value (or a generator for IDs) used
	// when a field is omitted on insert.
	Default func() any

	// Validate checks a non-nil value against kind-specific constraints.
	// Nullability is checked by the caller (pkg/schema) before Validate is
	// invoked, so Validate never sees a nil value.
	Validate func(value any) error

	// Kind-specific metadata, populated by the matching factory.
	SelectOptions   []string
	TagOptions      []string
	TagsPermissive  bool
	JSONValidator   func(value any) error
	IntegerMin      *int64
	IntegerMax      *int64
}

// ID declares the primary-key field. Exactly one per table; required.
func ID() Descriptor {
	return Descriptor{
		Kind:     KindID,
		Nullable: false,
		Default:  func() any { return uuid.New().String() },
		Validate: func(value any) error {
			s, ok := value.(string)
			if !ok || s == "" {
				return epierr.New(epierr.CodeBadID, "id must be a non-empty string", nil)
			}
			return nil
		},
	}
}

// Text declares a plain string field of unlimited length.
func Text(opts ...Option) Descriptor {
	d := Descriptor{Kind: KindText, Validate: func(value any) error {
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		return nil
	}}
	return applyOptions(d, opts)
}

// Integer declares a 64-bit signed integer field, optionally range-bound.
func Integer(opts ...Option) Descriptor {
	d := Descriptor{Kind: KindInteger}
	d.Validate = func(value any) error {
		n, ok := toInt64(value)
		if !ok {
			return fmt.Errorf("expected integer, got %T", value)
		}
		if d.IntegerMin != nil && n < *d.IntegerMin {
			return fmt.Errorf("value %d below minimum %d", n, *d.IntegerMin)
		}
		if d.IntegerMax != nil && n > *d.IntegerMax {
			return fmt.Errorf("value %d above maximum %d", n, *d.IntegerMax)
		}
		return nil
	}
	d = applyOptions(d, opts)
	return d
}

// Boolean declares a boolean field.
func Boolean(opts ...Option) Descriptor {
	d := Descriptor{Kind: KindBoolean, Validate: func(value any) error {
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected bool, got %T", value)
		}
		return nil
	}}
	return applyOptions(d, opts)
}

// Date declares a date-with-timezone field; see ParseDate in date.go for the
// canonical string form and parser.
func Date(opts ...Option) Descriptor {
	d := Descriptor{Kind: KindDate, Validate: func(value any) error {
		s, ok := value.(string)
		if !ok {
			return epierr.New(epierr.CodeBadDateFormat, fmt.Sprintf("expected date string, got %T", value), nil)
		}
		if _, err := ParseDate(s); err != nil {
			return epierr.New(epierr.CodeBadDateFormat, err.Error(), map[string]any{"value": s})
		}
		return nil
	}}
	return applyOptions(d, opts)
}

// Select declares an enumerated single-value string field.
func Select(options []string, opts ...Option) Descriptor {
	d := Descriptor{Kind: KindSelect, SelectOptions: options}
	d.Validate = func(value any) error {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		if len(d.SelectOptions) > 0 && !contains(d.SelectOptions, s) {
			return epierr.New(epierr.CodeNotInOptions, fmt.Sprintf("%q is not a valid option", s), map[string]any{"options": d.SelectOptions})
		}
		return nil
	}
	return applyOptions(d, opts)
}

// Tags declares an ordered list of strings, optionally constrained to a
// finite option set. Validate only checks membership: in permissive mode it
// accepts entries outside the option set instead of erroring. Validate does
// not change the value; collapsing duplicates and dropping offending
// entries is done by NormalizeTags.
func Tags(options []string, permissive bool, opts ...Option) Descriptor {
	d := Descriptor{Kind: KindTags, TagOptions: options, TagsPermissive: permissive}
	d.Validate = func(value any) error {
		tags, ok := toStringSlice(value)
		if !ok {
			return fmt.Errorf("expected []string, got %T", value)
		}
		if len(d.TagOptions) == 0 {
			return nil
		}
		for _, tg := range tags {
			if !contains(d.TagOptions, tg) && !d.TagsPermissive {
				return epierr.New(epierr.CodeNotInOptions, fmt.Sprintf("tag %q is not a valid option", tg), map[string]any{"options": d.TagOptions})
			}
		}
		return nil
	}
	return applyOptions(d, opts)
}

// NormalizeTags de-duplicates a tag list, preserving first-occurrence order,
// and (in permissive mode) drops entries outside the option set.
func (d Descriptor) NormalizeTags(value []string) []string {
	seen := make(map[string]bool, len(value))
	out := make([]string, 0, len(value))
	for _, tg := range value {
		if seen[tg] {
			continue
		}
		if len(d.TagOptions) > 0 && d.TagsPermissive && !contains(d.TagOptions, tg) {
			continue
		}
		seen[tg] = true
		out = append(out, tg)
	}
	return out
}

// JSON declares a structurally validated JSON document field. validate
// receives the decoded value (map[string]any, []any, or a scalar) and
// returns the author's own schema error verbatim.
func JSON(validate func(value any) error, opts ...Option) Descriptor {
	d := Descriptor{Kind: KindJSON, JSONValidator: validate}
	d.Validate = func(value any) error {
		if d.JSONValidator != nil {
			return d.JSONValidator(value)
		}
		return nil
	}
	return applyOptions(d, opts)
}

// RichText declares a collaborative rich-text handle. It lives inside the
// CRDT as a nested collaborative string and is serialized to plain text for
// non-CRDT materializers (lossy).
func RichText(opts ...Option) Descriptor {
	d := Descriptor{Kind: KindRichText, Validate: func(value any) error {
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		return nil
	}}
	return applyOptions(d, opts)
}

// Option customizes a field factory's output.
type Option func(*Descriptor)

// Nullable marks the field as nullable.
func Nullable() Option {
	return func(d *Descriptor) { d.Nullable = true }
}

// WithDefault attaches a static or generated default value.
func WithDefault(gen func() any) Option {
	return func(d *Descriptor) { d.Default = gen }
}

// IntRange bounds an Integer field.
func IntRange(min, max int64) Option {
	return func(d *Descriptor) { d.IntegerMin = &min; d.IntegerMax = &max }
}

func applyOptions(d Descriptor, opts []Option) Descriptor {
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

func contains(options []string, v string) bool {
	for _, o := range options {
		if o == v {
			return true
		}
	}
	return false
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case float64:
		return int64(v), v == float64(int64(v))
	default:
		return 0, false
	}
}

func toStringSlice(value any) ([]string, bool) {
	switch v := value.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

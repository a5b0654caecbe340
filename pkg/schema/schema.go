// Package schema turns a declared field-schema-map into the three
// validators every table needs: a full-row validator, a partial validator
// for updates, and a frontmatter validator for markdown serialization. Per
// the design note, the validator is the source of truth for what a row is;
// nothing downstream hand-declares a struct per table.
package schema

import (
	"fmt"
	"sort"

	"github.com/epicenterlabs/epicenter/pkg/epierr"
	"github.com/epicenterlabs/epicenter/pkg/field"
)

// FieldMap maps a field name to its descriptor. One per table.
type FieldMap map[string]field.Descriptor

// TableSchema describes one declared table: its fields, and (optionally)
// which field is the markdown body.
type TableSchema struct {
	Name      string
	Fields    FieldMap
	BodyField string // empty if the table has no markdown body field
}

// IDField returns the name of the table's id field, which is assumed unique
// by construction (callers build FieldMap with exactly one field.KindID).
func (t TableSchema) IDField() string {
	for name, d := range t.Fields {
		if d.Kind == field.KindID {
			return name
		}
	}
	return ""
}

// FieldNames returns field names in a stable, sorted order so that
// serialization (frontmatter, CLI flags) is deterministic.
func (t TableSchema) FieldNames() []string {
	names := make([]string, 0, len(t.Fields))
	for n := range t.Fields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// WorkspaceSchema maps table name -> TableSchema, plus optional kv entries.
type WorkspaceSchema struct {
	Tables map[string]TableSchema
	KV     FieldMap
}

// Validator validates a row (full or partial) against a TableSchema.
type Validator struct {
	table   TableSchema
	partial bool
}

// TableValidator builds a full-row validator: every non-nullable field must
// be present and pass its validator.
func (t TableSchema) TableValidator() Validator {
	return Validator{table: t, partial: false}
}

// PartialValidator builds the update-input validator: id must be present,
// all other fields are optional but must pass their validator if supplied.
func (t TableSchema) PartialValidator() Validator {
	return Validator{table: t, partial: true}
}

// FrontmatterValidator builds a validator over every field except the
// designated body field, for use against parsed YAML frontmatter.
func (t TableSchema) FrontmatterValidator() Validator {
	fm := make(FieldMap, len(t.Fields))
	for name, d := range t.Fields {
		if name == t.BodyField {
			continue
		}
		fm[name] = d
	}
	return Validator{table: TableSchema{Name: t.Name, Fields: fm}, partial: false}
}

// Validate checks row against the validator's rules, returning the first
// validation failure found as an *epierr.Error, or nil.
func (v Validator) Validate(row map[string]any) error {
	idName := v.table.IDField()

	if v.partial {
		if id, ok := row[idName]; !ok || id == "" {
			return epierr.New(epierr.CodeBadID, "update requires a non-empty id", map[string]any{"table": v.table.Name})
		}
	}

	for name, d := range v.table.Fields {
		value, present := row[name]

		if v.partial && name != idName && !present {
			continue // update: omitted fields are unchanged, not validated
		}

		if !present || value == nil {
			if d.Nullable {
				continue
			}
			return epierr.New(epierr.CodeMissingRequired,
				fmt.Sprintf("field %q is required", name),
				map[string]any{"table": v.table.Name, "field": name})
		}

		if d.Validate != nil {
			if err := d.Validate(value); err != nil {
				return epierr.Wrap(codeFor(err), fmt.Sprintf("field %q: %v", name, err), err,
					map[string]any{"table": v.table.Name, "field": name})
			}
		}
	}

	return nil
}

// codeFor preserves a field validator's own epierr.Code (e.g.
// bad-date-format, not-in-options) instead of flattening everything to
// validation-failed.
func codeFor(err error) epierr.Code {
	var e *epierr.Error
	if ok := asEpierr(err, &e); ok {
		return e.Code
	}
	return epierr.CodeValidationFailed
}

func asEpierr(err error, target **epierr.Error) bool {
	if e, ok := err.(*epierr.Error); ok {
		*target = e
		return true
	}
	return false
}

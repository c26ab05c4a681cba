package spola

import (
	"sort"
	"strings"
)

// FieldMask selects which top-level sections of a sample payload are wanted.
// It is forwarded opaquely to the backend to reduce payload size; the
// buffering layer itself never interprets it.
type FieldMask struct {
	fields map[string]struct{}
	all    bool
}

// AllFields returns a mask that includes every payload section.
// The zero FieldMask includes nothing.
func AllFields() FieldMask {
	return FieldMask{all: true}
}

// ParseFieldMask builds a mask from a comma-separated list of section names.
// Names are trimmed and lowercased; empty entries are dropped. An empty list
// yields a mask that includes all fields.
func ParseFieldMask(s string) FieldMask {
	fields := make(map[string]struct{})
	for _, f := range strings.Split(s, ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" {
			fields[f] = struct{}{}
		}
	}
	if len(fields) == 0 {
		return AllFields()
	}
	return FieldMask{fields: fields}
}

// NewFieldMask builds a mask from explicit section names.
func NewFieldMask(fields ...string) FieldMask {
	return ParseFieldMask(strings.Join(fields, ","))
}

// Includes reports whether the given section is selected.
func (m FieldMask) Includes(field string) bool {
	if m.all {
		return true
	}
	_, ok := m.fields[strings.ToLower(field)]
	return ok
}

// IsAll reports whether every section is selected.
func (m FieldMask) IsAll() bool {
	return m.all
}

// String renders the mask as a sorted comma-separated list, suitable for a
// query parameter. An all-inclusive mask renders as the empty string.
func (m FieldMask) String() string {
	if m.all || len(m.fields) == 0 {
		return ""
	}
	names := make([]string, 0, len(m.fields))
	for f := range m.fields {
		names = append(names, f)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

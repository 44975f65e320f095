package changefeed

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidFilter = errors.New("invalid filter")

// Filter is a single equality predicate written as column=eq.value.
type Filter struct {
	Column string
	Value  string
}

func ParseFilter(raw string) (*Filter, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	column, rest, ok := strings.Cut(raw, "=")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFilter, raw)
	}
	operator, value, ok := strings.Cut(rest, ".")
	if !ok || operator != "eq" {
		return nil, fmt.Errorf("%w: only eq is supported, got %q", ErrInvalidFilter, raw)
	}

	column = strings.TrimSpace(column)
	if column == "" {
		return nil, fmt.Errorf("%w: column is required", ErrInvalidFilter)
	}

	return &Filter{Column: column, Value: strings.TrimSpace(value)}, nil
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.Column + "=eq." + f.Value
}

func (f *Filter) MatchesRow(row Row) bool {
	if f == nil {
		return true
	}
	if row == nil {
		return false
	}
	value, ok := row[f.Column]
	if !ok || value == nil {
		return false
	}
	return fmt.Sprint(value) == f.Value
}

// Subscription selects events by schema, table, type and an optional filter.
type Subscription struct {
	Schema string
	Table  string
	Event  EventType
	Filter *Filter
}

func (s Subscription) Matches(event Event) bool {
	schema := s.Schema
	if schema == "" {
		schema = DefaultSchema
	}
	if event.Schema != schema || event.Table != s.Table {
		return false
	}
	if s.Event != EventAll && s.Event != "" && s.Event != event.Type {
		return false
	}

	switch event.Type {
	case EventInsert:
		return s.Filter.MatchesRow(event.New)
	case EventDelete:
		return s.Filter.MatchesRow(event.Old)
	default:
		return s.Filter.MatchesRow(event.Old) || s.Filter.MatchesRow(event.New)
	}
}

// Package realtime subscribes to the warehouse change feed and turns row
// events into debounced view refreshes.
package realtime

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"thread-erp-go/internal/changefeed"
)

type Row = changefeed.Row

type Meta struct {
	Schema          string
	Table           string
	CommitTimestamp time.Time
}

// Change is one of Insert, Update or Delete.
type Change interface {
	EventType() changefeed.EventType
	Metadata() Meta
	// Rows returns the snapshots the event carries; old is nil for inserts
	// and new is nil for deletes.
	Rows() (old, new Row)
}

type Insert struct {
	Meta
	New Row
}

type Update struct {
	Meta
	Old Row
	New Row
}

type Delete struct {
	Meta
	Old Row
}

func (Insert) EventType() changefeed.EventType { return changefeed.EventInsert }
func (Update) EventType() changefeed.EventType { return changefeed.EventUpdate }
func (Delete) EventType() changefeed.EventType { return changefeed.EventDelete }

func (c Insert) Metadata() Meta { return c.Meta }
func (c Update) Metadata() Meta { return c.Meta }
func (c Delete) Metadata() Meta { return c.Meta }

func (c Insert) Rows() (Row, Row) { return nil, c.New }
func (c Update) Rows() (Row, Row) { return c.Old, c.New }
func (c Delete) Rows() (Row, Row) { return c.Old, nil }

// DecodeChange converts a wire event into its typed variant.
func DecodeChange(event changefeed.Event) (Change, error) {
	meta := Meta{Schema: event.Schema, Table: event.Table, CommitTimestamp: event.CommitTimestamp}
	switch event.Type {
	case changefeed.EventInsert:
		return Insert{Meta: meta, New: event.New}, nil
	case changefeed.EventUpdate:
		return Update{Meta: meta, Old: event.Old, New: event.New}, nil
	case changefeed.EventDelete:
		return Delete{Meta: meta, Old: event.Old}, nil
	default:
		return nil, fmt.Errorf("unsupported event type %q", event.Type)
	}
}

// RowID reads the numeric id column of a row snapshot.
func RowID(row Row) (int64, bool) {
	return RowInt(row, "id")
}

// RowInt reads an integer column, accepting JSON numbers and numeric strings.
func RowInt(row Row, column string) (int64, bool) {
	if row == nil {
		return 0, false
	}
	switch value := row[column].(type) {
	case float64:
		return int64(value), true
	case int64:
		return value, true
	case int:
		return int64(value), true
	case json.Number:
		n, err := value.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(value, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// changedValue reads an integer column from the new row, falling back to the old one.
func changedValue(change Change, column string) (int64, bool) {
	before, after := change.Rows()
	if value, ok := RowInt(after, column); ok {
		return value, true
	}
	return RowInt(before, column)
}

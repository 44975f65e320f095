package changefeed

import (
	"encoding/json"
	"time"
)

const DefaultSchema = "public"

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	EventAll    EventType = "*"
)

func (t EventType) Valid() bool {
	switch t {
	case EventInsert, EventUpdate, EventDelete, EventAll:
		return true
	default:
		return false
	}
}

// Row is a JSON-shaped snapshot of a table row.
type Row map[string]any

// Event is a committed row change. Old is empty for INSERT, New is empty for DELETE.
type Event struct {
	Schema          string    `json:"schema"`
	Table           string    `json:"table"`
	Type            EventType `json:"eventType"`
	Old             Row       `json:"old,omitempty"`
	New             Row       `json:"new,omitempty"`
	CommitTimestamp time.Time `json:"commit_timestamp"`
}

type Publisher interface {
	Publish(event Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}

func Nop() Publisher {
	return nopPublisher{}
}

// Recorder collects events during a transaction so they are published only after commit.
type Recorder struct {
	events []Event
}

func (r *Recorder) Insert(table string, row any) {
	r.events = append(r.events, Event{Table: table, Type: EventInsert, New: RowOf(row)})
}

func (r *Recorder) Update(table string, old, new any) {
	r.events = append(r.events, Event{Table: table, Type: EventUpdate, Old: RowOf(old), New: RowOf(new)})
}

func (r *Recorder) Delete(table string, old any) {
	r.events = append(r.events, Event{Table: table, Type: EventDelete, Old: RowOf(old)})
}

func (r *Recorder) Reset() {
	r.events = r.events[:0]
}

func (r *Recorder) Flush(publisher Publisher, now time.Time) {
	if publisher == nil {
		r.Reset()
		return
	}
	for _, event := range r.events {
		event.Schema = DefaultSchema
		event.CommitTimestamp = now.UTC()
		publisher.Publish(event)
	}
	r.Reset()
}

func RowOf(value any) Row {
	if value == nil {
		return nil
	}
	if row, ok := value.(Row); ok {
		return row
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	var row Row
	if err := json.Unmarshal(encoded, &row); err != nil {
		return nil
	}
	return row
}

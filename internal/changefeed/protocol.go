package changefeed

type FrameType string

const (
	FrameSubscribe    FrameType = "subscribe"
	FrameUnsubscribe  FrameType = "unsubscribe"
	FrameSubscribed   FrameType = "subscribed"
	FrameUnsubscribed FrameType = "unsubscribed"
	FrameChange       FrameType = "change"
	FrameError        FrameType = "error"
)

// ClientFrame is sent by subscribers. ID is the subscriber's channel name.
type ClientFrame struct {
	Type   FrameType `json:"type"`
	ID     string    `json:"id"`
	Schema string    `json:"schema,omitempty"`
	Table  string    `json:"table,omitempty"`
	Event  EventType `json:"event,omitempty"`
	Filter string    `json:"filter,omitempty"`
}

type ServerFrame struct {
	Type    FrameType `json:"type"`
	ID      string    `json:"id"`
	Payload *Event    `json:"payload,omitempty"`
	Message string    `json:"message,omitempty"`
}

package realtime

import (
	"tonegate/internal/distributor"
)

// Inbound command types.
const (
	CommandSubscribe      = "subscribe"
	CommandUnsubscribe    = "unsubscribe"
	CommandPresenceUpdate = "presence_update"
	CommandTransform      = "transform"
	CommandAnalyze        = "analyze"
	CommandAutoTransform  = "auto_transform"
	CommandMessage        = "message"
	CommandPing           = "ping"
)

// Outbound message types.
const (
	MessageEvent        = "event"
	MessagePong         = "pong"
	MessageError        = "error"
	MessageSubscribed   = "subscribed"
	MessageUnsubscribed = "unsubscribed"
)

// Command is one inbound client message. Fields beyond Type are read per
// command; unknown fields are ignored.
type Command struct {
	Type string `json:"type"`

	// subscribe / unsubscribe
	Channel string `json:"channel,omitempty"`

	// presence_update
	Status string `json:"status,omitempty"`

	// transform / analyze / auto_transform
	Text               string                 `json:"text,omitempty"`
	TransformationType string                 `json:"transformation_type,omitempty"`
	Intensity          int                    `json:"intensity,omitempty"`
	Options            map[string]interface{} `json:"options,omitempty"`
	AnalysisTypes      []string               `json:"analysis_types,omitempty"`

	// auto_transform message context
	Platform     string                 `json:"platform,omitempty"`
	RecipientIDs []string               `json:"recipient_ids,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Message is one outbound server frame.
type Message struct {
	Type    string                 `json:"type"`
	Channel string                 `json:"channel,omitempty"`
	Event   *distributor.Event     `json:"event,omitempty"`
	Error   map[string]interface{} `json:"error,omitempty"`
}

func eventMessage(ev distributor.Event) Message {
	return Message{Type: MessageEvent, Event: &ev}
}

func errorMessage(body map[string]interface{}) Message {
	return Message{Type: MessageError, Error: body}
}

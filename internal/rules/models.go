package rules

import (
	"encoding/json"
	"time"
)

// MessageContext is the immutable input to one evaluation.
type MessageContext struct {
	Message      string                 `json:"message"`
	UserID       string                 `json:"user_id"`
	TenantID     string                 `json:"tenant_id"`
	Platform     string                 `json:"platform"`
	ChannelID    string                 `json:"channel_id,omitempty"`
	RecipientIDs []string               `json:"recipient_ids,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Rule is a tenant-scoped transformation rule. Lower Priority evaluates
// first; creation order breaks ties.
type Rule struct {
	ID          string
	Name        string
	Description string
	Enabled     bool
	Priority    int
	TriggerKind string
	TriggerRaw  json.RawMessage
	Trigger     Trigger

	TransformationType      string
	TransformationIntensity int
	TransformationOptions   map[string]interface{}

	Platforms []string
	Channels  []string
	UserRoles []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Decision is the engine's verdict. It is never mutated after creation,
// only superseded by a new evaluation.
type Decision struct {
	ShouldTransform bool                   `json:"should_transform"`
	RuleID          string                 `json:"rule_id,omitempty"`
	RuleName        string                 `json:"rule_name,omitempty"`
	Type            string                 `json:"transformation_type,omitempty"`
	Intensity       int                    `json:"transformation_intensity,omitempty"`
	Options         map[string]interface{} `json:"transformation_options,omitempty"`
	Confidence      float64                `json:"confidence"`
	Reason          string                 `json:"reason"`
}

// TenantConfig gates auto-transformation for one tenant.
type TenantConfig struct {
	TenantID         string `json:"tenant_id"`
	Enabled          bool   `json:"enabled"`
	DefaultType      string `json:"default_transformation_type"`
	DefaultIntensity int    `json:"default_intensity"`
	MinMessageLength int    `json:"min_message_length"`
}

func noMatchDecision(reason string) Decision {
	return Decision{
		ShouldTransform: false,
		Reason:          reason,
	}
}

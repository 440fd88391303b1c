package distributor

import (
	"time"
)

// Delivery scopes. Exactly one per event.
const (
	ScopeUser       = "user"
	ScopeTenant     = "tenant"
	ScopeChannel    = "channel"
	ScopeAddressees = "addressees"
)

// Event types, grouped by producing operation.
const (
	EventTransformationSuccess = "transformation_success"
	EventTransformationError   = "transformation_error"

	EventAnalysisSuccess = "analysis_success"
	EventAnalysisError   = "analysis_error"

	EventAutoTransformTriggered = "auto_transform_triggered"
	EventAutoTransformApplied   = "auto_transform_applied"
	EventAutoTransformError     = "auto_transform_error"

	EventPresenceChanged = "presence_changed"

	EventCollaborationJoin    = "collaboration_join"
	EventCollaborationLeave   = "collaboration_leave"
	EventCollaborationMessage = "collaboration_message"

	EventNotification = "notification"
)

// Event is the unit of fan-out. Origin carries the publishing instance's
// id so the relay consumer can drop its own mirrored events.
type Event struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Scope      string                 `json:"scope"`
	Tenant     string                 `json:"tenant_id,omitempty"`
	Channel    string                 `json:"channel,omitempty"`
	UserID     string                 `json:"user_id,omitempty"`
	Addressees []string               `json:"addressees,omitempty"`
	Origin     string                 `json:"origin"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// UserEvent builds a user-scoped event.
func UserEvent(eventType, tenantID, userID string, payload map[string]interface{}) Event {
	return Event{Type: eventType, Scope: ScopeUser, Tenant: tenantID, UserID: userID, Payload: payload}
}

// TenantEvent builds a tenant-scoped event.
func TenantEvent(eventType, tenantID string, payload map[string]interface{}) Event {
	return Event{Type: eventType, Scope: ScopeTenant, Tenant: tenantID, Payload: payload}
}

// ChannelEvent builds a channel-scoped event.
func ChannelEvent(eventType, tenantID, channel string, payload map[string]interface{}) Event {
	return Event{Type: eventType, Scope: ScopeChannel, Tenant: tenantID, Channel: channel, Payload: payload}
}

// AddresseeEvent builds an event for an explicit recipient list.
func AddresseeEvent(eventType, tenantID string, addressees []string, payload map[string]interface{}) Event {
	return Event{Type: eventType, Scope: ScopeAddressees, Tenant: tenantID, Addressees: addressees, Payload: payload}
}

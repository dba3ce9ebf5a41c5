// Package bus carries events between the gateway, the config store, and
// connected clients.
package bus

// Event is a broadcast event.
type Event struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

// Event name constants.
const (
	EventConfigInvalidate = "config.invalidate"
	EventRouteResolved    = "route.resolved"
	EventSessionDeleted   = "session.deleted"
	EventCronTriggered    = "cron.triggered"
)

// ConfigInvalidatePayload signals the config cache to reload.
type ConfigInvalidatePayload struct {
	Kind string `json:"kind"` // "config", "instances"
	Key  string `json:"key,omitempty"`
}

// RouteResolvedPayload is published after each successful resolution so
// observers (WebSocket clients, operator tooling) can follow traffic.
type RouteResolvedPayload struct {
	AgentID     string `json:"agentId"`
	SessionKey  string `json:"sessionKey"`
	SessionName string `json:"sessionName"`
	Channel     string `json:"channel,omitempty"`
	AccountID   string `json:"accountId,omitempty"`
}

// CronTriggeredPayload carries a scheduled message for an agent's main
// session; the execution collaborator consumes it from the event feed.
type CronTriggeredPayload struct {
	JobID      string `json:"jobId"`
	AgentID    string `json:"agentId"`
	SessionKey string `json:"sessionKey"`
	Message    string `json:"message"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

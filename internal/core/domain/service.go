package domain

import "time"

// RegisteredService is the network location of a running worker as last
// reported to the manager.
type RegisteredService struct {
	ID         string         `json:"id"`
	ServiceURL string         `json:"serviceUrl"`
	Metadata   map[string]any `json:"metadata"`
	LastSeen   time.Time      `json:"lastSeen"`
}

// ServiceListing is one row of the agent-services listing: a catalog agent
// merged with its registration, if any.
type ServiceListing struct {
	ID           string         `json:"id"`
	Description  string         `json:"description,omitempty"`
	EntryPoint   string         `json:"entryPoint,omitempty"`
	ServiceURL   string         `json:"serviceUrl"`
	Metadata     map[string]any `json:"metadata"`
	RegisteredAt *time.Time     `json:"registered_at,omitempty"`
}

type RegisterRequest struct {
	ID         string         `json:"id"`
	ServiceURL string         `json:"serviceUrl"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ServiceAck is the body returned by register, unregister and heartbeat.
type ServiceAck struct {
	Message string `json:"message"`
	AgentID string `json:"agent_id"`
}

package domain

import "time"

type MessageType string

const (
	MessageSnapshot      MessageType = "snapshot"
	MessageAgentUpdated  MessageType = "agent_updated"
	MessageTaskAdded     MessageType = "task_added"
	MessageTaskCompleted MessageType = "task_completed"
	MessageLogLine       MessageType = "log_line"
	MessagePing          MessageType = "ping"
	MessagePong          MessageType = "pong"
)

// Message is the WebSocket envelope. It is never persisted.
type Message struct {
	Type      MessageType `json:"type"`
	Data      any         `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewMessage(t MessageType, data any) Message {
	return Message{Type: t, Data: data, Timestamp: time.Now().UTC()}
}

type TaskInfo struct {
	TaskID      string `json:"task_id"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

type TaskAddedEvent struct {
	AgentID string   `json:"agent_id"`
	Task    TaskInfo `json:"task"`
}

type TaskCompletedEvent struct {
	AgentID string `json:"agent_id"`
	TaskID  string `json:"task_id"`
	Success bool   `json:"success"`
}

type LogLineEvent struct {
	AgentID string `json:"agent_id"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

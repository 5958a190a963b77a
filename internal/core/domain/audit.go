package domain

import "time"

const (
	AuditTargetService   = "service"
	AuditTargetDashboard = "dashboard"
)

// ActionAudit records one lifecycle action issued through the manager.
type ActionAudit struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	AgentID    string    `json:"agentId" gorm:"index"`
	Action     string    `json:"action"`
	Target     string    `json:"target"`
	StatusCode int       `json:"statusCode"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"createdAt" gorm:"index"`
}

func (ActionAudit) TableName() string {
	return "action_audits"
}

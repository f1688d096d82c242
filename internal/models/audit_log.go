package models

import "time"

// AuditLog records an operator action. Details is a JSON object.
type AuditLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	OperatorID uint      `gorm:"not null;index" json:"operator_id"`
	Action     string    `gorm:"not null;index" json:"action"`
	TargetType string    `json:"target_type"`
	TargetID   uint      `json:"target_id"`
	Details    string    `gorm:"type:text" json:"details"`
	IPAddress  string    `json:"ip_address"`
	UserAgent  string    `json:"user_agent"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`

	Operator *Operator `gorm:"foreignKey:OperatorID" json:"operator,omitempty"`
}

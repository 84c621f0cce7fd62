package models

import "time"

// SystemLog is an audit record. Membership events carry their project id.
type SystemLog struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Level        string    `gorm:"size:20;index" json:"level"` // info, warning, error
	Module       string    `gorm:"size:100;index" json:"module"`
	Action       string    `gorm:"size:200;index" json:"action"`
	Message      string    `gorm:"type:text" json:"message"`
	ProjectID    *uint     `gorm:"index" json:"project_id"`
	UserID       *uint     `json:"user_id"`
	TargetUserID *uint     `json:"target_user_id"`
	Extra        string    `gorm:"type:text" json:"extra"` // JSON extra data
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}

func (SystemLog) TableName() string { return "system_logs" }

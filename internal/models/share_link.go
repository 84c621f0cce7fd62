package models

import "time"

// ShareLink is an invite token granting a fixed role in one project.
type ShareLink struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Token     string    `gorm:"uniqueIndex;size:64;not null" json:"token"`
	ProjectID uint      `gorm:"index;not null" json:"project_id"`
	Project   *Project  `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"-"`
	RoleID    uint      `gorm:"not null" json:"role_id"`
	Role      *Role     `gorm:"foreignKey:RoleID" json:"role,omitempty"`
	MaxUses   *int      `json:"max_uses"` // nil = unlimited
	UsedCount int       `gorm:"not null;default:0" json:"used_count"`
	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedBy uint      `gorm:"index" json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

func (ShareLink) TableName() string { return "share_links" }

func (l *ShareLink) ProjectRef() uint { return l.ProjectID }

// IsExpired reports whether now has reached the expiry instant.
func (l *ShareLink) IsExpired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

func (l *ShareLink) IsUsageExceeded() bool {
	return l.MaxUses != nil && l.UsedCount >= *l.MaxUses
}

func (l *ShareLink) IsValid(now time.Time) bool {
	return l.IsActive && !l.IsExpired(now) && !l.IsUsageExceeded()
}

package models

import "time"

// Project is the tenant boundary. Its owner holds the virtual Owner role and
// never appears in project_memberships.
type Project struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"size:200;not null;uniqueIndex:idx_owner_project_name" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	OwnerID     uint      `gorm:"not null;index;uniqueIndex:idx_owner_project_name" json:"owner_id"`
	Owner       *User     `gorm:"foreignKey:OwnerID;constraint:OnDelete:CASCADE" json:"owner,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Project) TableName() string { return "projects" }

func (p *Project) ProjectRef() uint { return p.ID }

// IsOwner reports whether userID owns the project.
func (p *Project) IsOwner(userID uint) bool { return p.OwnerID == userID }

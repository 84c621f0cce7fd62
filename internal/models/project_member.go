package models

import "time"

// ProjectMembership binds a user to a project with exactly one stored role.
// Rows are hard-deleted so a kicked user can join again.
type ProjectMembership struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProjectID uint      `gorm:"uniqueIndex:idx_project_user;not null" json:"project_id"`
	Project   *Project  `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"-"`
	UserID    uint      `gorm:"uniqueIndex:idx_project_user;index;not null" json:"user_id"`
	User      *User     `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"user,omitempty"`
	RoleID    uint      `gorm:"not null" json:"role_id"`
	Role      *Role     `gorm:"foreignKey:RoleID" json:"role,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ProjectMembership) TableName() string { return "project_memberships" }

func (m *ProjectMembership) ProjectRef() uint { return m.ProjectID }

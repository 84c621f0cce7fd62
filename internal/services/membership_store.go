package services

import (
	"errors"

	"github.com/huangang/taskhub/backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MembershipStore persists (project, user) -> role rows. Every method takes
// the handle to run on so callers can pass an open transaction.
type MembershipStore struct{}

// Find returns the membership or nil when the user is not a member.
func (MembershipStore) Find(db *gorm.DB, projectID, userID uint) (*models.ProjectMembership, error) {
	return findMembership(db, projectID, userID)
}

// FindForUpdate is Find with a row lock held until the transaction ends.
func (MembershipStore) FindForUpdate(tx *gorm.DB, projectID, userID uint) (*models.ProjectMembership, error) {
	return findMembership(tx.Clauses(clause.Locking{Strength: "UPDATE"}), projectID, userID)
}

func findMembership(db *gorm.DB, projectID, userID uint) (*models.ProjectMembership, error) {
	var m models.ProjectMembership
	err := db.Where("project_id = ? AND user_id = ?", projectID, userID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Create inserts a membership. A concurrent duplicate surfaces as
// gorm.ErrDuplicatedKey.
func (MembershipStore) Create(tx *gorm.DB, m *models.ProjectMembership) error {
	return tx.Create(m).Error
}

func (MembershipStore) UpdateRole(tx *gorm.DB, m *models.ProjectMembership, roleID uint) error {
	if err := tx.Model(m).Update("role_id", roleID).Error; err != nil {
		return err
	}
	m.RoleID = roleID
	return nil
}

// Delete removes the membership and reports whether a row existed.
func (MembershipStore) Delete(tx *gorm.DB, projectID, userID uint) (bool, error) {
	res := tx.Where("project_id = ? AND user_id = ?", projectID, userID).Delete(&models.ProjectMembership{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (MembershipStore) ListByProject(db *gorm.DB, projectID uint) ([]models.ProjectMembership, error) {
	var members []models.ProjectMembership
	err := db.Preload("User").Preload("Role").
		Where("project_id = ?", projectID).
		Order("id ASC").
		Find(&members).Error
	return members, err
}

// DeleteByProject removes all memberships of a project.
func (MembershipStore) DeleteByProject(tx *gorm.DB, projectID uint) error {
	return tx.Where("project_id = ?", projectID).Delete(&models.ProjectMembership{}).Error
}

// DeleteByUser removes all memberships of a user.
func (MembershipStore) DeleteByUser(tx *gorm.DB, userID uint) error {
	return tx.Where("user_id = ?", userID).Delete(&models.ProjectMembership{}).Error
}

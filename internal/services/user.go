package services

import (
	"context"
	"errors"

	"github.com/huangang/taskhub/backend/internal/models"
	"gorm.io/gorm"
)

// UserService is the user directory the membership rules consult.
type UserService struct {
	db      *gorm.DB
	members MembershipStore
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

func (s *UserService) Get(ctx context.Context, userID uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, internalError("get user", err)
	}
	return &user, nil
}

// Delete removes a user together with their memberships, the projects they
// own and those projects' memberships and share links.
func (s *UserService) Delete(ctx context.Context, userID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		var owned []uint
		if err := tx.Model(&models.Project{}).Where("owner_id = ?", userID).Pluck("id", &owned).Error; err != nil {
			return err
		}
		for _, projectID := range owned {
			if err := deleteProjectTree(tx, projectID); err != nil {
				return err
			}
		}

		if err := s.members.DeleteByUser(tx, userID); err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.RefreshToken{}).Error; err != nil {
			return err
		}
		return tx.Delete(&user).Error
	})
	return finish("delete user", err)
}

func userExists(db *gorm.DB, userID uint) (bool, error) {
	var count int64
	if err := db.Model(&models.User{}).Where("id = ? AND is_active = ?", userID, true).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// deleteProjectTree removes a project and everything it owns.
func deleteProjectTree(tx *gorm.DB, projectID uint) error {
	if err := tx.Where("project_id = ?", projectID).Delete(&models.ShareLink{}).Error; err != nil {
		return err
	}
	if err := (MembershipStore{}).DeleteByProject(tx, projectID); err != nil {
		return err
	}
	return tx.Delete(&models.Project{}, projectID).Error
}

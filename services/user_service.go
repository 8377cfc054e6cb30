package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/cppla/poolchecker/models"
	"github.com/cppla/poolchecker/utils"
)

// UserService authenticates API accounts.
type UserService struct {
	db *gorm.DB
}

// NewUserService creates a new UserService.
func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

// GetByID returns nil when the user does not exist.
func (s *UserService) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// Authenticate matches login against username or email and verifies the password.
func (s *UserService) Authenticate(ctx context.Context, login, password string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("username = ? OR email = ?", login, login).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !utils.CheckPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrInactiveUser
	}
	return &user, nil
}

// Create stores a new active user with a bcrypt password hash.
func (s *UserService) Create(ctx context.Context, email, username, password string, superuser bool) (*models.User, error) {
	if email == "" {
		return nil, invalid("email", "is required")
	}
	if username == "" {
		return nil, invalid("username", "is required")
	}
	if len(password) < 8 {
		return nil, invalid("password", "must be at least 8 characters")
	}
	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := models.User{
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		IsActive:     true,
		IsSuperuser:  superuser,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// EnsureSuperuser creates the bootstrap admin unless a user with that username
// or email exists. created reports whether a row was inserted.
func (s *UserService) EnsureSuperuser(ctx context.Context, email, username, password string) (user *models.User, created bool, err error) {
	var existing models.User
	err = s.db.WithContext(ctx).Where("username = ? OR email = ?", username, email).First(&existing).Error
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	user, err = s.Create(ctx, email, username, password, true)
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}

package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"authservice/internal/models"
	"authservice/internal/repository"
)

const msgUserNotFound = "User not found"

// UpdateUserInput holds the fields an admin may change; nil leaves a field
// untouched.
type UpdateUserInput struct {
	Username *string
	Role     *models.Role
	Banned   *bool
}

// UserService is the admin-facing account management API.
type UserService struct {
	users  repository.UserRepository
	logger *zap.Logger
}

func NewUserService(users repository.UserRepository, logger *zap.Logger) *UserService {
	return &UserService{users: users, logger: logger}
}

func (s *UserService) Get(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("Failed to load user", zap.Int64("user_id", id), zap.Error(err))
		return nil, Internal("Failed to load user", err)
	}
	if user == nil {
		return nil, NotFound(msgUserNotFound)
	}
	return user, nil
}

func (s *UserService) Update(ctx context.Context, id int64, in UpdateUserInput) (*models.User, error) {
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Username != nil {
		user.Username = *in.Username
	}
	if in.Role != nil {
		if !in.Role.Valid() {
			return nil, &Error{Kind: KindValidation, Message: "Unknown role"}
		}
		user.Role = *in.Role
	}
	if in.Banned != nil {
		user.Banned = *in.Banned
	}

	if err := s.users.Update(ctx, user); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NotFound(msgUserNotFound)
		}
		s.logger.Error("Failed to update user", zap.Int64("user_id", id), zap.Error(err))
		return nil, Internal("Failed to update user", err)
	}

	s.logger.Info("User updated", zap.Int64("user_id", id), zap.String("role", string(user.Role)), zap.Bool("banned", user.Banned))
	return user, nil
}

func (s *UserService) Delete(ctx context.Context, id int64) error {
	deleted, err := s.users.Delete(ctx, id)
	if err != nil {
		s.logger.Error("Failed to delete user", zap.Int64("user_id", id), zap.Error(err))
		return Internal("Failed to delete user", err)
	}
	if !deleted {
		return NotFound(msgUserNotFound)
	}

	s.logger.Info("User deleted", zap.Int64("user_id", id))
	return nil
}

package admin

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrUserNotFound = errors.New("admin user not found")

type User struct {
	ID           uuid.UUID
	Username     string
	PasswordHash string
	Role         string
}

type Repository interface {
	FindByUsername(ctx context.Context, username string) (*User, error)
}

package memstorage

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/makkenzo/device-licensing-api/internal/domain/admin"
	"golang.org/x/crypto/bcrypt"
)

// AdminUserRepository keeps operator accounts in memory. It is seeded from configuration for
// deployments that do not delegate admin login to an OIDC provider.
type AdminUserRepository struct {
	mu    sync.RWMutex
	users map[string]*admin.User
}

var _ admin.Repository = (*AdminUserRepository)(nil)

func NewAdminUserRepository() *AdminUserRepository {
	return &AdminUserRepository{
		users: make(map[string]*admin.User),
	}
}

func (r *AdminUserRepository) Add(username, password, role string) (*admin.User, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u := &admin.User{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: string(hashedPassword),
		Role:         role,
	}

	r.mu.Lock()
	r.users[strings.ToLower(username)] = u
	r.mu.Unlock()

	return u, nil
}

func (r *AdminUserRepository) FindByUsername(ctx context.Context, username string) (*admin.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[strings.ToLower(username)]
	if !ok {
		return nil, admin.ErrUserNotFound
	}

	userCopy := *u
	return &userCopy, nil
}

package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/wadi-transport/invoicesync/internal/models"
)

// ErrValidation marks rejected input; handlers map it to 400.
var ErrValidation = errors.New("validation failed")

// UserRepository defines the persistence operations needed by the
// UserService and AuthService.
type UserRepository interface {
	// List returns all active users.
	List(ctx context.Context) ([]models.User, error)
	// GetByID fetches a user by primary key.
	GetByID(ctx context.Context, id string) (*models.User, error)
	// GetByUsername fetches an active user by login name.
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	// UpsertIfNewer writes the user under LWW; returns the winning
	// record and whether the write was applied.
	UpsertIfNewer(ctx context.Context, u models.User) (*models.User, bool, error)
	// UpdatePermissions replaces a user's permission set.
	UpdatePermissions(ctx context.Context, id string, perms []models.Permission, lastModifiedMs int64, device string) (*models.User, error)
	// Delete removes a user.
	Delete(ctx context.Context, id string) error
}

// UserService implements user management.
type UserService struct {
	repo UserRepository
}

// NewUserService constructs a UserService with the provided repository.
func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo}
}

// List returns all active users.
func (s *UserService) List(ctx context.Context) ([]models.User, error) {
	return s.repo.List(ctx)
}

// GetByID fetches a user by primary key.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	return s.repo.GetByID(ctx, id)
}

// Upsert writes a user under the LWW policy, hashing the password first
// when the client sent it in the clear. Clients that synced a cached
// record send the hash back unchanged; re-hashing a hash would lock the
// user out.
func (s *UserService) Upsert(ctx context.Context, u models.User) (*models.User, bool, error) {
	if strings.TrimSpace(u.Username) == "" {
		return nil, false, ErrValidation
	}
	if u.Password != "" && !IsPasswordHashed(u.Password) {
		hashed, err := HashPassword(u.Password)
		if err != nil {
			return nil, false, err
		}
		u.Password = hashed
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	if u.Permissions == nil {
		u.Permissions = models.DefaultUserPermissions()
	}
	return s.repo.UpsertIfNewer(ctx, u)
}

// UpdatePermissions replaces a user's permission set and bumps the LWW clock.
func (s *UserService) UpdatePermissions(ctx context.Context, id string, perms []models.Permission, device string) (*models.User, error) {
	return s.repo.UpdatePermissions(ctx, id, perms, time.Now().UnixMilli(), device)
}

// Delete removes a user.
func (s *UserService) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// HashPassword hashes a clear-text password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ComparePassword reports whether the clear-text password matches the
// bcrypt hash.
func ComparePassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// IsPasswordHashed reports whether the value already looks like a
// bcrypt hash.
func IsPasswordHashed(password string) bool {
	return strings.HasPrefix(password, "$2a$") ||
		strings.HasPrefix(password, "$2b$") ||
		strings.HasPrefix(password, "$2y$")
}

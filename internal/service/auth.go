package service

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wadi-transport/invoicesync/internal/middleware"
	"github.com/wadi-transport/invoicesync/internal/models"
	"github.com/wadi-transport/invoicesync/internal/repository"
)

// ErrInvalidCredentials is returned on a failed login.
var ErrInvalidCredentials = errors.New("invalid credentials")

// adminID is the fixed primary key of the bootstrap admin user.
const adminID = "admin-user"

// AuthService implements login and token issuance.
type AuthService struct {
	repo     UserRepository
	secret   []byte
	tokenTTL time.Duration
}

// NewAuthService constructs an AuthService. secret signs issued JWTs;
// ttl bounds their lifetime.
func NewAuthService(repo UserRepository, secret []byte, ttl time.Duration) *AuthService {
	return &AuthService{repo: repo, secret: secret, tokenTTL: ttl}
}

// Login verifies the credentials and returns the user together with a
// signed session token. The password hash is stripped from the
// returned user.
func (s *AuthService) Login(ctx context.Context, username, password string) (*models.User, string, error) {
	user, err := s.repo.GetByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", err
	}

	if !ComparePassword(password, user.Password) {
		return nil, "", ErrInvalidCredentials
	}

	now := time.Now()
	claims := &middleware.Claims{
		UserID:      user.ID,
		Username:    user.Username,
		Role:        user.Role,
		Permissions: user.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, "", err
	}

	user.Password = ""
	return user, token, nil
}

// TokenTTL returns the configured session token lifetime.
func (s *AuthService) TokenTTL() time.Duration {
	return s.tokenTTL
}

// EnsureAdmin creates the fixed-ID admin user when it does not exist
// yet, so a fresh deployment is immediately usable.
func (s *AuthService) EnsureAdmin(ctx context.Context, password string) error {
	_, err := s.repo.GetByID(ctx, adminID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	hashed, err := HashPassword(password)
	if err != nil {
		return err
	}

	now := time.Now()
	_, _, err = s.repo.UpsertIfNewer(ctx, models.User{
		ID:          adminID,
		Username:    "admin",
		Name:        "System Administrator",
		Password:    hashed,
		Role:        models.RoleAdmin,
		Permissions: models.AdminPermissions(),
		CreatedAt:   now,
		IsActive:    true,
		SyncMeta: models.SyncMeta{
			LastModified:       now,
			LastModifiedDevice: "server",
			Synced:             true,
		},
	})
	return err
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wadi-transport/invoicesync/internal/middleware"
	"github.com/wadi-transport/invoicesync/internal/models"
	"github.com/wadi-transport/invoicesync/internal/service"
)

// AuthService defines the authentication operations required by the
// AuthHandler.
type AuthService interface {
	// Login verifies credentials and returns the user plus a signed
	// session token.
	Login(ctx context.Context, username, password string) (*models.User, string, error)
	// TokenTTL reports the lifetime of issued tokens.
	TokenTTL() time.Duration
}

// AuthHandler handles login and logout.
type AuthHandler struct {
	Service AuthService
	Log     *zap.Logger
}

// LoginRequest is the JSON payload for POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the authenticated user and the session token.
// The token is additionally set as an HTTP-only cookie for browser
// clients; CLI clients read it from the body.
type LoginResponse struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, token, err := h.Service.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, service.ErrInvalidCredentials) {
		h.Log.Info("login rejected", zap.String("username", req.Username))
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		h.Log.Error("login failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AuthCookieName,
		Value:    token,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Path:     "/",
		MaxAge:   int(h.Service.TokenTTL().Seconds()),
	})

	h.Log.Info("login successful", zap.String("username", req.Username))
	writeJSON(w, http.StatusOK, LoginResponse{User: user, Token: token})
}

// Logout handles POST /api/auth/logout by expiring the session cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AuthCookieName,
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

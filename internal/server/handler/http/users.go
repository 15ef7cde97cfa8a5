package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wadi-transport/invoicesync/internal/middleware"
	"github.com/wadi-transport/invoicesync/internal/models"
)

// UserService defines the user-management operations required by the
// UserHandler.
type UserService interface {
	List(ctx context.Context) ([]models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	Upsert(ctx context.Context, u models.User) (*models.User, bool, error)
	UpdatePermissions(ctx context.Context, id string, perms []models.Permission, device string) (*models.User, error)
	Delete(ctx context.Context, id string) error
}

// UserHandler handles HTTP requests for the users collection.
type UserHandler struct {
	Service UserService
	Log     *zap.Logger
}

// List handles GET /api/users. The password hash is intentionally kept
// in the list response: clients cache it so offline login keeps working.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.Service.List(r.Context())
	if err != nil {
		h.Log.Error("list users failed", zap.Error(err))
		writeServiceError(w, err)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// Get handles GET /api/users/{id}.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.Service.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	u := *user
	u.Password = ""
	writeJSON(w, http.StatusOK, u)
}

// Create handles POST /api/users under the LWW policy. A username
// collision on a different id is answered with 409 and must be treated
// as terminal by the caller.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var user models.User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.LastModified.IsZero() {
		user.LastModified = time.Now()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	user.IsActive = true

	winner, applied, err := h.Service.Upsert(r.Context(), user)
	if err != nil {
		h.Log.Error("create user failed", zap.Error(err), zap.String("id", user.ID))
		writeServiceError(w, err)
		return
	}

	u := *winner
	u.Password = ""
	if !applied {
		h.Log.Info("stale user create skipped", zap.String("id", user.ID))
		writeJSON(w, http.StatusOK, u)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// Update handles PUT /api/users/{id}. The password hash is kept in the
// response so a syncing client can cache it for offline login.
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	var user models.User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	user.ID = chi.URLParam(r, "id")
	if user.LastModified.IsZero() {
		user.LastModified = time.Now()
	}

	winner, applied, err := h.Service.Upsert(r.Context(), user)
	if err != nil {
		h.Log.Error("update user failed", zap.Error(err), zap.String("id", user.ID))
		writeServiceError(w, err)
		return
	}
	if !applied {
		h.Log.Info("stale user update skipped", zap.String("id", user.ID))
	}
	writeJSON(w, http.StatusOK, winner)
}

// UpdatePermissions handles PUT /api/users/{id}/permissions.
func (h *UserHandler) UpdatePermissions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Permissions []models.Permission `json:"permissions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	device := ""
	if claims := middleware.ClaimsFromContext(r.Context()); claims != nil {
		device = claims.Username
	}

	user, err := h.Service.UpdatePermissions(r.Context(), chi.URLParam(r, "id"), req.Permissions, device)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	u := *user
	u.Password = ""
	writeJSON(w, http.StatusOK, u)
}

// Delete handles DELETE /api/users/{id}.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

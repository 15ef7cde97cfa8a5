package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wadi-transport/invoicesync/internal/models"
)

// SettingsService defines the settings operations required by the
// SettingsHandler.
type SettingsService interface {
	Get(ctx context.Context) (*models.Settings, error)
	Update(ctx context.Context, s models.Settings) (*models.Settings, bool, error)
}

// SettingsHandler handles HTTP requests for the settings singleton.
type SettingsHandler struct {
	Service SettingsService
	Log     *zap.Logger
}

// Get handles GET /api/settings, creating the default record on first
// access.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Service.Get(r.Context())
	if err != nil {
		h.Log.Error("get settings failed", zap.Error(err))
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// Update handles PUT /api/settings under the LWW policy. A stale write
// is answered with the stored record and 200.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var settings models.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	settings.ID = models.SettingsID
	if settings.LastModified.IsZero() {
		settings.LastModified = time.Now()
	}

	winner, applied, err := h.Service.Update(r.Context(), settings)
	if err != nil {
		h.Log.Error("update settings failed", zap.Error(err))
		writeServiceError(w, err)
		return
	}
	if !applied {
		h.Log.Info("stale settings update skipped")
	}
	writeJSON(w, http.StatusOK, winner)
}

package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/wadi-transport/invoicesync/internal/middleware"
	"github.com/wadi-transport/invoicesync/internal/models"
)

// NewRouter constructs the HTTP handler serving the invoicing API.
//
// Routes:
//
//	GET  /healthz                        → liveness probe (public, used by client connectivity checks)
//	POST /api/auth/login                 → authHandler.Login (public)
//	POST /api/auth/logout                → authHandler.Logout
//	GET|POST /api/invoices, GET|PUT|DELETE /api/invoices/{id}
//	GET|POST /api/users, GET|PUT|DELETE /api/users/{id}, PUT /api/users/{id}/permissions
//	GET|PUT /api/settings
//
// All /api routes except login require a valid bearer token
// (Authorization header or auth_token cookie); mutating invoice and
// user routes additionally require the matching permission.
func NewRouter(
	authHandler *AuthHandler,
	invoiceHandler *InvoiceHandler,
	userHandler *UserHandler,
	settingsHandler *SettingsHandler,
	jwtSecret []byte,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.AllowContentType("application/json"))
	r.Use(middleware.WithRequestLogging(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", authHandler.Login)

		// Protected group: requires a valid session token.
		r.Group(func(r chi.Router) {
			r.Use(middleware.JWTAuth(jwtSecret))

			r.Post("/auth/logout", authHandler.Logout)

			r.Route("/invoices", func(r chi.Router) {
				r.Get("/", invoiceHandler.List)
				r.With(middleware.RequirePermission(models.PermCreateInvoice)).Post("/", invoiceHandler.Create)
				r.Get("/{id}", invoiceHandler.Get)
				r.With(middleware.RequirePermission(models.PermEditInvoice)).Put("/{id}", invoiceHandler.Update)
				r.With(middleware.RequirePermission(models.PermDeleteInvoice)).Delete("/{id}", invoiceHandler.Delete)
			})

			r.Route("/users", func(r chi.Router) {
				r.Get("/", userHandler.List)
				r.With(middleware.RequirePermission(models.PermManageUsers)).Post("/", userHandler.Create)
				r.With(middleware.RequirePermission(models.PermManageUsers)).Get("/{id}", userHandler.Get)
				r.With(middleware.RequirePermission(models.PermManageUsers)).Put("/{id}", userHandler.Update)
				r.With(middleware.RequirePermission(models.PermManageUsers)).Delete("/{id}", userHandler.Delete)
				r.With(middleware.RequirePermission(models.PermManagePermissions)).Put("/{id}/permissions", userHandler.UpdatePermissions)
			})

			r.Route("/settings", func(r chi.Router) {
				r.Get("/", settingsHandler.Get)
				r.With(middleware.RequirePermission(models.PermManagePermissions)).Put("/", settingsHandler.Update)
			})
		})
	})

	return r
}

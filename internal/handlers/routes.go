package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

func RegisterRoutes(r *mux.Router, h *Handler, limiter *RateLimiter) {
	r.HandleFunc("/healthz", h.HandleHealth).Methods(http.MethodGet)

	r.Handle("/shared/{token}", limiter.Middleware(http.HandlerFunc(h.ServeShared))).
		Methods(http.MethodGet, http.MethodHead)

	owner := r.PathPrefix("/shared-files").Subrouter()
	owner.Use(AuthMiddleware(h.cfg.JWTSecret))
	owner.HandleFunc("", h.CreateSharedFile).Methods(http.MethodPost)
	owner.HandleFunc("", h.ListSharedFiles).Methods(http.MethodGet)
	owner.HandleFunc("/{id}", h.GetSharedFile).Methods(http.MethodGet)
	owner.HandleFunc("/{id}", h.RevokeSharedFile).Methods(http.MethodDelete)
	owner.HandleFunc("/{id}/access-logs", h.ListAccessLogs).Methods(http.MethodGet)
	owner.HandleFunc("/{id}/stats", h.GetShareStats).Methods(http.MethodGet)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(AuthMiddleware(h.cfg.JWTSecret), RequireRole(RoleAdmin))
	admin.HandleFunc("/logs", h.ListAdminLogs).Methods(http.MethodGet)
	admin.HandleFunc("/logs", h.AppendAdminLog).Methods(http.MethodPost)
}

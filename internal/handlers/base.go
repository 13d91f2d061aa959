package handlers

import (
	"net/http"
	"strconv"

	"github.com/sdko-org/sharelink/internal/access"
	"github.com/sdko-org/sharelink/internal/audit"
	"github.com/sdko-org/sharelink/internal/config"
	"github.com/sdko-org/sharelink/internal/sharing"
	"github.com/sdko-org/sharelink/internal/storage"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

type Handler struct {
	cfg      *config.Config
	db       *gorm.DB
	links    *sharing.Service
	recorder *access.Recorder
	audit    *audit.Log
	objects  storage.Storage
	ips      *ClientIPResolver
	log      *logrus.Entry
}

func NewHandler(logger *logrus.Logger, cfg *config.Config, db *gorm.DB, links *sharing.Service, recorder *access.Recorder, auditLog *audit.Log, objects storage.Storage) *Handler {
	return &Handler{
		cfg:      cfg,
		db:       db,
		links:    links,
		recorder: recorder,
		audit:    auditLog,
		objects:  objects,
		ips:      NewClientIPResolver(cfg.TrustedProxies),
		log:      logger.WithField("component", "share_handler"),
	}
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		h.log.WithError(err).Warn("Health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// pageParams reads limit/offset. A missing limit means defaultPageSize;
// values are clamped rather than rejected.
func pageParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

package handlers

import (
	"encoding/json"
	"net/http"
	"path"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sdko-org/sharelink/internal/access"
	"github.com/sdko-org/sharelink/internal/models"
	"github.com/sdko-org/sharelink/internal/sharing"
	"github.com/sirupsen/logrus"
)

type createShareRequest struct {
	AccountID     string  `json:"accountId"`
	Bucket        string  `json:"bucket"`
	Path          string  `json:"path"`
	Filename      string  `json:"filename"`
	ContentType   *string `json:"contentType"`
	Size          int64   `json:"size"`
	ExpiresInDays int     `json:"expiresInDays"`
}

type accessLogResponse struct {
	Token  string               `json:"token"`
	Events []models.AccessEvent `json:"events"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

type statsResponse struct {
	Token string `json:"token"`
	access.Stats
}

func (h *Handler) CreateSharedFile(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	var req createShareRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	if req.AccountID == "" {
		req.AccountID = id.AccountID
	}
	if req.AccountID != id.AccountID {
		writeError(w, h.log, sharing.ErrForbidden)
		return
	}
	if req.Bucket == "" || req.Path == "" {
		badRequest(w, "bucket and path are required")
		return
	}
	if !validObjectKey(req.Path) {
		badRequest(w, "invalid path")
		return
	}
	if req.Size < 0 {
		badRequest(w, "size must not be negative")
		return
	}
	if !h.cfg.BucketAllowed(req.Bucket) {
		writeError(w, h.log, sharing.ErrForbidden)
		return
	}
	if h.cfg.RequireOwnerPrefix && !strings.HasPrefix(req.Path, req.AccountID+"/") {
		writeError(w, h.log, sharing.ErrForbidden)
		return
	}
	if req.Filename == "" {
		req.Filename = path.Base(req.Path)
	}

	link, err := h.links.CreateLink(r.Context(), sharing.ResourceRef{
		OwnerAccountID: req.AccountID,
		Bucket:         req.Bucket,
		Path:           req.Path,
		Filename:       req.Filename,
		ContentType:    req.ContentType,
		Size:           req.Size,
	}, req.ExpiresInDays)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, newLinkResponse(link, h.links.Now()))
}

func (h *Handler) ListSharedFiles(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	limit, offset := pageParams(r)

	links, err := h.links.ListByOwner(r.Context(), id.AccountID, limit, offset)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	now := h.links.Now()
	out := make([]linkResponse, 0, len(links))
	for i := range links {
		out = append(out, newLinkResponse(&links[i], now))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetSharedFile(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	link, err := h.links.Get(r.Context(), mux.Vars(r)["id"], id.AccountID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, newLinkResponse(link, h.links.Now()))
}

func (h *Handler) RevokeSharedFile(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	if err := h.links.Revoke(r.Context(), mux.Vars(r)["id"], id.AccountID); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListAccessLogs(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	token := mux.Vars(r)["id"]

	if _, err := h.links.Get(r.Context(), token, id.AccountID); err != nil {
		writeError(w, h.log, err)
		return
	}

	limit, offset := pageParams(r)
	events, err := h.recorder.ListByResource(r.Context(), token, limit, offset)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if events == nil {
		events = []models.AccessEvent{}
	}

	writeJSON(w, http.StatusOK, accessLogResponse{Token: token, Events: events, Limit: limit, Offset: offset})
}

func (h *Handler) GetShareStats(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	token := mux.Vars(r)["id"]

	if _, err := h.links.Get(r.Context(), token, id.AccountID); err != nil {
		writeError(w, h.log, err)
		return
	}

	events, err := h.recorder.ListByResource(r.Context(), token, 0, 0)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	h.log.WithFields(logrus.Fields{
		"owner":  id.AccountID,
		"events": len(events),
	}).Debug("Aggregating share stats")
	writeJSON(w, http.StatusOK, statsResponse{Token: token, Stats: access.Aggregate(events)})
}

func validObjectKey(key string) bool {
	if strings.HasPrefix(key, "/") || strings.Contains(key, "//") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == "." || part == ".." {
			return false
		}
	}
	return true
}

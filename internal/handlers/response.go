package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sdko-org/sharelink/internal/audit"
	"github.com/sdko-org/sharelink/internal/models"
	"github.com/sdko-org/sharelink/internal/sharing"
	"github.com/sirupsen/logrus"
)

type errorResponse struct {
	Error   string `json:"error"`
	Status  string `json:"status,omitempty"`
	MinDays int    `json:"min_days,omitempty"`
	MaxDays int    `json:"max_days,omitempty"`
}

type linkResponse struct {
	Token       string     `json:"token"`
	URL         string     `json:"url"`
	AccountID   string     `json:"account_id"`
	Bucket      string     `json:"bucket"`
	Path        string     `json:"path"`
	Filename    string     `json:"filename"`
	ContentType *string    `json:"content_type,omitempty"`
	Size        int64      `json:"size"`
	IssuedAt    time.Time  `json:"issued_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	Active      bool       `json:"active"`
	Status      string     `json:"status"`
}

func newLinkResponse(link *models.SharedLink, now time.Time) linkResponse {
	return linkResponse{
		Token:       link.Token,
		URL:         "/shared/" + link.Token,
		AccountID:   link.OwnerAccountID,
		Bucket:      link.Bucket,
		Path:        link.Path,
		Filename:    link.Filename,
		ContentType: link.ContentType,
		Size:        link.Size,
		IssuedAt:    link.IssuedAt,
		ExpiresAt:   link.ExpiresAt,
		RevokedAt:   link.RevokedAt,
		Active:      sharing.IsActive(link, now),
		Status:      sharing.Classify(link, now).String(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

// writeError maps domain errors onto HTTP statuses. Anything unrecognized
// is logged and reported as a 500 without leaking the cause.
func writeError(w http.ResponseWriter, log *logrus.Entry, err error) {
	var durationErr *sharing.InvalidDurationError
	switch {
	case errors.As(err, &durationErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   durationErr.Error(),
			MinDays: durationErr.MinDays,
			MaxDays: durationErr.MaxDays,
		})
	case errors.Is(err, audit.ErrUnknownAction),
		errors.Is(err, audit.ErrInvalidDetails),
		errors.Is(err, audit.ErrDetailsMismatch):
		badRequest(w, err.Error())
	case errors.Is(err, sharing.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden"})
	case errors.Is(err, sharing.ErrTokenNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "share link not found"})
	case errors.Is(err, sharing.ErrResourceNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "resource not found"})
	case errors.Is(err, sharing.ErrLinkExpired):
		writeJSON(w, http.StatusGone, errorResponse{Error: "this link is no longer available", Status: "expired"})
	case errors.Is(err, sharing.ErrLinkRevoked):
		writeJSON(w, http.StatusGone, errorResponse{Error: "this link is no longer available", Status: "revoked"})
	default:
		log.WithError(err).Error("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

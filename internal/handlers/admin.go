package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sdko-org/sharelink/internal/audit"
)

type appendAdminLogRequest struct {
	TargetUserID   *string         `json:"target_user_id"`
	TargetUsername *string         `json:"target_username"`
	Action         string          `json:"action"`
	Details        json.RawMessage `json:"details"`
}

func (h *Handler) ListAdminLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := pageParams(r)

	filter := audit.Filter{
		AdminID:      q.Get("admin_id"),
		TargetUserID: q.Get("target_user_id"),
		Limit:        limit,
		Offset:       offset,
	}
	if v := q.Get("action"); v != "" {
		filter.Action = audit.Action(v)
	}

	var err error
	if filter.Since, err = parseTimeParam(q.Get("since")); err != nil {
		badRequest(w, "since must be an RFC 3339 timestamp")
		return
	}
	if filter.Until, err = parseTimeParam(q.Get("until")); err != nil {
		badRequest(w, "until must be an RFC 3339 timestamp")
		return
	}

	entries, err := h.audit.List(r.Context(), filter)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// AppendAdminLog records an action taken by the calling administrator.
func (h *Handler) AppendAdminLog(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	var req appendAdminLogRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	action, err := audit.ParseAction(req.Action)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	details, err := audit.ParseDetails(action, req.Details)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	username := id.Name
	if username == "" {
		username = id.AccountID
	}

	entry, err := h.audit.Append(r.Context(), audit.Entry{
		AdminID:        id.AccountID,
		AdminUsername:  username,
		TargetUserID:   req.TargetUserID,
		TargetUsername: req.TargetUsername,
		Action:         action,
		Details:        details,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

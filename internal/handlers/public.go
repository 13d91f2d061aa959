package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sdko-org/sharelink/internal/access"
	"github.com/sdko-org/sharelink/internal/models"
	"github.com/sdko-org/sharelink/internal/sharing"
	"github.com/sdko-org/sharelink/internal/storage"
	"github.com/sirupsen/logrus"
)

// ServeShared resolves a public share token. Every GET on a known link is
// recorded with its outcome, including refused ones; the event is written
// before any bytes go out. HEAD answers with headers only and records
// nothing.
func (h *Handler) ServeShared(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	ctx := r.Context()
	head := r.Method == http.MethodHead

	res, err := h.links.ResolveLink(ctx, token, h.links.Now())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if res.Status == sharing.StatusNotFound {
		writeError(w, h.log, sharing.ErrTokenNotFound)
		return
	}

	in := access.Input{
		IPAddress:  h.ips.ClientIP(r),
		UserAgent:  r.UserAgent(),
		Referrer:   r.Referer(),
		IsDownload: wantsDownload(r),
	}

	if err := res.Err(); err != nil {
		if !head {
			in.Status = models.AccessExpired
			if res.Status == sharing.StatusRevoked {
				in.Status = models.AccessRevoked
			}
			if !h.record(w, token, r, in) {
				return
			}
		}
		writeError(w, h.log, err)
		return
	}

	link := res.Link
	var (
		body io.ReadCloser
		info storage.ObjectInfo
	)
	if head {
		info, err = h.objects.Stat(ctx, link.Bucket, link.Path)
	} else {
		body, info, err = h.objects.Open(ctx, link.Bucket, link.Path)
	}
	if errors.Is(err, storage.ErrObjectNotFound) {
		if !head {
			in.Status = models.AccessUnavailable
			if !h.record(w, token, r, in) {
				return
			}
		}
		writeError(w, h.log, sharing.ErrResourceNotFound)
		return
	}
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if body != nil {
		defer body.Close()
	}

	if !head {
		in.Status = models.AccessGranted
		if !h.record(w, token, r, in) {
			return
		}
	}

	h.writeObjectHeaders(w, link, info, in.IsDownload)
	w.WriteHeader(http.StatusOK)
	if head {
		return
	}
	if _, err := io.Copy(w, body); err != nil {
		h.log.WithFields(logrus.Fields{
			"bucket": link.Bucket,
			"path":   link.Path,
		}).WithError(err).Warn("Failed to stream shared object")
	}
}

// record writes the access event and reports whether the request may go on.
// A lost event fails the request.
func (h *Handler) record(w http.ResponseWriter, token string, r *http.Request, in access.Input) bool {
	if _, err := h.recorder.Record(r.Context(), token, in); err != nil {
		writeError(w, h.log, fmt.Errorf("failed to record access: %w", err))
		return false
	}
	return true
}

func (h *Handler) writeObjectHeaders(w http.ResponseWriter, link *models.SharedLink, info storage.ObjectInfo, download bool) {
	contentType := info.ContentType
	if link.ContentType != nil && *link.ContentType != "" {
		contentType = *link.ContentType
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	disposition := "inline"
	if download {
		disposition = "attachment"
	}
	if cd := mime.FormatMediaType(disposition, map[string]string{"filename": link.Filename}); cd != "" {
		disposition = cd
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("Cache-Control", "private, no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if info.Size > 0 {
		w.Header().Set("Content-Length", fmt.Sprint(info.Size))
	}
	if info.ETag != "" {
		w.Header().Set("ETag", info.ETag)
	}
}

func wantsDownload(r *http.Request) bool {
	switch strings.ToLower(r.URL.Query().Get("download")) {
	case "1", "true", "yes":
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Share-Access"), "download")
}

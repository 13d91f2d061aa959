package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/sdko-org/sharelink/internal/access"
	"github.com/sdko-org/sharelink/internal/audit"
	"github.com/sdko-org/sharelink/internal/config"
	"github.com/sdko-org/sharelink/internal/database/dbtest"
	"github.com/sdko-org/sharelink/internal/geo"
	"github.com/sdko-org/sharelink/internal/models"
	"github.com/sdko-org/sharelink/internal/sharing"
	"github.com/sdko-org/sharelink/internal/storage"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "test-secret"

type memObject struct {
	data        string
	contentType string
}

type memStorage map[string]memObject

func (m memStorage) Stat(_ context.Context, bucket, key string) (storage.ObjectInfo, error) {
	obj, ok := m[bucket+"/"+key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{ContentType: obj.contentType, Size: int64(len(obj.data))}, nil
}

func (m memStorage) Open(ctx context.Context, bucket, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	info, err := m.Stat(ctx, bucket, key)
	if err != nil {
		return nil, info, err
	}
	return io.NopCloser(strings.NewReader(m[bucket+"/"+key].data)), info, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	router  *mux.Router
	db      *gorm.DB
	clock   *fakeClock
	objects memStorage
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger, _ := test.NewNullLogger()
	db := dbtest.New(t)
	clock := &fakeClock{now: time.Date(2024, 4, 2, 15, 0, 0, 0, time.UTC)}
	// httptest requests come from 192.0.2.1.
	_, proxies, err := net.ParseCIDR("192.0.2.0/24")
	require.NoError(t, err)
	cfg := &config.Config{
		JWTSecret:          testSecret,
		AllowedBuckets:     []string{"documents"},
		RequireOwnerPrefix: true,
		TrustedProxies:     []*net.IPNet{proxies},
	}
	objects := memStorage{
		"documents/acct-1/report.pdf": {data: "%PDF-1.7 quarterly numbers", contentType: "application/pdf"},
		"documents/acct-2/notes.txt":  {data: "hello", contentType: "text/plain"},
	}

	links := sharing.NewLinkStore(db)
	svc := sharing.NewService(logger, links, sharing.NewTokenIssuer(nil, links), objects, clock.Now)
	recorder := access.NewRecorder(logger, db, geo.NopLocator{}, 0, clock.Now)
	auditLog := audit.NewLog(logger, db, clock.Now)

	h := NewHandler(logger, cfg, db, svc, recorder, auditLog, objects)
	r := mux.NewRouter()
	r.Use(RequestIDMiddleware)
	ips := NewClientIPResolver(cfg.TrustedProxies)
	r.Use(LoggingMiddleware(logger, nil, ips))
	RegisterRoutes(r, h, NewRateLimiter(1000, time.Minute, ips))

	return &testEnv{router: r, db: db, clock: clock, objects: objects}
}

func bearer(t *testing.T, sub, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: role,
		Name: sub + "-name",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func (e *testEnv) do(t *testing.T, method, target, auth string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, reader)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createLink(t *testing.T, days int) linkResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/shared-files", bearer(t, "acct-1", "user"), map[string]interface{}{
		"accountId":     "acct-1",
		"bucket":        "documents",
		"path":          "acct-1/report.pdf",
		"filename":      "report.pdf",
		"size":          26,
		"expiresInDays": days,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var link linkResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &link))
	return link
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestCreateSharedFile(t *testing.T) {
	env := newTestEnv(t)

	link := env.createLink(t, 7)
	assert.Len(t, link.Token, sharing.TokenLength)
	assert.Equal(t, "/shared/"+link.Token, link.URL)
	assert.True(t, link.Active)
	assert.Equal(t, "active", link.Status)
	assert.Equal(t, link.IssuedAt.Add(7*24*time.Hour), link.ExpiresAt)
	require.NotNil(t, link.ContentType)
	assert.Equal(t, "application/pdf", *link.ContentType)
}

func TestCreateSharedFileRejections(t *testing.T) {
	env := newTestEnv(t)
	auth := bearer(t, "acct-1", "user")

	base := func() map[string]interface{} {
		return map[string]interface{}{
			"accountId":     "acct-1",
			"bucket":        "documents",
			"path":          "acct-1/report.pdf",
			"filename":      "report.pdf",
			"expiresInDays": 7,
		}
	}

	for _, days := range []int{0, 31, -1} {
		body := base()
		body["expiresInDays"] = days
		rec := env.do(t, http.MethodPost, "/shared-files", auth, body)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp errorResponse
		decode(t, rec, &resp)
		assert.Equal(t, 1, resp.MinDays)
		assert.Equal(t, 30, resp.MaxDays)
	}

	tests := []struct {
		name   string
		mutate func(map[string]interface{})
		status int
	}{
		{"missing object", func(b map[string]interface{}) { b["path"] = "acct-1/gone.pdf" }, http.StatusNotFound},
		{"other account", func(b map[string]interface{}) { b["accountId"] = "acct-2" }, http.StatusForbidden},
		{"foreign prefix", func(b map[string]interface{}) { b["path"] = "acct-2/notes.txt" }, http.StatusForbidden},
		{"bucket not allowed", func(b map[string]interface{}) { b["bucket"] = "private" }, http.StatusForbidden},
		{"path traversal", func(b map[string]interface{}) { b["path"] = "acct-1/../acct-2/notes.txt" }, http.StatusBadRequest},
		{"missing bucket", func(b map[string]interface{}) { delete(b, "bucket") }, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := base()
			tt.mutate(body)
			rec := env.do(t, http.MethodPost, "/shared-files", auth, body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	var count int64
	require.NoError(t, env.db.Model(&models.SharedLink{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/shared-files", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/shared-files", "Token abc", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/shared-files", "Bearer not.a.jwt", nil).Code)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "acct-1"}})
	signed, err := forged.SignedString([]byte("wrong-secret"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/shared-files", "Bearer "+signed, nil).Code)
}

func TestShareLifecycle(t *testing.T) {
	env := newTestEnv(t)
	link := env.createLink(t, 7)
	owner := bearer(t, "acct-1", "user")

	rec := env.do(t, http.MethodGet, "/shared/"+link.Token, "", nil,
		"X-Forwarded-For", "203.0.113.9",
		"Referer", "https://mail.example.com/inbox",
		"User-Agent", "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "%PDF-1.7 quarterly numbers", rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "inline")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "report.pdf")

	rec = env.do(t, http.MethodGet, "/shared/"+link.Token+"?download=1", "", nil, "X-Forwarded-For", "203.0.113.10")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")

	rec = env.do(t, http.MethodGet, "/shared/"+link.Token, "", nil,
		"X-Forwarded-For", "203.0.113.10",
		"X-Share-Access", "download")
	require.Equal(t, http.StatusOK, rec.Code)

	env.clock.Advance(8 * 24 * time.Hour)

	rec = env.do(t, http.MethodGet, "/shared/"+link.Token, "", nil, "X-Forwarded-For", "198.51.100.1")
	require.Equal(t, http.StatusGone, rec.Code)
	var gone errorResponse
	decode(t, rec, &gone)
	assert.Equal(t, "expired", gone.Status)

	rec = env.do(t, http.MethodGet, "/shared-files/"+link.Token+"/access-logs", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var logs accessLogResponse
	decode(t, rec, &logs)
	require.Len(t, logs.Events, 4)
	assert.Equal(t, models.AccessGranted, logs.Events[0].Status)
	assert.Equal(t, "https://mail.example.com/inbox", logs.Events[0].Referrer)
	assert.Equal(t, "Firefox", logs.Events[0].Browser)
	assert.False(t, logs.Events[0].IsDownload)
	assert.True(t, logs.Events[1].IsDownload)
	assert.True(t, logs.Events[2].IsDownload)
	assert.Equal(t, models.DirectReferrer, logs.Events[3].Referrer)
	assert.Equal(t, models.AccessExpired, logs.Events[3].Status)

	rec = env.do(t, http.MethodGet, "/shared-files/"+link.Token+"/stats", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]interface{}
	decode(t, rec, &stats)
	assert.EqualValues(t, 2, stats["view_count"])
	assert.EqualValues(t, 2, stats["download_count"])
	assert.EqualValues(t, 3, stats["unique_visitors"])
	assert.EqualValues(t, 1, stats["granted_views"])
	assert.EqualValues(t, 2, stats["granted_downloads"])
	assert.EqualValues(t, 1, stats["denied_count"])

	rec = env.do(t, http.MethodGet, "/shared-files/"+link.Token, owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var current linkResponse
	decode(t, rec, &current)
	assert.False(t, current.Active)
	assert.Equal(t, "expired", current.Status)
}

func TestServeSharedUnknownToken(t *testing.T) {
	env := newTestEnv(t)

	for _, token := range []string{"nope", strings.Repeat("A", sharing.TokenLength)} {
		rec := env.do(t, http.MethodGet, "/shared/"+token, "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	var count int64
	require.NoError(t, env.db.Model(&models.AccessEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestServeSharedHead(t *testing.T) {
	env := newTestEnv(t)
	link := env.createLink(t, 2)

	rec := env.do(t, http.MethodHead, "/shared/"+link.Token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "26", rec.Header().Get("Content-Length"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "report.pdf")
	assert.Zero(t, rec.Body.Len())

	env.clock.Advance(3 * 24 * time.Hour)
	rec = env.do(t, http.MethodHead, "/shared/"+link.Token, "", nil)
	assert.Equal(t, http.StatusGone, rec.Code)

	var count int64
	require.NoError(t, env.db.Model(&models.AccessEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestServeSharedMissingObject(t *testing.T) {
	env := newTestEnv(t)
	link := env.createLink(t, 2)
	delete(env.objects, "documents/acct-1/report.pdf")

	rec := env.do(t, http.MethodGet, "/shared/"+link.Token, "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var events []models.AccessEvent
	require.NoError(t, env.db.Where("resource_key = ?", link.Token).Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, models.AccessUnavailable, events[0].Status)
}

func TestServeSharedIgnoresUntrustedForwarding(t *testing.T) {
	env := newTestEnv(t)
	link := env.createLink(t, 2)

	req := httptest.NewRequest(http.MethodGet, "/shared/"+link.Token, nil)
	req.RemoteAddr = "198.51.100.20:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.77")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/shared/"+link.Token, "", nil, "X-Forwarded-For", strings.Repeat("x", 64))
	require.Equal(t, http.StatusOK, rec.Code)

	var events []models.AccessEvent
	require.NoError(t, env.db.Where("resource_key = ?", link.Token).Order("id").Find(&events).Error)
	require.Len(t, events, 2)
	assert.Equal(t, "198.51.100.20", events[0].IPAddress)
	assert.Equal(t, "192.0.2.1", events[1].IPAddress)
}

func TestRevokeSharedFile(t *testing.T) {
	env := newTestEnv(t)
	link := env.createLink(t, 3)
	owner := bearer(t, "acct-1", "user")

	rec := env.do(t, http.MethodDelete, "/shared-files/"+link.Token, bearer(t, "acct-2", "user"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodDelete, "/shared-files/"+strings.Repeat("B", sharing.TokenLength), owner, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/shared-files/"+link.Token, owner, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodDelete, "/shared-files/"+link.Token, owner, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/shared/"+link.Token, "", nil)
	require.Equal(t, http.StatusGone, rec.Code)
	var gone errorResponse
	decode(t, rec, &gone)
	assert.Equal(t, "revoked", gone.Status)

	rec = env.do(t, http.MethodGet, "/shared-files/"+link.Token+"/access-logs", bearer(t, "acct-2", "user"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListSharedFiles(t *testing.T) {
	env := newTestEnv(t)
	first := env.createLink(t, 1)
	env.clock.Advance(time.Minute)
	second := env.createLink(t, 2)

	rec := env.do(t, http.MethodGet, "/shared-files", bearer(t, "acct-1", "user"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var links []linkResponse
	decode(t, rec, &links)
	require.Len(t, links, 2)
	assert.Equal(t, second.Token, links[0].Token)
	assert.Equal(t, first.Token, links[1].Token)

	rec = env.do(t, http.MethodGet, "/shared-files", bearer(t, "acct-2", "user"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &links)
	assert.Empty(t, links)
}

func TestAdminLogs(t *testing.T) {
	env := newTestEnv(t)
	admin := bearer(t, "admin-1", RoleAdmin)

	rec := env.do(t, http.MethodGet, "/admin/logs", bearer(t, "acct-1", "user"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/admin/logs", admin, map[string]interface{}{
		"target_user_id":  "user-7",
		"target_username": "bob",
		"action":          "delete_account",
		"details":         map[string]interface{}{"reason": "requested by user", "hard_delete": false},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	env.clock.Advance(time.Minute)
	rec = env.do(t, http.MethodPost, "/admin/logs", admin, map[string]interface{}{
		"action":  "modify_subscription",
		"details": map[string]interface{}{"from_plan": "free", "to_plan": "pro"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/admin/logs", admin, map[string]interface{}{"action": "impersonate"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPost, "/admin/logs", admin, map[string]interface{}{
		"action":  "update_user",
		"details": map[string]interface{}{"whatever": true},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/admin/logs", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []map[string]interface{}
	decode(t, rec, &entries)
	require.Len(t, entries, 2)
	assert.Equal(t, "modify_subscription", entries[0]["action"])
	assert.Equal(t, "admin-1", entries[0]["admin_id"])
	assert.Equal(t, "admin-1-name", entries[0]["admin_username"])
	assert.Equal(t, "delete_account", entries[1]["action"])
	assert.Equal(t, map[string]interface{}{"reason": "requested by user", "hard_delete": false}, entries[1]["details"])

	rec = env.do(t, http.MethodGet, "/admin/logs?target_user_id=user-7", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &entries)
	assert.Len(t, entries, 1)

	rec = env.do(t, http.MethodGet, "/admin/logs?since=yesterday", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

package handlers

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sdko-org/sharelink/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const (
	clientIdleTTL      = 3 * time.Minute
	clientSweepPeriod  = time.Minute
	requestIDHeader    = "X-Request-ID"
	maxRequestIDLength = 64
)

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
	bytesSent  int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytesSent += n
	return n, err
}

// RequestIDMiddleware keeps a sane incoming X-Request-ID or assigns one.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// LoggingMiddleware logs every request and, when db is set, stores a
// RequestLog row in the background.
func LoggingMiddleware(logger *logrus.Logger, db *gorm.DB, ips *ClientIPResolver) func(http.Handler) http.Handler {
	logEntry := logger.WithField("component", "http_middleware")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			defer func() {
				duration := time.Since(start)
				entry := models.RequestLog{
					Timestamp: start.UTC(),
					RequestID: requestIDFrom(r.Context()),
					Method:    r.Method,
					Path:      r.URL.Path,
					Status:    lrw.statusCode,
					Duration:  duration,
					ClientIP:  ips.ClientIP(r),
					UserAgent: r.UserAgent(),
					BytesSent: lrw.bytesSent,
				}

				logEntry.WithFields(logrus.Fields{
					"request_id": entry.RequestID,
					"method":     entry.Method,
					"path":       redactSharePath(entry.Path),
					"status":     entry.Status,
					"duration":   duration,
					"client_ip":  entry.ClientIP,
					"bytes":      entry.BytesSent,
					"user_agent": entry.UserAgent,
				}).Info("Request processed")

				if db == nil {
					return
				}
				entry.Path = redactSharePath(entry.Path)
				go func() {
					ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()

					if err := db.WithContext(ctx).Create(&entry).Error; err != nil {
						logEntry.WithError(err).Warn("Failed to save request log")
					}
				}()
			}()

			next.ServeHTTP(lrw, r)
		})
	}
}

// redactSharePath keeps share tokens out of operational logs.
func redactSharePath(path string) string {
	const prefix = "/shared/"
	if strings.HasPrefix(path, prefix) && len(path) > len(prefix)+6 {
		return path[:len(prefix)+6] + "..."
	}
	return path
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out one token bucket per client IP. Idle clients are
// swept lazily on the request path.
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
	ips       *ClientIPResolver
}

func NewRateLimiter(requests int, window time.Duration, ips *ClientIPResolver) *RateLimiter {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(float64(requests) / window.Seconds()),
		burst:   requests,
		now:     time.Now,
		ips:     ips,
	}
}

func (rl *RateLimiter) Allow(clientIP string) bool {
	now := rl.now()

	rl.mu.Lock()
	if now.Sub(rl.lastSweep) > clientSweepPeriod {
		for ip, client := range rl.clients {
			if now.Sub(client.lastSeen) > clientIdleTTL {
				delete(rl.clients, ip)
			}
		}
		rl.lastSweep = now
	}

	client, exists := rl.clients[clientIP]
	if !exists {
		client = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[clientIP] = client
	}
	client.lastSeen = now
	rl.mu.Unlock()

	return client.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(rl.ips.ClientIP(r)) {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

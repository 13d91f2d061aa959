// Package eventlog is an append-only log of immutable rows stored through
// gorm. Access events and admin audit entries both sit on top of it.
package eventlog

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/sdko-org/sharelink/internal/database"
	"gorm.io/gorm"
)

// Record is implemented by row types the log can append. Stamp receives the
// server-assigned timestamp right before the insert.
type Record interface {
	Stamp(at time.Time)
}

// Query selects rows from a log. A zero Limit means no limit.
type Query struct {
	Scopes     []func(*gorm.DB) *gorm.DB
	Descending bool
	Limit      int
	Offset     int
}

const lockStripes = 64

// Log appends and lists rows of type T. P is *T.
type Log[T any, P interface {
	*T
	Record
}] struct {
	db         *gorm.DB
	timeColumn string
	now        func() time.Time
	stripes    [lockStripes]sync.Mutex
}

// New builds a log over the table of T, ordered by timeColumn then id.
func New[T any, P interface {
	*T
	Record
}](db *gorm.DB, timeColumn string, now func() time.Time) *Log[T, P] {
	if now == nil {
		now = time.Now
	}
	return &Log[T, P]{db: db, timeColumn: timeColumn, now: now}
}

// Append stamps rec with the server clock and inserts it. Appends sharing a
// key are serialized so id order matches timestamp order for that key.
// A transient storage error is retried once; the second failure is returned.
func (l *Log[T, P]) Append(ctx context.Context, key string, rec P) error {
	mu := l.stripe(key)
	mu.Lock()
	defer mu.Unlock()

	rec.Stamp(l.now().UTC().Truncate(time.Microsecond))

	err := database.RetryOnce(ctx, func() error {
		return l.db.WithContext(ctx).Create(rec).Error
	})
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// List returns rows matching q ordered by time, ties broken by id.
func (l *Log[T, P]) List(ctx context.Context, q Query) ([]T, error) {
	dir := "ASC"
	if q.Descending {
		dir = "DESC"
	}

	tx := l.db.WithContext(ctx).Model(P(new(T))).Scopes(q.Scopes...).
		Order(fmt.Sprintf("%s %s, id %s", l.timeColumn, dir, dir))
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if q.Offset > 0 {
		tx = tx.Offset(q.Offset)
	}

	var out []T
	if err := tx.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}

func (l *Log[T, P]) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &l.stripes[h.Sum32()%lockStripes]
}

// Package audit is the append-only record of administrative actions.
// Entries can be written and listed; nothing edits or removes them.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/sdko-org/sharelink/internal/eventlog"
	"github.com/sdko-org/sharelink/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// All entries share one ordering, so appends serialize on a single key.
const logKey = "admin_logs"

var ErrMissingActor = errors.New("audit entry requires an admin id")

type Entry struct {
	ID             uint64    `json:"id"`
	AdminID        string    `json:"admin_id"`
	AdminUsername  string    `json:"admin_username"`
	TargetUserID   *string   `json:"target_user_id,omitempty"`
	TargetUsername *string   `json:"target_username,omitempty"`
	Action         Action    `json:"action"`
	Details        Details   `json:"details"`
	CreatedAt      time.Time `json:"created_at"`
}

// Filter narrows List. Zero fields do not filter; Since is inclusive and
// Until exclusive.
type Filter struct {
	AdminID      string
	TargetUserID string
	Action       Action
	Since        time.Time
	Until        time.Time
	Limit        int
	Offset       int
}

type Log struct {
	events *eventlog.Log[models.AdminLogEntry, *models.AdminLogEntry]
	log    *logrus.Entry
}

func NewLog(logger *logrus.Logger, db *gorm.DB, now func() time.Time) *Log {
	return &Log{
		events: eventlog.New[models.AdminLogEntry](db, "created_at", now),
		log:    logger.WithField("component", "audit_log"),
	}
}

// Append stores e with a server-assigned id and timestamp and returns the
// stored entry. Caller-supplied ID and CreatedAt are ignored.
func (l *Log) Append(ctx context.Context, e Entry) (*Entry, error) {
	if e.AdminID == "" {
		return nil, ErrMissingActor
	}
	action, err := ParseAction(string(e.Action))
	if err != nil {
		return nil, err
	}
	details, err := encodeDetails(action, e.Details)
	if err != nil {
		return nil, err
	}

	row := &models.AdminLogEntry{
		AdminID:        e.AdminID,
		AdminUsername:  e.AdminUsername,
		TargetUserID:   e.TargetUserID,
		TargetUsername: e.TargetUsername,
		Action:         string(action),
		Details:        details,
	}
	if err := l.events.Append(ctx, logKey, row); err != nil {
		l.log.WithFields(logrus.Fields{
			"admin_id": e.AdminID,
			"action":   action,
		}).WithError(err).Error("Failed to append audit entry")
		return nil, err
	}

	l.log.WithFields(logrus.Fields{
		"id":       row.ID,
		"admin_id": row.AdminID,
		"action":   row.Action,
	}).Info("Audit entry recorded")

	out := fromRow(*row)
	return &out, nil
}

// List returns entries newest first.
func (l *Log) List(ctx context.Context, f Filter) ([]Entry, error) {
	rows, err := l.events.List(ctx, eventlog.Query{
		Scopes:     []func(*gorm.DB) *gorm.DB{f.scope},
		Descending: true,
		Limit:      f.Limit,
		Offset:     f.Offset,
	})
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, fromRow(row))
	}
	return entries, nil
}

func (f Filter) scope(db *gorm.DB) *gorm.DB {
	if f.AdminID != "" {
		db = db.Where("admin_id = ?", f.AdminID)
	}
	if f.TargetUserID != "" {
		db = db.Where("target_user_id = ?", f.TargetUserID)
	}
	if f.Action != "" {
		db = db.Where("action = ?", string(f.Action))
	}
	if !f.Since.IsZero() {
		db = db.Where("created_at >= ?", f.Since.UTC())
	}
	if !f.Until.IsZero() {
		db = db.Where("created_at < ?", f.Until.UTC())
	}
	return db
}

func fromRow(row models.AdminLogEntry) Entry {
	action := Action(row.Action)
	return Entry{
		ID:             row.ID,
		AdminID:        row.AdminID,
		AdminUsername:  row.AdminUsername,
		TargetUserID:   row.TargetUserID,
		TargetUsername: row.TargetUsername,
		Action:         action,
		Details:        DecodeDetails(action, row.Details),
		CreatedAt:      row.CreatedAt,
	}
}

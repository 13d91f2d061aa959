// Package access records visits to shared links and summarizes them.
package access

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mssola/user_agent"
	"github.com/sdko-org/sharelink/internal/eventlog"
	"github.com/sdko-org/sharelink/internal/geo"
	"github.com/sdko-org/sharelink/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	maxHeaderLen = 500
	maxIPLen     = 45
)

var ErrInvalidKey = errors.New("invalid resource key")

// Input is what the caller knows about a visit. Status defaults to granted.
type Input struct {
	IPAddress  string
	UserAgent  string
	Referrer   string
	IsDownload bool
	Status     string
}

type Recorder struct {
	events     *eventlog.Log[models.AccessEvent, *models.AccessEvent]
	locator    geo.Locator
	geoTimeout time.Duration
	log        *logrus.Entry
}

func NewRecorder(logger *logrus.Logger, db *gorm.DB, locator geo.Locator, geoTimeout time.Duration, now func() time.Time) *Recorder {
	if locator == nil {
		locator = geo.NopLocator{}
	}
	if geoTimeout <= 0 {
		geoTimeout = 500 * time.Millisecond
	}
	return &Recorder{
		events:     eventlog.New[models.AccessEvent](db, "occurred_at", now),
		locator:    locator,
		geoTimeout: geoTimeout,
		log:        logger.WithField("component", "access_recorder"),
	}
}

// Record appends one visit for key. The timestamp and id come from the
// server; a failed geo lookup leaves the location empty.
func (r *Recorder) Record(ctx context.Context, key string, in Input) (*models.AccessEvent, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}

	status := in.Status
	switch status {
	case "":
		status = models.AccessGranted
	case models.AccessGranted, models.AccessExpired, models.AccessRevoked, models.AccessUnavailable:
	default:
		return nil, fmt.Errorf("unknown access status %q", status)
	}

	referrer := truncate(in.Referrer, maxHeaderLen)
	if referrer == "" {
		referrer = models.DirectReferrer
	}

	event := &models.AccessEvent{
		ResourceKey: key,
		Status:      status,
		IPAddress:   truncate(in.IPAddress, maxIPLen),
		UserAgent:   truncate(in.UserAgent, maxHeaderLen),
		Referrer:    referrer,
		IsDownload:  in.IsDownload,
	}

	if in.UserAgent != "" {
		ua := user_agent.New(in.UserAgent)
		event.Browser, _ = ua.Browser()
		event.OS = ua.OSInfo().Name
		event.IsBot = ua.Bot()
	}

	loc := r.locate(ctx, in.IPAddress)
	event.Country = loc.Country
	event.City = loc.City

	if err := r.events.Append(ctx, key, event); err != nil {
		r.log.WithFields(logrus.Fields{
			"resource_key": key,
			"status":       status,
		}).WithError(err).Error("Failed to record access event")
		return nil, err
	}
	return event, nil
}

// ListByResource returns events for key oldest first. A zero limit returns
// everything.
func (r *Recorder) ListByResource(ctx context.Context, key string, limit, offset int) ([]models.AccessEvent, error) {
	return r.events.List(ctx, eventlog.Query{
		Scopes: []func(*gorm.DB) *gorm.DB{func(db *gorm.DB) *gorm.DB {
			return db.Where("resource_key = ?", key)
		}},
		Limit:  limit,
		Offset: offset,
	})
}

func (r *Recorder) locate(ctx context.Context, ip string) geo.Location {
	if ip == "" {
		return geo.Location{}
	}

	ctx, cancel := context.WithTimeout(ctx, r.geoTimeout)
	defer cancel()

	loc, err := r.locator.Locate(ctx, ip)
	if err != nil {
		r.log.WithField("ip", ip).WithError(err).Warn("Geo lookup failed")
		return geo.Location{}
	}
	return loc
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

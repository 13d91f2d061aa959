// Package geo resolves client addresses to a coarse location. Lookups are
// best effort: callers treat any error as "location unknown".
package geo

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/sdko-org/sharelink/internal/config"
	"github.com/sirupsen/logrus"
)

var ErrInvalidIP = errors.New("invalid ip address")

// Location is a lookup result. Either field may be nil when the provider
// has no answer for it.
type Location struct {
	Country *string
	City    *string
}

type Locator interface {
	Locate(ctx context.Context, ip string) (Location, error)
}

// NopLocator never knows where anyone is.
type NopLocator struct{}

func (NopLocator) Locate(context.Context, string) (Location, error) {
	return Location{}, nil
}

// New picks the MaxMind database when configured, then the HTTP provider,
// and falls back to NopLocator.
func New(logger *logrus.Logger, cfg *config.Config) (Locator, error) {
	log := logger.WithField("component", "geo")

	switch {
	case cfg.GeoIPDBPath != "":
		locator, err := OpenMaxMind(cfg.GeoIPDBPath)
		if err != nil {
			return nil, err
		}
		log.WithField("path", cfg.GeoIPDBPath).Info("Using MaxMind geo database")
		return locator, nil
	case cfg.GeoIPHTTPEndpoint != "":
		log.WithField("endpoint", cfg.GeoIPHTTPEndpoint).Info("Using HTTP geo provider")
		return NewHTTPLocator(logger, cfg.GeoIPHTTPEndpoint, cfg.GeoIPTimeout), nil
	default:
		log.Info("Geo lookup disabled")
		return NopLocator{}, nil
	}
}

// parsePublicIP returns nil for addresses that have no public location.
func parsePublicIP(ip string) (net.IP, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, ErrInvalidIP
	}
	if parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() ||
		parsed.IsLinkLocalUnicast() || parsed.IsLinkLocalMulticast() {
		return nil, nil
	}
	return parsed, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

const defaultTimeout = 500 * time.Millisecond

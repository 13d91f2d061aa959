package geo

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

type cityReader interface {
	City(ip net.IP) (*geoip2.City, error)
	Close() error
}

// MaxMindLocator reads a local GeoLite2/GeoIP2 City database.
type MaxMindLocator struct {
	db cityReader
}

func OpenMaxMind(path string) (*MaxMindLocator, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geo database: %w", err)
	}
	return &MaxMindLocator{db: db}, nil
}

func (m *MaxMindLocator) Locate(ctx context.Context, ip string) (Location, error) {
	parsed, err := parsePublicIP(ip)
	if err != nil || parsed == nil {
		return Location{}, err
	}
	if err := ctx.Err(); err != nil {
		return Location{}, err
	}

	city, err := m.db.City(parsed)
	if err != nil {
		return Location{}, fmt.Errorf("geo lookup failed: %w", err)
	}

	// English names only.
	return Location{
		Country: optional(city.Country.Names["en"]),
		City:    optional(city.City.Names["en"]),
	}, nil
}

func (m *MaxMindLocator) Close() error {
	return m.db.Close()
}

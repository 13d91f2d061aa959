package access

import (
	"net/url"
	"time"

	"github.com/sdko-org/sharelink/internal/models"
)

const unknownBucket = "unknown"

// Stats summarizes the events of one shared link. ViewCount, DownloadCount
// and UniqueVisitors count every recorded attempt; the Granted fields and
// DeniedCount split them by outcome.
type Stats struct {
	ViewCount        int            `json:"view_count"`
	DownloadCount    int            `json:"download_count"`
	UniqueVisitors   int            `json:"unique_visitors"`
	GrantedViews     int            `json:"granted_views"`
	GrantedDownloads int            `json:"granted_downloads"`
	DeniedCount      int            `json:"denied_count"`
	BotCount         int            `json:"bot_count"`
	Countries        map[string]int `json:"countries"`
	Referrers        map[string]int `json:"referrers"`
	Browsers         map[string]int `json:"browsers"`
	FirstAccess      *time.Time     `json:"first_access,omitempty"`
	LastAccess       *time.Time     `json:"last_access,omitempty"`
}

// Aggregate computes Stats from events. It holds no state, so the result
// always matches the log it was given.
func Aggregate(events []models.AccessEvent) Stats {
	stats := Stats{
		Countries: make(map[string]int),
		Referrers: make(map[string]int),
		Browsers:  make(map[string]int),
	}
	visitors := make(map[string]struct{})

	for i := range events {
		e := &events[i]
		granted := e.Status == "" || e.Status == models.AccessGranted

		if e.IsDownload {
			stats.DownloadCount++
			if granted {
				stats.GrantedDownloads++
			}
		} else {
			stats.ViewCount++
			if granted {
				stats.GrantedViews++
			}
		}
		if !granted {
			stats.DeniedCount++
		}
		if e.IsBot {
			stats.BotCount++
		}
		visitors[e.IPAddress] = struct{}{}

		stats.Countries[valueOr(e.Country, unknownBucket)]++
		stats.Referrers[referrerHost(e.Referrer)]++
		if e.Browser != "" {
			stats.Browsers[e.Browser]++
		} else {
			stats.Browsers[unknownBucket]++
		}

		at := e.OccurredAt
		if stats.FirstAccess == nil || at.Before(*stats.FirstAccess) {
			stats.FirstAccess = &at
		}
		if stats.LastAccess == nil || at.After(*stats.LastAccess) {
			stats.LastAccess = &at
		}
	}

	stats.UniqueVisitors = len(visitors)
	return stats
}

func referrerHost(ref string) string {
	if ref == "" || ref == models.DirectReferrer {
		return models.DirectReferrer
	}
	u, err := url.Parse(ref)
	if err != nil || u.Host == "" {
		return unknownBucket
	}
	return u.Hostname()
}

func valueOr(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}

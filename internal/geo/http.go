package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// HTTPLocator asks a JSON geo provider. The endpoint may carry an {ip}
// placeholder; otherwise the address is appended as a path segment.
type HTTPLocator struct {
	httpClient *http.Client
	endpoint   string
	log        *logrus.Entry
}

type httpLocation struct {
	Country     string `json:"country"`
	CountryName string `json:"country_name"`
	City        string `json:"city"`
}

type loggingTransport struct {
	base http.RoundTripper
	log  *logrus.Entry
}

func NewHTTPLocator(logger *logrus.Logger, endpoint string, timeout time.Duration) *HTTPLocator {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPLocator{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &loggingTransport{
				base: http.DefaultTransport,
				log:  logger.WithField("component", "geo_transport"),
			},
		},
		endpoint: endpoint,
		log:      logger.WithField("component", "geo_client"),
	}
}

func (h *HTTPLocator) Locate(ctx context.Context, ip string) (Location, error) {
	parsed, err := parsePublicIP(ip)
	if err != nil || parsed == nil {
		return Location{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.lookupURL(parsed.String()), nil)
	if err != nil {
		return Location{}, fmt.Errorf("failed to build geo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Sharelink/1.0")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("geo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		h.log.WithField("status_code", resp.StatusCode).Debug("Geo provider returned no answer")
		return Location{}, fmt.Errorf("geo provider returned status %d", resp.StatusCode)
	}

	var body httpLocation
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("failed to decode geo response: %w", err)
	}

	country := body.CountryName
	if country == "" {
		country = body.Country
	}
	return Location{Country: optional(country), City: optional(body.City)}, nil
}

func (h *HTTPLocator) lookupURL(ip string) string {
	if strings.Contains(h.endpoint, "{ip}") {
		return strings.ReplaceAll(h.endpoint, "{ip}", ip)
	}
	return strings.TrimRight(h.endpoint, "/") + "/" + ip
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	log := t.log.WithFields(logrus.Fields{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		log.WithError(err).Warn("HTTP request failed")
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"status_code": resp.StatusCode,
		"duration":    time.Since(start),
	}).Debug("HTTP request completed")
	return resp, nil
}

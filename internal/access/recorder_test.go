package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sdko-org/sharelink/internal/database/dbtest"
	"github.com/sdko-org/sharelink/internal/geo"
	"github.com/sdko-org/sharelink/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type stubLocator struct {
	loc geo.Location
	err error
}

func (s stubLocator) Locate(context.Context, string) (geo.Location, error) {
	return s.loc, s.err
}

type slowLocator struct{}

func (slowLocator) Locate(ctx context.Context, _ string) (geo.Location, error) {
	<-ctx.Done()
	return geo.Location{}, ctx.Err()
}

func ptr(s string) *string { return &s }

func TestRecordFillsServerFields(t *testing.T) {
	logger, _ := test.NewNullLogger()
	now := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)
	locator := stubLocator{loc: geo.Location{Country: ptr("Germany"), City: ptr("Berlin")}}
	rec := NewRecorder(logger, dbtest.New(t), locator, time.Second, func() time.Time { return now })

	event, err := rec.Record(context.Background(), "tok", Input{
		IPAddress:  "81.2.69.142",
		UserAgent:  chromeUA,
		IsDownload: true,
	})
	require.NoError(t, err)

	assert.NotZero(t, event.ID)
	assert.Equal(t, now.Truncate(time.Microsecond), event.OccurredAt)
	assert.Equal(t, models.AccessGranted, event.Status)
	assert.Equal(t, models.DirectReferrer, event.Referrer)
	assert.Equal(t, "Chrome", event.Browser)
	assert.Contains(t, event.OS, "Windows")
	assert.False(t, event.IsBot)
	assert.True(t, event.IsDownload)
	assert.Equal(t, "Germany", *event.Country)
	assert.Equal(t, "Berlin", *event.City)
}

func TestRecordGeoFailureIsNotFatal(t *testing.T) {
	logger, hook := test.NewNullLogger()
	rec := NewRecorder(logger, dbtest.New(t), stubLocator{err: errors.New("provider down")}, time.Second, nil)

	event, err := rec.Record(context.Background(), "tok", Input{IPAddress: "8.8.8.8"})
	require.NoError(t, err)
	assert.Nil(t, event.Country)
	assert.Nil(t, event.City)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "Geo lookup failed", hook.LastEntry().Message)
}

func TestRecordGeoTimeoutDoesNotBlock(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rec := NewRecorder(logger, dbtest.New(t), slowLocator{}, 20*time.Millisecond, nil)

	start := time.Now()
	event, err := rec.Record(context.Background(), "tok", Input{IPAddress: "8.8.8.8"})
	require.NoError(t, err)
	assert.Nil(t, event.Country)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRecordValidation(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rec := NewRecorder(logger, dbtest.New(t), nil, 0, nil)

	_, err := rec.Record(context.Background(), "", Input{})
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = rec.Record(context.Background(), "tok", Input{Status: "maybe"})
	assert.Error(t, err)

	event, err := rec.Record(context.Background(), "tok", Input{
		Status:    models.AccessExpired,
		Referrer:  "https://mail.example.com/" + strings.Repeat("x", 600),
		UserAgent: strings.Repeat("é", 400),
	})
	require.NoError(t, err)
	assert.Equal(t, models.AccessExpired, event.Status)
	assert.Len(t, event.Referrer, maxHeaderLen)
	assert.LessOrEqual(t, len(event.UserAgent), maxHeaderLen)
	assert.True(t, strings.HasPrefix(event.UserAgent, "é"))

	event, err = rec.Record(context.Background(), "tok", Input{
		Status:    models.AccessUnavailable,
		IPAddress: strings.Repeat("1", 80),
	})
	require.NoError(t, err)
	assert.Equal(t, models.AccessUnavailable, event.Status)
	assert.Len(t, event.IPAddress, maxIPLen)
}

func TestRecordDetectsBots(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rec := NewRecorder(logger, dbtest.New(t), nil, 0, nil)

	event, err := rec.Record(context.Background(), "tok", Input{
		UserAgent: "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
	})
	require.NoError(t, err)
	assert.True(t, event.IsBot)
}

func TestListByResourceOrdering(t *testing.T) {
	logger, _ := test.NewNullLogger()
	db := dbtest.New(t)

	var mu sync.Mutex
	clock := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	rec := NewRecorder(logger, db, nil, 0, now)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := rec.Record(ctx, "tok-a", Input{IPAddress: fmt.Sprintf("10.0.0.%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	_, err := rec.Record(ctx, "tok-b", Input{IPAddress: "10.0.1.1"})
	require.NoError(t, err)
	wg.Wait()

	events, err := rec.ListByResource(ctx, "tok-a", 0, 0)
	require.NoError(t, err)
	require.Len(t, events, n)
	for i := 1; i < len(events); i++ {
		assert.True(t, events[i-1].OccurredAt.Before(events[i].OccurredAt))
		assert.Less(t, events[i-1].ID, events[i].ID)
	}

	page, err := rec.ListByResource(ctx, "tok-a", 5, 5)
	require.NoError(t, err)
	require.Len(t, page, 5)
	assert.Equal(t, events[5].ID, page[0].ID)

	other, err := rec.ListByResource(ctx, "tok-b", 0, 0)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

package eventlog

import (
	"context"
	"database/sql/driver"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sdko-org/sharelink/internal/database/dbtest"
	"github.com/sdko-org/sharelink/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newAccessLog(t *testing.T, now func() time.Time) (*Log[models.AccessEvent, *models.AccessEvent], *gorm.DB) {
	db := dbtest.New(t)
	return New[models.AccessEvent](db, "occurred_at", now), db
}

func byKey(key string) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB { return tx.Where("resource_key = ?", key) }
}

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	log, _ := newAccessLog(t, func() time.Time { return fixed })
	ctx := context.Background()

	ev := &models.AccessEvent{ResourceKey: "k", IPAddress: "10.0.0.1", Referrer: models.DirectReferrer, Status: models.AccessGranted}
	require.NoError(t, log.Append(ctx, "k", ev))

	assert.NotZero(t, ev.ID)
	assert.True(t, fixed.Equal(ev.OccurredAt))

	got, err := log.List(ctx, Query{Scopes: []func(*gorm.DB) *gorm.DB{byKey("k")}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ev.ID, got[0].ID)
	assert.True(t, fixed.Equal(got[0].OccurredAt))
}

func TestListOrderingAndPaging(t *testing.T) {
	var tick atomic.Int64
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	log, _ := newAccessLog(t, func() time.Time {
		return base.Add(time.Duration(tick.Add(1)) * time.Second)
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, log.Append(ctx, "a", &models.AccessEvent{ResourceKey: "a", IPAddress: fmt.Sprintf("10.0.0.%d", i), Referrer: "direct"}))
	}
	require.NoError(t, log.Append(ctx, "b", &models.AccessEvent{ResourceKey: "b", IPAddress: "10.0.1.1", Referrer: "direct"}))

	asc, err := log.List(ctx, Query{Scopes: []func(*gorm.DB) *gorm.DB{byKey("a")}})
	require.NoError(t, err)
	require.Len(t, asc, 5)
	for i := 1; i < len(asc); i++ {
		assert.False(t, asc[i].OccurredAt.Before(asc[i-1].OccurredAt))
		assert.Greater(t, asc[i].ID, asc[i-1].ID)
	}

	desc, err := log.List(ctx, Query{Scopes: []func(*gorm.DB) *gorm.DB{byKey("a")}, Descending: true, Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, desc, 2)
	assert.Equal(t, asc[3].ID, desc[0].ID)
	assert.Equal(t, asc[2].ID, desc[1].ID)
}

func TestAppendRetriesTransientErrorOnce(t *testing.T) {
	log, db := newAccessLog(t, nil)
	ctx := context.Background()

	var failures atomic.Int32
	failures.Store(1)
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:flaky", func(tx *gorm.DB) {
		if failures.Add(-1) >= 0 {
			tx.AddError(driver.ErrBadConn)
		}
	}))

	ev := &models.AccessEvent{ResourceKey: "k", IPAddress: "10.0.0.1", Referrer: "direct"}
	require.NoError(t, log.Append(ctx, "k", ev))

	var count int64
	require.NoError(t, db.Model(&models.AccessEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestAppendSurfacesRepeatedFailure(t *testing.T) {
	log, db := newAccessLog(t, nil)
	ctx := context.Background()

	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:down", func(tx *gorm.DB) {
		tx.AddError(driver.ErrBadConn)
	}))

	err := log.Append(ctx, "k", &models.AccessEvent{ResourceKey: "k", IPAddress: "10.0.0.1", Referrer: "direct"})
	assert.ErrorIs(t, err, driver.ErrBadConn)
}

func TestConcurrentAppendsKeepArrivalOrder(t *testing.T) {
	var tick atomic.Int64
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	log, _ := newAccessLog(t, func() time.Time {
		return base.Add(time.Duration(tick.Add(1)) * time.Millisecond)
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := &models.AccessEvent{ResourceKey: "hot", IPAddress: fmt.Sprintf("10.0.0.%d", i), Referrer: "direct"}
			assert.NoError(t, log.Append(ctx, "hot", ev))
		}(i)
	}
	wg.Wait()

	got, err := log.List(ctx, Query{Scopes: []func(*gorm.DB) *gorm.DB{byKey("hot")}})
	require.NoError(t, err)
	require.Len(t, got, 20)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i].OccurredAt.After(got[i-1].OccurredAt), "id order and time order agree")
	}
}

func TestRowsAreImmutable(t *testing.T) {
	log, db := newAccessLog(t, nil)
	ctx := context.Background()

	ev := &models.AccessEvent{ResourceKey: "k", IPAddress: "10.0.0.1", Referrer: "direct"}
	require.NoError(t, log.Append(ctx, "k", ev))

	err := db.Model(ev).Update("ip_address", "10.9.9.9").Error
	assert.ErrorIs(t, err, models.ErrImmutable)

	err = db.Delete(ev).Error
	assert.ErrorIs(t, err, models.ErrImmutable)

	var stored models.AccessEvent
	require.NoError(t, db.First(&stored, ev.ID).Error)
	assert.Equal(t, "10.0.0.1", stored.IPAddress)
}

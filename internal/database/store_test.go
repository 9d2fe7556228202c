package database

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/EvgenyQA404/perfume/internal/config"
	"github.com/EvgenyQA404/perfume/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

// fakeClock hands out timestamps the test controls
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestDB(t *testing.T, clock *fakeClock, defaultCurrency string) *GormDB {
	t.Helper()

	cfg := config.DatabaseConfig{
		Type:            "sqlite",
		DefaultCurrency: defaultCurrency,
		SQLite:          config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "prices.sqlite3")},
	}
	gdb, err := Open(cfg, WithNowFunc(clock.Now), WithLogLevel(logger.Silent))
	require.NoError(t, err)
	require.NoError(t, gdb.InitSchema())
	t.Cleanup(func() { _ = gdb.Close() })
	return gdb
}

func TestResolveOrCreateProductIsIdempotent(t *testing.T) {
	ctx := context.Background()
	gdb := newTestDB(t, newFakeClock(), "")

	first, err := gdb.ResolveOrCreateProduct(ctx, "Widget")
	require.NoError(t, err)
	second, err := gdb.ResolveOrCreateProduct(ctx, "Widget")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// exact match only: a different spelling is a different product
	other, err := gdb.ResolveOrCreateProduct(ctx, "widget")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	products, err := gdb.ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 2)
}

func TestResolveOrCreateProductRejectsEmptyName(t *testing.T) {
	ctx := context.Background()
	gdb := newTestDB(t, newFakeClock(), "")

	for _, name := range []string{"", "   "} {
		_, err := gdb.ResolveOrCreateProduct(ctx, name)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}

	products, err := gdb.ListProducts(ctx)
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestResolveOrCreateProductConcurrentCallers(t *testing.T) {
	ctx := context.Background()
	gdb := newTestDB(t, newFakeClock(), "")

	const callers = 8
	ids := make([]uint, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = gdb.ResolveOrCreateProduct(ctx, "X")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	var count int64
	require.NoError(t, gdb.DB().Model(&models.Product{}).Where("name = ?", "X").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestAppendObservationValidation(t *testing.T) {
	ctx := context.Background()
	gdb := newTestDB(t, newFakeClock(), "")

	id, err := gdb.ResolveOrCreateProduct(ctx, "Widget")
	require.NoError(t, err)

	err = gdb.AppendObservation(ctx, id, -1, "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	err = gdb.AppendObservation(ctx, id+100, 500, "")
	assert.ErrorIs(t, err, ErrNotFound)

	// zero is a valid price
	require.NoError(t, gdb.AppendObservation(ctx, id, 0, ""))

	stats, err := gdb.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Observations)
}

func TestAppendObservationCurrencyTag(t *testing.T) {
	ctx := context.Background()
	gdb := newTestDB(t, newFakeClock(), "rub")

	id, err := gdb.ResolveOrCreateProduct(ctx, "Widget")
	require.NoError(t, err)
	require.NoError(t, gdb.AppendObservation(ctx, id, 100, ""))
	require.NoError(t, gdb.AppendObservation(ctx, id, 200, " usd "))

	history, err := gdb.FullHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.NotNil(t, history[0].Currency)
	assert.Equal(t, "RUB", *history[0].Currency)
	assert.Equal(t, "USD", *history[1].Currency)
}

func TestAppendObservationWithoutDefaultCurrencyStoresNull(t *testing.T) {
	ctx := context.Background()
	gdb := newTestDB(t, newFakeClock(), "")

	id, err := gdb.ResolveOrCreateProduct(ctx, "Widget")
	require.NoError(t, err)
	require.NoError(t, gdb.AppendObservation(ctx, id, 100, ""))

	history, err := gdb.FullHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Nil(t, history[0].Currency)
}

func TestLatestTwo(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	gdb := newTestDB(t, clock, "")

	id, err := gdb.ResolveOrCreateProduct(ctx, "Widget")
	require.NoError(t, err)

	latest, previous, err := gdb.LatestTwo(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, latest)
	assert.Nil(t, previous)

	require.NoError(t, gdb.AppendObservation(ctx, id, 100, ""))
	latest, previous, err = gdb.LatestTwo(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(100), *latest)
	assert.Nil(t, previous)

	for _, amount := range []int64{150, 120} {
		clock.Advance(time.Hour)
		require.NoError(t, gdb.AppendObservation(ctx, id, amount, ""))
	}
	latest, previous, err = gdb.LatestTwo(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(120), *latest)
	assert.Equal(t, int64(150), *previous)

	_, _, err = gdb.LatestTwo(ctx, id+100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLatestTwoBreaksTimestampTiesByInsertionOrder(t *testing.T) {
	ctx := context.Background()
	// clock never advances: every observation shares one timestamp
	gdb := newTestDB(t, newFakeClock(), "")

	id, err := gdb.ResolveOrCreateProduct(ctx, "Widget")
	require.NoError(t, err)
	for _, amount := range []int64{100, 150, 120} {
		require.NoError(t, gdb.AppendObservation(ctx, id, amount, ""))
	}

	latest, previous, err := gdb.LatestTwo(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(120), *latest)
	assert.Equal(t, int64(150), *previous)

	history, err := gdb.FullHistory(ctx)
	require.NoError(t, err)
	amounts := make([]int64, 0, len(history))
	for _, row := range history {
		amounts = append(amounts, row.Amount)
	}
	assert.Equal(t, []int64{100, 150, 120}, amounts)
}

func TestFullHistoryOrdering(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	gdb := newTestDB(t, clock, "")

	// insertion order deliberately differs from name order
	record := func(name string, amount int64) {
		_, err := gdb.Ingest(ctx, name, amount, "")
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}
	record("B", 50)
	record("A", 200)
	record("a", 7)
	record("A", 180)

	history, err := gdb.FullHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 4)

	type key struct {
		name   string
		amount int64
	}
	var got []key
	for _, row := range history {
		got = append(got, key{row.Name, row.Amount})
	}
	assert.Equal(t, []key{{"A", 200}, {"A", 180}, {"B", 50}, {"a", 7}}, got)
	assert.True(t, history[0].ObservedAt.Before(history[1].ObservedAt))
	assert.Less(t, history[0].Seq, history[1].Seq)
}

func TestFullHistoryEmpty(t *testing.T) {
	gdb := newTestDB(t, newFakeClock(), "")

	history, err := gdb.FullHistory(context.Background())
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	gdb := newTestDB(t, clock, "")

	res, err := gdb.Ingest(ctx, "Widget", 100, "usd")
	require.NoError(t, err)
	assert.Nil(t, res.Previous)
	assert.Equal(t, "Widget", res.Name)
	require.NotNil(t, res.Currency)
	assert.Equal(t, "USD", *res.Currency)
	assert.Equal(t, clock.Now(), res.ObservedAt)

	clock.Advance(time.Hour)
	again, err := gdb.Ingest(ctx, "Widget", 150, "usd")
	require.NoError(t, err)
	assert.Equal(t, res.ProductID, again.ProductID)
	require.NotNil(t, again.Previous)
	assert.Equal(t, int64(100), *again.Previous)
}

func TestIngestRejectsBeforeAnyMutation(t *testing.T) {
	ctx := context.Background()
	gdb := newTestDB(t, newFakeClock(), "")

	_, err := gdb.Ingest(ctx, "Widget", -5, "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = gdb.Ingest(ctx, "", 5, "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	stats, err := gdb.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Products)
	assert.Equal(t, int64(0), stats.Observations)
	assert.Nil(t, stats.LastObservedAt)
}

func TestGetProductAndStats(t *testing.T) {
	ctx := context.Background()
	gdb := newTestDB(t, newFakeClock(), "")

	res, err := gdb.Ingest(ctx, "Widget", 100, "")
	require.NoError(t, err)

	p, err := gdb.GetProduct(ctx, res.ProductID)
	require.NoError(t, err)
	assert.Equal(t, "Widget", p.Name)

	_, err = gdb.GetProduct(ctx, res.ProductID+1)
	assert.ErrorIs(t, err, ErrNotFound)

	stats, err := gdb.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Products)
	assert.Equal(t, int64(1), stats.Observations)
	assert.Equal(t, "Widget", stats.LastProductName)
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "durable.sqlite3")
	cfg := config.DatabaseConfig{Type: "sqlite", SQLite: config.SQLiteConfig{Path: path}}

	gdb, err := Open(cfg, WithLogLevel(logger.Silent))
	require.NoError(t, err)
	require.NoError(t, gdb.InitSchema())
	_, err = gdb.Ingest(ctx, "Widget", 100, "")
	require.NoError(t, err)
	require.NoError(t, gdb.Close())

	reopened, err := Open(cfg, WithLogLevel(logger.Silent))
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.InitSchema())

	history, err := reopened.FullHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(100), history[0].Amount)
}

func TestOpenRejectsUnknownType(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Type: "oracle"})
	assert.Error(t, err)
}

func TestOpenReportsUncreatableDirectory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	_, err := Open(config.DatabaseConfig{
		Type:   "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(blocker, "data", "prices.sqlite3")},
	}, WithLogLevel(logger.Silent))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create database directory")
}

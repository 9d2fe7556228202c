package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/EvgenyQA404/perfume/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func obs(seq, productID uint, name string, amount int64, offset time.Duration) models.HistoryRow {
	return models.HistoryRow{
		Seq:        seq,
		ProductID:  productID,
		Name:       name,
		Amount:     amount,
		ObservedAt: base.Add(offset),
	}
}

func TestDeriveLatestAndPrevious(t *testing.T) {
	history := []models.HistoryRow{
		obs(1, 1, "A", 100, 0),
		obs(2, 1, "A", 150, time.Hour),
		obs(3, 1, "A", 120, 2*time.Hour),
	}

	rows := Derive(history)
	require.Len(t, rows, 1)

	r := rows[0]
	assert.Equal(t, "A", r.Name)
	assert.Equal(t, int64(120), r.Latest)
	require.NotNil(t, r.Previous)
	assert.Equal(t, int64(150), *r.Previous)
	require.NotNil(t, r.Delta)
	assert.Equal(t, int64(-30), *r.Delta)
	require.NotNil(t, r.DeltaPct)
	assert.Equal(t, "-20", r.DeltaPct.String())
	assert.Equal(t, base.Add(2*time.Hour), r.ObservedAt)
	assert.Equal(t, base.Add(time.Hour), *r.PreviousObservedAt)
	assert.Equal(t, DirectionDown, r.Direction())
}

func TestDeriveSingleObservation(t *testing.T) {
	rows := Derive([]models.HistoryRow{obs(1, 1, "A", 100, 0)})
	require.Len(t, rows, 1)

	r := rows[0]
	assert.Equal(t, int64(100), r.Latest)
	assert.Nil(t, r.Previous)
	assert.Nil(t, r.Delta)
	assert.Nil(t, r.DeltaPct)
	assert.Nil(t, r.PreviousObservedAt)
	assert.Equal(t, DirectionNew, r.Direction())
}

func TestDeriveZeroPreviousLeavesPercentUndefined(t *testing.T) {
	rows := Derive([]models.HistoryRow{
		obs(1, 1, "Free sample", 0, 0),
		obs(2, 1, "Free sample", 250, time.Hour),
	})
	require.Len(t, rows, 1)

	r := rows[0]
	assert.Equal(t, int64(250), *r.Delta)
	assert.Nil(t, r.DeltaPct)
	assert.Equal(t, DirectionUp, r.Direction())
}

func TestDerivePercentRounding(t *testing.T) {
	rows := Derive([]models.HistoryRow{
		obs(1, 1, "A", 300, 0),
		obs(2, 1, "A", 400, time.Hour),
	})
	require.Len(t, rows, 1)
	assert.Equal(t, "33.33", rows[0].DeltaPct.StringFixed(2))
}

func TestDeriveUnchangedPrice(t *testing.T) {
	rows := Derive([]models.HistoryRow{
		obs(1, 1, "A", 500, 0),
		obs(2, 1, "A", 500, time.Hour),
	})
	require.Len(t, rows, 1)
	assert.Equal(t, int64(0), *rows[0].Delta)
	assert.True(t, rows[0].DeltaPct.IsZero())
	assert.Equal(t, DirectionSame, rows[0].Direction())
}

func TestDeriveKeepsFirstAppearanceOrder(t *testing.T) {
	history := []models.HistoryRow{
		obs(1, 1, "A", 200, 0),
		obs(2, 1, "A", 180, time.Hour),
		obs(3, 2, "B", 50, 0),
	}

	rows := Derive(history)
	require.Len(t, rows, 2)
	assert.Equal(t, "A", rows[0].Name)
	assert.Equal(t, int64(180), rows[0].Latest)
	assert.Equal(t, int64(200), *rows[0].Previous)
	assert.Equal(t, "B", rows[1].Name)
	assert.Equal(t, int64(50), rows[1].Latest)
	assert.Nil(t, rows[1].Previous)
}

func TestDeriveOrdersEachProductByTime(t *testing.T) {
	// interleaved and out of time order
	history := []models.HistoryRow{
		obs(3, 1, "A", 120, 2*time.Hour),
		obs(4, 2, "B", 10, 0),
		obs(1, 1, "A", 100, 0),
		obs(2, 1, "A", 150, time.Hour),
	}

	rows := Derive(history)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(120), rows[0].Latest)
	assert.Equal(t, int64(150), *rows[0].Previous)
}

func TestDeriveTiesKeepInputOrder(t *testing.T) {
	history := []models.HistoryRow{
		obs(1, 1, "A", 100, 0),
		obs(2, 1, "A", 150, 0),
		obs(3, 1, "A", 120, 0),
	}

	rows := Derive(history)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(120), rows[0].Latest)
	assert.Equal(t, int64(150), *rows[0].Previous)
}

func TestDeriveEmpty(t *testing.T) {
	rows := Derive(nil)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestDeriveCarriesCurrency(t *testing.T) {
	rub := "RUB"
	h := obs(1, 1, "A", 100, 0)
	h.Currency = &rub

	rows := Derive([]models.HistoryRow{h})
	require.Len(t, rows, 1)
	assert.Equal(t, "RUB", rows[0].Currency)
}

func TestDeriveDoesNotReorderInput(t *testing.T) {
	history := []models.HistoryRow{
		obs(2, 1, "A", 150, time.Hour),
		obs(1, 1, "A", 100, 0),
	}
	Derive(history)
	assert.Equal(t, uint(2), history[0].Seq)
	assert.Equal(t, uint(1), history[1].Seq)
}

type stubSource struct {
	history []models.HistoryRow
	err     error
}

func (s stubSource) FullHistory(context.Context) ([]models.HistoryRow, error) {
	return s.history, s.err
}

func TestServiceDrops(t *testing.T) {
	svc := NewService(stubSource{history: []models.HistoryRow{
		obs(1, 1, "A", 200, 0),
		obs(2, 1, "A", 180, time.Hour),
		obs(3, 2, "B", 50, 0),
		obs(4, 2, "B", 60, time.Hour),
	}})

	drops, err := svc.Drops(context.Background())
	require.NoError(t, err)
	require.Len(t, drops, 1)
	assert.Equal(t, "A", drops[0].Name)
}

func TestServicePropagatesSourceError(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewService(stubSource{err: boom}).Current(context.Background())
	assert.ErrorIs(t, err, boom)
}

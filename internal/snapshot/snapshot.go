package snapshot

import (
	"context"
	"sort"
	"time"

	"github.com/EvgenyQA404/perfume/internal/models"

	"github.com/shopspring/decimal"
)

// Direction describes how the latest price moved against the previous one
type Direction string

const (
	DirectionNew  Direction = "new"
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionSame Direction = "same"
)

// Row is the current state of one product
type Row struct {
	ProductID          uint             `json:"product_id"`
	Name               string           `json:"name"`
	Currency           string           `json:"currency,omitempty"`
	Latest             int64            `json:"latest"`
	Previous           *int64           `json:"previous"`
	Delta              *int64           `json:"delta"`
	DeltaPct           *decimal.Decimal `json:"delta_pct"`
	ObservedAt         time.Time        `json:"observed_at"`
	PreviousObservedAt *time.Time       `json:"previous_observed_at,omitempty"`
}

// Direction reports whether the price went up, down, stayed or has no history
func (r Row) Direction() Direction {
	switch {
	case r.Delta == nil:
		return DirectionNew
	case *r.Delta > 0:
		return DirectionUp
	case *r.Delta < 0:
		return DirectionDown
	default:
		return DirectionSame
	}
}

// Derive computes one row per product from the full history.
//
// Products keep the order in which they first appear in history. Within a
// product, observations are ordered by ObservedAt; equal timestamps keep their
// input order. The last observation is the latest price and the one before it
// is the previous price.
func Derive(history []models.HistoryRow) []Row {
	if len(history) == 0 {
		return []Row{}
	}

	order := make([]uint, 0)
	partitions := make(map[uint][]models.HistoryRow)
	for _, h := range history {
		if _, seen := partitions[h.ProductID]; !seen {
			order = append(order, h.ProductID)
		}
		partitions[h.ProductID] = append(partitions[h.ProductID], h)
	}

	rows := make([]Row, 0, len(order))
	for _, id := range order {
		rows = append(rows, deriveOne(partitions[id]))
	}
	return rows
}

func deriveOne(obs []models.HistoryRow) Row {
	sort.SliceStable(obs, func(i, j int) bool {
		return obs[i].ObservedAt.Before(obs[j].ObservedAt)
	})

	last := obs[len(obs)-1]
	row := Row{
		ProductID:  last.ProductID,
		Name:       last.Name,
		Currency:   last.CurrencyOr(""),
		Latest:     last.Amount,
		ObservedAt: last.ObservedAt,
	}
	if len(obs) < 2 {
		return row
	}

	prev := obs[len(obs)-2]
	previous := prev.Amount
	delta := last.Amount - previous
	row.Previous = &previous
	row.Delta = &delta
	row.PreviousObservedAt = &prev.ObservedAt
	row.DeltaPct = percentChange(delta, previous)
	return row
}

// percentChange is undefined for a zero base
func percentChange(delta, previous int64) *decimal.Decimal {
	if previous == 0 {
		return nil
	}
	pct := decimal.NewFromInt(delta).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(previous), 2)
	return &pct
}

// HistorySource supplies the full observation history
type HistorySource interface {
	FullHistory(ctx context.Context) ([]models.HistoryRow, error)
}

// Service derives snapshots from a history source
type Service struct {
	src HistorySource
}

// NewService creates a new snapshot service
func NewService(src HistorySource) *Service {
	return &Service{src: src}
}

// Current returns the snapshot of every product
func (s *Service) Current(ctx context.Context) ([]Row, error) {
	history, err := s.src.FullHistory(ctx)
	if err != nil {
		return nil, err
	}
	return Derive(history), nil
}

// Drops returns only the products whose latest price is below the previous one
func (s *Service) Drops(ctx context.Context) ([]Row, error) {
	rows, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	drops := make([]Row, 0)
	for _, r := range rows {
		if r.Direction() == DirectionDown {
			drops = append(drops, r)
		}
	}
	return drops, nil
}

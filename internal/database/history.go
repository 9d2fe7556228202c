package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/EvgenyQA404/perfume/internal/models"

	"gorm.io/gorm"
)

// LatestTwo returns the two most recent amounts for a product, newest first.
// Observations sharing a timestamp are ordered by insertion sequence.
func (gdb *GormDB) LatestTwo(ctx context.Context, productID uint) (latest, previous *int64, err error) {
	err = gdb.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireProduct(tx, productID); err != nil {
			return err
		}
		latest, previous, err = latestTwo(tx, productID)
		return err
	})
	return latest, previous, err
}

func latestTwo(tx *gorm.DB, productID uint) (latest, previous *int64, err error) {
	var amounts []int64
	err = tx.Model(&models.Observation{}).
		Where("product_id = ?", productID).
		Order("observed_at DESC").
		Order("id DESC").
		Limit(2).
		Pluck("amount", &amounts).Error
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read latest prices for product %d: %w", productID, err)
	}

	if len(amounts) > 0 {
		latest = &amounts[0]
	}
	if len(amounts) > 1 {
		previous = &amounts[1]
	}
	return latest, previous, nil
}

// FullHistory returns every observation ordered by product name, then
// observed_at, then insertion sequence
func (gdb *GormDB) FullHistory(ctx context.Context) ([]models.HistoryRow, error) {
	var rows []models.HistoryRow
	err := gdb.db.WithContext(ctx).
		Table("observations").
		Select("observations.id AS seq, observations.product_id, products.name, observations.amount, observations.currency, observations.observed_at").
		Joins("JOIN products ON products.id = observations.product_id").
		Order("products.name ASC").
		Order("observations.observed_at ASC").
		Order("observations.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read price history: %w", err)
	}

	// Database collations differ (case folding, locale rules); pin the order to
	// byte-wise comparison so every backend emits the same sequence
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if !a.ObservedAt.Equal(b.ObservedAt) {
			return a.ObservedAt.Before(b.ObservedAt)
		}
		return a.Seq < b.Seq
	})

	return rows, nil
}

// ListProducts returns all products ordered by name
func (gdb *GormDB) ListProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := gdb.db.WithContext(ctx).Order("name ASC").Find(&products).Error
	return products, err
}

// GetProduct retrieves a product by ID
func (gdb *GormDB) GetProduct(ctx context.Context, id uint) (*models.Product, error) {
	var product models.Product
	err := gdb.db.WithContext(ctx).Where("id = ?", id).Take(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: product %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// Stats summarizes the store contents
type Stats struct {
	Products        int64      `json:"products"`
	Observations    int64      `json:"observations"`
	LastObservedAt  *time.Time `json:"last_observed_at,omitempty"`
	LastProductName string     `json:"last_product_name,omitempty"`
}

// Stats returns product and observation counts and the newest observation
func (gdb *GormDB) Stats(ctx context.Context) (*Stats, error) {
	db := gdb.db.WithContext(ctx)
	stats := &Stats{}

	if err := db.Model(&models.Product{}).Count(&stats.Products).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Observation{}).Count(&stats.Observations).Error; err != nil {
		return nil, err
	}

	var last models.Observation
	err := db.Preload("Product").Order("observed_at DESC").Order("id DESC").Take(&last).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
	case err != nil:
		return nil, err
	default:
		stats.LastObservedAt = &last.ObservedAt
		stats.LastProductName = last.Product.Name
	}

	return stats, nil
}

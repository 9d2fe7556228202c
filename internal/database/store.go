package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/EvgenyQA404/perfume/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IngestResult describes one recorded observation
type IngestResult struct {
	ProductID  uint      `json:"product_id"`
	Name       string    `json:"name"`
	Amount     int64     `json:"amount"`
	Currency   *string   `json:"currency,omitempty"`
	Previous   *int64    `json:"previous,omitempty"` // latest amount before this observation
	ObservedAt time.Time `json:"observed_at"`
}

// ResolveOrCreateProduct returns the id of the product with exactly this name,
// creating it if it has never been seen
func (gdb *GormDB) ResolveOrCreateProduct(ctx context.Context, name string) (uint, error) {
	if err := validateName(name); err != nil {
		return 0, err
	}

	var id uint
	err := gdb.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		id, err = resolveProduct(tx, name)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AppendObservation records one price reading for an existing product
func (gdb *GormDB) AppendObservation(ctx context.Context, productID uint, amount int64, currency string) error {
	if err := validateAmount(amount); err != nil {
		return err
	}

	return gdb.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireProduct(tx, productID); err != nil {
			return err
		}
		_, err := gdb.insertObservation(tx, productID, amount, currency)
		return err
	})
}

// Ingest is the single entry point for a successful fetch: it resolves the
// product and appends the observation in one transaction
func (gdb *GormDB) Ingest(ctx context.Context, name string, amount int64, currency string) (*IngestResult, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	var result *IngestResult
	err := gdb.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id, err := resolveProduct(tx, name)
		if err != nil {
			return err
		}

		previous, _, err := latestTwo(tx, id)
		if err != nil {
			return err
		}

		obs, err := gdb.insertObservation(tx, id, amount, currency)
		if err != nil {
			return err
		}

		result = &IngestResult{
			ProductID:  id,
			Name:       name,
			Amount:     obs.Amount,
			Currency:   obs.Currency,
			Previous:   previous,
			ObservedAt: obs.ObservedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// resolveProduct is an atomic compare-and-insert keyed by the unique name index
func resolveProduct(tx *gorm.DB, name string) (uint, error) {
	p := models.Product{Name: name}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&p).Error
	if err != nil {
		return 0, fmt.Errorf("failed to upsert product %q: %w", name, err)
	}

	var existing models.Product
	if err := tx.Where("name = ?", name).Take(&existing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("%w: product %q missing after upsert", ErrIntegrity, name)
		}
		return 0, fmt.Errorf("failed to resolve product %q: %w", name, err)
	}

	// case-insensitive collations would merge distinct names
	if existing.Name != name {
		return 0, fmt.Errorf("%w: product %q resolved to %q under database collation", ErrIntegrity, name, existing.Name)
	}

	return existing.ID, nil
}

func requireProduct(tx *gorm.DB, productID uint) error {
	var count int64
	if err := tx.Model(&models.Product{}).Where("id = ?", productID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to look up product %d: %w", productID, err)
	}
	if count == 0 {
		return fmt.Errorf("%w: product %d", ErrNotFound, productID)
	}
	return nil
}

func (gdb *GormDB) insertObservation(tx *gorm.DB, productID uint, amount int64, currency string) (*models.Observation, error) {
	obs := &models.Observation{
		ProductID:  productID,
		Amount:     amount,
		Currency:   gdb.currencyTag(currency),
		ObservedAt: tx.NowFunc(),
	}
	if err := tx.Omit(clause.Associations).Create(obs).Error; err != nil {
		return nil, fmt.Errorf("failed to insert observation for product %d: %w", productID, err)
	}
	return obs, nil
}

func (gdb *GormDB) currencyTag(currency string) *string {
	c := normalizeCurrency(currency)
	if c == "" {
		c = gdb.defaultCurrency
	}
	if c == "" {
		return nil
	}
	return &c
}

func normalizeCurrency(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: product name is empty", ErrInvalidInput)
	}
	return nil
}

func validateAmount(amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: amount %d is negative", ErrInvalidInput, amount)
	}
	return nil
}

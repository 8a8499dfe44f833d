package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmretail/stockbooks_backend/config"
	"github.com/mmretail/stockbooks_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InventoryRecord is the running cost basis for one store-product pair.
// TotalCostValue is maintained incrementally by the costing engine, never
// recomputed wholesale; Version is bumped on every mutation so concurrent
// writers that bypass row locking are detected.
type InventoryRecord struct {
	ID             int             `gorm:"primary_key" json:"id"`
	StoreId        string          `gorm:"size:64;uniqueIndex:idx_inv_rec_store_product,priority:1;not null" json:"store_id"`
	ProductId      int             `gorm:"uniqueIndex:idx_inv_rec_store_product,priority:2;not null" json:"product_id"`
	Quantity       int64           `gorm:"not null;default:0" json:"quantity"`
	AverageCost    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"average_cost"`
	TotalCostValue decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_cost_value"`
	LastCostUpdate time.Time       `json:"last_cost_update"`
	Version        int             `gorm:"not null;default:0" json:"version"`
	// PostingBlocked gates all further writes for the pair after a
	// reconciliation mismatch. Cleared manually via ResolveReconciliation.
	PostingBlocked bool      `gorm:"not null;default:false" json:"posting_blocked"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeSave enforces internal invariants for the cost-basis row.
func (r *InventoryRecord) BeforeSave(tx *gorm.DB) error {
	_ = tx // signature required by gorm; tx may be nil in tests
	if r == nil {
		return nil
	}
	if r.Quantity < 0 {
		return fmt.Errorf("inventory record quantity must not be negative: store=%s product=%d qty=%d: %w",
			r.StoreId, r.ProductId, r.Quantity, ErrInsufficientStock)
	}
	return nil
}

// CheckCostInvariant verifies total_cost_value == quantity * average_cost
// within rounding tolerance. AverageCost is stored rounded to costPrecision,
// so its rounding error is multiplied by quantity when re-deriving the total.
// The tolerance scales with quantity to keep high-quantity rows from tripping
// the check on a valid mutation.
func (r *InventoryRecord) CheckCostInvariant() error {
	expected := r.AverageCost.Mul(decimal.NewFromInt(r.Quantity))
	tolerance := decimal.New(1, -config.CurrencyPrecision()).
		Add(decimal.New(r.Quantity, -costPrecision))
	if r.TotalCostValue.Sub(expected).Abs().GreaterThan(tolerance) {
		return fmt.Errorf("cost invariant violated: store=%s product=%d total=%s expected=%s: %w",
			r.StoreId, r.ProductId, r.TotalCostValue.String(), expected.String(), ErrInconsistentLedger)
	}
	return nil
}

// FirstOrCreateInventoryRecordForUpdate fetches (or creates) the row holding a
// SELECT ... FOR UPDATE lock, serializing all mutations per store-product.
func FirstOrCreateInventoryRecordForUpdate(tx *gorm.DB, storeId string, productId int) (*InventoryRecord, error) {
	record := InventoryRecord{
		StoreId:   storeId,
		ProductId: productId,
	}
	result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("store_id = ? AND product_id = ?", storeId, productId).
		FirstOrCreate(&record)
	if result.Error != nil {
		return nil, result.Error
	}
	return &record, nil
}

// saveInventoryRecord persists a mutated record with optimistic version check.
// The row is already locked FOR UPDATE inside the caller's transaction, so a
// version mismatch indicates a writer that bypassed the lock path.
func saveInventoryRecord(tx *gorm.DB, record *InventoryRecord, previousVersion int) error {
	record.Version = previousVersion + 1
	record.AverageCost = record.AverageCost.Round(costPrecision)
	record.TotalCostValue = record.TotalCostValue.Round(costPrecision)
	result := tx.Model(&InventoryRecord{}).
		Where("id = ? AND version = ?", record.ID, previousVersion).
		Updates(map[string]interface{}{
			"quantity":         record.Quantity,
			"average_cost":     record.AverageCost,
			"total_cost_value": record.TotalCostValue,
			"last_cost_update": record.LastCostUpdate,
			"version":          record.Version,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("concurrent update detected for store=%s product=%d version=%d",
			record.StoreId, record.ProductId, previousVersion)
	}
	return nil
}

// GetInventoryRecord is the read-only lookup for one product of the context store.
func GetInventoryRecord(ctx context.Context, productId int) (*InventoryRecord, error) {
	storeId, ok := utils.GetStoreIdFromContext(ctx)
	if !ok || storeId == "" {
		return nil, ErrStoreIdRequired
	}
	db := config.GetDB()
	if db == nil {
		return nil, ErrDBNotInitialized
	}
	var record InventoryRecord
	if err := db.WithContext(ctx).
		Where("store_id = ? AND product_id = ?", storeId, productId).
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

// ListInventoryRecords returns every record of the context store.
func ListInventoryRecords(ctx context.Context) ([]*InventoryRecord, error) {
	storeId, ok := utils.GetStoreIdFromContext(ctx)
	if !ok || storeId == "" {
		return nil, ErrStoreIdRequired
	}
	db := config.GetDB()
	if db == nil {
		return nil, ErrDBNotInitialized
	}
	var records []*InventoryRecord
	if err := db.WithContext(ctx).
		Where("store_id = ?", storeId).
		Order("product_id").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// ListStoreIds returns every store that has at least one inventory record.
// Used by the batch scheduler to fan out per-store runs.
func ListStoreIds(ctx context.Context, db *gorm.DB) ([]string, error) {
	var storeIds []string
	if err := db.WithContext(ctx).
		Model(&InventoryRecord{}).
		Distinct("store_id").
		Order("store_id").
		Pluck("store_id", &storeIds).Error; err != nil {
		return nil, err
	}
	return storeIds, nil
}

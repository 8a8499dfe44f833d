package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mmretail/stockbooks_backend/config"
	"github.com/mmretail/stockbooks_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockMovement is one row of the append-only quantity ledger. Rows are created
// exactly once per inventory mutation and never updated or deleted; replaying
// all deltas for a store-product from zero must reproduce the current quantity.
type StockMovement struct {
	ID             string          `gorm:"size:36;primary_key" json:"id"` // uuid
	StoreId        string          `gorm:"size:64;index:idx_stock_move_store_product_date,priority:1;not null" json:"store_id"`
	ProductId      int             `gorm:"index:idx_stock_move_store_product_date,priority:2;not null" json:"product_id"`
	QuantityBefore int64           `gorm:"not null" json:"quantity_before"`
	QuantityAfter  int64           `gorm:"not null" json:"quantity_after"`
	Delta          int64           `gorm:"not null" json:"delta"`
	ActionType     StockActionType `gorm:"type:enum('sale','refund','restock','damage_removal','expiry_removal','adjustment','swap');not null" json:"action_type"`
	// UnitCost is the cost basis applied at the time of the movement; refunds
	// reverse this exact amount instead of re-deriving from the live record.
	UnitCost      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	Source        string          `gorm:"size:100" json:"source"`
	ReferenceId   string          `gorm:"size:64;index" json:"reference_id"`
	Metadata      []byte          `gorm:"type:json" json:"metadata"`
	OccurredAt    time.Time       `gorm:"index:idx_stock_move_store_product_date,priority:3;not null" json:"occurred_at"`
	CorrelationId string          `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// recordStockMovement appends one ledger row inside the caller's transaction.
// There is deliberately no exported update or delete for stock movements.
func recordStockMovement(tx *gorm.DB, movement *StockMovement) error {
	if movement.ID == "" {
		movement.ID = uuid.NewString()
	}
	if movement.Delta != movement.QuantityAfter-movement.QuantityBefore {
		return ErrInconsistentLedger
	}
	return tx.Create(movement).Error
}

// EncodeMovementMetadata marshals free-form metadata for the ledger row.
func EncodeMovementMetadata(metadata map[string]interface{}) ([]byte, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	return json.Marshal(metadata)
}

// ListMovementsSince returns the store's ledger rows at or after the given
// time, optionally narrowed to one product, in replay order.
func ListMovementsSince(ctx context.Context, productId *int, since time.Time) ([]*StockMovement, error) {
	storeId, ok := utils.GetStoreIdFromContext(ctx)
	if !ok || storeId == "" {
		return nil, ErrStoreIdRequired
	}
	db := config.GetDB()
	if db == nil {
		return nil, ErrDBNotInitialized
	}

	dbCtx := db.WithContext(ctx).
		Where("store_id = ?", storeId).
		Where("occurred_at >= ?", since)
	if productId != nil && *productId > 0 {
		dbCtx = dbCtx.Where("product_id = ?", *productId)
	}

	var movements []*StockMovement
	if err := dbCtx.Order("occurred_at, created_at, id").Find(&movements).Error; err != nil {
		return nil, err
	}
	return movements, nil
}

// ReplayMovementQuantity sums all ledger deltas for a store-product from zero.
func ReplayMovementQuantity(tx *gorm.DB, storeId string, productId int) (int64, error) {
	var total int64
	err := tx.Model(&StockMovement{}).
		Select("COALESCE(SUM(delta), 0)").
		Where("store_id = ? AND product_id = ?", storeId, productId).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

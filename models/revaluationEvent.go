package models

import (
	"context"
	"time"

	"github.com/mmretail/stockbooks_backend/config"
	"github.com/mmretail/stockbooks_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InventoryRevaluationEvent records a quantity or value change with no matching
// revenue line (damage, expiry, shrinkage adjustment, swap). LossAmount and
// Reason are first-class columns rather than metadata so the profitability
// aggregation and audit queries stay indexable.
type InventoryRevaluationEvent struct {
	ID              int             `gorm:"primary_key" json:"id"`
	StoreId         string          `gorm:"size:64;index:idx_revaluation_store_product_date,priority:1;not null" json:"store_id"`
	ProductId       int             `gorm:"index:idx_revaluation_store_product_date,priority:2;not null" json:"product_id"`
	ActorId         int             `gorm:"index" json:"actor_id"`
	QuantityBefore  int64           `gorm:"not null" json:"quantity_before"`
	QuantityAfter   int64           `gorm:"not null" json:"quantity_after"`
	AvgCostBefore   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"avg_cost_before"`
	AvgCostAfter    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"avg_cost_after"`
	TotalCostBefore decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_cost_before"`
	TotalCostAfter  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_cost_after"`
	// DeltaValue is negative for write-offs; LossAmount is its magnitude.
	DeltaValue decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"delta_value"`
	LossAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"loss_amount"`
	Reason     string          `gorm:"size:100;index;not null" json:"reason"`
	Metadata   []byte          `gorm:"type:json" json:"metadata"`
	OccurredAt time.Time       `gorm:"index:idx_revaluation_store_product_date,priority:3;not null" json:"occurred_at"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func recordRevaluationEvent(tx *gorm.DB, event *InventoryRevaluationEvent) error {
	precision := config.CurrencyPrecision()
	event.DeltaValue = event.DeltaValue.Round(precision)
	event.LossAmount = event.LossAmount.Round(precision)
	return tx.Create(event).Error
}

// ListRevaluationEvents returns the store's revaluation history in a window,
// optionally narrowed to one product.
func ListRevaluationEvents(ctx context.Context, productId *int, since time.Time) ([]*InventoryRevaluationEvent, error) {
	storeId, ok := utils.GetStoreIdFromContext(ctx)
	if !ok || storeId == "" {
		return nil, ErrStoreIdRequired
	}
	db := config.GetDB()
	if db == nil {
		return nil, ErrDBNotInitialized
	}
	dbCtx := db.WithContext(ctx).
		Where("store_id = ? AND occurred_at >= ?", storeId, since)
	if productId != nil && *productId > 0 {
		dbCtx = dbCtx.Where("product_id = ?", *productId)
	}
	var events []*InventoryRevaluationEvent
	if err := dbCtx.Order("occurred_at, id").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

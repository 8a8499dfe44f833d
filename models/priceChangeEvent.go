package models

import (
	"context"
	"time"

	"github.com/mmretail/stockbooks_backend/config"
	"github.com/mmretail/stockbooks_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PriceChangeEvent records a material change to list cost or sale price,
// whether from a manual edit or a restock at a different unit cost.
// Kept as its own table (not folded into the movement ledger) so cost-history
// queries stay independent of quantity history.
type PriceChangeEvent struct {
	ID           int              `gorm:"primary_key" json:"id"`
	StoreId      string           `gorm:"size:64;index:idx_price_change_store_product_date,priority:1;not null" json:"store_id"`
	ProductId    int              `gorm:"index:idx_price_change_store_product_date,priority:2;not null" json:"product_id"`
	ActorId      int              `gorm:"index" json:"actor_id"`
	OldCost      decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"old_cost"`
	NewCost      decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"new_cost"`
	OldSalePrice *decimal.Decimal `gorm:"type:decimal(20,4)" json:"old_sale_price"`
	NewSalePrice *decimal.Decimal `gorm:"type:decimal(20,4)" json:"new_sale_price"`
	Metadata     []byte           `gorm:"type:json" json:"metadata"`
	OccurredAt   time.Time        `gorm:"index:idx_price_change_store_product_date,priority:3;not null" json:"occurred_at"`
	CreatedAt    time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

func recordPriceChangeEvent(tx *gorm.DB, event *PriceChangeEvent) error {
	event.OldCost = event.OldCost.Round(config.CurrencyPrecision())
	event.NewCost = event.NewCost.Round(config.CurrencyPrecision())
	return tx.Create(event).Error
}

// ListPriceChangeEvents returns the store's cost/price history for a product,
// newest first.
func ListPriceChangeEvents(ctx context.Context, productId int, since time.Time) ([]*PriceChangeEvent, error) {
	storeId, ok := utils.GetStoreIdFromContext(ctx)
	if !ok || storeId == "" {
		return nil, ErrStoreIdRequired
	}
	db := config.GetDB()
	if db == nil {
		return nil, ErrDBNotInitialized
	}
	var events []*PriceChangeEvent
	if err := db.WithContext(ctx).
		Where("store_id = ? AND product_id = ? AND occurred_at >= ?", storeId, productId, since).
		Order("occurred_at DESC, id DESC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

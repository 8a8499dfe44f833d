package models

import (
	"context"
	"time"

	"github.com/mmretail/stockbooks_backend/config"
	"github.com/mmretail/stockbooks_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CostLayer is an audit-only record of one incoming batch's quantity and unit
// cost. Layers are never consumed in FIFO order; the engine costs everything at
// the weighted average. They exist so auditors can reconstruct how the average
// was built.
type CostLayer struct {
	ID          int             `gorm:"primary_key" json:"id"`
	StoreId     string          `gorm:"size:64;index:idx_cost_layer_store_product,priority:1;not null" json:"store_id"`
	ProductId   int             `gorm:"index:idx_cost_layer_store_product,priority:2;not null" json:"product_id"`
	Quantity    int64           `gorm:"not null" json:"quantity"`
	UnitCost    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_cost"`
	Source      string          `gorm:"size:100" json:"source"`
	ReferenceId string          `gorm:"size:64;index" json:"reference_id"`
	ReceivedAt  time.Time       `gorm:"index;not null" json:"received_at"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func recordCostLayer(tx *gorm.DB, layer *CostLayer) error {
	return tx.Create(layer).Error
}

// ListCostLayers returns the receipt history for one product, oldest first.
func ListCostLayers(ctx context.Context, productId int) ([]*CostLayer, error) {
	storeId, ok := utils.GetStoreIdFromContext(ctx)
	if !ok || storeId == "" {
		return nil, ErrStoreIdRequired
	}
	db := config.GetDB()
	if db == nil {
		return nil, ErrDBNotInitialized
	}
	var layers []*CostLayer
	if err := db.WithContext(ctx).
		Where("store_id = ? AND product_id = ?", storeId, productId).
		Order("received_at, id").
		Find(&layers).Error; err != nil {
		return nil, err
	}
	return layers, nil
}

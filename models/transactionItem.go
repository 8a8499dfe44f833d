package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TransactionItem is owned by the transactional subsystem; this engine only
// reads it. UnitCost is the cost basis captured AT SALE TIME (returned by
// RecordSale) — it is never re-derived from the live inventory record, so
// historical margin stays correct after later restocks reprice the average.
type TransactionItem struct {
	ID            int                 `gorm:"primary_key" json:"id"`
	StoreId       string              `gorm:"size:64;index:idx_txn_item_store_type_date,priority:1;not null" json:"store_id"`
	TransactionId string              `gorm:"size:64;index;not null" json:"transaction_id"`
	ItemType      TransactionItemType `gorm:"type:enum('sale','refund');index:idx_txn_item_store_type_date,priority:2;not null" json:"item_type"`
	ProductId     int                 `gorm:"index;not null" json:"product_id"`
	Quantity      int64               `gorm:"not null" json:"quantity"`
	UnitPrice     decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	UnitCost      decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	TotalPrice    decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"total_price"`
	TotalCost     decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"total_cost"`
	OccurredAt    time.Time           `gorm:"index:idx_txn_item_store_type_date,priority:3;not null" json:"occurred_at"`
	CreatedAt     time.Time           `gorm:"autoCreateTime" json:"created_at"`
}

// ListTransactionItems returns a store's items of one type in [from, to),
// grouped-friendly order for the aggregator.
func ListTransactionItems(tx *gorm.DB, storeId string, itemType TransactionItemType, from, to time.Time) ([]*TransactionItem, error) {
	var items []*TransactionItem
	err := tx.
		Where("store_id = ? AND item_type = ?", storeId, itemType).
		Where("occurred_at >= ? AND occurred_at < ?", from, to).
		Order("product_id, occurred_at, id").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// SumSoldUnitsByProduct returns units sold per product in [from, to); used for
// the prior-window trend comparison without loading full rows.
func SumSoldUnitsByProduct(tx *gorm.DB, storeId string, from, to time.Time) (map[int]int64, error) {
	type row struct {
		ProductId int
		Units     int64
	}
	var rows []row
	err := tx.Model(&TransactionItem{}).
		Select("product_id, COALESCE(SUM(quantity), 0) AS units").
		Where("store_id = ? AND item_type = ?", storeId, TransactionItemTypeSale).
		Where("occurred_at >= ? AND occurred_at < ?", from, to).
		Group("product_id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make(map[int]int64, len(rows))
	for _, r := range rows {
		result[r.ProductId] = r.Units
	}
	return result, nil
}

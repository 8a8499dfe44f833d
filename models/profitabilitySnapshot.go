package models

import (
	"context"
	"time"

	"github.com/mmretail/stockbooks_backend/config"
	"github.com/mmretail/stockbooks_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProductProfitabilitySnapshot is derived data: each batch run overwrites the
// row for its (store, product, period) key. Safe to drop and recompute.
type ProductProfitabilitySnapshot struct {
	StoreId    string `gorm:"primaryKey;size:64" json:"store_id"`
	ProductId  int    `gorm:"primaryKey" json:"product_id"`
	PeriodDays int    `gorm:"primaryKey" json:"period_days"`

	UnitsSold        int64           `gorm:"not null;default:0" json:"units_sold"`
	GrossRevenue     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"gross_revenue"`
	RefundedAmount   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"refunded_amount"`
	RefundedQuantity int64           `gorm:"not null;default:0" json:"refunded_quantity"`
	NetRevenue       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"net_revenue"`
	GrossCost        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"gross_cost"`
	NetCost          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"net_cost"`
	TotalProfit      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_profit"`
	ProfitMargin     decimal.Decimal `gorm:"type:decimal(10,6);default:0" json:"profit_margin"`
	AvgProfitPerUnit decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"avg_profit_per_unit"`

	SaleVelocity decimal.Decimal `gorm:"type:decimal(20,6);default:0" json:"sale_velocity"`
	// DaysToStockout is nil when the product effectively is not selling.
	DaysToStockout *decimal.Decimal `gorm:"type:decimal(20,4)" json:"days_to_stockout"`

	RemovalCount     int             `gorm:"not null;default:0" json:"removal_count"`
	RemovalLossValue decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"removal_loss_value"`

	// CurrentQuantity is the on-hand quantity at compute time; the restocking
	// prioritizer and stale-inventory flagging read it off the snapshot.
	CurrentQuantity int64 `gorm:"not null;default:0" json:"current_quantity"`

	Trend      ProfitTrend `gorm:"type:enum('rising','stable','declining');default:stable" json:"trend"`
	ComputedAt time.Time   `gorm:"not null" json:"computed_at"`
	CreatedAt  time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

// UpsertProfitabilitySnapshots writes a batch run's output idempotently:
// reruns overwrite the prior snapshot for the same key, they never accumulate.
func UpsertProfitabilitySnapshots(tx *gorm.DB, snapshots []*ProductProfitabilitySnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "store_id"}, {Name: "product_id"}, {Name: "period_days"},
		},
		UpdateAll: true,
	}).Create(&snapshots).Error
}

// DeleteStaleSnapshots removes snapshots for products no longer present in the
// freshly computed set so dead products don't linger in reports.
func DeleteStaleSnapshots(tx *gorm.DB, storeId string, periodDays int, keepProductIds []int) error {
	dbCtx := tx.Where("store_id = ? AND period_days = ?", storeId, periodDays)
	if len(keepProductIds) > 0 {
		dbCtx = dbCtx.Where("product_id NOT IN (?)", keepProductIds)
	}
	return dbCtx.Delete(&ProductProfitabilitySnapshot{}).Error
}

// GetProductProfitability returns the store's snapshots for one window length.
func GetProductProfitability(ctx context.Context, periodDays int) ([]*ProductProfitabilitySnapshot, error) {
	storeId, ok := utils.GetStoreIdFromContext(ctx)
	if !ok || storeId == "" {
		return nil, ErrStoreIdRequired
	}
	db := config.GetDB()
	if db == nil {
		return nil, ErrDBNotInitialized
	}
	if periodDays <= 0 {
		periodDays = config.DefaultPeriodDays()
	}
	var snapshots []*ProductProfitabilitySnapshot
	if err := db.WithContext(ctx).
		Where("store_id = ? AND period_days = ?", storeId, periodDays).
		Order("total_profit DESC, product_id").
		Find(&snapshots).Error; err != nil {
		return nil, err
	}
	return snapshots, nil
}

package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/mmretail/stockbooks_backend/config"
	"github.com/mmretail/stockbooks_backend/models"
	"github.com/mmretail/stockbooks_backend/utils"
	"github.com/shopspring/decimal"
)

// GetProfitabilityReport returns every product snapshot for the store and
// window, most profitable first. Reads the precomputed snapshot table; run the
// profitability workflow to refresh.
func GetProfitabilityReport(ctx context.Context, periodDays int) ([]*models.ProductProfitabilitySnapshot, error) {
	start := time.Now()
	defer logSlowReport(ctx, "profitability_report", start, map[string]any{
		"period_days": periodDays,
	})

	if periodDays <= 0 {
		periodDays = config.DefaultPeriodDays()
	}

	if reportCacheEnabled() {
		storeId, _ := utils.GetStoreIdFromContext(ctx)
		key := fmt.Sprintf("report:profitability:%s:%d", storeId, periodDays)
		var cached []*models.ProductProfitabilitySnapshot
		if ok, err := cacheGet(key, &cached); err == nil && ok && cached != nil {
			return cached, nil
		}
		snapshots, err := models.GetProductProfitability(ctx, periodDays)
		if err != nil {
			return nil, err
		}
		_ = cacheSet(key, snapshots, reportCacheTTL())
		return snapshots, nil
	}

	return models.GetProductProfitability(ctx, periodDays)
}

type StaleInventoryRow struct {
	ProductId      int             `json:"productId"`
	Quantity       int64           `json:"quantity"`
	AverageCost    decimal.Decimal `json:"averageCost"`
	TotalCostValue decimal.Decimal `json:"totalCostValue"`
	LastSaleAt     *time.Time      `json:"lastSaleAt"`
	LastMovementAt *time.Time      `json:"lastMovementAt"`
}

// GetStaleInventoryReport lists products holding stock with no sale movements
// inside the window. These tie up capital without earning and are candidates
// for markdown or return to supplier. productId narrows to one product when
// set.
func GetStaleInventoryReport(ctx context.Context, periodDays int, productId *int) ([]*StaleInventoryRow, error) {
	start := time.Now()
	defer logSlowReport(ctx, "stale_inventory_report", start, map[string]any{
		"period_days": periodDays,
	})

	storeId, ok := utils.GetStoreIdFromContext(ctx)
	if !ok || storeId == "" {
		return nil, models.ErrStoreIdRequired
	}
	if periodDays <= 0 {
		periodDays = config.DefaultPeriodDays()
	}
	since := time.Now().UTC().AddDate(0, 0, -periodDays)

	sqlT := `
SELECT
    ir.product_id,
    ir.quantity,
    ir.average_cost,
    ir.total_cost_value,
    sm.last_sale_at,
    sm.last_movement_at
FROM
    inventory_records ir
    LEFT JOIN (
        SELECT
            product_id,
            MAX(CASE WHEN action_type = 'sale' THEN occurred_at END) AS last_sale_at,
            MAX(occurred_at) AS last_movement_at
        FROM
            stock_movements
        WHERE
            store_id = @storeId
        GROUP BY
            product_id
    ) sm ON sm.product_id = ir.product_id
WHERE
    ir.store_id = @storeId
    AND ir.quantity > 0
    AND (sm.last_sale_at IS NULL OR sm.last_sale_at < @since)
    {{- if .HasProduct }}
    AND ir.product_id = @productId
    {{- end }}
ORDER BY ir.total_cost_value DESC;
`
	sql, err := utils.ExecTemplate(sqlT, map[string]interface{}{
		"HasProduct": productId != nil,
	})
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	if db == nil {
		return nil, models.ErrDBNotInitialized
	}
	var rows []*StaleInventoryRow
	if err := db.WithContext(ctx).Raw(sql, map[string]interface{}{
		"storeId":   storeId,
		"since":     since,
		"productId": utils.DereferencePtr(productId),
	}).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

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

type InventoryValueRow struct {
	ProductId      int             `json:"productId"`
	Quantity       int64           `json:"quantity"`
	AverageCost    decimal.Decimal `json:"averageCost"`
	TotalCostValue decimal.Decimal `json:"totalCostValue"`
	LastCostUpdate *time.Time      `json:"lastCostUpdate"`
	PostingBlocked bool            `json:"postingBlocked"`
}

type InventoryValueResponse struct {
	Rows         []*InventoryValueRow `json:"rows"`
	ProductCount int                  `json:"productCount"`
	TotalUnits   int64                `json:"totalUnits"`
	TotalValue   decimal.Decimal      `json:"totalValue"`
	AsOf         time.Time            `json:"asOf"`
}

// GetInventoryValueReport returns the current on-hand valuation for every
// product in the store plus store-wide totals, straight from
// inventory_records.
func GetInventoryValueReport(ctx context.Context) (*InventoryValueResponse, error) {
	start := time.Now()
	defer logSlowReport(ctx, "inventory_value_report", start, nil)

	storeId, ok := utils.GetStoreIdFromContext(ctx)
	if !ok || storeId == "" {
		return nil, models.ErrStoreIdRequired
	}

	key := fmt.Sprintf("report:inventory_value:%s", storeId)
	if reportCacheEnabled() {
		var cached InventoryValueResponse
		if ok, err := cacheGet(key, &cached); err == nil && ok && cached.Rows != nil {
			return &cached, nil
		}
	}

	sql := `
SELECT
    product_id,
    quantity,
    average_cost,
    total_cost_value,
    last_cost_update,
    posting_blocked
FROM
    inventory_records
WHERE
    store_id = @storeId
    AND (quantity != 0 OR total_cost_value != 0)
ORDER BY product_id;
`
	var rows []*InventoryValueRow
	db := config.GetDB()
	if db == nil {
		return nil, models.ErrDBNotInitialized
	}
	if err := db.WithContext(ctx).Raw(sql, map[string]interface{}{
		"storeId": storeId,
	}).Scan(&rows).Error; err != nil {
		return nil, err
	}

	response := InventoryValueResponse{
		Rows:         rows,
		ProductCount: len(rows),
		TotalValue:   decimal.Zero,
		AsOf:         time.Now().UTC(),
	}
	for _, row := range rows {
		response.TotalUnits += row.Quantity
		response.TotalValue = response.TotalValue.Add(row.TotalCostValue)
	}

	if reportCacheEnabled() {
		_ = cacheSet(key, response, reportCacheTTL())
	}
	return &response, nil
}

package workflow

import (
	"fmt"
	"time"

	"github.com/mmretail/stockbooks_backend/config"
	"github.com/mmretail/stockbooks_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ReplayedRecord is the result of replaying a store-product's full movement
// ledger from zero: quantity from summed deltas, cost basis from re-applying
// each movement's captured unit cost in order.
type ReplayedRecord struct {
	Quantity       int64
	AverageCost    decimal.Decimal
	TotalCostValue decimal.Decimal
}

// ReplayMovements folds the ledger in occurrence order. Restocks and refunds
// add value at their captured unit cost; consuming movements subtract at the
// running average, matching what the costing engine did at posting time.
func ReplayMovements(movements []*models.StockMovement) (*ReplayedRecord, error) {
	replayed := &ReplayedRecord{
		AverageCost:    decimal.Zero,
		TotalCostValue: decimal.Zero,
	}
	for _, m := range movements {
		switch {
		case m.Delta > 0:
			replayed.TotalCostValue = replayed.TotalCostValue.Add(
				decimal.NewFromInt(m.Delta).Mul(m.UnitCost))
			replayed.Quantity += m.Delta
			if replayed.Quantity > 0 {
				replayed.AverageCost = replayed.TotalCostValue.Div(decimal.NewFromInt(replayed.Quantity))
			}
		case m.Delta < 0:
			consumed := -m.Delta
			if consumed > replayed.Quantity {
				return nil, fmt.Errorf("movement %s consumes %d of %d on hand: %w",
					m.ID, consumed, replayed.Quantity, models.ErrInconsistentLedger)
			}
			replayed.TotalCostValue = replayed.TotalCostValue.Sub(
				decimal.NewFromInt(consumed).Mul(replayed.AverageCost))
			replayed.Quantity -= consumed
			if replayed.Quantity == 0 {
				replayed.TotalCostValue = decimal.Zero
				replayed.AverageCost = decimal.Zero
			}
		}
	}
	return replayed, nil
}

// RebuildInventoryForProduct replays one store-product from zero and rewrites
// the inventory record to match. Clears the posting block when the replay
// succeeds. Used by the rebuild command after a reconciliation mismatch.
func RebuildInventoryForProduct(tx *gorm.DB, logger *logrus.Logger, storeId string, productId int, dryRun bool) (*ReplayedRecord, error) {
	if logger == nil {
		logger = config.GetLogger()
	}
	if storeId == "" || productId <= 0 {
		return nil, fmt.Errorf("rebuild inventory: invalid scope")
	}

	if err := AcquireStorePostingLock(tx, storeId); err != nil {
		return nil, err
	}
	defer ReleaseStorePostingLock(tx, storeId)

	var movements []*models.StockMovement
	if err := tx.Where("store_id = ? AND product_id = ?", storeId, productId).
		Order("occurred_at asc, created_at asc, id asc").
		Find(&movements).Error; err != nil {
		return nil, err
	}
	replayed, err := ReplayMovements(movements)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"store_id":       storeId,
		"product_id":     productId,
		"movement_count": len(movements),
		"quantity":       replayed.Quantity,
		"average_cost":   replayed.AverageCost.String(),
		"total_value":    replayed.TotalCostValue.String(),
		"dry_run":        dryRun,
	}).Info("inv.rebuild.replayed")

	if dryRun {
		return replayed, nil
	}

	now := time.Now().UTC()
	if err := tx.Model(&models.InventoryRecord{}).
		Where("store_id = ? AND product_id = ?", storeId, productId).
		Updates(map[string]interface{}{
			"quantity":         replayed.Quantity,
			"average_cost":     replayed.AverageCost.Round(4),
			"total_cost_value": replayed.TotalCostValue.Round(4),
			"last_cost_update": now,
			"posting_blocked":  false,
		}).Error; err != nil {
		return nil, err
	}
	return replayed, nil
}

// RebuildInventoryForStore replays every product the store has a record for.
// Returns the product ids whose stored values changed.
func RebuildInventoryForStore(tx *gorm.DB, logger *logrus.Logger, storeId string, dryRun bool) ([]int, error) {
	var records []*models.InventoryRecord
	if err := tx.Where("store_id = ?", storeId).
		Order("product_id asc").Find(&records).Error; err != nil {
		return nil, err
	}
	changed := make([]int, 0)
	for _, record := range records {
		replayed, err := RebuildInventoryForProduct(tx, logger, storeId, record.ProductId, dryRun)
		if err != nil {
			return changed, err
		}
		if replayed.Quantity != record.Quantity ||
			!replayed.TotalCostValue.Round(4).Equal(record.TotalCostValue) {
			changed = append(changed, record.ProductId)
		}
	}
	return changed, nil
}

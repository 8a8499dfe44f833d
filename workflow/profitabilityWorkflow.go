package workflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mmretail/stockbooks_backend/config"
	"github.com/mmretail/stockbooks_backend/models"
	"github.com/mmretail/stockbooks_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AggregationWindow is the immutable input set for one store's profitability
// computation: everything is loaded up front so the math itself is pure and
// deterministic.
type AggregationWindow struct {
	StoreId           string
	PeriodDays        int
	ComputedAt        time.Time
	SaleItems         []*models.TransactionItem
	RefundItems       []*models.TransactionItem
	RevaluationEvents []*models.InventoryRevaluationEvent
	PriorUnitsSold    map[int]int64
	CurrentQuantities map[int]int64
}

type productAccumulator struct {
	unitsSold        int64
	grossRevenue     decimal.Decimal
	grossCost        decimal.Decimal
	refundedAmount   decimal.Decimal
	refundedQuantity int64
	refundCostBasis  decimal.Decimal
	removalCount     int
	removalLossValue decimal.Decimal
}

// BuildProfitabilitySnapshots turns a loaded window into one snapshot per
// product touched by a sale, refund or loss removal inside the window.
func BuildProfitabilitySnapshots(window *AggregationWindow) []*models.ProductProfitabilitySnapshot {
	accumulators := make(map[int]*productAccumulator)
	get := func(productId int) *productAccumulator {
		acc, ok := accumulators[productId]
		if !ok {
			acc = &productAccumulator{
				grossRevenue:     decimal.Zero,
				grossCost:        decimal.Zero,
				refundedAmount:   decimal.Zero,
				refundCostBasis:  decimal.Zero,
				removalLossValue: decimal.Zero,
			}
			accumulators[productId] = acc
		}
		return acc
	}

	for _, item := range window.SaleItems {
		acc := get(item.ProductId)
		acc.unitsSold += item.Quantity
		acc.grossRevenue = acc.grossRevenue.Add(item.TotalPrice)
		acc.grossCost = acc.grossCost.Add(item.TotalCost)
	}
	for _, item := range window.RefundItems {
		acc := get(item.ProductId)
		acc.refundedQuantity += item.Quantity
		acc.refundedAmount = acc.refundedAmount.Add(item.TotalPrice)
		acc.refundCostBasis = acc.refundCostBasis.Add(item.TotalCost)
	}
	for _, event := range window.RevaluationEvents {
		acc := get(event.ProductId)
		acc.removalCount++
		acc.removalLossValue = acc.removalLossValue.Add(event.LossAmount)
	}

	productIds := make([]int, 0, len(accumulators))
	for productId := range accumulators {
		productIds = append(productIds, productId)
	}
	sort.Ints(productIds)

	precision := config.CurrencyPrecision()
	periodDecimal := decimal.NewFromInt(int64(window.PeriodDays))
	epsilon := config.SaleVelocityEpsilon()

	snapshots := make([]*models.ProductProfitabilitySnapshot, 0, len(productIds))
	for _, productId := range productIds {
		acc := accumulators[productId]

		netRevenue := acc.grossRevenue.Sub(acc.refundedAmount)
		netCost := acc.grossCost.Sub(acc.refundCostBasis)
		totalProfit := netRevenue.Sub(netCost).Sub(acc.removalLossValue)

		profitMargin := decimal.Zero
		if netRevenue.GreaterThan(decimal.Zero) {
			profitMargin = totalProfit.Div(netRevenue).Round(6)
		}
		avgProfitPerUnit := decimal.Zero
		netUnits := acc.unitsSold - acc.refundedQuantity
		if netUnits > 0 {
			avgProfitPerUnit = totalProfit.Div(decimal.NewFromInt(netUnits)).Round(precision)
		}

		saleVelocity := decimal.Zero
		if acc.unitsSold > 0 {
			saleVelocity = decimal.NewFromInt(acc.unitsSold).Div(periodDecimal).Round(6)
		}
		currentQuantity := window.CurrentQuantities[productId]
		var daysToStockout *decimal.Decimal
		if saleVelocity.GreaterThan(epsilon) {
			d := decimal.NewFromInt(currentQuantity).Div(saleVelocity).Round(4)
			daysToStockout = &d
		}

		snapshots = append(snapshots, &models.ProductProfitabilitySnapshot{
			StoreId:          window.StoreId,
			ProductId:        productId,
			PeriodDays:       window.PeriodDays,
			UnitsSold:        acc.unitsSold,
			GrossRevenue:     acc.grossRevenue.Round(precision),
			RefundedAmount:   acc.refundedAmount.Round(precision),
			RefundedQuantity: acc.refundedQuantity,
			NetRevenue:       netRevenue.Round(precision),
			GrossCost:        acc.grossCost.Round(precision),
			NetCost:          netCost.Round(precision),
			TotalProfit:      totalProfit.Round(precision),
			ProfitMargin:     profitMargin,
			AvgProfitPerUnit: avgProfitPerUnit,
			SaleVelocity:     saleVelocity,
			DaysToStockout:   daysToStockout,
			RemovalCount:     acc.removalCount,
			RemovalLossValue: acc.removalLossValue.Round(precision),
			CurrentQuantity:  currentQuantity,
			Trend:            ClassifyTrend(acc.unitsSold, window.PriorUnitsSold[productId]),
			ComputedAt:       window.ComputedAt,
		})
	}
	return snapshots
}

// ClassifyTrend compares this window's units sold against the prior
// equal-length window: rising above +10% growth, declining below -10%.
func ClassifyTrend(currentUnits, priorUnits int64) models.ProfitTrend {
	if priorUnits == 0 {
		if currentUnits > 0 {
			return models.ProfitTrendRising
		}
		return models.ProfitTrendStable
	}
	growth := decimal.NewFromInt(currentUnits - priorUnits).Div(decimal.NewFromInt(priorUnits))
	switch {
	case growth.GreaterThan(decimal.NewFromFloat(0.10)):
		return models.ProfitTrendRising
	case growth.LessThan(decimal.NewFromFloat(-0.10)):
		return models.ProfitTrendDeclining
	default:
		return models.ProfitTrendStable
	}
}

// LoadAggregationWindow reads everything the computation needs as of now.
// Batch runs read the history up to their start time and never lock the
// request path; a concurrently in-flight sale lands in the next run.
func LoadAggregationWindow(tx *gorm.DB, storeId string, periodDays int, now time.Time) (*AggregationWindow, error) {
	from := now.AddDate(0, 0, -periodDays)
	priorFrom := from.AddDate(0, 0, -periodDays)

	saleItems, err := models.ListTransactionItems(tx, storeId, models.TransactionItemTypeSale, from, now)
	if err != nil {
		return nil, err
	}
	refundItems, err := models.ListTransactionItems(tx, storeId, models.TransactionItemTypeRefund, from, now)
	if err != nil {
		return nil, err
	}

	var revaluations []*models.InventoryRevaluationEvent
	if err := tx.Where("store_id = ? AND occurred_at >= ? AND occurred_at < ? AND loss_amount > 0",
		storeId, from, now).
		Order("occurred_at asc").
		Find(&revaluations).Error; err != nil {
		return nil, err
	}

	priorUnits, err := models.SumSoldUnitsByProduct(tx, storeId, priorFrom, from)
	if err != nil {
		return nil, err
	}

	var records []*models.InventoryRecord
	if err := tx.Where("store_id = ?", storeId).Find(&records).Error; err != nil {
		return nil, err
	}
	quantities := make(map[int]int64, len(records))
	for _, record := range records {
		quantities[record.ProductId] = record.Quantity
	}

	return &AggregationWindow{
		StoreId:           storeId,
		PeriodDays:        periodDays,
		ComputedAt:        now,
		SaleItems:         saleItems,
		RefundItems:       refundItems,
		RevaluationEvents: revaluations,
		PriorUnitsSold:    priorUnits,
		CurrentQuantities: quantities,
	}, nil
}

// ComputeProductProfitability runs one store's aggregation in a single
// transaction: load the window, build snapshots, upsert them and drop rows for
// products no longer active in the window. On error nothing is committed, so a
// timed-out run leaves no partial snapshots behind. Returns the snapshot count.
func ComputeProductProfitability(ctx context.Context, db *gorm.DB, logger *logrus.Logger, storeId string, periodDays int) (int, error) {
	if storeId == "" {
		return 0, models.ErrStoreIdRequired
	}
	if periodDays <= 0 {
		periodDays = config.DefaultPeriodDays()
	}
	if logger == nil {
		logger = config.GetLogger()
	}
	now := time.Now().UTC()

	var snapshotCount int
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		window, err := LoadAggregationWindow(tx, storeId, periodDays, now)
		if err != nil {
			return fmt.Errorf("load aggregation window: %w", err)
		}
		snapshots := BuildProfitabilitySnapshots(window)
		if err := models.UpsertProfitabilitySnapshots(tx, snapshots); err != nil {
			return fmt.Errorf("upsert snapshots: %w", err)
		}
		keepIds := make([]int, 0, len(snapshots))
		for _, s := range snapshots {
			keepIds = append(keepIds, s.ProductId)
		}
		if err := models.DeleteStaleSnapshots(tx, storeId, periodDays, utils.UniqueSlice(keepIds)); err != nil {
			return fmt.Errorf("delete stale snapshots: %w", err)
		}
		snapshotCount = len(snapshots)
		return nil
	})
	if err != nil {
		return 0, err
	}

	logger.WithFields(logrus.Fields{
		"store_id":       storeId,
		"period_days":    periodDays,
		"snapshot_count": snapshotCount,
	}).Info("profitability.compute.done")
	return snapshotCount, nil
}

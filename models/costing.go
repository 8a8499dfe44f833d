package models

import (
	"fmt"
	"time"

	"github.com/mmretail/stockbooks_backend/config"
	"github.com/shopspring/decimal"
)

// costPrecision is the scale cost-basis columns are stored at (decimal(20,4)).
// Monetary event amounts round to the currency minor unit instead; intermediate
// computation stays unrounded so many small movements cannot compound error.
const costPrecision = 4

type CostingThresholds struct {
	// Absolute unit-cost difference that counts as a material change.
	Absolute decimal.Decimal
	// Relative unit-cost difference (fraction of prior average) that counts as material.
	Relative decimal.Decimal
}

func DefaultCostingThresholds() CostingThresholds {
	return CostingThresholds{
		Absolute: config.PriceChangeAbsThreshold(),
		Relative: config.PriceChangeRelThreshold(),
	}
}

// Material reports whether newCost differs materially from oldCost.
func (t CostingThresholds) Material(oldCost, newCost decimal.Decimal) bool {
	diff := newCost.Sub(oldCost).Abs()
	if diff.GreaterThan(t.Absolute) {
		return true
	}
	if oldCost.IsZero() {
		return false
	}
	return diff.Div(oldCost).GreaterThan(t.Relative)
}

// CostingResult is the outcome of applying one movement to an inventory record.
type CostingResult struct {
	Record InventoryRecord
	// AppliedUnitCost is the cost basis the movement consumed or added stock
	// at. Callers persist it on their transaction item so refunds can reverse
	// the exact amount.
	AppliedUnitCost decimal.Decimal
	PriceChange     *PriceChangeEvent
	Revaluation     *InventoryRevaluationEvent
	NoOp            bool
}

// ApplyMovement is the pure weighted-average costing engine. It never touches
// the database: the caller owns locking, persistence and ledger append.
//
//   - restock: new average = (qty*avg + delta*unitCost) / (qty+delta); a
//     price-change event is produced when unitCost moves materially off the
//     prior average.
//   - sale / loss removal: average cost frozen; value decreases by
//     delta * average; loss removals additionally produce a revaluation event.
//   - refund: value increases by delta * the original sale's unit cost (passed
//     in by the caller), and the average is re-derived from the new totals.
//
// quantity is the positive magnitude of the change; the action determines sign.
func ApplyMovement(record InventoryRecord, action StockActionType, quantity int64, unitCost decimal.Decimal, thresholds CostingThresholds, occurredAt time.Time) (CostingResult, error) {
	if !action.Valid() {
		return CostingResult{}, fmt.Errorf("unknown stock action %q", action)
	}
	if quantity < 0 {
		return CostingResult{}, fmt.Errorf("movement quantity must not be negative: %d", quantity)
	}
	if quantity == 0 {
		// No-op by contract: no ledger row, no record change.
		return CostingResult{Record: record, NoOp: true}, nil
	}

	deltaDec := decimal.NewFromInt(quantity)

	switch action {
	case StockActionRestock:
		if unitCost.LessThanOrEqual(decimal.Zero) {
			return CostingResult{}, fmt.Errorf("restock unit cost %s: %w", unitCost.String(), ErrInvalidCost)
		}
		priorAvg := record.AverageCost
		priorQty := record.Quantity

		record.TotalCostValue = record.TotalCostValue.Add(deltaDec.Mul(unitCost))
		record.Quantity += quantity
		record.AverageCost = record.TotalCostValue.Div(decimal.NewFromInt(record.Quantity))
		record.LastCostUpdate = occurredAt

		result := CostingResult{Record: record, AppliedUnitCost: unitCost}
		// First receipt establishes the cost basis; nothing to compare against.
		hasPriorBasis := priorQty > 0 || !priorAvg.IsZero()
		if hasPriorBasis && thresholds.Material(priorAvg, unitCost) {
			result.PriceChange = &PriceChangeEvent{
				StoreId:    record.StoreId,
				ProductId:  record.ProductId,
				OldCost:    priorAvg,
				NewCost:    unitCost,
				OccurredAt: occurredAt,
			}
		}
		return result, nil

	case StockActionRefund:
		// unitCost here is the ORIGINAL sale's recorded unit cost; the caller
		// falls back to the current average only when that record is missing.
		if unitCost.LessThanOrEqual(decimal.Zero) {
			unitCost = record.AverageCost
		}
		record.TotalCostValue = record.TotalCostValue.Add(deltaDec.Mul(unitCost))
		record.Quantity += quantity
		record.AverageCost = record.TotalCostValue.Div(decimal.NewFromInt(record.Quantity))
		record.LastCostUpdate = occurredAt
		return CostingResult{Record: record, AppliedUnitCost: unitCost}, nil
	}

	// All remaining actions consume stock.
	if quantity > record.Quantity {
		return CostingResult{}, fmt.Errorf("remove %d of product %d with %d on hand: %w",
			quantity, record.ProductId, record.Quantity, ErrInsufficientStock)
	}

	priorQty := record.Quantity
	priorTotal := record.TotalCostValue
	appliedCost := record.AverageCost
	consumedValue := deltaDec.Mul(appliedCost)

	record.Quantity -= quantity
	if record.Quantity == 0 {
		// No stock carries no value; clears any accumulated rounding residue.
		record.TotalCostValue = decimal.Zero
	} else {
		record.TotalCostValue = record.TotalCostValue.Sub(consumedValue)
	}
	record.LastCostUpdate = occurredAt

	result := CostingResult{Record: record, AppliedUnitCost: appliedCost}
	if action.LossRemoval() {
		deltaValue := priorTotal.Sub(record.TotalCostValue).Neg()
		result.Revaluation = &InventoryRevaluationEvent{
			StoreId:         record.StoreId,
			ProductId:       record.ProductId,
			QuantityBefore:  priorQty,
			QuantityAfter:   record.Quantity,
			AvgCostBefore:   appliedCost,
			AvgCostAfter:    record.AverageCost,
			TotalCostBefore: priorTotal,
			TotalCostAfter:  record.TotalCostValue,
			DeltaValue:      deltaValue,
			LossAmount:      deltaValue.Abs(),
			OccurredAt:      occurredAt,
		}
	}
	return result, nil
}

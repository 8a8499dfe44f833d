package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mmretail/stockbooks_backend/config"
	"github.com/mmretail/stockbooks_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var validate = validator.New()

// mutationMaxAttempts bounds retry of the whole movement transaction on
// transient row-lock contention.
const mutationMaxAttempts = 3

type SaleInput struct {
	ProductId   int             `json:"product_id" validate:"required,gt=0"`
	Quantity    int64           `json:"quantity" validate:"required,gt=0"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Source      string          `json:"source" validate:"max=100"`
	ReferenceId string          `json:"reference_id" validate:"max=64"`
	OccurredAt  *time.Time      `json:"occurred_at"`
}

type RefundInput struct {
	ProductId int   `json:"product_id" validate:"required,gt=0"`
	Quantity  int64 `json:"quantity" validate:"required,gt=0"`
	// OriginalUnitCost is the unit cost recorded on the refunded sale's
	// transaction item. Zero means "original sale record missing": the engine
	// then falls back to the store-product average.
	OriginalUnitCost decimal.Decimal `json:"original_unit_cost"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	Source           string          `json:"source" validate:"max=100"`
	ReferenceId      string          `json:"reference_id" validate:"max=64"`
	OccurredAt       *time.Time      `json:"occurred_at"`
}

type RemovalInput struct {
	ProductId int    `json:"product_id" validate:"required,gt=0"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	Reason    string `json:"reason" validate:"required,oneof=damage expiry shrinkage adjustment swap"`
	// LossAmount overrides the computed write-off value (e.g. insured damage);
	// nil means |delta| * average cost.
	LossAmount  *decimal.Decimal `json:"loss_amount"`
	Source      string           `json:"source" validate:"max=100"`
	ReferenceId string           `json:"reference_id" validate:"max=64"`
	OccurredAt  *time.Time       `json:"occurred_at"`
}

type RestockInput struct {
	ProductId   int             `json:"product_id" validate:"required,gt=0"`
	Quantity    int64           `json:"quantity" validate:"required,gt=0"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	Source      string          `json:"source" validate:"max=100"`
	ReferenceId string          `json:"reference_id" validate:"max=64"`
	OccurredAt  *time.Time      `json:"occurred_at"`
}

// RecordSale consumes stock for a POS sale and returns the unit cost basis
// applied, which the caller must persist on its transaction item.
func RecordSale(ctx context.Context, input *SaleInput) (decimal.Decimal, error) {
	if err := validate.Struct(input); err != nil {
		return decimal.Zero, err
	}
	metadata, err := EncodeMovementMetadata(map[string]interface{}{
		"unit_price": input.UnitPrice.String(),
	})
	if err != nil {
		return decimal.Zero, err
	}
	return applyStockMutation(ctx, mutationRequest{
		ProductId:   input.ProductId,
		Action:      StockActionSale,
		Quantity:    input.Quantity,
		Source:      input.Source,
		ReferenceId: input.ReferenceId,
		Metadata:    metadata,
		OccurredAt:  occurredAtOrNow(input.OccurredAt),
	})
}

// RecordRefund restores stock for a refunded sale at the ORIGINAL sale's unit
// cost, so historical margin is reversed exactly.
func RecordRefund(ctx context.Context, input *RefundInput) (decimal.Decimal, error) {
	if err := validate.Struct(input); err != nil {
		return decimal.Zero, err
	}
	metadata, err := EncodeMovementMetadata(map[string]interface{}{
		"unit_price": input.UnitPrice.String(),
	})
	if err != nil {
		return decimal.Zero, err
	}
	return applyStockMutation(ctx, mutationRequest{
		ProductId:   input.ProductId,
		Action:      StockActionRefund,
		Quantity:    input.Quantity,
		UnitCost:    input.OriginalUnitCost,
		Source:      input.Source,
		ReferenceId: input.ReferenceId,
		Metadata:    metadata,
		OccurredAt:  occurredAtOrNow(input.OccurredAt),
	})
}

// RecordRemoval writes off stock (damage, expiry, shrinkage, swap) and records
// the loss as a revaluation event. Returns the unit cost basis written off.
func RecordRemoval(ctx context.Context, input *RemovalInput) (decimal.Decimal, error) {
	if err := validate.Struct(input); err != nil {
		return decimal.Zero, err
	}
	action, ok := ActionForRemovalReason(input.Reason)
	if !ok {
		return decimal.Zero, fmt.Errorf("unknown removal reason %q", input.Reason)
	}
	metadata, err := EncodeMovementMetadata(map[string]interface{}{
		"reason": input.Reason,
	})
	if err != nil {
		return decimal.Zero, err
	}
	return applyStockMutation(ctx, mutationRequest{
		ProductId:      input.ProductId,
		Action:         action,
		Quantity:       input.Quantity,
		Reason:         input.Reason,
		LossOverride:   input.LossAmount,
		Source:         input.Source,
		ReferenceId:    input.ReferenceId,
		Metadata:       metadata,
		OccurredAt:     occurredAtOrNow(input.OccurredAt),
	})
}

// RecordRestock receives stock at a unit cost and reprices the weighted
// average. Returns the new average cost.
func RecordRestock(ctx context.Context, input *RestockInput) (decimal.Decimal, error) {
	if err := validate.Struct(input); err != nil {
		return decimal.Zero, err
	}
	if input.UnitCost.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("restock unit cost %s: %w", input.UnitCost.String(), ErrInvalidCost)
	}
	metadata, err := EncodeMovementMetadata(map[string]interface{}{
		"unit_cost": input.UnitCost.String(),
	})
	if err != nil {
		return decimal.Zero, err
	}
	return applyStockMutation(ctx, mutationRequest{
		ProductId:   input.ProductId,
		Action:      StockActionRestock,
		Quantity:    input.Quantity,
		UnitCost:    input.UnitCost,
		Source:      input.Source,
		ReferenceId: input.ReferenceId,
		Metadata:    metadata,
		OccurredAt:  occurredAtOrNow(input.OccurredAt),
	})
}

type PriceEditInput struct {
	ProductId    int              `json:"product_id" validate:"required,gt=0"`
	OldCost      decimal.Decimal  `json:"old_cost"`
	NewCost      decimal.Decimal  `json:"new_cost"`
	OldSalePrice *decimal.Decimal `json:"old_sale_price"`
	NewSalePrice *decimal.Decimal `json:"new_sale_price"`
	OccurredAt   *time.Time       `json:"occurred_at"`
}

// RecordPriceEdit logs a manual list-cost/sale-price change. It does not touch
// quantity or the average cost basis; restocks do that.
func RecordPriceEdit(ctx context.Context, input *PriceEditInput) error {
	if err := validate.Struct(input); err != nil {
		return err
	}
	storeId, ok := utils.GetStoreIdFromContext(ctx)
	if !ok || storeId == "" {
		return ErrStoreIdRequired
	}
	db := config.GetDB()
	if db == nil {
		return ErrDBNotInitialized
	}
	actorId, _ := utils.GetActorIdFromContext(ctx)
	event := PriceChangeEvent{
		StoreId:      storeId,
		ProductId:    input.ProductId,
		ActorId:      actorId,
		OldCost:      input.OldCost,
		NewCost:      input.NewCost,
		OldSalePrice: input.OldSalePrice,
		NewSalePrice: input.NewSalePrice,
		OccurredAt:   occurredAtOrNow(input.OccurredAt),
	}
	return recordPriceChangeEvent(db.WithContext(ctx), &event)
}

type mutationRequest struct {
	ProductId    int
	Action       StockActionType
	Quantity     int64
	UnitCost     decimal.Decimal
	Reason       string
	LossOverride *decimal.Decimal
	Source       string
	ReferenceId  string
	Metadata     []byte
	OccurredAt   time.Time
}

// applyStockMutation runs the costing engine and all persistence as one atomic
// unit: the inventory record row is locked FOR UPDATE, exactly one ledger row
// is appended, and cost events commit or roll back together with the record.
// Transient lock contention retries with backoff.
func applyStockMutation(ctx context.Context, req mutationRequest) (decimal.Decimal, error) {
	storeId, ok := utils.GetStoreIdFromContext(ctx)
	if !ok || storeId == "" {
		return decimal.Zero, ErrStoreIdRequired
	}
	db := config.GetDB()
	if db == nil {
		return decimal.Zero, ErrDBNotInitialized
	}
	actorId, _ := utils.GetActorIdFromContext(ctx)
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	if correlationId == "" {
		correlationId = uuid.NewString()
	}

	var appliedCost decimal.Decimal
	var lastErr error
	for attempt := 1; attempt <= mutationMaxAttempts; attempt++ {
		lastErr = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			record, err := FirstOrCreateInventoryRecordForUpdate(tx, storeId, req.ProductId)
			if err != nil {
				return err
			}
			if record.PostingBlocked {
				return fmt.Errorf("writes blocked for store=%s product=%d pending reconciliation: %w",
					storeId, req.ProductId, ErrInconsistentLedger)
			}

			previousVersion := record.Version
			quantityBefore := record.Quantity

			result, err := ApplyMovement(*record, req.Action, req.Quantity, req.UnitCost, DefaultCostingThresholds(), req.OccurredAt)
			if err != nil {
				return err
			}
			if result.NoOp {
				appliedCost = record.AverageCost
				return nil
			}
			appliedCost = result.AppliedUnitCost

			updated := result.Record
			if err := saveInventoryRecord(tx, &updated, previousVersion); err != nil {
				return err
			}
			if err := updated.CheckCostInvariant(); err != nil {
				return err
			}

			movement := StockMovement{
				StoreId:        storeId,
				ProductId:      req.ProductId,
				QuantityBefore: quantityBefore,
				QuantityAfter:  updated.Quantity,
				Delta:          updated.Quantity - quantityBefore,
				ActionType:     req.Action,
				UnitCost:       result.AppliedUnitCost.Round(costPrecision),
				Source:         req.Source,
				ReferenceId:    req.ReferenceId,
				Metadata:       req.Metadata,
				OccurredAt:     req.OccurredAt,
				CorrelationId:  correlationId,
			}
			if err := recordStockMovement(tx, &movement); err != nil {
				return err
			}

			if result.PriceChange != nil {
				result.PriceChange.ActorId = actorId
				if err := recordPriceChangeEvent(tx, result.PriceChange); err != nil {
					return err
				}
			}
			if result.Revaluation != nil {
				result.Revaluation.ActorId = actorId
				result.Revaluation.Reason = req.Reason
				if loss := utils.DereferencePtr(req.LossOverride); loss.GreaterThan(decimal.Zero) {
					result.Revaluation.LossAmount = loss
					result.Revaluation.DeltaValue = loss.Neg()
				}
				if err := recordRevaluationEvent(tx, result.Revaluation); err != nil {
					return err
				}
			}
			if req.Action == StockActionRestock {
				layer := CostLayer{
					StoreId:     storeId,
					ProductId:   req.ProductId,
					Quantity:    req.Quantity,
					UnitCost:    req.UnitCost.Round(costPrecision),
					Source:      req.Source,
					ReferenceId: req.ReferenceId,
					ReceivedAt:  req.OccurredAt,
				}
				if err := recordCostLayer(tx, &layer); err != nil {
					return err
				}
			}
			return nil
		})
		if lastErr == nil {
			return appliedCost, nil
		}
		if !isRetryableLockErr(lastErr) || attempt == mutationMaxAttempts {
			return decimal.Zero, lastErr
		}
		time.Sleep(time.Duration(attempt*attempt) * 50 * time.Millisecond)
	}
	return decimal.Zero, lastErr
}

// isRetryableLockErr classifies MySQL lock-wait timeouts (1205) and deadlocks
// (1213) as transient.
func isRetryableLockErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1205 || mysqlErr.Number == 1213
	}
	return false
}

func occurredAtOrNow(t *time.Time) time.Time {
	if t != nil && !t.IsZero() {
		return t.UTC()
	}
	return time.Now().UTC()
}

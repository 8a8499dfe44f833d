package models

import (
	"context"
	"time"

	"github.com/mmretail/stockbooks_backend/config"
	"github.com/mmretail/stockbooks_backend/utils"
	"gorm.io/gorm"
)

// ReconciliationReport is one replay check for one store-product: the recorded
// quantity against the sum of ledger deltas. Mismatched rows stay open until a
// human resolves them.
type ReconciliationReport struct {
	ID               int        `gorm:"primaryKey;autoIncrement" json:"id"`
	StoreId          string     `gorm:"size:100;index" json:"store_id"`
	ProductId        int        `json:"product_id"`
	RecordedQuantity int64      `json:"recorded_quantity"`
	ReplayedQuantity int64      `json:"replayed_quantity"`
	Consistent       bool       `json:"consistent"`
	CheckedAt        time.Time  `json:"checked_at"`
	ResolvedAt       *time.Time `json:"resolved_at"`
	ResolvedBy       string     `gorm:"size:100" json:"resolved_by"`
	Note             string     `gorm:"size:500" json:"note"`
	CreatedAt        time.Time  `json:"created_at"`
}

// RunReconciliationChecks replays the movement ledger for every product in the
// store and compares against inventory_records. A mismatch writes an open
// report row and blocks further postings for that product until resolved.
func RunReconciliationChecks(ctx context.Context) ([]ReconciliationReport, error) {
	storeId, ok := utils.GetStoreIdFromContext(ctx)
	if !ok || storeId == "" {
		return nil, ErrStoreIdRequired
	}
	db := config.GetDB()
	if db == nil {
		return nil, ErrDBNotInitialized
	}

	var reports []ReconciliationReport
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var records []InventoryRecord
		if err := tx.Where("store_id = ?", storeId).
			Order("product_id asc").Find(&records).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		for i := range records {
			record := &records[i]
			replayed, err := ReplayMovementQuantity(tx, storeId, record.ProductId)
			if err != nil {
				return err
			}
			report := ReconciliationReport{
				StoreId:          storeId,
				ProductId:        record.ProductId,
				RecordedQuantity: record.Quantity,
				ReplayedQuantity: replayed,
				Consistent:       replayed == record.Quantity,
				CheckedAt:        now,
			}
			if !report.Consistent {
				if err := tx.Model(&InventoryRecord{}).
					Where("id = ?", record.ID).
					Update("posting_blocked", true).Error; err != nil {
					return err
				}
				if err := tx.Create(&report).Error; err != nil {
					return err
				}
				config.LogError(config.GetLogger(), "models", "RunReconciliationChecks",
					"ledger replay mismatch", map[string]interface{}{
						"store_id":   storeId,
						"product_id": record.ProductId,
						"recorded":   record.Quantity,
						"replayed":   replayed,
					}, ErrInconsistentLedger)
			}
			reports = append(reports, report)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reports, nil
}

// ResolveReconciliation closes an open mismatch report and unblocks postings
// for the product. The caller is expected to have corrected the record first,
// typically via the inventory-rebuild command.
func ResolveReconciliation(ctx context.Context, reportId int, note string) error {
	storeId, ok := utils.GetStoreIdFromContext(ctx)
	if !ok || storeId == "" {
		return ErrStoreIdRequired
	}
	db := config.GetDB()
	if db == nil {
		return ErrDBNotInitialized
	}
	actorName, _ := utils.GetActorNameFromContext(ctx)

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var report ReconciliationReport
		if err := tx.Where("id = ? AND store_id = ?", reportId, storeId).
			First(&report).Error; err != nil {
			return err
		}
		if report.ResolvedAt != nil {
			return nil
		}
		now := time.Now().UTC()
		if err := tx.Model(&ReconciliationReport{}).
			Where("id = ?", report.ID).
			Updates(map[string]interface{}{
				"resolved_at": now,
				"resolved_by": actorName,
				"note":        note,
			}).Error; err != nil {
			return err
		}
		var openMismatches int64
		if err := tx.Model(&ReconciliationReport{}).
			Where("store_id = ? AND product_id = ? AND consistent = ? AND resolved_at IS NULL AND id <> ?",
				storeId, report.ProductId, false, report.ID).
			Count(&openMismatches).Error; err != nil {
			return err
		}
		if openMismatches == 0 {
			if err := tx.Model(&InventoryRecord{}).
				Where("store_id = ? AND product_id = ?", storeId, report.ProductId).
				Update("posting_blocked", false).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

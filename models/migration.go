package models

import (
	"github.com/mmretail/stockbooks_backend/config"
)

// MigrateTable creates or updates every table the engine owns. Transaction
// items are included even though this service only reads them, so a fresh
// environment can seed fixtures without the POS schema.
func MigrateTable() error {
	db := config.GetDB()
	if db == nil {
		return ErrDBNotInitialized
	}
	return db.AutoMigrate(
		&InventoryRecord{},
		&StockMovement{},
		&PriceChangeEvent{},
		&InventoryRevaluationEvent{},
		&CostLayer{},
		&TransactionItem{},
		&ProductProfitabilitySnapshot{},
		&ProfitabilityRun{},
		&ReconciliationReport{},
	)
}

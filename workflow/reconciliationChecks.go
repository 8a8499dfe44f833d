package workflow

import (
	"context"

	"github.com/mmretail/stockbooks_backend/models"
	"github.com/sirupsen/logrus"
)

// RunLedgerReconciliationChecks replays the movement ledger for the store in
// context and writes mismatch rows to reconciliation_reports. Intended to run
// on a schedule (nightly) or via an admin trigger.
func RunLedgerReconciliationChecks(ctx context.Context, logger *logrus.Logger) (int, error) {
	// Delegate to the models-level implementation to avoid package cycles.
	reports, err := models.RunReconciliationChecks(ctx)
	if err != nil {
		return 0, err
	}
	mismatches := 0
	for _, report := range reports {
		if !report.Consistent {
			mismatches++
		}
	}
	if logger != nil {
		logger.WithFields(logrus.Fields{
			"field":      "ReconciliationChecks",
			"checked":    len(reports),
			"mismatches": mismatches,
		}).Info("ledger reconciliation checks completed")
	}
	return mismatches, nil
}

package models

import (
	"time"

	"github.com/mmretail/stockbooks_backend/utils"
	"gorm.io/gorm"
)

// ProfitabilityRun tracks one store's aggregation batch job. A store never has
// two concurrently running runs for the same window length; failures are
// recorded here and retried on the next schedule without affecting other stores.
type ProfitabilityRun struct {
	ID            int        `gorm:"primary_key" json:"id"`
	StoreId       string     `gorm:"size:64;index:idx_profit_run_store_period,priority:1;not null" json:"store_id"`
	PeriodDays    int        `gorm:"index:idx_profit_run_store_period,priority:2;not null" json:"period_days"`
	Status        RunStatus  `gorm:"type:enum('pending','running','completed','failed');index;not null;default:pending" json:"status"`
	TriggeredBy   string     `gorm:"size:20" json:"triggered_by"` // manual | schedule
	SnapshotCount int        `json:"snapshot_count"`
	ErrorMessage  *string    `gorm:"type:text" json:"error_message"`
	CorrelationId string     `gorm:"size:64;index" json:"correlation_id"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

const (
	RunTriggeredManual   = "manual"
	RunTriggeredSchedule = "schedule"
)

// BeginProfitabilityRun creates the run row in running state. If another run
// for the same store+period is still running and younger than staleAfter, the
// caller must skip this store (skip=true).
func BeginProfitabilityRun(db *gorm.DB, storeId string, periodDays int, triggeredBy, correlationId string, staleAfter time.Duration) (*ProfitabilityRun, bool, error) {
	var inflight ProfitabilityRun
	err := db.
		Where("store_id = ? AND period_days = ? AND status = ?", storeId, periodDays, RunStatusRunning).
		Order("id DESC").
		First(&inflight).Error
	if err == nil {
		if time.Since(inflight.UpdatedAt) < staleAfter {
			return nil, true, nil
		}
		// A stale running row means a previous worker died mid-run; mark it
		// failed and continue.
		msg := "run abandoned (stale running state)"
		now := time.Now().UTC()
		if uerr := db.Model(&ProfitabilityRun{}).
			Where("id = ? AND status = ?", inflight.ID, RunStatusRunning).
			Updates(map[string]interface{}{
				"status":        RunStatusFailed,
				"error_message": &msg,
				"finished_at":   &now,
			}).Error; uerr != nil {
			return nil, false, uerr
		}
	} else if err != gorm.ErrRecordNotFound {
		return nil, false, err
	}

	now := time.Now().UTC()
	run := ProfitabilityRun{
		StoreId:       storeId,
		PeriodDays:    periodDays,
		Status:        RunStatusRunning,
		TriggeredBy:   triggeredBy,
		CorrelationId: correlationId,
		StartedAt:     &now,
	}
	if err := db.Create(&run).Error; err != nil {
		return nil, false, err
	}
	return &run, false, nil
}

// CompleteProfitabilityRun marks the run completed with its output size.
func CompleteProfitabilityRun(db *gorm.DB, run *ProfitabilityRun, snapshotCount int) error {
	now := time.Now().UTC()
	var durationMs int64
	if run.StartedAt != nil {
		durationMs = now.Sub(*run.StartedAt).Milliseconds()
	}
	return db.Model(&ProfitabilityRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"status":         RunStatusCompleted,
			"snapshot_count": snapshotCount,
			"finished_at":    &now,
			"duration_ms":    durationMs,
		}).Error
}

// FailProfitabilityRun records the failure; the next schedule retries.
func FailProfitabilityRun(db *gorm.DB, run *ProfitabilityRun, runErr error) error {
	now := time.Now().UTC()
	var durationMs int64
	if run.StartedAt != nil {
		durationMs = now.Sub(*run.StartedAt).Milliseconds()
	}
	return db.Model(&ProfitabilityRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"status":        RunStatusFailed,
			"error_message": utils.NilIfEmpty(runErr.Error()),
			"finished_at":   &now,
			"duration_ms":   durationMs,
		}).Error
}

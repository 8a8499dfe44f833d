package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/mmretail/stockbooks_backend/config"
	"github.com/mmretail/stockbooks_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const moduleName = "workflow"

// profitabilityLockTTL bounds how long a crashed worker can hold a store's
// batch lock before another instance may take over.
const profitabilityLockTTL = 15 * time.Minute

// RunProfitabilityForStore executes one store's aggregation batch end to end:
// redis lock so the store never runs concurrently with itself across
// instances, a run record for observability and retry accounting, and a job
// timeout after which the run is marked failed with nothing committed.
func RunProfitabilityForStore(ctx context.Context, db *gorm.DB, logger *logrus.Logger, storeId string, periodDays int, triggeredBy string) error {
	if logger == nil {
		logger = config.GetLogger()
	}
	if periodDays <= 0 {
		periodDays = config.DefaultPeriodDays()
	}
	correlationId := uuid.NewString()

	locker := config.GetRedisLock()
	if locker != nil {
		lock, err := locker.Obtain(ctx, "profitability_run:"+storeId, profitabilityLockTTL, nil)
		if err == redislock.ErrNotObtained {
			logger.WithFields(logrus.Fields{
				"store_id": storeId,
			}).Info("profitability.run.skip_locked")
			return nil
		} else if err != nil {
			config.LogError(logger, moduleName, "RunProfitabilityForStore", "obtain store lock", storeId, err)
			return err
		}
		defer func() {
			_ = lock.Release(ctx)
		}()
	}

	run, skip, err := models.BeginProfitabilityRun(db, storeId, periodDays, triggeredBy, correlationId, profitabilityLockTTL)
	if err != nil {
		config.LogError(logger, moduleName, "RunProfitabilityForStore", "begin run record", storeId, err)
		return err
	}
	if skip {
		logger.WithFields(logrus.Fields{
			"store_id":    storeId,
			"period_days": periodDays,
		}).Info("profitability.run.skip_running")
		return nil
	}

	timeout := time.Duration(config.ProfitabilityRunTimeoutSeconds()) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	snapshotCount, err := ComputeProductProfitability(runCtx, db, logger, storeId, periodDays)
	if err != nil {
		config.LogError(logger, moduleName, "RunProfitabilityForStore", "aggregation failed", map[string]interface{}{
			"store_id":       storeId,
			"period_days":    periodDays,
			"correlation_id": correlationId,
		}, err)
		if failErr := models.FailProfitabilityRun(db, run, err); failErr != nil {
			config.LogError(logger, moduleName, "RunProfitabilityForStore", "mark run failed", storeId, failErr)
		}
		return err
	}
	if err := models.CompleteProfitabilityRun(db, run, snapshotCount); err != nil {
		config.LogError(logger, moduleName, "RunProfitabilityForStore", "mark run completed", storeId, err)
		return err
	}
	return nil
}

// RunProfitabilityForAllStores fans the batch out over every store with a
// bounded worker pool. One store's failure is recorded on its own run row and
// does not abort the others; the first error is returned for the caller's log.
func RunProfitabilityForAllStores(ctx context.Context, db *gorm.DB, logger *logrus.Logger, periodDays int, triggeredBy string) error {
	if logger == nil {
		logger = config.GetLogger()
	}
	storeIds, err := models.ListStoreIds(ctx, db)
	if err != nil {
		return err
	}
	if len(storeIds) == 0 {
		return nil
	}

	workers := config.ProfitabilityWorkers()
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, storeId := range storeIds {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(storeId string) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := RunProfitabilityForStore(ctx, db, logger, storeId, periodDays, triggeredBy); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(storeId)
	}
	wg.Wait()

	logger.WithFields(logrus.Fields{
		"store_count":  len(storeIds),
		"period_days":  periodDays,
		"triggered_by": triggeredBy,
	}).Info("profitability.run.all_done")
	return firstErr
}

// StartProfitabilityScheduler loops RunProfitabilityForAllStores on the given
// interval until ctx is cancelled. Intended to run in its own goroutine.
func StartProfitabilityScheduler(ctx context.Context, db *gorm.DB, logger *logrus.Logger, interval time.Duration) {
	if logger == nil {
		logger = config.GetLogger()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("profitability.scheduler.stopped")
			return
		case <-ticker.C:
			if err := RunProfitabilityForAllStores(ctx, db, logger, config.DefaultPeriodDays(), models.RunTriggeredSchedule); err != nil {
				config.LogError(logger, moduleName, "StartProfitabilityScheduler", "scheduled run", nil, err)
			}
		}
	}
}

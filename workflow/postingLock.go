package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireStorePostingLock serializes ledger rework per store across instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same *gorm.DB that will do the rework transaction.
func AcquireStorePostingLock(tx *gorm.DB, storeId string) error {
	lockName := fmt.Sprintf("posting:%s", storeId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire posting lock for store_id=%s", storeId)
	}
	return nil
}

func ReleaseStorePostingLock(tx *gorm.DB, storeId string) {
	lockName := fmt.Sprintf("posting:%s", storeId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}

package models

import "fmt"

var (
	// ErrStoreIdRequired is returned when the context lacks a store id.
	ErrStoreIdRequired = fmt.Errorf("store id is required")
	// ErrDBNotInitialized is returned when the DB connection has not been established.
	ErrDBNotInitialized = fmt.Errorf("database not initialized")

	// ErrInsufficientStock rejects a consumption that exceeds on-hand quantity.
	// The request is rejected outright, never clamped.
	ErrInsufficientStock = fmt.Errorf("insufficient stock")
	// ErrInvalidCost rejects a restock with a non-positive unit cost.
	ErrInvalidCost = fmt.Errorf("invalid unit cost")
	// ErrInconsistentLedger means replaying the movement ledger does not
	// reproduce the stored quantity. Writes for the store-product stay blocked
	// until the mismatch is manually reconciled.
	ErrInconsistentLedger = fmt.Errorf("inventory ledger inconsistent with record")
)

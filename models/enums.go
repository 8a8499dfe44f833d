package models

type StockActionType string

const (
	StockActionSale          StockActionType = "sale"
	StockActionRefund        StockActionType = "refund"
	StockActionRestock       StockActionType = "restock"
	StockActionDamageRemoval StockActionType = "damage_removal"
	StockActionExpiryRemoval StockActionType = "expiry_removal"
	StockActionAdjustment    StockActionType = "adjustment"
	StockActionSwap          StockActionType = "swap"
)

func (t StockActionType) Valid() bool {
	switch t {
	case StockActionSale, StockActionRefund, StockActionRestock,
		StockActionDamageRemoval, StockActionExpiryRemoval,
		StockActionAdjustment, StockActionSwap:
		return true
	}
	return false
}

// Consuming actions reduce on-hand quantity.
func (t StockActionType) Consuming() bool {
	switch t {
	case StockActionSale, StockActionDamageRemoval, StockActionExpiryRemoval,
		StockActionAdjustment, StockActionSwap:
		return true
	}
	return false
}

// LossRemoval actions reduce quantity with no matching revenue line, so they
// must be recorded as revaluation write-offs.
func (t StockActionType) LossRemoval() bool {
	switch t {
	case StockActionDamageRemoval, StockActionExpiryRemoval,
		StockActionAdjustment, StockActionSwap:
		return true
	}
	return false
}

type TransactionItemType string

const (
	TransactionItemTypeSale   TransactionItemType = "sale"
	TransactionItemTypeRefund TransactionItemType = "refund"
)

type ProfitTrend string

const (
	ProfitTrendRising    ProfitTrend = "rising"
	ProfitTrendStable    ProfitTrend = "stable"
	ProfitTrendDeclining ProfitTrend = "declining"
)

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Removal reasons accepted on the external removal surface.
const (
	RemovalReasonDamage     = "damage"
	RemovalReasonExpiry     = "expiry"
	RemovalReasonShrinkage  = "shrinkage"
	RemovalReasonAdjustment = "adjustment"
	RemovalReasonSwap       = "swap"
)

// ActionForRemovalReason maps an external removal reason to its ledger action.
func ActionForRemovalReason(reason string) (StockActionType, bool) {
	switch reason {
	case RemovalReasonDamage:
		return StockActionDamageRemoval, true
	case RemovalReasonExpiry:
		return StockActionExpiryRemoval, true
	case RemovalReasonShrinkage, RemovalReasonAdjustment:
		return StockActionAdjustment, true
	case RemovalReasonSwap:
		return StockActionSwap, true
	}
	return "", false
}

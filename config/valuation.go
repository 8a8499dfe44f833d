package config

import (
	"os"

	"github.com/mmretail/stockbooks_backend/utils"
	"github.com/shopspring/decimal"
)

// Valuation and profitability tunables. All env-overridable so ops can adjust
// without a deploy; defaults match the business rules the reporting side expects.

// PriceChangeAbsThreshold is the absolute unit-cost difference (in currency
// minor units) above which a restock records a price-change event.
// Env: PRICE_CHANGE_ABS_THRESHOLD (default 0.01).
func PriceChangeAbsThreshold() decimal.Decimal {
	return decimalFromEnv("PRICE_CHANGE_ABS_THRESHOLD", "0.01")
}

// PriceChangeRelThreshold is the relative unit-cost difference above which a
// restock records a price-change event.
// Env: PRICE_CHANGE_REL_THRESHOLD (default 0.005 = 0.5%).
func PriceChangeRelThreshold() decimal.Decimal {
	return decimalFromEnv("PRICE_CHANGE_REL_THRESHOLD", "0.005")
}

// SaleVelocityEpsilon is the velocity below which a product is treated as not
// selling (days-to-stockout undefined).
// Env: SALE_VELOCITY_EPSILON (default 0.0001).
func SaleVelocityEpsilon() decimal.Decimal {
	return decimalFromEnv("SALE_VELOCITY_EPSILON", "0.0001")
}

// DefaultPeriodDays is the trailing aggregation window.
// Env: PROFITABILITY_PERIOD_DAYS (default 30).
func DefaultPeriodDays() int {
	return IntFromEnv("PROFITABILITY_PERIOD_DAYS", 30)
}

// StockoutThresholdDays bounds which products enter the restocking ranking.
// Env: RESTOCK_STOCKOUT_THRESHOLD_DAYS (default 14).
func StockoutThresholdDays() int {
	return IntFromEnv("RESTOCK_STOCKOUT_THRESHOLD_DAYS", 14)
}

// ProfitabilityWorkers bounds how many stores aggregate concurrently.
// Env: PROFITABILITY_WORKERS (default 4).
func ProfitabilityWorkers() int {
	n := IntFromEnv("PROFITABILITY_WORKERS", 4)
	if n < 1 {
		n = 1
	}
	return n
}

// ProfitabilityRunTimeoutSeconds is the per-store batch job timeout.
// Env: PROFITABILITY_RUN_TIMEOUT_SECONDS (default 600).
func ProfitabilityRunTimeoutSeconds() int {
	return IntFromEnv("PROFITABILITY_RUN_TIMEOUT_SECONDS", 600)
}

// CurrencyPrecision is the minor-unit precision monetary values are rounded to
// at persistence time. Intermediate computations stay unrounded.
// Env: CURRENCY_PRECISION (default 2).
func CurrencyPrecision() int32 {
	return int32(IntFromEnv("CURRENCY_PRECISION", 2))
}

func decimalFromEnv(key string, def string) decimal.Decimal {
	d, err := utils.ParseDecimal(os.Getenv(key))
	if err != nil {
		d, _ = decimal.NewFromString(def)
	}
	return d
}

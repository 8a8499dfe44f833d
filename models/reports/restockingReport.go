package reports

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mmretail/stockbooks_backend/config"
	"github.com/mmretail/stockbooks_backend/models"
	"github.com/mmretail/stockbooks_backend/utils"
	"github.com/shopspring/decimal"
)

type RestockingCandidate struct {
	ProductId        int             `json:"productId"`
	CurrentQuantity  int64           `json:"currentQuantity"`
	SaleVelocity     decimal.Decimal `json:"saleVelocity"`
	DaysToStockout   decimal.Decimal `json:"daysToStockout"`
	AvgProfitPerUnit decimal.Decimal `json:"avgProfitPerUnit"`
	// Score is profit contribution per day: avgProfitPerUnit * saleVelocity.
	Score          decimal.Decimal `json:"score"`
	Recommendation string          `json:"recommendation"`
}

// RankRestockingCandidates ranks snapshots that will stock out within
// thresholdDays. Higher daily profit contribution first, sooner stockout
// breaking ties. Products with no sales in the window carry a nil stockout
// horizon and never rank; the stale inventory report covers those.
func RankRestockingCandidates(snapshots []*models.ProductProfitabilitySnapshot, thresholdDays int, limit int) []*RestockingCandidate {
	threshold := decimal.NewFromInt(int64(thresholdDays))
	var candidates []*RestockingCandidate
	for _, s := range snapshots {
		if s.DaysToStockout == nil {
			continue
		}
		if s.DaysToStockout.GreaterThan(threshold) {
			continue
		}
		candidate := RestockingCandidate{
			ProductId:        s.ProductId,
			CurrentQuantity:  s.CurrentQuantity,
			SaleVelocity:     s.SaleVelocity,
			DaysToStockout:   *s.DaysToStockout,
			AvgProfitPerUnit: s.AvgProfitPerUnit,
			Score:            s.AvgProfitPerUnit.Mul(s.SaleVelocity),
		}
		candidate.Recommendation = restockRecommendation(&candidate)
		candidates = append(candidates, &candidate)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].Score.Equal(candidates[j].Score) {
			return candidates[i].Score.GreaterThan(candidates[j].Score)
		}
		if !candidates[i].DaysToStockout.Equal(candidates[j].DaysToStockout) {
			return candidates[i].DaysToStockout.LessThan(candidates[j].DaysToStockout)
		}
		return candidates[i].ProductId < candidates[j].ProductId
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

func restockRecommendation(c *RestockingCandidate) string {
	days := c.DaysToStockout.Round(1)
	switch {
	case days.LessThanOrEqual(decimal.NewFromInt(3)):
		return fmt.Sprintf("Urgent: product %d stocks out in ~%s days at current velocity (%s units/day). Reorder immediately.",
			c.ProductId, days.String(), c.SaleVelocity.Round(2).String())
	case days.LessThanOrEqual(decimal.NewFromInt(7)):
		return fmt.Sprintf("Product %d stocks out in ~%s days (%s units/day). Reorder this week.",
			c.ProductId, days.String(), c.SaleVelocity.Round(2).String())
	default:
		return fmt.Sprintf("Product %d stocks out in ~%s days (%s units/day). Plan a reorder.",
			c.ProductId, days.String(), c.SaleVelocity.Round(2).String())
	}
}

// GetRestockingPriorityReport loads the store's snapshots for the window and
// returns the bounded ranked reorder list.
func GetRestockingPriorityReport(ctx context.Context, periodDays int, limit int) ([]*RestockingCandidate, error) {
	start := time.Now()
	defer logSlowReport(ctx, "restocking_priority_report", start, map[string]any{
		"period_days": periodDays,
		"limit":       limit,
	})

	if periodDays <= 0 {
		periodDays = config.DefaultPeriodDays()
	}

	if reportCacheEnabled() {
		storeId, _ := utils.GetStoreIdFromContext(ctx)
		key := fmt.Sprintf("report:restocking_priority:%s:%d:%d", storeId, periodDays, limit)
		var cached []*RestockingCandidate
		if ok, err := cacheGet(key, &cached); err == nil && ok && cached != nil {
			return cached, nil
		}
		snapshots, err := models.GetProductProfitability(ctx, periodDays)
		if err != nil {
			return nil, err
		}
		candidates := RankRestockingCandidates(snapshots, config.StockoutThresholdDays(), limit)
		_ = cacheSet(key, candidates, reportCacheTTL())
		return candidates, nil
	}

	snapshots, err := models.GetProductProfitability(ctx, periodDays)
	if err != nil {
		return nil, err
	}
	return RankRestockingCandidates(snapshots, config.StockoutThresholdDays(), limit), nil
}

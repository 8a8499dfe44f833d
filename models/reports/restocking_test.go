package reports_test

import (
	"strings"
	"testing"

	"github.com/mmretail/stockbooks_backend/models"
	"github.com/mmretail/stockbooks_backend/models/reports"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func snapshot(productId int, daysToStockout *decimal.Decimal, avgProfit, velocity string, quantity int64) *models.ProductProfitabilitySnapshot {
	return &models.ProductProfitabilitySnapshot{
		StoreId:          "store-1",
		ProductId:        productId,
		PeriodDays:       30,
		DaysToStockout:   daysToStockout,
		AvgProfitPerUnit: dec(avgProfit),
		SaleVelocity:     dec(velocity),
		CurrentQuantity:  quantity,
	}
}

func TestRankRestockingCandidatesOrdersByDailyProfit(t *testing.T) {
	snapshots := []*models.ProductProfitabilitySnapshot{
		// score 5 * 2 = 10
		snapshot(1, decPtr("10"), "5.00", "2", 20),
		// score 20 * 1 = 20, ranks first despite later stockout
		snapshot(2, decPtr("12"), "20.00", "1", 12),
		// score 2 * 0.5 = 1
		snapshot(3, decPtr("4"), "2.00", "0.5", 2),
	}
	ranked := reports.RankRestockingCandidates(snapshots, 14, 10)
	if len(ranked) != 3 {
		t.Fatalf("expected 3 candidates; got %d", len(ranked))
	}
	wantOrder := []int{2, 1, 3}
	for i, want := range wantOrder {
		if ranked[i].ProductId != want {
			t.Fatalf("position %d: expected product %d; got %d", i, want, ranked[i].ProductId)
		}
	}
	if ranked[0].Recommendation == "" || !strings.Contains(ranked[0].Recommendation, "Product 2") {
		t.Fatalf("expected a recommendation naming the product; got %q", ranked[0].Recommendation)
	}
}

func TestRankRestockingCandidatesTiebreakOnStockout(t *testing.T) {
	snapshots := []*models.ProductProfitabilitySnapshot{
		snapshot(1, decPtr("10"), "5.00", "2", 20),
		snapshot(2, decPtr("4"), "5.00", "2", 8),
	}
	ranked := reports.RankRestockingCandidates(snapshots, 14, 10)
	if len(ranked) != 2 {
		t.Fatalf("expected 2 candidates; got %d", len(ranked))
	}
	if ranked[0].ProductId != 2 {
		t.Fatalf("equal scores must rank the sooner stockout first; got product %d", ranked[0].ProductId)
	}
}

func TestRankRestockingCandidatesExcludesBeyondThreshold(t *testing.T) {
	snapshots := []*models.ProductProfitabilitySnapshot{
		snapshot(1, decPtr("14"), "5.00", "2", 28),
		snapshot(2, decPtr("14.5"), "50.00", "3", 44),
	}
	ranked := reports.RankRestockingCandidates(snapshots, 14, 10)
	if len(ranked) != 1 || ranked[0].ProductId != 1 {
		t.Fatalf("expected only product 1 inside the 14-day threshold; got %+v", ranked)
	}
}

func TestRankRestockingCandidatesExcludesNonSelling(t *testing.T) {
	// Nil stockout horizon means no sales in the window; stale inventory, not
	// a reorder candidate.
	snapshots := []*models.ProductProfitabilitySnapshot{
		snapshot(1, nil, "0", "0", 50),
		snapshot(2, decPtr("5"), "3.00", "1", 5),
	}
	ranked := reports.RankRestockingCandidates(snapshots, 14, 10)
	if len(ranked) != 1 || ranked[0].ProductId != 2 {
		t.Fatalf("non-selling product must be excluded; got %+v", ranked)
	}
}

func TestRankRestockingCandidatesHonorsLimit(t *testing.T) {
	snapshots := []*models.ProductProfitabilitySnapshot{
		snapshot(1, decPtr("2"), "5.00", "2", 4),
		snapshot(2, decPtr("3"), "4.00", "2", 6),
		snapshot(3, decPtr("4"), "3.00", "2", 8),
	}
	ranked := reports.RankRestockingCandidates(snapshots, 14, 2)
	if len(ranked) != 2 {
		t.Fatalf("expected limit of 2; got %d", len(ranked))
	}
}

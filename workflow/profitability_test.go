package workflow

import (
	"testing"
	"time"

	"github.com/mmretail/stockbooks_backend/models"
	"github.com/shopspring/decimal"
)

// NOTE: These tests are intentionally DB-free. They validate the aggregation
// math on a pre-loaded window; the window loader itself is plain queries
// exercised by the docker-gated integration tests.

var computedAt = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func saleItem(productId int, qty int64, totalPrice, totalCost string) *models.TransactionItem {
	return &models.TransactionItem{
		StoreId:    "store-1",
		ProductId:  productId,
		ItemType:   models.TransactionItemTypeSale,
		Quantity:   qty,
		TotalPrice: dec(totalPrice),
		TotalCost:  dec(totalCost),
		OccurredAt: computedAt.AddDate(0, 0, -5),
	}
}

func refundItem(productId int, qty int64, totalPrice, totalCost string) *models.TransactionItem {
	item := saleItem(productId, qty, totalPrice, totalCost)
	item.ItemType = models.TransactionItemTypeRefund
	return item
}

func TestBuildSnapshotWorkedExample(t *testing.T) {
	// One sale of 10 units at 100.00 each (cost 50.00), one refund of 2 units,
	// one damage write-off of 50.00.
	window := &AggregationWindow{
		StoreId:    "store-1",
		PeriodDays: 30,
		ComputedAt: computedAt,
		SaleItems:  []*models.TransactionItem{saleItem(1, 10, "1000.00", "500.00")},
		RefundItems: []*models.TransactionItem{
			refundItem(1, 2, "200.00", "100.00"),
		},
		RevaluationEvents: []*models.InventoryRevaluationEvent{
			{StoreId: "store-1", ProductId: 1, LossAmount: dec("50.00"), DeltaValue: dec("-50.00")},
		},
		PriorUnitsSold:    map[int]int64{},
		CurrentQuantities: map[int]int64{1: 40},
	}

	snapshots := BuildProfitabilitySnapshots(window)
	if len(snapshots) != 1 {
		t.Fatalf("expected 1 snapshot; got %d", len(snapshots))
	}
	s := snapshots[0]

	checks := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"grossRevenue", s.GrossRevenue, "1000.00"},
		{"refundedAmount", s.RefundedAmount, "200.00"},
		{"netRevenue", s.NetRevenue, "800.00"},
		{"grossCost", s.GrossCost, "500.00"},
		{"netCost", s.NetCost, "400.00"},
		{"removalLossValue", s.RemovalLossValue, "50.00"},
		{"totalProfit", s.TotalProfit, "350.00"},
	}
	for _, c := range checks {
		if !c.got.Equal(dec(c.want)) {
			t.Errorf("%s: expected %s; got %s", c.name, c.want, c.got.String())
		}
	}

	if s.UnitsSold != 10 {
		t.Errorf("unitsSold: expected 10; got %d", s.UnitsSold)
	}
	if s.RefundedQuantity != 2 {
		t.Errorf("refundedQuantity: expected 2; got %d", s.RefundedQuantity)
	}
	// 350 / 800 = 0.4375
	if !s.ProfitMargin.Equal(dec("0.4375")) {
		t.Errorf("profitMargin: expected 0.4375; got %s", s.ProfitMargin.String())
	}
	// 10 / 30 days.
	if !s.SaleVelocity.Equal(dec("0.333333")) {
		t.Errorf("saleVelocity: expected 0.333333; got %s", s.SaleVelocity.String())
	}
	if s.DaysToStockout == nil {
		t.Fatal("daysToStockout: expected a value for a selling product")
	}
	// 40 / 0.333333 = 120.0001 at 4dp.
	wantDays := decimal.NewFromInt(40).Div(dec("0.333333")).Round(4)
	if !s.DaysToStockout.Equal(wantDays) {
		t.Errorf("daysToStockout: expected %s; got %s", wantDays.String(), s.DaysToStockout.String())
	}
	if s.RemovalCount != 1 {
		t.Errorf("removalCount: expected 1; got %d", s.RemovalCount)
	}
	// No prior-window sales and current sales > 0: rising.
	if s.Trend != models.ProfitTrendRising {
		t.Errorf("trend: expected rising; got %s", s.Trend)
	}
}

func TestBuildSnapshotZeroSalesProduct(t *testing.T) {
	// A product with only a loss write-off: no velocity, no stockout horizon.
	window := &AggregationWindow{
		StoreId:    "store-1",
		PeriodDays: 30,
		ComputedAt: computedAt,
		RevaluationEvents: []*models.InventoryRevaluationEvent{
			{StoreId: "store-1", ProductId: 9, LossAmount: dec("25.00")},
		},
		PriorUnitsSold:    map[int]int64{},
		CurrentQuantities: map[int]int64{9: 12},
	}
	snapshots := BuildProfitabilitySnapshots(window)
	if len(snapshots) != 1 {
		t.Fatalf("expected 1 snapshot; got %d", len(snapshots))
	}
	s := snapshots[0]
	if !s.SaleVelocity.IsZero() {
		t.Errorf("saleVelocity: expected 0; got %s", s.SaleVelocity.String())
	}
	if s.DaysToStockout != nil {
		t.Errorf("daysToStockout: expected nil; got %s", s.DaysToStockout.String())
	}
	if !s.TotalProfit.Equal(dec("-25.00")) {
		t.Errorf("totalProfit: expected -25.00; got %s", s.TotalProfit.String())
	}
	if s.Trend != models.ProfitTrendStable {
		t.Errorf("trend: expected stable; got %s", s.Trend)
	}
}

func TestBuildSnapshotIdempotent(t *testing.T) {
	window := &AggregationWindow{
		StoreId:    "store-1",
		PeriodDays: 30,
		ComputedAt: computedAt,
		SaleItems: []*models.TransactionItem{
			saleItem(1, 10, "1000.00", "500.00"),
			saleItem(2, 4, "99.96", "60.00"),
		},
		PriorUnitsSold:    map[int]int64{1: 10, 2: 1},
		CurrentQuantities: map[int]int64{1: 40, 2: 3},
	}
	first := BuildProfitabilitySnapshots(window)
	second := BuildProfitabilitySnapshots(window)
	if len(first) != len(second) {
		t.Fatalf("rerun changed snapshot count: %d vs %d", len(first), len(second))
	}
	for i := range first {
		a, b := first[i], second[i]
		if a.ProductId != b.ProductId ||
			!a.TotalProfit.Equal(b.TotalProfit) ||
			!a.SaleVelocity.Equal(b.SaleVelocity) ||
			a.Trend != b.Trend {
			t.Fatalf("rerun diverged for product %d: %+v vs %+v", a.ProductId, a, b)
		}
	}
}

func TestClassifyTrendBoundaries(t *testing.T) {
	cases := []struct {
		current, prior int64
		want           models.ProfitTrend
	}{
		{11, 10, models.ProfitTrendStable},   // exactly +10%
		{12, 10, models.ProfitTrendRising},   // +20%
		{9, 10, models.ProfitTrendStable},    // exactly -10%
		{8, 10, models.ProfitTrendDeclining}, // -20%
		{10, 10, models.ProfitTrendStable},
		{0, 10, models.ProfitTrendDeclining},
		{5, 0, models.ProfitTrendRising},
		{0, 0, models.ProfitTrendStable},
	}
	for _, c := range cases {
		if got := ClassifyTrend(c.current, c.prior); got != c.want {
			t.Errorf("ClassifyTrend(%d, %d): expected %s; got %s", c.current, c.prior, c.want, got)
		}
	}
}

func TestReplayMovementsRebuildsCostBasis(t *testing.T) {
	movements := []*models.StockMovement{
		{ID: "m1", Delta: 10, ActionType: models.StockActionRestock, UnitCost: dec("50.00")},
		{ID: "m2", Delta: -4, ActionType: models.StockActionSale, UnitCost: dec("50.00")},
		{ID: "m3", Delta: 10, ActionType: models.StockActionRestock, UnitCost: dec("70.00")},
		{ID: "m4", Delta: 2, ActionType: models.StockActionRefund, UnitCost: dec("50.00")},
		{ID: "m5", Delta: -1, ActionType: models.StockActionDamageRemoval, UnitCost: dec("0")},
	}
	replayed, err := ReplayMovements(movements)
	if err != nil {
		t.Fatalf("ReplayMovements: %v", err)
	}
	if replayed.Quantity != 17 {
		t.Fatalf("expected replayed quantity 17; got %d", replayed.Quantity)
	}
	// 500 - 200 + 700 + 100 = 1100 over 18, minus one at the running average.
	wantAvg := dec("1100").Div(dec("18"))
	wantTotal := dec("1100").Sub(wantAvg)
	if !replayed.TotalCostValue.Equal(wantTotal) {
		t.Fatalf("expected total %s; got %s", wantTotal.String(), replayed.TotalCostValue.String())
	}
}

func TestReplayMovementsRejectsOverdraw(t *testing.T) {
	movements := []*models.StockMovement{
		{ID: "m1", Delta: 2, ActionType: models.StockActionRestock, UnitCost: dec("10.00")},
		{ID: "m2", Delta: -3, ActionType: models.StockActionSale, UnitCost: dec("10.00")},
	}
	if _, err := ReplayMovements(movements); err == nil {
		t.Fatal("expected overdraw to fail")
	}
}

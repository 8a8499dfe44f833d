package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/mmretail/stockbooks_backend/config"
	"github.com/mmretail/stockbooks_backend/models"
	"github.com/mmretail/stockbooks_backend/utils"
	"github.com/mmretail/stockbooks_backend/workflow"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Regression: the full mutation surface against real MySQL. The record, the
// movement ledger and the event tables must stay consistent through a
// restock/sale/refund/removal sequence, and the ledger replay must reproduce
// the stored quantity.
func TestInventoryLedger_EndToEnd(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "stockbooks_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	if err := models.MigrateTable(); err != nil {
		t.Fatalf("MigrateTable: %v", err)
	}

	const storeId = "store-itest"
	const productId = 101
	ctx = utils.SetStoreIdInContext(ctx, storeId)
	ctx = utils.SetActorIdInContext(ctx, 1)
	ctx = utils.SetActorNameInContext(ctx, "Test")

	// Restock 10 @ 50.00.
	avg, err := models.RecordRestock(ctx, &models.RestockInput{
		ProductId: productId,
		Quantity:  10,
		UnitCost:  decimal.RequireFromString("50.00"),
		Source:    "itest",
	})
	if err != nil {
		t.Fatalf("RecordRestock: %v", err)
	}
	if !avg.Equal(decimal.RequireFromString("50")) {
		t.Fatalf("restock: expected average 50; got %s", avg.String())
	}

	// Sale of 4: applied cost must be the frozen average.
	unitCost, err := models.RecordSale(ctx, &models.SaleInput{
		ProductId: productId,
		Quantity:  4,
		UnitPrice: decimal.RequireFromString("100.00"),
		Source:    "itest",
	})
	if err != nil {
		t.Fatalf("RecordSale: %v", err)
	}
	if !unitCost.Equal(decimal.RequireFromString("50")) {
		t.Fatalf("sale: expected cost basis 50; got %s", unitCost.String())
	}

	// Restock 10 @ 70.00 reprices the average and logs a price change.
	if _, err := models.RecordRestock(ctx, &models.RestockInput{
		ProductId: productId,
		Quantity:  10,
		UnitCost:  decimal.RequireFromString("70.00"),
		Source:    "itest",
	}); err != nil {
		t.Fatalf("RecordRestock(2): %v", err)
	}

	// Refund 2 of the original sale at its recorded cost.
	if _, err := models.RecordRefund(ctx, &models.RefundInput{
		ProductId:        productId,
		Quantity:         2,
		OriginalUnitCost: unitCost,
		UnitPrice:        decimal.RequireFromString("100.00"),
		Source:           "itest",
	}); err != nil {
		t.Fatalf("RecordRefund: %v", err)
	}

	// Damage write-off of 1.
	if _, err := models.RecordRemoval(ctx, &models.RemovalInput{
		ProductId: productId,
		Quantity:  1,
		Reason:    models.RemovalReasonDamage,
		Source:    "itest",
	}); err != nil {
		t.Fatalf("RecordRemoval: %v", err)
	}

	record, err := models.GetInventoryRecord(ctx, productId)
	if err != nil {
		t.Fatalf("GetInventoryRecord: %v", err)
	}
	// 10 - 4 + 10 + 2 - 1 = 17.
	if record.Quantity != 17 {
		t.Fatalf("expected quantity 17; got %d", record.Quantity)
	}
	if err := record.CheckCostInvariant(); err != nil {
		t.Fatalf("cost invariant violated: %v", err)
	}

	// Ledger replay must reproduce the stored quantity exactly.
	db := config.GetDB()
	replayed, err := models.ReplayMovementQuantity(db.WithContext(ctx), storeId, productId)
	if err != nil {
		t.Fatalf("ReplayMovementQuantity: %v", err)
	}
	if replayed != record.Quantity {
		t.Fatalf("replayed quantity %d does not match record %d", replayed, record.Quantity)
	}

	// One movement per mutation, nothing more.
	movements, err := models.ListMovementsSince(ctx, nil, time.Time{})
	if err != nil {
		t.Fatalf("ListMovementsSince: %v", err)
	}
	if len(movements) != 5 {
		t.Fatalf("expected 5 ledger rows; got %d", len(movements))
	}

	// The 50 -> 70 restock must have logged a price change.
	priceChanges, err := models.ListPriceChangeEvents(ctx, productId, time.Time{})
	if err != nil {
		t.Fatalf("ListPriceChangeEvents: %v", err)
	}
	if len(priceChanges) != 1 {
		t.Fatalf("expected 1 price-change event; got %d", len(priceChanges))
	}

	// The damage removal must have logged a revaluation with its loss.
	revaluations, err := models.ListRevaluationEvents(ctx, nil, time.Time{})
	if err != nil {
		t.Fatalf("ListRevaluationEvents: %v", err)
	}
	if len(revaluations) != 1 {
		t.Fatalf("expected 1 revaluation event; got %d", len(revaluations))
	}
	if !revaluations[0].LossAmount.GreaterThan(decimal.Zero) {
		t.Fatalf("expected a positive loss amount; got %s", revaluations[0].LossAmount.String())
	}

	// Overdraw is rejected without touching record or ledger.
	if _, err := models.RecordSale(ctx, &models.SaleInput{
		ProductId: productId,
		Quantity:  999,
		UnitPrice: decimal.RequireFromString("100.00"),
	}); err == nil {
		t.Fatal("expected overdraw sale to fail")
	}
	after, err := models.GetInventoryRecord(ctx, productId)
	if err != nil {
		t.Fatalf("GetInventoryRecord(after): %v", err)
	}
	if after.Quantity != 17 {
		t.Fatalf("failed sale must not change quantity; got %d", after.Quantity)
	}

	// Reconciliation over a clean ledger reports no mismatches.
	mismatches, err := workflow.RunLedgerReconciliationChecks(ctx, config.GetLogger())
	if err != nil {
		t.Fatalf("RunLedgerReconciliationChecks: %v", err)
	}
	if mismatches != 0 {
		t.Fatalf("expected no mismatches on a clean ledger; got %d", mismatches)
	}

	// Corrupt the stored quantity; the check must flag it and block postings.
	if err := db.Model(&models.InventoryRecord{}).
		Where("store_id = ? AND product_id = ?", storeId, productId).
		Update("quantity", 99).Error; err != nil {
		t.Fatalf("corrupt record: %v", err)
	}
	mismatches, err = workflow.RunLedgerReconciliationChecks(ctx, config.GetLogger())
	if err != nil {
		t.Fatalf("RunLedgerReconciliationChecks(corrupted): %v", err)
	}
	if mismatches != 1 {
		t.Fatalf("expected 1 mismatch; got %d", mismatches)
	}
	if _, err := models.RecordSale(ctx, &models.SaleInput{
		ProductId: productId,
		Quantity:  1,
		UnitPrice: decimal.RequireFromString("100.00"),
	}); err == nil {
		t.Fatal("expected posting to be blocked after a mismatch")
	}

	// Rebuild from the ledger restores the record and clears the block.
	if err := db.Transaction(func(tx *gorm.DB) error {
		_, err := workflow.RebuildInventoryForProduct(tx, config.GetLogger(), storeId, productId, false)
		return err
	}); err != nil {
		t.Fatalf("RebuildInventoryForProduct: %v", err)
	}
	rebuilt, err := models.GetInventoryRecord(ctx, productId)
	if err != nil {
		t.Fatalf("GetInventoryRecord(rebuilt): %v", err)
	}
	if rebuilt.Quantity != 17 || rebuilt.PostingBlocked {
		t.Fatalf("expected rebuilt quantity 17 and postings unblocked; got qty=%d blocked=%v",
			rebuilt.Quantity, rebuilt.PostingBlocked)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("stockbooks-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("stockbooks-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=stockbooks_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}

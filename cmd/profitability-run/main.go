package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmretail/stockbooks_backend/config"
	"github.com/mmretail/stockbooks_backend/models"
	"github.com/mmretail/stockbooks_backend/workflow"
)

func main() {
	storeID := flag.String("store-id", "", "Optional: run a single store (empty = all stores)")
	periodDays := flag.Int("period-days", 0, "Aggregation window in days (0 = configured default)")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()
	ctx := context.Background()

	var err error
	if strings.TrimSpace(*storeID) != "" {
		err = workflow.RunProfitabilityForStore(ctx, db, logger, *storeID, *periodDays, models.RunTriggeredManual)
	} else {
		err = workflow.RunProfitabilityForAllStores(ctx, db, logger, *periodDays, models.RunTriggeredManual)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "profitability run failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("profitability run completed")
}

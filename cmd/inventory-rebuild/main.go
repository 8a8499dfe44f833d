package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmretail/stockbooks_backend/config"
	"github.com/mmretail/stockbooks_backend/workflow"
	"gorm.io/gorm"
)

func main() {
	storeID := flag.String("store-id", "", "Required: store id")
	productID := flag.Int("product-id", 0, "Optional: rebuild a single product (0 = whole store)")
	dryRun := flag.Bool("dry-run", true, "Replay and report only (no writes)")
	confirm := flag.String("confirm", "", "Type REBUILD to proceed when dry-run=false")
	flag.Parse()

	if strings.TrimSpace(*storeID) == "" {
		fmt.Fprintln(os.Stderr, "--store-id is required")
		os.Exit(1)
	}
	if !*dryRun && strings.TrimSpace(*confirm) != "REBUILD" {
		fmt.Fprintln(os.Stderr, "set --confirm=REBUILD to proceed")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()

	err := db.Transaction(func(tx *gorm.DB) error {
		if *productID > 0 {
			replayed, err := workflow.RebuildInventoryForProduct(tx, logger, *storeID, *productID, *dryRun)
			if err != nil {
				return err
			}
			fmt.Printf("store=%s product=%d quantity=%d average_cost=%s total_value=%s dry_run=%v\n",
				*storeID, *productID, replayed.Quantity,
				replayed.AverageCost.Round(4).String(),
				replayed.TotalCostValue.Round(4).String(), *dryRun)
			return nil
		}
		changed, err := workflow.RebuildInventoryForStore(tx, logger, *storeID, *dryRun)
		if err != nil {
			return err
		}
		fmt.Printf("store=%s products_changed=%d changed_ids=%v dry_run=%v\n",
			*storeID, len(changed), changed, *dryRun)
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "rebuild failed: %v\n", err)
		os.Exit(1)
	}
}

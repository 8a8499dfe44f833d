package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmretail/stockbooks_backend/config"
	"github.com/mmretail/stockbooks_backend/models"
	"github.com/mmretail/stockbooks_backend/models/reports"
	"github.com/mmretail/stockbooks_backend/utils"
	"github.com/mmretail/stockbooks_backend/workflow"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("stockbooks")

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// storeScopeMiddleware resolves the store, actor and correlation id headers
// into the request context. Every model call downstream reads them from there.
func storeScopeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if storeId := strings.TrimSpace(c.GetHeader("x-store-id")); storeId != "" {
			ctx = utils.SetStoreIdInContext(ctx, storeId)
		}
		if actorId := strings.TrimSpace(c.GetHeader("x-actor-id")); actorId != "" {
			if n, err := strconv.Atoi(actorId); err == nil && n > 0 {
				ctx = utils.SetActorIdInContext(ctx, n)
			}
		}
		if actorName := strings.TrimSpace(c.GetHeader("x-actor-name")); actorName != "" {
			ctx = utils.SetActorNameInContext(ctx, actorName)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// statusForError maps model sentinels onto HTTP statuses for the internal API.
func statusForError(err error) int {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrStoreIdRequired):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidCost):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInsufficientStock):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrInconsistentLedger):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondMutation(c *gin.Context, appliedCost interface{ String() string }, err error) {
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unitCost": appliedCost.String()})
}

func recordSaleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.SaleInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		unitCost, err := models.RecordSale(c.Request.Context(), &input)
		respondMutation(c, unitCost, err)
	}
}

func recordRefundHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.RefundInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		unitCost, err := models.RecordRefund(c.Request.Context(), &input)
		respondMutation(c, unitCost, err)
	}
}

func recordRemovalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.RemovalInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		unitCost, err := models.RecordRemoval(c.Request.Context(), &input)
		respondMutation(c, unitCost, err)
	}
}

func recordRestockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.RestockInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		unitCost, err := models.RecordRestock(c.Request.Context(), &input)
		respondMutation(c, unitCost, err)
	}
}

func recordPriceEditHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.PriceEditInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := models.RecordPriceEdit(c.Request.Context(), &input); err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func queryIntParam(c *gin.Context, name string, def int) int {
	if v := strings.TrimSpace(c.Query(name)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func profitabilityReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "profitability_report")
		defer span.End()
		periodDays := queryIntParam(c, "periodDays", config.DefaultPeriodDays())
		snapshots, err := reports.GetProfitabilityReport(ctx, periodDays)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, snapshots)
	}
}

func restockingPriorityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "restocking_priority_report")
		defer span.End()
		periodDays := queryIntParam(c, "periodDays", config.DefaultPeriodDays())
		limit := queryIntParam(c, "limit", 20)
		candidates, err := reports.GetRestockingPriorityReport(ctx, periodDays, limit)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, candidates)
	}
}

func inventoryValueHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "inventory_value_report")
		defer span.End()
		response, err := reports.GetInventoryValueReport(ctx)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, response)
	}
}

func staleInventoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		periodDays := queryIntParam(c, "periodDays", config.DefaultPeriodDays())
		var productId *int
		if v := strings.TrimSpace(c.Query("productId")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				productId = &n
			}
		}
		rows, err := reports.GetStaleInventoryReport(c.Request.Context(), periodDays, productId)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

func profitabilityExcelHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		periodDays := queryIntParam(c, "periodDays", config.DefaultPeriodDays())
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename=profitability.xlsx")
		if err := reports.WriteProfitabilityExcel(c.Request.Context(), c.Writer, periodDays); err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
		}
	}
}

func movementHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		periodDays := queryIntParam(c, "periodDays", config.DefaultPeriodDays())
		since := time.Now().UTC().AddDate(0, 0, -periodDays)
		var productId *int
		if v := strings.TrimSpace(c.Query("productId")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				productId = &n
			}
		}
		movements, err := models.ListMovementsSince(c.Request.Context(), productId, since)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, movements)
	}
}

func runProfitabilityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		db := config.GetDB()
		periodDays := queryIntParam(c, "periodDays", config.DefaultPeriodDays())
		storeId, ok := utils.GetStoreIdFromContext(c.Request.Context())
		if !ok || storeId == "" {
			// No store header: run for every store in the background.
			go func() {
				if err := workflow.RunProfitabilityForAllStores(context.Background(), db, logger, periodDays, models.RunTriggeredManual); err != nil {
					config.LogError(logger, "server.go", "runProfitabilityHandler", "manual all-store run", nil, err)
				}
			}()
			c.JSON(http.StatusAccepted, gin.H{"status": "started"})
			return
		}
		if err := workflow.RunProfitabilityForStore(c.Request.Context(), db, logger, storeId, periodDays, models.RunTriggeredManual); err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "completed"})
	}
}

func runReconciliationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		mismatches, err := workflow.RunLedgerReconciliationChecks(c.Request.Context(), config.GetLogger())
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"mismatches": mismatches})
	}
}

func resolveReconciliationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		reportId, err := strconv.Atoi(c.Param("id"))
		if err != nil || reportId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report id"})
			return
		}
		var body struct {
			Note string `json:"note"`
		}
		_ = c.ShouldBindJSON(&body)
		if err := models.ResolveReconciliation(c.Request.Context(), reportId, body.Note); err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "x-store-id", "x-actor-id", "x-actor-name", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))
	r.Use(storeScopeMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	// Inbound surface for the transactional subsystem. Each call is
	// synchronous and returns the applied cost basis.
	r.POST("/internal/inventory/sale", recordSaleHandler())
	r.POST("/internal/inventory/refund", recordRefundHandler())
	r.POST("/internal/inventory/removal", recordRemovalHandler())
	r.POST("/internal/inventory/restock", recordRestockHandler())
	r.POST("/internal/inventory/price-edit", recordPriceEditHandler())

	// Read-only query surface for reporting collaborators.
	r.GET("/reports/profitability", profitabilityReportHandler())
	r.GET("/reports/profitability.xlsx", profitabilityExcelHandler())
	r.GET("/reports/restocking-priority", restockingPriorityHandler())
	r.GET("/reports/inventory-value", inventoryValueHandler())
	r.GET("/reports/stale-inventory", staleInventoryHandler())
	r.GET("/reports/stock-movements", movementHistoryHandler())

	// Ops tooling (admin only).
	r.POST("/internal/ops/profitability/run", runProfitabilityHandler())
	r.POST("/internal/ops/reconciliation/run", runReconciliationHandler())
	r.POST("/internal/ops/reconciliation/:id/resolve", resolveReconciliationHandler())

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		if err := models.MigrateTable(); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Error("AutoMigrate failed: " + err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Start the per-store profitability scheduler.
	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	defer cancelScheduler()
	interval := time.Hour
	if v := strings.TrimSpace(os.Getenv("PROFITABILITY_SCHEDULE_MINUTES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			interval = time.Duration(n) * time.Minute
		}
	}
	go workflow.StartProfitabilityScheduler(schedulerCtx, db, logger, interval)

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelScheduler()

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/grupoalimenta/produccion_backend/config"
	"bitbucket.org/grupoalimenta/produccion_backend/middlewares"
	"bitbucket.org/grupoalimenta/produccion_backend/models"
	"bitbucket.org/grupoalimenta/produccion_backend/utils"
	"bitbucket.org/grupoalimenta/produccion_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

const defaultAutoPlanHorizonDays = 7

type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func getRedisClient(redisAddress string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
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

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so the startup probe passes. Until DB and
	// Redis are ready, app endpoints return 503.
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production requires an explicit allowlist; anything else allows all
	// for developer convenience.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "X-User-Id", "X-User-Name", "X-User-Role", "X-Correlation-Id")
	corsConfig.AddExposeHeaders("Content-Length", "X-Correlation-Id")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	if config.RateLimitEnabled() {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.IdentityMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	api := r.Group("/api/v1", middlewares.RequireUser())
	{
		api.POST("/sales-orders", createSalesOrderHandler())
		api.POST("/recipes", createRecipeHandler())

		api.POST("/production-orders", createProductionOrderHandler())
		api.GET("/production-orders/:id", getProductionOrderHandler())
		api.POST("/production-orders/:id/approve", approveProductionOrderHandler(logger))
		api.POST("/production-orders/:id/cancel", cancelProductionOrderHandler(logger))
		api.POST("/production-orders/:id/ready", markReadyHandler())
		api.POST("/production-orders/:id/complete", completeProductionOrderHandler(logger))

		api.POST("/plan", planHandler(logger))
		api.POST("/plan/:id/confirm", confirmPlanHandler(logger))
		api.POST("/plan/auto-run", runAutoPlanHandler(logger))

		api.POST("/kanban/:id/start", startProductionHandler(logger))
		api.POST("/kanban/:id/pause", pauseProductionHandler(logger))
		api.POST("/kanban/:id/resume", resumeProductionHandler(logger))
		api.POST("/kanban/:id/progress", reportProgressHandler(logger))
		api.GET("/kanban/:id/status", kanbanStatusHandler(logger))

		api.GET("/purchase-orders/:id", getPurchaseOrderHandler())
		api.POST("/purchase-orders/:id/approve", purchaseTransitionHandler(func(c *gin.Context, id int) error {
			return workflow.ApprovePurchaseOrder(c.Request.Context(), id)
		}))
		api.POST("/purchase-orders/:id/transit", purchaseTransitionHandler(func(c *gin.Context, id int) error {
			return workflow.MarkPurchaseInTransit(c.Request.Context(), id)
		}))
		api.POST("/purchase-orders/:id/receive", receivePurchaseOrderHandler(logger))
		api.POST("/purchase-orders/:id/quality", purchaseTransitionHandler(func(c *gin.Context, id int) error {
			return workflow.PassPurchaseQuality(c.Request.Context(), id)
		}))
		api.POST("/purchase-orders/:id/close", closePurchaseOrderHandler(logger))

		api.POST("/lots/waste", recordLotWasteHandler(logger))
		api.GET("/lots/:id/trace", traceLotForwardHandler())
		api.POST("/finished-lots/:id/release", releaseFinishedLotHandler())
		api.POST("/finished-lots/:id/reject", rejectFinishedLotHandler())
		api.GET("/finished-lots/:id/trace", traceLotBackHandler())

		api.POST("/stock/recompute", recomputeStockHandler(logger))
		api.GET("/uploads/waste-photo", wastePhotoUploadHandler(logger))
	}
	r.POST("/internal/ops/events/:id/reprocess", reprocessEventHandler())
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running it as a
	// separate job instead.
	if !config.SkipMigrations() {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Event dispatcher publishes outbox rows after commit.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	go workflow.NewEventDispatcher(db, logger).Run(workerCtx)

	// Daily auto-planner. The run itself is serialised by a redis lock so
	// several replicas ticking at once plan exactly once.
	if !config.AutoPlanDisabled() {
		go runAutoPlannerTimer(workerCtx, logger)
	}

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
	}).Info("listening on http://localhost:", port, "/api/v1")
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so no new work starts while draining.
	cancelWorkers()

	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// runAutoPlannerTimer fires the planner at a fixed interval under the
// system identity.
func runAutoPlannerTimer(ctx context.Context, logger *logrus.Logger) {
	intervalMinutes := 60
	if v := strings.TrimSpace(os.Getenv("AUTO_PLAN_INTERVAL_MINUTES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			intervalMinutes = n
		}
	}
	horizon := defaultAutoPlanHorizonDays
	if v := strings.TrimSpace(os.Getenv("AUTO_PLAN_HORIZON_DAYS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			horizon = n
		}
	}

	ticker := time.NewTicker(time.Duration(intervalMinutes) * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx := utils.SetSystemContext(ctx)
			runCtx = utils.SetUserIdInContext(runCtx, middlewares.SystemUserId())
			summary, err := workflow.RunAutoPlan(runCtx, logger, horizon)
			if err != nil {
				config.LogError(logger, "server.go", "runAutoPlannerTimer", "RunAutoPlan", nil, err)
				continue
			}
			logger.WithFields(logrus.Fields{
				"planned":      summary.Planned,
				"oc_generated": summary.OCGenerated,
				"errors":       len(summary.Errors),
			}).Info("auto plan finished")
		}
	}
}

// customErrorLogger logs only requests that accumulated errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// RateLimitMiddleware applies a fixed-window limit per client IP.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := c.ClientIP()

	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	if exists == 0 {
		if err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err(); err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}
	c.Next()
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

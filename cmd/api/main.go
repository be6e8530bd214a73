package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qattend/internal/activity"
	"qattend/internal/auth"
	"qattend/internal/binding"
	"qattend/internal/config"
	"qattend/internal/feed"
	"qattend/internal/gate"
	"qattend/internal/httpmiddleware"
	"qattend/internal/ledger"
	"qattend/internal/queue"
	"qattend/internal/roster"
	"qattend/internal/store"
	"qattend/internal/summary"
	"qattend/internal/token"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "qattend:checkins")
	}

	rosterRepo := roster.NewRepository(db.Client)
	ledgerRepo := ledger.NewRepository(db.Client)
	bindingRepo := binding.NewRepository(db.Client)
	activityRepo := activity.NewRepository(db.Client)
	sessions := token.NewSessionStore(redisClient.Client)

	admission := gate.New(gate.Policy{
		Window:        cfg.QRWindow,
		Geofence:      cfg.Geofence,
		CampusLat:     cfg.CampusLat,
		CampusLon:     cfg.CampusLon,
		RadiusM:       cfg.GeofenceRadiusM,
		DeviceBinding: cfg.DeviceBinding,
		Dedup:         ledger.DedupSemantics(cfg.DedupSemantics),
		DefaultScope:  cfg.DefaultScope,
	}, rosterRepo, bindingRepo, ledgerRepo)

	adminPassHash, err := auth.HashPassword(cfg.AdminPassword)
	if err != nil {
		return err
	}

	hub := feed.NewHub()
	go hub.Run()

	a := &api{
		cfg:           cfg,
		adminPassHash: adminPassHash,
		gate:          admission,
		roster:        rosterRepo,
		ledger:        ledgerRepo,
		bindings:      bindingRepo,
		activity:      activityRepo,
		sessions:      sessions,
		summaries:     summary.New(cfg.SummaryServiceURL, cfg.SummarySkip),
		queue:         q,
		hub:           hub,
	}

	r := gin.New()

	// Recovery middleware
	r.Use(gin.Recovery())

	// Custom logger
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	// CORS middleware
	r.Use(corsMiddleware())

	// Security headers
	r.Use(securityHeaders())

	// Rate limiting
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db != nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	// Students hit this straight from the scanned QR page; admin JWT not
	// required, rate limit and the gate itself are the protection.
	r.POST("/v1/checkins", a.checkin)

	r.POST("/v1/admin/login", a.login)
	r.GET("/v1/admin/feed", a.feedSocket)

	admin := r.Group("/v1/admin", auth.AdminAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	admin.POST("/qr", a.startQR)
	admin.GET("/qr", a.currentQR)
	admin.GET("/qr/image", a.qrImage)
	admin.DELETE("/qr", a.clearQR)

	admin.GET("/students", a.listStudents)
	admin.POST("/students", a.addStudent)
	admin.DELETE("/students/:roll", a.deleteStudent)
	admin.POST("/students/import", a.importStudents)

	admin.GET("/attendance", a.listAttendance)
	admin.GET("/attendance/export", a.exportAttendance)
	admin.DELETE("/attendance", a.clearAttendance)

	admin.GET("/devices", a.listDevices)
	admin.DELETE("/devices/:roll", a.unbindDevice)

	admin.GET("/logs", a.listLogs)
	admin.GET("/summary", a.summaryReport)

	r.StaticFile("/checkin", "web/checkin.html")
	r.Static("/static", "web/static")

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/admin"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/ajax"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/apikeys"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/auth"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/cache"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/config"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/database"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/events"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/importexport"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/links"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/logger"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/models"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/qrimage"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/redirect"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"

	_ "github.com/mikepea/qrtrackr/api/swagger"
)

// @title QR Trackr API
// @version 1.0
// @description Tracking links with QR codes, scan counting and link administration.

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @BasePath /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Session JWT or API key. Format: "Bearer {token}"

func main() {
	uninstall := flag.Bool("uninstall", false, "remove tracking data (when QRTRACKR_DROP_ON_UNINSTALL is set) and exit")
	flag.Parse()

	_ = godotenv.Load() // Loads .env file if present
	cfg := config.Load()

	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	l, err := logger.New(logger.Options{Debug: cfg.Debug, LogFile: cfg.LogFile})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer l.Close()

	if err := database.Connect(cfg.Database.Driver, cfg.Database.DSN, cfg.Debug); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	db := database.GetDB()

	if *uninstall {
		if err := runUninstall(db, cfg, l); err != nil {
			log.Fatalf("Uninstall failed: %v", err)
		}
		return
	}

	if err := models.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	l.LogDatabase("MIGRATE", "all", "migrations completed")

	created, err := auth.EnsureAdminExists(db, cfg.AdminPassword)
	if err != nil {
		log.Fatalf("Failed to ensure admin user exists: %v", err)
	}
	if created {
		l.Warn("AUTH", "created default admin user "+auth.DefaultAdminEmail+"; change its password")
	}

	c := newCache(cfg, l)
	publisher := newPublisher(cfg, l)
	defer publisher.Close()

	r, err := newRouter(db, cfg, c, publisher, l)
	if err != nil {
		log.Fatalf("Failed to build router: %v", err)
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		l.Info("SERVER", "Starting qrtrackr on :"+cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		l.Error("SERVER", fmt.Sprintf("shutdown: %v", err))
	}
	l.Info("SERVER", "shutdown complete")
}

func newCache(cfg *config.Config, l *logger.Logger) cache.Cache {
	if !cfg.Redis.Enabled {
		return cache.NewMemory(10 * time.Minute)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rc, err := cache.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		l.Warn("CACHE", fmt.Sprintf("redis unavailable, using in-process cache: %v", err))
		return cache.NewMemory(10 * time.Minute)
	}
	l.Info("CACHE", "using redis at "+cfg.Redis.Addr)
	return rc
}

func newPublisher(cfg *config.Config, l *logger.Logger) events.Publisher {
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) == 0 {
		return events.Nop{}
	}
	l.Info("EVENTS", fmt.Sprintf("publishing scans to %s on %v", cfg.Kafka.Topic, cfg.Kafka.Brokers))
	return events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, l)
}

func newGenerator(cfg *config.Config, c cache.Cache, l *logger.Logger) *qrimage.Generator {
	var encoder qrimage.Encoder = qrimage.LocalEncoder{}
	if cfg.QR.Encoder == "remote" {
		encoder = qrimage.NewRemoteEncoder(cfg.QR.RemoteURL, cfg.QR.RemoteTimeout)
	}
	return qrimage.NewGenerator(qrimage.Config{
		Dir:     cfg.Uploads.Dir,
		BaseURL: cfg.UploadURL(),
		Encoder: encoder,
		Cache:   c,
		Logger:  l,
		Defaults: qrimage.Options{
			Size:   cfg.QR.Size,
			Margin: cfg.QR.Margin,
			Level:  cfg.QR.Level,
		},
	})
}

func newRouter(db *gorm.DB, cfg *config.Config, c cache.Cache, publisher events.Publisher, l *logger.Logger) (*gin.Engine, error) {
	generator := newGenerator(cfg, c, l)
	store := links.NewStore(db, links.Config{
		Cache:    c,
		Logger:   l,
		Images:   generator,
		ScanSalt: cfg.ScanSalt,
	})
	svc := links.NewService(store, generator, cfg.BaseURL, l)

	templates, err := admin.Templates()
	if err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(gin.Recovery(), logger.Middleware(l))
	r.SetHTMLTemplate(templates)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Generated images
	r.Static(cfg.Uploads.URLPath, cfg.Uploads.Dir)

	// API routes
	api := r.Group("/api")
	{
		authHandler := auth.NewHandler(db, l)
		authHandler.RegisterRoutes(api.Group("/auth"))
		authHandler.RegisterNonceRoute(api, apikeys.OptionalCombinedAuth(db, l))

		// API keys are managed with a session only
		apiKeysHandler := apikeys.NewHandler(db, l)
		apiKeysHandler.RegisterRoutes(api.Group("", auth.AuthMiddleware(db)))

		importExportHandler := importexport.NewHandler(db, svc, l)
		importExportHandler.RegisterRoutes(api.Group("", apikeys.CombinedAuthMiddleware(db, l)))

		adminHandler := admin.NewHandler(db, svc, l)
		adminHandler.RegisterAPIRoutes(api.Group("/admin", apikeys.CombinedAuthMiddleware(db, l)))
	}

	redirectHandler := redirect.NewHandler(store, publisher, l)

	ajax.NewHandler(db, svc, redirectHandler, l).RegisterRoutes(r)
	admin.NewHandler(db, svc, l).RegisterPageRoutes(r)

	r.GET("/admin", func(c *gin.Context) {
		c.Redirect(http.StatusFound, admin.ListPath)
	})

	// Redirect routes (public)
	redirectHandler.RegisterRoutes(r)

	return r, nil
}

func runUninstall(db *gorm.DB, cfg *config.Config, l *logger.Logger) error {
	if !cfg.DropOnUninstall {
		l.Info("UNINSTALL", "QRTRACKR_DROP_ON_UNINSTALL is off; data kept")
		return nil
	}
	if err := models.DropData(db); err != nil {
		return err
	}
	if err := os.RemoveAll(cfg.Uploads.Dir); err != nil {
		return err
	}
	l.LogDatabase("DROP", "qr_trackr_links", "tracking data removed")
	return nil
}

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/xedro98/Glacier/internal/auth"
	"github.com/xedro98/Glacier/internal/backup"
	"github.com/xedro98/Glacier/internal/cert"
	"github.com/xedro98/Glacier/internal/config"
	"github.com/xedro98/Glacier/internal/database"
	"github.com/xedro98/Glacier/internal/engine"
	"github.com/xedro98/Glacier/internal/executor"
	"github.com/xedro98/Glacier/internal/handler"
	"github.com/xedro98/Glacier/internal/model"
	"github.com/xedro98/Glacier/internal/proxy"
	"github.com/xedro98/Glacier/internal/registry"
	"github.com/xedro98/Glacier/internal/stack"
	"github.com/xedro98/Glacier/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load the persisted site/server/certificate model
	st, err := store.Open(cfg.StateFile)
	if err != nil {
		log.Fatalf("Failed to load state file: %v", err)
	}

	// Initialize the backup catalog database
	db, err := database.Init(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	catalog := backup.NewCatalog(db)

	// Server registry; the panel host is always registered
	reg := registry.New(st, logger)
	if err := reg.Add(model.Server{ID: "local", Role: model.RoleLocal}); err != nil && !errors.Is(err, model.ErrServerConflict) {
		log.Fatalf("Failed to register local server: %v", err)
	}

	// Command transport: local shell for the panel host, SSH elsewhere
	exec := executor.NewRouter()

	// Docker Engine API for local state reads; falls back to the CLI through
	// the executor when the socket is unavailable
	var inspector stack.LocalInspector
	if dc, err := stack.NewDockerClient(cfg.DockerSocket); err != nil {
		log.Printf("⚠️  Docker socket unavailable, using CLI fallback: %v", err)
	} else {
		defer dc.Close()
		inspector = dc
	}

	stacks := stack.NewManager(exec, inspector, cfg.SitesDir, logger)
	certs := cert.NewManager(exec, cfg.CertDir, cfg.RenewalWindow, logger)
	proxyWriter := proxy.NewWriter(cfg.ProxyDir, exec, logger)

	eng := engine.New(engine.Deps{
		Store:      st,
		Registry:   reg,
		Exec:       exec,
		Renderer:   proxy.NewRenderer(),
		Proxy:      proxyWriter,
		Stacks:     stacks,
		Certs:      certs,
		Catalog:    catalog,
		BackupRoot: cfg.BackupDir,
		Logger:     logger,
	})

	// Background sweeps: certificate renewal, expiry, server reachability
	sched := cron.New()
	sched.AddFunc("@daily", func() { eng.RenewDueCertificates(context.Background()) })
	sched.AddFunc("@hourly", func() { eng.ExpireSweep(context.Background()) })
	sched.AddFunc("@every 5m", func() { reg.RefreshAll(context.Background()) })
	sched.Start()
	defer sched.Stop()

	// Setup Gin
	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: false,
	}))

	// ============ API Routes ============
	api := r.Group("/api")

	// Public routes (no auth required)
	authH := handler.NewAuthHandler(cfg)
	api.POST("/auth/login", authH.Login)

	// Protected routes (JWT required)
	protected := api.Group("")
	protected.Use(auth.Middleware(cfg.JWTSecret))

	protected.GET("/auth/me", authH.Me)

	// Site lifecycle
	siteH := handler.NewSiteHandler(eng)
	protected.GET("/sites", siteH.List)
	protected.POST("/sites", siteH.Create)
	protected.GET("/sites/:domain", siteH.Get)
	protected.POST("/sites/:domain/rebuild", siteH.Rebuild)
	protected.POST("/sites/:domain/delete-token", siteH.DeletionToken)
	protected.DELETE("/sites/:domain", siteH.Delete)
	protected.POST("/sites/:domain/stage", siteH.Stage)
	protected.POST("/sites/:domain/promote", siteH.Promote)
	protected.POST("/sites/:domain/extensions", siteH.InstallExtension)

	// Backups
	backupH := handler.NewBackupHandler(eng)
	protected.GET("/sites/:domain/backups", backupH.List)
	protected.POST("/sites/:domain/backups", backupH.Create)
	protected.POST("/sites/:domain/restore", backupH.Restore)

	// Certificates
	certH := handler.NewCertificateHandler(eng)
	protected.GET("/sites/:domain/certificate/challenge", certH.Challenge)
	protected.POST("/sites/:domain/certificate/confirm", certH.Confirm)
	protected.POST("/sites/:domain/certificate/retry", certH.Retry)

	// Server registry
	serverH := handler.NewServerHandler(reg)
	protected.GET("/servers", serverH.List)
	protected.POST("/servers", serverH.Add)
	protected.DELETE("/servers/:id", serverH.Remove)
	protected.GET("/servers/:id/check", serverH.Check)

	// Audit log
	auditH := handler.NewAuditHandler(catalog)
	protected.GET("/audit", auditH.Recent)

	// Start server
	addr := ":" + cfg.Port
	log.Printf("🚀 Glacier starting on http://localhost%s", addr)
	log.Printf("📁 Data directory: %s", cfg.DataDir)

	if err := r.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

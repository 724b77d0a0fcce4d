package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bryanwahyu/certimed/internal/application"
	appcerts "github.com/bryanwahyu/certimed/internal/application/certificates"
	appreports "github.com/bryanwahyu/certimed/internal/application/reports"
	"github.com/bryanwahyu/certimed/internal/config"
	certdomain "github.com/bryanwahyu/certimed/internal/domain/certificates"
	mysqlp "github.com/bryanwahyu/certimed/internal/infra/db/mysql"
	postgresp "github.com/bryanwahyu/certimed/internal/infra/db/postgres"
	"github.com/bryanwahyu/certimed/internal/infra/ai/openai"
	"github.com/bryanwahyu/certimed/internal/infra/chain/devchain"
	"github.com/bryanwahyu/certimed/internal/infra/chain/gateway"
	"github.com/bryanwahyu/certimed/internal/infra/httpserver"
	"github.com/bryanwahyu/certimed/internal/infra/ocr/tesseract"
	minioStore "github.com/bryanwahyu/certimed/internal/infra/storage"
	"github.com/bryanwahyu/certimed/internal/middleware"
	domainreports "github.com/bryanwahyu/certimed/internal/domain/reports"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	// load config
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx := context.Background()

	// connect database (mysql or postgres)
	var (
		db       *sql.DB
		runRepo  domainreports.Repository
		certRepo certdomain.Repository
	)
	switch cfg.Database.Driver {
	case "postgres":
		db, err = postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			log.Fatalf("postgres connect error: %v", err)
		}
		runRepo = postgresp.NewRunRepository(db)
		certRepo = postgresp.NewCertificateRepository(db)
	default:
		db, err = mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			log.Fatalf("mysql connect error: %v", err)
		}
		runRepo = mysqlp.NewRunRepository(db)
		certRepo = mysqlp.NewCertificateRepository(db)
	}
	defer db.Close()

	// init minio (optional artifact store)
	var artifacts certdomain.ArtifactStore
	if cfg.Minio.Enabled {
		store, err := minioStore.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			log.Fatalf("minio init error: %v", err)
		}
		artifacts = store
	}

	// init chain client
	var chainClient certdomain.ChainClient
	if cfg.Chain.Mode == "embedded" {
		dataDir := cfg.Chain.DataDir
		if dataDir == "" {
			dataDir = "devchain-data"
		}
		dev, err := devchain.Open(dataDir)
		if err != nil {
			log.Fatalf("devchain open error: %v", err)
		}
		defer dev.Close()
		chainClient = dev
	} else {
		chainClient = gateway.New(cfg.Chain.GatewayURL, cfg.ChainTimeout(), logger)
	}

	// init OCR extractor
	extractor := tesseract.New(tesseract.Config{
		Tesseract:   cfg.OCR.Tesseract,
		Pdftotext:   cfg.OCR.Pdftotext,
		Pdftoppm:    cfg.OCR.Pdftoppm,
		Lang:        cfg.OCR.Lang,
		DPI:         cfg.OCR.DPI,
		MaxPages:    cfg.OCR.MaxPages,
		PageWorkers: cfg.OCR.PageWorkers,
	}, logger)

	// init LLM summarizer
	summarizer := openai.NewClient(openai.Config{
		APIKey:     cfg.LLM.APIKey,
		Model:      cfg.LLM.Model,
		BaseURL:    cfg.LLM.BaseURL,
		Timeout:    cfg.LLMTimeout(),
		MaxRetries: cfg.LLM.MaxRetries,
	}, logger)

	// init services
	certSvc := &appcerts.Service{
		Repo:      certRepo,
		Chain:     chainClient,
		Artifacts: artifacts,
		Clock:     application.SystemClock{},
		Logger:    logger,
	}
	reportsSvc := &appreports.Service{
		Runs:           runRepo,
		Certificates:   certRepo,
		Extractor:      extractor,
		Summarizer:     summarizer,
		Certifier:      certSvc,
		Clock:          application.SystemClock{},
		Logger:         logger,
		ExtractRetries: cfg.Pipeline.ExtractRetries,
	}

	// init router
	mux := chi.NewRouter()
	mux.Use(middleware.LoggingMiddleware(logger))
	mux.Use(middleware.MetricsMiddleware)
	if cfg.RateLimit.Capacity > 0 {
		mux.Use(middleware.RateLimitMiddleware(cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate))
	}
	mux.Method(http.MethodGet, "/health", middleware.HealthHandler(map[string]middleware.HealthChecker{
		"database": &middleware.DatabaseHealthChecker{DB: db},
	}))
	mux.Get("/ready", middleware.ReadinessHandler)
	mux.Get("/live", middleware.LivenessHandler)
	mux.Get("/metrics", middleware.MetricsHandler)
	mux.Mount("/", httpserver.NewRouter(reportsSvc, certSvc))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	go func() {
		logger.Info("server.listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("server.shutting_down")

	ctx2, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		logger.Error("server.shutdown_error", "error", err)
	}
}

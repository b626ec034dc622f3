package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	"kidsgate.org/internal/audit"
	"kidsgate.org/internal/capability"
	"kidsgate.org/internal/config"
	"kidsgate.org/internal/coordinator"
	"kidsgate.org/internal/httpapi"
	"kidsgate.org/internal/obs"
	"kidsgate.org/internal/ratelimit"
	"kidsgate.org/internal/secure"
	"kidsgate.org/internal/storage"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", "kidsgate.yaml", "path to the YAML configuration")
	flag.Parse()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	// Durable stores when a DSN is configured, in-memory otherwise.
	var (
		db         *sql.DB
		dataClient capability.DataClient
		logOpts    []audit.LogOption
	)
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := storage.EnsureSchema(ctx, db); err != nil {
			cancel()
			log.Fatalf("ensure schema: %v", err)
		}
		cancel()

		dataClient = storage.NewArtifactStore(db)
		logOpts = append(logOpts, audit.WithSink(storage.NewAuditArchive(db)))
	} else {
		dataClient = capability.NewMemoryData()
	}

	auditLog := audit.NewLog(logOpts...)

	limiter := ratelimit.New(
		ratelimit.WithRules(cfg.RateLimits),
		ratelimit.WithFallback(cfg.Fallback),
	)
	stop := make(chan struct{})
	limiter.StartSweeper(stop, time.Minute)

	catalog, err := cfg.Catalog()
	if err != nil {
		log.Fatalf("permission catalog: %v", err)
	}
	pipeline, err := secure.NewPipeline(
		secure.NewValidator(catalog),
		limiter,
		auditLog,
		secure.WithMaxContextLifetime(cfg.ContextLifetime),
	)
	if err != nil {
		log.Fatalf("security pipeline: %v", err)
	}

	portalSecret := cfg.Portal.Secret
	if portalSecret == "" {
		portalSecret = uuid.NewString()
		obs.Warn("portal secret not configured, sessions will not survive restarts", nil)
	}
	authClient, err := capability.NewPortalAuth(portalSecret,
		capability.WithSessionTTL(cfg.Portal.SessionTTL))
	if err != nil {
		log.Fatalf("portal auth: %v", err)
	}

	var aiClient capability.AIClient
	if cfg.OpenAI.APIKey != "" {
		opts := []capability.OpenAIOption{capability.WithModel(cfg.OpenAI.Model)}
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, capability.WithBaseURL(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL))
		}
		aiClient, err = capability.NewOpenAI(cfg.OpenAI.APIKey, opts...)
		if err != nil {
			log.Fatalf("openai client: %v", err)
		}
	} else {
		aiClient = &capability.StaticAI{
			SummaryPrefix: "Zusammenfassung: ",
			AnswerPrefix:  "Antwort: ",
		}
		obs.Warn("openai api key not configured, using canned responses", nil)
	}

	registry := buildRegistry(pipeline, authClient, dataClient, aiClient)
	coord, err := coordinator.New(registry, cfg.Profiles)
	if err != nil {
		log.Fatalf("coordinator: %v", err)
	}

	probe := httpapi.ReadyProbe{DB: db}
	api := httpapi.New(probe, version, auditLog, coord)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting kidsgate-api %s on %s (%d profiles)", version, srv.Addr, len(cfg.Profiles))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcSrv = grpc.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcSrv, httpapi.NewGRPCHealthServer(probe))
		go func() {
			if err := grpcSrv.Serve(lis); err != nil {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
		log.Printf("gRPC health on %s", cfg.GRPCAddr)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	<-sig
	log.Println("Shutting down...")
	close(stop)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

// Copyright 2025 Nanomoni Authors
//
// issuerd is the Issuer service entrypoint: it custodies client
// balances, opens channels against a client's signed request, and
// settles channels on a vendor's request.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nanomoni/channels/pkg/config"
	"github.com/nanomoni/channels/pkg/issuer"
	"github.com/nanomoni/channels/pkg/ledger"
	"github.com/nanomoni/channels/pkg/server"
	"github.com/nanomoni/channels/pkg/store"
	"github.com/nanomoni/channels/pkg/store/firestore"
	"github.com/nanomoni/channels/pkg/store/postgres"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		listenAddr  = flag.String("listen-addr", "", "HTTP listen address (overrides ISSUER_LISTEN_ADDR)")
		profilePath = flag.String("profile", os.Getenv("ISSUER_DEPLOYMENT_PROFILE"), "path to a YAML deployment profile")
		showHelp    = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *showHelp {
		printHelp()
		return
	}

	cfg := config.Load("ISSUER")
	if *profilePath != "" {
		profile, err := config.LoadDeploymentProfile(*profilePath)
		if err != nil {
			log.Fatalf("failed to load deployment profile: %v", err)
		}
		applyIssuerProfile(cfg, profile.Issuer)
		log.Printf("applied deployment profile %q", profile.Name)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	durable, closeStore, err := openDurableStore(cfg)
	if err != nil {
		log.Fatalf("failed to open durable store: %v", err)
	}
	if closeStore != nil {
		defer closeStore()
	}

	accountLedger := ledger.NewAccountLedger(ledger.NewMemoryKV())
	issuerLogger := log.New(log.Writer(), "[Issuer] ", log.LstdFlags)

	opts := []issuer.Option{issuer.WithLogger(issuerLogger)}
	if durable != nil {
		opts = append(opts, issuer.WithDurableStore(durable))
	}
	svc := issuer.New(accountLedger, opts...)

	metrics := server.NewMetrics()
	mux := server.NewIssuerMux(svc, metrics)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("issuerd listening on %s (store backend: %s)", cfg.ListenAddr, cfg.StoreBackend)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("issuerd shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown error: %v", err)
	}
	log.Println("issuerd stopped")
}

// openDurableStore constructs the store.Store backend named by
// cfg.StoreBackend. A nil store with a nil error means the in-memory
// backend was selected: the Issuer keeps its map as the sole source of
// truth and skips the durable mirror entirely.
func openDurableStore(cfg *config.Config) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		return nil, nil, nil

	case config.StoreBackendPostgres:
		client, err := postgres.NewClient(cfg, postgres.WithLogger(
			log.New(log.Writer(), "[Postgres] ", log.LstdFlags),
		))
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := client.MigrateUp(context.Background()); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		repo := postgres.NewRepository(client)
		return repo, func() { client.Close() }, nil

	case config.StoreBackendFirestore:
		fsCfg := &firestore.ClientConfig{
			ProjectID:       cfg.FirestoreProjectID,
			CredentialsFile: cfg.FirestoreCredentialsFile,
			Enabled:         cfg.FirestoreEnabled,
			Logger:          log.New(log.Writer(), "[Firestore] ", log.LstdFlags),
		}
		client, err := firestore.NewClient(context.Background(), fsCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect firestore: %w", err)
		}
		return client, func() { client.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// applyIssuerProfile overlays a deployment profile's issuer settings
// onto cfg, treating a listen/metrics address still at config.Load's
// hardcoded default as unset so the profile can supply one without
// fighting an environment variable the operator did set explicitly.
func applyIssuerProfile(cfg *config.Config, sp config.ServiceProfile) {
	const defaultListen, defaultMetrics = ":8080", ":9090"
	if cfg.ListenAddr == defaultListen {
		cfg.ListenAddr = ""
	}
	if cfg.MetricsAddr == defaultMetrics {
		cfg.MetricsAddr = ""
	}
	config.ApplyServiceProfile(cfg, sp)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListen
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = defaultMetrics
	}
}

func printHelp() {
	fmt.Println("issuerd - Issuer service for off-chain payment channels")
	fmt.Println()
	fmt.Println("Environment variables:")
	fmt.Println("  ISSUER_LISTEN_ADDR             HTTP listen address (default :8080)")
	fmt.Println("  ISSUER_DEFAULT_INITIAL_BALANCE validated only; registration uses the request's initialBalance")
	fmt.Println("  ISSUER_STORE_BACKEND           memory | postgres | firestore (default memory)")
	fmt.Println("  DATABASE_URL                   postgres connection string")
	fmt.Println("  FIREBASE_PROJECT_ID            firestore project id")
	fmt.Println("  GOOGLE_APPLICATION_CREDENTIALS firestore service account credentials file")
	fmt.Println("  ISSUER_METRICS_ENABLED         read into config; /metrics is always served")
	fmt.Println()
	flag.PrintDefaults()
}

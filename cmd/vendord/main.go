// Copyright 2025 Nanomoni Authors
//
// vendord is the Vendor service entrypoint: it receives payment proofs
// from clients, verifies and records them, and requests settlement from
// a remote issuerd over HTTP.
package main

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nanomoni/channels/pkg/config"
	"github.com/nanomoni/channels/pkg/cryptosig"
	"github.com/nanomoni/channels/pkg/paymentstore"
	"github.com/nanomoni/channels/pkg/server"
	"github.com/nanomoni/channels/pkg/vendor"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		listenAddr  = flag.String("listen-addr", "", "HTTP listen address (overrides VENDOR_LISTEN_ADDR)")
		issuerURL   = flag.String("issuer-url", "", "Base URL of the issuerd this vendor settles against (overrides VENDOR_ISSUER_URL)")
		profilePath = flag.String("profile", os.Getenv("VENDOR_DEPLOYMENT_PROFILE"), "path to a YAML deployment profile")
		showHelp    = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *showHelp {
		printHelp()
		return
	}

	cfg := config.Load("VENDOR")
	if *profilePath != "" {
		profile, err := config.LoadDeploymentProfile(*profilePath)
		if err != nil {
			log.Fatalf("failed to load deployment profile: %v", err)
		}
		applyVendorProfile(cfg, profile.Vendor)
		log.Printf("applied deployment profile %q", profile.Name)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *issuerURL != "" {
		cfg.IssuerURL = *issuerURL
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	_, vendorPub, err := loadOrGenerateVendorKey()
	if err != nil {
		log.Fatalf("failed to load/generate vendor key: %v", err)
	}

	issuerClient := vendor.NewHTTPIssuerClient(cfg.IssuerURL)
	svc := vendor.New(vendorPub, issuerClient, paymentstore.New())

	metrics := server.NewMetrics()
	mux := server.NewVendorMux(svc, metrics)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("vendord listening on %s (issuer: %s)", cfg.ListenAddr, cfg.IssuerURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("vendord shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown error: %v", err)
	}
	log.Println("vendord stopped")
}

// loadOrGenerateVendorKey loads the vendor's public key from
// VENDOR_KEY_PATH, generating and persisting a fresh keypair on first
// run. The private half is returned for completeness but unused today:
// the Vendor service only needs its public key to identify itself to
// the Issuer, it never signs anything itself.
func loadOrGenerateVendorKey() (*ecdsa.PrivateKey, []byte, error) {
	keyPath := os.Getenv("VENDOR_KEY_PATH")
	if keyPath == "" {
		keyPath = "./data/vendor_key.hex"
	}
	if err := os.MkdirAll(dirOf(keyPath), 0700); err != nil {
		return nil, nil, fmt.Errorf("create key directory: %w", err)
	}

	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		sk, err := cryptosig.GenerateKey()
		if err != nil {
			return nil, nil, fmt.Errorf("generate vendor key: %w", err)
		}
		pub := cryptosig.MarshalPublicKey(&sk.PublicKey)
		if err := os.WriteFile(keyPath, pub, 0600); err != nil {
			return nil, nil, fmt.Errorf("save vendor key: %w", err)
		}
		return sk, pub, nil
	}

	pub, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read vendor key: %w", err)
	}
	return nil, pub, nil
}

// applyVendorProfile overlays a deployment profile's vendor settings
// onto cfg, the same unset-means-hardcoded-default convention
// applyIssuerProfile uses in cmd/issuerd.
func applyVendorProfile(cfg *config.Config, sp config.ServiceProfile) {
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

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func printHelp() {
	fmt.Println("vendord - Vendor service for off-chain payment channels")
	fmt.Println()
	fmt.Println("Environment variables:")
	fmt.Println("  VENDOR_LISTEN_ADDR     HTTP listen address (default :8080)")
	fmt.Println("  VENDOR_ISSUER_URL      base URL of the issuerd to settle against")
	fmt.Println("  VENDOR_KEY_PATH        path to the vendor's persisted public key (default ./data/vendor_key.hex)")
	fmt.Println("  VENDOR_METRICS_ENABLED read into config; /metrics is always served")
	fmt.Println()
	flag.PrintDefaults()
}

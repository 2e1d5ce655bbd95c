// Copyright 2025 Nanomoni Authors
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DeploymentProfile captures the handful of settings that vary by
// deployment environment (local, staging, production) but are awkward to
// express as flat environment variables — nested store and service
// settings read once at startup. Only the service listen and metrics
// addresses are applied to a Config (see ApplyServiceProfile); the Store
// section and RequestTimeout are parsed but not applied.
type DeploymentProfile struct {
	Name    string `yaml:"name"`
	Issuer  ServiceProfile `yaml:"issuer"`
	Vendor  ServiceProfile `yaml:"vendor"`
	Store   StoreProfile   `yaml:"store"`
}

// ServiceProfile holds per-service deployment settings.
type ServiceProfile struct {
	ListenAddr     string `yaml:"listen_addr"`
	MetricsAddr    string `yaml:"metrics_addr"`
	RequestTimeout string `yaml:"request_timeout"`
}

// StoreProfile holds store-backend deployment settings.
type StoreProfile struct {
	Backend   string          `yaml:"backend"`
	Postgres  PostgresProfile `yaml:"postgres"`
	Firestore FirestoreProfile `yaml:"firestore"`
}

// PostgresProfile holds postgres connection-pool deployment settings.
type PostgresProfile struct {
	MaxConns    int `yaml:"max_conns"`
	MinConns    int `yaml:"min_conns"`
	MaxIdleTime int `yaml:"max_idle_time_seconds"`
	MaxLifetime int `yaml:"max_lifetime_seconds"`
}

// FirestoreProfile holds Firestore deployment settings.
type FirestoreProfile struct {
	ProjectID string `yaml:"project_id"`
	Enabled   bool   `yaml:"enabled"`
}

// LoadDeploymentProfile reads and parses a YAML deployment profile file.
func LoadDeploymentProfile(path string) (*DeploymentProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading deployment profile %s: %w", path, err)
	}
	var profile DeploymentProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("config: parsing deployment profile %s: %w", path, err)
	}
	return &profile, nil
}

// ApplyServiceProfile copies a service profile's non-empty ListenAddr and
// MetricsAddr onto cfg where cfg's field is empty, letting a deployment
// profile set defaults that environment variables can still override when
// present. RequestTimeout is not applied.
func ApplyServiceProfile(cfg *Config, sp ServiceProfile) {
	if sp.ListenAddr != "" && cfg.ListenAddr == "" {
		cfg.ListenAddr = sp.ListenAddr
	}
	if sp.MetricsAddr != "" && cfg.MetricsAddr == "" {
		cfg.MetricsAddr = sp.MetricsAddr
	}
}

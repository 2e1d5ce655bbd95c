package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleProfileYAML = `
name: test-profile
issuer:
  listen_addr: ":8443"
  metrics_addr: ":9443"
vendor:
  listen_addr: ":8444"
  metrics_addr: ":9444"
store:
  backend: postgres
  postgres:
    max_conns: 50
    min_conns: 10
  firestore:
    project_id: myproject
    enabled: true
`

func writeTempProfile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	if err := os.WriteFile(path, []byte(sampleProfileYAML), 0644); err != nil {
		t.Fatalf("write temp profile: %v", err)
	}
	return path
}

func TestLoadDeploymentProfile(t *testing.T) {
	path := writeTempProfile(t)
	profile, err := LoadDeploymentProfile(path)
	if err != nil {
		t.Fatalf("LoadDeploymentProfile: %v", err)
	}
	if profile.Name != "test-profile" {
		t.Fatalf("Name = %s, want test-profile", profile.Name)
	}
	if profile.Issuer.ListenAddr != ":8443" {
		t.Fatalf("Issuer.ListenAddr = %s, want :8443", profile.Issuer.ListenAddr)
	}
	if profile.Store.Postgres.MaxConns != 50 {
		t.Fatalf("Store.Postgres.MaxConns = %d, want 50", profile.Store.Postgres.MaxConns)
	}
	if !profile.Store.Firestore.Enabled {
		t.Fatal("expected Store.Firestore.Enabled = true")
	}
}

func TestLoadDeploymentProfileMissingFile(t *testing.T) {
	_, err := LoadDeploymentProfile("/does/not/exist.yaml")
	if err == nil {
		t.Fatal("expected error for missing profile file")
	}
}

func TestApplyServiceProfileOnlyFillsEmptyFields(t *testing.T) {
	cfg := &Config{ListenAddr: "", MetricsAddr: ":9999"}
	ApplyServiceProfile(cfg, ServiceProfile{ListenAddr: ":8443", MetricsAddr: ":9443"})

	if cfg.ListenAddr != ":8443" {
		t.Fatalf("ListenAddr = %s, want :8443 (profile fills empty field)", cfg.ListenAddr)
	}
	if cfg.MetricsAddr != ":9999" {
		t.Fatalf("MetricsAddr = %s, want :9999 (existing value must not be overwritten)", cfg.MetricsAddr)
	}
}

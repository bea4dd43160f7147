package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Matching.SimilarityThreshold != 0.75 {
		t.Errorf("SimilarityThreshold = %v, want 0.75", cfg.Matching.SimilarityThreshold)
	}
	if !cfg.Matching.SerializeMutations {
		t.Error("SerializeMutations should default to true")
	}
	if cfg.Matching.VerifyUpdateIdentity {
		t.Error("VerifyUpdateIdentity should default to false")
	}
	if cfg.Store.Backend != BackendPostgres {
		t.Errorf("Store.Backend = %q", cfg.Store.Backend)
	}
	if cfg.Store.Timeout != 5*time.Second {
		t.Errorf("Store.Timeout = %v", cfg.Store.Timeout)
	}
	if cfg.Vision.CropPadding != 20 {
		t.Errorf("CropPadding = %d, want 20", cfg.Vision.CropPadding)
	}
	if cfg.Vision.Sessions != 2 {
		t.Errorf("Sessions = %d, want 2", cfg.Vision.Sessions)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q", cfg.Logging.Format)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
matching:
  similarity_threshold: 0.6
  serialize_mutations: false
store:
  backend: memory
  timeout: 2s
  index_path: /tmp/faces.idx
vision:
  crop_padding: 0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Matching.SimilarityThreshold != 0.6 {
		t.Errorf("SimilarityThreshold = %v", cfg.Matching.SimilarityThreshold)
	}
	if cfg.Matching.SerializeMutations {
		t.Error("SerializeMutations should be false")
	}
	if cfg.Store.Backend != BackendMemory || cfg.Store.Timeout != 2*time.Second || cfg.Store.IndexPath != "/tmp/faces.idx" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Vision.CropPadding != 0 {
		t.Errorf("explicit zero padding was overridden: %d", cfg.Vision.CropPadding)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")
	t.Setenv("FACEID_SERVER_PORT", "9100")
	t.Setenv("FACEID_SIMILARITY_THRESHOLD", "0.8")
	t.Setenv("FACEID_STORE_BACKEND", "memory")
	t.Setenv("FACEID_DB_URL", "postgres://u:p@db:5432/faces")
	t.Setenv("FACEID_API_KEY", "secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Matching.SimilarityThreshold != 0.8 {
		t.Errorf("SimilarityThreshold = %v", cfg.Matching.SimilarityThreshold)
	}
	if cfg.Store.Backend != BackendMemory {
		t.Errorf("Store.Backend = %q", cfg.Store.Backend)
	}
	if got := cfg.Database.DSN(); got != "postgres://u:p@db:5432/faces" {
		t.Errorf("DSN = %q", got)
	}
	if cfg.Server.APIKey != "secret" {
		t.Errorf("APIKey = %q", cfg.Server.APIKey)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDatabaseDSN_FromParts(t *testing.T) {
	d := DatabaseConfig{Host: "localhost", Port: 5432, Name: "faceid", User: "face", Password: "pw"}
	want := "postgres://face:pw@localhost:5432/faceid?sslmode=disable"
	if got := d.DSN(); got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"threshold above one", func(c *Config) { c.Matching.SimilarityThreshold = 1.5 }, "similarity_threshold"},
		{"negative threshold", func(c *Config) { c.Matching.SimilarityThreshold = -0.1 }, "similarity_threshold"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "milvus" }, "store.backend"},
		{"zero timeout", func(c *Config) { c.Store.Timeout = 0 }, "store.timeout"},
		{"no sessions", func(c *Config) { c.Vision.Sessions = 0 }, "vision.sessions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}

	cfg, _ := Load("")
	cfg.Matching.SimilarityThreshold = 1
	if err := cfg.Validate(); err != nil {
		t.Errorf("threshold 1 should be valid: %v", err)
	}
}

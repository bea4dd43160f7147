package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/your-org/faceid/internal/identity"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Matching MatchingConfig `yaml:"matching"`
	Store    StoreConfig    `yaml:"store"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Vision   VisionConfig   `yaml:"vision"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	APIKey          string        `yaml:"api_key"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadMB     int           `yaml:"max_upload_mb"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

type MatchingConfig struct {
	SimilarityThreshold  float64 `yaml:"similarity_threshold"`
	SerializeMutations   bool    `yaml:"serialize_mutations"`
	VerifyUpdateIdentity bool    `yaml:"verify_update_identity"`
}

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type StoreConfig struct {
	Backend   string        `yaml:"backend"`
	Timeout   time.Duration `yaml:"timeout"`
	IndexPath string        `yaml:"index_path"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

// DSN returns URL when set, otherwise a URL assembled from the parts.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// NATSConfig: an empty URL disables event publishing.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// MinIOConfig: an empty Endpoint disables snapshot storage.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectorModel      string  `yaml:"detector_model"`
	EmbedderModel      string  `yaml:"embedder_model"`
	ONNXLibPath        string  `yaml:"onnx_lib_path"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	CropPadding        int     `yaml:"crop_padding"`
	Sessions           int     `yaml:"sessions"`
	IntraOpThreads     int     `yaml:"intra_op_threads"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from a YAML file and applies environment variable
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Matching: MatchingConfig{SerializeMutations: true},
		Vision:   VisionConfig{CropPadding: -1},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 10
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"*"}
	}
	if cfg.Matching.SimilarityThreshold == 0 {
		cfg.Matching.SimilarityThreshold = identity.DefaultThreshold
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendPostgres
	}
	if cfg.Store.Timeout == 0 {
		cfg.Store.Timeout = 5 * time.Second
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "faceid"
	}
	if cfg.Vision.ModelsDir == "" {
		cfg.Vision.ModelsDir = "models"
	}
	if cfg.Vision.DetectorModel == "" {
		cfg.Vision.DetectorModel = "det_10g.onnx"
	}
	if cfg.Vision.EmbedderModel == "" {
		cfg.Vision.EmbedderModel = "w600k_r50.onnx"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	// -1 marks "not configured"; 0 is a legal padding.
	if cfg.Vision.CropPadding < 0 {
		cfg.Vision.CropPadding = 20
	}
	if cfg.Vision.Sessions == 0 {
		cfg.Vision.Sessions = 2
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FACEID_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FACEID_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FACEID_SIMILARITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Matching.SimilarityThreshold = f
		}
	}
	if v := os.Getenv("FACEID_SERIALIZE_MUTATIONS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Matching.SerializeMutations = b
		}
	}
	if v := os.Getenv("FACEID_VERIFY_UPDATE_IDENTITY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Matching.VerifyUpdateIdentity = b
		}
	}
	if v := os.Getenv("FACEID_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("FACEID_STORE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Store.Timeout = d
		}
	}
	if v := os.Getenv("FACEID_STORE_INDEX_PATH"); v != "" {
		cfg.Store.IndexPath = v
	}
	if v := os.Getenv("FACEID_DB_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("FACEID_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FACEID_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FACEID_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FACEID_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FACEID_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FACEID_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FACEID_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FACEID_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FACEID_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FACEID_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FACEID_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("FACEID_ONNX_LIB"); v != "" {
		cfg.Vision.ONNXLibPath = v
	}
	if v := os.Getenv("FACEID_VISION_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.Sessions = n
		}
	}
	if v := os.Getenv("FACEID_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FACEID_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// Validate reports every setting that cannot work, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	if t := c.Matching.SimilarityThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("matching.similarity_threshold must be in (0, 1], got %v", t))
	}
	switch c.Store.Backend {
	case BackendPostgres, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("store.backend must be %q or %q, got %q", BackendPostgres, BackendMemory, c.Store.Backend))
	}
	if c.Store.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("store.timeout must be positive, got %v", c.Store.Timeout))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Server.MaxUploadMB < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_mb must not be negative"))
	}
	if c.Vision.Sessions < 1 {
		errs = append(errs, fmt.Errorf("vision.sessions must be at least 1, got %d", c.Vision.Sessions))
	}
	return errors.Join(errs...)
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	MinIO    MinIOConfig    `yaml:"minio"`
	NATS     NATSConfig     `yaml:"nats"`
	ML       MLConfig       `yaml:"ml"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Upload   UploadConfig   `yaml:"upload"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

// MLConfig gates which enrichment capabilities are enabled for the
// deployment. A disabled capability is never planned for an asset, so its
// worker kind stays idle even when registered.
type MLConfig struct {
	ClipEnabled    bool          `yaml:"clip_enabled"`
	OCREnabled     bool          `yaml:"ocr_enabled"`
	CaptionEnabled bool          `yaml:"caption_enabled"`
	FaceEnabled    bool          `yaml:"face_enabled"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type PipelineConfig struct {
	MaxAttempts          int           `yaml:"max_attempts"`
	PollInterval         time.Duration `yaml:"poll_interval"`
	IngestConcurrency    int           `yaml:"ingest_concurrency"`
	MetadataConcurrency  int           `yaml:"metadata_concurrency"`
	ThumbnailConcurrency int           `yaml:"thumbnail_concurrency"`
	TranscodeConcurrency int           `yaml:"transcode_concurrency"`
	MLConcurrency        int           `yaml:"ml_concurrency"`
	RetryConcurrency     int           `yaml:"retry_concurrency"`
	MetadataTimeout      time.Duration `yaml:"metadata_timeout"`
	ThumbnailTimeout     time.Duration `yaml:"thumbnail_timeout"`
	TranscodeTimeout     time.Duration `yaml:"transcode_timeout"`
	MLTimeout            time.Duration `yaml:"ml_timeout"`
}

type UploadConfig struct {
	StagingDir    string `yaml:"staging_dir"`
	MaxFileSizeMB int64  `yaml:"max_file_size_mb"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.ML.RequestTimeout == 0 {
		cfg.ML.RequestTimeout = 30 * time.Second
	}
	if cfg.Pipeline.MaxAttempts == 0 {
		cfg.Pipeline.MaxAttempts = 5
	}
	if cfg.Pipeline.PollInterval == 0 {
		cfg.Pipeline.PollInterval = 500 * time.Millisecond
	}
	if cfg.Pipeline.IngestConcurrency == 0 {
		cfg.Pipeline.IngestConcurrency = 4
	}
	if cfg.Pipeline.MetadataConcurrency == 0 {
		cfg.Pipeline.MetadataConcurrency = 8
	}
	if cfg.Pipeline.ThumbnailConcurrency == 0 {
		cfg.Pipeline.ThumbnailConcurrency = 4
	}
	if cfg.Pipeline.TranscodeConcurrency == 0 {
		cfg.Pipeline.TranscodeConcurrency = 2
	}
	if cfg.Pipeline.MLConcurrency == 0 {
		cfg.Pipeline.MLConcurrency = 2
	}
	if cfg.Pipeline.RetryConcurrency == 0 {
		cfg.Pipeline.RetryConcurrency = 2
	}
	if cfg.Pipeline.MetadataTimeout == 0 {
		cfg.Pipeline.MetadataTimeout = 30 * time.Second
	}
	if cfg.Pipeline.ThumbnailTimeout == 0 {
		cfg.Pipeline.ThumbnailTimeout = 60 * time.Second
	}
	if cfg.Pipeline.TranscodeTimeout == 0 {
		cfg.Pipeline.TranscodeTimeout = 15 * time.Minute
	}
	if cfg.Pipeline.MLTimeout == 0 {
		cfg.Pipeline.MLTimeout = 2 * time.Minute
	}
	if cfg.Upload.StagingDir == "" {
		cfg.Upload.StagingDir = os.TempDir()
	}
	if cfg.Upload.MaxFileSizeMB == 0 {
		cfg.Upload.MaxFileSizeMB = 2048
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MEDIALIB_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("MEDIALIB_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("MEDIALIB_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("MEDIALIB_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("MEDIALIB_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("MEDIALIB_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("MEDIALIB_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("MEDIALIB_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("MEDIALIB_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("MEDIALIB_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("MEDIALIB_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("MEDIALIB_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("MEDIALIB_STAGING_DIR"); v != "" {
		cfg.Upload.StagingDir = v
	}
}

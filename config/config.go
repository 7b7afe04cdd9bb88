package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StoreMongo  = "mongo"
	StoreMemory = "memory"

	PhotosDisk  = "disk"
	PhotosMinio = "minio"
)

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type RedisConfig struct {
	Address     string `yaml:"address"`
	Password    string `yaml:"password"`
	QueuePrefix string `yaml:"queue_prefix"`
	IssueLimit  int    `yaml:"issue_limit"`
}

// Config holds every runtime setting. Values come from defaults, then the
// optional YAML file, then the environment.
type Config struct {
	Port              string        `yaml:"port"`
	GinMode           string        `yaml:"gin_mode"`
	LogLevel          string        `yaml:"log_level"`
	StoreDriver       string        `yaml:"store_driver"`
	MongoURI          string        `yaml:"mongodb_uri"`
	MongoDatabase     string        `yaml:"mongodb_database"`
	StoreTimeout      time.Duration `yaml:"store_timeout"`
	JWTSecret         string        `yaml:"jwt_secret"`
	TokenTTL          time.Duration `yaml:"token_ttl"`
	AdminEmails       []string      `yaml:"admin_emails"`
	StrictTransitions bool          `yaml:"strict_transitions"`
	MaxUploadBytes    int64         `yaml:"max_upload_bytes"`
	PhotoStore        string        `yaml:"photo_store"`
	UploadDir         string        `yaml:"upload_dir"`
	PublicUploads     bool          `yaml:"public_uploads"`
	CORSOrigins       []string      `yaml:"cors_origins"`
	Minio             MinioConfig   `yaml:"minio"`
	Redis             RedisConfig   `yaml:"redis"`
}

func defaults() *Config {
	return &Config{
		Port:           "8080",
		GinMode:        "release",
		LogLevel:       "info",
		StoreDriver:    StoreMongo,
		MongoDatabase:  "civicreport",
		StoreTimeout:   10 * time.Second,
		MaxUploadBytes: 5 << 20,
		PhotoStore:     PhotosDisk,
		UploadDir:      "uploads",
		CORSOrigins:    []string{"*"},
		Minio:          MinioConfig{Bucket: "civicreport-photos"},
		Redis:          RedisConfig{QueuePrefix: "issue-limit"},
	}
}

// Load reads .env (if present), then the YAML file at path (or CONFIG_FILE
// when path is empty), then environment overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found")
	}

	cfg := defaults()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Port, "PORT")
	setString(&c.GinMode, "GIN_MODE")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.StoreDriver, "STORE_DRIVER")
	setString(&c.MongoURI, "MONGODB_URI")
	setString(&c.MongoDatabase, "MONGODB_DATABASE")
	setString(&c.JWTSecret, "JWT_SECRET")
	setString(&c.PhotoStore, "PHOTO_STORE")
	setString(&c.UploadDir, "UPLOAD_DIR")
	setString(&c.Minio.Endpoint, "MINIO_ENDPOINT")
	setString(&c.Minio.AccessKey, "MINIO_ACCESS_KEY")
	setString(&c.Minio.SecretKey, "MINIO_SECRET_KEY")
	setString(&c.Minio.Bucket, "MINIO_BUCKET")
	setString(&c.Redis.Address, "REDIS_ADDRESS")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Redis.QueuePrefix, "REDIS_QUEUE_FOR_ISSUE_LIMIT")
	setList(&c.AdminEmails, "ADMIN_EMAILS")
	setList(&c.CORSOrigins, "CORS_ORIGINS")

	var err error
	if c.StoreTimeout, err = envDuration("STORE_TIMEOUT", c.StoreTimeout); err != nil {
		return err
	}
	if c.TokenTTL, err = envDuration("TOKEN_TTL", c.TokenTTL); err != nil {
		return err
	}
	if c.StrictTransitions, err = envBool("STRICT_TRANSITIONS", c.StrictTransitions); err != nil {
		return err
	}
	if c.PublicUploads, err = envBool("PUBLIC_UPLOADS", c.PublicUploads); err != nil {
		return err
	}
	if c.Minio.UseSSL, err = envBool("MINIO_USE_SSL", c.Minio.UseSSL); err != nil {
		return err
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_UPLOAD_BYTES: %w", err)
		}
		c.MaxUploadBytes = n
	}
	if v := os.Getenv("ISSUE_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ISSUE_RATE_LIMIT: %w", err)
		}
		c.Redis.IssueLimit = n
	}
	return nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("please define the JWT_SECRET environment variable")
	}
	switch c.StoreDriver {
	case StoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("please define the MONGODB_URI environment variable")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.PhotoStore {
	case PhotosDisk:
	case PhotosMinio:
		if c.Minio.Endpoint == "" {
			return fmt.Errorf("minio endpoint is required when PHOTO_STORE=minio")
		}
	default:
		return fmt.Errorf("unknown PHOTO_STORE %q", c.PhotoStore)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if c.Redis.IssueLimit > 0 && c.Redis.Address == "" {
		return fmt.Errorf("ISSUE_RATE_LIMIT requires REDIS_ADDRESS")
	}
	return nil
}

// SlogLevel maps LogLevel onto slog levels, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

// Package config loads and validates thumbnailer configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/site-thumbnailer/internal/logging"
	"github.com/JakeFAU/site-thumbnailer/internal/thumbnail"
)

// EnvPrefix is prepended to every environment override, e.g. THUMBNAILER_SERVER_PORT.
const EnvPrefix = "THUMBNAILER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   logging.Config  `mapstructure:"logging"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Render    RenderConfig    `mapstructure:"render"`
	Image     ImageConfig     `mapstructure:"image"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	Lock      LockConfig      `mapstructure:"lock"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int   `mapstructure:"port"`
	RequestTimeoutSeconds  int   `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int   `mapstructure:"shutdown_timeout_seconds"`
	MaxBodyBytes           int64 `mapstructure:"max_body_bytes"`
}

// AuthConfig selects how bearer tokens are resolved into user identities.
type AuthConfig struct {
	Mode            string `mapstructure:"mode"`
	JWTSecret       string `mapstructure:"jwt_secret"`
	JWTIssuer       string `mapstructure:"jwt_issuer"`
	JWTAudience     string `mapstructure:"jwt_audience"`
	TokenTTLSeconds int    `mapstructure:"token_ttl_seconds"`
	UserInfoURL     string `mapstructure:"userinfo_url"`
	UserInfoAPIKey  string `mapstructure:"userinfo_api_key"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
}

// RenderConfig configures the headless browser.
type RenderConfig struct {
	NavTimeoutSeconds int     `mapstructure:"nav_timeout_seconds"`
	MaxParallel       int     `mapstructure:"max_parallel"`
	UserAgent         string  `mapstructure:"user_agent"`
	ExecPath          string  `mapstructure:"exec_path"`
	NoSandbox         bool    `mapstructure:"no_sandbox"`
	ViewportWidth     int     `mapstructure:"viewport_width"`
	ViewportHeight    int     `mapstructure:"viewport_height"`
	ScaleFactor       float64 `mapstructure:"scale_factor"`

	// BlockedHosts lists exact hosts or "*.suffix" wildcards never rendered.
	BlockedHosts          []string `mapstructure:"blocked_hosts"`
	BlockPrivateAddresses bool     `mapstructure:"block_private_addresses"`
}

// ImageConfig sets the thumbnail output dimensions and JPEG quality.
type ImageConfig struct {
	Width   int `mapstructure:"width"`
	Height  int `mapstructure:"height"`
	Quality int `mapstructure:"quality"`
}

// WorkspaceConfig controls where scratch directories are created.
type WorkspaceConfig struct {
	Root   string `mapstructure:"root"`
	Prefix string `mapstructure:"prefix"`
}

// StorageConfig selects and configures the object storage backend.
type StorageConfig struct {
	Backend              string             `mapstructure:"backend"`
	Collection           string             `mapstructure:"collection"`
	ContentType          string             `mapstructure:"content_type"`
	UploadTimeoutSeconds int                `mapstructure:"upload_timeout_seconds"`
	CacheControl         string             `mapstructure:"cache_control"`
	GCS                  GCSConfig          `mapstructure:"gcs"`
	Local                LocalStorageConfig `mapstructure:"local"`
	Memory               MemoryConfig       `mapstructure:"memory"`
}

// GCSConfig configures the Google Cloud Storage backend.
type GCSConfig struct {
	Bucket        string `mapstructure:"bucket"`
	Endpoint      string `mapstructure:"endpoint"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	VerifyUpload  bool   `mapstructure:"verify_upload"`
}

// LocalStorageConfig configures the filesystem backend.
type LocalStorageConfig struct {
	BaseDir       string `mapstructure:"base_dir"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// MemoryConfig configures the in-memory backend.
type MemoryConfig struct {
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// DBConfig controls access to the project store.
type DBConfig struct {
	Backend                string `mapstructure:"backend"`
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`

	Memory MemoryDBConfig `mapstructure:"memory"`
}

// MemoryDBConfig seeds the in-memory project store. Projects suits config
// files; Seed ("id=owner,id=owner") suits THUMBNAILER_DB_MEMORY_SEED.
type MemoryDBConfig struct {
	Projects []SeedProject `mapstructure:"projects"`
	Seed     string        `mapstructure:"seed"`
}

// SeedProject is one project row for the in-memory store.
type SeedProject struct {
	ID      string `mapstructure:"id"`
	OwnerID string `mapstructure:"owner_id"`
	Name    string `mapstructure:"name"`
}

// LockConfig selects the per-entity lock backend.
type LockConfig struct {
	Backend    string          `mapstructure:"backend"`
	TTLSeconds int             `mapstructure:"ttl_seconds"`
	Redis      RedisLockConfig `mapstructure:"redis"`
	File       FileLockConfig  `mapstructure:"file"`
}

// RedisLockConfig holds Redis connection settings for the lock backend.
type RedisLockConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// FileLockConfig holds the directory for host-local lock files.
type FileLockConfig struct {
	Dir string `mapstructure:"dir"`
}

// PubSubConfig holds metadata for capture notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// RateLimitConfig bounds how often one caller can trigger captures.
type RateLimitConfig struct {
	CapturesPerMinute float64 `mapstructure:"captures_per_minute"`
	Burst             int     `mapstructure:"burst"`
}

// ReconcileConfig tunes the orphan sweep.
type ReconcileConfig struct {
	// GraceSeconds keeps unreferenced objects younger than this; 0 disables the guard.
	GraceSeconds int `mapstructure:"grace_seconds"`
}

// Load builds a Config from .env files, an optional config file and the environment.
func Load(path string) (Config, error) {
	if err := loadDotEnv(".env.local", ".env"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	applyPlatformOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// loadDotEnv loads env files in order; earlier files win. Missing files are ignored.
func loadDotEnv(files ...string) error {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// applyPlatformOverrides honors PORT as set by container platforms.
func applyPlatformOverrides(cfg *Config) {
	if raw := os.Getenv("PORT"); raw != "" {
		var port int
		if _, err := fmt.Sscanf(raw, "%d", &port); err == nil && port > 0 {
			cfg.Server.Port = port
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 90)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("server.max_body_bytes", 64*1024)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("auth.mode", "jwt")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_issuer", "")
	v.SetDefault("auth.jwt_audience", "")
	v.SetDefault("auth.token_ttl_seconds", 3600)
	v.SetDefault("auth.userinfo_url", "")
	v.SetDefault("auth.userinfo_api_key", "")
	v.SetDefault("auth.timeout_seconds", 5)
	v.SetDefault("render.nav_timeout_seconds", 30)
	v.SetDefault("render.max_parallel", 2)
	v.SetDefault("render.user_agent", "site-thumbnailer/1.0")
	v.SetDefault("render.exec_path", "")
	v.SetDefault("render.no_sandbox", false)
	v.SetDefault("render.viewport_width", 1280)
	v.SetDefault("render.viewport_height", 800)
	v.SetDefault("render.scale_factor", 1.0)
	v.SetDefault("render.blocked_hosts", []string{})
	v.SetDefault("render.block_private_addresses", false)
	v.SetDefault("image.width", 640)
	v.SetDefault("image.height", 400)
	v.SetDefault("image.quality", 80)
	v.SetDefault("workspace.root", "")
	v.SetDefault("workspace.prefix", "thumbnail-")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.collection", "project-thumbnails")
	v.SetDefault("storage.content_type", "image/jpeg")
	v.SetDefault("storage.upload_timeout_seconds", 30)
	v.SetDefault("storage.cache_control", "no-cache")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.endpoint", "")
	v.SetDefault("storage.gcs.public_base_url", "https://storage.googleapis.com")
	v.SetDefault("storage.gcs.verify_upload", false)
	v.SetDefault("storage.local.base_dir", "data/thumbnails")
	v.SetDefault("storage.local.public_base_url", "http://localhost:8080/files")
	v.SetDefault("storage.memory.public_base_url", "https://storage.example")
	v.SetDefault("db.backend", "memory")
	v.SetDefault("db.memory.projects", []map[string]any{})
	v.SetDefault("db.memory.seed", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "projects")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_seconds", 1800)
	v.SetDefault("lock.backend", "none")
	v.SetDefault("lock.ttl_seconds", 120)
	v.SetDefault("lock.redis.address", "")
	v.SetDefault("lock.redis.password", "")
	v.SetDefault("lock.redis.db", 0)
	v.SetDefault("lock.file.dir", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("ratelimit.captures_per_minute", 6)
	v.SetDefault("ratelimit.burst", 3)
	v.SetDefault("reconcile.grace_seconds", 600)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Render.NavTimeoutSeconds <= 0 {
		return fmt.Errorf("render.nav_timeout_seconds must be > 0")
	}
	if c.Render.MaxParallel < 0 {
		return fmt.Errorf("render.max_parallel must be >= 0")
	}
	if c.Render.ViewportWidth <= 0 || c.Render.ViewportHeight <= 0 {
		return fmt.Errorf("render viewport dimensions must be > 0")
	}
	if c.Render.ScaleFactor <= 0 {
		return fmt.Errorf("render.scale_factor must be > 0")
	}
	if c.Image.Width <= 0 || c.Image.Height <= 0 {
		return fmt.Errorf("image dimensions must be > 0")
	}
	if c.Image.Quality < 0 || c.Image.Quality > 100 {
		return fmt.Errorf("image.quality must be between 0 and 100")
	}
	if c.Reconcile.GraceSeconds < 0 {
		return fmt.Errorf("reconcile.grace_seconds must be >= 0")
	}
	if err := c.validateAuth(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateDB(); err != nil {
		return err
	}
	if err := c.validateLock(); err != nil {
		return err
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	if c.RateLimit.CapturesPerMinute < 0 {
		return fmt.Errorf("ratelimit.captures_per_minute must be >= 0")
	}
	return nil
}

func (c Config) validateAuth() error {
	switch c.Auth.Mode {
	case "jwt":
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret must be set when auth.mode is jwt")
		}
	case "userinfo":
		if c.Auth.UserInfoURL == "" {
			return fmt.Errorf("auth.userinfo_url must be set when auth.mode is userinfo")
		}
	default:
		return fmt.Errorf("unknown auth.mode %q", c.Auth.Mode)
	}
	return nil
}

func (c Config) validateStorage() error {
	if c.Storage.UploadTimeoutSeconds <= 0 {
		return fmt.Errorf("storage.upload_timeout_seconds must be > 0")
	}
	if strings.Trim(c.Storage.Collection, "/") == "" {
		return fmt.Errorf("storage.collection is required")
	}
	if c.Storage.ContentType == "" {
		return fmt.Errorf("storage.content_type is required")
	}
	switch c.Storage.Backend {
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set when storage.backend is gcs")
		}
	case "local":
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set when storage.backend is local")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	return nil
}

func (c Config) validateDB() error {
	switch c.DB.Backend {
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.backend is postgres")
		}
	case "memory":
		if _, err := c.SeedProjects(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown db.backend %q", c.DB.Backend)
	}
	return nil
}

func (c Config) validateLock() error {
	switch c.Lock.Backend {
	case "none":
		return nil
	case "redis":
		if c.Lock.Redis.Address == "" {
			return fmt.Errorf("lock.redis.address must be set when lock.backend is redis")
		}
	case "file":
	default:
		return fmt.Errorf("unknown lock.backend %q", c.Lock.Backend)
	}
	if c.Lock.TTLSeconds <= 0 {
		return fmt.Errorf("lock.ttl_seconds must be > 0")
	}
	return nil
}

// Viewport returns the configured browser viewport.
func (c Config) Viewport() thumbnail.Viewport {
	return thumbnail.Viewport{
		Width:       c.Render.ViewportWidth,
		Height:      c.Render.ViewportHeight,
		ScaleFactor: c.Render.ScaleFactor,
	}
}

// ImageSpec returns the configured output image parameters.
func (c Config) ImageSpec() thumbnail.ImageSpec {
	return thumbnail.ImageSpec{
		Width:   c.Image.Width,
		Height:  c.Image.Height,
		Quality: c.Image.Quality,
	}
}

// NavigationTimeout converts the render timeout into a duration.
func (c Config) NavigationTimeout() time.Duration {
	return time.Duration(c.Render.NavTimeoutSeconds) * time.Second
}

// RequestTimeout bounds a whole HTTP request, capture included.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// UploadTimeout bounds a single object upload.
func (c Config) UploadTimeout() time.Duration {
	return time.Duration(c.Storage.UploadTimeoutSeconds) * time.Second
}

// ReconcileGrace returns how long a fresh unreferenced object is protected from the sweep.
func (c Config) ReconcileGrace() time.Duration {
	return time.Duration(c.Reconcile.GraceSeconds) * time.Second
}

// LockTTL is how long an entity lock survives without release.
func (c Config) LockTTL() time.Duration {
	return time.Duration(c.Lock.TTLSeconds) * time.Second
}

// TokenTTL is the lifetime of tokens minted by the token command.
func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLSeconds) * time.Second
}

// SeedProjects returns the projects the in-memory store starts with, from
// db.memory.projects followed by db.memory.seed. A later entry replaces an
// earlier one with the same ID.
func (c Config) SeedProjects() ([]thumbnail.Project, error) {
	projects := make([]thumbnail.Project, 0, len(c.DB.Memory.Projects))
	for i, p := range c.DB.Memory.Projects {
		id, owner := strings.TrimSpace(p.ID), strings.TrimSpace(p.OwnerID)
		if id == "" || owner == "" {
			return nil, fmt.Errorf("db.memory.projects[%d] needs id and owner_id", i)
		}
		projects = append(projects, thumbnail.Project{ID: id, OwnerID: owner, Name: p.Name})
	}
	for _, pair := range strings.Split(c.DB.Memory.Seed, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, owner, ok := strings.Cut(pair, "=")
		id, owner = strings.TrimSpace(id), strings.TrimSpace(owner)
		if !ok || id == "" || owner == "" {
			return nil, fmt.Errorf("db.memory.seed entry %q must be id=owner", pair)
		}
		projects = append(projects, thumbnail.Project{ID: id, OwnerID: owner})
	}
	return projects, nil
}

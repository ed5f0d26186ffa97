package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/Giorgiomufen/display-sync/pkg/state"
	"github.com/Giorgiomufen/display-sync/pkg/store"
)

const (
	// DefaultHTTPAddr serves pages, the library API and uploaded media.
	DefaultHTTPAddr = ":3000"

	// DefaultWSAddr serves the sync channel.
	DefaultWSAddr = ":3001"

	// DefaultMaxMessageSize is the largest inbound frame (50 MiB).
	DefaultMaxMessageSize = 50 << 20

	// DefaultDisplayCount is the initial number of displays.
	DefaultDisplayCount = 3

	// DefaultStorePath is the sqlite file used when no DSN is given.
	DefaultStorePath = "data/displaysync.db"

	// DefaultMediaDir holds uploaded images for the disk backend.
	DefaultMediaDir = "data/canvas"

	// DefaultMediaURL is the URL prefix uploaded images are served under.
	DefaultMediaURL = "/canvas/"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "DISPLAYSYNC_"
)

// Media backends.
const (
	MediaDisk = "disk"
	MediaS3   = "s3"
	MediaNone = "none"
)

// Errors returned by Load and Validate.
var (
	ErrUnknownFormat = errors.New("config: unknown file format")
	ErrInvalid       = errors.New("config: invalid")
)

// Config is the complete server configuration.
type Config struct {
	// HTTPAddr is the listen address for pages and the REST API.
	HTTPAddr string `yaml:"httpAddr" json:"httpAddr"`

	// WSAddr is the listen address for the sync channel.
	WSAddr string `yaml:"wsAddr" json:"wsAddr"`

	// PublicDir, when set, is served as static pages.
	PublicDir string `yaml:"publicDir" json:"publicDir"`

	// ScenesDir, when set, is served under /scenes/.
	ScenesDir string `yaml:"scenesDir" json:"scenesDir"`

	// DisplayCount is the initial number of displays.
	DisplayCount int `yaml:"displayCount" json:"displayCount"`

	// MaxDisplayCount caps displayCount and layout keys set by controls.
	// It may only be lowered below state.MaxDisplayCount.
	MaxDisplayCount int `yaml:"maxDisplayCount" json:"maxDisplayCount"`

	// MaxMessageSize is the largest inbound frame in bytes.
	MaxMessageSize int64 `yaml:"maxMessageSize" json:"maxMessageSize"`

	// LanIP overrides LAN address discovery.
	LanIP string `yaml:"lanIP" json:"lanIP"`

	// AllowedOrigins restricts sync channel upgrades. Empty allows all.
	AllowedOrigins []string `yaml:"allowedOrigins" json:"allowedOrigins"`

	Store   StoreConfig   `yaml:"store" json:"store"`
	Media   MediaConfig   `yaml:"media" json:"media"`
	Log     LogConfig     `yaml:"log" json:"log"`
	Import  ImportConfig  `yaml:"import" json:"import"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// path stores the file the config was loaded from.
	path string
}

// StoreConfig selects the library store.
type StoreConfig struct {
	// Driver is one of store.Drivers(). Default: sqlite.
	Driver string `yaml:"driver" json:"driver"`

	// DSN is the driver-specific connection string.
	DSN string `yaml:"dsn" json:"dsn"`

	// TablePrefix prefixes SQL table names.
	TablePrefix string `yaml:"tablePrefix" json:"tablePrefix"`
}

// MediaConfig selects where uploaded images go.
type MediaConfig struct {
	// Backend is disk, s3 or none.
	Backend string `yaml:"backend" json:"backend"`

	// Dir and URL configure the disk backend.
	Dir string `yaml:"dir" json:"dir"`
	URL string `yaml:"url" json:"url"`

	// MaxSize bounds a decoded image in bytes. Zero means MaxMessageSize.
	MaxSize int `yaml:"maxSize" json:"maxSize"`

	// Retention removes media older than this (e.g. "720h"). Empty disables.
	Retention string `yaml:"retention" json:"retention"`

	// Schedule is the cron spec for retention sweeps.
	Schedule string `yaml:"schedule" json:"schedule"`

	S3 S3Config `yaml:"s3" json:"s3"`
}

// S3Config configures the s3 backend.
type S3Config struct {
	Bucket       string `yaml:"bucket" json:"bucket"`
	Prefix       string `yaml:"prefix" json:"prefix"`
	Region       string `yaml:"region" json:"region"`
	Endpoint     string `yaml:"endpoint" json:"endpoint"`
	UsePathStyle bool   `yaml:"usePathStyle" json:"usePathStyle"`
	PublicURL    string `yaml:"publicURL" json:"publicURL"`
	URLExpiry    string `yaml:"urlExpiry" json:"urlExpiry"`
}

// LogConfig configures the root logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" json:"level"`

	// Format is text or json.
	Format string `yaml:"format" json:"format"`

	// File, when set, also writes JSON logs to a rotated file.
	File string `yaml:"file" json:"file"`

	AddSource bool `yaml:"addSource" json:"addSource"`
}

// ImportConfig configures the library drop folder.
type ImportConfig struct {
	// Dir is watched for *.html files. Empty disables the importer.
	Dir string `yaml:"dir" json:"dir"`

	// Remove deletes files after a successful import.
	Remove bool `yaml:"remove" json:"remove"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		HTTPAddr:        DefaultHTTPAddr,
		WSAddr:          DefaultWSAddr,
		DisplayCount:    DefaultDisplayCount,
		MaxDisplayCount: state.MaxDisplayCount,
		MaxMessageSize:  DefaultMaxMessageSize,
		Store: StoreConfig{
			Driver: store.DriverSQLite,
			DSN:    DefaultStorePath,
		},
		Media: MediaConfig{
			Backend:  MediaDisk,
			Dir:      DefaultMediaDir,
			URL:      DefaultMediaURL,
			Schedule: "@hourly",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads the file at path over the defaults. The format follows the
// extension: .yaml/.yml, or .json/.jsonc (comments and trailing commas
// allowed). An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, ext)
	}

	cfg.path = path
	cfg.applyDefaults()
	return cfg, nil
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string {
	return c.path
}

// applyDefaults fills in values a file left empty.
func (c *Config) applyDefaults() {
	d := Default()
	if c.HTTPAddr == "" {
		c.HTTPAddr = d.HTTPAddr
	}
	if c.WSAddr == "" {
		c.WSAddr = d.WSAddr
	}
	if c.DisplayCount == 0 {
		c.DisplayCount = d.DisplayCount
	}
	if c.MaxDisplayCount == 0 {
		c.MaxDisplayCount = d.MaxDisplayCount
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.Store.Driver == "" {
		c.Store.Driver = d.Store.Driver
	}
	if c.Store.Driver == store.DriverSQLite && c.Store.DSN == "" {
		c.Store.DSN = d.Store.DSN
	}
	if c.Media.Backend == "" {
		c.Media.Backend = d.Media.Backend
	}
	if c.Media.Dir == "" {
		c.Media.Dir = d.Media.Dir
	}
	if c.Media.URL == "" {
		c.Media.URL = d.Media.URL
	}
	if c.Media.Schedule == "" {
		c.Media.Schedule = d.Media.Schedule
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = d.Metrics.Path
	}
}

// ApplyEnv overrides fields from DISPLAYSYNC_* variables.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int64) {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err))
			return
		}
		*dst = n
	}
	flag := func(key string, dst *bool) {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err))
			return
		}
		*dst = b
	}

	str("HTTP_ADDR", &c.HTTPAddr)
	str("WS_ADDR", &c.WSAddr)
	str("PUBLIC_DIR", &c.PublicDir)
	str("SCENES_DIR", &c.ScenesDir)
	str("LAN_IP", &c.LanIP)
	str("STORE_DRIVER", &c.Store.Driver)
	str("STORE_DSN", &c.Store.DSN)
	str("STORE_TABLE_PREFIX", &c.Store.TablePrefix)
	str("MEDIA_BACKEND", &c.Media.Backend)
	str("MEDIA_DIR", &c.Media.Dir)
	str("MEDIA_URL", &c.Media.URL)
	str("MEDIA_RETENTION", &c.Media.Retention)
	str("S3_BUCKET", &c.Media.S3.Bucket)
	str("S3_PREFIX", &c.Media.S3.Prefix)
	str("S3_REGION", &c.Media.S3.Region)
	str("S3_ENDPOINT", &c.Media.S3.Endpoint)
	str("S3_PUBLIC_URL", &c.Media.S3.PublicURL)
	flag("S3_PATH_STYLE", &c.Media.S3.UsePathStyle)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("LOG_FILE", &c.Log.File)
	str("IMPORT_DIR", &c.Import.Dir)
	flag("METRICS", &c.Metrics.Enabled)

	count := int64(c.DisplayCount)
	num("DISPLAY_COUNT", &count)
	c.DisplayCount = int(count)
	maxCount := int64(c.MaxDisplayCount)
	num("MAX_DISPLAY_COUNT", &maxCount)
	c.MaxDisplayCount = int(maxCount)
	num("MAX_MESSAGE_SIZE", &c.MaxMessageSize)

	if v, ok := lookup(EnvPrefix + "ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = splitList(v)
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks that the configuration can be served.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.HTTPAddr == "" {
		invalid("httpAddr is empty")
	}
	if c.WSAddr == "" {
		invalid("wsAddr is empty")
	}
	if c.HTTPAddr != "" && c.HTTPAddr == c.WSAddr {
		invalid("httpAddr and wsAddr must differ")
	}
	if c.DisplayCount < 1 {
		invalid("displayCount must be at least 1, got %d", c.DisplayCount)
	}
	if c.MaxDisplayCount < 1 || c.MaxDisplayCount > state.MaxDisplayCount {
		invalid("maxDisplayCount must be between 1 and %d, got %d", state.MaxDisplayCount, c.MaxDisplayCount)
	} else if c.DisplayCount > c.MaxDisplayCount {
		invalid("displayCount %d exceeds maxDisplayCount %d", c.DisplayCount, c.MaxDisplayCount)
	}
	if c.MaxMessageSize < 1 {
		invalid("maxMessageSize must be positive")
	}
	if !validDriver(c.Store.Driver) {
		invalid("store.driver %q is not one of %s", c.Store.Driver, strings.Join(store.Drivers(), ", "))
	}
	if c.Store.Driver != store.DriverMemory && c.Store.DSN == "" {
		invalid("store.dsn is required for driver %q", c.Store.Driver)
	}

	switch c.Media.Backend {
	case MediaDisk:
		if c.Media.Dir == "" {
			invalid("media.dir is required for the disk backend")
		}
	case MediaS3:
		if c.Media.S3.Bucket == "" {
			invalid("media.s3.bucket is required for the s3 backend")
		}
		if _, err := parseDuration(c.Media.S3.URLExpiry); err != nil {
			invalid("media.s3.urlExpiry: %v", err)
		}
	case MediaNone:
	default:
		invalid("media.backend %q is not one of disk, s3, none", c.Media.Backend)
	}
	if _, err := parseDuration(c.Media.Retention); err != nil {
		invalid("media.retention: %v", err)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		invalid("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		invalid("log.format %q is not one of text, json", c.Log.Format)
	}

	return errors.Join(errs...)
}

func validDriver(driver string) bool {
	for _, d := range store.Drivers() {
		if d == driver {
			return true
		}
	}
	return false
}

// RetentionAge returns the parsed media.retention, zero when disabled.
func (c *Config) RetentionAge() time.Duration {
	d, _ := parseDuration(c.Media.Retention)
	return d
}

// URLExpiry returns the parsed media.s3.urlExpiry, zero for the default.
func (c *Config) URLExpiry() time.Duration {
	d, _ := parseDuration(c.Media.S3.URLExpiry)
	return d
}

// MediaMaxSize returns the image size limit in bytes.
func (c *Config) MediaMaxSize() int {
	if c.Media.MaxSize > 0 {
		return c.Media.MaxSize
	}
	return int(c.MaxMessageSize)
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}

// Port returns the numeric port of addr, or 0 when it has none.
func Port(addr string) int {
	i := strings.LastIndexByte(addr, ':')
	if i < 0 {
		return 0
	}
	p, err := strconv.Atoi(addr[i+1:])
	if err != nil {
		return 0
	}
	return p
}

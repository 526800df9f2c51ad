// Package config loads the server configuration from go_appserver.json (or
// .yaml) in the project root, with APP_ prefixed environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"go-php-runner/accesslog"
	"go-php-runner/engine"
	"go-php-runner/logging"
	"go-php-runner/message"
	"go-php-runner/pidfile"
	"go-php-runner/server"
	"go-php-runner/static"
)

// FileName is the config file base name looked up in the project root.
const FileName = "go_appserver"

// Directive configures caching headers for request paths matching Pattern.
type Directive struct {
	Pattern      string   `mapstructure:"pattern" yaml:"pattern" json:"pattern"`
	CacheControl []string `mapstructure:"cache_control" yaml:"cache_control,omitempty" json:"cache_control,omitempty"`
	LastModified *bool    `mapstructure:"last_modified" yaml:"last_modified,omitempty" json:"last_modified,omitempty"`
	ETag         *bool    `mapstructure:"etag" yaml:"etag,omitempty" json:"etag,omitempty"`
}

type StaticConfig struct {
	Enabled      bool              `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	DocumentRoot string            `mapstructure:"document_root" yaml:"document_root" json:"document_root"`
	Directives   []Directive       `mapstructure:"directives" yaml:"directives" json:"directives"`
	// ContentTypes replaces the built-in extension map. Keys are extensions
	// without the dot.
	ContentTypes map[string]string `mapstructure:"content_types" yaml:"content_types,omitempty" json:"content_types,omitempty"`

	// StatCacheInterval is in seconds; below 1 the cache is cleared on
	// every request.
	StatCacheInterval int    `mapstructure:"stat_cache_interval" yaml:"stat_cache_interval" json:"stat_cache_interval"`
	ETagValidation    string `mapstructure:"etag_validation" yaml:"etag_validation" json:"etag_validation"`
	GzipLevel         int    `mapstructure:"gzip_level" yaml:"gzip_level" json:"gzip_level"`

	// Watch invalidates cached file metadata as files change.
	Watch bool `mapstructure:"watch" yaml:"watch" json:"watch"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"`
}

type AccessLogConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Format     string `mapstructure:"format" yaml:"format" json:"format"`
	File       string `mapstructure:"file" yaml:"file,omitempty" json:"file,omitempty"`
	ServerName string `mapstructure:"server_name" yaml:"server_name,omitempty" json:"server_name,omitempty"`
}

// Config is the whole server configuration.
type Config struct {
	ProjectRoot string `mapstructure:"-" yaml:"project_root" json:"project_root"`

	ServerAddr           string `mapstructure:"server_addr" yaml:"server_addr" json:"server_addr"`
	AdminAddr            string `mapstructure:"admin_addr" yaml:"admin_addr,omitempty" json:"admin_addr,omitempty"`
	FastWorkers          int    `mapstructure:"fast_workers" yaml:"fast_workers" json:"fast_workers"`
	SlowWorkers          int    `mapstructure:"slow_workers" yaml:"slow_workers" json:"slow_workers"`
	HotReload            bool   `mapstructure:"hot_reload" yaml:"hot_reload" json:"hot_reload"`
	RequestTimeoutMs     int    `mapstructure:"request_timeout_ms" yaml:"request_timeout_ms" json:"request_timeout_ms"`
	MaxRequestsPerWorker int    `mapstructure:"max_requests_per_worker" yaml:"max_requests_per_worker" json:"max_requests_per_worker"`
	MaxBodyBytes         int64  `mapstructure:"max_body_bytes" yaml:"max_body_bytes" json:"max_body_bytes"`

	SlowRoutes        []string `mapstructure:"slow_routes" yaml:"slow_routes" json:"slow_routes"`
	SlowMethods       []string `mapstructure:"slow_methods" yaml:"slow_methods" json:"slow_methods"`
	SlowBodyThreshold int      `mapstructure:"slow_body_threshold" yaml:"slow_body_threshold" json:"slow_body_threshold"`

	PHPBinary     string   `mapstructure:"php_binary" yaml:"php_binary" json:"php_binary"`
	WorkerScript  string   `mapstructure:"worker_script" yaml:"worker_script" json:"worker_script"`
	HotReloadDirs []string `mapstructure:"hot_reload_dirs" yaml:"hot_reload_dirs" json:"hot_reload_dirs"`

	ProcessName     string        `mapstructure:"process_name" yaml:"process_name" json:"process_name"`
	PIDFile         string        `mapstructure:"pid_file" yaml:"pid_file" json:"pid_file"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	Log       LogConfig       `mapstructure:"log" yaml:"log" json:"log"`
	AccessLog AccessLogConfig `mapstructure:"access_log" yaml:"access_log" json:"access_log"`
	Static    StaticConfig    `mapstructure:"static" yaml:"static" json:"static"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	yes := true
	return &Config{
		ServerAddr:           ":8080",
		FastWorkers:          4,
		SlowWorkers:          2,
		HotReload:            false,
		RequestTimeoutMs:     10000, // 10s
		MaxRequestsPerWorker: 1000,
		MaxBodyBytes:         message.DefaultMaxBodyBytes,

		SlowRoutes:        []string{"/reports/", "/admin/analytics"},
		SlowMethods:       []string{"PUT", "DELETE"},
		SlowBodyThreshold: 2_000_000,

		PHPBinary:     "php",
		WorkerScript:  filepath.Join("php", "worker.php"),
		HotReloadDirs: []string{"php", "routes"},

		ProcessName:     "go-php",
		ShutdownTimeout: 10 * time.Second,

		Log:       LogConfig{Level: "info", Format: "text"},
		AccessLog: AccessLogConfig{Enabled: true, Format: "combined"},
		Static: StaticConfig{
			Enabled:      true,
			DocumentRoot: "public",
			Directives: []Directive{
				{Pattern: `/\.(css|js|mjs|map)$/i`, CacheControl: []string{"public", "max-age=3600"}, LastModified: &yes, ETag: &yes},
				{Pattern: `/\.(png|jpe?g|gif|svg|ico|webp|avif|woff2?)$/i`, CacheControl: []string{"public", "max-age=86400"}, LastModified: &yes, ETag: &yes},
			},
			StatCacheInterval: 1,
			ETagValidation:    string(static.ETagWeak),
			GzipLevel:         0,
		},
	}
}

// Options tells Load where to look.
type Options struct {
	// File is an explicit config file. When set, its directory is the
	// project root and any error reading it is returned.
	File string

	// ProjectRoot is searched for go_appserver.{json,yaml}. Defaults to
	// the nearest directory holding go.mod.
	ProjectRoot string

	// Logger receives notices about settings that fell back to defaults.
	Logger *slog.Logger

	// SkipValidation loads without the fatal checks, for commands that
	// only need to locate the pid file of a running server.
	SkipValidation bool
}

// Load reads the configuration. Worker and slow-request settings that are
// invalid fall back to defaults with a log line; static pipeline, pid file
// and access log settings that are invalid make Load fail.
func Load(opts Options) (*Config, error) {
	logger := logging.OrNop(opts.Logger).With("component", "config")

	root := opts.ProjectRoot
	if opts.File != "" {
		abs, err := filepath.Abs(opts.File)
		if err != nil {
			return nil, err
		}
		opts.File = abs
		if root == "" {
			root = filepath.Dir(abs)
		}
	}
	if root == "" {
		root = FindProjectRoot()
	}

	v := newViper()
	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.File, err)
		}
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(root)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				logger.Info("no config file found, using defaults", "dir", root)
			} else {
				logger.Warn("invalid config file, using defaults", "dir", root, "error", err)
				v = newViper()
			}
		}
	}

	cfg := &Config{}
	err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.ProjectRoot = root
	if used := v.ConfigFileUsed(); used != "" {
		logger.Debug("loaded config", "file", used)
	}

	cfg.applyFallbacks(logger)
	if opts.SkipValidation {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("server_addr", def.ServerAddr)
	v.SetDefault("admin_addr", def.AdminAddr)
	v.SetDefault("fast_workers", def.FastWorkers)
	v.SetDefault("slow_workers", def.SlowWorkers)
	v.SetDefault("hot_reload", def.HotReload)
	v.SetDefault("request_timeout_ms", def.RequestTimeoutMs)
	v.SetDefault("max_requests_per_worker", def.MaxRequestsPerWorker)
	v.SetDefault("max_body_bytes", def.MaxBodyBytes)
	v.SetDefault("slow_routes", def.SlowRoutes)
	v.SetDefault("slow_methods", def.SlowMethods)
	v.SetDefault("slow_body_threshold", def.SlowBodyThreshold)
	v.SetDefault("php_binary", def.PHPBinary)
	v.SetDefault("worker_script", def.WorkerScript)
	v.SetDefault("hot_reload_dirs", def.HotReloadDirs)
	v.SetDefault("process_name", def.ProcessName)
	v.SetDefault("pid_file", def.PIDFile)
	v.SetDefault("shutdown_timeout", def.ShutdownTimeout.String())

	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)

	v.SetDefault("access_log.enabled", def.AccessLog.Enabled)
	v.SetDefault("access_log.format", def.AccessLog.Format)
	v.SetDefault("access_log.file", def.AccessLog.File)
	v.SetDefault("access_log.server_name", def.AccessLog.ServerName)

	directives := make([]map[string]any, 0, len(def.Static.Directives))
	for _, d := range def.Static.Directives {
		m := map[string]any{"pattern": d.Pattern, "cache_control": d.CacheControl}
		if d.LastModified != nil {
			m["last_modified"] = *d.LastModified
		}
		if d.ETag != nil {
			m["etag"] = *d.ETag
		}
		directives = append(directives, m)
	}
	v.SetDefault("static.enabled", def.Static.Enabled)
	v.SetDefault("static.document_root", def.Static.DocumentRoot)
	v.SetDefault("static.directives", directives)
	v.SetDefault("static.stat_cache_interval", def.Static.StatCacheInterval)
	v.SetDefault("static.etag_validation", def.Static.ETagValidation)
	v.SetDefault("static.gzip_level", def.Static.GzipLevel)
	v.SetDefault("static.watch", def.Static.Watch)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// applyFallbacks replaces unusable worker settings with defaults.
func (c *Config) applyFallbacks(logger *slog.Logger) {
	def := Default()

	if c.FastWorkers <= 0 {
		logger.Warn("fast_workers is invalid, falling back to default", "value", c.FastWorkers, "default", def.FastWorkers)
		c.FastWorkers = def.FastWorkers
	}
	if c.SlowWorkers < 0 {
		logger.Warn("slow_workers is invalid, falling back to default", "value", c.SlowWorkers, "default", def.SlowWorkers)
		c.SlowWorkers = def.SlowWorkers
	}
	if c.RequestTimeoutMs <= 0 {
		logger.Warn("request_timeout_ms is invalid, falling back to default", "value", c.RequestTimeoutMs, "default", def.RequestTimeoutMs)
		c.RequestTimeoutMs = def.RequestTimeoutMs
	}
	if c.MaxRequestsPerWorker <= 0 {
		logger.Warn("max_requests_per_worker is invalid, falling back to default", "value", c.MaxRequestsPerWorker, "default", def.MaxRequestsPerWorker)
		c.MaxRequestsPerWorker = def.MaxRequestsPerWorker
	}
	if c.MaxBodyBytes <= 0 {
		logger.Warn("max_body_bytes is invalid, falling back to default", "value", c.MaxBodyBytes, "default", def.MaxBodyBytes)
		c.MaxBodyBytes = def.MaxBodyBytes
	}

	if len(c.SlowRoutes) == 0 {
		c.SlowRoutes = def.SlowRoutes
		logger.Info("slow_routes missing, using defaults", "value", c.SlowRoutes)
	}
	if len(c.SlowMethods) == 0 {
		c.SlowMethods = def.SlowMethods
		logger.Info("slow_methods missing, using defaults", "value", c.SlowMethods)
	}
	if c.SlowBodyThreshold <= 0 {
		c.SlowBodyThreshold = def.SlowBodyThreshold
		logger.Info("slow_body_threshold invalid, using default", "bytes", c.SlowBodyThreshold)
	}

	if c.PHPBinary == "" {
		c.PHPBinary = def.PHPBinary
	}
	if c.WorkerScript == "" {
		c.WorkerScript = def.WorkerScript
	}
	if c.ProcessName == "" {
		c.ProcessName = def.ProcessName
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.AccessLog.Format == "" {
		c.AccessLog.Format = def.AccessLog.Format
	}
}

// Validate reports every fatal problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Static.Enabled {
		if _, err := c.StaticOptions(nil); err != nil {
			errs = append(errs, err)
		}
		if info, err := os.Stat(c.DocumentRoot()); err != nil || !info.IsDir() {
			errs = append(errs, &static.ConfigError{Setting: "document_root", Value: c.DocumentRoot(), Err: static.ErrInvalidRoot})
		}
	}

	if _, err := pidfile.New(c.PIDFilePath()); err != nil {
		errs = append(errs, err)
	}

	if c.AccessLog.Enabled {
		if _, err := accesslog.NewFormatter(c.AccessLog.Format); err != nil {
			errs = append(errs, fmt.Errorf("access_log.format: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Resolve makes p absolute relative to the project root.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.ProjectRoot, p)
}

// PIDFilePath is the configured pid file, or pidfile.DefaultPath.
func (c *Config) PIDFilePath() string {
	if c.PIDFile == "" {
		return pidfile.DefaultPath()
	}
	return c.Resolve(c.PIDFile)
}

func (c *Config) DocumentRoot() string {
	return c.Resolve(c.Static.DocumentRoot)
}

// StaticOptions compiles the static pipeline settings.
func (c *Config) StaticOptions(stat *static.StatCache) (static.Options, error) {
	entries := make([]static.DirectiveConfig, 0, len(c.Static.Directives))
	for _, d := range c.Static.Directives {
		entries = append(entries, static.DirectiveConfig{
			Pattern:      d.Pattern,
			CacheControl: d.CacheControl,
			LastModified: d.LastModified,
			ETag:         d.ETag,
		})
	}

	var errs []error
	rules, err := static.CompileRules(entries)
	if err != nil {
		errs = append(errs, err)
	}
	mode, err := static.ParseETagValidation(c.Static.ETagValidation)
	if err != nil {
		errs = append(errs, err)
	}
	if _, err := static.NewGzipResponder(c.Static.GzipLevel); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return static.Options{}, err
	}

	var types map[string]string
	if len(c.Static.ContentTypes) > 0 {
		types = make(map[string]string, len(c.Static.ContentTypes))
		for ext, mime := range c.Static.ContentTypes {
			types[strings.ToLower(strings.TrimPrefix(ext, "."))] = mime
		}
	}

	return static.Options{
		ContentTypes:      types,
		StatCacheInterval: time.Duration(c.Static.StatCacheInterval) * time.Second,
		Rules:             rules,
		ETagValidation:    mode,
		GzipLevel:         c.Static.GzipLevel,
		StatCache:         stat,
	}, nil
}

// StaticHandler builds the static resource handler, sharing stat between
// its stages.
func (c *Config) StaticHandler(stat *static.StatCache, logger *slog.Logger) (*static.Handler, error) {
	opts, err := c.StaticOptions(stat)
	if err != nil {
		return nil, err
	}
	stages, err := static.DefaultStages(opts)
	if err != nil {
		return nil, err
	}
	return static.NewHandler(c.DocumentRoot(), stages, static.WithLogger(logger), static.WithStatCache(opts.StatCache))
}

func (c *Config) ServerConfig(logger *slog.Logger) server.Config {
	return server.Config{
		FastWorkers: c.FastWorkers,
		SlowWorkers: c.SlowWorkers,
		Worker: server.WorkerConfig{
			Command:        c.PHPBinary,
			Script:         c.WorkerScript,
			Dir:            c.ProjectRoot,
			MaxRequests:    c.MaxRequestsPerWorker,
			RequestTimeout: time.Duration(c.RequestTimeoutMs) * time.Millisecond,
		},
		Slow: server.SlowRequestConfig{
			RoutePrefixes: c.SlowRoutes,
			Methods:       c.SlowMethods,
			BodyThreshold: c.SlowBodyThreshold,
		},
		HotReloadDirs: c.HotReloadDirs,
		Logger:        logger,
	}
}

// EngineConfig announces fast workers as workers and slow workers as task
// workers.
func (c *Config) EngineConfig(logger *slog.Logger) engine.Config {
	return engine.Config{
		Addr:            c.ServerAddr,
		Workers:         c.FastWorkers,
		TaskWorkers:     c.SlowWorkers,
		ShutdownTimeout: c.ShutdownTimeout,
		Logger:          logger,
	}
}

func (c *Config) Logging() logging.Config {
	return logging.Config{
		Level:  logging.ParseLevel(c.Log.Level),
		Format: logging.ParseFormat(c.Log.Format),
	}
}

// FindProjectRoot returns the nearest directory at or above the working
// directory that holds go.mod, or the working directory itself.
func FindProjectRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}

	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return wd
		}
		dir = parent
	}
}

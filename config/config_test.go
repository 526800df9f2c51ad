package config

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-php-runner/accesslog"
	"go-php-runner/logging"
	"go-php-runner/pidfile"
	"go-php-runner/static"
)

// projectDir returns a temp project root with an empty public directory.
func projectDir(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "public"), 0o755))
	return root
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	root := projectDir(t)

	cfg, err := Load(Options{ProjectRoot: root})
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, root, cfg.ProjectRoot)
	assert.Equal(t, def.ServerAddr, cfg.ServerAddr)
	assert.Equal(t, def.FastWorkers, cfg.FastWorkers)
	assert.Equal(t, def.SlowWorkers, cfg.SlowWorkers)
	assert.Equal(t, def.RequestTimeoutMs, cfg.RequestTimeoutMs)
	assert.Equal(t, def.SlowRoutes, cfg.SlowRoutes)
	assert.Equal(t, def.SlowMethods, cfg.SlowMethods)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.True(t, cfg.Static.Enabled)
	assert.Equal(t, filepath.Join(root, "public"), cfg.DocumentRoot())
	require.Len(t, cfg.Static.Directives, 2)
	require.NotNil(t, cfg.Static.Directives[0].ETag)
	assert.True(t, *cfg.Static.Directives[0].ETag)
	assert.Equal(t, pidfile.DefaultPath(), cfg.PIDFilePath())
}

func TestLoadJSONFallsBackOnInvalidWorkerSettings(t *testing.T) {
	root := projectDir(t)
	writeFile(t, filepath.Join(root, FileName+".json"), `{
		"fast_workers": -1,
		"slow_workers": -5,
		"request_timeout_ms": 0,
		"max_requests_per_worker": 0,
		"slow_routes": [],
		"slow_methods": [],
		"slow_body_threshold": 0,
		"server_addr": "127.0.0.1:9000"
	}`)

	var buf bytes.Buffer
	logger := logging.New(logging.Config{Output: &buf})

	cfg, err := Load(Options{ProjectRoot: root, Logger: logger})
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, "127.0.0.1:9000", cfg.ServerAddr)
	assert.Equal(t, def.FastWorkers, cfg.FastWorkers)
	assert.Equal(t, def.SlowWorkers, cfg.SlowWorkers)
	assert.Equal(t, def.RequestTimeoutMs, cfg.RequestTimeoutMs)
	assert.Equal(t, def.MaxRequestsPerWorker, cfg.MaxRequestsPerWorker)
	assert.Equal(t, def.SlowRoutes, cfg.SlowRoutes)
	assert.Equal(t, def.SlowMethods, cfg.SlowMethods)
	assert.Equal(t, def.SlowBodyThreshold, cfg.SlowBodyThreshold)

	assert.Contains(t, buf.String(), "fast_workers is invalid")
	assert.Contains(t, buf.String(), "component=config")
}

func TestLoadYAML(t *testing.T) {
	root := projectDir(t)
	require.NoError(t, os.Mkdir(filepath.Join(root, "web"), 0o755))
	writeFile(t, filepath.Join(root, FileName+".yaml"), `
fast_workers: 8
shutdown_timeout: 3s
log:
  level: debug
  format: json
access_log:
  format: common
static:
  document_root: web
  etag_validation: strong
  gzip_level: 5
  stat_cache_interval: 0
  content_types:
    txt: text/x-plain
  directives:
    - pattern: '\.txt$'
      cache_control: [private, max-age=60]
      etag: false
`)

	cfg, err := Load(Options{ProjectRoot: root})
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.FastWorkers)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, filepath.Join(root, "web"), cfg.DocumentRoot())
	assert.Equal(t, "strong", cfg.Static.ETagValidation)
	assert.Equal(t, 5, cfg.Static.GzipLevel)
	assert.Equal(t, "text/x-plain", cfg.Static.ContentTypes["txt"])
	require.Len(t, cfg.Static.Directives, 1)
	assert.Equal(t, []string{"private", "max-age=60"}, cfg.Static.Directives[0].CacheControl)
	assert.Nil(t, cfg.Static.Directives[0].LastModified)
	require.NotNil(t, cfg.Static.Directives[0].ETag)
	assert.False(t, *cfg.Static.Directives[0].ETag)

	lc := cfg.Logging()
	assert.Equal(t, logging.FormatJSON, lc.Format)

	opts, err := cfg.StaticOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, static.ETagStrong, opts.ETagValidation)
	assert.Equal(t, time.Duration(0), opts.StatCacheInterval)
	require.Len(t, opts.Rules.CacheControl, 1)
	assert.Empty(t, opts.Rules.LastModified)
	require.Len(t, opts.Rules.ETag, 1)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	root := projectDir(t)
	t.Setenv("APP_SERVER_ADDR", ":9999")
	t.Setenv("APP_FAST_WORKERS", "3")
	t.Setenv("APP_SLOW_METHODS", "PATCH,PUT")
	t.Setenv("APP_STATIC_GZIP_LEVEL", "6")
	t.Setenv("APP_SHUTDOWN_TIMEOUT", "250ms")

	cfg, err := Load(Options{ProjectRoot: root})
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.ServerAddr)
	assert.Equal(t, 3, cfg.FastWorkers)
	assert.Equal(t, []string{"PATCH", "PUT"}, cfg.SlowMethods)
	assert.Equal(t, 6, cfg.Static.GzipLevel)
	assert.Equal(t, 250*time.Millisecond, cfg.ShutdownTimeout)
}

func TestLoadExplicitFile(t *testing.T) {
	root := projectDir(t)
	path := filepath.Join(root, "custom.json")
	writeFile(t, path, `{"slow_workers": 0, "process_name": "shop"}`)

	cfg, err := Load(Options{File: path})
	require.NoError(t, err)
	assert.Equal(t, root, cfg.ProjectRoot)
	assert.Equal(t, 0, cfg.SlowWorkers)
	assert.Equal(t, "shop", cfg.ProcessName)

	_, err = Load(Options{File: filepath.Join(root, "missing.json")})
	assert.Error(t, err)
}

func TestLoadInvalidDiscoveredFileUsesDefaults(t *testing.T) {
	root := projectDir(t)
	writeFile(t, filepath.Join(root, FileName+".json"), `{"fast_workers": 9,`)

	var buf bytes.Buffer
	cfg, err := Load(Options{ProjectRoot: root, Logger: logging.New(logging.Config{Output: &buf})})
	require.NoError(t, err)
	assert.Equal(t, Default().FastWorkers, cfg.FastWorkers)
	assert.Contains(t, buf.String(), "invalid config file")

	path := filepath.Join(root, FileName+".json")
	_, err = Load(Options{File: path})
	assert.Error(t, err, "an explicit file must parse")
}

func TestValidateJoinsFatalErrors(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	cfg.ProjectRoot = root
	cfg.Static.Directives = []Directive{
		{Pattern: `(`},
	}
	cfg.Static.ETagValidation = "medium"
	cfg.Static.GzipLevel = 10
	cfg.PIDFile = filepath.Join(root, "missing", "dir", "app.pid")
	cfg.AccessLog.Format = "%{x"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, static.ErrInvalidPattern)
	assert.ErrorIs(t, err, static.ErrInvalidETagMode)
	assert.ErrorIs(t, err, static.ErrInvalidCompression)
	assert.ErrorIs(t, err, static.ErrInvalidRoot)
	assert.ErrorIs(t, err, pidfile.ErrNotWritable)
	assert.ErrorIs(t, err, accesslog.ErrInvalidFormat)

	var cerr *static.ConfigError
	assert.True(t, errors.As(err, &cerr))
}

func TestValidateInvalidDirective(t *testing.T) {
	root := projectDir(t)
	cfg := Default()
	cfg.ProjectRoot = root
	cfg.Static.Directives = []Directive{
		{Pattern: `\.css$`, CacheControl: []string{"max-age=abc"}},
	}
	assert.ErrorIs(t, cfg.Validate(), static.ErrInvalidDirective)

	cfg.Static.Enabled = false
	assert.NoError(t, cfg.Validate())
}

func TestStaticHandlerServesWithDirectives(t *testing.T) {
	root := projectDir(t)
	writeFile(t, filepath.Join(root, "public", "app.css"), "body{}")

	cfg := Default()
	cfg.ProjectRoot = root

	h, err := cfg.StaticHandler(static.NewStatCache(), nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/app.css", nil)
	resp, ok := h.Handle(static.NewResponseWriterTransport(rec), req)
	require.True(t, ok)
	require.NotNil(t, resp)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rec.Header().Get("ETag"))
	assert.NotEmpty(t, rec.Header().Get("Last-Modified"))
	assert.Equal(t, "body{}", rec.Body.String())
}

func TestServerAndEngineConfig(t *testing.T) {
	cfg := Default()
	cfg.ProjectRoot = "/srv/app"

	sc := cfg.ServerConfig(nil)
	assert.Equal(t, cfg.FastWorkers, sc.FastWorkers)
	assert.Equal(t, "/srv/app", sc.Worker.Dir)
	assert.Equal(t, 10*time.Second, sc.Worker.RequestTimeout)
	assert.Equal(t, cfg.SlowRoutes, sc.Slow.RoutePrefixes)

	ec := cfg.EngineConfig(nil)
	assert.Equal(t, cfg.FastWorkers, ec.Workers)
	assert.Equal(t, cfg.SlowWorkers, ec.TaskWorkers)
	assert.Equal(t, cfg.ServerAddr, ec.Addr)
}

func TestFindProjectRoot(t *testing.T) {
	tmp := t.TempDir()
	writeFile(t, filepath.Join(tmp, "go.mod"), "module example.com/test")

	sub := filepath.Join(tmp, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	t.Chdir(sub)

	// macOS /var is a symlink to /private/var
	got, err := filepath.EvalSymlinks(FindProjectRoot())
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(tmp)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadSkipValidation(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, FileName+".json"), `{"pid_file": "app.pid", "static": {"gzip_level": 12}}`)

	_, err := Load(Options{ProjectRoot: root})
	require.Error(t, err)

	cfg, err := Load(Options{ProjectRoot: root, SkipValidation: true})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "app.pid"), cfg.PIDFilePath())
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/vendorflow/internal/config"
	httpserver "github.com/fyrsmithlabs/vendorflow/internal/http"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.DSN = config.Secret("file:" + filepath.Join(t.TempDir(), "vendorflow.db") + "?_busy_timeout=5000")
	cfg.Database.MaxOpenConns = 1
	cfg.Logging.Level = "error"
	cfg.Sweep.Mode = config.SweepModeOff
	return cfg
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNewApp_Defaults(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer a.Close(context.Background())

	assert.Nil(t, a.nc, "nats is off by default")
	assert.Nil(t, a.temporal, "temporal is off by default")
	assert.Nil(t, a.redisLock)
	assert.Nil(t, a.scheduler)

	rec := get(t, a.server, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var health httpserver.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "disabled", health.Services["telemetry"])

	rec = get(t, a.server, "/api/v1/definitions")
	require.Equal(t, http.StatusOK, rec.Code)
	var defs httpserver.DefinitionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &defs))
	assert.Len(t, defs.Definitions, 7, "default lifecycle is seeded into an empty store")
}

func TestNewApp_LocalSweep(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sweep.Mode = config.SweepModeLocal

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close(context.Background())

	require.NotNil(t, a.scheduler)
	assert.False(t, a.scheduler.Running(), "nothing starts before Run")
}

func TestNewApp_FileDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "definitions.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[definitions]]
slug = "booked"
name = "Booked"
order = 50
inbound_signals = ["booking confirmed"]
`), 0o600))

	cfg := testConfig(t)
	cfg.Definitions.Source = config.DefinitionSourceFile
	cfg.Definitions.Path = path
	cfg.Definitions.Watch = true

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close(context.Background())

	assert.NotNil(t, a.watcher)

	rec := get(t, a.server, "/api/v1/definitions")
	require.Equal(t, http.StatusOK, rec.Code)
	var defs httpserver.DefinitionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &defs))
	require.Len(t, defs.Definitions, 1)
	assert.Equal(t, "booked", defs.Definitions[0].Slug)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/definitions/booked", bytes.NewBufferString(`{"name":"Booked","order":50}`))
	req.Header.Set("Content-Type", "application/json")
	put := httptest.NewRecorder()
	a.server.ServeHTTP(put, req)
	assert.Equal(t, http.StatusConflict, put.Code, "file-backed definitions are read only")
}

func TestNewApp_RedisUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = "127.0.0.1:1"

	a, err := newApp(context.Background(), cfg)
	assert.Error(t, err)
	assert.Nil(t, a)
}

func TestApp_CloseTwice(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(t))
	require.NoError(t, err)

	a.Close(context.Background())
	assert.NotPanics(t, func() { a.Close(context.Background()) })
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Version:    dev")
	assert.Contains(t, out.String(), "vendorflowd")
}

func TestMigrateCommand(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "vendorflow")
	require.NoError(t, os.MkdirAll(dir, 0o700))

	dbPath := filepath.Join(t.TempDir(), "migrate.db")
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  driver: sqlite
  dsn: "file:`+dbPath+`?_busy_timeout=5000"
logging:
  level: error
`), 0o600))

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"migrate", "--config", path})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "migrations applied")
	assert.FileExists(t, dbPath)
}

package cli

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/stepflow/internal/config"
	"github.com/aretw0/stepflow/internal/logging"
	"github.com/aretw0/stepflow/internal/runtime"
	"github.com/aretw0/stepflow/pkg/adapters/file"
	"github.com/aretw0/stepflow/pkg/adapters/memory"
	"github.com/aretw0/stepflow/pkg/adapters/postgrest"
	"github.com/aretw0/stepflow/pkg/domain"
	"github.com/aretw0/stepflow/pkg/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig() config.Config {
	return config.Config{
		Backend: config.BackendConfig{Timeout: time.Second},
		Redis:   config.RedisConfig{Prefix: "test:", TTL: time.Hour, LockTTL: time.Second},
		Log:     config.LogConfig{Level: "info", Format: "text"},
	}
}

func TestNewApp_Defaults(t *testing.T) {
	ctx := context.Background()
	app, err := NewApp(ctx, baseConfig(), logging.NewNop(), "test")
	require.NoError(t, err)
	defer app.Close(ctx)

	assert.IsType(t, &memory.Store{}, app.Store)
	assert.IsType(t, &memory.Backend{}, app.Caller)
	assert.Equal(t, []string{"onboarding", "session"}, app.Flows.Names())

	state, err := app.Manager.Start(ctx, "session", map[string]any{"session_id": "s-1"})
	require.NoError(t, err)
	assert.Equal(t, "preview", state.CurrentStep())
}

func TestNewApp_FileStoreSealed(t *testing.T) {
	ctx := context.Background()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	dir := t.TempDir()
	cfg := baseConfig()
	cfg.Store.Dir = dir
	cfg.Store.EncryptionKey = base64.StdEncoding.EncodeToString(key)

	app, err := NewApp(ctx, cfg, logging.NewNop(), "test")
	require.NoError(t, err)
	defer app.Close(ctx)

	state, err := app.Manager.Start(ctx, "onboarding", nil)
	require.NoError(t, err)

	raw, err := file.New(dir).Load(ctx, state.InstanceID)
	require.NoError(t, err)
	assert.Empty(t, raw.Steps, "the envelope on disk hides the traversal")

	loaded, err := app.Manager.Load(ctx, state.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, "child", loaded.CurrentStep())
}

func TestNewApp_BadKey(t *testing.T) {
	cfg := baseConfig()
	cfg.Store.EncryptionKey = "c2hvcnQ="
	_, err := NewApp(context.Background(), cfg, logging.NewNop(), "test")
	assert.ErrorContains(t, err, "encryption key")
}

func TestNewApp_RedisWithLocking(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	cfg := baseConfig()
	cfg.Redis.Addr = mr.Addr()
	cfg.Redis.Lock = true

	app, err := NewApp(ctx, cfg, logging.NewNop(), "test")
	require.NoError(t, err)
	defer app.Close(ctx)

	state, err := app.Manager.Start(ctx, "onboarding", nil)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:"+state.InstanceID))
}

func TestNewApp_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := baseConfig()
	cfg.Redis.Addr = addr
	_, err := NewApp(context.Background(), cfg, logging.NewNop(), "test")
	assert.ErrorContains(t, err, "connect to redis")
}

func TestNewApp_BackendWithTracing(t *testing.T) {
	ops := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ops <- filepath.Base(r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"request_id": "r-1", "status": "queued"})
	}))
	defer srv.Close()

	ctx := context.Background()
	traceFile := filepath.Join(t.TempDir(), "spans.json")
	cfg := baseConfig()
	cfg.Backend.URL = srv.URL
	cfg.Backend.APIKey = "anon"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Output = traceFile

	app, err := NewApp(ctx, cfg, logging.NewNop(), "test")
	require.NoError(t, err)
	assert.IsType(t, &postgrest.Client{}, app.Caller)

	state, err := app.Manager.Start(ctx, "session", map[string]any{"topic_id": "t-1"})
	require.NoError(t, err)
	_, err = app.Manager.Do(ctx, state.InstanceID, func(ctx context.Context, c *runtime.Controller) error {
		return c.JumpTo(ctx, "reinforce")
	})
	require.NoError(t, err)

	_, after, err := app.Manager.RunAction(ctx, state.InstanceID, "mnemonic")
	require.NoError(t, err)
	assert.False(t, after.Busy)
	assert.Equal(t, rpc.OpCreateMnemonicRequest, <-ops)
	assert.Equal(t, domain.StatusActive, after.Status)

	require.NoError(t, app.Close(ctx))
	spans, err := os.ReadFile(traceFile)
	require.NoError(t, err)
	assert.Contains(t, string(spans), rpc.OpCreateMnemonicRequest)
}

func TestNewLogger(t *testing.T) {
	cfg := baseConfig()
	cfg.Log.Format = "json"
	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.NotNil(t, logger)

	cfg.Log.Level = "loud"
	_, err = NewLogger(cfg)
	assert.Error(t, err)
}

func TestLoadFlows_Dir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "survey.yaml"), []byte(`
name: survey
steps:
  - id: mood
    options: [good, bad]
    required: true
completion:
  operation: rpc_submit_survey
`), 0o644))

	reg, err := LoadFlows(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"onboarding", "session", "survey"}, reg.Names())
}

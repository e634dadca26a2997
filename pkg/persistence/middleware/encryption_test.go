package middleware_test

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"io"
	"testing"

	"github.com/aretw0/stepflow/pkg/adapters/memory"
	"github.com/aretw0/stepflow/pkg/domain"
	"github.com/aretw0/stepflow/pkg/persistence/middleware"
	"github.com/aretw0/stepflow/pkg/ports"
	contract "github.com/aretw0/stepflow/pkg/ports/tests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) []byte {
	k := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		t.Fatal(err)
	}
	return k
}

func sealedStore(t *testing.T, next ports.StateStore, active []byte, fallback ...[]byte) ports.StateStore {
	t.Helper()
	mw, err := middleware.NewEncryption(middleware.EncryptionConfig{ActiveKey: active, FallbackKeys: fallback})
	require.NoError(t, err)
	return middleware.Chain(next, mw)
}

func onboardingState(id string) *domain.State {
	s := domain.NewState("onboarding", id, []string{"child", "when"})
	s.Status = domain.StatusActive
	s.Answers["child"] = map[string]any{"first_name": "Ada", "year_group": float64(9)}
	return s
}

func TestEncryption_Contract(t *testing.T) {
	contract.StateStoreContractTest(t, sealedStore(t, memory.NewStore(), generateKey(t)))
}

func TestEncryption_HidesAnswers(t *testing.T) {
	inner := memory.NewStore()
	store := sealedStore(t, inner, generateKey(t))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "i-1", onboardingState("i-1")))

	raw, err := inner.Load(ctx, "i-1")
	require.NoError(t, err)
	assert.Empty(t, raw.Answers)
	assert.Equal(t, "onboarding", raw.FlowID)
	assert.Equal(t, domain.StatusActive, raw.Status)
	assert.Contains(t, raw.Context, middleware.SealedKey)

	loaded, err := store.Load(ctx, "i-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", loaded.Answers["child"].(map[string]any)["first_name"])
	assert.Equal(t, []string{"child", "when"}, loaded.Steps)
}

func TestEncryption_KeyRotation(t *testing.T) {
	inner := memory.NewStore()
	oldKey, newKey := generateKey(t), generateKey(t)
	ctx := context.Background()

	oldStore := sealedStore(t, inner, oldKey)
	require.NoError(t, oldStore.Save(ctx, "i-1", onboardingState("i-1")))

	rotated := sealedStore(t, inner, newKey, oldKey)
	loaded, err := rotated.Load(ctx, "i-1")
	require.NoError(t, err, "fallback key should open old snapshots")

	require.NoError(t, rotated.Save(ctx, "i-1", loaded))
	if _, err := oldStore.Load(ctx, "i-1"); err == nil {
		t.Error("expected old key alone to fail on a snapshot sealed with the new key")
	}
}

func TestEncryption_RejectsPlainSnapshots(t *testing.T) {
	inner := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, inner.Save(ctx, "plain", onboardingState("plain")))

	_, err := sealedStore(t, inner, generateKey(t)).Load(ctx, "plain")
	assert.ErrorIs(t, err, middleware.ErrNotSealed)
}

func TestEncryption_InvalidKey(t *testing.T) {
	_, err := middleware.NewEncryption(middleware.EncryptionConfig{ActiveKey: []byte("short-key")})
	assert.Error(t, err)

	_, err = middleware.NewEncryption(middleware.EncryptionConfig{
		ActiveKey:    generateKey(t),
		FallbackKeys: [][]byte{[]byte("short")},
	})
	assert.Error(t, err)
}

func TestParseKeys(t *testing.T) {
	k := generateKey(t)
	enc := base64.StdEncoding.EncodeToString(k)

	cfg, err := middleware.ParseKeys(enc, []string{enc})
	require.NoError(t, err)
	assert.Equal(t, k, cfg.ActiveKey)
	assert.Len(t, cfg.FallbackKeys, 1)

	_, err = middleware.ParseKeys("not base64!", nil)
	assert.Error(t, err)
	_, err = middleware.ParseKeys(base64.StdEncoding.EncodeToString([]byte("short")), nil)
	assert.ErrorContains(t, err, "want 32 bytes")
}

package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "settings.json")

	store, err := OpenFileStore(path, quietLogger())
	require.NoError(t, err)
	_, ok, err := store.Get(ctx, KeyDomainOverride)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, KeyDomainOverride, "alt.example.net"))
	require.NoError(t, store.Set(ctx, KeyAllowCustom, "true"))
	require.NoError(t, store.Delete(ctx, KeyAllowCustom))

	reopened, err := OpenFileStore(path, quietLogger())
	require.NoError(t, err)
	v, ok, _ := reopened.Get(ctx, KeyDomainOverride)
	assert.True(t, ok)
	assert.Equal(t, "alt.example.net", v)
	_, ok, _ = reopened.Get(ctx, KeyAllowCustom)
	assert.False(t, ok)
}

func TestFileStoreAcceptsJSONBooleans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"allowCustom": true, "domainOverride": null}`), 0o644))

	store, err := OpenFileStore(path, quietLogger())
	require.NoError(t, err)
	v, ok, _ := store.Get(context.Background(), KeyAllowCustom)
	assert.True(t, ok)
	assert.Equal(t, "true", v)
	_, ok, _ = store.Get(context.Background(), KeyDomainOverride)
	assert.False(t, ok)
}

func TestFileStoreRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o644))
	_, err := OpenFileStore(path, quietLogger())
	assert.Error(t, err)
}

func TestFileStoreExternalEdit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	path := filepath.Join(t.TempDir(), "settings.json")

	store, err := OpenFileStore(path, quietLogger())
	require.NoError(t, err)
	gw := NewGateway(store, nil, quietLogger())
	require.NoError(t, gw.Load(ctx))
	require.NoError(t, gw.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte(`{"domainOverride": " alt.example.net ", "allowCustom": "yes"}`), 0o644))

	require.Eventually(t, func() bool {
		s := gw.Current()
		return s.DomainOverride == "alt.example.net" && s.AllowCustomCrop
	}, 5*time.Second, 10*time.Millisecond)

	// the gateway rewrites the file in canonical form
	require.Eventually(t, func() bool {
		fresh, err := OpenFileStore(path, quietLogger())
		if err != nil {
			return false
		}
		v, _, _ := fresh.Get(ctx, KeyAllowCustom)
		d, _, _ := fresh.Get(ctx, KeyDomainOverride)
		return v == "true" && d == "alt.example.net"
	}, 5*time.Second, 10*time.Millisecond)
}

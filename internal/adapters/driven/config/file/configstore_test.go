package file

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigStore_Success(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := NewConfigStore(tmpDir)

	require.NoError(t, err)
	require.NotNil(t, store)
	assert.Equal(t, filepath.Join(tmpDir, "config.toml"), store.Path())
}

func TestConfigStore_SetAndGet(t *testing.T) {
	store, err := NewConfigStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Set("transfer.repository_id", "repo-a"))

	val, ok := store.Get("transfer.repository_id")
	assert.True(t, ok)
	assert.Equal(t, "repo-a", val)
	assert.Equal(t, "repo-a", store.GetString("transfer.repository_id"))
}

func TestConfigStore_Get_NotFound(t *testing.T) {
	store, err := NewConfigStore(t.TempDir())
	require.NoError(t, err)

	val, ok := store.Get("missing")
	assert.False(t, ok)
	assert.Nil(t, val)
	assert.Empty(t, store.GetString("missing"))
	assert.Zero(t, store.GetInt("missing"))
	assert.Zero(t, store.GetFloat("missing"))
	assert.False(t, store.GetBool("missing"))
	assert.Nil(t, store.GetStringSlice("missing"))
}

func TestConfigStore_NestedTables(t *testing.T) {
	tmpDir := t.TempDir()
	content := `
[transfer]
chunk_size = 500000
requests_per_second = 2.5

[targets.prod]
endpoint = "https://prod.example.com/transfer"
username = "admin"

[targets.staging]
endpoint = "http://staging:8080/transfer"
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(content), 0600))

	store, err := NewConfigStore(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, 500000, store.GetInt("transfer.chunk_size"))
	assert.InDelta(t, 2.5, store.GetFloat("transfer.requests_per_second"), 1e-9)
	assert.InDelta(t, 500000, store.GetFloat("transfer.chunk_size"), 1e-9)
	assert.Equal(t, "admin", store.GetString("targets.prod.username"))
	assert.Equal(t, []string{"prod", "staging"}, store.Keys("targets"))
	assert.Equal(t, []string{"chunk_size", "requests_per_second"}, store.Keys("transfer."))
	assert.Equal(t, []string{"targets", "transfer"}, store.Keys(""))
	assert.Empty(t, store.Keys("receiver"))
}

func TestConfigStore_PersistenceKeepsTables(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewConfigStore(tmpDir)
	require.NoError(t, err)

	require.NoError(t, store.Set("targets.prod.endpoint", "https://prod/transfer"))
	require.NoError(t, store.Set("transfer.chunk_size", 1000))

	raw, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Contains(t, string(raw), "[targets.prod]")

	reloaded, err := NewConfigStore(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "https://prod/transfer", reloaded.GetString("targets.prod.endpoint"))
	assert.Equal(t, 1000, reloaded.GetInt("transfer.chunk_size"))
}

func TestConfigStore_SaveConflictingKeys(t *testing.T) {
	store, err := NewConfigStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Set("receiver", "value"))
	err = store.Set("receiver.addr", ":8080")

	assert.Error(t, err)
}

func TestConfigStore_FilePermissions(t *testing.T) {
	store, err := NewConfigStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Set("test", "value"))

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestConfigStore_EmptyFile(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte{}, 0600))

	store, err := NewConfigStore(tmpDir)
	require.NoError(t, err)

	_, ok := store.Get("any_key")
	assert.False(t, ok)
}

func TestNewConfigStore_LoadCorruptedFile(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte("invalid [[[ toml"), 0600))

	_, err := NewConfigStore(tmpDir)

	assert.Error(t, err)
}

func TestConfigStore_GetStringSlice(t *testing.T) {
	store, err := NewConfigStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Set("list", []any{"a", 1, "b"}))

	assert.Equal(t, []string{"a", "b"}, store.GetStringSlice("list"))
}

func TestConfigStore_Concurrency(t *testing.T) {
	store, err := NewConfigStore(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := "key" + string(rune('0'+id))
			_ = store.Set(key, id)
			_ = store.GetInt(key)
			_ = store.GetString(key)
			_ = store.Keys("")
			_, _ = store.Get(key)
		}(i)
	}
	wg.Wait()
}

func TestConfigStore_EnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(`
[receiver]
repository_id = "repo-b"
password = "from-file"
`), 0o600))

	store, err := NewConfigStore(dir, WithEnviron([]string{
		"FERRY_RECEIVER__PASSWORD=from-env",
		"FERRY_TRANSFER__POLL_INTERVAL_MS=250",
		"HOME=/root",
	}))
	require.NoError(t, err)

	assert.Equal(t, "repo-b", store.GetString("receiver.repository_id"))
	assert.Equal(t, "from-env", store.GetString("receiver.password"))
	assert.Equal(t, 250, store.GetInt("transfer.poll_interval_ms"))

	require.NoError(t, store.Set("receiver.addr", ":9090"))
	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "from-file")
	assert.NotContains(t, string(data), "from-env")
	assert.NotContains(t, string(data), "poll_interval_ms")
}

package memory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigStore_SetAndGet(t *testing.T) {
	store := NewConfigStore()

	require.NoError(t, store.Set("transfer.repository_id", "repo-a"))
	require.NoError(t, store.Set("transfer.repository_id", "repo-b"))

	val, ok := store.Get("transfer.repository_id")
	assert.True(t, ok)
	assert.Equal(t, "repo-b", val)
	assert.NoError(t, store.Save())
	assert.NoError(t, store.Load())
	assert.Equal(t, ":memory:", store.Path())
}

func TestConfigStore_TypedGetters(t *testing.T) {
	store := NewConfigStore()
	require.NoError(t, store.Set("int", 5))
	require.NoError(t, store.Set("int64", int64(6)))
	require.NoError(t, store.Set("float", 2.5))
	require.NoError(t, store.Set("bool", true))
	require.NoError(t, store.Set("list", []any{"a", 1, "b"}))

	assert.Equal(t, 5, store.GetInt("int"))
	assert.Equal(t, 6, store.GetInt("int64"))
	assert.Equal(t, 2, store.GetInt("float"))
	assert.InDelta(t, 2.5, store.GetFloat("float"), 0)
	assert.InDelta(t, 5.0, store.GetFloat("int"), 0)
	assert.True(t, store.GetBool("bool"))
	assert.Equal(t, []string{"a", "b"}, store.GetStringSlice("list"))

	assert.Empty(t, store.GetString("int"))
	assert.Zero(t, store.GetInt("bool"))
	assert.Zero(t, store.GetFloat("missing"))
	assert.False(t, store.GetBool("int"))
	assert.Nil(t, store.GetStringSlice("int"))
}

func TestConfigStore_Keys(t *testing.T) {
	store := NewConfigStore()
	require.NoError(t, store.Set("targets.prod.endpoint", "https://prod"))
	require.NoError(t, store.Set("targets.prod.username", "admin"))
	require.NoError(t, store.Set("targets.dev.endpoint", "http://dev"))
	require.NoError(t, store.Set("targetsx.other", "x"))

	assert.Equal(t, []string{"dev", "prod"}, store.Keys("targets"))
	assert.Equal(t, []string{"endpoint", "username"}, store.Keys("targets.prod."))
	assert.Empty(t, store.Keys("receiver"))
}

func TestConfigStore_Concurrency(t *testing.T) {
	store := NewConfigStore()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = store.Set(fmt.Sprintf("targets.t%d.endpoint", i), "http://x")
		}()
		go func() {
			defer wg.Done()
			_ = store.Keys("targets")
		}()
	}
	wg.Wait()

	assert.Len(t, store.Keys("targets"), 20)
}

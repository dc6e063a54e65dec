package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenNest(t *testing.T) {
	nested := map[string]any{
		"transfer": map[string]any{"chunk_size": int64(10)},
		"targets": map[string]any{
			"prod": map[string]any{"endpoint": "https://prod", "username": "admin"},
		},
		"top": true,
	}
	flat := Flatten(nested, "")

	want := map[string]any{
		"transfer.chunk_size":   int64(10),
		"targets.prod.endpoint": "https://prod",
		"targets.prod.username": "admin",
		"top":                   true,
	}
	if diff := cmp.Diff(want, flat); diff != "" {
		t.Errorf("Flatten mismatch (-want +got):\n%s", diff)
	}

	back, err := Nest(flat)
	require.NoError(t, err)
	if diff := cmp.Diff(nested, back); diff != "" {
		t.Errorf("Nest mismatch (-want +got):\n%s", diff)
	}
}

func TestNest_Conflicts(t *testing.T) {
	_, err := Nest(map[string]any{"a": 1, "a.b": 2})
	assert.Error(t, err)
}

func TestValues_Overlay(t *testing.T) {
	v := NewValues()
	v.Set("receiver.password", "stored")
	v.Overlay(map[string]any{"receiver.password": "env", "receiver.addr": ":9000"})

	assert.Equal(t, "env", v.GetString("receiver.password"))
	assert.Equal(t, []string{"addr", "password"}, v.Keys("receiver"))
	assert.Equal(t, map[string]any{"receiver.password": "stored"}, v.Stored())

	v.Set("receiver.password", "explicit")
	assert.Equal(t, "explicit", v.GetString("receiver.password"))

	v.Replace(nil)
	assert.Equal(t, ":9000", v.GetString("receiver.addr"))
	assert.Empty(t, v.Stored())
}

func TestValues_StringConversions(t *testing.T) {
	v := NewValues()
	v.Overlay(map[string]any{
		"n":   "42",
		"f":   "0.5",
		"b":   "true",
		"bad": "x",
	})

	assert.Equal(t, 42, v.GetInt("n"))
	assert.InDelta(t, 0.5, v.GetFloat("f"), 0)
	assert.True(t, v.GetBool("b"))
	assert.Zero(t, v.GetInt("bad"))
	assert.Zero(t, v.GetFloat("bad"))
	assert.False(t, v.GetBool("bad"))
}

func TestFromEnv(t *testing.T) {
	got := FromEnv([]string{
		"FERRY_TRANSFER__REPOSITORY_ID=repo-a",
		"FERRY_TARGETS__PROD__PASSWORD=a=b",
		"FERRY_=ignored",
		"PATH=/usr/bin",
		"malformed",
	})

	assert.Equal(t, map[string]any{
		"transfer.repository_id": "repo-a",
		"targets.prod.password":  "a=b",
	}, got)
}

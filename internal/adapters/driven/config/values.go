// Package config holds the flat key space shared by the config stores.
//
// Keys are dot separated ("targets.prod.endpoint"). A Values may carry an
// overlay of values that shadow the stored ones without being persisted,
// which is how environment overrides are applied.
package config

import (
	"fmt"
	"maps"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// EnvPrefix marks environment variables that override configuration.
// A double underscore separates key segments, so
// FERRY_RECEIVER__PASSWORD overrides receiver.password.
const EnvPrefix = "FERRY_"

// Values is a concurrency-safe flat configuration map.
type Values struct {
	mu      sync.RWMutex
	data    map[string]any
	overlay map[string]any
}

// NewValues creates an empty set of values.
func NewValues() *Values {
	return &Values{data: make(map[string]any), overlay: make(map[string]any)}
}

// Get returns the value for key, preferring the overlay.
func (v *Values) Get(key string) (any, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if val, ok := v.overlay[key]; ok {
		return val, true
	}
	val, ok := v.data[key]
	return val, ok
}

// GetString returns a string value, or "" when missing or not a string.
func (v *Values) GetString(key string) string {
	val, _ := v.Get(key)
	s, _ := val.(string)
	return s
}

// GetInt returns an integer value. TOML integers arrive as int64 and
// overrides as strings; both are converted.
func (v *Values) GetInt(key string) int {
	val, _ := v.Get(key)
	switch n := val.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}

// GetFloat returns a floating point value. Integers are converted.
func (v *Values) GetFloat(key string) float64 {
	val, _ := v.Get(key)
	switch n := val.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// GetBool returns a boolean value.
func (v *Values) GetBool(key string) bool {
	val, _ := v.Get(key)
	switch b := val.(type) {
	case bool:
		return b
	case string:
		parsed, _ := strconv.ParseBool(b)
		return parsed
	default:
		return false
	}
}

// GetStringSlice returns a string slice. TOML arrays arrive as []any;
// non-string items are skipped.
func (v *Values) GetStringSlice(key string) []string {
	val, _ := v.Get(key)
	switch s := val.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

// Keys returns the distinct segments directly below prefix, sorted.
func (v *Values) Keys(prefix string) []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if prefix != "" && !strings.HasSuffix(prefix, ".") {
		prefix += "."
	}
	seen := make(map[string]struct{})
	for _, m := range []map[string]any{v.data, v.overlay} {
		for k := range m {
			rest, ok := strings.CutPrefix(k, prefix)
			if !ok || rest == "" {
				continue
			}
			seg, _, _ := strings.Cut(rest, ".")
			seen[seg] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Set stores a value. A stored value replaces any overlay for the key.
func (v *Values) Set(key string, value any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.data[key] = value
	delete(v.overlay, key)
}

// Replace swaps the stored values for data. The overlay is kept.
func (v *Values) Replace(data map[string]any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if data == nil {
		data = make(map[string]any)
	}
	v.data = data
}

// Stored returns a copy of the stored values, without the overlay.
func (v *Values) Stored() map[string]any {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return maps.Clone(v.data)
}

// Overlay sets values that shadow stored ones and are never persisted.
func (v *Values) Overlay(overrides map[string]any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	maps.Copy(v.overlay, overrides)
}

// FromEnv collects FERRY_* variables from environ ("KEY=value" pairs,
// as returned by os.Environ) as configuration keys.
func FromEnv(environ []string) map[string]any {
	out := make(map[string]any)
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		rest, ok := strings.CutPrefix(name, EnvPrefix)
		if !ok || rest == "" {
			continue
		}
		key := strings.ToLower(strings.ReplaceAll(rest, "__", "."))
		out[key] = value
	}
	return out
}

// Environ is FromEnv over the process environment.
func Environ() map[string]any {
	return FromEnv(os.Environ())
}

// Flatten converts nested tables to dot keys: {"a": {"b": 1}} becomes
// {"a.b": 1}.
func Flatten(m map[string]any, prefix string) map[string]any {
	out := make(map[string]any)
	for key, value := range m {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			maps.Copy(out, Flatten(nested, full))
			continue
		}
		out[full] = value
	}
	return out
}

// Nest is the inverse of Flatten. It fails when a key is both a value
// and a table, e.g. "a" and "a.b".
func Nest(flat map[string]any) (map[string]any, error) {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	root := make(map[string]any)
	for _, key := range keys {
		parts := strings.Split(key, ".")
		cur := root
		for _, part := range parts[:len(parts)-1] {
			next, ok := cur[part]
			if !ok {
				table := make(map[string]any)
				cur[part] = table
				cur = table
				continue
			}
			table, ok := next.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("config key %q conflicts with value at %q", key, part)
			}
			cur = table
		}
		leaf := parts[len(parts)-1]
		if _, ok := cur[leaf].(map[string]any); ok {
			return nil, fmt.Errorf("config key %q conflicts with a table", key)
		}
		cur[leaf] = flat[key]
	}
	return root, nil
}

package driven

// ConfigStore is the flat, dot-keyed configuration ferry reads targets,
// transfer tuning and receiver settings from.
//
// Typed getters return the zero value for missing keys and for values
// that cannot be converted. Implementations may shadow stored values
// with overrides (FERRY_* environment variables) that Save never writes.
type ConfigStore interface {
	Get(key string) (any, bool)
	GetString(key string) string
	GetInt(key string) int
	GetFloat(key string) float64
	GetBool(key string) bool
	GetStringSlice(key string) []string

	// Keys returns the distinct segments directly below prefix, sorted:
	// Keys("targets") over targets.a.endpoint and targets.b.endpoint is
	// [a b].
	Keys(prefix string) []string

	// Set stores a value. File-backed stores persist it immediately.
	Set(key string, value any) error

	Save() error
	Load() error

	// Path identifies where the configuration lives.
	Path() string
}

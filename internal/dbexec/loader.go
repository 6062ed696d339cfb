package dbexec

import (
	"strings"
	"sync"
)

// ConnectionStringSource is the minimal key/value abstraction the loader
// merges into DbOptions.ConnectionStrings. In a hosted application this is typically backed by
// viper.GetStringMapString("connection_strings") or an equivalent
// environment-backed section; here it is an explicit interface so the
// loader never reaches into a global configuration singleton, following
// the same constructor-injected style used throughout internal/config.
type ConnectionStringSource interface {
	// ConnectionStrings returns the raw "connection_strings" section, keys
	// as written by the source (case folding is the loader's job).
	ConnectionStrings() map[string]string
	// DefaultConnectionString looks up a single named entry via whatever
	// dedicated "connection-string" lookup the source provides (e.g. a
	// dotnet-style ConnectionStrings:Name key, or a DATABASE_URL_<NAME> env
	// var). ok is false when the source has no opinion on name.
	DefaultConnectionString(name string) (value string, ok bool)
}

// MapConnectionStringSource is a ConnectionStringSource backed by a plain
// map, primarily for tests and simple deployments.
type MapConnectionStringSource map[string]string

func (m MapConnectionStringSource) ConnectionStrings() map[string]string { return map[string]string(m) }

func (m MapConnectionStringSource) DefaultConnectionString(name string) (string, bool) {
	for k, v := range m {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// ConfigurationLoader hydrates a DbOptions snapshot's ConnectionStrings map
// from an external ConnectionStringSource. It runs exactly
// once per configuration snapshot: repeated calls against the same
// (source, options-identity) pair are no-ops, matching the "idempotent"
// requirement and mirroring ReloadCoordinator's version-stamped swap rather
// than an unconditional re-merge.
type ConfigurationLoader struct {
	mu   sync.Mutex
	seen map[*DbOptions]struct{}
}

// NewConfigurationLoader creates a ConfigurationLoader.
func NewConfigurationLoader() *ConfigurationLoader {
	return &ConfigurationLoader{seen: make(map[*DbOptions]struct{})}
}

// PostConfigure merges source's connection_strings section into opts,
// resolves opts.DefaultConnectionName through source's dedicated lookup if
// present, and ignores blank values. Case-insensitive keys. Safe to call
// multiple times with the same *DbOptions pointer; later calls are no-ops.
func (l *ConfigurationLoader) PostConfigure(opts *DbOptions, source ConnectionStringSource) {
	if opts == nil || source == nil {
		return
	}

	l.mu.Lock()
	if _, done := l.seen[opts]; done {
		l.mu.Unlock()
		return
	}
	l.seen[opts] = struct{}{}
	l.mu.Unlock()

	if opts.ConnectionStrings == nil {
		opts.ConnectionStrings = make(map[string]string)
	}

	for name, value := range source.ConnectionStrings() {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		opts.ConnectionStrings[normalizeConnectionName(name)] = trimmed
	}

	if value, ok := source.DefaultConnectionString(opts.DefaultConnectionName); ok {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			opts.ConnectionStrings[normalizeConnectionName(opts.DefaultConnectionName)] = trimmed
		}
	}
}

// normalizeConnectionName canonicalizes a connection name for case-insensitive
// map storage.
func normalizeConnectionName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

package datasource

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ConfigProvider is the minimal slice of DbOptions the cache needs: looking
// up a connection string by logical name. Kept narrow so this package
// never imports the parent dbexec package (avoids an import cycle, since
// dbexec.DbOptions lives one level up).
type ConfigProvider interface {
	// ConnectionString returns the connection string registered for name
	// (already resolved against the default connection name by the
	// caller) and whether a non-blank value was found.
	ConnectionString(name string) (value string, ok bool)
}

// entry is one cached Source plus the single-flight signal for callers
// racing to create it.
type entry struct {
	source Source
	ready  chan struct{}
	err    error
}

// Cache implements a per-connection-name pool of
// underlying driver data sources, created lazily and on demand, evicted and
// disposed as a whole on every reconfiguration event. Grounded on
// PostgresPool's guarded one-time Connect (compare-and-set style creation)
// generalized from "the one pool" to "one pool per logical name", backed by
// an LRU map so a pathological number of distinct connection names cannot
// grow the cache without bound.
type Cache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *entry]
	factory Factory
	config  ConfigProvider
	logger  *slog.Logger
	purging bool // true while Invalidate purges; Invalidate then closes entries itself
}

// NewCache creates a Cache. maxNames bounds the number of distinct cached
// data sources (default-sized deployments rarely exceed a handful of
// logical connection names; the bound exists to guard against
// misconfiguration, not as a normal eviction path — reconfiguration is the
// only path that is expected to evict live entries).
func NewCache(factory Factory, config ConfigProvider, maxNames int, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxNames <= 0 {
		maxNames = 128
	}
	c := &Cache{factory: factory, config: config, logger: logger}
	l, err := lru.NewWithEvict(maxNames, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("datasource: failed to create cache: %w", err)
	}
	c.entries = l
	return c, nil
}

// onEvict disposes a Source when the LRU itself evicts it under size
// pressure (not the normal path, but must still behave correctly).
func (c *Cache) onEvict(name string, e *entry) {
	if e == nil || c.purging {
		return
	}
	select {
	case <-e.ready:
		if e.source != nil {
			if err := e.source.Close(); err != nil {
				c.logger.Warn("failed to close evicted data source", "connection_name", name, "error", err)
			}
		}
	default:
		// still being created; close it once creation finishes.
		go func() {
			<-e.ready
			if e.err == nil && e.source != nil {
				if err := e.source.Close(); err != nil {
					c.logger.Warn("failed to close evicted data source", "connection_name", name, "error", err)
				}
			}
		}()
	}
}

// Get returns the cached Source for name (or the default if blank, already
// resolved by the caller), creating it on first use. Concurrent first-time
// callers for the same name collapse into a single creation.
func (c *Cache) Get(ctx context.Context, name string) (Source, error) {
	connString, ok := c.config.ConnectionString(name)
	if !ok {
		return nil, fmt.Errorf("datasource: no connection string registered for %q", name)
	}

	c.mu.Lock()
	if e, found := c.entries.Get(name); found {
		c.mu.Unlock()
		<-e.ready
		return e.source, e.err
	}

	e := &entry{ready: make(chan struct{})}
	c.entries.Add(name, e)
	c.mu.Unlock()

	src, err := c.factory.NewSource(connString)
	e.source, e.err = src, err
	close(e.ready)

	if err != nil {
		c.mu.Lock()
		if cur, found := c.entries.Peek(name); found && cur == e {
			c.entries.Remove(name)
		}
		c.mu.Unlock()
		return nil, fmt.Errorf("datasource: failed to create source for %q: %w", name, err)
	}

	c.logger.Info("data source created", "connection_name", name)
	return src, nil
}

// Invalidate is the reconfiguration hook: every cached entry
// is evicted and disposed; subsequent callers recreate lazily. Disposal
// never blocks in-flight executions already holding a borrowed Connection —
// only Cache.Get's own cached Source reference is torn down.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	keys := c.entries.Keys()
	snapshot := make(map[string]*entry, len(keys))
	for _, k := range keys {
		if e, ok := c.entries.Peek(k); ok {
			snapshot[k] = e
		}
	}
	c.purging = true
	c.entries.Purge()
	c.purging = false
	c.mu.Unlock()

	for name, e := range snapshot {
		select {
		case <-e.ready:
			if e.err == nil && e.source != nil {
				if err := e.source.Close(); err != nil {
					c.logger.Warn("failed to close data source on reconfiguration", "connection_name", name, "error", err)
				} else {
					c.logger.Info("data source disposed on reconfiguration", "connection_name", name)
				}
			}
		default:
			// Creation still in flight: let it finish and leak out of the
			// map naturally; it is simply never reused again.
			go func(name string, e *entry) {
				<-e.ready
				if e.err == nil && e.source != nil {
					if err := e.source.Close(); err != nil {
						c.logger.Warn("failed to close in-flight data source after reconfiguration", "connection_name", name, "error", err)
					}
				}
			}(name, e)
		}
	}
}

// Dispose disposes every cached entry and empties the cache. Idempotent.
func (c *Cache) Dispose() {
	c.Invalidate()
}

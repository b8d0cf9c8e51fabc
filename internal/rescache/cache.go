// Package rescache holds the long-lived per-connection resources: pooled
// driver clients, their SSH tunnels, and cached table metadata.
//
// Entries are keyed by dao.ConnectionParams.Fingerprint. Opening a client
// happens outside any cache lock; concurrent misses for the same fingerprint
// are collapsed into one open.
package rescache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/logger"
	"github.com/rowpane/rowpane/internal/tunnel"
)

const (
	DefaultMaxConnections  = 100
	DefaultMetadataEntries = 1000
	DefaultMetadataTTL     = 5 * time.Minute
)

// Metadata kinds cached per table.
const (
	KindStructure   = "structure"
	KindPrimaryKeys = "primary_keys"
	KindForeignKeys = "foreign_keys"
	KindReferencing = "referencing"
	// KindDescribe holds a raw engine table description.
	KindDescribe = "describe"
)

// Options configures a Cache.
type Options struct {
	MaxConnections  int
	MetadataEntries int
	MetadataTTL     time.Duration
	Logger          *slog.Logger
	// OnDisconnect runs after an entry is dropped because its tunnel or
	// client failed. It is not called for LRU evictions or Close.
	OnDisconnect func(name string, err error)
}

// Opener opens a driver client for params. For tunneled connections params
// already points at the local end of the tunnel.
type Opener[T io.Closer] func(ctx context.Context, params dao.ConnectionParams) (T, error)

type entry struct {
	name   string
	client io.Closer
	tunnel *tunnel.Tunnel
	failed atomic.Bool
}

func (e *entry) close() {
	if e.client != nil {
		_ = e.client.Close()
	}
	if e.tunnel != nil {
		_ = e.tunnel.Close()
	}
}

// Cache is safe for concurrent use.
type Cache struct {
	// mu serializes inserts against error-driven removal so a failed entry
	// is never reinstated. It is never held while opening a client.
	mu      sync.Mutex
	clients *lru.Cache[string, *entry]
	meta    *expirable.LRU[string, any]
	opens   singleflight.Group
	loads   singleflight.Group
	closing sync.WaitGroup

	log          *slog.Logger
	onDisconnect func(string, error)
}

// New creates a cache. Zero options fall back to defaults.
func New(opts Options) *Cache {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = DefaultMaxConnections
	}
	if opts.MetadataEntries <= 0 {
		opts.MetadataEntries = DefaultMetadataEntries
	}
	if opts.MetadataTTL <= 0 {
		opts.MetadataTTL = DefaultMetadataTTL
	}
	c := &Cache{
		log:          logger.OrDiscard(opts.Logger),
		onDisconnect: opts.OnDisconnect,
	}
	// Evicted resources close in the background so a hung driver close
	// never blocks cache callers. The size is positive; NewWithEvict cannot fail.
	c.clients, _ = lru.NewWithEvict(opts.MaxConnections, func(_ string, e *entry) {
		c.closing.Add(1)
		go func() {
			defer c.closing.Done()
			e.close()
		}()
	})
	c.meta = expirable.NewLRU[string, any](opts.MetadataEntries, nil, opts.MetadataTTL)
	return c
}

// Client returns the cached client for params or opens one. When params
// asks for SSH, a tunnel is established first and the opener receives
// params rewritten to 127.0.0.1:<local port>.
func Client[T io.Closer](ctx context.Context, c *Cache, params dao.ConnectionParams, open Opener[T]) (T, error) {
	var zero T
	key := params.Fingerprint()

	if e, ok := c.clients.Get(key); ok && !e.failed.Load() {
		return asClient[T](e)
	}

	v, err, _ := c.opens.Do(key, func() (any, error) {
		if e, ok := c.clients.Get(key); ok && !e.failed.Load() {
			return e, nil
		}
		return c.open(ctx, key, params, func(ctx context.Context, p dao.ConnectionParams) (io.Closer, error) {
			return open(ctx, p)
		})
	})
	if err != nil {
		return zero, err
	}
	return asClient[T](v.(*entry))
}

func asClient[T io.Closer](e *entry) (T, error) {
	t, ok := e.client.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("rescache: cached client for %q is %T", e.name, e.client)
	}
	return t, nil
}

func (c *Cache) open(ctx context.Context, key string, params dao.ConnectionParams, open Opener[io.Closer]) (*entry, error) {
	e := &entry{name: params.Name}
	target := params

	if params.SSH.Enabled {
		tun, err := tunnel.Open(ctx, params.SSH, params.Host, params.Port, func(err error) {
			c.drop(key, e, err)
		}, c.log.With("connection", params.Name))
		if err != nil {
			return nil, err
		}
		e.tunnel = tun
		target = params.WithEndpoint(tun.LocalHost(), tun.LocalPort())
	}

	start := time.Now()
	client, err := open(ctx, target)
	if err != nil {
		if e.tunnel != nil {
			_ = e.tunnel.Close()
		}
		return nil, dao.Connectivity("connect to "+params.String(), err)
	}
	e.client = client

	c.mu.Lock()
	defer c.mu.Unlock()
	if e.failed.Load() {
		// The tunnel died while the driver was connecting.
		e.close()
		return nil, dao.Connectivity("connect to "+params.String(), tunnel.ErrClosed)
	}
	c.clients.Add(key, e)
	c.log.Debug("Connection opened", "connection", params.Name, "engine", params.Type,
		"tunneled", e.tunnel != nil, "duration", time.Since(start))
	return e, nil
}

// drop removes e if it is still the entry cached under key.
func (c *Cache) drop(key string, e *entry, cause error) {
	e.failed.Store(true)

	c.mu.Lock()
	cur, ok := c.clients.Peek(key)
	removed := ok && cur == e
	if removed {
		c.clients.Remove(key)
	}
	c.mu.Unlock()

	if !removed {
		return
	}
	c.purgeMetadata(key)
	c.log.Warn("Connection evicted", "connection", e.name, "error", cause)
	if c.onDisconnect != nil {
		c.onDisconnect(e.name, cause)
	}
}

// Fail reports an operation error. Connectivity errors evict the client so
// the next call reconnects; other errors are ignored. err is returned.
func (c *Cache) Fail(params dao.ConnectionParams, err error) error {
	if !dao.IsKind(err, dao.KindConnectivity) {
		return err
	}
	key := params.Fingerprint()
	if e, ok := c.clients.Peek(key); ok {
		c.drop(key, e, err)
	}
	return err
}

// Metadata returns the cached value of kind for table or loads it. Load
// errors are not cached.
func Metadata[T any](ctx context.Context, c *Cache, params dao.ConnectionParams, table, kind string, load func(ctx context.Context) (T, error)) (T, error) {
	key := metaKey(params.Fingerprint(), table, kind)
	if v, ok := c.meta.Get(key); ok {
		if t, ok := v.(T); ok {
			return t, nil
		}
	}
	v, err, _ := c.loads.Do(key, func() (any, error) {
		t, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.meta.Add(key, t)
		return t, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func metaKey(fingerprint, table, kind string) string {
	return fingerprint + "\x00" + table + "\x00" + kind
}

// InvalidateTable drops cached metadata of one table.
func (c *Cache) InvalidateTable(params dao.ConnectionParams, table string) {
	fp := params.Fingerprint()
	for _, kind := range []string{KindStructure, KindPrimaryKeys, KindForeignKeys, KindReferencing, KindDescribe} {
		c.meta.Remove(metaKey(fp, table, kind))
	}
}

// Invalidate closes the client of params and drops all of its metadata.
// Callers use it when a connection's settings are edited or removed.
func (c *Cache) Invalidate(params dao.ConnectionParams) {
	key := params.Fingerprint()
	c.mu.Lock()
	c.clients.Remove(key)
	c.mu.Unlock()
	c.purgeMetadata(key)
}

func (c *Cache) purgeMetadata(fingerprint string) {
	prefix := fingerprint + "\x00"
	for _, k := range c.meta.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.meta.Remove(k)
		}
	}
}

// Stats reports the number of cached clients and metadata entries.
func (c *Cache) Stats() (clients, metadata int) {
	return c.clients.Len(), c.meta.Len()
}

// Close releases every client and tunnel and waits for them to close.
func (c *Cache) Close() {
	c.mu.Lock()
	c.clients.Purge()
	c.mu.Unlock()
	c.meta.Purge()
	c.closing.Wait()
}

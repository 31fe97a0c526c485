// Package broker provides cached, TTL-bounded pools of long-lived clients
// for external services — SQL connection pools, search clients, HTTP
// clients with bespoke TLS (§4.5). A Broker lazily constructs a client for
// a given key on first request, hands out the cached client to every
// subsequent caller with the same key, and reaps entries that have been
// idle past a configured TTL via a background ticker loop.
package broker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/smilemakc/mbflow/pkg/models"
)

// Factory constructs a new client of type T from connection params. It is
// called at most once per key while the key's entry is live; concurrent
// requests for the same cold key block on the same construction.
type Factory[T any] func(ctx context.Context, params any) (T, error)

// Closer is implemented by brokered clients that own an OS resource
// (a connection pool, a socket) and must release it on eviction/shutdown.
type Closer interface {
	Close() error
}

type entry[T any] struct {
	client     T
	lastAccess time.Time
	createdAt  time.Time
}

// Stats exposes broker-internal counters for test hooks (§8 scenario F:
// "verified via a test hook exposing broker creation counts").
type Stats struct {
	Creations int64
	Evictions int64
}

// Broker is a generic, content-hash-keyed cache of lazily-constructed
// clients with a reaper goroutine. One Broker instance is shared across
// every execution in the process (§5 "Shared-resource policy").
type Broker[T any] struct {
	factory      Factory[T]
	idleTTL      time.Duration
	reapInterval time.Duration

	mu      sync.Mutex
	entries map[string]*entry[T]
	stats   Stats

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Broker at construction time.
type Option func(*brokerOptions)

type brokerOptions struct {
	idleTTL      time.Duration
	reapInterval time.Duration
}

// WithIdleTTL overrides the default 5-minute idle eviction window (§4.5).
func WithIdleTTL(d time.Duration) Option {
	return func(o *brokerOptions) { o.idleTTL = d }
}

// WithReapInterval overrides how often the reaper loop scans for idle entries.
func WithReapInterval(d time.Duration) Option {
	return func(o *brokerOptions) { o.reapInterval = d }
}

// DefaultIdleTTL is the spec's documented 5-minute idle-eviction default.
const DefaultIdleTTL = 5 * time.Minute

// New creates a Broker and starts its background reaper.
func New[T any](factory Factory[T], opts ...Option) *Broker[T] {
	cfg := &brokerOptions{idleTTL: DefaultIdleTTL, reapInterval: 30 * time.Second}
	for _, opt := range opts {
		opt(cfg)
	}

	b := &Broker[T]{
		factory:      factory,
		idleTTL:      cfg.idleTTL,
		reapInterval: cfg.reapInterval,
		entries:      make(map[string]*entry[T]),
		stopCh:       make(chan struct{}),
	}

	b.wg.Add(1)
	go b.reapLoop()

	return b
}

// Key content-hashes arbitrary connection parameters into a broker key
// (§4.5 "keyed by a content hash of its connection parameters").
func Key(params any) string {
	data, err := json.Marshal(params)
	if err != nil {
		data = []byte(err.Error())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Acquire returns the cached client for key, constructing one via factory
// on first use. acquireTimeout bounds how long Acquire waits to take the
// broker's internal lock and run a cold factory call; exceeding it yields
// ErrorKindResourceExhausted per §4.5/§7.
func (b *Broker[T]) Acquire(ctx context.Context, key string, params any, acquireTimeout time.Duration) (T, error) {
	var zero T

	done := make(chan struct{})
	var client T
	var err error

	go func() {
		defer close(done)
		client, err = b.acquireLocked(ctx, key, params)
	}()

	timer := time.NewTimer(acquireTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return client, err
	case <-timer.C:
		return zero, models.NewEngineError(models.ErrorKindResourceExhausted,
			errAcquireTimeout(key))
	case <-ctx.Done():
		return zero, models.NewEngineError(models.ErrorKindCancelled, ctx.Err())
	}
}

func (b *Broker[T]) acquireLocked(ctx context.Context, key string, params any) (T, error) {
	b.mu.Lock()
	if e, ok := b.entries[key]; ok {
		e.lastAccess = time.Now()
		client := e.client
		b.mu.Unlock()
		return client, nil
	}
	b.mu.Unlock()

	client, err := b.factory(ctx, params)
	if err != nil {
		var zero T
		return zero, err
	}

	now := time.Now()
	b.mu.Lock()
	if e, ok := b.entries[key]; ok {
		// Lost the race to a concurrent cold caller; keep the winner's
		// client and close the one just built if it owns a resource.
		e.lastAccess = now
		existing := e.client
		b.mu.Unlock()
		if closer, ok := any(client).(Closer); ok {
			_ = closer.Close()
		}
		return existing, nil
	}
	b.entries[key] = &entry[T]{client: client, lastAccess: now, createdAt: now}
	b.stats.Creations++
	b.mu.Unlock()

	return client, nil
}

// Stats returns a snapshot of creation/eviction counters for test hooks.
func (b *Broker[T]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Len returns the number of live cached entries.
func (b *Broker[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func (b *Broker[T]) reapLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.reapOnce()
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker[T]) reapOnce() {
	now := time.Now()
	var toClose []T

	b.mu.Lock()
	for key, e := range b.entries {
		if now.Sub(e.lastAccess) > b.idleTTL {
			toClose = append(toClose, e.client)
			delete(b.entries, key)
			b.stats.Evictions++
		}
	}
	b.mu.Unlock()

	for _, client := range toClose {
		if closer, ok := any(client).(Closer); ok {
			_ = closer.Close()
		}
	}
}

// Shutdown stops the reaper and closes every cached client (§4.5
// "Brokers own shutdown: on engine shutdown all pools are closed").
func (b *Broker[T]) Shutdown(ctx context.Context) error {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	b.wg.Wait()

	b.mu.Lock()
	entries := b.entries
	b.entries = make(map[string]*entry[T])
	b.mu.Unlock()

	for _, e := range entries {
		if closer, ok := any(e.client).(Closer); ok {
			_ = closer.Close()
		}
	}
	return nil
}

type acquireTimeoutError struct {
	key string
}

func (e *acquireTimeoutError) Error() string {
	return "broker: acquire timeout for key " + e.key
}

func errAcquireTimeout(key string) error {
	return &acquireTimeoutError{key: key}
}

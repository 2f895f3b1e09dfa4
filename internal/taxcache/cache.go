// Package taxcache memoizes composite tax rates per location and calendar day
// for the lifetime of one import run.
package taxcache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/noah-isme/drone-tax/internal/geo"
	"github.com/noah-isme/drone-tax/internal/obs"
	"github.com/noah-isme/drone-tax/internal/tax"
)

const shardCount = 32

// Key identifies a resolution: rates depend on the day, not the time of day.
type Key struct {
	Lat  float64
	Lon  float64
	Date string
}

// KeyFor builds the key for an order at point p placed at ts. The calendar
// day is read in loc; a nil loc means UTC.
func KeyFor(p geo.Point, ts time.Time, loc *time.Location) Key {
	if loc == nil {
		loc = time.UTC
	}
	return Key{Lat: p.Lat, Lon: p.Lon, Date: ts.In(loc).Format(time.DateOnly)}
}

// Point returns the key's coordinate.
func (k Key) Point() geo.Point {
	return geo.Point{Lat: k.Lat, Lon: k.Lon}
}

// Day returns the key's calendar date as midnight UTC.
func (k Key) Day() (time.Time, error) {
	return time.Parse(time.DateOnly, k.Date)
}

func (k Key) hash() uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], math.Float64bits(k.Lat))
	binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(k.Lon))
	d := xxhash.New()
	_, _ = d.Write(buf[:])
	_, _ = d.WriteString(k.Date)
	return d.Sum64()
}

// Entry is an immutable cached composite with its serialized forms.
type Entry struct {
	Composite         tax.Composite
	BreakdownJSON     []byte
	JurisdictionsJSON []byte
}

// NewEntry precomputes the serialized forms of c.
func NewEntry(c tax.Composite) (*Entry, error) {
	breakdown, err := c.BreakdownJSON()
	if err != nil {
		return nil, fmt.Errorf("encode breakdown: %w", err)
	}
	applied, err := c.JurisdictionsJSON()
	if err != nil {
		return nil, fmt.Errorf("encode jurisdictions: %w", err)
	}
	return &Entry{Composite: c, BreakdownJSON: breakdown, JurisdictionsJSON: applied}, nil
}

type shard struct {
	mu      sync.RWMutex
	entries map[Key]*Entry
}

// Cache is an unbounded, concurrency safe map from Key to *Entry. Entries are
// never replaced: the first writer for a key wins.
type Cache struct {
	shards [shardCount]shard
	hits   atomic.Int64
	misses atomic.Int64
}

// New returns an empty cache.
func New() *Cache {
	c := &Cache{}
	for i := range c.shards {
		c.shards[i].entries = make(map[Key]*Entry)
	}
	return c
}

func (c *Cache) shardFor(k Key) *shard {
	return &c.shards[k.hash()%shardCount]
}

// Get returns the entry for k.
func (c *Cache) Get(k Key) (*Entry, bool) {
	s := c.shardFor(k)
	s.mu.RLock()
	e, ok := s.entries[k]
	s.mu.RUnlock()
	return e, ok
}

// Put stores e under k unless an entry already exists, and returns whichever
// entry is cached afterwards.
func (c *Cache) Put(k Key, e *Entry) *Entry {
	s := c.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[k]; ok {
		return existing
	}
	s.entries[k] = e
	return e
}

// Len returns the number of cached keys.
func (c *Cache) Len() int {
	total := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		total += len(s.entries)
		s.mu.RUnlock()
	}
	return total
}

// Stats returns lookup counters accumulated by Diff.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Diff splits keys into those already cached and those that are not. Both
// results are de-duplicated and keep first-seen order.
func (c *Cache) Diff(keys []Key) (present, missing []Key) {
	seen := make(map[Key]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if _, ok := c.Get(k); ok {
			present = append(present, k)
		} else {
			missing = append(missing, k)
		}
	}
	c.hits.Add(int64(len(present)))
	c.misses.Add(int64(len(missing)))
	obs.ObserveCacheLookups(len(present), len(missing))
	return present, missing
}

// ErrResolveCount is returned when a ResolveFunc returns the wrong number of composites.
var ErrResolveCount = errors.New("taxcache: resolver returned wrong number of results")

// ResolveFunc computes composites for keys, one per key in order.
type ResolveFunc func(ctx context.Context, keys []Key) ([]tax.Composite, error)

// Lookup returns one entry per key, in key order. Only keys missing from the
// cache are passed to resolve, in a single call.
func (c *Cache) Lookup(ctx context.Context, keys []Key, resolve ResolveFunc) ([]*Entry, error) {
	_, missing := c.Diff(keys)
	if len(missing) > 0 {
		composites, err := resolve(ctx, missing)
		if err != nil {
			return nil, err
		}
		if len(composites) != len(missing) {
			return nil, fmt.Errorf("%w: want %d, got %d", ErrResolveCount, len(missing), len(composites))
		}
		for i, k := range missing {
			e, err := NewEntry(composites[i])
			if err != nil {
				return nil, err
			}
			c.Put(k, e)
		}
	}
	out := make([]*Entry, len(keys))
	for i, k := range keys {
		e, ok := c.Get(k)
		if !ok {
			return nil, fmt.Errorf("taxcache: key %v missing after resolve", k)
		}
		out[i] = e
	}
	return out, nil
}

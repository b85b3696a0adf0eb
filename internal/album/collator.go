// Package album reassembles media-group bursts into single posts.
//
// Album fragments arrive as independent messages carrying a shared
// correlation id, with no end-of-album marker from the platform. The
// collator buffers fragments per correlation id and relies on a timing
// protocol: every ingest suspends briefly (the quiescence probe) so sibling
// fragments of the same burst get appended first, and finalization happens
// only when the owner's next non-fragment message triggers a sweep of
// entries that have been quiet long enough.
package album

import (
	"context"
	"sync"
	"time"

	"postbot/internal/queue"
)

// Fragment is one raw upload belonging to a burst.
type Fragment struct {
	GroupKey string
	Owner    int64
	Item     queue.MediaRef
	Caption  string
}

// Album is a finalized burst: items in arrival order, caption from the
// first fragment that carried one.
type Album struct {
	Owner   int64
	Items   []queue.MediaRef
	Caption string
}

type entry struct {
	owner     int64
	items     []queue.MediaRef
	caption   string
	createdAt time.Time
}

// Config tunes the timing protocol. Zero values get defaults matching the
// observed burst behavior of Telegram media groups.
type Config struct {
	// ProbeDelay is how long Ingest suspends after appending a fragment.
	ProbeDelay time.Duration
	// Quiescence is the minimum age before a sweep may finalize an entry.
	Quiescence time.Duration
}

func (c Config) withDefaults() Config {
	if c.ProbeDelay <= 0 {
		c.ProbeDelay = time.Second
	}
	if c.Quiescence <= 0 {
		c.Quiescence = 2 * time.Second
	}
	return c
}

// Collator owns the correlation-id -> pending-entry map. The clock is
// injected so the timing protocol is unit-testable without real delays.
type Collator struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

type Option func(*Collator)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Collator) { c.now = now }
}

func New(cfg Config, opts ...Option) *Collator {
	c := &Collator{
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		entries: map[string]*entry{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Ingest appends a fragment to its burst, creating the entry on first
// sight, then suspends for the probe delay. The suspension only parks the
// calling goroutine; unrelated submissions proceed. Fragment order within a
// burst is preserved (arrival order), and the first non-empty caption wins.
func (c *Collator) Ingest(ctx context.Context, f Fragment) {
	c.mu.Lock()
	e, ok := c.entries[f.GroupKey]
	if !ok {
		e = &entry{owner: f.Owner, caption: f.Caption, createdAt: c.now()}
		c.entries[f.GroupKey] = e
	} else if e.caption == "" && f.Caption != "" {
		e.caption = f.Caption
	}
	e.items = append(e.items, f.Item)
	c.mu.Unlock()

	// Quiescence probe: give near-simultaneous siblings a chance to land
	// before any finalization check can run.
	t := time.NewTimer(c.cfg.ProbeDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// SweepOwner finalizes and removes every non-empty entry of the given owner
// whose age exceeds the quiescence threshold. Entries belonging to other
// owners are deliberately left alone: a terminating message only vouches
// for the sender's own uploads.
func (c *Collator) SweepOwner(owner int64) []Album {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Album
	for key, e := range c.entries {
		if e.owner != owner || len(e.items) == 0 {
			continue
		}
		if now.Sub(e.createdAt) <= c.cfg.Quiescence {
			continue
		}
		out = append(out, Album{Owner: e.owner, Items: e.items, Caption: e.caption})
		delete(c.entries, key)
	}
	return out
}

// PruneStale discards entries older than maxAge, regardless of owner, and
// returns how many were dropped. Pruned fragments are never published; this
// only bounds the memory held by abandoned bursts.
func (c *Collator) PruneStale(maxAge time.Duration) int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, e := range c.entries {
		if now.Sub(e.createdAt) > maxAge {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// Len reports how many bursts are currently pending.
func (c *Collator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "postbot/pkg/logx"
)

// Config configures the queue store.
//
// Driver values:
//   - "file": dependency-free JSON file backend (default when empty)
//   - "sqlite": SQLite database file (requires the sqlite build tag)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the durable ordered collection of scheduled posts.
//
// List always reflects the current durable state (no caching), so the
// publish loop picks up operator edits between cycles. Mutate serializes
// every read-modify-write: callers that need an up-to-date view before
// appending or deleting (the allocator above all) must do their computation
// inside fn. That single-writer discipline is what keeps slot allocation
// unique without any further coordination.
type Store interface {
	List(ctx context.Context) ([]Post, error)
	Mutate(ctx context.Context, fn func(posts []Post) ([]Post, error)) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown queue driver: " + cfg.Driver)
	}
}

// Package audit records operator actions as append-only JSON Lines.
package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "postbot/pkg/logx"
)

// Entry records one operator action. Keep it compact and schema-stable.
type Entry struct {
	At      time.Time `json:"at"`
	ActorID int64     `json:"actor_id"`
	Action  string    `json:"action"`
	Target  string    `json:"target,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

// Log appends entries to a JSONL file. A nil *Log is a valid disabled log.
type Log struct {
	log logx.Logger

	mu sync.Mutex
	f  *os.File
}

// Open creates the audit log. An empty path disables auditing (nil, nil).
func Open(path string, log logx.Logger) (*Log, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &Log{log: log, f: f}, nil
}

// Append writes one entry. Best-effort: failures are logged, never fatal.
func (l *Log) Append(ctx context.Context, e Entry) {
	_ = ctx
	if l == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return
	}
	if err := json.NewEncoder(l.f).Encode(e); err != nil {
		l.log.Warn("audit append failed", logx.Err(err))
	}
}

func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

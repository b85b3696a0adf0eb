package queue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "postbot/pkg/logx"
)

// fileStore keeps the whole queue as one JSON array, read and written
// wholesale. Writes go through a temp file + rename so a crash mid-write
// never corrupts the queue.
type fileStore struct {
	log  logx.Logger
	path string

	// mu serializes every read-modify-write (single-writer discipline).
	mu sync.Mutex
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("queue path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) List(ctx context.Context) ([]Post, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *fileStore) Mutate(ctx context.Context, fn func(posts []Post) ([]Post, error)) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	posts, err := s.readLocked()
	if err != nil {
		return err
	}
	next, err := fn(posts)
	if err != nil {
		return err
	}
	return s.writeLocked(next)
}

func (s *fileStore) readLocked() ([]Post, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var posts []Post
	if err := json.Unmarshal(b, &posts); err != nil {
		// A torn or hand-edited file must not wedge the bot forever.
		s.log.Warn("queue file unreadable; treating as empty",
			logx.String("path", s.path), logx.Err(err))
		return nil, nil
	}
	return posts, nil
}

func (s *fileStore) writeLocked(posts []Post) error {
	if posts == nil {
		posts = []Post{}
	}
	b, err := json.MarshalIndent(posts, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

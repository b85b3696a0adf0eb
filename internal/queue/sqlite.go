//go:build sqlite
// +build sqlite

package queue

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"postbot/internal/schedule"
	logx "postbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps queue rows position-ordered and replaces them wholesale
// inside one transaction per Mutate, preserving the same coarse-grained
// read-modify-write semantics as the file driver.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	mu sync.Mutex
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) List(ctx context.Context) ([]Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(ctx, s.db)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *sqliteStore) listLocked(ctx context.Context, q querier) ([]Post, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, at, kind, body, caption, media FROM posts ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		var (
			p             Post
			at            string
			body, caption sql.NullString
			media         sql.NullString
		)
		if err := rows.Scan(&p.ID, &at, &p.Kind, &body, &caption, &media); err != nil {
			return nil, err
		}
		ts, err := time.ParseInLocation(schedule.SlotLayout, at, time.Local)
		if err != nil {
			s.log.Warn("queue row has invalid time; skipping",
				logx.String("id", p.ID), logx.String("at", at))
			continue
		}
		p.Time = SlotTime(ts)
		p.Text = body.String
		p.Caption = caption.String
		if media.Valid && media.String != "" {
			if err := json.Unmarshal([]byte(media.String), &p.Media); err != nil {
				s.log.Warn("queue row has invalid media; skipping",
					logx.String("id", p.ID), logx.Err(err))
				continue
			}
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (s *sqliteStore) Mutate(ctx context.Context, fn func(posts []Post) ([]Post, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	posts, err := s.listLocked(ctx, tx)
	if err != nil {
		return err
	}
	next, err := fn(posts)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM posts`); err != nil {
		return err
	}
	for i, p := range next {
		var media any
		if len(p.Media) > 0 {
			b, err := json.Marshal(p.Media)
			if err != nil {
				return err
			}
			media = string(b)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO posts(id, position, at, kind, body, caption, media) VALUES(?,?,?,?,?,?,?)`,
			p.ID, i, p.At().Format(schedule.SlotLayout), string(p.Kind),
			nullStr(p.Text), nullStr(p.Caption), media,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// Package settings holds the operator-mutable channel settings: the
// destination channel, the daily publish-time template and the standard
// footer appended to every post.
package settings

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"postbot/internal/schedule"
	logx "postbot/pkg/logx"
)

// Settings is the durable record. PublishTimes is kept in raw HH:MM form on
// the wire (the same shape the original config file used); Template() gives
// the normalized view.
type Settings struct {
	ChannelID    string   `json:"channel_id"`
	PublishTimes []string `json:"publish_times"`
	StandardText string   `json:"standard_text"`
}

// Defaults returns the record written on first run.
func Defaults() Settings {
	return Settings{
		ChannelID:    strings.TrimSpace(os.Getenv("CHANNEL_ID")),
		PublishTimes: []string{"09:00", "13:00", "17:00", "21:00"},
		StandardText: "<b>Subscribe</b> to the channel",
	}
}

// Template parses the publish-time list. Settings are validated before every
// persist, so this only fails on a hand-edited file.
func (s Settings) Template() (schedule.Template, error) {
	return schedule.ParseTemplate(s.PublishTimes)
}

func (s Settings) clone() Settings {
	cp := s
	cp.PublishTimes = append([]string(nil), s.PublishTimes...)
	return cp
}

func (s Settings) validate() error {
	if _, err := s.Template(); err != nil {
		return err
	}
	return nil
}

// Store persists Settings to a JSON file, immediately on every change.
// All access is serialized; Get returns a copy.
type Store struct {
	log  logx.Logger
	path string

	mu  sync.Mutex
	cur Settings
}

// Open loads the settings file, creating it with defaults when absent.
func Open(path string, log logx.Logger) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("settings path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	st := &Store{log: log, path: path}

	b, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		st.cur = Defaults()
		if err := st.writeLocked(); err != nil {
			return nil, err
		}
		log.Info("settings created with defaults", logx.String("path", path))
	case err != nil:
		return nil, err
	default:
		var s Settings
		if err := json.Unmarshal(b, &s); err != nil {
			return nil, err
		}
		if err := s.validate(); err != nil {
			return nil, err
		}
		st.cur = s
	}
	return st, nil
}

// Get returns a copy of the current settings.
func (st *Store) Get() Settings {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cur.clone()
}

// Update applies fn to a copy of the current settings, validates the result
// and persists it immediately. On any error the prior settings stay in
// effect (submission-time validation errors surface to the operator).
func (st *Store) Update(fn func(*Settings) error) (Settings, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	next := st.cur.clone()
	if err := fn(&next); err != nil {
		return st.cur.clone(), err
	}
	if err := next.validate(); err != nil {
		return st.cur.clone(), err
	}

	prev := st.cur
	st.cur = next
	if err := st.writeLocked(); err != nil {
		st.cur = prev
		return st.cur.clone(), err
	}
	return next.clone(), nil
}

func (st *Store) writeLocked() error {
	b, err := json.MarshalIndent(st.cur, "", "  ")
	if err != nil {
		return err
	}
	tmp := st.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, st.path)
}

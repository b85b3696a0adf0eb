package config

import (
	"errors"
	"fmt"
	"time"

	logx "postbot/pkg/logx"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   logx.Config     `json:"logging,omitempty"`
	Storage   StorageConfig   `json:"storage,omitempty"`
	Publisher PublisherConfig `json:"publisher,omitempty"`
	Albums    AlbumConfig     `json:"albums,omitempty"`
}

type TelegramConfig struct {
	// Token may be omitted; BOT_TOKEN from the environment is used instead.
	Token string `json:"token,omitempty"`

	// Admins are the only user ids allowed to talk to the bot.
	Admins []int64 `json:"admins"`

	// PollTimeout is a Go duration string for the long-poll timeout.
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// StorageConfig selects the queue driver and the data file locations.
//
// Driver values:
//   - "file": dependency-free JSON file backend (default)
//   - "sqlite": SQLite database file (requires the sqlite build tag)
type StorageConfig struct {
	Driver       string `json:"driver,omitempty"`
	QueuePath    string `json:"queue_path,omitempty"`
	SettingsPath string `json:"settings_path,omitempty"`
	AuditPath    string `json:"audit_path,omitempty"`

	// BusyTimeout is sqlite-only; empty means the driver default.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// PublisherConfig tunes the publish loop.
//
// All durations are Go duration strings. Defaults (when omitted/zero):
//   - poll_interval: 30s
//   - due_window:    60s
//   - idle_backoff:  60s (no channel configured)
//   - error_backoff: 60s (cycle-level failure)
//   - rate_per_min:  20  (Telegram flood ceiling per chat)
type PublisherConfig struct {
	PollInterval string `json:"poll_interval,omitempty"`
	DueWindow    string `json:"due_window,omitempty"`
	IdleBackoff  string `json:"idle_backoff,omitempty"`
	ErrorBackoff string `json:"error_backoff,omitempty"`
	RatePerMin   int    `json:"rate_per_min,omitempty"`
}

// AlbumConfig tunes the album collator.
//
// Defaults: probe_delay 1s, quiescence 2s, prune_after 1h.
type AlbumConfig struct {
	ProbeDelay string `json:"probe_delay,omitempty"`
	Quiescence string `json:"quiescence,omitempty"`
	PruneAfter string `json:"prune_after,omitempty"`
}

// Validate checks invariants that must hold before a config is committed.
// The telegram token is checked at app start instead (it may come from env).
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if len(c.Telegram.Admins) == 0 {
		return errors.New("telegram.admins must list at least one operator id")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	for path, raw := range map[string]string{
		"publisher.poll_interval": c.Publisher.PollInterval,
		"publisher.due_window":    c.Publisher.DueWindow,
		"publisher.idle_backoff":  c.Publisher.IdleBackoff,
		"publisher.error_backoff": c.Publisher.ErrorBackoff,
		"albums.probe_delay":      c.Albums.ProbeDelay,
		"albums.quiescence":       c.Albums.Quiescence,
		"albums.prune_after":      c.Albums.PruneAfter,
		"storage.busy_timeout":    c.Storage.BusyTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	if c.Publisher.RatePerMin < 0 {
		return fmt.Errorf("publisher.rate_per_min must be >= 0")
	}
	return nil
}

// PublisherTimings resolves the publisher duration knobs with defaults.
func (c *Config) PublisherTimings() (poll, due, idle, backoff time.Duration, err error) {
	poll, err = ParseDurationOrDefault("publisher.poll_interval", c.Publisher.PollInterval, 30*time.Second)
	if err != nil {
		return
	}
	due, err = ParseDurationOrDefault("publisher.due_window", c.Publisher.DueWindow, 60*time.Second)
	if err != nil {
		return
	}
	idle, err = ParseDurationOrDefault("publisher.idle_backoff", c.Publisher.IdleBackoff, 60*time.Second)
	if err != nil {
		return
	}
	backoff, err = ParseDurationOrDefault("publisher.error_backoff", c.Publisher.ErrorBackoff, 60*time.Second)
	return
}

// AlbumTimings resolves the collator duration knobs with defaults.
func (c *Config) AlbumTimings() (probe, quiesce, prune time.Duration, err error) {
	probe, err = ParseDurationOrDefault("albums.probe_delay", c.Albums.ProbeDelay, time.Second)
	if err != nil {
		return
	}
	quiesce, err = ParseDurationOrDefault("albums.quiescence", c.Albums.Quiescence, 2*time.Second)
	if err != nil {
		return
	}
	prune, err = ParseDurationOrDefault("albums.prune_after", c.Albums.PruneAfter, time.Hour)
	return
}

// IsAdmin reports whether the given user id is an operator.
func (c *Config) IsAdmin(id int64) bool {
	for _, a := range c.Telegram.Admins {
		if a == id {
			return true
		}
	}
	return false
}

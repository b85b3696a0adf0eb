// Package queue holds the scheduled-post model and its durable store.
package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"postbot/internal/schedule"
)

type Kind string

const (
	KindText   Kind = "text"
	KindSingle Kind = "single"
	KindAlbum  Kind = "album"
)

type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
)

// MediaRef is one media reference inside a post (opaque platform file id).
type MediaRef struct {
	Kind   MediaKind `json:"kind"`
	FileID string    `json:"file_id"`
}

// Post is one scheduled unit of content. Posts are never mutated in place:
// they are created by intake and deleted on delivery or by an operator.
//
// The JSON shape is the queue wire format: "time" is minute-resolution
// ("HH:MM DD.MM.YYYY") and doubles as the slot occupancy key.
type Post struct {
	ID   string   `json:"id"`
	Time SlotTime `json:"time"`
	Kind Kind     `json:"type"`

	// Text is the body for text posts.
	Text string `json:"text,omitempty"`

	// Media and Caption are set for single and album posts. Album media is
	// ordered; the caption belongs to the first item.
	Media   []MediaRef `json:"media,omitempty"`
	Caption string     `json:"caption,omitempty"`
}

// NewID mints a unique post id.
func NewID() string { return uuid.NewString() }

// At returns the scheduled publication moment.
func (p Post) At() time.Time { return time.Time(p.Time) }

// SlotTime is a time.Time that marshals in the minute-resolution slot format.
type SlotTime time.Time

func (t SlotTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(t).Format(schedule.SlotLayout) + `"`), nil
}

func (t *SlotTime) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid slot time %s", s)
	}
	parsed, err := time.ParseInLocation(schedule.SlotLayout, s[1:len(s)-1], time.Local)
	if err != nil {
		return fmt.Errorf("invalid slot time: %w", err)
	}
	*t = SlotTime(parsed)
	return nil
}

func (t SlotTime) String() string { return time.Time(t).Format(schedule.SlotLayout) }

// Occupied extracts the scheduled moments of all posts, for the allocator.
func Occupied(posts []Post) []time.Time {
	out := make([]time.Time, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.At())
	}
	return out
}

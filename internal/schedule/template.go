// Package schedule computes publication slots from a daily time template.
package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SlotLayout is the minute-resolution wire format for scheduled times. It is
// also the occupancy key: two slots collide iff they format identically.
const SlotLayout = "15:04 02.01.2006"

// TimeOfDay is one entry of the daily template.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On anchors the time-of-day to the calendar day of d (local clock).
func (t TimeOfDay) On(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour, t.Minute, 0, 0, d.Location())
}

// Template is a normalized (ascending, non-empty) daily publish-time list.
type Template struct {
	times []TimeOfDay
}

// ParseTemplate validates a raw HH:MM list and normalizes it to ascending
// order. Input order does not matter; duplicates are collapsed.
func ParseTemplate(raw []string) (Template, error) {
	if len(raw) == 0 {
		return Template{}, errors.New("publish times must not be empty")
	}
	times := make([]TimeOfDay, 0, len(raw))
	seen := map[TimeOfDay]bool{}
	for _, s := range raw {
		h, m, err := parseHHMM(s)
		if err != nil {
			return Template{}, err
		}
		t := TimeOfDay{Hour: h, Minute: m}
		if seen[t] {
			continue
		}
		seen[t] = true
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool {
		if times[i].Hour != times[j].Hour {
			return times[i].Hour < times[j].Hour
		}
		return times[i].Minute < times[j].Minute
	})
	return Template{times: times}, nil
}

func (t Template) IsZero() bool { return len(t.times) == 0 }

// Times returns the template entries in ascending order.
func (t Template) Times() []TimeOfDay {
	out := make([]TimeOfDay, len(t.times))
	copy(out, t.times)
	return out
}

// Strings renders the template back to HH:MM form.
func (t Template) Strings() []string {
	out := make([]string, 0, len(t.times))
	for _, e := range t.times {
		out = append(out, e.String())
	}
	return out
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

package settings

import (
	"errors"
	"path/filepath"
	"testing"

	logx "postbot/pkg/logx"
)

func TestOpenCreatesDefaults(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "channel.json")

	st, err := Open(path, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	got := st.Get()
	want := Defaults()
	if len(got.PublishTimes) != len(want.PublishTimes) {
		t.Fatalf("PublishTimes = %v, want %v", got.PublishTimes, want.PublishTimes)
	}
	if got.StandardText != want.StandardText {
		t.Fatalf("StandardText = %q, want %q", got.StandardText, want.StandardText)
	}

	// The defaults are written out immediately; a second Open sees them.
	again, err := Open(path, logx.Nop())
	if err != nil {
		t.Fatalf("second Open error: %v", err)
	}
	if again.Get().StandardText != want.StandardText {
		t.Fatalf("reopened StandardText = %q", again.Get().StandardText)
	}
}

func TestUpdatePersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "channel.json")
	st, err := Open(path, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	updated, err := st.Update(func(s *Settings) error {
		s.ChannelID = "@mychannel"
		s.PublishTimes = []string{"10:00", "20:00"}
		s.StandardText = "visit us"
		return nil
	})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if updated.ChannelID != "@mychannel" {
		t.Fatalf("ChannelID = %q", updated.ChannelID)
	}

	reopened, err := Open(path, logx.Nop())
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	got := reopened.Get()
	if got.ChannelID != "@mychannel" || got.StandardText != "visit us" {
		t.Fatalf("reopened settings = %+v", got)
	}
	if len(got.PublishTimes) != 2 || got.PublishTimes[0] != "10:00" {
		t.Fatalf("reopened PublishTimes = %v", got.PublishTimes)
	}
}

func TestUpdateRejectsInvalidTimes(t *testing.T) {
	t.Parallel()
	st, err := Open(filepath.Join(t.TempDir(), "channel.json"), logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	before := st.Get()

	cur, err := st.Update(func(s *Settings) error {
		s.PublishTimes = []string{"25:99"}
		return nil
	})
	if err == nil {
		t.Fatal("Update with invalid times expected error")
	}
	if len(cur.PublishTimes) != len(before.PublishTimes) {
		t.Fatalf("settings changed after failed update: %v", cur.PublishTimes)
	}
}

func TestUpdateCallbackErrorKeepsPrior(t *testing.T) {
	t.Parallel()
	st, err := Open(filepath.Join(t.TempDir(), "channel.json"), logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	boom := errors.New("operator cancelled")
	_, err = st.Update(func(s *Settings) error {
		s.ChannelID = "@never"
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update error = %v, want %v", err, boom)
	}
	if got := st.Get().ChannelID; got == "@never" {
		t.Fatal("failed update must not change settings")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	t.Parallel()
	st, err := Open(filepath.Join(t.TempDir(), "channel.json"), logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	got := st.Get()
	if len(got.PublishTimes) == 0 {
		t.Fatal("defaults have no publish times")
	}
	got.PublishTimes[0] = "00:00"
	if st.Get().PublishTimes[0] == "00:00" {
		t.Fatal("mutating a Get copy leaked into the store")
	}
}

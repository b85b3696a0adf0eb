package publish

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"postbot/internal/queue"
	"postbot/internal/settings"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

type sentItem struct {
	kind  string
	to    kit.ChatTarget
	text  string
	items int
}

type fakeSender struct {
	sent    []sentItem
	failFor map[string]error // keyed by text/caption
}

func (f *fakeSender) failure(key string) error {
	if f.failFor == nil {
		return nil
	}
	return f.failFor[key]
}

func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := f.failure(text); err != nil {
		return kit.MessageRef{}, err
	}
	f.sent = append(f.sent, sentItem{kind: "text", to: to, text: text})
	return kit.MessageRef{MessageID: len(f.sent)}, nil
}

func (f *fakeSender) SendMedia(ctx context.Context, to kit.ChatTarget, item kit.MediaItem, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := f.failure(caption); err != nil {
		return kit.MessageRef{}, err
	}
	f.sent = append(f.sent, sentItem{kind: "media", to: to, text: caption, items: 1})
	return kit.MessageRef{MessageID: len(f.sent)}, nil
}

func (f *fakeSender) SendAlbum(ctx context.Context, to kit.ChatTarget, items []kit.MediaItem, caption string, opt *kit.SendOptions) ([]kit.MessageRef, error) {
	if err := f.failure(caption); err != nil {
		return nil, err
	}
	f.sent = append(f.sent, sentItem{kind: "album", to: to, text: caption, items: len(items)})
	return []kit.MessageRef{{MessageID: len(f.sent)}}, nil
}

func newTestSettings(t *testing.T, channel string) *settings.Store {
	t.Helper()
	st, err := settings.Open(filepath.Join(t.TempDir(), "channel.json"), logx.Nop())
	if err != nil {
		t.Fatalf("settings.Open error: %v", err)
	}
	if _, err := st.Update(func(s *settings.Settings) error {
		s.ChannelID = channel
		return nil
	}); err != nil {
		t.Fatalf("settings.Update error: %v", err)
	}
	return st
}

func textPost(id string, at time.Time, text string) queue.Post {
	return queue.Post{ID: id, Time: queue.SlotTime(at), Kind: queue.KindText, Text: text}
}

func newTestPublisher(store queue.Store, st *settings.Store, sender kit.Sender, now time.Time) *Publisher {
	return New(
		Config{RatePerMin: 60000},
		store, st, sender, logx.Nop(),
		WithClock(func() time.Time { return now }),
	)
}

func TestDuePostDeliveredAndRemoved(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 2, 9, 0, 10, 0, time.Local)
	store := queue.NewMemory(textPost("p1", now.Add(-10*time.Second), "due"))
	sender := &fakeSender{}
	p := newTestPublisher(store, newTestSettings(t, "@chan"), sender, now)

	p.cycle(context.Background())

	if len(sender.sent) != 1 || sender.sent[0].text != "due" {
		t.Fatalf("sent = %+v, want one text delivery", sender.sent)
	}
	if sender.sent[0].to.Recipient != "@chan" {
		t.Fatalf("delivered to %q, want @chan", sender.sent[0].to.Recipient)
	}
	posts, _ := store.List(context.Background())
	if len(posts) != 0 {
		t.Fatalf("queue = %+v, want delivered post removed", posts)
	}
}

func TestStalePostIsSkippedForever(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 2, 9, 1, 30, 0, time.Local)
	// 90s past its slot: outside the 60s due window.
	store := queue.NewMemory(textPost("p1", now.Add(-90*time.Second), "stale"))
	sender := &fakeSender{}
	p := newTestPublisher(store, newTestSettings(t, "@chan"), sender, now)

	p.cycle(context.Background())

	if len(sender.sent) != 0 {
		t.Fatalf("stale post was delivered: %+v", sender.sent)
	}
	posts, _ := store.List(context.Background())
	if len(posts) != 1 {
		t.Fatalf("stale post must remain queued, queue = %+v", posts)
	}
}

func TestFuturePostNotDelivered(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.Local)
	store := queue.NewMemory(textPost("p1", now.Add(time.Hour), "later"))
	sender := &fakeSender{}
	p := newTestPublisher(store, newTestSettings(t, "@chan"), sender, now)

	p.cycle(context.Background())

	if len(sender.sent) != 0 {
		t.Fatalf("future post was delivered: %+v", sender.sent)
	}
}

func TestNoChannelSkipsCycle(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 2, 9, 0, 10, 0, time.Local)
	store := queue.NewMemory(textPost("p1", now.Add(-10*time.Second), "due"))
	sender := &fakeSender{}
	p := newTestPublisher(store, newTestSettings(t, ""), sender, now)

	delay := p.cycle(context.Background())

	if len(sender.sent) != 0 {
		t.Fatalf("delivered without a channel: %+v", sender.sent)
	}
	if delay != p.cfg.IdleBackoff {
		t.Fatalf("delay = %v, want idle backoff %v", delay, p.cfg.IdleBackoff)
	}
}

func TestOneFailureDoesNotAbortCycle(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 2, 9, 0, 10, 0, time.Local)
	slot := now.Add(-10 * time.Second)
	store := queue.NewMemory(
		textPost("p1", slot, "boom"),
		textPost("p2", slot.Add(time.Minute), "ok"),
	)
	// Second post due as well: shift its slot inside the window.
	_ = store.Mutate(context.Background(), func(posts []queue.Post) ([]queue.Post, error) {
		posts[1].Time = queue.SlotTime(now.Add(-5 * time.Second))
		return posts, nil
	})

	sender := &fakeSender{failFor: map[string]error{"boom": errors.New("telegram down")}}
	p := newTestPublisher(store, newTestSettings(t, "@chan"), sender, now)

	p.cycle(context.Background())

	if len(sender.sent) != 1 || sender.sent[0].text != "ok" {
		t.Fatalf("sent = %+v, want the second post delivered", sender.sent)
	}
	posts, _ := store.List(context.Background())
	if len(posts) != 1 || posts[0].ID != "p1" {
		t.Fatalf("queue = %+v, want failed post retained", posts)
	}
}

func TestDeliversAllKinds(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 2, 9, 0, 10, 0, time.Local)
	slot := queue.SlotTime(now.Add(-10 * time.Second))
	store := queue.NewMemory(
		queue.Post{ID: "s", Time: slot, Kind: queue.KindSingle,
			Media:   []queue.MediaRef{{Kind: queue.MediaPhoto, FileID: "f"}},
			Caption: "single"},
		queue.Post{ID: "a", Time: slot, Kind: queue.KindAlbum,
			Media: []queue.MediaRef{
				{Kind: queue.MediaPhoto, FileID: "f1"},
				{Kind: queue.MediaVideo, FileID: "f2"},
			},
			Caption: "album"},
	)
	sender := &fakeSender{}
	p := newTestPublisher(store, newTestSettings(t, "@chan"), sender, now)

	p.cycle(context.Background())

	if len(sender.sent) != 2 {
		t.Fatalf("sent %d deliveries, want 2", len(sender.sent))
	}
	if sender.sent[0].kind != "media" || sender.sent[1].kind != "album" {
		t.Fatalf("sent = %+v, want media then album (queue order)", sender.sent)
	}
	if sender.sent[1].items != 2 {
		t.Fatalf("album delivered %d items, want 2", sender.sent[1].items)
	}
	posts, _ := store.List(context.Background())
	if len(posts) != 0 {
		t.Fatalf("queue = %+v, want both removed", posts)
	}
}

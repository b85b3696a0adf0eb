package album

import (
	"context"
	"testing"
	"time"

	"postbot/internal/queue"
)

func newTestCollator() (*Collator, *time.Time) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.Local)
	cur := &now
	c := New(
		Config{ProbeDelay: time.Millisecond, Quiescence: 2 * time.Second},
		WithClock(func() time.Time { return *cur }),
	)
	return c, cur
}

func frag(key string, owner int64, fileID, caption string) Fragment {
	return Fragment{
		GroupKey: key,
		Owner:    owner,
		Item:     queue.MediaRef{Kind: queue.MediaPhoto, FileID: fileID},
		Caption:  caption,
	}
}

func TestBurstFinalizesAsOneAlbum(t *testing.T) {
	t.Parallel()
	c, cur := newTestCollator()
	ctx := context.Background()

	c.Ingest(ctx, frag("g1", 7, "a", ""))
	*cur = cur.Add(200 * time.Millisecond)
	c.Ingest(ctx, frag("g1", 7, "b", "first caption"))
	*cur = cur.Add(200 * time.Millisecond)
	c.Ingest(ctx, frag("g1", 7, "c", "ignored later caption"))

	// Not quiescent yet: nothing may finalize.
	if got := c.SweepOwner(7); len(got) != 0 {
		t.Fatalf("premature sweep returned %d albums", len(got))
	}

	*cur = cur.Add(3 * time.Second)
	albums := c.SweepOwner(7)
	if len(albums) != 1 {
		t.Fatalf("sweep returned %d albums, want 1", len(albums))
	}
	a := albums[0]
	if len(a.Items) != 3 {
		t.Fatalf("album has %d items, want 3", len(a.Items))
	}
	for i, want := range []string{"a", "b", "c"} {
		if a.Items[i].FileID != want {
			t.Fatalf("item %d = %s, want %s (arrival order must be preserved)", i, a.Items[i].FileID, want)
		}
	}
	if a.Caption != "first caption" {
		t.Fatalf("caption = %q, want first non-empty", a.Caption)
	}

	// Finalized entries are gone.
	if got := c.SweepOwner(7); len(got) != 0 {
		t.Fatalf("second sweep returned %d albums, want 0", len(got))
	}
}

func TestSweepIsScopedToOwner(t *testing.T) {
	t.Parallel()
	c, cur := newTestCollator()
	ctx := context.Background()

	c.Ingest(ctx, frag("g1", 7, "a", ""))
	c.Ingest(ctx, frag("g2", 8, "b", ""))
	*cur = cur.Add(time.Minute)

	if got := c.SweepOwner(7); len(got) != 1 {
		t.Fatalf("owner 7 sweep returned %d albums, want 1", len(got))
	}
	// Owner 8's burst must be untouched by owner 7's terminator.
	if c.Len() != 1 {
		t.Fatalf("pending = %d, want 1 (other owner's burst kept)", c.Len())
	}
	if got := c.SweepOwner(8); len(got) != 1 {
		t.Fatalf("owner 8 sweep returned %d albums, want 1", len(got))
	}
}

func TestCaptionFromFirstCaptionedFragment(t *testing.T) {
	t.Parallel()
	c, cur := newTestCollator()
	ctx := context.Background()

	c.Ingest(ctx, frag("g1", 7, "a", "winner"))
	c.Ingest(ctx, frag("g1", 7, "b", "loser"))
	*cur = cur.Add(time.Minute)

	albums := c.SweepOwner(7)
	if len(albums) != 1 || albums[0].Caption != "winner" {
		t.Fatalf("caption = %+v, want \"winner\"", albums)
	}
}

func TestPruneStaleDiscardsWithoutPublishing(t *testing.T) {
	t.Parallel()
	c, cur := newTestCollator()
	ctx := context.Background()

	c.Ingest(ctx, frag("old", 7, "a", ""))
	*cur = cur.Add(2 * time.Hour)
	c.Ingest(ctx, frag("fresh", 7, "b", ""))

	if n := c.PruneStale(time.Hour); n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	if c.Len() != 1 {
		t.Fatalf("pending = %d, want 1", c.Len())
	}

	// The pruned burst never finalizes; the fresh one still can.
	*cur = cur.Add(time.Minute)
	albums := c.SweepOwner(7)
	if len(albums) != 1 || albums[0].Items[0].FileID != "b" {
		t.Fatalf("sweep after prune = %+v, want only the fresh burst", albums)
	}
}

func TestIngestHonorsContextCancel(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.Local)
	c := New(
		Config{ProbeDelay: time.Hour, Quiescence: time.Second},
		WithClock(func() time.Time { return now }),
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		c.Ingest(ctx, frag("g1", 7, "a", ""))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Ingest did not return on cancelled context")
	}
}

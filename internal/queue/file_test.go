package queue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "postbot/pkg/logx"
)

func openTestStore(t *testing.T) (Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "posts.json")
	store, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, path
}

func samplePost(id string, hour int) Post {
	return Post{
		ID:   id,
		Time: SlotTime(time.Date(2025, 6, 2, hour, 0, 0, 0, time.Local)),
		Kind: KindText,
		Text: "body " + id,
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	store, path := openTestStore(t)
	ctx := context.Background()

	want := []Post{
		samplePost("p1", 9),
		{
			ID:   "p2",
			Time: SlotTime(time.Date(2025, 6, 2, 13, 0, 0, 0, time.Local)),
			Kind: KindAlbum,
			Media: []MediaRef{
				{Kind: MediaPhoto, FileID: "f1"},
				{Kind: MediaVideo, FileID: "f2"},
			},
			Caption: "trip",
		},
	}
	err := store.Mutate(ctx, func(posts []Post) ([]Post, error) {
		return append(posts, want...), nil
	})
	if err != nil {
		t.Fatalf("Mutate error: %v", err)
	}

	// Reopen from disk: everything must survive, in order.
	reopened, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List returned %d posts, want 2", len(got))
	}
	for i := range want {
		if got[i].ID != want[i].ID || got[i].Kind != want[i].Kind {
			t.Fatalf("post %d = %+v, want %+v", i, got[i], want[i])
		}
		if !got[i].At().Equal(want[i].At()) {
			t.Fatalf("post %d time = %v, want %v", i, got[i].At(), want[i].At())
		}
	}
	if len(got[1].Media) != 2 || got[1].Media[1].FileID != "f2" {
		t.Fatalf("album media = %+v", got[1].Media)
	}
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	t.Parallel()
	store, _ := openTestStore(t)

	posts, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(posts) != 0 {
		t.Fatalf("List = %+v, want empty", posts)
	}
}

func TestFileStoreCorruptFileIsEmpty(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "posts.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	store, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer store.Close()

	posts, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(posts) != 0 {
		t.Fatalf("List = %+v, want empty after corruption", posts)
	}
}

func TestFileStoreDeletePreservesOrder(t *testing.T) {
	t.Parallel()
	store, _ := openTestStore(t)
	ctx := context.Background()

	err := store.Mutate(ctx, func(posts []Post) ([]Post, error) {
		return append(posts, samplePost("p1", 9), samplePost("p2", 13), samplePost("p3", 17)), nil
	})
	if err != nil {
		t.Fatalf("Mutate error: %v", err)
	}

	err = store.Mutate(ctx, func(posts []Post) ([]Post, error) {
		out := posts[:0]
		for _, p := range posts {
			if p.ID != "p2" {
				out = append(out, p)
			}
		}
		return out, nil
	})
	if err != nil {
		t.Fatalf("delete Mutate error: %v", err)
	}

	posts, _ := store.List(ctx)
	if len(posts) != 2 || posts[0].ID != "p1" || posts[1].ID != "p3" {
		t.Fatalf("queue = %+v, want p1 then p3", posts)
	}
}

func TestFileStoreMutateErrorLeavesFileUntouched(t *testing.T) {
	t.Parallel()
	store, _ := openTestStore(t)
	ctx := context.Background()

	if err := store.Mutate(ctx, func(posts []Post) ([]Post, error) {
		return append(posts, samplePost("p1", 9)), nil
	}); err != nil {
		t.Fatalf("Mutate error: %v", err)
	}

	boom := errors.New("operator aborted")
	err := store.Mutate(ctx, func(posts []Post) ([]Post, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Mutate error = %v, want %v", err, boom)
	}

	posts, _ := store.List(ctx)
	if len(posts) != 1 || posts[0].ID != "p1" {
		t.Fatalf("queue = %+v, want the original post", posts)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("Open with unknown driver expected error")
	}
}

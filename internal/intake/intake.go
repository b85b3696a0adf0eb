// Package intake turns operator submissions into scheduled queue posts.
package intake

import (
	"context"
	"fmt"
	"time"

	"postbot/internal/album"
	"postbot/internal/queue"
	"postbot/internal/schedule"
	"postbot/internal/settings"
	logx "postbot/pkg/logx"
)

// Scheduled reports one post that was appended to the queue, plus the next
// slot that would be allocated after it (for operator echo).
type Scheduled struct {
	Post     queue.Post
	NextFree time.Time
}

// TextResult is the outcome of a plain-text submission. A text message that
// finalizes pending albums acts purely as a terminator: the albums are
// scheduled and the text itself is discarded.
type TextResult struct {
	Posts      []Scheduled
	Terminated bool
}

type Pipeline struct {
	store    queue.Store
	settings *settings.Store
	collator *album.Collator
	log      logx.Logger
	now      func() time.Time
}

type Option func(*Pipeline)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func New(store queue.Store, st *settings.Store, col *album.Collator, log logx.Logger, opts ...Option) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Pipeline{store: store, settings: st, collator: col, log: log, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p
}

// SubmitFragment feeds one album fragment to the collator. The call
// suspends for the quiescence probe before returning; callers must run it
// on its own goroutine so unrelated submissions are not stalled.
func (p *Pipeline) SubmitFragment(ctx context.Context, f album.Fragment) {
	p.collator.Ingest(ctx, f)
}

// SubmitMedia schedules a standalone photo/video immediately, with no
// quiescence delay.
func (p *Pipeline) SubmitMedia(ctx context.Context, owner int64, item queue.MediaRef, caption string) (Scheduled, error) {
	cfg := p.settings.Get()
	post := queue.Post{
		ID:      queue.NewID(),
		Kind:    queue.KindSingle,
		Media:   []queue.MediaRef{item},
		Caption: withFooter(caption, cfg.StandardText),
	}
	sched, err := p.appendPost(ctx, cfg, post)
	if err != nil {
		return Scheduled{}, err
	}
	p.log.Info("single media scheduled",
		logx.Int64("owner", owner),
		logx.String("post", sched.Post.ID),
		logx.Time("at", sched.Post.At()))
	return sched, nil
}

// SubmitText first sweeps the owner's quiescent albums; if any finalize,
// the text acted as their terminator and is not scheduled itself.
// Otherwise the text becomes a standalone post.
func (p *Pipeline) SubmitText(ctx context.Context, owner int64, text string) (TextResult, error) {
	finalized, err := p.FinalizePending(ctx, owner)
	if err != nil {
		return TextResult{}, err
	}
	if len(finalized) > 0 {
		return TextResult{Posts: finalized, Terminated: true}, nil
	}

	cfg := p.settings.Get()
	post := queue.Post{
		ID:   queue.NewID(),
		Kind: queue.KindText,
		Text: withFooter(text, cfg.StandardText),
	}
	sched, err := p.appendPost(ctx, cfg, post)
	if err != nil {
		return TextResult{}, err
	}
	p.log.Info("text scheduled",
		logx.Int64("owner", owner),
		logx.String("post", sched.Post.ID),
		logx.Time("at", sched.Post.At()))
	return TextResult{Posts: []Scheduled{sched}}, nil
}

// FinalizePending schedules every quiescent album the owner has pending.
// A degenerate one-item burst becomes a single-media post (the platform
// rejects one-element media groups).
func (p *Pipeline) FinalizePending(ctx context.Context, owner int64) ([]Scheduled, error) {
	albums := p.collator.SweepOwner(owner)
	if len(albums) == 0 {
		return nil, nil
	}

	cfg := p.settings.Get()
	out := make([]Scheduled, 0, len(albums))
	for _, a := range albums {
		post := queue.Post{
			ID:      queue.NewID(),
			Kind:    queue.KindAlbum,
			Media:   a.Items,
			Caption: withFooter(a.Caption, cfg.StandardText),
		}
		if len(a.Items) == 1 {
			post.Kind = queue.KindSingle
		}
		sched, err := p.appendPost(ctx, cfg, post)
		if err != nil {
			return out, err
		}
		p.log.Info("album scheduled",
			logx.Int64("owner", owner),
			logx.String("post", sched.Post.ID),
			logx.Int("items", len(a.Items)),
			logx.Time("at", sched.Post.At()))
		out = append(out, sched)
	}
	return out, nil
}

// appendPost allocates a slot and appends in one critical section, so the
// occupied set the allocator reads can never go stale before the write.
func (p *Pipeline) appendPost(ctx context.Context, cfg settings.Settings, post queue.Post) (Scheduled, error) {
	tpl, err := cfg.Template()
	if err != nil {
		return Scheduled{}, fmt.Errorf("publish times invalid: %w", err)
	}

	var sched Scheduled
	err = p.store.Mutate(ctx, func(posts []queue.Post) ([]queue.Post, error) {
		now := p.now()
		slot := schedule.NextSlot(tpl, queue.Occupied(posts), now)
		post.Time = queue.SlotTime(slot)
		posts = append(posts, post)

		sched.Post = post
		sched.NextFree = schedule.NextSlot(tpl, queue.Occupied(posts), now)
		return posts, nil
	})
	if err != nil {
		return Scheduled{}, err
	}
	return sched, nil
}

func withFooter(body, footer string) string {
	if footer == "" {
		return body
	}
	return body + "\n\n" + footer
}

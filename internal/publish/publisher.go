// Package publish delivers due queue posts to the broadcast channel.
package publish

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"postbot/internal/queue"
	"postbot/internal/settings"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

// Config tunes the polling loop. Zero values get the source defaults.
type Config struct {
	PollInterval time.Duration // scan period
	DueWindow    time.Duration // how long after its slot a post stays deliverable
	IdleBackoff  time.Duration // sleep when no channel is configured
	ErrorBackoff time.Duration // sleep after a cycle-level failure
	RatePerMin   int           // send rate ceiling toward the channel
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.DueWindow <= 0 {
		c.DueWindow = 60 * time.Second
	}
	if c.IdleBackoff <= 0 {
		c.IdleBackoff = 60 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 60 * time.Second
	}
	if c.RatePerMin <= 0 {
		c.RatePerMin = 20
	}
	return c
}

// Publisher is a pure polling loop: each cycle re-reads the queue and the
// channel settings (operator edits between cycles are always respected),
// attempts every post inside the due window in queue order, and removes
// each post right after its successful send.
//
// Delivery is at-most-once per attempt: a crash between the send and the
// removal write duplicates the post on restart. A post whose slot is older
// than the due window (e.g. the process was down) is skipped forever but
// stays in the queue; operators can delete and resubmit it.
type Publisher struct {
	cfg      Config
	store    queue.Store
	settings *settings.Store
	sender   kit.Sender
	log      logx.Logger
	now      func() time.Time
	limiter  *rate.Limiter
}

type Option func(*Publisher)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

func New(cfg Config, store queue.Store, st *settings.Store, sender kit.Sender, log logx.Logger, opts ...Option) *Publisher {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Publisher{
		cfg:      cfg,
		store:    store,
		settings: st,
		sender:   sender,
		log:      log,
		now:      time.Now,
		limiter:  rate.NewLimiter(rate.Limit(float64(cfg.RatePerMin)/60.0), 1),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run polls until ctx is done. It never returns on a cycle failure.
func (p *Publisher) Run(ctx context.Context) error {
	p.log.Info("publish loop started",
		logx.Duration("poll", p.cfg.PollInterval),
		logx.Duration("due_window", p.cfg.DueWindow))
	for {
		delay := p.cycle(ctx)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			p.log.Info("publish loop stopped")
			return nil
		case <-t.C:
		}
	}
}

// cycle runs one scan and returns how long to sleep before the next one.
func (p *Publisher) cycle(ctx context.Context) time.Duration {
	cfg := p.settings.Get()
	if cfg.ChannelID == "" {
		return p.cfg.IdleBackoff
	}

	posts, err := p.store.List(ctx)
	if err != nil {
		p.log.Error("queue read failed; backing off", logx.Err(err))
		return p.cfg.ErrorBackoff
	}

	now := p.now()
	to := kit.ChatTarget{Recipient: cfg.ChannelID}
	for _, post := range posts {
		at := post.At()
		if now.Before(at) || now.Sub(at) >= p.cfg.DueWindow {
			continue
		}

		if err := p.deliver(ctx, to, post); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return p.cfg.PollInterval
			}
			// One post's failure never aborts the cycle. The post stays
			// queued; it gets another attempt only while still inside the
			// due window.
			p.log.Error("post delivery failed",
				logx.String("post", post.ID),
				logx.String("kind", string(post.Kind)),
				logx.Err(err))
			continue
		}

		if err := p.remove(ctx, post.ID); err != nil {
			p.log.Error("delivered post not removed; may duplicate",
				logx.String("post", post.ID), logx.Err(err))
			continue
		}
		p.log.Info("post published",
			logx.String("post", post.ID),
			logx.String("kind", string(post.Kind)),
			logx.Time("slot", at))
	}
	return p.cfg.PollInterval
}

func (p *Publisher) deliver(ctx context.Context, to kit.ChatTarget, post queue.Post) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	opt := &kit.SendOptions{ParseMode: "HTML"}
	switch post.Kind {
	case queue.KindText:
		_, err := p.sender.SendText(ctx, to, post.Text, opt)
		return err
	case queue.KindSingle:
		if len(post.Media) == 0 {
			return errors.New("single post has no media")
		}
		_, err := p.sender.SendMedia(ctx, to, mediaItem(post.Media[0]), post.Caption, opt)
		return err
	case queue.KindAlbum:
		items := make([]kit.MediaItem, 0, len(post.Media))
		for _, m := range post.Media {
			items = append(items, mediaItem(m))
		}
		_, err := p.sender.SendAlbum(ctx, to, items, post.Caption, opt)
		return err
	default:
		return errors.New("unknown post kind: " + string(post.Kind))
	}
}

func (p *Publisher) remove(ctx context.Context, id string) error {
	return p.store.Mutate(ctx, func(posts []queue.Post) ([]queue.Post, error) {
		out := posts[:0]
		for _, q := range posts {
			if q.ID != id {
				out = append(out, q)
			}
		}
		return out, nil
	})
}

func mediaItem(m queue.MediaRef) kit.MediaItem {
	return kit.MediaItem{Kind: kit.MediaKind(m.Kind), FileID: m.FileID}
}

package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "postbot/internal/runtime/supervisor"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool

	// sup owns adapter internal goroutines (poll loop, drop logger).
	sup *rtsup.Supervisor

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the Telegram poll loop. Logged periodically to avoid spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	forward := func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: fromTele(m)})
		return nil
	}
	a.bot.Handle(tele.OnText, forward)
	a.bot.Handle(tele.OnPhoto, forward)
	a.bot.Handle(tele.OnVideo, forward)
}

func fromTele(m *tele.Message) *kit.Message {
	out := &kit.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		FromID:       m.Sender.ID,
		FromUsername: m.Sender.Username,
		Text:         m.Text,
		Caption:      m.Caption,
		AlbumID:      m.AlbumID,
	}
	switch {
	case m.Photo != nil:
		out.Media = &kit.MediaItem{Kind: kit.MediaPhoto, FileID: m.Photo.FileID}
	case m.Video != nil:
		out.Media = &kit.MediaItem{Kind: kit.MediaVideo, FileID: m.Video.FileID}
	}
	return out
}

func (a *Adapter) sendUpdate(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx, a.log.With(logx.String("comp", "telegram.adapter")))
	sup := a.sup
	a.runMu.Unlock()

	// Periodic summary for dropped updates (avoid noisy per-update logs).
	sup.Go("updates.drop_report", func(c context.Context) error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Any("count", n))
				}
				return nil
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Any("count", n))
				}
			}
		}
	})

	// Ensure we stop telebot when the adapter context is cancelled.
	sup.Go("telebot.stop_on_cancel", func(c context.Context) error {
		<-c.Done()
		if a.bot != nil {
			a.bot.Stop()
		}
		return nil
	})

	// Telebot's Start() is a long-running loop. In some failure modes it can
	// exit unexpectedly; run it under a restart loop so the adapter self-heals.
	sup.GoRestart("telebot.poll", 500*time.Millisecond, 10*time.Second, func(c context.Context) error {
		a.log.Info("polling started")
		if a.bot != nil {
			a.bot.Start() // blocks until Stop()
		}
		a.log.Info("polling stopped")
		return nil
	})

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if sup != nil {
		sup.Cancel()
	}
	// telebot Stop is expected to be fast; run it async just in case.
	if a.bot != nil {
		go a.bot.Stop()
	}

	// Grace window: keep shutdown snappy even if the long-poll is waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	if sup == nil {
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		// Don't hard-fail shutdown for the adapter; just report.
		a.log.Warn("telegram stop timed out", logx.Err(err))
	}
	return nil
}

// rawRecipient lets a raw destination string ("@channel", "-100...") be used
// where telebot expects a Recipient.
type rawRecipient string

func (r rawRecipient) Recipient() string { return string(r) }

func recipient(to kit.ChatTarget) tele.Recipient {
	if s := strings.TrimSpace(to.Recipient); s != "" {
		return rawRecipient(s)
	}
	return tele.ChatID(to.ChatID)
}

func sendOptions(opt *kit.SendOptions) *tele.SendOptions {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	so := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	}
	if opt.ReplyMarkupAdapter != nil {
		if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok {
			so.ReplyMarkup = rm
		}
	}
	return so
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctxErr(ctx); err != nil {
		return kit.MessageRef{}, err
	}
	msg, err := a.bot.Send(recipient(to), text, sendOptions(opt))
	if err != nil {
		return kit.MessageRef{}, err
	}
	return refOf(msg), nil
}

func (a *Adapter) SendMedia(ctx context.Context, to kit.ChatTarget, item kit.MediaItem, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctxErr(ctx); err != nil {
		return kit.MessageRef{}, err
	}
	msg, err := a.bot.Send(recipient(to), inputtable(item, caption), sendOptions(opt))
	if err != nil {
		return kit.MessageRef{}, err
	}
	return refOf(msg), nil
}

func (a *Adapter) SendAlbum(ctx context.Context, to kit.ChatTarget, items []kit.MediaItem, caption string, opt *kit.SendOptions) ([]kit.MessageRef, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	album := make(tele.Album, 0, len(items))
	for i, it := range items {
		// Telegram renders the album caption from the first item only.
		c := ""
		if i == 0 {
			c = caption
		}
		album = append(album, inputtable(it, c))
	}
	msgs, err := a.bot.SendAlbum(recipient(to), album, sendOptions(opt))
	if err != nil {
		return nil, err
	}
	refs := make([]kit.MessageRef, 0, len(msgs))
	for i := range msgs {
		refs = append(refs, refOf(&msgs[i]))
	}
	return refs, nil
}

func inputtable(item kit.MediaItem, caption string) tele.Inputtable {
	file := tele.File{FileID: item.FileID}
	if item.Kind == kit.MediaVideo {
		return &tele.Video{File: file, Caption: caption}
	}
	return &tele.Photo{File: file, Caption: caption}
}

func refOf(m *tele.Message) kit.MessageRef {
	if m == nil || m.Chat == nil {
		return kit.MessageRef{}
	}
	return kit.MessageRef{ChatID: m.Chat.ID, MessageID: m.ID}
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

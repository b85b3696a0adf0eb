// Package bot is the operator-facing menu surface: command dispatch, reply
// keyboards and per-chat navigation state. The scheduling core is reached
// only through the intake, queue and settings APIs.
package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"postbot/internal/album"
	"postbot/internal/audit"
	"postbot/internal/intake"
	"postbot/internal/queue"
	"postbot/internal/schedule"
	"postbot/internal/settings"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

type mode int

const (
	modeIdle mode = iota
	modeScheduling
	modeViewing
	modeAwaitChannel
	modeAwaitTimes
	modeAwaitFooter
)

type session struct {
	mode      mode
	viewIndex int
}

type Router struct {
	adapter  kit.Adapter
	pipeline *intake.Pipeline
	store    queue.Store
	settings *settings.Store
	audit    *audit.Log
	isAdmin  func(int64) bool
	log      logx.Logger

	mu       sync.Mutex
	sessions map[int64]*session
}

func New(adapter kit.Adapter, pipeline *intake.Pipeline, store queue.Store, st *settings.Store, auditLog *audit.Log, isAdmin func(int64) bool, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		adapter:  adapter,
		pipeline: pipeline,
		store:    store,
		settings: st,
		audit:    auditLog,
		isAdmin:  isAdmin,
		log:      log,
		sessions: map[int64]*session{},
	}
}

func (r *Router) session(chatID int64) *session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	if !ok {
		s = &session{}
		r.sessions[chatID] = s
	}
	return s
}

func (r *Router) setMode(chatID int64, m mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	if !ok {
		s = &session{}
		r.sessions[chatID] = s
	}
	s.mode = m
	if m != modeViewing {
		s.viewIndex = 0
	}
}

// HandleUpdate processes one inbound update. It is safe to call from
// concurrent goroutines; an album fragment's quiescence probe suspends only
// its own call.
func (r *Router) HandleUpdate(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	m := up.Message

	if !r.isAdmin(m.FromID) {
		r.reply(ctx, m.ChatID, "Access denied.", nil)
		return
	}

	if strings.HasPrefix(m.Text, "/start") {
		r.setMode(m.ChatID, modeIdle)
		r.reply(ctx, m.ChatID, "Access granted. Welcome :)", mainKeyboard())
		return
	}

	// Global menu entries work from any mode.
	switch m.Text {
	case btnList:
		r.startViewing(ctx, m)
		return
	case btnSettings:
		r.showSettings(ctx, m)
		return
	case btnSchedule:
		r.startScheduling(ctx, m)
		return
	case btnBack:
		r.setMode(m.ChatID, modeIdle)
		r.reply(ctx, m.ChatID, "Back to the main menu ✅", mainKeyboard())
		return
	case btnChannel:
		r.promptSetting(ctx, m, modeAwaitChannel, "Send the new channel id (e.g. @mychannel or -100...):")
		return
	case btnTimes:
		r.promptSetting(ctx, m, modeAwaitTimes, "Send a comma-separated HH:MM list (e.g. <code>09:00, 13:00, 17:00</code>)")
		return
	case btnFooter:
		r.promptSetting(ctx, m, modeAwaitFooter, "Send the new footer text (HTML tags supported):")
		return
	}

	switch r.session(m.ChatID).mode {
	case modeScheduling:
		r.handleScheduling(ctx, m)
	case modeViewing:
		r.handleViewing(ctx, m)
	case modeAwaitChannel:
		r.handleSetChannel(ctx, m)
	case modeAwaitTimes:
		r.handleSetTimes(ctx, m)
	case modeAwaitFooter:
		r.handleSetFooter(ctx, m)
	default:
		r.reply(ctx, m.ChatID, "Pick an action from the menu.", mainKeyboard())
	}
}

// ---- scheduling mode ----

func (r *Router) startScheduling(ctx context.Context, m *kit.Message) {
	cfg := r.settings.Get()
	if cfg.ChannelID == "" {
		r.reply(ctx, m.ChatID, "Set up the channel in settings first!", mainKeyboard())
		return
	}
	tpl, err := cfg.Template()
	if err != nil {
		r.reply(ctx, m.ChatID, "Publish times are invalid, fix them in settings.", mainKeyboard())
		return
	}
	posts, err := r.store.List(ctx)
	if err != nil {
		r.log.Error("queue read failed", logx.Err(err))
		r.reply(ctx, m.ChatID, "Queue is unavailable, try again later.", mainKeyboard())
		return
	}
	next := schedule.NextSlot(tpl, queue.Occupied(posts), time.Now())

	r.setMode(m.ChatID, modeScheduling)
	r.reply(ctx, m.ChatID, fmt.Sprintf(
		"⏰ Planning the next post for %s.\nSend a photo/video/album (after an album, send any text message to finish it).",
		next.Format(schedule.SlotLayout)), scheduleKeyboard())
}

func (r *Router) handleScheduling(ctx context.Context, m *kit.Message) {
	switch {
	case m.Text == btnFinish:
		r.setMode(m.ChatID, modeIdle)
		r.reply(ctx, m.ChatID, "Scheduling mode finished ✅", mainKeyboard())

	case m.AlbumID != "" && m.Media != nil:
		r.pipeline.SubmitFragment(ctx, album.Fragment{
			GroupKey: m.AlbumID,
			Owner:    m.FromID,
			Item:     queue.MediaRef{Kind: queue.MediaKind(m.Media.Kind), FileID: m.Media.FileID},
			Caption:  m.Caption,
		})

	case m.Media != nil:
		sched, err := r.pipeline.SubmitMedia(ctx, m.FromID,
			queue.MediaRef{Kind: queue.MediaKind(m.Media.Kind), FileID: m.Media.FileID}, m.Caption)
		if err != nil {
			r.log.Error("media submission failed", logx.Err(err))
			r.reply(ctx, m.ChatID, "Could not schedule that, try again.", scheduleKeyboard())
			return
		}
		r.auditPost(ctx, m.FromID, sched.Post)
		r.replyScheduled(ctx, m.ChatID, "✅ Post scheduled for %s", sched)

	case m.Text != "":
		res, err := r.pipeline.SubmitText(ctx, m.FromID, m.Text)
		if err != nil {
			r.log.Error("text submission failed", logx.Err(err))
			r.reply(ctx, m.ChatID, "Could not schedule that, try again.", scheduleKeyboard())
			return
		}
		for _, sched := range res.Posts {
			r.auditPost(ctx, m.FromID, sched.Post)
			if res.Terminated {
				r.replyScheduled(ctx, m.ChatID,
					fmt.Sprintf("✅ Album (%d media) scheduled for %%s", len(sched.Post.Media)), sched)
			} else {
				r.replyScheduled(ctx, m.ChatID, "✅ Text scheduled for %s", sched)
			}
		}
	}
}

func (r *Router) replyScheduled(ctx context.Context, chatID int64, format string, sched intake.Scheduled) {
	r.reply(ctx, chatID, fmt.Sprintf(
		format+"\n⏰ Next free slot: %s",
		sched.Post.At().Format(schedule.SlotLayout),
		sched.NextFree.Format(schedule.SlotLayout)), scheduleKeyboard())
}

func (r *Router) auditPost(ctx context.Context, actor int64, p queue.Post) {
	r.audit.Append(ctx, audit.Entry{
		ActorID: actor,
		Action:  "post.schedule",
		Target:  p.ID,
		Detail:  string(p.Kind) + " @ " + p.Time.String(),
	})
}

// ---- browse mode ----

func (r *Router) startViewing(ctx context.Context, m *kit.Message) {
	posts, err := r.store.List(ctx)
	if err != nil {
		r.log.Error("queue read failed", logx.Err(err))
		r.reply(ctx, m.ChatID, "Queue is unavailable, try again later.", mainKeyboard())
		return
	}
	if len(posts) == 0 {
		r.reply(ctx, m.ChatID, "No scheduled posts.", mainKeyboard())
		return
	}
	r.setMode(m.ChatID, modeViewing)
	r.showPost(ctx, m.ChatID, 0)
}

func (r *Router) handleViewing(ctx context.Context, m *kit.Message) {
	s := r.session(m.ChatID)
	switch m.Text {
	case btnNext:
		posts, err := r.store.List(ctx)
		if err != nil || len(posts) == 0 {
			break
		}
		r.mu.Lock()
		if s.viewIndex < len(posts)-1 {
			s.viewIndex++
		}
		idx := s.viewIndex
		r.mu.Unlock()
		r.showPost(ctx, m.ChatID, idx)

	case btnPrev:
		r.mu.Lock()
		if s.viewIndex > 0 {
			s.viewIndex--
		}
		idx := s.viewIndex
		r.mu.Unlock()
		r.showPost(ctx, m.ChatID, idx)

	case btnDelete:
		r.deleteCurrent(ctx, m)

	case btnDoneView:
		r.setMode(m.ChatID, modeIdle)
		r.reply(ctx, m.ChatID, "Back to the main menu ✅", mainKeyboard())
	}
}

// deleteCurrent removes exactly the viewed post; all other posts keep their
// relative order.
func (r *Router) deleteCurrent(ctx context.Context, m *kit.Message) {
	s := r.session(m.ChatID)
	r.mu.Lock()
	idx := s.viewIndex
	r.mu.Unlock()

	var deleted *queue.Post
	var remaining int
	err := r.store.Mutate(ctx, func(posts []queue.Post) ([]queue.Post, error) {
		if idx < 0 || idx >= len(posts) {
			remaining = len(posts)
			return posts, nil
		}
		p := posts[idx]
		deleted = &p
		posts = append(posts[:idx], posts[idx+1:]...)
		remaining = len(posts)
		return posts, nil
	})
	if err != nil {
		r.log.Error("post delete failed", logx.Err(err))
		r.reply(ctx, m.ChatID, "Could not delete that post.", viewKeyboard())
		return
	}
	if deleted != nil {
		r.audit.Append(ctx, audit.Entry{
			ActorID: m.FromID,
			Action:  "post.delete",
			Target:  deleted.ID,
			Detail:  string(deleted.Kind) + " @ " + deleted.Time.String(),
		})
	}

	if remaining == 0 {
		r.setMode(m.ChatID, modeIdle)
		r.reply(ctx, m.ChatID, "All posts deleted.", mainKeyboard())
		return
	}
	r.mu.Lock()
	if s.viewIndex > 0 {
		s.viewIndex--
	}
	next := s.viewIndex
	r.mu.Unlock()
	r.showPost(ctx, m.ChatID, next)
}

// showPost previews the post at idx in the operator chat, content first,
// then a position footer with the browse keyboard.
func (r *Router) showPost(ctx context.Context, chatID int64, idx int) {
	posts, err := r.store.List(ctx)
	if err != nil || idx >= len(posts) {
		return
	}
	post := posts[idx]
	to := kit.ChatTarget{ChatID: chatID}
	opt := &kit.SendOptions{ParseMode: "HTML"}

	r.reply(ctx, chatID, "Post for "+post.Time.String()+":", nil)

	switch post.Kind {
	case queue.KindSingle:
		if len(post.Media) > 0 {
			_, err = r.adapter.SendMedia(ctx, to, mediaItem(post.Media[0]), post.Caption, opt)
		}
	case queue.KindAlbum:
		items := make([]kit.MediaItem, 0, len(post.Media))
		for _, mr := range post.Media {
			items = append(items, mediaItem(mr))
		}
		_, err = r.adapter.SendAlbum(ctx, to, items, post.Caption, opt)
	case queue.KindText:
		_, err = r.adapter.SendText(ctx, to, post.Text, opt)
	}
	if err != nil {
		r.log.Warn("post preview failed", logx.String("post", post.ID), logx.Err(err))
	}

	r.reply(ctx, chatID, fmt.Sprintf("Viewing %d/%d", idx+1, len(posts)), viewKeyboard())
}

// ---- settings ----

func (r *Router) showSettings(ctx context.Context, m *kit.Message) {
	cfg := r.settings.Get()
	r.setMode(m.ChatID, modeIdle)
	r.reply(ctx, m.ChatID, fmt.Sprintf(
		"<b>Current settings:</b>\n<b>Channel:</b> %s\n<b>Times:</b> %s\n<b>Footer:</b> %s",
		cfg.ChannelID, strings.Join(cfg.PublishTimes, ", "), cfg.StandardText), settingsKeyboard())
}

func (r *Router) handleSetChannel(ctx context.Context, m *kit.Message) {
	if m.Text == "" {
		return
	}
	_, err := r.settings.Update(func(s *settings.Settings) error {
		s.ChannelID = strings.TrimSpace(m.Text)
		return nil
	})
	if err != nil {
		r.log.Error("channel update failed", logx.Err(err))
		r.reply(ctx, m.ChatID, "Could not save the channel, try again.", settingsKeyboard())
		return
	}
	r.audit.Append(ctx, audit.Entry{ActorID: m.FromID, Action: "settings.channel", Detail: strings.TrimSpace(m.Text)})
	r.setMode(m.ChatID, modeIdle)
	r.reply(ctx, m.ChatID, "✅ Channel updated!", settingsKeyboard())
}

func (r *Router) handleSetTimes(ctx context.Context, m *kit.Message) {
	if m.Text == "" {
		return
	}
	raw := strings.Split(m.Text, ",")
	for i := range raw {
		raw[i] = strings.TrimSpace(raw[i])
	}
	_, err := r.settings.Update(func(s *settings.Settings) error {
		s.PublishTimes = raw
		return nil
	})
	if err != nil {
		// Validation failure: prior settings unchanged, operator re-prompted.
		r.reply(ctx, m.ChatID, "❌ Invalid time format. Use HH:MM, comma-separated (e.g. <code>09:00, 13:00, 17:00</code>)",
			settingsKeyboard())
		return
	}
	r.audit.Append(ctx, audit.Entry{ActorID: m.FromID, Action: "settings.times", Detail: strings.Join(raw, ",")})
	r.setMode(m.ChatID, modeIdle)
	r.reply(ctx, m.ChatID, "✅ Publish times updated!", settingsKeyboard())
}

func (r *Router) handleSetFooter(ctx context.Context, m *kit.Message) {
	if m.Text == "" {
		return
	}
	_, err := r.settings.Update(func(s *settings.Settings) error {
		s.StandardText = m.Text
		return nil
	})
	if err != nil {
		r.log.Error("footer update failed", logx.Err(err))
		r.reply(ctx, m.ChatID, "Could not save the footer, try again.", settingsKeyboard())
		return
	}
	r.audit.Append(ctx, audit.Entry{ActorID: m.FromID, Action: "settings.text"})
	r.setMode(m.ChatID, modeIdle)
	r.reply(ctx, m.ChatID, "✅ Footer text updated!", settingsKeyboard())
}

func (r *Router) promptSetting(ctx context.Context, m *kit.Message, newMode mode, prompt string) {
	r.setMode(m.ChatID, newMode)
	r.reply(ctx, m.ChatID, prompt, nil)
}

func (r *Router) reply(ctx context.Context, chatID int64, text string, markup *tele.ReplyMarkup) {
	opt := &kit.SendOptions{ParseMode: "HTML"}
	if markup != nil {
		opt.ReplyMarkupAdapter = markup
	}
	if _, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, opt); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}

func mediaItem(m queue.MediaRef) kit.MediaItem {
	return kit.MediaItem{Kind: kit.MediaKind(m.Kind), FileID: m.FileID}
}

// Package app wires the bot together: config, logging, stores, transport,
// intake, the publish loop and background maintenance.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"postbot/internal/album"
	"postbot/internal/audit"
	"postbot/internal/bot"
	"postbot/internal/config"
	"postbot/internal/intake"
	"postbot/internal/publish"
	"postbot/internal/queue"
	rtsup "postbot/internal/runtime/supervisor"
	"postbot/internal/settings"
	kit "postbot/internal/transport"
	tgadapter "postbot/internal/transport/telegram/adapter"
	logx "postbot/pkg/logx"
)

const updateBuffer = 64

type App struct {
	manager *config.Manager
	log     logx.Logger
	logC    io.Closer

	store    queue.Store
	settings *settings.Store
	audit    *audit.Log

	adapter   *tgadapter.Adapter
	collator  *album.Collator
	pipeline  *intake.Pipeline
	router    *bot.Router
	publisher *publish.Publisher

	cron *cron.Cron
	sup  *rtsup.Supervisor

	pruneAfter time.Duration
}

func New(cfgPath string) (*App, error) {
	manager := config.NewManager(cfgPath)
	cfg, err := manager.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, logC, err := logx.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	manager.SetLogger(log.With(logx.String("comp", "config")))

	token := strings.TrimSpace(cfg.Telegram.Token)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	}
	if token == "" {
		return nil, errors.New("telegram token missing: set telegram.token or BOT_TOKEN")
	}
	pollTimeout, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if err != nil {
		return nil, err
	}

	adapter, err := tgadapter.New(tgadapter.Config{Token: token, PollTimeout: pollTimeout},
		log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	storageCfg := cfg.Storage
	queuePath := storageCfg.QueuePath
	if queuePath == "" {
		queuePath = "./posts.json"
	}
	settingsPath := storageCfg.SettingsPath
	if settingsPath == "" {
		settingsPath = "./channel.json"
	}
	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", storageCfg.BusyTimeout)
	if err != nil {
		return nil, err
	}

	store, err := queue.Open(queue.Config{
		Driver:      storageCfg.Driver,
		Path:        queuePath,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "queue")))
	if err != nil {
		return nil, err
	}

	st, err := settings.Open(settingsPath, log.With(logx.String("comp", "settings")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	auditLog, err := audit.Open(storageCfg.AuditPath, log.With(logx.String("comp", "audit")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	probe, quiesce, pruneAfter, err := cfg.AlbumTimings()
	if err != nil {
		return nil, err
	}
	collator := album.New(album.Config{ProbeDelay: probe, Quiescence: quiesce})

	pipeline := intake.New(store, st, collator, log.With(logx.String("comp", "intake")))

	poll, due, idle, backoff, err := cfg.PublisherTimings()
	if err != nil {
		return nil, err
	}
	publisher := publish.New(publish.Config{
		PollInterval: poll,
		DueWindow:    due,
		IdleBackoff:  idle,
		ErrorBackoff: backoff,
		RatePerMin:   cfg.Publisher.RatePerMin,
	}, store, st, adapter, log.With(logx.String("comp", "publish")))

	// Admin checks read the live config so a reload can rotate operators
	// without a restart.
	isAdmin := func(id int64) bool {
		c := manager.Get()
		return c != nil && c.IsAdmin(id)
	}
	router := bot.New(adapter, pipeline, store, st, auditLog, isAdmin,
		log.With(logx.String("comp", "bot")))

	return &App{
		manager:    manager,
		log:        log,
		logC:       logC,
		store:      store,
		settings:   st,
		audit:      auditLog,
		adapter:    adapter,
		collator:   collator,
		pipeline:   pipeline,
		router:     router,
		publisher:  publisher,
		pruneAfter: pruneAfter,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, a.log.With(logx.String("comp", "supervisor")))

	updates := make(chan kit.Update, updateBuffer)
	if err := a.adapter.Start(a.sup.Context(), updates); err != nil {
		return err
	}

	// Dispatch: each update gets its own goroutine so an album fragment's
	// quiescence probe never stalls unrelated submissions. Queue writes are
	// serialized inside the store, not here.
	a.sup.Go("updates.dispatch", func(c context.Context) error {
		for {
			select {
			case <-c.Done():
				return nil
			case up := <-updates:
				go a.router.HandleUpdate(c, up)
			}
		}
	})

	a.sup.GoRestart("publish.loop", time.Second, 30*time.Second, a.publisher.Run)

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.manager.Watch(c)
	})

	// Maintenance: discard album bursts that were never terminated, so
	// abandoned uploads can't grow the pending map forever.
	a.cron = cron.New()
	_, err := a.cron.AddFunc("@every 10m", func() {
		if n := a.collator.PruneStale(a.pruneAfter); n > 0 {
			a.log.Warn("stale album bursts discarded", logx.Int("count", n))
		}
	})
	if err != nil {
		return err
	}
	a.cron.Start()

	a.log.Info("postbot started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
	if a.sup != nil {
		a.sup.Cancel()
	}
	_ = a.adapter.Stop(ctx)
	if a.sup != nil {
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = a.sup.Wait(wctx)
	}

	_ = a.audit.Close()
	_ = a.store.Close()
	if a.logC != nil {
		_ = a.logC.Close()
	}
	a.log.Info("postbot stopped")
	return nil
}

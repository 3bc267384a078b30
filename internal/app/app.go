// Package app wires config, logging, storage, the chat adapter, the schedule
// engine and the command dispatcher into one supervised process.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"schedbot/internal/commands"
	"schedbot/internal/config"
	"schedbot/internal/runtime/supervisor"
	"schedbot/internal/schedule"
	"schedbot/internal/storage"
	kit "schedbot/internal/transport"
	"schedbot/internal/transport/telegram"
	logx "schedbot/pkg/logx"
)

const menuPublishTimeout = 15 * time.Second

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	store storage.Store

	adapter  kit.Adapter
	schedule *schedule.Manager
	dispatch *commands.Dispatcher

	updates chan kit.Update
}

// New loads the config file at cfgPath and builds the app around a Telegram
// adapter. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}
	return build(ctx, cfgm, cfg, ad)
}

func build(ctx context.Context, cfgm *config.Manager, cfg *config.Config, ad kit.Adapter) (*App, error) {
	logSvc, log := logx.New(loggingConfig(cfg), ad)

	sc, err := storageConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(ctx, sc, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	log.With(logx.String("comp", "app")).Info("storage opened", logx.String("driver", storageDriver(sc)))

	settings, err := schedule.SettingsFromConfig(cfg.Schedule)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	mgr := schedule.NewManager(store, ad, settings,
		schedule.WithLogger(log.With(logx.String("comp", "schedule"))))
	disp := commands.New(ad, mgr,
		commands.WithLogger(log),
		commands.WithAdmins(cfg.Telegram.Admins))

	return &App{
		cfgm:     cfgm,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		store:    store,
		adapter:  ad,
		schedule: mgr,
		dispatch: disp,
		updates:  make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := schedule.SettingsFromConfig(cfg.Schedule); err != nil {
			return err
		}
		_, err := storageConfig(cfg)
		return err
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if err := a.schedule.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.dispatch.Run(c, a.updates)
	})
	a.sup.Go0("commands.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, menuPublishTimeout)
		defer cancel()
		if err := a.dispatch.PublishMenu(mctx); err != nil {
			a.log.Warn("command menu publish failed", logx.Err(err))
		}
	})

	sub, unsub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer unsub()
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig pushes a committed reload into the running components. Storage
// and telegram changes only take effect after a restart.
func (a *App) applyConfig(prev, next *config.Config) {
	sections := changedSections(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		switch s {
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case "telegram.connection":
			a.log.Warn("telegram connection settings changed; restart required for changes to take effect")
		}
	}

	a.logs.Apply(loggingConfig(next))
	a.dispatch.SetAdmins(next.Telegram.Admins)

	settings, err := schedule.SettingsFromConfig(next.Schedule)
	if err != nil {
		a.log.Warn("invalid schedule config; keeping previous", logx.Err(err))
	} else {
		a.schedule.Apply(settings)
	}
	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

// Stop cancels the run context and shuts components down in dependency order,
// each step bounded so one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	a.step(ctx, "schedule", 5*time.Second, a.schedule.Stop)
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "supervisor", 4*time.Second, a.sup.Wait)
	a.step(ctx, "storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped (no time left)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}

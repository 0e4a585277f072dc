// Package app wires the relay, its Telegram transport and the optional
// operator services into one supervised process.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lotebot/internal/config"
	"lotebot/internal/eventbus"
	"lotebot/internal/observability/debug"
	"lotebot/internal/observability/metrics"
	"lotebot/internal/relay"
	"lotebot/internal/report"
	rtsup "lotebot/internal/runtime/supervisor"
	"lotebot/internal/storage"
	kit "lotebot/internal/transport"
	telegram "lotebot/internal/transport/telegram/adapter"
	"lotebot/internal/transport/telegram/router"
	logx "lotebot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter

	metrics  *metrics.Relay
	interval *relay.IntervalPolicy
	relay    *relay.Scheduler
	recorder *storage.Recorder
	recSup   *rtsup.Supervisor
	debug    *debug.Service
	report   *report.Service

	cmdm *router.CommandManager
	serv *router.Services

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Telegram logging starts disabled so Apply doesn't warn about a missing
	// target before SetTelegramTarget runs.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	if chatID, ok := config.GroupLogChatID(cfg.Telegram); ok {
		logSvc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	iv, err := config.RelayInterval(cfg.Relay)
	if err != nil {
		return nil, err
	}
	policy, err := relay.NewIntervalPolicy(iv)
	if err != nil {
		return nil, err
	}
	dcfg, err := mapDispatcherConfig(cfg)
	if err != nil {
		return nil, err
	}
	rcfg, err := mapRelayConfig(cfg)
	if err != nil {
		return nil, err
	}
	relayLog := log.With(logx.String("comp", "relay"))
	m := metrics.New(cfg.Debug.RuntimeMetrics)
	disp := relay.NewDispatcher(relay.MoverTransport{Mover: ad}, dcfg, relayLog, bus)
	sched, err := relay.NewScheduler(rcfg, policy, disp,
		relay.WithLogger(relayLog),
		relay.WithBus(bus),
		relay.WithObserver(m),
	)
	if err != nil {
		return nil, err
	}

	repCfg, err := report.FromConfig(cfg)
	if errors.Is(err, report.ErrNoTarget) {
		log.Warn("report enabled without a numeric telegram.group_log; report disabled")
		repCfg, err = report.Config{}, nil
	}
	if err != nil {
		return nil, err
	}

	serv := &router.Services{Relay: sched, Store: store}
	cmdm := router.NewCommandManager(log.With(logx.String("comp", "commands")),
		ad, cfgm, serv, cfg.Telegram.OwnerUserIDs)

	a := &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		metrics:  m,
		interval: policy,
		relay:    sched,
		debug:    debug.New(debug.FromConfig(cfg.Debug), debug.Sources{Relay: sched, Metrics: m.Handler()}, log),
		report:   report.New(repCfg, sched, ad, log),
		cmdm:     cmdm,
		serv:     serv,
		updates:  make(chan kit.Update, 256),
	}
	if store != nil {
		a.recorder = storage.NewRecorder(store, bus, log.With(logx.String("comp", "storage")))
	}
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Relay exposes the scheduler for health checks.
func (a *App) Relay() *relay.Scheduler { return a.relay }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.serv.AppSupervisor = a.sup

	// Reloads are validated here before they are committed or published.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateRuntime(cfg)
	})

	a.cmdm.SetRegistry(router.RelayCommands())

	// The recorder outlives the app context so batches finished during
	// shutdown are still persisted; Stop cancels it after the relay.
	if a.recorder != nil {
		a.recSup = rtsup.New(context.WithoutCancel(ctx), rtsup.WithLogger(a.log))
		a.recSup.Go0("storage.recorder", a.recorder.Run)
	}

	a.relay.Start(a.sup.Context())
	a.debug.Start(a.sup.Context())
	if err := a.report.Start(a.sup.Context()); err != nil {
		return err
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.logEvent(e)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	st := a.relay.Status()
	a.log.Info("app started",
		logx.String("destination", st.Destination),
		logx.Duration("interval", st.Interval),
		logx.Int("batch_max", st.MaxBatch),
	)
	return nil
}

func (a *App) logEvent(e eventbus.Event) {
	switch e.Type {
	case relay.EventStateChanged:
		if sc, ok := e.Data.(relay.StateChange); ok {
			a.log.Debug("relay state",
				logx.String("from", sc.From.String()),
				logx.String("to", sc.To.String()),
				logx.Time("fire_at", sc.FireAt),
			)
			return
		}
	case relay.EventBatchDispatched:
		if rep, ok := e.Data.(relay.BatchReport); ok {
			a.log.Debug("relay batch event",
				logx.String("batch", rep.BatchID),
				logx.Int("size", rep.Size()),
			)
			return
		}
	}
	a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
}

// validateRuntime checks what config.Validate can't: values that only the
// components consuming them know how to parse.
func validateRuntime(cfg *config.Config) error {
	var errs []error
	if _, _, err := mapStorageConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapRelayConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapDispatcherConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := report.FromConfig(cfg); err != nil && !errors.Is(err, report.ErrNoTarget) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	// Stop intake first, then the relay so no new batch starts, then the
	// side services. Storage closes only after the recorder has drained.
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "relay", 3*time.Second, func(c context.Context) error { return a.relay.Stop(c) })
	a.step(ctx, "report", time.Second, func(c context.Context) error { a.report.Stop(c); return nil })
	a.step(ctx, "debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	a.step(ctx, "recorder", time.Second, func(c context.Context) error {
		if a.recSup == nil {
			return nil
		}
		a.recSup.Cancel()
		return a.recSup.Wait(c)
	})
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	if st := a.relay.Status(); st.QueueLen > 0 {
		a.log.Warn("pending items dropped on shutdown", logx.Int("pending", st.QueueLen))
	}
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step bounded by max and the caller's deadline.
// A step that overruns is left running and reported when it finishes.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped, no time left", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
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
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			fields := []logx.Field{logx.String("name", name), logx.Duration("took", time.Since(start))}
			if err != nil {
				fields = append(fields, logx.Err(err))
			}
			a.log.Warn("stop step finished after deadline", fields...)
		}()
	}
}

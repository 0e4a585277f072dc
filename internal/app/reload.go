package app

import (
	"context"
	"errors"
	"strings"

	"lotebot/internal/config"
	"lotebot/internal/observability/debug"
	"lotebot/internal/report"
	logx "lotebot/pkg/logx"
)

func (a *App) reloadLoop(c context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the newest config is applied.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			if next == nil {
				continue
			}
			a.applyConfig(c, lastApplied, next)
			lastApplied = next
		}
	}
}

// applyConfig pushes a validated config into the running components.
func (a *App) applyConfig(c context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) > 0 {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Debug("config change summary", fields...)
	} else {
		a.log.Debug("config reload received, but no effective changes detected")
	}

	if keys := restartRequired(prev, next); len(keys) > 0 {
		a.log.Warn("config change requires restart to take effect", logx.String("keys", strings.Join(keys, ",")))
	}

	// Target first so Apply doesn't warn when Telegram logging is enabled.
	if chatID, ok := config.GroupLogChatID(next.Telegram); ok {
		a.logs.SetTelegramTarget(chatID, next.Logging.Telegram.ThreadID)
	} else {
		a.logs.SetTelegramTarget(0, 0)
	}
	a.logs.Apply(mapLogConfig(next))

	a.cmdm.SetOwners(next.Telegram.OwnerUserIDs)

	if d, changed := intervalChanged(prev, next); changed {
		if err := a.interval.Set(d); err != nil {
			a.log.Warn("invalid relay.interval; keeping previous", logx.Err(err))
		} else {
			a.log.Info("relay interval updated from config", logx.Duration("interval", d))
		}
	}
	if rc, err := mapRelayConfig(next); err != nil {
		a.log.Warn("invalid relay config; keeping previous", logx.Err(err))
	} else if err := a.relay.Apply(rc); err != nil {
		a.log.Warn("relay config rejected; keeping previous", logx.Err(err))
	}

	a.debug.Reconfigure(c, debug.FromConfig(next.Debug))

	repCfg, err := report.FromConfig(next)
	switch {
	case errors.Is(err, report.ErrNoTarget):
		a.log.Warn("report enabled without a numeric telegram.group_log; report disabled")
		repCfg = report.Config{}
		fallthrough
	case err == nil:
		if err := a.report.Apply(c, repCfg); err != nil {
			a.log.Warn("report reschedule failed", logx.Err(err))
		}
	default:
		a.log.Warn("invalid report config; keeping previous", logx.Err(err))
	}

	if len(sections) > 0 {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config reloaded", fields...)
	} else {
		a.log.Info("config reloaded (no changes)")
	}
}

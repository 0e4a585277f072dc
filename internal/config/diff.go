package config

import (
	"reflect"
	"sort"
	"strings"

	logx "lotebot/pkg/logx"
)

// SummarizeChange returns the changed top-level sections and safe fields
// for a reload log line. Tokens are never included, only whether one is set.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		attrs   []logx.Field
	)
	section := func(name string, differ bool, fields ...logx.Field) {
		if !differ {
			return
		}
		changed = append(changed, name)
		attrs = append(attrs, fields...)
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	section("telegram",
		ot.Token != nt.Token ||
			strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
			!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
			strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
			ot.AckEnabled() != nt.AckEnabled(),
		logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
		logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
		logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
		logx.Bool("telegram.ack_items", nt.AckEnabled()),
	)

	or, nr := oldCfg.Relay, newCfg.Relay
	section("relay",
		or.Destination != nr.Destination ||
			or.Interval != nr.Interval ||
			!reflect.DeepEqual(or.IntervalPresets, nr.IntervalPresets) ||
			or.BatchMax != nr.BatchMax ||
			or.Order != nr.Order ||
			or.DeleteEnabled() != nr.DeleteEnabled() ||
			or.HistorySize != nr.HistorySize ||
			or.SendRatePerSec != nr.SendRatePerSec,
		logx.String("relay.destination", nr.Destination),
		logx.String("relay.interval", nr.Interval),
		logx.Int("relay.batch_max", nr.BatchMax),
		logx.String("relay.order", nr.Order),
		logx.Bool("relay.delete_originals", nr.DeleteEnabled()),
	)

	section("logging", !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging),
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.console", newCfg.Logging.Console),
		logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
	)

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	section("storage", oS != nS,
		logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
		logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		logx.String("storage.busy_timeout", strings.TrimSpace(nS.BusyTimeout)),
	)

	od, nd := oldCfg.Debug, newCfg.Debug
	tokenSetChanged := (od.Token != "") != (nd.Token != "")
	od.Token, nd.Token = "", ""
	section("debug", od != nd || tokenSetChanged,
		logx.Bool("debug.enabled", nd.Enabled),
		logx.String("debug.addr", strings.TrimSpace(nd.Addr)),
		logx.Bool("debug.token_set", newCfg.Debug.Token != ""),
		logx.Bool("debug.pprof", nd.Pprof),
	)

	section("report", oldCfg.Report != newCfg.Report,
		logx.Bool("report.enabled", newCfg.Report.Enabled),
		logx.String("report.schedule", newCfg.Report.Schedule),
	)

	sort.Strings(changed)
	return changed, attrs
}

package app

import (
	"fmt"
	"strings"
	"time"

	"lotebot/internal/config"
	"lotebot/internal/relay"
	"lotebot/internal/storage"
	kit "lotebot/internal/transport"
	logx "lotebot/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapRelayConfig(cfg *config.Config) (relay.Config, error) {
	order, err := relay.ParseOrder(cfg.Relay.Order)
	if err != nil {
		return relay.Config{}, err
	}
	return relay.Config{
		MaxBatch:    cfg.Relay.BatchMax,
		Order:       order,
		HistorySize: cfg.Relay.HistorySize,
	}, nil
}

func mapDispatcherConfig(cfg *config.Config) (relay.DispatcherConfig, error) {
	id, user, err := config.ParseDestination(cfg.Relay.Destination)
	if err != nil {
		return relay.DispatcherConfig{}, err
	}
	return relay.DispatcherConfig{
		Destination:     kit.ChatTarget{ChatID: id, Username: user},
		DeleteOriginals: cfg.Relay.DeleteEnabled(),
		RatePerSec:      cfg.Relay.SendRatePerSec,
	}, nil
}

// restartRequired lists changed settings that are only read at startup.
func restartRequired(oldCfg, newCfg *config.Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Telegram.Token != newCfg.Telegram.Token {
		out = append(out, "telegram.token")
	}
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) {
		out = append(out, "telegram.poll_timeout")
	}
	if strings.TrimSpace(oldCfg.Relay.Destination) != strings.TrimSpace(newCfg.Relay.Destination) {
		out = append(out, "relay.destination")
	}
	if oldCfg.Relay.DeleteEnabled() != newCfg.Relay.DeleteEnabled() {
		out = append(out, "relay.delete_originals")
	}
	if oldCfg.Relay.SendRatePerSec != newCfg.Relay.SendRatePerSec {
		out = append(out, "relay.send_rate_per_sec")
	}
	var oS, nS config.StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		out = append(out, "storage")
	}
	if oldCfg.Debug.RuntimeMetrics != newCfg.Debug.RuntimeMetrics {
		out = append(out, "debug.runtime_metrics")
	}
	return out
}

// intervalChanged reports whether relay.interval resolves to a different
// duration. A value set at runtime with /interval survives reloads that
// leave the file's interval alone.
func intervalChanged(oldCfg, newCfg *config.Config) (time.Duration, bool) {
	next, err := config.RelayInterval(newCfg.Relay)
	if err != nil {
		return 0, false
	}
	if oldCfg == nil {
		return next, true
	}
	prev, err := config.RelayInterval(oldCfg.Relay)
	if err != nil {
		return next, true
	}
	return next, prev != next
}

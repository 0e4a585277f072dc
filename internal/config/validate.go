package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultInterval  = 10 * time.Minute
	DefaultBatchMax  = 100
	DefaultDebugAddr = "127.0.0.1:6060"
)

// DefaultIntervalPresets feed the /interval keyboard when none are configured.
var DefaultIntervalPresets = []time.Duration{
	time.Minute, 5 * time.Minute, 10 * time.Minute, 30 * time.Minute, time.Hour, 2 * time.Hour,
}

// Validate checks what can be checked without side effects. It collects
// every problem instead of stopping at the first.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(fmt.Errorf("telegram.token is required (or set %s)", EnvToken))
	}
	_, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	add(err)
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if _, ok := GroupLogChatID(cfg.Telegram); !ok {
			add(fmt.Errorf("telegram.group_log: want a numeric chat id, got %q", g))
		}
	}

	if strings.TrimSpace(cfg.Relay.Destination) == "" {
		add(fmt.Errorf("relay.destination is required (or set %s)", EnvChannelID))
	} else if _, _, err := ParseDestination(cfg.Relay.Destination); err != nil {
		add(err)
	}
	_, err = RelayInterval(cfg.Relay)
	add(err)
	_, err = IntervalPresets(cfg.Relay)
	add(err)
	if cfg.Relay.SendRatePerSec < 0 {
		add(errors.New("relay.send_rate_per_sec must be >= 0"))
	}
	if cfg.Relay.BatchMax < 0 {
		add(errors.New("relay.batch_max must be >= 0"))
	}
	if cfg.Relay.HistorySize < 0 {
		add(errors.New("relay.history_size must be >= 0"))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Relay.Order)) {
	case "", "newest_first", "oldest_first":
	default:
		add(fmt.Errorf("relay.order: want newest_first or oldest_first, got %q", cfg.Relay.Order))
	}

	if s := cfg.Storage; s != nil {
		_, err = ParseDurationField("storage.busy_timeout", s.BusyTimeout)
		add(err)
	}

	if cfg.Debug.Enabled {
		_, err = ParseDurationField("debug.read_timeout", cfg.Debug.ReadTimeout)
		add(err)
		_, err = ParseDurationField("debug.idle_timeout", cfg.Debug.IdleTimeout)
		add(err)
	}

	if cfg.Report.Enabled {
		if strings.TrimSpace(cfg.Report.Schedule) == "" {
			add(errors.New("report.schedule is required when report.enabled"))
		}
		if strings.TrimSpace(cfg.Telegram.GroupLog) == "" {
			add(errors.New("report.enabled needs telegram.group_log"))
		}
		if tz := strings.TrimSpace(cfg.Report.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				add(fmt.Errorf("report.timezone: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}

// RelayInterval returns relay.interval or DefaultInterval when omitted.
func RelayInterval(r RelayConfig) (time.Duration, error) {
	d, err := ParseDurationOrDefault("relay.interval", r.Interval, DefaultInterval)
	if err != nil {
		return 0, err
	}
	return d, nil
}

func IntervalPresets(r RelayConfig) ([]time.Duration, error) {
	if len(r.IntervalPresets) == 0 {
		return append([]time.Duration(nil), DefaultIntervalPresets...), nil
	}
	out := make([]time.Duration, 0, len(r.IntervalPresets))
	for i, raw := range r.IntervalPresets {
		d, err := ParseDurationField(fmt.Sprintf("relay.interval_presets[%d]", i), raw)
		if err != nil {
			return nil, err
		}
		if d <= 0 {
			return nil, fmt.Errorf("relay.interval_presets[%d]: must be > 0", i)
		}
		out = append(out, d)
	}
	return out, nil
}

// GroupLogChatID returns telegram.group_log as a chat id. ok is false when
// unset or not numeric.
func GroupLogChatID(t TelegramConfig) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(t.GroupLog), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// ParseDestination accepts "@username" or a numeric chat id.
func ParseDestination(raw string) (chatID int64, username string, err error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "@") {
		if len(s) < 2 {
			return 0, "", fmt.Errorf("relay.destination: empty username")
		}
		return 0, s, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return 0, "", fmt.Errorf("relay.destination: want @username or chat id, got %q", raw)
	}
	return id, "", nil
}

// ParseDurationField parses a Go duration string. Empty means 0; negative
// values are rejected. path names the field in errors.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// MinutesDuration converts a count of minutes to a Duration. It reports
// false for NaN, infinities, non-positive values and anything that would
// overflow a Duration.
func MinutesDuration(minutes float64) (time.Duration, bool) {
	if math.IsNaN(minutes) || math.IsInf(minutes, 0) || minutes <= 0 {
		return 0, false
	}
	ns := minutes * float64(time.Minute)
	if ns >= math.MaxInt64 {
		return 0, false
	}
	return time.Duration(ns), true
}

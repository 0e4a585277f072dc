package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file values. They keep deployments
// that only set TOKEN and CHANNEL_ID working without a config file edit.
const (
	EnvToken       = "TOKEN"
	EnvChannelID   = "CHANNEL_ID"
	EnvWaitMinutes = "WAIT_MINUTES"
	EnvBatchSize   = "BATCH_SIZE"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays the environment onto cfg. lookup is os.LookupEnv in
// production and a map in tests.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if cfg == nil {
		return nil
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvChannelID); ok {
		cfg.Relay.Destination = v
	}
	if v, ok := get(EnvWaitMinutes); ok {
		n, err := strconv.ParseFloat(v, 64)
		d, ok := MinutesDuration(n)
		if err != nil || !ok {
			return fmt.Errorf("%s: want a positive number of minutes, got %q", EnvWaitMinutes, v)
		}
		cfg.Relay.Interval = d.String()
	}
	if v, ok := get(EnvBatchSize); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s: want a positive integer, got %q", EnvBatchSize, v)
		}
		cfg.Relay.BatchMax = n
	}
	return nil
}

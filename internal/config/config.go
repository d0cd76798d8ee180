// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads the YAML configuration file, folds environment
// defaults underneath it, and sanitizes the result into a read-only
// domain.Config. Precedence for general knobs is YAML over environment
// over built-in default; manager endpoints come from the environment only.
package config

import (
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/autobrr/sweeparr/internal/domain"
)

// AppConfig couples the parsed configuration with the viper instance that
// produced it.
type AppConfig struct {
	Config *domain.Config

	v    *viper.Viper
	path string
}

// New reads the config file at path. A missing file is not an error; the
// daemon then runs on defaults and environment endpoints alone.
func New(path string) (*AppConfig, error) {
	c := &AppConfig{
		Config: &domain.Config{},
		v:      viper.New(),
		path:   path,
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	sanitize(c.Config)
	validate(c.Config)
	return c, nil
}

// Path returns the config file path this instance was loaded from.
func (c *AppConfig) Path() string {
	return c.path
}

// Watch reloads the config file on change and hands the fresh result to fn.
// A change that fails to load is ignored; the running config stays in effect.
func (c *AppConfig) Watch(fn func(*domain.Config)) {
	c.v.OnConfigChange(func(_ fsnotify.Event) {
		fresh, err := New(c.path)
		if err != nil {
			log.Error().Err(err).Msg("Ignoring config change that failed to load")
			return
		}
		fn(fresh.Config)
	})
	c.v.WatchConfig()
}

func (c *AppConfig) load() error {
	c.v.SetConfigFile(c.path)
	c.v.SetConfigType("yaml")
	setDefaults(c.v)

	if err := c.v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return errors.Wrapf(err, "config file %q", c.path)
		}
		log.Debug().Str("path", c.path).Msg("Config file not found; continuing with defaults")
	}

	if err := c.v.Unmarshal(c.Config); err != nil {
		return errors.Wrap(err, "unmarshal config")
	}

	// Viper lowercases map keys, so the services block is decoded per
	// canonical manager name instead of through the struct tags.
	c.Config.Services = make(map[string]*domain.ManagerConfig, len(domain.ManagerNames))
	for _, name := range domain.ManagerNames {
		mc := &domain.ManagerConfig{}
		key := "services." + strings.ToLower(name)
		if c.v.IsSet(key) {
			if err := c.v.UnmarshalKey(key, mc); err != nil {
				return errors.Wrapf(err, "unmarshal %s", key)
			}
		}
		upper := strings.ToUpper(name)
		mc.APIURL = os.Getenv(upper + "_URL")
		mc.APIKey = os.Getenv(upper + "_API_KEY")
		c.Config.Services[name] = mc
	}

	c.Config.General.GlobalStallLimit = envInt("GLOBAL_STALL_LIMIT", domain.DefaultStallLimit)
	return nil
}

// setDefaults registers built-in defaults, letting a set environment
// variable replace the hard default while YAML still wins over both.
func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug_logging", envBool("DEBUG_LOGGING", false))
	v.SetDefault("general.structured_logs", envBool("STRUCTURED_LOGS", true))
	v.SetDefault("general.dry_run", envBool("DRY_RUN", false))
	v.SetDefault("general.explain_decisions", envBool("EXPLAIN_DECISIONS", false))
	v.SetDefault("general.request_timeout", envInt("REQUEST_TIMEOUT", domain.DefaultRequestTimeout))
	v.SetDefault("general.retry_attempts", envInt("RETRY_ATTEMPTS", domain.DefaultRetryAttempts))
	v.SetDefault("general.retry_backoff", envFloat("RETRY_BACKOFF", domain.DefaultRetryBackoff))
	v.SetDefault("general.strike_file_path", envString("STRIKE_FILE_PATH", domain.DefaultStrikeFilePath))
	v.SetDefault("general.api_timeout", envInt("API_TIMEOUT", domain.DefaultAPITimeout))
	v.SetDefault("general.reset_strikes_on_progress", envString("RESET_STRIKES_ON_PROGRESS", domain.DefaultResetStrikesOnProgress))
	v.SetDefault("general.check_for_updates", envBool("CHECK_FOR_UPDATES", true))
	v.SetDefault("general.http.host", domain.DefaultHTTPHost)
	v.SetDefault("general.http.port", domain.DefaultHTTPPort)

	v.SetDefault("rule_engine.torrent_seeder_stall_threshold", envInt("TORRENT_SEEDER_STALL_THRESHOLD", domain.DefaultSeederStallThreshold))
	v.SetDefault("rule_engine.torrent_seeder_stall_progress_ceiling", envFloat("TORRENT_SEEDER_STALL_PROGRESS_CEILING", domain.DefaultSeederStallProgressCeiling))
	v.SetDefault("rule_engine.large_progress_ceiling_percent", domain.DefaultLargeProgressCeiling)
	v.SetDefault("rule_engine.reannounce.cooldown_minutes", domain.DefaultReannounceCooldownMinutes)
	v.SetDefault("rule_engine.reannounce.max_attempts", domain.DefaultReannounceMaxAttempts)
	v.SetDefault("rule_engine.reannounce.only_when_seeds_zero", true)
}

// sanitize clamps user-provided numerics to sane ranges. Keys the user
// never set stay nil so the resolver falls through to its defaults.
func sanitize(cfg *domain.Config) {
	clampOverrides(&cfg.RuleEngine.RuleOverrides)
	if cfg.RuleEngine.Reannounce.CooldownMinutes < 0 {
		cfg.RuleEngine.Reannounce.CooldownMinutes = 0
	}
	if cfg.RuleEngine.Reannounce.MaxAttempts < 0 {
		cfg.RuleEngine.Reannounce.MaxAttempts = 0
	}
	for _, mc := range cfg.Services {
		if mc == nil {
			continue
		}
		clampInt(mc.StallLimit)
	}
	cfg.Notifications.Destinations = filterDestinations(cfg.Notifications.Destinations)
}

func clampOverrides(o *domain.RuleOverrides) {
	clampInt(o.StallLimit)
	clampFloat(o.GracePeriodMinutes)
	clampFloat(o.NoProgressMaxAgeMinutes)
	clampFloat(o.MinRequestIntervalMS)
	clampInt(o.MaxConcurrentRequests)
	clampFloat(o.MaxQueueAgeHours)
	clampInt(o.TrackerErrorStrikes)
	clampFloat(o.MinSpeedBytesPerSec)
	clampFloat(o.MinSpeedDurationMinutes)
}

func clampInt(p *int) {
	if p != nil && *p < 0 {
		*p = 0
	}
}

func clampFloat(p *float64) {
	if p != nil && *p < 0 {
		*p = 0
	}
}

// filterDestinations drops destinations with no url or an unrecognized
// type. An all-invalid list is kept as is; dispatch skips unusable entries
// and validate names them.
func filterDestinations(dests []domain.Destination) []domain.Destination {
	if len(dests) == 0 {
		return dests
	}
	cleaned := make([]domain.Destination, 0, len(dests))
	for _, d := range dests {
		if d.URL == "" || !validDestinationType(d.NormalizedType()) {
			log.Debug().Str("name", d.Key()).Str("type", d.Type).Msg("Ignoring invalid notification destination")
			continue
		}
		cleaned = append(cleaned, d)
	}
	if len(cleaned) == 0 {
		return dests
	}
	return cleaned
}

func validDestinationType(t string) bool {
	switch t {
	case domain.DestinationDiscord, domain.DestinationSlack, domain.DestinationGeneric:
		return true
	}
	return false
}

// validate logs configuration warnings. It never fails startup.
func validate(cfg *domain.Config) {
	for _, name := range domain.ManagerNames {
		if cfg.Manager(name).PartiallyConfigured() {
			log.Warn().Msgf("Service %s has partial env config (URL/API_KEY); it will be skipped.", name)
		}
	}

	o := cfg.RuleEngine.RuleOverrides
	interval := o.MinRequestIntervalMS != nil && *o.MinRequestIntervalMS > 0
	concurrent := o.MaxConcurrentRequests != nil && *o.MaxConcurrentRequests > 0
	if interval && !concurrent {
		log.Warn().Msg("min_request_interval_ms set without max_concurrent_requests; consider setting both for effect.")
	}

	for _, d := range cfg.Notifications.Destinations {
		if d.URL == "" {
			label := d.Name
			if label == "" {
				label = d.Type
			}
			log.Warn().Msgf("Notification destination '%s' missing url; it will be ignored.", label)
			continue
		}
		if !validDestinationType(d.NormalizedType()) {
			log.Warn().Msgf("Notification destination '%s' has unknown type %q; it will be ignored.", d.Key(), d.Type)
		}
	}
}

// Environment helpers treat an empty variable as unset and fall back to
// the default on unparseable values rather than failing startup.

func envString(key, def string) string {
	if raw := os.Getenv(key); raw != "" {
		return raw
	}
	return def
}

func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		log.Warn().Str("name", key).Str("value", raw).Msg("Ignoring unparseable integer environment variable")
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		log.Warn().Str("name", key).Str("value", raw).Msg("Ignoring unparseable float environment variable")
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

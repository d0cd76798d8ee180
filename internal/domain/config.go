// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "strings"

// Canonical manager names. Endpoints come from <NAME>_URL / <NAME>_API_KEY
// environment variables; everything else is YAML.
const (
	ServiceSonarr = "Sonarr"
	ServiceRadarr = "Radarr"
	ServiceLidarr = "Lidarr"
)

// ManagerNames lists the supported managers in fan-out order.
var ManagerNames = []string{ServiceSonarr, ServiceRadarr, ServiceLidarr}

const (
	DefaultConfigPath     = "/app/config.yaml"
	DefaultStrikeFilePath = "/app/data/strikes.json"

	DefaultStallLimit             = 3
	DefaultAPITimeout             = 600
	DefaultRequestTimeout         = 10
	DefaultRetryAttempts          = 2
	DefaultRetryBackoff           = 1.0
	DefaultResetStrikesOnProgress = "all"
	DefaultTrackerErrorStrikes    = 2

	// -1 disables the seeder-stall rule.
	DefaultSeederStallThreshold       = -1
	DefaultSeederStallProgressCeiling = 25.0
	DefaultLargeProgressCeiling       = 100.0

	DefaultReannounceCooldownMinutes = 60.0
	DefaultReannounceMaxAttempts     = 1

	DefaultHTTPHost = "127.0.0.1"
	DefaultHTTPPort = 9811
)

// Config is the fully resolved application configuration. It is loaded once
// at startup, sanitized, and treated as read-only afterwards.
type Config struct {
	General         General                   `mapstructure:"general"`
	Services        map[string]*ManagerConfig `mapstructure:"-"`
	RuleEngine      RuleEngine                `mapstructure:"rule_engine"`
	Categories      []Category                `mapstructure:"categories"`
	IndexerPolicies map[string]IndexerPolicy  `mapstructure:"indexer_policies"`
	Whitelist       Whitelist                 `mapstructure:"whitelist"`
	Clients         Clients                   `mapstructure:"clients"`
	Notifications   Notifications             `mapstructure:"notifications"`
}

// Manager returns the config block for a manager, never nil.
func (c *Config) Manager(name string) *ManagerConfig {
	if c.Services != nil {
		if mc, ok := c.Services[name]; ok && mc != nil {
			return mc
		}
	}
	return &ManagerConfig{}
}

// IndexerPolicy looks up a per-indexer policy case-insensitively.
func (c *Config) IndexerPolicy(name string) (IndexerPolicy, bool) {
	if name == "" || len(c.IndexerPolicies) == 0 {
		return IndexerPolicy{}, false
	}
	p, ok := c.IndexerPolicies[strings.ToLower(name)]
	return p, ok
}

type General struct {
	DebugLogging           bool    `mapstructure:"debug_logging"`
	StructuredLogs         bool    `mapstructure:"structured_logs"`
	DryRun                 bool    `mapstructure:"dry_run"`
	ExplainDecisions       bool    `mapstructure:"explain_decisions"`
	RequestTimeout         int     `mapstructure:"request_timeout"`
	RetryAttempts          int     `mapstructure:"retry_attempts"`
	RetryBackoff           float64 `mapstructure:"retry_backoff"`
	StrikeFilePath         string  `mapstructure:"strike_file_path"`
	APITimeout             int     `mapstructure:"api_timeout"`
	ResetStrikesOnProgress string  `mapstructure:"reset_strikes_on_progress"`
	CheckForUpdates        bool    `mapstructure:"check_for_updates"`
	LogFilePath            string  `mapstructure:"log_file_path"`
	LogMaxSize             int     `mapstructure:"log_max_size"`
	LogMaxBackups          int     `mapstructure:"log_max_backups"`

	// GlobalStallLimit comes from the GLOBAL_STALL_LIMIT environment
	// variable only; it seeds per-manager stall limits.
	GlobalStallLimit int `mapstructure:"-"`

	HTTP HTTPListener `mapstructure:"http"`
}

// HTTPListener configures the optional metrics/health listener.
type HTTPListener struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	BasePath       string `mapstructure:"base_path"`
	BasicAuthUsers string `mapstructure:"basic_auth_users"`
}

// RuleOverrides holds the settings that may be overridden per category,
// per manager, or globally under rule_engine. Nil means "not set here";
// the resolver walks category > manager > rule_engine > default.
type RuleOverrides struct {
	StallLimit                *int     `mapstructure:"stall_limit"`
	GracePeriodMinutes        *float64 `mapstructure:"grace_period_minutes"`
	NoProgressMaxAgeMinutes   *float64 `mapstructure:"no_progress_max_age_minutes"`
	MaxQueueAgeHours          *float64 `mapstructure:"max_queue_age_hours"`
	TrackerErrorStrikes       *int     `mapstructure:"tracker_error_strikes"`
	MinSpeedBytesPerSec       *float64 `mapstructure:"min_speed_bytes_per_sec"`
	MinSpeedDurationMinutes   *float64 `mapstructure:"min_speed_duration_minutes"`
	ClientStateAsStalled      *bool    `mapstructure:"client_state_as_stalled"`
	ClientZeroActivityMinutes *float64 `mapstructure:"client_zero_activity_minutes"`
	MinRequestIntervalMS      *float64 `mapstructure:"min_request_interval_ms"`
	MaxConcurrentRequests     *int     `mapstructure:"max_concurrent_requests"`
	AutoSearch                *bool    `mapstructure:"auto_search"`
	UseBlocklistParam         *bool    `mapstructure:"use_blocklist_param"`
	RemoveFromClient          *bool    `mapstructure:"remove_from_client"`
}

// ManagerConfig is the per-manager services.<Name> block. Endpoints are
// environment-only and filled in by the loader.
type ManagerConfig struct {
	RuleOverrides `mapstructure:",squash"`

	APIURL string `mapstructure:"-"`
	APIKey string `mapstructure:"-"`
}

// Configured reports whether both endpoint variables were provided.
func (m *ManagerConfig) Configured() bool {
	return m != nil && m.APIURL != "" && m.APIKey != ""
}

// PartiallyConfigured reports URL-without-key or key-without-URL.
func (m *ManagerConfig) PartiallyConfigured() bool {
	return m != nil && (m.APIURL != "") != (m.APIKey != "")
}

type RuleEngine struct {
	RuleOverrides `mapstructure:",squash"`

	TorrentSeederStallThreshold       int     `mapstructure:"torrent_seeder_stall_threshold"`
	TorrentSeederStallProgressCeiling float64 `mapstructure:"torrent_seeder_stall_progress_ceiling"`

	LargeSizeGB                   float64 `mapstructure:"large_size_gb"`
	LargeZeroSeedersRemoveMinutes float64 `mapstructure:"large_zero_seeders_remove_minutes"`
	LargeProgressCeilingPercent   float64 `mapstructure:"large_progress_ceiling_percent"`

	Reannounce  Reannounce   `mapstructure:"reannounce"`
	CustomRules []CustomRule `mapstructure:"custom_rules"`
}

// Reannounce gates tracker reannounce attempts for stalled torrents.
type Reannounce struct {
	Enabled           bool    `mapstructure:"enabled"`
	CooldownMinutes   float64 `mapstructure:"cooldown_minutes"`
	MaxAttempts       int     `mapstructure:"max_attempts"`
	DoRecheck         bool    `mapstructure:"do_recheck"`
	OnlyWhenSeedsZero bool    `mapstructure:"only_when_seeds_zero"`
}

// Category applies overrides to items whose title matches any of the
// title_contains substrings. Categories are ordered; first match wins.
type Category struct {
	Name          string   `mapstructure:"name"`
	TitleContains []string `mapstructure:"title_contains"`

	RuleOverrides `mapstructure:",squash"`
}

// Matches reports whether the item title contains any configured substring.
func (c *Category) Matches(title string) bool {
	lower := strings.ToLower(title)
	for _, sub := range c.TitleContains {
		sub = strings.ToLower(sub)
		if sub != "" && strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// IndexerPolicy tunes behavior for items that came from a named indexer.
type IndexerPolicy struct {
	FailureRemoveAfter   int  `mapstructure:"failure_remove_after"`
	SeederStallThreshold *int `mapstructure:"seeder_stall_threshold"`
}

// Whitelist protects items from all removal paths.
type Whitelist struct {
	IDs           []int64  `mapstructure:"ids"`
	DownloadIDs   []string `mapstructure:"download_ids"`
	TitleContains []string `mapstructure:"title_contains"`
}

// Matches reports whether the item is whitelisted by id, download id,
// or title substring.
func (w *Whitelist) Matches(item Item) bool {
	if w == nil {
		return false
	}
	if id, ok := item.ID(); ok {
		for _, wid := range w.IDs {
			if wid == id {
				return true
			}
		}
	}
	if did := item.DownloadID(); did != "" {
		for _, wdid := range w.DownloadIDs {
			if wdid == did {
				return true
			}
		}
	}
	if title := item.Title(); title != "" {
		lower := strings.ToLower(title)
		for _, sub := range w.TitleContains {
			sub = strings.ToLower(sub)
			if sub != "" && strings.Contains(lower, sub) {
				return true
			}
		}
	}
	return false
}

type Clients struct {
	QBittorrent  ClientConfig `mapstructure:"qbittorrent"`
	Transmission ClientConfig `mapstructure:"transmission"`
	Deluge       ClientConfig `mapstructure:"deluge"`
}

// ClientConfig points at a torrent client. A block with an empty URL is
// treated as absent.
type ClientConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

func (c ClientConfig) Configured() bool {
	return strings.TrimSpace(c.URL) != ""
}

type Notifications struct {
	Destinations []Destination `mapstructure:"destinations"`
}

const (
	DestinationDiscord = "discord"
	DestinationSlack   = "slack"
	DestinationGeneric = "generic"
)

// Destination is one notification target. Type is discord, slack, or
// generic; generic supports raw_json passthrough and custom headers.
type Destination struct {
	Name     string            `mapstructure:"name"`
	Type     string            `mapstructure:"type"`
	URL      string            `mapstructure:"url"`
	Batch    bool              `mapstructure:"batch"`
	Reasons  []string          `mapstructure:"reasons"`
	Template string            `mapstructure:"template"`
	RawJSON  bool              `mapstructure:"raw_json"`
	Headers  map[string]string `mapstructure:"headers"`
}

// Key identifies the destination's batch queue.
func (d Destination) Key() string {
	if d.Name != "" {
		return d.Name
	}
	return d.URL
}

// NormalizedType lowercases the destination type, defaulting to generic.
func (d Destination) NormalizedType() string {
	t := strings.ToLower(strings.TrimSpace(d.Type))
	if t == "" {
		return DestinationGeneric
	}
	return t
}

// MatchesReason applies the per-destination reasons filter: an empty list
// or "*" matches everything, otherwise exact match.
func (d Destination) MatchesReason(reason string) bool {
	if len(d.Reasons) == 0 {
		return true
	}
	for _, r := range d.Reasons {
		if r == "*" || r == reason {
			return true
		}
	}
	return false
}

// CustomRule is a user-defined removal rule compiled from an expression.
// A matching rule yields removal reason "custom:<name>".
type CustomRule struct {
	Name string `mapstructure:"name"`
	When string `mapstructure:"when"`
}

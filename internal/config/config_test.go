// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/sweeparr/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func missingConfig(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.yaml")
}

func TestNewWithoutFileUsesDefaults(t *testing.T) {
	app, err := New(missingConfig(t))
	require.NoError(t, err)
	require.NotNil(t, app.Config)

	cfg := app.Config
	assert.False(t, cfg.General.DebugLogging)
	assert.True(t, cfg.General.StructuredLogs)
	assert.False(t, cfg.General.DryRun)
	assert.False(t, cfg.General.ExplainDecisions)
	assert.Equal(t, 10, cfg.General.RequestTimeout)
	assert.Equal(t, 2, cfg.General.RetryAttempts)
	assert.Equal(t, 1.0, cfg.General.RetryBackoff)
	assert.Equal(t, "/app/data/strikes.json", cfg.General.StrikeFilePath)
	assert.Equal(t, 600, cfg.General.APITimeout)
	assert.Equal(t, "all", cfg.General.ResetStrikesOnProgress)
	assert.True(t, cfg.General.CheckForUpdates)
	assert.Equal(t, 3, cfg.General.GlobalStallLimit)

	assert.False(t, cfg.General.HTTP.Enabled)
	assert.Equal(t, "127.0.0.1", cfg.General.HTTP.Host)
	assert.Equal(t, 9811, cfg.General.HTTP.Port)
	assert.Equal(t, "", cfg.General.HTTP.BasePath)

	assert.Equal(t, -1, cfg.RuleEngine.TorrentSeederStallThreshold)
	assert.Equal(t, 25.0, cfg.RuleEngine.TorrentSeederStallProgressCeiling)
	assert.Equal(t, 100.0, cfg.RuleEngine.LargeProgressCeilingPercent)

	rea := cfg.RuleEngine.Reannounce
	assert.False(t, rea.Enabled)
	assert.Equal(t, 60.0, rea.CooldownMinutes)
	assert.Equal(t, 1, rea.MaxAttempts)
	assert.False(t, rea.DoRecheck)
	assert.True(t, rea.OnlyWhenSeedsZero)

	for _, name := range domain.ManagerNames {
		mc := cfg.Manager(name)
		assert.False(t, mc.Configured(), name)
		assert.False(t, mc.PartiallyConfigured(), name)
	}
}

func TestYAMLWinsOverEnvironment(t *testing.T) {
	t.Setenv("API_TIMEOUT", "120")
	t.Setenv("DRY_RUN", "true")

	path := writeConfig(t, `
general:
  api_timeout: 300
`)
	app, err := New(path)
	require.NoError(t, err)

	assert.Equal(t, 300, app.Config.General.APITimeout)
	// Keys the file does not mention still come from the environment.
	assert.True(t, app.Config.General.DryRun)
}

func TestEnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("REQUEST_TIMEOUT", "42")
	t.Setenv("STRUCTURED_LOGS", "no")
	t.Setenv("STRIKE_FILE_PATH", "/data/strikes.json")
	t.Setenv("GLOBAL_STALL_LIMIT", "7")
	t.Setenv("TORRENT_SEEDER_STALL_THRESHOLD", "4")
	t.Setenv("TORRENT_SEEDER_STALL_PROGRESS_CEILING", "80.5")
	t.Setenv("RETRY_ATTEMPTS", "lots")

	app, err := New(missingConfig(t))
	require.NoError(t, err)

	cfg := app.Config
	assert.Equal(t, 42, cfg.General.RequestTimeout)
	assert.False(t, cfg.General.StructuredLogs)
	assert.Equal(t, "/data/strikes.json", cfg.General.StrikeFilePath)
	assert.Equal(t, 7, cfg.General.GlobalStallLimit)
	assert.Equal(t, 4, cfg.RuleEngine.TorrentSeederStallThreshold)
	assert.Equal(t, 80.5, cfg.RuleEngine.TorrentSeederStallProgressCeiling)
	// Unparseable values fall back to the built-in default.
	assert.Equal(t, 2, cfg.General.RetryAttempts)
}

func TestBoolEnvironmentParsing(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"TRUE", true},
		{"1", true},
		{"yes", true},
		{"false", false},
		{"0", false},
		{"off", false},
		{"banana", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("DRY_RUN", tt.value)
			app, err := New(missingConfig(t))
			require.NoError(t, err)
			assert.Equal(t, tt.want, app.Config.General.DryRun)
		})
	}
}

func TestServiceEndpointsComeFromEnvironment(t *testing.T) {
	t.Setenv("SONARR_URL", "http://sonarr:8989")
	t.Setenv("SONARR_API_KEY", "sonarr-key")
	t.Setenv("RADARR_URL", "http://radarr:7878")

	path := writeConfig(t, `
services:
  Sonarr:
    stall_limit: 5
    auto_search: true
`)
	app, err := New(path)
	require.NoError(t, err)

	sonarr := app.Config.Manager(domain.ServiceSonarr)
	assert.True(t, sonarr.Configured())
	assert.Equal(t, "http://sonarr:8989", sonarr.APIURL)
	assert.Equal(t, "sonarr-key", sonarr.APIKey)
	require.NotNil(t, sonarr.StallLimit)
	assert.Equal(t, 5, *sonarr.StallLimit)
	require.NotNil(t, sonarr.AutoSearch)
	assert.True(t, *sonarr.AutoSearch)

	radarr := app.Config.Manager(domain.ServiceRadarr)
	assert.False(t, radarr.Configured())
	assert.True(t, radarr.PartiallyConfigured())

	lidarr := app.Config.Manager(domain.ServiceLidarr)
	assert.False(t, lidarr.Configured())
	assert.False(t, lidarr.PartiallyConfigured())
}

func TestSanitizeClampsNegatives(t *testing.T) {
	path := writeConfig(t, `
rule_engine:
  stall_limit: -3
  grace_period_minutes: -5
  max_queue_age_hours: -1
  min_speed_bytes_per_sec: -100
  tracker_error_strikes: -2
  reannounce:
    enabled: true
    cooldown_minutes: -10
    max_attempts: -4
services:
  Sonarr:
    stall_limit: -9
`)
	app, err := New(path)
	require.NoError(t, err)

	re := app.Config.RuleEngine
	require.NotNil(t, re.StallLimit)
	assert.Equal(t, 0, *re.StallLimit)
	require.NotNil(t, re.GracePeriodMinutes)
	assert.Equal(t, 0.0, *re.GracePeriodMinutes)
	require.NotNil(t, re.MaxQueueAgeHours)
	assert.Equal(t, 0.0, *re.MaxQueueAgeHours)
	require.NotNil(t, re.MinSpeedBytesPerSec)
	assert.Equal(t, 0.0, *re.MinSpeedBytesPerSec)
	require.NotNil(t, re.TrackerErrorStrikes)
	assert.Equal(t, 0, *re.TrackerErrorStrikes)

	assert.True(t, re.Reannounce.Enabled)
	assert.Equal(t, 0.0, re.Reannounce.CooldownMinutes)
	assert.Equal(t, 0, re.Reannounce.MaxAttempts)

	sonarr := app.Config.Manager(domain.ServiceSonarr)
	require.NotNil(t, sonarr.StallLimit)
	assert.Equal(t, 0, *sonarr.StallLimit)
}

func TestSanitizeDropsInvalidDestinations(t *testing.T) {
	path := writeConfig(t, `
notifications:
  destinations:
    - name: hook
      type: generic
      url: http://hooks.example/x
    - name: nourl
      type: discord
    - name: oddtype
      type: telegram
      url: http://hooks.example/y
`)
	app, err := New(path)
	require.NoError(t, err)

	dests := app.Config.Notifications.Destinations
	require.Len(t, dests, 1)
	assert.Equal(t, "hook", dests[0].Name)
}

func TestSanitizeKeepsAllInvalidDestinationList(t *testing.T) {
	path := writeConfig(t, `
notifications:
  destinations:
    - name: nourl
      type: generic
`)
	app, err := New(path)
	require.NoError(t, err)

	// Nothing usable survives filtering, so the raw list stays visible
	// for the startup warning; dispatch ignores it.
	require.Len(t, app.Config.Notifications.Destinations, 1)
	assert.Empty(t, app.Config.Notifications.Destinations[0].URL)
}

func TestReannounceBlockKeepsUnsetDefaults(t *testing.T) {
	path := writeConfig(t, `
rule_engine:
  reannounce:
    enabled: true
`)
	app, err := New(path)
	require.NoError(t, err)

	rea := app.Config.RuleEngine.Reannounce
	assert.True(t, rea.Enabled)
	assert.Equal(t, 60.0, rea.CooldownMinutes)
	assert.Equal(t, 1, rea.MaxAttempts)
	assert.True(t, rea.OnlyWhenSeedsZero)
}

func TestUnparseableYAMLFails(t *testing.T) {
	path := writeConfig(t, "general: [oops\n")

	_, err := New(path)
	require.Error(t, err)
}

func TestIndexerPolicyLookupIsCaseInsensitive(t *testing.T) {
	path := writeConfig(t, `
indexer_policies:
  PrivateHD:
    failure_remove_after: 2
    seeder_stall_threshold: 0
`)
	app, err := New(path)
	require.NoError(t, err)

	policy, ok := app.Config.IndexerPolicy("PrivateHD")
	require.True(t, ok)
	assert.Equal(t, 2, policy.FailureRemoveAfter)
	require.NotNil(t, policy.SeederStallThreshold)
	assert.Equal(t, 0, *policy.SeederStallThreshold)

	_, ok = app.Config.IndexerPolicy("unknown")
	assert.False(t, ok)
}

func TestFullConfigDecodes(t *testing.T) {
	path := writeConfig(t, `
general:
  dry_run: true
  explain_decisions: true
  log_file_path: /var/log/sweeparr.log
  http:
    enabled: true
    port: 9900
rule_engine:
  torrent_seeder_stall_threshold: 0
  large_size_gb: 20
  large_zero_seeders_remove_minutes: 90
  custom_rules:
    - name: stuck-sample
      when: Title contains "sample"
categories:
  - name: linux-isos
    title_contains: ["ubuntu", "debian"]
    stall_limit: 10
whitelist:
  ids: [5, 9]
  download_ids: ["deadbeef"]
  title_contains: ["keep me"]
clients:
  qbittorrent:
    url: http://qb:8080
    username: admin
    password: s3cret
  deluge:
    url: http://deluge:8112
`)
	app, err := New(path)
	require.NoError(t, err)

	cfg := app.Config
	assert.True(t, cfg.General.DryRun)
	assert.True(t, cfg.General.ExplainDecisions)
	assert.Equal(t, "/var/log/sweeparr.log", cfg.General.LogFilePath)
	assert.True(t, cfg.General.HTTP.Enabled)
	assert.Equal(t, 9900, cfg.General.HTTP.Port)

	assert.Equal(t, 0, cfg.RuleEngine.TorrentSeederStallThreshold)
	assert.Equal(t, 20.0, cfg.RuleEngine.LargeSizeGB)
	assert.Equal(t, 90.0, cfg.RuleEngine.LargeZeroSeedersRemoveMinutes)
	require.Len(t, cfg.RuleEngine.CustomRules, 1)
	assert.Equal(t, "stuck-sample", cfg.RuleEngine.CustomRules[0].Name)

	require.Len(t, cfg.Categories, 1)
	assert.True(t, cfg.Categories[0].Matches("Ubuntu.24.04.ISO"))
	require.NotNil(t, cfg.Categories[0].StallLimit)
	assert.Equal(t, 10, *cfg.Categories[0].StallLimit)

	assert.Equal(t, []int64{5, 9}, cfg.Whitelist.IDs)
	assert.Equal(t, []string{"deadbeef"}, cfg.Whitelist.DownloadIDs)

	assert.True(t, cfg.Clients.QBittorrent.Configured())
	assert.Equal(t, "admin", cfg.Clients.QBittorrent.Username)
	assert.True(t, cfg.Clients.Deluge.Configured())
	assert.False(t, cfg.Clients.Transmission.Configured())
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := writeConfig(t, "general:\n  api_timeout: 300\n")

	app, err := New(path)
	require.NoError(t, err)
	require.Equal(t, 300, app.Config.General.APITimeout)

	reloaded := make(chan *domain.Config, 1)
	app.Watch(func(cfg *domain.Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})

	// Give the watcher a moment to register before rewriting the file.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("general:\n  api_timeout: 120\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 120, cfg.General.APITimeout)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not observed")
	}
}

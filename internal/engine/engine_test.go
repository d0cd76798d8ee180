// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/sweeparr/internal/domain"
	"github.com/autobrr/sweeparr/internal/events"
	"github.com/autobrr/sweeparr/internal/metrics"
	"github.com/autobrr/sweeparr/internal/strikes"
)

const testNow = int64(1_000_000)

func ptr[T any](v T) *T {
	return &v
}

func baseConfig() *domain.Config {
	cfg := &domain.Config{}
	cfg.General.GlobalStallLimit = domain.DefaultStallLimit
	cfg.General.ResetStrikesOnProgress = domain.DefaultResetStrikesOnProgress
	cfg.RuleEngine.TorrentSeederStallThreshold = domain.DefaultSeederStallThreshold
	cfg.RuleEngine.TorrentSeederStallProgressCeiling = domain.DefaultSeederStallProgressCeiling
	cfg.RuleEngine.LargeProgressCeilingPercent = domain.DefaultLargeProgressCeiling
	cfg.RuleEngine.Reannounce = domain.Reannounce{
		CooldownMinutes:   domain.DefaultReannounceCooldownMinutes,
		MaxAttempts:       domain.DefaultReannounceMaxAttempts,
		OnlyWhenSeedsZero: true,
	}
	return cfg
}

func newTestEngine(t *testing.T, cfg *domain.Config) (*Engine, *strikes.Ledger, *metrics.CycleStats) {
	t.Helper()
	ledger := strikes.NewLedger(filepath.Join(t.TempDir(), "strikes.json"))
	eng := New(cfg, ledger, events.NewBus(true, nil))
	eng.now = func() time.Time { return time.Unix(testNow, 0) }
	return eng, ledger, metrics.NewCycleStats()
}

func TestProcess_ZeroSeederLowProgressRemoval(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.RuleEngine.TorrentSeederStallThreshold = 0
	cfg.RuleEngine.TorrentSeederStallProgressCeiling = 25
	cfg.Services = map[string]*domain.ManagerConfig{
		domain.ServiceSonarr: {
			RuleOverrides: domain.RuleOverrides{AutoSearch: ptr(true)},
		},
	}
	eng, ledger, stats := newTestEngine(t, cfg)

	item := domain.Item{
		"id":       101,
		"title":    "Z",
		"protocol": "torrent",
		"size":     1000,
		"sizeleft": 900,
		"release":  map[string]any{"seeders": 0},
	}

	remove, search := eng.Process(context.Background(), domain.ServiceSonarr, item, 1, stats)
	require.True(t, remove)
	require.True(t, search)

	key := strikes.Key(domain.ServiceSonarr, 101)
	assert.Equal(t, domain.ReasonLowSeeders, eng.PopRemovalReason(key))
	_, ok := ledger.Get(key)
	assert.False(t, ok, "entry should be dropped once the item is marked for removal")

	totals := stats.Totals()
	assert.Equal(t, 1, totals.Processed)
	assert.Equal(t, 1, totals.StrikeIncreased)
}

func TestProcess_MaxAgeRemoval(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.RuleEngine.MaxQueueAgeHours = ptr(1.0)
	eng, ledger, stats := newTestEngine(t, cfg)

	key := strikes.Key(domain.ServiceSonarr, 7)
	ledger.Put(key, &strikes.Entry{FirstSeenTS: testNow - 7200})

	item := domain.Item{
		"id":       7,
		"title":    "Old.Thing",
		"protocol": "torrent",
		"size":     1000,
		"sizeleft": 500,
	}

	remove, search := eng.Process(context.Background(), domain.ServiceSonarr, item, 3, stats)
	require.True(t, remove)
	assert.False(t, search)
	assert.Equal(t, domain.ReasonMaxAge, eng.PopRemovalReason(key))
	_, ok := ledger.Get(key)
	assert.False(t, ok)
}

func TestProcess_ProgressResetsAllStrikes(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	eng, ledger, stats := newTestEngine(t, cfg)

	key := strikes.Key(domain.ServiceSonarr, 33)
	ledger.Put(key, &strikes.Entry{Count: 3, LastDL: ptr(int64(100)), FirstSeenTS: testNow - 600})

	item := domain.Item{
		"id":       33,
		"title":    "Slowly.Improving",
		"protocol": "torrent",
		"size":     1000,
		"sizeleft": 800,
	}

	remove, search := eng.Process(context.Background(), domain.ServiceSonarr, item, 3, stats)
	require.False(t, remove)
	require.False(t, search)

	stored, ok := ledger.Get(key)
	require.True(t, ok)
	assert.Equal(t, 0, stored.Count)
	require.NotNil(t, stored.LastDL)
	assert.Equal(t, int64(200), *stored.LastDL)
	require.NotNil(t, stored.LastProgressTS)
	assert.Equal(t, testNow, *stored.LastProgressTS)
	assert.Equal(t, domain.LastReasonProgress, stored.LastReason)
	assert.Equal(t, 1, stats.Totals().StrikeDecreased)
}

func TestProcess_ProgressDecrementPolicy(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.General.ResetStrikesOnProgress = "2"
	eng, ledger, stats := newTestEngine(t, cfg)

	key := strikes.Key(domain.ServiceSonarr, 34)
	ledger.Put(key, &strikes.Entry{Count: 3, LastDL: ptr(int64(100)), FirstSeenTS: testNow - 600})

	item := domain.Item{
		"id":       34,
		"title":    "Two.Steps.Back",
		"protocol": "torrent",
		"size":     1000,
		"sizeleft": 700,
	}

	remove, _ := eng.Process(context.Background(), domain.ServiceSonarr, item, 3, stats)
	require.False(t, remove)

	stored, ok := ledger.Get(key)
	require.True(t, ok)
	assert.Equal(t, 1, stored.Count)
	assert.Equal(t, 1, stats.Totals().StrikeDecreased)
}

func TestProcess_ProgressBadPolicyFallsBackToOne(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.General.ResetStrikesOnProgress = "not-a-number"
	eng, ledger, stats := newTestEngine(t, cfg)

	key := strikes.Key(domain.ServiceSonarr, 35)
	ledger.Put(key, &strikes.Entry{Count: 3, LastDL: ptr(int64(100)), FirstSeenTS: testNow - 600})

	item := domain.Item{
		"id":       35,
		"title":    "One.Step.Back",
		"protocol": "torrent",
		"size":     1000,
		"sizeleft": 700,
	}

	remove, _ := eng.Process(context.Background(), domain.ServiceSonarr, item, 3, stats)
	require.False(t, remove)

	stored, ok := ledger.Get(key)
	require.True(t, ok)
	assert.Equal(t, 2, stored.Count)
}

func TestProcess_DownloadingStatusCountsAsProgress(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	eng, ledger, stats := newTestEngine(t, cfg)

	key := strikes.Key(domain.ServiceRadarr, 50)
	ledger.Put(key, &strikes.Entry{Count: 2, LastDL: ptr(int64(200)), FirstSeenTS: testNow - 600})

	// no byte progress since the last cycle, but the manager says downloading
	item := domain.Item{
		"id":       50,
		"title":    "Still.Moving",
		"protocol": "torrent",
		"status":   "downloading",
		"size":     1000,
		"sizeleft": 800,
	}

	remove, _ := eng.Process(context.Background(), domain.ServiceRadarr, item, 3, stats)
	require.False(t, remove)

	stored, ok := ledger.Get(key)
	require.True(t, ok)
	assert.Equal(t, 0, stored.Count)
	assert.Equal(t, domain.LastReasonProgress, stored.LastReason)
}

func TestProcess_ReannounceScheduled(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.RuleEngine.Reannounce.Enabled = true
	eng, ledger, stats := newTestEngine(t, cfg)

	item := domain.Item{
		"id":       900,
		"title":    "Dead.Tracker",
		"protocol": "torrent",
		"size":     1000,
		"sizeleft": 900,
		"release":  map[string]any{"seeders": 0},
	}

	remove, search := eng.Process(context.Background(), domain.ServiceSonarr, item, 3, stats)
	require.False(t, remove)
	require.False(t, search)

	key := strikes.Key(domain.ServiceSonarr, 900)
	stored, ok := ledger.Get(key)
	require.True(t, ok)
	assert.Equal(t, domain.LastReasonReannounceScheduled, stored.LastReason)
	assert.Equal(t, 1, stats.Totals().ReannounceScheduled)

	// a second sighting in the same cycle keeps the request pending without
	// counting it twice
	remove, _ = eng.Process(context.Background(), domain.ServiceSonarr, item, 3, stats)
	require.False(t, remove)
	assert.Equal(t, 1, stats.Totals().ReannounceScheduled)

	assert.True(t, eng.PopReannounce(key))
	assert.False(t, eng.PopReannounce(key))
}

func TestProcess_ReannounceGateRespectsAttemptsAndCooldown(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.RuleEngine.Reannounce.Enabled = true
	eng, ledger, stats := newTestEngine(t, cfg)

	item := domain.Item{
		"id":       901,
		"title":    "Already.Tried",
		"protocol": "torrent",
		"status":   "stalled",
		"size":     1000,
		"sizeleft": 900,
		"release":  map[string]any{"seeders": 0},
	}

	key := strikes.Key(domain.ServiceSonarr, 901)
	ledger.Put(key, &strikes.Entry{
		FirstSeenTS:        testNow - 600,
		ReannounceAttempts: 1,
		LastReannounceTS:   ptr(testNow - 120),
	})

	// attempts exhausted, so the item falls through to the rules and strikes
	remove, _ := eng.Process(context.Background(), domain.ServiceSonarr, item, 3, stats)
	require.False(t, remove)
	assert.False(t, eng.PopReannounce(key))

	stored, ok := ledger.Get(key)
	require.True(t, ok)
	assert.Equal(t, 1, stored.Count)
	assert.Equal(t, domain.ReasonStalled, stored.LastReason)
}

func TestProcess_ReannounceOnlyForTorrents(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.RuleEngine.Reannounce.Enabled = true
	eng, _, stats := newTestEngine(t, cfg)

	item := domain.Item{
		"id":       902,
		"title":    "Usenet.Thing",
		"protocol": "usenet",
		"status":   "stalled",
		"size":     1000,
		"sizeleft": 900,
	}

	remove, _ := eng.Process(context.Background(), domain.ServiceSonarr, item, 3, stats)
	require.False(t, remove)
	assert.False(t, eng.PopReannounce(strikes.Key(domain.ServiceSonarr, 902)))
	assert.Equal(t, 0, stats.Totals().ReannounceScheduled)
	assert.Equal(t, 1, stats.Totals().StrikeIncreased)
}

func TestProcess_TrackerErrorTwoCycles(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	eng, ledger, stats := newTestEngine(t, cfg)

	item := domain.Item{
		"id":       77,
		"title":    "Gone.From.Tracker",
		"protocol": "torrent",
		"status":   "downloading",
		"size":     1000,
		"sizeleft": 600,
		"indexer":  "BadIdx",
		"statusMessages": []any{
			map[string]any{"title": "Unregistered torrent"},
		},
	}

	key := strikes.Key(domain.ServiceSonarr, 77)

	// first sighting records an error strike and lets the item continue
	remove, _ := eng.Process(context.Background(), domain.ServiceSonarr, item, 3, stats)
	require.False(t, remove)
	stored, ok := ledger.Get(key)
	require.True(t, ok)
	assert.Equal(t, 1, stored.ErrorStrikes)

	// second sighting crosses the default threshold of two
	remove, search := eng.Process(context.Background(), domain.ServiceSonarr, item, 3, stats)
	require.True(t, remove)
	assert.False(t, search)
	assert.Equal(t, domain.ReasonTrackerError, eng.PopRemovalReason(key))

	_, ok = ledger.Get(key)
	assert.False(t, ok)
	assert.Equal(t, 1, ledger.IndexerFailures(strikes.IndexerKey(domain.ServiceSonarr, "BadIdx")))
}

func TestProcess_TrackerErrorPreservesCompleted(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	eng, ledger, stats := newTestEngine(t, cfg)

	key := strikes.Key(domain.ServiceSonarr, 78)
	ledger.Put(key, &strikes.Entry{FirstSeenTS: testNow - 600, ErrorStrikes: 1})

	item := domain.Item{
		"id":       78,
		"title":    "Done.But.Unregistered",
		"protocol": "torrent",
		"status":   "stalled",
		"size":     1000,
		"sizeleft": 0,
		"statusMessages": []any{
			map[string]any{"title": "Torrent not found on tracker"},
		},
	}

	remove, search := eng.Process(context.Background(), domain.ServiceSonarr, item, 3, stats)
	require.False(t, remove)
	require.False(t, search)

	stored, ok := ledger.Get(key)
	require.True(t, ok)
	assert.Equal(t, 2, stored.ErrorStrikes)
	assert.Equal(t, domain.LastReasonPreservedTrackerError, stored.LastReason)
}

func TestProcess_IndexerPolicyRemovesOnSight(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.IndexerPolicies = map[string]domain.IndexerPolicy{
		"fussy": {FailureRemoveAfter: 1},
	}
	eng, ledger, stats := newTestEngine(t, cfg)

	ledger.RecordIndexerFailure(strikes.IndexerKey(domain.ServiceSonarr, "Fussy"), testNow-300)

	item := domain.Item{
		"id":       11,
		"title":    "From.A.Bad.Indexer",
		"protocol": "torrent",
		"size":     1000,
		"sizeleft": 500,
		"indexer":  "Fussy",
	}

	key := strikes.Key(domain.ServiceSonarr, 11)
	remove, search := eng.Process(context.Background(), domain.ServiceSonarr, item, 3, stats)
	require.True(t, remove)
	assert.False(t, search)
	assert.Equal(t, domain.ReasonIndexerFailurePolicy, eng.PopRemovalReason(key))
	assert.Equal(t, 1, stats.Totals().RemovedIndexerFailure)
}

func TestProcess_IndexerPolicyPreservesCompleted(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.IndexerPolicies = map[string]domain.IndexerPolicy{
		"fussy": {FailureRemoveAfter: 1},
	}
	eng, ledger, stats := newTestEngine(t, cfg)

	ledger.RecordIndexerFailure(strikes.IndexerKey(domain.ServiceSonarr, "Fussy"), testNow-300)

	item := domain.Item{
		"id":       12,
		"title":    "Finished.Despite.Indexer",
		"protocol": "torrent",
		"size":     1000,
		"sizeleft": 0,
		"indexer":  "Fussy",
	}

	remove, search := eng.Process(context.Background(), domain.ServiceSonarr, item, 3, stats)
	require.False(t, remove)
	require.False(t, search)

	stored, ok := ledger.Get(strikes.Key(domain.ServiceSonarr, 12))
	require.True(t, ok)
	assert.Equal(t, domain.LastReasonPreservedIndexerFailure, stored.LastReason)
	assert.Equal(t, 0, stats.Totals().RemovedIndexerFailure)
}

func TestProcess_Whitelisted(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Whitelist.TitleContains = []string{"keep"}
	eng, ledger, stats := newTestEngine(t, cfg)

	item := domain.Item{
		"id":       21,
		"title":    "Keep.Me.Around",
		"protocol": "torrent",
		"status":   "stalled",
		"size":     1000,
		"sizeleft": 900,
	}

	remove, search := eng.Process(context.Background(), domain.ServiceSonarr, item, 1, stats)
	require.False(t, remove)
	require.False(t, search)

	stored, ok := ledger.Get(strikes.Key(domain.ServiceSonarr, 21))
	require.True(t, ok)
	assert.Equal(t, domain.LastReasonWhitelisted, stored.LastReason)
	assert.Equal(t, 0, stored.Count)
}

func TestProcess_DownloadedButErrored(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	eng, ledger, stats := newTestEngine(t, cfg)

	item := domain.Item{
		"id":                    22,
		"title":                 "Done.Import.Failed",
		"protocol":              "torrent",
		"size":                  1000,
		"sizeleft":              0,
		"trackedDownloadStatus": "warning",
		"statusMessages": []any{
			map[string]any{"messages": []any{"Import failed, path missing"}},
		},
	}

	remove, search := eng.Process(context.Background(), domain.ServiceSonarr, item, 3, stats)
	require.False(t, remove)
	require.False(t, search)

	stored, ok := ledger.Get(strikes.Key(domain.ServiceSonarr, 22))
	require.True(t, ok)
	assert.Equal(t, domain.LastReasonDownloadedErrored, stored.LastReason)
	require.NotNil(t, stored.LastDL)
	assert.Equal(t, int64(1000), *stored.LastDL)
}

func TestProcess_Queued(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	eng, ledger, stats := newTestEngine(t, cfg)

	item := domain.Item{
		"id":       23,
		"title":    "Waiting.For.Slot",
		"protocol": "torrent",
		"status":   "queued",
		"size":     1000,
		"sizeleft": 1000,
	}

	remove, _ := eng.Process(context.Background(), domain.ServiceSonarr, item, 3, stats)
	require.False(t, remove)

	stored, ok := ledger.Get(strikes.Key(domain.ServiceSonarr, 23))
	require.True(t, ok)
	assert.Equal(t, domain.LastReasonQueued, stored.LastReason)
	assert.Equal(t, 1, stats.Totals().Queued)
}

func TestProcess_StrikesAccumulateToLimit(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	eng, ledger, stats := newTestEngine(t, cfg)

	item := domain.Item{
		"id":       44,
		"title":    "Stuck.Show",
		"protocol": "torrent",
		"status":   "stalled",
		"size":     1000,
		"sizeleft": 500,
		"release":  map[string]any{"seeders": 5},
	}

	key := strikes.Key(domain.ServiceSonarr, 44)

	remove, _ := eng.Process(context.Background(), domain.ServiceSonarr, item, 2, stats)
	require.False(t, remove)
	stored, ok := ledger.Get(key)
	require.True(t, ok)
	assert.Equal(t, 1, stored.Count)
	assert.Equal(t, domain.ReasonStalled, stored.LastReason)

	remove, _ = eng.Process(context.Background(), domain.ServiceSonarr, item, 2, stats)
	require.True(t, remove)
	assert.Equal(t, domain.ReasonStalled, eng.PopRemovalReason(key))
	_, ok = ledger.Get(key)
	assert.False(t, ok)
	assert.Equal(t, 2, stats.Totals().StrikeIncreased)
}

func TestProcess_NoProgressTimeoutBypassesStrikes(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.RuleEngine.NoProgressMaxAgeMinutes = ptr(30.0)
	eng, ledger, stats := newTestEngine(t, cfg)

	key := strikes.Key(domain.ServiceSonarr, 45)
	ledger.Put(key, &strikes.Entry{
		FirstSeenTS:    testNow - 7200,
		LastDL:         ptr(int64(500)),
		LastProgressTS: ptr(testNow - 3600),
	})

	item := domain.Item{
		"id":       45,
		"title":    "Frozen.Solid",
		"protocol": "torrent",
		"size":     1000,
		"sizeleft": 500,
	}

	remove, search := eng.Process(context.Background(), domain.ServiceSonarr, item, 3, stats)
	require.True(t, remove)
	assert.False(t, search)
	assert.Equal(t, domain.ReasonNoProgressTimeout, eng.PopRemovalReason(key))
	assert.Equal(t, 0, stats.Totals().StrikeIncreased)
	_, ok := ledger.Get(key)
	assert.False(t, ok)
}

func TestProcess_ZeroActivityOverridesProgress(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.RuleEngine.ClientZeroActivityMinutes = ptr(10.0)
	cfg.RuleEngine.ClientStateAsStalled = ptr(true)
	eng, ledger, stats := newTestEngine(t, cfg)

	key := strikes.Key(domain.ServiceSonarr, 46)
	ledger.Put(key, &strikes.Entry{
		FirstSeenTS:    testNow - 7200,
		LastDL:         ptr(int64(100)),
		LastProgressTS: ptr(testNow - 3600),
	})

	// the manager says downloading, but the client has seen nobody for an hour
	item := domain.Item{
		"id":          46,
		"title":       "Phantom.Progress",
		"protocol":    "torrent",
		"status":      "downloading",
		"size":        1000,
		"sizeleft":    800,
		"clientPeers": 0,
		"clientSeeds": 0,
		"clientState": "stalledDL",
	}

	remove, _ := eng.Process(context.Background(), domain.ServiceSonarr, item, 3, stats)
	require.False(t, remove)

	stored, ok := ledger.Get(key)
	require.True(t, ok)
	assert.Equal(t, 1, stored.Count, "zero client activity should defeat the downloading status")
	assert.NotEqual(t, domain.LastReasonProgress, stored.LastReason)
}

func TestProcess_NoIDSkipped(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	eng, _, stats := newTestEngine(t, cfg)

	remove, search := eng.Process(context.Background(), domain.ServiceSonarr, domain.Item{"title": "anon"}, 3, stats)
	assert.False(t, remove)
	assert.False(t, search)
	assert.Equal(t, 0, stats.Totals().Processed)
}

func TestProcess_NoReasonStoresProgressSnapshot(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	eng, ledger, stats := newTestEngine(t, cfg)

	// healthy item: no stall signals, seeders present, nothing to do
	item := domain.Item{
		"id":       60,
		"title":    "Perfectly.Fine",
		"protocol": "torrent",
		"size":     1000,
		"sizeleft": 400,
		"release":  map[string]any{"seeders": 12},
	}

	key := strikes.Key(domain.ServiceSonarr, 60)
	remove, _ := eng.Process(context.Background(), domain.ServiceSonarr, item, 3, stats)
	require.False(t, remove)

	stored, ok := ledger.Get(key)
	require.True(t, ok)
	assert.Equal(t, 0, stored.Count)
	require.NotNil(t, stored.LastDL)
	assert.Equal(t, int64(600), *stored.LastDL)
	require.NotNil(t, stored.LastSeenSeeders)
	assert.Equal(t, int64(12), *stored.LastSeenSeeders)
}

func TestProcess_DryRunStillUpdatesLedger(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.General.DryRun = true
	cfg.RuleEngine.TorrentSeederStallThreshold = 0
	eng, ledger, stats := newTestEngine(t, cfg)

	item := domain.Item{
		"id":       102,
		"title":    "Dry.Run.Victim",
		"protocol": "torrent",
		"size":     1000,
		"sizeleft": 900,
		"release":  map[string]any{"seeders": 0},
	}

	// dry run changes what the executor does with the decision, not the
	// decision itself
	remove, _ := eng.Process(context.Background(), domain.ServiceSonarr, item, 1, stats)
	require.True(t, remove)
	_, ok := ledger.Get(strikes.Key(domain.ServiceSonarr, 102))
	assert.False(t, ok)
}

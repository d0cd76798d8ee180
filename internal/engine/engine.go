// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package engine decides what happens to a single queue item: strike it,
// preserve it, schedule a tracker reannounce, or mark it for removal.
// It owns the per-cycle removal and reannounce request maps and mutates
// the strike ledger; it never talks to the manager API itself.
package engine

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/sweeparr/internal/domain"
	"github.com/autobrr/sweeparr/internal/events"
	"github.com/autobrr/sweeparr/internal/metrics"
	"github.com/autobrr/sweeparr/internal/rules"
	"github.com/autobrr/sweeparr/internal/strikes"
)

type Engine struct {
	cfg    *domain.Config
	res    *rules.Resolver
	rules  *rules.RuleSet
	ledger *strikes.Ledger
	bus    *events.Bus

	now func() time.Time

	mu                 sync.Mutex
	removalReasons     map[string]string
	reannounceRequests map[string]bool
}

func New(cfg *domain.Config, ledger *strikes.Ledger, bus *events.Bus) *Engine {
	res := rules.NewResolver(cfg)
	return &Engine{
		cfg:                cfg,
		res:                res,
		rules:              rules.NewRuleSet(cfg, res),
		ledger:             ledger,
		bus:                bus,
		now:                time.Now,
		removalReasons:     make(map[string]string),
		reannounceRequests: make(map[string]bool),
	}
}

// Resolver exposes the setting resolver so callers share one layered view.
func (e *Engine) Resolver() *rules.Resolver { return e.res }

// PopRemovalReason returns and clears the reason recorded when Process
// decided to remove the item under key.
func (e *Engine) PopRemovalReason(key string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	reason := e.removalReasons[key]
	delete(e.removalReasons, key)
	return reason
}

// PopReannounce returns and clears the pending reannounce request for key.
func (e *Engine) PopReannounce(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	pending := e.reannounceRequests[key]
	delete(e.reannounceRequests, key)
	return pending
}

func (e *Engine) setRemovalReason(key, reason string) {
	e.mu.Lock()
	e.removalReasons[key] = reason
	e.mu.Unlock()
}

// Process evaluates one queue item and returns whether it should be removed
// and whether a replacement search should follow. The ledger is updated as a
// side effect even in dry-run mode so strike history stays observable.
func (e *Engine) Process(ctx context.Context, service string, item domain.Item, stallLimit int, stats *metrics.CycleStats) (remove, search bool) {
	if !item.Has("id") {
		return false, false
	}

	stats.IncProcessed(service)

	now := e.now().Unix()
	id, _ := item.ID()
	key := strikes.Key(service, id)
	entry := e.ledger.Entry(key, now)
	title := item.Title()
	autoSearch := e.res.AutoSearch(service)

	downloaded, haveDownloaded := item.DownloadedBytes()
	fullyDownloaded := isFullyDownloaded(item)

	// Indexer failure policy: once an indexer has accumulated enough tracker
	// failures, its queue items are removed on sight. Completed downloads are
	// preserved instead of being thrown away post hoc.
	if idx := item.Indexer(); idx != "" {
		if policy, ok := e.cfg.IndexerPolicy(idx); ok && policy.FailureRemoveAfter > 0 {
			if e.ledger.IndexerFailures(strikes.IndexerKey(service, idx)) >= policy.FailureRemoveAfter {
				if fullyDownloaded {
					entry.LastReason = domain.LastReasonPreservedIndexerFailure
					e.ledger.Put(key, entry)
					e.explain(ctx, "preserve_completed_indexer_failure", service, item, nil)
					return false, false
				}
				e.setRemovalReason(key, domain.ReasonIndexerFailurePolicy)
				e.ledger.Delete(key)
				stats.IncRemovedIndexerFailure(service)
				return true, autoSearch
			}
		}
	}

	if e.cfg.Whitelist.Matches(item) {
		entry.LastReason = domain.LastReasonWhitelisted
		e.ledger.Put(key, entry)
		e.explain(ctx, "whitelisted", service, item, nil)
		return false, false
	}

	// A finished download stuck in a failed or manual import is the
	// manager's problem, not ours. Leave it alone.
	if fullyDownloaded && hasPostDownloadError(item) {
		entry.LastReason = domain.LastReasonDownloadedErrored
		if haveDownloaded {
			entry.LastDL = ptrInt64(downloaded)
		}
		entry.LastSeenSeeders = seedersPtr(item)
		e.ledger.Put(key, entry)
		e.explain(ctx, "skip_downloaded_errored", service, item, nil)
		return false, false
	}

	if maxAgeHours := e.res.MaxQueueAgeHours(service, item); maxAgeHours > 0 {
		firstSeen := entry.FirstSeenTS
		if firstSeen == 0 {
			firstSeen = now
		}
		if float64(now-firstSeen) >= maxAgeHours*3600 {
			e.setRemovalReason(key, domain.ReasonMaxAge)
			e.ledger.Delete(key)
			e.explain(ctx, "remove", service, item, map[string]any{
				"reason":  domain.ReasonMaxAge,
				"dry_run": e.cfg.General.DryRun,
			})
			return true, autoSearch
		}
	}

	if done, removed := e.processTrackerErrors(ctx, service, key, item, entry, fullyDownloaded, now, stats); done {
		return removed, removed && autoSearch
	}

	if e.reannounceEligible(item, entry, now) {
		e.scheduleReannounce(ctx, service, key, item, entry, stats)
		return false, false
	}

	progressed := haveDownloaded && entry.LastDL != nil && downloaded > *entry.LastDL
	if item.Status() == "downloading" {
		progressed = true
	}

	// Torrents that report progress but have no peers or seeds in the client
	// for a while are treated as stalled despite the manager's numbers.
	if progressed {
		if minutes := e.res.ClientZeroActivityMinutes(service, item); minutes > 0 && item.IsTorrent() {
			peers := int64(-1)
			if n, ok := item.ClientPeers(); ok {
				peers = n
			}
			seeds := int64(-1)
			if n, ok := item.ClientSeeds(); ok {
				seeds = n
			}
			if peers == 0 && seeds == 0 && entry.LastProgressTS != nil && *entry.LastProgressTS > 0 &&
				float64(now-*entry.LastProgressTS) >= minutes*60 {
				progressed = false
			}
		}
	}

	effectiveLimit := e.res.StallLimit(service, item, stallLimit)

	if progressed {
		before := entry.Count
		if policy := strings.ToLower(strings.TrimSpace(e.cfg.General.ResetStrikesOnProgress)); policy == "all" {
			entry.Count = 0
		} else {
			dec := 1
			if n, err := strconv.Atoi(policy); err == nil && n > 1 {
				dec = n
			}
			entry.Count = max(0, before-dec)
		}
		if entry.Count < before {
			stats.IncStrikeDecreased(service)
		}
		if haveDownloaded {
			entry.LastDL = ptrInt64(downloaded)
		}
		entry.LastProgressTS = ptrInt64(now)
		entry.LastSeenSeeders = seedersPtr(item)
		entry.LastReason = domain.LastReasonProgress
		e.ledger.Put(key, entry)
		e.explain(ctx, "progress", service, item, map[string]any{"strikes": entry.Count})
		return false, false
	}

	if rules.IsQueued(item) {
		entry.LastReason = domain.LastReasonQueued
		entry.LastSeenSeeders = seedersPtr(item)
		e.ledger.Put(key, entry)
		stats.IncQueued(service)
		e.explain(ctx, "queued", service, item, nil)
		return false, false
	}

	reason := e.rules.Evaluate(service, item, entry, progressed, now)
	if reason == "" {
		if haveDownloaded {
			entry.LastDL = ptrInt64(downloaded)
			entry.LastSeenSeeders = seedersPtr(item)
			e.ledger.Put(key, entry)
		}
		return false, false
	}

	// A rule matched, but a reannounce may still rescue the torrent before
	// strikes accumulate.
	if e.reannounceEligible(item, entry, now) {
		e.scheduleReannounce(ctx, service, key, item, entry, stats)
		return false, false
	}

	if haveDownloaded {
		entry.LastDL = ptrInt64(downloaded)
	}
	entry.LastSeenSeeders = seedersPtr(item)
	entry.LastReason = reason

	if reason == domain.ReasonNoProgressTimeout {
		e.setRemovalReason(key, reason)
		e.ledger.Delete(key)
		e.explain(ctx, "remove", service, item, map[string]any{"reason": reason})
		return true, autoSearch
	}

	entry.Count++
	stats.IncStrikeIncreased(service)
	e.ledger.Put(key, entry)

	if entry.Count >= effectiveLimit {
		e.setRemovalReason(key, reason)
		e.ledger.Delete(key)
		log.Debug().Str("service", service).Any("id", item["id"]).Str("title", title).
			Str("reason", reason).Msg("Strike limit reached; removing item")
		e.explain(ctx, "remove", service, item, map[string]any{"reason": reason})
		return true, autoSearch
	}

	ev := log.Debug().Str("service", service).Any("id", item["id"]).Str("title", title).
		Str("reason", reason).Int("strikes", entry.Count)
	if seeds, ok := item.Seeders(); ok {
		ev = ev.Int64("seeds", seeds)
	}
	if pct, ok := item.ProgressPercent(); ok {
		ev = ev.Float64("progress", pct)
	}
	ev.Msg("Recorded strike")
	e.explain(ctx, "strike", service, item, map[string]any{
		"reason":  reason,
		"strikes": entry.Count,
	})
	return false, false
}

// processTrackerErrors counts "unregistered torrent" style tracker messages
// and removes the item once the configured number of consecutive sightings is
// reached, recording the failure against the item's indexer. Returns
// done=true when the item's fate is settled here.
func (e *Engine) processTrackerErrors(ctx context.Context, service, key string, item domain.Item, entry *strikes.Entry, fullyDownloaded bool, now int64, stats *metrics.CycleStats) (done, removed bool) {
	threshold := e.res.TrackerErrorStrikes(service, item)
	if threshold <= 0 {
		return false, false
	}
	if !hasTrackerErrorText(item) {
		return false, false
	}

	entry.ErrorStrikes++
	if entry.ErrorStrikes < threshold {
		e.ledger.Put(key, entry)
		return false, false
	}

	if fullyDownloaded {
		entry.LastReason = domain.LastReasonPreservedTrackerError
		e.ledger.Put(key, entry)
		e.explain(ctx, "preserve_completed_tracker_error", service, item, nil)
		return true, false
	}

	e.setRemovalReason(key, domain.ReasonTrackerError)
	if idx := item.Indexer(); idx != "" {
		e.ledger.RecordIndexerFailure(strikes.IndexerKey(service, idx), now)
	}
	e.ledger.Delete(key)
	e.explain(ctx, "remove", service, item, map[string]any{
		"reason":  domain.ReasonTrackerError,
		"dry_run": e.cfg.General.DryRun,
	})
	return true, true
}

// reannounceEligible is the single gate for scheduling a reannounce attempt.
// It requires the feature to be on, a torrent protocol item, a seeder count
// that satisfies only_when_seeds_zero, remaining attempts, and an elapsed
// cooldown since the last attempt.
func (e *Engine) reannounceEligible(item domain.Item, entry *strikes.Entry, now int64) bool {
	rea := e.cfg.RuleEngine.Reannounce
	if !rea.Enabled || !item.IsTorrent() {
		return false
	}
	if rea.OnlyWhenSeedsZero {
		if seeds, ok := item.Seeders(); ok && seeds > 0 {
			return false
		}
	}
	if entry.ReannounceAttempts >= rea.MaxAttempts {
		return false
	}
	if entry.LastReannounceTS != nil && *entry.LastReannounceTS > 0 &&
		float64(now-*entry.LastReannounceTS) < rea.CooldownMinutes*60 {
		return false
	}
	return true
}

func (e *Engine) scheduleReannounce(ctx context.Context, service, key string, item domain.Item, entry *strikes.Entry, stats *metrics.CycleStats) {
	e.mu.Lock()
	already := e.reannounceRequests[key]
	e.reannounceRequests[key] = true
	e.mu.Unlock()

	entry.LastReason = domain.LastReasonReannounceScheduled
	e.ledger.Put(key, entry)

	if !already {
		stats.IncReannounceScheduled(service)
		e.explain(ctx, "reannounce_scheduled", service, item, nil)
	}
}

func (e *Engine) explain(ctx context.Context, name, service string, item domain.Item, fields map[string]any) {
	if !e.cfg.General.ExplainDecisions {
		return
	}
	e.bus.Emit(ctx, events.Event{Name: name, Service: service, Item: item, Fields: fields})
}

// isFullyDownloaded reports whether the item finished downloading, either by
// a zero sizeleft or a reported progress at or above 99.9 percent.
func isFullyDownloaded(item domain.Item) bool {
	if left, ok := item.SizeLeft(); ok && left == 0 {
		return true
	}
	if pct, ok := item.ProgressPercent(); ok && pct >= 99.9 {
		return true
	}
	return false
}

var importKeywords = []string{
	"import failed",
	"failed to import",
	"manual import",
	"manually import",
	"manual intervention",
	"waiting to import",
	"waiting for import",
}

// hasPostDownloadError reports whether a completed item is stuck on the
// manager side: a warning or error tracked status, or import trouble in the
// status messages.
func hasPostDownloadError(item domain.Item) bool {
	txt := strings.ToLower(item.StatusText())

	importRelated := false
	for _, kw := range importKeywords {
		if strings.Contains(txt, kw) {
			importRelated = true
			break
		}
	}
	if !importRelated && strings.Contains(txt, "import") {
		for _, kw := range []string{"fail", "manual", "intervention", "waiting"} {
			if strings.Contains(txt, kw) {
				importRelated = true
				break
			}
		}
	}

	tds := item.TrackedStatus()
	status := item.Status()
	return tds == "warning" || tds == "error" || status == "warning" || status == "error" || importRelated
}

var trackerErrorPhrases = []string{
	"unregistered",
	"not registered",
	"torrent not found",
	"not found on tracker",
}

func hasTrackerErrorText(item domain.Item) bool {
	txt := strings.ToLower(item.StatusText())
	if msg := item.ClientTrackersMsg(); msg != "" {
		txt += " " + strings.ToLower(msg)
	}
	for _, phrase := range trackerErrorPhrases {
		if strings.Contains(txt, phrase) {
			return true
		}
	}
	return false
}

func ptrInt64(v int64) *int64 { return &v }

func seedersPtr(item domain.Item) *int64 {
	if s, ok := item.Seeders(); ok {
		return &s
	}
	return nil
}

// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rules holds the pure item predicates and the ordered removal-rule
// evaluator. The evaluator inspects one item plus its ledger entry and
// returns a removal reason, or "" when no rule fires.
package rules

import (
	"strings"

	"github.com/autobrr/sweeparr/internal/domain"
	"github.com/autobrr/sweeparr/internal/strikes"
)

// IsStalled reports the manager-visible stall signals: a warning/error
// state, or stall wording in the status or error messages.
func IsStalled(item domain.Item) bool {
	switch item.TrackedStatus() {
	case "warning", "error", "stalled":
		return true
	}
	switch item.Status() {
	case "warning", "stalled":
		return true
	}
	text := item.StatusText()
	return strings.Contains(text, "stalled") || strings.Contains(text, "no connections")
}

// IsQueued reports whether the item is waiting for a download slot rather
// than actively transferring.
func IsQueued(item domain.Item) bool {
	for _, s := range []string{item.Status(), item.TrackedStatus()} {
		if strings.Contains(s, "queued") || strings.Contains(s, "pending") || strings.Contains(s, "waiting") {
			return true
		}
	}
	cstate := item.ClientState()
	if strings.Contains(cstate, "queue") {
		return true
	}
	switch cstate {
	case "download_wait", "check_wait":
		return true
	}
	return false
}

// RuleSet is the compiled evaluator configuration: the resolver chain, the
// global seeder-stall knobs, and any user-defined expression rules.
type RuleSet struct {
	cfg *domain.Config
	res *Resolver

	// -1 disables the seeder-stall rule
	seederThreshold int
	progressCeiling float64

	custom []compiledRule
}

func NewRuleSet(cfg *domain.Config, res *Resolver) *RuleSet {
	return &RuleSet{
		cfg:             cfg,
		res:             res,
		seederThreshold: cfg.RuleEngine.TorrentSeederStallThreshold,
		progressCeiling: cfg.RuleEngine.TorrentSeederStallProgressCeiling,
		custom:          compileRules(cfg.RuleEngine.CustomRules),
	}
}

// isStalledExtended widens IsStalled with the torrent seeder-stall
// heuristic: at or below the threshold with progress under the ceiling.
// An unknown progress only counts when the threshold is exactly zero.
func (rs *RuleSet) isStalledExtended(item domain.Item) bool {
	if IsStalled(item) {
		return true
	}
	if rs.seederThreshold < 0 || !item.IsTorrent() {
		return false
	}
	seeders, ok := item.Seeders()
	if !ok || seeders > int64(rs.seederThreshold) {
		return false
	}
	pct, ok := item.ProgressPercent()
	if !ok {
		return rs.seederThreshold == 0
	}
	return pct <= rs.progressCeiling
}

// Evaluate runs the ordered rules for one item and returns the removal
// reason, or "". The entry is read-only here; ledger side effects belong
// to the decision engine.
func (rs *RuleSet) Evaluate(service string, item domain.Item, entry *strikes.Entry, progressed bool, now int64) string {
	firstSeen := entry.FirstSeenTS
	if firstSeen == 0 {
		firstSeen = now
	}

	if grace := rs.res.GracePeriodMinutes(service, item); grace > 0 {
		if float64(now-firstSeen) < grace*60 {
			return ""
		}
	}

	if maxAgeH := rs.res.MaxQueueAgeHours(service, item); maxAgeH > 0 {
		if float64(now-firstSeen) >= maxAgeH*3600 {
			return domain.ReasonMaxAge
		}
	}

	if noProgMin := rs.res.NoProgressMaxAgeMinutes(service, item); !progressed && noProgMin > 0 && entry.LastProgressTS != nil {
		if float64(now-*entry.LastProgressTS) >= noProgMin*60 {
			return domain.ReasonNoProgressTimeout
		}
	}

	minSpeed := rs.res.MinSpeedBytesPerSec(service, item)
	minSpeedDur := rs.res.MinSpeedDurationMinutes(service, item)
	if minSpeed > 0 && minSpeedDur > 0 && item.IsTorrent() {
		if spd, ok := item.ClientDlSpeed(); ok && float64(spd) < minSpeed {
			lp := firstSeen
			if entry.LastProgressTS != nil {
				lp = *entry.LastProgressTS
			}
			if float64(now-lp) >= minSpeedDur*60 {
				return domain.ReasonMinSpeed
			}
		}
	}

	if rs.res.ClientStateAsStalled(service, item) {
		switch item.ClientState() {
		case "stalleddl", "stalledup", "error":
			return domain.ReasonClientState
		}
	}

	if zeroActMin := rs.res.ClientZeroActivityMinutes(service, item); zeroActMin > 0 && item.IsTorrent() {
		peers, peersOK := item.ClientPeers()
		seeds, seedsOK := item.ClientSeeds()
		if peersOK && seedsOK && peers == 0 && seeds == 0 {
			lp := firstSeen
			if entry.LastProgressTS != nil {
				lp = *entry.LastProgressTS
			}
			if float64(now-lp) >= zeroActMin*60 {
				return domain.ReasonClientNoPeers
			}
		}
	}

	if reason := rs.evalLargeZeroSeeders(item, firstSeen, now); reason != "" {
		return reason
	}

	if rs.isStalledExtended(item) {
		return rs.stallReason(item)
	}

	if reason := rs.evalCustom(service, item, entry, now); reason != "" {
		return reason
	}

	return ""
}

// evalLargeZeroSeeders reads large_size_gb / large_zero_seeders_remove_minutes
// straight from rule_engine: the large-item policy is deliberately global.
func (rs *RuleSet) evalLargeZeroSeeders(item domain.Item, firstSeen, now int64) string {
	largeGB := rs.cfg.RuleEngine.LargeSizeGB
	largeZeroMin := rs.cfg.RuleEngine.LargeZeroSeedersRemoveMinutes
	ceiling := rs.cfg.RuleEngine.LargeProgressCeilingPercent
	if largeGB <= 0 || largeZeroMin <= 0 || !item.IsTorrent() {
		return ""
	}

	total, ok := item.Size()
	if !ok || total < int64(largeGB*float64(1<<30)) {
		return ""
	}
	if seeds, ok := item.Seeders(); ok && seeds != 0 {
		return ""
	}
	if pct, ok := item.ProgressPercent(); ok && pct > ceiling {
		return ""
	}
	if float64(now-firstSeen) >= largeZeroMin*60 {
		return domain.ReasonLargeZeroSeeders
	}
	return ""
}

// stallReason picks between low_seeders and stalled once the extended
// stall signal fired. A per-indexer seeder_stall_threshold overrides the
// global one.
func (rs *RuleSet) stallReason(item domain.Item) string {
	threshold := rs.seederThreshold
	if policy, ok := rs.cfg.IndexerPolicy(item.Indexer()); ok && policy.SeederStallThreshold != nil {
		threshold = *policy.SeederStallThreshold
	}

	if threshold >= 0 && item.IsTorrent() {
		if seeders, ok := item.Seeders(); ok && seeders <= int64(threshold) {
			pct, pctOK := item.ProgressPercent()
			if !pctOK || pct <= rs.progressCeiling {
				return domain.ReasonLowSeeders
			}
		}
	}
	return domain.ReasonStalled
}

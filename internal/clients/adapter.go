// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package clients enriches queue items with live torrent state from download
// clients and relays reannounce requests to them.
package clients

import (
	"context"
	"time"

	"github.com/autobrr/sweeparr/internal/domain"
	"github.com/autobrr/sweeparr/internal/events"
	"github.com/autobrr/sweeparr/internal/strikes"
)

// Client API calls are short probes; a slow download client must not stall a
// sweep cycle.
const (
	clientTimeoutSeconds = 5
	clientTimeout        = clientTimeoutSeconds * time.Second
)

// Adapter fans item lookups out to every configured download client. Speed
// lookups stop at the first client that knows the hash; enrichment asks all
// of them, letting later clients fill fields earlier ones left empty.
type Adapter struct {
	qb *qbittorrentClient
	tr *transmissionClient
	dl *delugeClient

	reannounce domain.Reannounce
	explain    bool
	bus        *events.Bus
	now        func() time.Time
}

func NewAdapter(cfg *domain.Config, bus *events.Bus) *Adapter {
	a := &Adapter{
		reannounce: cfg.RuleEngine.Reannounce,
		explain:    cfg.General.ExplainDecisions,
		bus:        bus,
		now:        time.Now,
	}
	if cfg.Clients.QBittorrent.Configured() {
		a.qb = newQbittorrentClient(cfg.Clients.QBittorrent)
	}
	if cfg.Clients.Transmission.Configured() {
		a.tr = newTransmissionClient(cfg.Clients.Transmission)
	}
	if cfg.Clients.Deluge.Configured() {
		a.dl = newDelugeClient(cfg.Clients.Deluge)
	}
	return a
}

// Active reports whether at least one download client is configured.
func (a *Adapter) Active() bool {
	return a.qb != nil || a.tr != nil || a.dl != nil
}

// Speed returns the client-reported download rate in bytes per second for
// the item's torrent. Clients are asked in order qBittorrent, Transmission,
// Deluge and the first answer wins.
func (a *Adapter) Speed(ctx context.Context, item domain.Item) (int64, bool) {
	hash := item.DownloadID()
	if hash == "" {
		return 0, false
	}
	if a.qb != nil {
		if speed, ok := a.qb.speed(ctx, hash); ok {
			return speed, true
		}
	}
	if a.tr != nil {
		if speed, ok := a.tr.speed(ctx, hash); ok {
			return speed, true
		}
	}
	if a.dl != nil {
		if speed, ok := a.dl.speed(ctx, hash); ok {
			return speed, true
		}
	}
	return 0, false
}

// Enrich merges live client state into the item. qBittorrent answers
// overwrite whatever the queue reported; Transmission and Deluge only fill
// fields still missing.
func (a *Adapter) Enrich(ctx context.Context, item domain.Item) {
	hash := item.DownloadID()
	if hash == "" {
		return
	}
	if a.qb != nil {
		a.qb.enrich(ctx, item, hash)
	}
	if a.tr != nil {
		a.tr.enrich(ctx, item, hash)
	}
	if a.dl != nil {
		a.dl.enrich(ctx, item, hash)
	}
}

// AttemptReannounce re-checks the reannounce gates against the ledger entry
// and, when they pass, asks every configured client to reannounce the
// torrent. The entry records the attempt so the cooldown and the attempt cap
// hold across cycles.
func (a *Adapter) AttemptReannounce(ctx context.Context, service string, item domain.Item, entry *strikes.Entry) bool {
	cfg := a.reannounce
	if !cfg.Enabled || entry == nil {
		return false
	}
	if entry.ReannounceAttempts >= cfg.MaxAttempts {
		return false
	}
	now := a.now().Unix()
	if entry.LastReannounceTS != nil && *entry.LastReannounceTS > 0 &&
		float64(now-*entry.LastReannounceTS) < cfg.CooldownMinutes*60 {
		return false
	}
	var seeds int64
	if n, ok := item.ClientSeeds(); ok {
		seeds = n
	}
	if cfg.OnlyWhenSeedsZero && seeds > 0 {
		return false
	}
	hash := item.DownloadID()
	if hash == "" {
		return false
	}

	attempted := false
	if a.qb != nil {
		attempted = a.qb.reannounce(ctx, hash, cfg.DoRecheck) || attempted
	}
	if a.tr != nil {
		// A Transmission target with no recheck requested always counts as
		// attempted, even when the daemon rejects the announce.
		ok := a.tr.rpc(ctx, "torrent-reannounce", map[string]any{"ids": []any{hash}})
		recheckOK := true
		if cfg.DoRecheck {
			recheckOK = a.tr.rpc(ctx, "torrent-verify", map[string]any{"ids": []any{hash}})
		}
		attempted = attempted || ok || recheckOK
	}
	if a.dl != nil {
		attempted = a.dl.reannounce(ctx, hash, cfg.DoRecheck) || attempted
	}
	if !attempted {
		return false
	}

	ts := now
	entry.LastReannounceTS = &ts
	entry.ReannounceAttempts++
	entry.LastReason = domain.LastReasonReannounce
	if a.explain {
		a.bus.Emit(ctx, events.Event{
			Name:    "reannounce_attempted",
			Service: service,
			Item:    item,
			Fields: map[string]any{
				"seeds":    seeds,
				"attempts": entry.ReannounceAttempts,
			},
		})
	}
	return true
}

// asInt64 coerces the loosely typed numbers found in decoded RPC payloads.
func asInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

// truthy mirrors loose RPC result checks: nil, false, zero and the empty
// string all count as failure.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	}
	return true
}

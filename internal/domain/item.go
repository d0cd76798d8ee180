// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"strconv"
	"strings"
)

// Item is one download queue record as returned by a manager. The shape is
// heterogeneous across managers and API versions (field synonyms, nested
// release info), so it stays an opaque map behind typed accessors.
type Item map[string]any

// ID returns the queue item id.
func (it Item) ID() (int64, bool) {
	return toInt(it["id"])
}

// Title returns the release title, or "".
func (it Item) Title() string {
	return toString(it["title"])
}

// DownloadID returns the client-side download identifier (torrent hash).
func (it Item) DownloadID() string {
	if s := toString(it["downloadId"]); s != "" {
		return s
	}
	return toString(it["downloadID"])
}

// IsTorrent reports whether the item uses the torrent protocol. Managers
// report protocol either as a string or as a numeric enum where 1 means
// torrent.
func (it Item) IsTorrent() bool {
	v, ok := it["protocol"]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr {
		return strings.Contains(strings.ToLower(s), "torrent")
	}
	if n, numOK := toInt(v); numOK {
		return n == 1
	}
	return false
}

// Size returns the total size in bytes.
func (it Item) Size() (int64, bool) {
	return toInt(it["size"])
}

// SizeLeft returns the remaining bytes, trying sizeleft then sizeLeft.
func (it Item) SizeLeft() (int64, bool) {
	if v, ok := it["sizeleft"]; ok && v != nil {
		return toInt(v)
	}
	return toInt(it["sizeLeft"])
}

// DownloadedBytes returns size − sizeleft when both are known.
func (it Item) DownloadedBytes() (int64, bool) {
	size, ok := it.Size()
	if !ok {
		return 0, false
	}
	left, ok := it.SizeLeft()
	if !ok {
		return 0, false
	}
	return size - left, true
}

// ProgressPercent returns download progress clamped to [0,100], or false
// when size or sizeleft is unknown or the total is not positive.
func (it Item) ProgressPercent() (float64, bool) {
	dl, ok := it.DownloadedBytes()
	if !ok {
		return 0, false
	}
	total, ok := it.Size()
	if !ok || total <= 0 {
		return 0, false
	}
	pct := float64(dl) / float64(total) * 100.0
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, true
}

var releaseContainers = []string{"remoteEpisode", "remoteMovie"}

// Seeders returns the reported seeder count, trying the top-level fields,
// then release.*, then remoteEpisode/remoteMovie release info.
func (it Item) Seeders() (int64, bool) {
	if n, ok := seedersFrom(map[string]any(it)); ok {
		return n, true
	}
	if rel, ok := it["release"].(map[string]any); ok {
		if n, ok := seedersFrom(rel); ok {
			return n, true
		}
	}
	for _, parent := range releaseContainers {
		obj, ok := it[parent].(map[string]any)
		if !ok {
			continue
		}
		if rel, ok := obj["release"].(map[string]any); ok {
			if n, ok := seedersFrom(rel); ok {
				return n, true
			}
		}
	}
	return 0, false
}

func seedersFrom(m map[string]any) (int64, bool) {
	for _, key := range []string{"seeders", "seederCount"} {
		if v, ok := m[key]; ok && v != nil {
			if n, numOK := toInt(v); numOK {
				return n, true
			}
		}
	}
	return 0, false
}

// Indexer returns the indexer name, searching the same containers as
// Seeders, or "".
func (it Item) Indexer() string {
	if s := indexerFrom(map[string]any(it)); s != "" {
		return s
	}
	if rel, ok := it["release"].(map[string]any); ok {
		if s := indexerFrom(rel); s != "" {
			return s
		}
	}
	for _, parent := range releaseContainers {
		obj, ok := it[parent].(map[string]any)
		if !ok {
			continue
		}
		if rel, ok := obj["release"].(map[string]any); ok {
			if s := indexerFrom(rel); s != "" {
				return s
			}
		}
	}
	return ""
}

func indexerFrom(m map[string]any) string {
	for _, key := range []string{"indexer", "indexerName"} {
		if s := toString(m[key]); s != "" {
			return s
		}
	}
	return ""
}

// Status returns the lowercased status field.
func (it Item) Status() string {
	return strings.ToLower(toString(it["status"]))
}

// TrackedStatus returns the lowercased trackedDownloadStatus, falling back
// to trackedDownloadState.
func (it Item) TrackedStatus() string {
	if s := toString(it["trackedDownloadStatus"]); s != "" {
		return strings.ToLower(s)
	}
	return strings.ToLower(toString(it["trackedDownloadState"]))
}

// StatusText flattens statusMessages plus errorMessage into one lowercased
// blob for substring matching.
func (it Item) StatusText() string {
	var parts []string
	if msgs, ok := it["statusMessages"].([]any); ok {
		for _, raw := range msgs {
			msg, isMap := raw.(map[string]any)
			if !isMap {
				if s := toString(raw); s != "" {
					parts = append(parts, s)
				}
				continue
			}
			if s := toString(msg["title"]); s != "" {
				parts = append(parts, s)
			}
			if list, ok := msg["messages"].([]any); ok {
				for _, entry := range list {
					if s := toString(entry); s != "" {
						parts = append(parts, s)
					}
				}
			}
			if s := toString(msg["message"]); s != "" {
				parts = append(parts, s)
			}
		}
	}
	if s := toString(it["errorMessage"]); s != "" {
		parts = append(parts, s)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// Client enrichment fields, written by the torrent-client adapters.

func (it Item) ClientState() string {
	return strings.ToLower(toString(it["clientState"]))
}

func (it Item) ClientPeers() (int64, bool) {
	return toInt(it["clientPeers"])
}

func (it Item) ClientSeeds() (int64, bool) {
	return toInt(it["clientSeeds"])
}

func (it Item) ClientDlSpeed() (int64, bool) {
	return toInt(it["clientDlSpeed"])
}

func (it Item) ClientTrackersMsg() string {
	return toString(it["clientTrackersMsg"])
}

// SetIfAbsent writes a field only when the key is not already present.
// Used by lower-priority client adapters so they never clobber values from
// an earlier adapter.
func (it Item) SetIfAbsent(key string, value any) {
	if _, ok := it[key]; !ok {
		it[key] = value
	}
}

// Has reports key presence regardless of value.
func (it Item) Has(key string) bool {
	_, ok := it[key]
	return ok
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

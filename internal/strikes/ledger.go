// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package strikes persists the cross-cycle memory of the janitor: per-item
// strike counts and per-indexer failure counters, stored as a single JSON
// object on disk.
package strikes

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const indexerKeyMarker = ":_indexer:"

// Entry is one ledger record. Item entries use the strike fields; indexer
// entries (keys containing ":_indexer:") use only Failures and LastTS.
type Entry struct {
	Count              int
	LastDL             *int64
	FirstSeenTS        int64
	LastProgressTS     *int64
	LastSeenSeeders    *int64
	LastReason         string
	LastReannounceTS   *int64
	ReannounceAttempts int
	ErrorStrikes       int

	Failures int
	LastTS   int64
}

// NewEntry returns a fresh item entry first seen at now.
func NewEntry(now int64) *Entry {
	return &Entry{FirstSeenTS: now}
}

func (e *Entry) clone() *Entry {
	if e == nil {
		return nil
	}
	dup := *e
	return &dup
}

// Key builds the ledger key for a queue item.
func Key(service string, id int64) string {
	return fmt.Sprintf("%s:%d", service, id)
}

// IndexerKey builds the ledger key for a per-indexer failure record.
func IndexerKey(service, indexer string) string {
	return service + indexerKeyMarker + indexer
}

// IsIndexerKey reports whether the key names an indexer record.
func IsIndexerKey(key string) bool {
	return strings.Contains(key, indexerKeyMarker)
}

// itemEntryJSON is the on-disk shape of an item entry.
type itemEntryJSON struct {
	Count              int     `json:"count"`
	LastDL             *int64  `json:"last_dl"`
	FirstSeenTS        int64   `json:"first_seen_ts"`
	LastProgressTS     *int64  `json:"last_progress_ts"`
	LastSeenSeeders    *int64  `json:"last_seen_seeders"`
	LastReason         *string `json:"last_reason"`
	LastReannounceTS   *int64  `json:"last_reannounce_ts"`
	ReannounceAttempts int     `json:"reannounce_attempts"`
	ErrorStrikes       int     `json:"error_strikes"`
}

// indexerEntryJSON is the on-disk shape of an indexer record.
type indexerEntryJSON struct {
	Failures int     `json:"failures"`
	LastTS   float64 `json:"last_ts"`
}

// Normalize coerces a raw decoded ledger value into a full item entry.
// Legacy formats are upgraded: a bare integer becomes the strike count, a
// seen_ts field aliases first_seen_ts, and a missing or zero first_seen_ts
// is replaced with now. Normalizing an already normalized entry is a no-op.
func Normalize(raw any, now int64) *Entry {
	switch v := raw.(type) {
	case float64:
		return &Entry{Count: int(v), FirstSeenTS: now}
	case int:
		return &Entry{Count: v, FirstSeenTS: now}
	case map[string]any:
		e := &Entry{
			Count:              intField(v, "count"),
			LastDL:             optIntField(v, "last_dl"),
			LastProgressTS:     optIntField(v, "last_progress_ts"),
			LastSeenSeeders:    optIntField(v, "last_seen_seeders"),
			LastReannounceTS:   optIntField(v, "last_reannounce_ts"),
			ReannounceAttempts: intField(v, "reannounce_attempts"),
			ErrorStrikes:       intField(v, "error_strikes"),
		}
		if s, ok := v["last_reason"].(string); ok {
			e.LastReason = s
		}
		e.FirstSeenTS = int64(floatField(v, "first_seen_ts"))
		if e.FirstSeenTS == 0 {
			e.FirstSeenTS = int64(floatField(v, "seen_ts"))
		}
		if e.FirstSeenTS == 0 {
			e.FirstSeenTS = now
		}
		return e
	default:
		return NewEntry(now)
	}
}

func floatField(m map[string]any, key string) float64 {
	switch n := m[key].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func intField(m map[string]any, key string) int {
	return int(floatField(m, key))
}

func optIntField(m map[string]any, key string) *int64 {
	switch n := m[key].(type) {
	case float64:
		v := int64(n)
		return &v
	case int:
		v := int64(n)
		return &v
	case int64:
		v := n
		return &v
	default:
		return nil
	}
}

// Ledger is the mutex-guarded in-memory ledger bound to its file path.
// Accessors hand out copies; callers mutate their copy and Put it back, so
// concurrent manager tasks never share entry memory.
type Ledger struct {
	mu      sync.Mutex
	path    string
	entries map[string]*Entry
}

// NewLedger returns an empty ledger bound to path.
func NewLedger(path string) *Ledger {
	return &Ledger{path: path, entries: make(map[string]*Entry)}
}

// Load reads the ledger file. A missing or unreadable file yields an empty
// ledger; corruption is logged, never fatal.
func Load(path string, now int64) *Ledger {
	l := NewLedger(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("could not read strike file; starting empty")
		}
		return l
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("strike file corrupt; starting empty")
		return l
	}

	for key, msg := range raw {
		if IsIndexerKey(key) {
			var ie indexerEntryJSON
			if err := json.Unmarshal(msg, &ie); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("skipping unreadable indexer entry")
				continue
			}
			l.entries[key] = &Entry{Failures: ie.Failures, LastTS: int64(ie.LastTS)}
			continue
		}

		var val any
		if err := json.Unmarshal(msg, &val); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("skipping unreadable entry")
			continue
		}
		l.entries[key] = Normalize(val, now)
	}

	return l
}

// Path returns the bound file path.
func (l *Ledger) Path() string {
	return l.path
}

// Entry returns a copy of the stored entry, or a fresh one first seen now.
func (l *Ledger) Entry(key string, now int64) *Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok {
		return e.clone()
	}
	return NewEntry(now)
}

// Get returns a copy of the stored entry and whether it existed.
func (l *Ledger) Get(key string) (*Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	return e.clone(), ok
}

// Put stores a copy of the entry under key.
func (l *Ledger) Put(key string, e *Entry) {
	if e == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = e.clone()
}

// Delete removes the entry, if present.
func (l *Ledger) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// Clear drops every entry.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]*Entry)
}

// Len returns the total number of records, indexer entries included.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Counts returns the number of item entries and indexer entries.
func (l *Ledger) Counts() (items, indexers int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.entries {
		if IsIndexerKey(key) {
			indexers++
		} else {
			items++
		}
	}
	return items, indexers
}

// ActiveStrikes counts item entries with at least one strike.
func (l *Ledger) ActiveStrikes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for key, e := range l.entries {
		if !IsIndexerKey(key) && e.Count > 0 {
			n++
		}
	}
	return n
}

// IndexerFailures returns the failure count recorded under an indexer key.
func (l *Ledger) IndexerFailures(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok {
		return e.Failures
	}
	return 0
}

// RecordIndexerFailure bumps the failure counter for an indexer key.
func (l *Ledger) RecordIndexerFailure(key string, now int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &Entry{}
		l.entries[key] = e
	}
	e.Failures++
	e.LastTS = now
}

// Snapshot returns a copy of all entries.
func (l *Ledger) Snapshot() map[string]*Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]*Entry, len(l.entries))
	for key, e := range l.entries {
		out[key] = e.clone()
	}
	return out
}

func (l *Ledger) view() map[string]any {
	out := make(map[string]any, len(l.entries))
	for key, e := range l.entries {
		if IsIndexerKey(key) {
			out[key] = indexerEntryJSON{Failures: e.Failures, LastTS: float64(e.LastTS)}
			continue
		}
		var reason *string
		if e.LastReason != "" {
			r := e.LastReason
			reason = &r
		}
		out[key] = itemEntryJSON{
			Count:              e.Count,
			LastDL:             e.LastDL,
			FirstSeenTS:        e.FirstSeenTS,
			LastProgressTS:     e.LastProgressTS,
			LastSeenSeeders:    e.LastSeenSeeders,
			LastReason:         reason,
			LastReannounceTS:   e.LastReannounceTS,
			ReannounceAttempts: e.ReannounceAttempts,
			ErrorStrikes:       e.ErrorStrikes,
		}
	}
	return out
}

// Dump renders the ledger as indented JSON, matching the on-disk shape.
func (l *Ledger) Dump() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return json.MarshalIndent(l.view(), "", "  ")
}

// Save atomically writes the ledger: marshal, write a sibling temp file,
// rename over the target.
func (l *Ledger) Save() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.MarshalIndent(l.view(), "", "    ")
	if err != nil {
		return errors.Wrap(err, "marshal strike file")
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create strike dir %s", dir)
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "write temp strike file %s", tmp)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return errors.Wrapf(err, "replace strike file %s", l.path)
	}
	return nil
}

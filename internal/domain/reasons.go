// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// Removal reasons recorded in removal_reasons and emitted on remove events.
const (
	ReasonStalled              = "stalled"
	ReasonLowSeeders           = "low_seeders"
	ReasonLargeZeroSeeders     = "large_zero_seeders"
	ReasonMaxAge               = "max_age"
	ReasonNoProgressTimeout    = "no_progress_timeout"
	ReasonMinSpeed             = "min_speed"
	ReasonClientState          = "client_state"
	ReasonClientNoPeers        = "client_no_peers"
	ReasonTrackerError         = "tracker_error"
	ReasonIndexerFailurePolicy = "indexer_failure_policy"
	ReasonStrikeLimit          = "strike_limit"

	// ReasonCustomPrefix prefixes reasons produced by user-defined rules:
	// "custom:<name>".
	ReasonCustomPrefix = "custom:"
)

// Ledger last_reason markers for non-removal outcomes.
const (
	LastReasonProgress            = "progress"
	LastReasonQueued              = "queued"
	LastReasonWhitelisted         = "whitelisted"
	LastReasonDownloadedErrored   = "downloaded_but_errored"
	LastReasonReannounceScheduled = "reannounce_scheduled"
	LastReasonReannounce          = "reannounce"

	LastReasonPreservedIndexerFailure = "completed_preserved_indexer_failure"
	LastReasonPreservedTrackerError   = "completed_preserved_tracker_error"
)

// Event names on the event bus.
const (
	EventRemove    = "remove"
	EventDryRemove = "dry_remove"
)

// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package clients

import (
	"context"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/sweeparr/internal/domain"
)

// reannounceMinVersion is the WebAPI version that introduced the torrents
// reannounce endpoint (qBittorrent 4.1.2).
var reannounceMinVersion = semver.MustParse("2.0.2")

type qbittorrentClient struct {
	client *qbt.Client

	mu                 sync.Mutex
	versionChecked     bool
	supportsReannounce bool
}

func newQbittorrentClient(cfg domain.ClientConfig) *qbittorrentClient {
	return &qbittorrentClient{
		client: qbt.NewClient(qbt.Config{
			Host:     strings.TrimRight(cfg.URL, "/"),
			Username: cfg.Username,
			Password: cfg.Password,
			Timeout:  clientTimeoutSeconds,
		}),
	}
}

func (q *qbittorrentClient) login(ctx context.Context) bool {
	if err := q.client.LoginCtx(ctx); err != nil {
		log.Debug().Err(err).Msg("qBittorrent login failed")
		return false
	}
	q.checkVersion(ctx)
	return true
}

// checkVersion probes the WebAPI version once per process so reannounce
// requests can be skipped on daemons that predate the endpoint.
func (q *qbittorrentClient) checkVersion(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.versionChecked {
		return
	}
	q.versionChecked = true
	q.supportsReannounce = true

	webAPIVersion, err := q.client.GetWebAPIVersionCtx(ctx)
	if err != nil || webAPIVersion == "" {
		return
	}
	if v, err := semver.NewVersion(webAPIVersion); err == nil {
		q.supportsReannounce = !v.LessThan(reannounceMinVersion)
	}
	log.Debug().
		Str("webAPIVersion", webAPIVersion).
		Bool("supportsReannounce", q.supportsReannounce).
		Msg("qBittorrent WebAPI version detected")
}

func (q *qbittorrentClient) canReannounce() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.versionChecked || q.supportsReannounce
}

// torrent logs in and fetches the torrent matching hash. A failed login or
// an unknown hash reports false.
func (q *qbittorrentClient) torrent(ctx context.Context, hash string) (*qbt.Torrent, bool) {
	if !q.login(ctx) {
		return nil, false
	}
	torrents, err := q.client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Hashes: []string{hash}})
	if err != nil {
		log.Debug().Err(err).Str("hash", hash).Msg("qBittorrent torrent lookup failed")
		return nil, false
	}
	if len(torrents) == 0 {
		return nil, false
	}
	return &torrents[0], true
}

func (q *qbittorrentClient) speed(ctx context.Context, hash string) (int64, bool) {
	t, ok := q.torrent(ctx, hash)
	if !ok {
		return 0, false
	}
	return t.DlSpeed, true
}

func (q *qbittorrentClient) enrich(ctx context.Context, item domain.Item, hash string) {
	if t, ok := q.torrent(ctx, hash); ok {
		item["clientState"] = string(t.State)
		item["clientPeers"] = t.NumLeechs
		item["clientSeeds"] = t.NumSeeds
	}
	trackers, err := q.client.GetTorrentTrackersCtx(ctx, hash)
	if err != nil {
		log.Debug().Err(err).Str("hash", hash).Msg("qBittorrent tracker lookup failed")
		return
	}
	var msgs []string
	for _, tracker := range trackers {
		if tracker.Message != "" {
			msgs = append(msgs, tracker.Message)
		}
	}
	if len(msgs) > 0 {
		item["clientTrackersMsg"] = strings.Join(msgs, " | ")
	}
}

// reannounce asks qBittorrent to reannounce the torrent and optionally force
// a recheck. Only a failed login reports false; the announce and recheck
// responses are advisory.
func (q *qbittorrentClient) reannounce(ctx context.Context, hash string, recheck bool) bool {
	if !q.login(ctx) {
		return false
	}
	if q.canReannounce() {
		if err := q.client.ReAnnounceTorrentsCtx(ctx, []string{hash}); err != nil {
			log.Debug().Err(err).Str("hash", hash).Msg("qBittorrent reannounce request failed")
		}
	}
	if recheck {
		if err := q.client.RecheckCtx(ctx, []string{hash}); err != nil {
			log.Debug().Err(err).Str("hash", hash).Msg("qBittorrent recheck request failed")
		}
	}
	return true
}

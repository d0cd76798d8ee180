// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/sweeparr/internal/domain"
)

// delugeStatusKeys are the torrent status fields the enrichment step reads.
var delugeStatusKeys = []any{
	"state", "download_payload_rate", "num_peers", "num_peers_connected",
	"num_seeds", "total_seeds", "tracker_status",
}

type delugeClient struct {
	url      string
	password string
	http     *http.Client
}

func newDelugeClient(cfg domain.ClientConfig) *delugeClient {
	url := strings.TrimRight(cfg.URL, "/")
	if !strings.HasSuffix(url, "/json") {
		url += "/json"
	}
	password := cfg.Password
	if password == "" {
		password = "deluge"
	}
	return &delugeClient{
		url:      url,
		password: password,
		http:     &http.Client{Timeout: clientTimeout},
	}
}

// request authenticates against the Deluge web UI and performs one JSON-RPC
// call. The login response is not inspected; a rejected session surfaces as
// an error payload on the call itself.
func (d *delugeClient) request(ctx context.Context, method string, params []any) (map[string]any, bool) {
	resp, err := d.post(ctx, "auth.login", []any{d.password}, 1)
	if err != nil {
		log.Debug().Err(err).Msg("Deluge login request failed")
		return nil, false
	}
	drain(resp)

	resp, err = d.post(ctx, method, params, 2)
	if err != nil {
		log.Debug().Err(err).Str("method", method).Msg("Deluge RPC failed")
		return nil, false
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return nil, false
	}
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, false
	}
	return payload, true
}

func (d *delugeClient) post(ctx context.Context, method string, params []any, id int) (*http.Response, error) {
	body, err := json.Marshal(map[string]any{"method": method, "params": params, "id": id})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return d.http.Do(req)
}

func (d *delugeClient) info(ctx context.Context, hash string) (map[string]any, bool) {
	payload, ok := d.request(ctx, "core.get_torrent_status", []any{hash, delugeStatusKeys})
	if !ok {
		return nil, false
	}
	result, ok := payload["result"].(map[string]any)
	if !ok {
		return nil, false
	}
	return result, true
}

func (d *delugeClient) speed(ctx context.Context, hash string) (int64, bool) {
	info, ok := d.info(ctx, hash)
	if !ok {
		return 0, false
	}
	v, present := info["download_payload_rate"]
	if !present || v == nil {
		return 0, false
	}
	return asInt64(v), true
}

func (d *delugeClient) enrich(ctx context.Context, item domain.Item, hash string) {
	info, ok := d.info(ctx, hash)
	if !ok {
		return
	}
	var state any
	if s, _ := info["state"].(string); s != "" {
		state = strings.ToLower(s)
	}
	item.SetIfAbsent("clientState", state)

	peers := asInt64(info["num_peers"])
	if peers == 0 {
		peers = asInt64(info["num_peers_connected"])
	}
	item.SetIfAbsent("clientPeers", peers)

	seeds := asInt64(info["num_seeds"])
	if seeds == 0 {
		seeds = asInt64(info["total_seeds"])
	}
	item.SetIfAbsent("clientSeeds", seeds)

	if ts, _ := info["tracker_status"].(string); ts != "" && item.ClientTrackersMsg() == "" {
		item["clientTrackersMsg"] = ts
	}
}

// reannounce forces a tracker reannounce and optionally a recheck. Deluge
// replies with a null result on success, so a daemon that answers at all may
// still report false here.
func (d *delugeClient) reannounce(ctx context.Context, hash string, recheck bool) bool {
	payload, _ := d.request(ctx, "core.force_reannounce", []any{[]any{hash}})
	ok := truthy(payload["result"])
	if recheck {
		payload, _ = d.request(ctx, "core.force_recheck", []any{[]any{hash}})
		ok = ok || truthy(payload["result"])
	}
	return ok
}

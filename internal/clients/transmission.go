// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/sweeparr/internal/domain"
)

const transmissionSessionHeader = "X-Transmission-Session-Id"

// transmissionStates maps numeric Transmission status codes to the state
// names the rule engine understands.
var transmissionStates = map[int64]string{
	0: "stopped",
	1: "check_wait",
	2: "checking",
	3: "download_wait",
	4: "downloading",
	5: "seed_wait",
	6: "seeding",
}

type transmissionClient struct {
	url      string
	username string
	password string
	http     *http.Client
}

func newTransmissionClient(cfg domain.ClientConfig) *transmissionClient {
	return &transmissionClient{
		url:      strings.TrimRight(cfg.URL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Timeout: clientTimeout},
	}
}

// call performs one Transmission RPC round trip, retrying once with the
// session id from a 409 response. ok reflects the HTTP status alone; the
// payload is nil when the body is not valid JSON.
func (t *transmissionClient) call(ctx context.Context, method string, arguments map[string]any) (map[string]any, bool) {
	body, err := json.Marshal(map[string]any{"method": method, "arguments": arguments})
	if err != nil {
		return nil, false
	}
	resp, err := t.post(ctx, body, "")
	if err != nil {
		log.Debug().Err(err).Str("method", method).Msg("Transmission RPC failed")
		return nil, false
	}
	if resp.StatusCode == http.StatusConflict {
		sessionID := resp.Header.Get(transmissionSessionHeader)
		drain(resp)
		if sessionID == "" {
			return nil, false
		}
		resp, err = t.post(ctx, body, sessionID)
		if err != nil {
			log.Debug().Err(err).Str("method", method).Msg("Transmission RPC failed")
			return nil, false
		}
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return nil, false
	}
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, true
	}
	return payload, true
}

func (t *transmissionClient) post(ctx context.Context, body []byte, sessionID string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(transmissionSessionHeader, sessionID)
	}
	if t.username != "" || t.password != "" {
		req.SetBasicAuth(t.username, t.password)
	}
	return t.http.Do(req)
}

// rpc reports whether the daemon acknowledged the call with a 2xx status.
func (t *transmissionClient) rpc(ctx context.Context, method string, arguments map[string]any) bool {
	_, ok := t.call(ctx, method, arguments)
	return ok
}

func (t *transmissionClient) speed(ctx context.Context, hash string) (int64, bool) {
	payload, ok := t.call(ctx, "torrent-get", map[string]any{
		"ids":    []any{hash},
		"fields": []any{"rateDownload"},
	})
	if !ok {
		return 0, false
	}
	torrents := torrentList(payload)
	if len(torrents) == 0 {
		return 0, false
	}
	return asInt64(torrents[0]["rateDownload"]), true
}

// info fetches the status fields the enrichment step consumes.
func (t *transmissionClient) info(ctx context.Context, hash string) (map[string]any, bool) {
	payload, ok := t.call(ctx, "torrent-get", map[string]any{
		"ids": []any{hash},
		"fields": []any{
			"status", "peersConnected", "peersSendingToUs",
			"peersGettingFromUs", "rateDownload", "trackerStats",
		},
	})
	if !ok {
		return nil, false
	}
	torrents := torrentList(payload)
	if len(torrents) == 0 {
		return nil, false
	}
	return torrents[0], true
}

func (t *transmissionClient) enrich(ctx context.Context, item domain.Item, hash string) {
	info, ok := t.info(ctx, hash)
	if !ok {
		return
	}
	item.SetIfAbsent("clientState", transmissionState(asInt64(info["status"])))
	item.SetIfAbsent("clientPeers", asInt64(info["peersConnected"]))

	stats, _ := info["trackerStats"].([]any)
	var seedCounts []int64
	var msgs []string
	for _, raw := range stats {
		stat, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if v, present := stat["seederCount"]; present && v != nil {
			seedCounts = append(seedCounts, asInt64(v))
		}
		msg, _ := stat["lastAnnounceResult"].(string)
		if msg == "" {
			msg, _ = stat["lastScrapeResult"].(string)
		}
		if msg != "" {
			msgs = append(msgs, msg)
		}
	}
	if len(seedCounts) > 0 {
		item.SetIfAbsent("clientSeeds", slices.Max(seedCounts))
	}
	if len(msgs) > 0 && item.ClientTrackersMsg() == "" {
		item["clientTrackersMsg"] = strings.Join(msgs, " | ")
	}
}

func transmissionState(status int64) string {
	if s, ok := transmissionStates[status]; ok {
		return s
	}
	return "unknown"
}

func torrentList(payload map[string]any) []map[string]any {
	args, _ := payload["arguments"].(map[string]any)
	raw, _ := args["torrents"].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, v := range raw {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

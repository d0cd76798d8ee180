// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/moistari/rls"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/sweeparr/internal/domain"
	"github.com/autobrr/sweeparr/pkg/httphelpers"
	"github.com/autobrr/sweeparr/pkg/redact"
)

const (
	defaultTemplate = "Removed {service} queue item id={id} title={title} reason={reason}"

	discordContentLimit = 1900
	slackContentLimit   = 38000
)

// Service delivers removal notifications to the configured destinations,
// either immediately or batched per destination until Flush.
type Service struct {
	dests  []domain.Destination
	dryRun bool
	client *http.Client

	mu     sync.Mutex
	queues map[string][]string
}

func NewService(dests []domain.Destination, dryRun bool) *Service {
	return &Service{
		dests:  dests,
		dryRun: dryRun,
		client: &http.Client{Timeout: 5 * time.Second},
		queues: make(map[string][]string),
	}
}

// Handle fans one event out to every destination whose reasons filter
// matches. Batch destinations only enqueue; the rest post right away.
func (s *Service) Handle(ctx context.Context, service string, item domain.Item, reason string) {
	for _, d := range s.dests {
		if !d.MatchesReason(reason) {
			continue
		}
		line := formatLine(d, service, item, reason)
		if d.Batch {
			s.enqueue(d, line)
		} else {
			s.sendImmediate(ctx, d, line)
		}
	}
}

// Flush posts and clears every batched queue. Queues are cleared even
// when delivery fails so a bad webhook cannot grow memory forever.
func (s *Service) Flush(ctx context.Context) {
	s.mu.Lock()
	pending := s.queues
	s.queues = make(map[string][]string)
	s.mu.Unlock()

	for key, lines := range pending {
		if len(lines) == 0 {
			continue
		}
		dest, ok := s.destination(key)
		if !ok {
			continue
		}
		s.sendBatch(ctx, dest, lines)
	}
}

// Pending returns a copy of the batched queues, mainly for tests.
func (s *Service) Pending() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]string, len(s.queues))
	for key, lines := range s.queues {
		out[key] = append([]string(nil), lines...)
	}
	return out
}

func (s *Service) destination(key string) (domain.Destination, bool) {
	for _, d := range s.dests {
		if d.Key() == key {
			return d, true
		}
	}
	return domain.Destination{}, false
}

func (s *Service) enqueue(dest domain.Destination, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dest.Key()
	s.queues[key] = append(s.queues[key], line)
}

func (s *Service) sendImmediate(ctx context.Context, dest domain.Destination, line string) {
	switch dest.NormalizedType() {
	case domain.DestinationDiscord:
		s.post(ctx, dest, map[string]any{"content": s.dryPrefixLine(line)}, nil)
	case domain.DestinationSlack:
		s.post(ctx, dest, map[string]any{"text": s.dryPrefixLine(line)}, nil)
	default:
		if dest.RawJSON {
			var doc any
			if err := json.Unmarshal([]byte(line), &doc); err != nil {
				doc = map[string]any{"message": line}
			}
			if m, ok := doc.(map[string]any); ok && s.dryRun {
				if _, exists := m["dryRun"]; !exists {
					m["dryRun"] = true
				}
			}
			s.post(ctx, dest, doc, dest.Headers)
			return
		}
		s.post(ctx, dest, map[string]any{"message": s.dryPrefixLine(line)}, dest.Headers)
	}
}

func (s *Service) sendBatch(ctx context.Context, dest domain.Destination, lines []string) {
	switch dest.NormalizedType() {
	case domain.DestinationDiscord:
		content := truncate(s.dryPrefixBlock(strings.Join(lines, "\n")), discordContentLimit)
		s.post(ctx, dest, map[string]any{"content": content}, nil)
	case domain.DestinationSlack:
		content := truncate(s.dryPrefixBlock(strings.Join(lines, "\n")), slackContentLimit)
		s.post(ctx, dest, map[string]any{"text": content}, nil)
	default:
		if dest.RawJSON {
			events := parseEventLines(lines)
			body := map[string]any{"events": events}
			if s.dryRun {
				body["dryRun"] = true
			}
			s.post(ctx, dest, body, dest.Headers)
			return
		}
		content := s.dryPrefixBlock(strings.Join(lines, "\n"))
		s.post(ctx, dest, map[string]any{"message": content}, dest.Headers)
	}
}

// parseEventLines decodes each batched line as JSON; if any line fails,
// the whole batch degrades to message wrappers.
func parseEventLines(lines []string) []any {
	events := make([]any, 0, len(lines))
	for _, line := range lines {
		var doc any
		if err := json.Unmarshal([]byte(line), &doc); err != nil {
			events = events[:0]
			for _, l := range lines {
				events = append(events, map[string]any{"message": l})
			}
			return events
		}
		events = append(events, doc)
	}
	return events
}

func (s *Service) post(ctx context.Context, dest domain.Destination, payload any, headers map[string]string) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Warn().Err(err).Str("destination", dest.Key()).Msg("Failed to encode notification payload")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest.URL, bytes.NewReader(body))
	if err != nil {
		log.Warn().Err(err).Str("destination", dest.Key()).Msg("Failed to build notification request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		log.Warn().Err(redact.URLError(err)).Str("destination", dest.Key()).Str("type", dest.NormalizedType()).Msg("Failed to send notification")
		return
	}
	defer httphelpers.DrainAndClose(resp)

	if resp.StatusCode >= http.StatusBadRequest {
		log.Warn().Int("status", resp.StatusCode).Str("destination", dest.Key()).Msg("Notification destination returned an error status")
	}
}

func (s *Service) dryPrefixLine(line string) string {
	if s.dryRun {
		return "[DRY RUN] " + line
	}
	return line
}

func (s *Service) dryPrefixBlock(content string) string {
	if s.dryRun {
		return "[DRY RUN]\n" + content
	}
	return content
}

// formatLine renders a destination template. Besides the basic
// {service}/{id}/{title}/{reason} variables, templates may reference
// {resolution}, {source} and {group}, parsed out of the release title.
func formatLine(dest domain.Destination, service string, item domain.Item, reason string) string {
	template := dest.Template
	if template == "" {
		template = defaultTemplate
	}
	if reason == "" {
		reason = "unknown"
	}

	title := stringify(item["title"])
	pairs := []string{
		"{service}", service,
		"{id}", stringify(item["id"]),
		"{title}", title,
		"{reason}", reason,
	}
	if strings.Contains(template, "{resolution}") || strings.Contains(template, "{source}") || strings.Contains(template, "{group}") {
		r := rls.ParseString(title)
		pairs = append(pairs,
			"{resolution}", r.Resolution,
			"{source}", r.Source,
			"{group}", r.Group,
		)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprint(v)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n..."
}

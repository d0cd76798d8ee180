// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package arr

import (
	"context"
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/sweeparr/internal/domain"
	"github.com/autobrr/sweeparr/internal/events"
	"github.com/autobrr/sweeparr/internal/rules"
)

// Executor carries out removal decisions against the manager APIs and emits
// the matching events. HTTP failures are logged and swallowed so one bad
// call never aborts a sweep; the event still fires so operators see what was
// attempted.
type Executor struct {
	clients map[string]*Client
	res     *rules.Resolver
	bus     *events.Bus
	dryRun  bool
}

func NewExecutor(clients map[string]*Client, res *rules.Resolver, bus *events.Bus, dryRun bool) *Executor {
	return &Executor{clients: clients, res: res, bus: bus, dryRun: dryRun}
}

// RemoveAndBlacklist deletes the queue item and blocks the release from
// coming back. In dry-run mode it only emits the dry_remove event.
func (e *Executor) RemoveAndBlacklist(ctx context.Context, service string, item domain.Item, reason string) {
	client, ok := e.clients[service]
	if !ok {
		log.Warn().Str("service", service).Msg("No client configured for removal")
		return
	}

	// older manager builds only understand the blacklist spelling
	paramName := "blacklist"
	if e.res.UseBlocklistParam(service) {
		paramName = "blocklist"
	}
	params := url.Values{}
	params.Set(paramName, "true")
	if e.res.RemoveFromClient(service) {
		params.Set("removeFromClient", "true")
		params.Set("skipImport", "true")
	}

	if e.dryRun {
		e.bus.Emit(ctx, events.Event{
			Name:    domain.EventDryRemove,
			Service: service,
			Item:    item,
			Reason:  reason,
			Notify:  true,
		})
		return
	}

	id, _ := item.ID()
	if err := client.DeleteQueueItem(ctx, id, params); err != nil {
		log.Warn().Err(err).Str("service", service).Int64("id", id).
			Msg("Queue item removal request failed")
	}

	log.Debug().Str("service", service).Any("id", item["id"]).Str("title", item.Title()).
		Str("reason", reason).Msg("Removed and blacklisted queue item")
	e.bus.Emit(ctx, events.Event{
		Name:    domain.EventRemove,
		Service: service,
		Item:    item,
		Reason:  reason,
		Notify:  true,
	})
}

// BlacklistAndSearch removes the item and asks the manager to search for a
// replacement release.
func (e *Executor) BlacklistAndSearch(ctx context.Context, service string, item domain.Item) {
	e.RemoveAndBlacklist(ctx, service, item, domain.ReasonStrikeLimit)

	command := BuildSearchCommand(service, item)
	if command == nil {
		return
	}
	client, ok := e.clients[service]
	if !ok || e.dryRun {
		return
	}
	if err := client.Command(ctx, command); err != nil {
		log.Warn().Err(err).Str("service", service).Msg("Search command request failed")
		return
	}
	log.Debug().Str("service", service).Msg("Triggered search after removal")
}

// BuildSearchCommand maps a queue item to the manager's search command, or
// nil when the item carries none of the known media ids.
func BuildSearchCommand(service string, item domain.Item) map[string]any {
	switch service {
	case domain.ServiceSonarr:
		if v, ok := item["episodeId"]; ok {
			return map[string]any{"name": "EpisodeSearch", "episodeIds": []any{v}}
		}
		if v, ok := item["episodeIds"].([]any); ok {
			return map[string]any{"name": "EpisodeSearch", "episodeIds": v}
		}
		if v, ok := item["seriesId"]; ok {
			return map[string]any{"name": "SeriesSearch", "seriesId": v}
		}
	case domain.ServiceRadarr:
		if v, ok := item["movieId"]; ok {
			return map[string]any{"name": "MoviesSearch", "movieIds": []any{v}}
		}
	case domain.ServiceLidarr:
		if v, ok := item["albumId"]; ok {
			return map[string]any{"name": "AlbumSearch", "albumIds": []any{v}}
		}
	}
	return nil
}

// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package events

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/sweeparr/internal/domain"
	"github.com/autobrr/sweeparr/internal/notifications"
)

// Event is one decision or action record. Fields supplements the common
// id/title/service/reason attributes; Notify forwards the event to the
// notification destinations.
type Event struct {
	Name    string
	Service string
	Item    domain.Item
	Reason  string
	Notify  bool
	Fields  map[string]any
}

// Bus writes event lines, structured or textual, and hands notify events
// to the notification service.
type Bus struct {
	structured bool
	notifier   *notifications.Service
	releases   *releaseCache
}

func NewBus(structured bool, notifier *notifications.Service) *Bus {
	return &Bus{
		structured: structured,
		notifier:   notifier,
		releases:   newReleaseCache(),
	}
}

func (b *Bus) Emit(ctx context.Context, ev Event) {
	fields := make(map[string]any, len(ev.Fields)+4)
	for k, v := range ev.Fields {
		fields[k] = v
	}
	if ev.Item != nil {
		setDefault(fields, "id", ev.Item["id"])
		setDefault(fields, "title", ev.Item["title"])
	}
	if ev.Service != "" {
		setDefault(fields, "service", ev.Service)
	}
	if ev.Reason != "" {
		setDefault(fields, "reason", ev.Reason)
	}
	if ev.Notify && ev.Item != nil {
		b.addReleaseFields(fields, ev.Item.Title())
	}

	b.Log(ev.Name, fields)

	if ev.Notify && ev.Service != "" && ev.Item != nil && b.notifier != nil {
		b.notifier.Handle(ctx, ev.Service, ev.Item, ev.Reason)
	}
}

// Log writes one event line. Structured mode emits the fields as JSON
// attributes; textual mode renders them inline with byte counts
// humanized.
func (b *Bus) Log(event string, fields map[string]any) {
	if b.structured {
		log.Info().Str("event", event).Fields(fields).Msg("")
		return
	}
	log.Info().Msgf("%s: %v", event, humanizeFields(fields))
}

// Flush drains the batched notification queues.
func (b *Bus) Flush(ctx context.Context) {
	if b.notifier != nil {
		b.notifier.Flush(ctx)
	}
}

// addReleaseFields annotates notify events with metadata parsed from the
// release title, when the parser finds any.
func (b *Bus) addReleaseFields(fields map[string]any, title string) {
	if title == "" {
		return
	}
	release := b.releases.parse(title)
	if release.Resolution != "" {
		setDefault(fields, "resolution", release.Resolution)
	}
	if release.Source != "" {
		setDefault(fields, "source", release.Source)
	}
	if release.Group != "" {
		setDefault(fields, "release_group", release.Group)
	}
}

func setDefault(fields map[string]any, key string, value any) {
	if _, ok := fields[key]; !ok {
		fields[key] = value
	}
}

// humanizeFields renders byte-count fields readable in textual mode.
func humanizeFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch k {
		case "size":
			if n, ok := asUint64(v); ok {
				out[k] = humanize.IBytes(n)
				continue
			}
		case "speed", "dl_speed":
			if n, ok := asUint64(v); ok {
				out[k] = humanize.IBytes(n) + "/s"
				continue
			}
		}
		out[k] = v
	}
	return out
}

func asUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case int:
		if n >= 0 {
			return uint64(n), true
		}
	case int64:
		if n >= 0 {
			return uint64(n), true
		}
	case uint64:
		return n, true
	case float64:
		if n >= 0 {
			return uint64(n), true
		}
	}
	return 0, false
}

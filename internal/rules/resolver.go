// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rules

import (
	"github.com/autobrr/sweeparr/internal/domain"
)

// Resolver answers effective-setting lookups through the override chain:
// first matching category, then the manager's services block, then the
// global rule_engine block, then the caller's default.
type Resolver struct {
	cfg *domain.Config
}

func NewResolver(cfg *domain.Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// Category returns the first category whose title_contains matches the
// item title, or nil.
func (r *Resolver) Category(item domain.Item) *domain.Category {
	if item == nil {
		return nil
	}
	title := item.Title()
	for i := range r.cfg.Categories {
		if r.cfg.Categories[i].Matches(title) {
			return &r.cfg.Categories[i]
		}
	}
	return nil
}

// layers builds the override chain for an item-scoped lookup. A nil item
// skips the category layer, which makes the same chain usable for
// manager-scoped settings.
func (r *Resolver) layers(service string, item domain.Item) []*domain.RuleOverrides {
	out := make([]*domain.RuleOverrides, 0, 3)
	if cat := r.Category(item); cat != nil {
		out = append(out, &cat.RuleOverrides)
	}
	if mc, ok := r.cfg.Services[service]; ok && mc != nil {
		out = append(out, &mc.RuleOverrides)
	}
	out = append(out, &r.cfg.RuleEngine.RuleOverrides)
	return out
}

func firstInt(layers []*domain.RuleOverrides, pick func(*domain.RuleOverrides) *int, def int) int {
	for _, l := range layers {
		if v := pick(l); v != nil {
			return *v
		}
	}
	return def
}

func firstFloat(layers []*domain.RuleOverrides, pick func(*domain.RuleOverrides) *float64, def float64) float64 {
	for _, l := range layers {
		if v := pick(l); v != nil {
			return *v
		}
	}
	return def
}

func firstBool(layers []*domain.RuleOverrides, pick func(*domain.RuleOverrides) *bool, def bool) bool {
	for _, l := range layers {
		if v := pick(l); v != nil {
			return *v
		}
	}
	return def
}

func (r *Resolver) StallLimit(service string, item domain.Item, def int) int {
	return firstInt(r.layers(service, item), func(o *domain.RuleOverrides) *int { return o.StallLimit }, def)
}

// ServiceStallLimit is the per-manager base limit the runner hands to the
// decision engine: services block, then rule_engine, then the global
// environment default.
func (r *Resolver) ServiceStallLimit(service string) int {
	return firstInt(r.layers(service, nil), func(o *domain.RuleOverrides) *int { return o.StallLimit }, r.globalStallLimit())
}

func (r *Resolver) globalStallLimit() int {
	if r.cfg.General.GlobalStallLimit > 0 {
		return r.cfg.General.GlobalStallLimit
	}
	return domain.DefaultStallLimit
}

func (r *Resolver) GracePeriodMinutes(service string, item domain.Item) float64 {
	return firstFloat(r.layers(service, item), func(o *domain.RuleOverrides) *float64 { return o.GracePeriodMinutes }, 0)
}

func (r *Resolver) MaxQueueAgeHours(service string, item domain.Item) float64 {
	return firstFloat(r.layers(service, item), func(o *domain.RuleOverrides) *float64 { return o.MaxQueueAgeHours }, 0)
}

func (r *Resolver) NoProgressMaxAgeMinutes(service string, item domain.Item) float64 {
	return firstFloat(r.layers(service, item), func(o *domain.RuleOverrides) *float64 { return o.NoProgressMaxAgeMinutes }, 0)
}

func (r *Resolver) MinSpeedBytesPerSec(service string, item domain.Item) float64 {
	return firstFloat(r.layers(service, item), func(o *domain.RuleOverrides) *float64 { return o.MinSpeedBytesPerSec }, 0)
}

func (r *Resolver) MinSpeedDurationMinutes(service string, item domain.Item) float64 {
	return firstFloat(r.layers(service, item), func(o *domain.RuleOverrides) *float64 { return o.MinSpeedDurationMinutes }, 0)
}

func (r *Resolver) ClientStateAsStalled(service string, item domain.Item) bool {
	return firstBool(r.layers(service, item), func(o *domain.RuleOverrides) *bool { return o.ClientStateAsStalled }, false)
}

func (r *Resolver) ClientZeroActivityMinutes(service string, item domain.Item) float64 {
	return firstFloat(r.layers(service, item), func(o *domain.RuleOverrides) *float64 { return o.ClientZeroActivityMinutes }, 0)
}

func (r *Resolver) TrackerErrorStrikes(service string, item domain.Item) int {
	return firstInt(r.layers(service, item), func(o *domain.RuleOverrides) *int { return o.TrackerErrorStrikes }, domain.DefaultTrackerErrorStrikes)
}

// Manager-scoped settings below skip the category layer.

func (r *Resolver) MinRequestIntervalMS(service string) float64 {
	return firstFloat(r.layers(service, nil), func(o *domain.RuleOverrides) *float64 { return o.MinRequestIntervalMS }, 0)
}

func (r *Resolver) MaxConcurrentRequests(service string) int {
	return firstInt(r.layers(service, nil), func(o *domain.RuleOverrides) *int { return o.MaxConcurrentRequests }, 0)
}

func (r *Resolver) AutoSearch(service string) bool {
	return firstBool(r.layers(service, nil), func(o *domain.RuleOverrides) *bool { return o.AutoSearch }, false)
}

func (r *Resolver) UseBlocklistParam(service string) bool {
	return firstBool(r.layers(service, nil), func(o *domain.RuleOverrides) *bool { return o.UseBlocklistParam }, true)
}

func (r *Resolver) RemoveFromClient(service string) bool {
	return firstBool(r.layers(service, nil), func(o *domain.RuleOverrides) *bool { return o.RemoveFromClient }, true)
}

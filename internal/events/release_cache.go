// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package events

import (
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/moistari/rls"
)

// releaseCache memoizes parsed release titles. Items under strike come
// back every sweep, so the same titles repeat cycle after cycle.
type releaseCache struct {
	cache *ttlcache.Cache[string, rls.Release]
}

func newReleaseCache() *releaseCache {
	return &releaseCache{
		cache: ttlcache.New(ttlcache.Options[string, rls.Release]{}.
			SetDefaultTTL(30 * time.Minute)),
	}
}

func (rc *releaseCache) parse(title string) rls.Release {
	if cached, found := rc.cache.Get(title); found {
		return cached
	}

	release := rls.ParseString(title)
	rc.cache.Set(title, release, ttlcache.DefaultTTL)
	return release
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package update keeps an eye on newer sweeparr releases and can swap the
// running binary for the latest one.
package update

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/autobrr/sweeparr/pkg/version"
)

const (
	repoOwner     = "autobrr"
	repoName      = "sweeparr"
	checkInterval = 12 * time.Hour
)

// Service periodically asks GitHub whether a newer release exists and
// caches the answer.
type Service struct {
	log            zerolog.Logger
	currentVersion string
	releaseChecker *version.Checker

	mu            sync.RWMutex
	isEnabled     bool
	latestRelease *version.Release
}

func NewService(log zerolog.Logger, enabled bool, currentVersion, userAgent string) *Service {
	return &Service{
		log:            log.With().Str("component", "update").Logger(),
		currentVersion: currentVersion,
		isEnabled:      enabled,
		releaseChecker: version.NewChecker(repoOwner, repoName, userAgent),
	}
}

func (s *Service) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isEnabled = enabled
}

func (s *Service) enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isEnabled
}

// Start launches the periodic check. It returns immediately; the check
// loop stops when ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Service) run(ctx context.Context) {
	s.CheckUpdates(ctx)

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckUpdates(ctx)
		}
	}
}

// CheckUpdates refreshes the cached latest release. A check that finds no
// newer release clears the cache.
func (s *Service) CheckUpdates(ctx context.Context) {
	if !s.enabled() {
		return
	}

	newAvailable, release, err := s.releaseChecker.CheckNewVersion(ctx, s.currentVersion)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to check for a newer release")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !newAvailable {
		s.latestRelease = nil
		return
	}
	s.latestRelease = release
	s.log.Info().
		Str("current", s.currentVersion).
		Str("latest", release.TagName).
		Msg("A newer release is available")
}

// GetLatestRelease returns the most recently discovered newer release, or
// nil when the running version is current.
func (s *Service) GetLatestRelease(ctx context.Context) *version.Release {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestRelease
}

// CanSelfUpdate reports whether replacing the running binary in place is
// safe in this environment.
func (s *Service) CanSelfUpdate() bool {
	return CanSelfUpdate()
}

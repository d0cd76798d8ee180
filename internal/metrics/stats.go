// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"sync"
)

// ServiceCounts holds the per-cycle counters for one manager.
type ServiceCounts struct {
	Processed             int
	Removed               int
	Queued                int
	StrikeIncreased       int
	StrikeDecreased       int
	ReannounceScheduled   int
	ReannounceAttempted   int
	ReannounceOK          int
	RemovedIndexerFailure int
}

// CycleStats accumulates decision counters for a single runner cycle.
// A fresh instance is created per cycle and shared by the per-manager
// goroutines, so every bump takes the lock.
type CycleStats struct {
	mu       sync.Mutex
	totals   ServiceCounts
	services map[string]*ServiceCounts
}

func NewCycleStats() *CycleStats {
	return &CycleStats{
		services: make(map[string]*ServiceCounts),
	}
}

func (s *CycleStats) bump(service string, f func(*ServiceCounts)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f(&s.totals)
	if service != "" {
		sc, ok := s.services[service]
		if !ok {
			sc = &ServiceCounts{}
			s.services[service] = sc
		}
		f(sc)
	}
}

func (s *CycleStats) IncProcessed(service string) {
	s.bump(service, func(c *ServiceCounts) { c.Processed++ })
}

func (s *CycleStats) IncRemoved(service string) {
	s.bump(service, func(c *ServiceCounts) { c.Removed++ })
}

func (s *CycleStats) IncQueued(service string) {
	s.bump(service, func(c *ServiceCounts) { c.Queued++ })
}

func (s *CycleStats) IncStrikeIncreased(service string) {
	s.bump(service, func(c *ServiceCounts) { c.StrikeIncreased++ })
}

func (s *CycleStats) IncStrikeDecreased(service string) {
	s.bump(service, func(c *ServiceCounts) { c.StrikeDecreased++ })
}

func (s *CycleStats) IncReannounceScheduled(service string) {
	s.bump(service, func(c *ServiceCounts) { c.ReannounceScheduled++ })
}

func (s *CycleStats) IncRemovedIndexerFailure(service string) {
	s.bump(service, func(c *ServiceCounts) { c.RemovedIndexerFailure++ })
}

// AddReannounceAttempt records one executed reannounce and its outcome.
func (s *CycleStats) AddReannounceAttempt(service string, ok bool) {
	s.bump(service, func(c *ServiceCounts) {
		c.ReannounceAttempted++
		if ok {
			c.ReannounceOK++
		}
	})
}

// Totals returns a copy of the cross-manager counters.
func (s *CycleStats) Totals() ServiceCounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals
}

// PerService returns a copy of the per-manager counters.
func (s *CycleStats) PerService() map[string]ServiceCounts {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]ServiceCounts, len(s.services))
	for name, sc := range s.services {
		out[name] = *sc
	}
	return out
}

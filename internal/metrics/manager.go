// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

type Manager struct {
	registry *prometheus.Registry

	cyclesTotal      prometheus.Counter
	lastCycleGauge   prometheus.Gauge
	itemsWithStrikes prometheus.Gauge

	processedTotal       *prometheus.CounterVec
	removedTotal         *prometheus.CounterVec
	queuedTotal          *prometheus.CounterVec
	strikesIncreased     *prometheus.CounterVec
	strikesDecreased     *prometheus.CounterVec
	reannounceTotal      *prometheus.CounterVec
	indexerRemovalsTotal *prometheus.CounterVec

	cyclesSeen    atomic.Uint64
	lastCycleUnix atomic.Int64
}

func NewManager() *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		cyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sweeparr_cycles_total",
			Help: "Total number of completed janitor cycles",
		}),
		lastCycleGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sweeparr_last_cycle_timestamp_seconds",
			Help: "Unix timestamp of the last completed cycle",
		}),
		itemsWithStrikes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sweeparr_items_with_strikes",
			Help: "Number of queue items currently carrying at least one strike",
		}),
		processedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweeparr_queue_items_processed_total",
			Help: "Queue items evaluated, by manager",
		}, []string{"service"}),
		removedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweeparr_queue_items_removed_total",
			Help: "Queue items removed and blacklisted, by manager",
		}, []string{"service"}),
		queuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweeparr_queue_items_waiting_total",
			Help: "Queue items observed in a queued or waiting state, by manager",
		}, []string{"service"}),
		strikesIncreased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweeparr_strikes_increased_total",
			Help: "Strike increments, by manager",
		}, []string{"service"}),
		strikesDecreased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweeparr_strikes_decreased_total",
			Help: "Strike resets and decrements on progress, by manager",
		}, []string{"service"}),
		reannounceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweeparr_reannounce_total",
			Help: "Reannounce activity, by manager and stage",
		}, []string{"service", "stage"}),
		indexerRemovalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweeparr_indexer_policy_removals_total",
			Help: "Removals triggered by per-indexer failure policy, by manager",
		}, []string{"service"}),
	}

	registry.MustRegister(
		m.cyclesTotal,
		m.lastCycleGauge,
		m.itemsWithStrikes,
		m.processedTotal,
		m.removedTotal,
		m.queuedTotal,
		m.strikesIncreased,
		m.strikesDecreased,
		m.reannounceTotal,
		m.indexerRemovalsTotal,
	)

	log.Debug().Msg("Metrics manager initialized")

	return m
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

// ObserveCycle folds one cycle's counters into the exported metrics.
func (m *Manager) ObserveCycle(stats *CycleStats, itemsWithStrikes int) {
	for service, counts := range stats.PerService() {
		m.processedTotal.WithLabelValues(service).Add(float64(counts.Processed))
		m.removedTotal.WithLabelValues(service).Add(float64(counts.Removed))
		m.queuedTotal.WithLabelValues(service).Add(float64(counts.Queued))
		m.strikesIncreased.WithLabelValues(service).Add(float64(counts.StrikeIncreased))
		m.strikesDecreased.WithLabelValues(service).Add(float64(counts.StrikeDecreased))
		m.reannounceTotal.WithLabelValues(service, "scheduled").Add(float64(counts.ReannounceScheduled))
		m.reannounceTotal.WithLabelValues(service, "attempted").Add(float64(counts.ReannounceAttempted))
		m.reannounceTotal.WithLabelValues(service, "success").Add(float64(counts.ReannounceOK))
		m.indexerRemovalsTotal.WithLabelValues(service).Add(float64(counts.RemovedIndexerFailure))
	}

	m.itemsWithStrikes.Set(float64(itemsWithStrikes))
	m.cyclesTotal.Inc()
	m.lastCycleGauge.SetToCurrentTime()

	m.cyclesSeen.Add(1)
	m.lastCycleUnix.Store(time.Now().Unix())
}

// Health reports the cycle counter and the last completion time for the
// healthz endpoint.
func (m *Manager) Health() (cycles uint64, lastCycle time.Time) {
	cycles = m.cyclesSeen.Load()
	if unix := m.lastCycleUnix.Load(); unix > 0 {
		lastCycle = time.Unix(unix, 0)
	}
	return cycles, lastCycle
}

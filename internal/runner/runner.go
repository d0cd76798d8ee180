// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package runner drives the sweep loop: it polls every configured manager's
// queue, feeds each item through the decision engine, and executes the
// removals and reannounce attempts the engine asks for.
package runner

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/sweeparr/internal/arr"
	"github.com/autobrr/sweeparr/internal/clients"
	"github.com/autobrr/sweeparr/internal/domain"
	"github.com/autobrr/sweeparr/internal/engine"
	"github.com/autobrr/sweeparr/internal/events"
	"github.com/autobrr/sweeparr/internal/metrics"
	"github.com/autobrr/sweeparr/internal/strikes"
)

// maxPageSize caps queue pagination regardless of totalRecords.
const maxPageSize = 100

type Runner struct {
	cfg      *domain.Config
	ledger   *strikes.Ledger
	bus      *events.Bus
	engine   *engine.Engine
	adapter  *clients.Adapter
	executor *arr.Executor
	arr      map[string]*arr.Client
	metrics  *metrics.Manager
	interval time.Duration
	now      func() time.Time
}

func New(cfg *domain.Config, ledger *strikes.Ledger, bus *events.Bus, manager *metrics.Manager) *Runner {
	eng := engine.New(cfg, ledger, bus)
	res := eng.Resolver()

	arrClients := make(map[string]*arr.Client)
	for _, name := range domain.ManagerNames {
		mc := cfg.Manager(name)
		if !mc.Configured() {
			continue
		}
		arrClients[name] = arr.NewClient(name, mc.APIURL, mc.APIKey, arr.Options{
			Timeout:            time.Duration(cfg.General.RequestTimeout) * time.Second,
			RetryAttempts:      cfg.General.RetryAttempts,
			RetryBackoff:       cfg.General.RetryBackoff,
			MinRequestInterval: time.Duration(res.MinRequestIntervalMS(name) * float64(time.Millisecond)),
			MaxConcurrent:      res.MaxConcurrentRequests(name),
		})
	}

	return &Runner{
		cfg:      cfg,
		ledger:   ledger,
		bus:      bus,
		engine:   eng,
		adapter:  clients.NewAdapter(cfg, bus),
		executor: arr.NewExecutor(arrClients, res, bus, cfg.General.DryRun),
		arr:      arrClients,
		metrics:  manager,
		interval: time.Duration(cfg.General.APITimeout) * time.Second,
		now:      time.Now,
	}
}

// Run sweeps immediately, then on every interval tick until the context is
// canceled.
func (r *Runner) Run(ctx context.Context) error {
	for {
		r.RunCycle(ctx)

		timer := time.NewTimer(r.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RunOnce performs a single sweep cycle.
func (r *Runner) RunOnce(ctx context.Context) {
	r.RunCycle(ctx)
}

// cycleState carries the per-cycle dedup sets. Queues can shift between page
// fetches and managers share download hashes across grouped items, so both
// sets span the whole cycle.
type cycleState struct {
	mu             sync.Mutex
	processedSeen  map[string]struct{}
	reannounceSeen map[string]struct{}
}

func newCycleState() *cycleState {
	return &cycleState{
		processedSeen:  make(map[string]struct{}),
		reannounceSeen: make(map[string]struct{}),
	}
}

func (c *cycleState) markProcessed(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, seen := c.processedSeen[key]; seen {
		return false
	}
	c.processedSeen[key] = struct{}{}
	return true
}

func (c *cycleState) markReannounce(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, seen := c.reannounceSeen[key]; seen {
		return false
	}
	c.reannounceSeen[key] = struct{}{}
	return true
}

func (r *Runner) RunCycle(ctx context.Context) {
	cycleID := uuid.New().String()[:8]
	log.Debug().Str("cycle", cycleID).Msg("Starting sweep cycle")

	stats := metrics.NewCycleStats()
	state := newCycleState()

	var g errgroup.Group
	for _, name := range domain.ManagerNames {
		g.Go(func() error {
			if err := r.sweepManager(ctx, name, state, stats); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("service", name).Msg("Manager sweep failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	r.summarize(stats)
	if r.metrics != nil {
		r.metrics.ObserveCycle(stats, r.ledger.ActiveStrikes())
	}
	r.bus.Flush(ctx)
}

func (r *Runner) sweepManager(ctx context.Context, name string, state *cycleState, stats *metrics.CycleStats) error {
	client, ok := r.arr[name]
	if !ok {
		log.Debug().Str("service", name).Msg("Configuration incomplete; skipping")
		return nil
	}

	probe, err := client.Queue(ctx, 0, 1)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Debug().Err(err).Str("service", name).Msg("Initial queue request failed; aborting run")
		return nil
	}
	if probe.TotalRecords == nil {
		log.Warn().Str("service", name).Msg("Initial queue response missing totalRecords")
		return nil
	}
	total := *probe.TotalRecords
	if total <= 0 {
		log.Debug().Str("service", name).Msg("Queue empty")
		return nil
	}

	pageSize := min(total, maxPageSize)
	pages := (total + pageSize - 1) / pageSize
	for page := 1; page <= pages; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		resp, err := client.Queue(ctx, page, pageSize)
		if err != nil || resp.Records == nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Str("service", name).Int("page", page).Int("pages", pages).Msg("Queue page response missing records")
			continue
		}
		for _, item := range resp.Records {
			r.processItem(ctx, name, item, state, stats)
		}
		if err := r.ledger.Save(); err != nil {
			log.Error().Err(err).Str("service", name).Msg("Failed to save strike ledger")
		}
	}
	return nil
}

func (r *Runner) processItem(ctx context.Context, name string, item domain.Item, state *cycleState, stats *metrics.CycleStats) {
	id, hasID := item.ID()
	if hasID && !state.markProcessed(name+":"+strconv.FormatInt(id, 10)) {
		return
	}

	if item.IsTorrent() && r.engine.Resolver().MinSpeedBytesPerSec(name, item) > 0 {
		if speed, ok := r.adapter.Speed(ctx, item); ok {
			item["clientDlSpeed"] = speed
		}
	}
	r.adapter.Enrich(ctx, item)

	remove, search := r.engine.Process(ctx, name, item, r.engine.Resolver().ServiceStallLimit(name), stats)
	if !hasID {
		return
	}
	key := strikes.Key(name, id)

	scheduled := r.engine.PopReannounce(key)
	if !scheduled {
		if entry, ok := r.ledger.Get(key); ok && entry.LastReason == domain.LastReasonReannounceScheduled {
			scheduled = true
		}
	}
	if scheduled {
		if hash := item.DownloadID(); hash != "" && state.markReannounce(name+":"+hash) {
			entry := r.ledger.Entry(key, r.now().Unix())
			ok := r.adapter.AttemptReannounce(ctx, name, item, entry)
			r.ledger.Put(key, entry)
			stats.AddReannounceAttempt(name, ok)
			if r.cfg.General.ExplainDecisions {
				log.Info().
					Str("service", name).
					Int64("id", id).
					Str("title", item.Title()).
					Bool("ok", ok).
					Msg("Reannounce attempted")
			}
		}
		// Scheduled items sit out the rest of this cycle; removal resumes
		// next cycle if the torrent is still stuck.
		return
	}

	if !remove {
		return
	}
	reason := r.engine.PopRemovalReason(key)
	if !r.cfg.General.DryRun && search {
		r.executor.BlacklistAndSearch(ctx, name, item)
	} else {
		r.executor.RemoveAndBlacklist(ctx, name, item, reason)
	}
	stats.IncRemoved(name)
}

func (r *Runner) summarize(stats *metrics.CycleStats) {
	for service, counts := range stats.PerService() {
		log.Debug().
			Str("service", service).
			Int("processed", counts.Processed).
			Int("removed", counts.Removed).
			Int("queued", counts.Queued).
			Int("strike_increased", counts.StrikeIncreased).
			Int("strike_decreased", counts.StrikeDecreased).
			Int("reannounce_scheduled", counts.ReannounceScheduled).
			Int("reannounce_attempted", counts.ReannounceAttempted).
			Int("reannounce_ok", counts.ReannounceOK).
			Int("removed_indexer_failure", counts.RemovedIndexerFailure).
			Msg("Cycle breakdown")
	}

	totals := stats.Totals()
	next := r.now().Add(r.interval)
	log.Info().Msgf("Finished run: processed=%d removed=%d items_with_strikes=%d. Next run at %s (in %ds).",
		totals.Processed, totals.Removed, r.ledger.ActiveStrikes(),
		next.Format("2006-01-02 15:04:05"), int(r.interval.Seconds()))
}

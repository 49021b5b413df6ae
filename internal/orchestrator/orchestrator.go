// Package orchestrator runs the refill loop: arbitrate one hot source per
// cycle, discover and claim its candidates, and feed the task queue.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rlorentegh/tramitador/internal/adapter"
	"github.com/rlorentegh/tramitador/internal/filing"
	"github.com/rlorentegh/tramitador/internal/metrics"
	"github.com/rlorentegh/tramitador/internal/policy/priority"
)

// Config carries the orchestrator loop tuning.
type Config struct {
	// Interval is the pause between refill cycles.
	Interval time.Duration
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("orchestrator interval must be positive")
	}
	return nil
}

// Orchestrator owns the periodic refill cycle. Exactly one source gets
// refilled per cycle; everything else waits for its turn.
type Orchestrator struct {
	cfg      Config
	registry *adapter.Registry
	arbiter  *priority.Arbiter
	tasks    filing.TaskStore
	auths    filing.AuthorizationStore
	clock    filing.Clock
	logger   *zap.Logger
}

// New builds an Orchestrator.
func New(
	cfg Config,
	registry *adapter.Registry,
	tasks filing.TaskStore,
	auths filing.AuthorizationStore,
	clock filing.Clock,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		return nil, fmt.Errorf("adapter registry is required")
	}
	if tasks == nil {
		return nil, fmt.Errorf("task store is required")
	}
	if auths == nil {
		return nil, fmt.Errorf("authorization store is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &Orchestrator{
		cfg:      cfg,
		registry: registry,
		arbiter:  priority.NewArbiter(registry.Ranks()),
		tasks:    tasks,
		auths:    auths,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Run executes refill cycles until the context is canceled. A failed cycle is
// logged and the loop keeps going; the store being down means no work this
// cycle, not a crash.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("orchestrator started", zap.Duration("interval", o.cfg.Interval))
	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := o.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.Error("refill cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			o.logger.Info("orchestrator stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle performs one arbitrate-and-refill pass. When every source's
// backlog is empty it probes sources in rank order until one of them yields
// work.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	start := o.clock.Now()
	defer func() {
		metrics.ObserveRefillCycle(o.clock.Now().Sub(start))
	}()

	counts, err := o.tasks.CountBySource(ctx, filing.NonTerminalStatuses...)
	if err != nil {
		return fmt.Errorf("count backlog: %w", err)
	}
	for _, source := range o.registry.Sources() {
		metrics.SetQueueDepth(string(source), counts[source])
	}

	source, ok := o.arbiter.Select(counts)
	if !ok {
		return o.bootstrap(ctx)
	}

	enqueued, err := o.refill(ctx, source, counts[source])
	if err != nil {
		return fmt.Errorf("refill %s: %w", source, err)
	}
	o.logger.Info("refill cycle finished",
		zap.String("source", string(source)),
		zap.Int("enqueued", enqueued),
		zap.Int("backlog", counts[source]),
	)
	return nil
}

// bootstrap handles the empty-backlog case: probe sources in (rank, id)
// order, stopping at the first one that enqueues anything. A failing source
// never blocks the ones behind it.
func (o *Orchestrator) bootstrap(ctx context.Context) error {
	for _, source := range o.registry.Sources() {
		enqueued, err := o.refill(ctx, source, 0)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.Warn("bootstrap probe failed, trying next source",
				zap.String("source", string(source)),
				zap.Error(err),
			)
			continue
		}
		if enqueued > 0 {
			o.logger.Info("bootstrap probe enqueued work",
				zap.String("source", string(source)),
				zap.Int("enqueued", enqueued),
			)
			return nil
		}
	}
	o.logger.Debug("bootstrap probe found no work anywhere")
	return nil
}

// refill tops up one source toward its target depth and returns how many
// tasks (or pending authorizations) it enqueued.
func (o *Orchestrator) refill(ctx context.Context, source filing.SourceID, backlog int) (int, error) {
	entry, ok := o.registry.Get(source)
	if !ok {
		return 0, fmt.Errorf("no adapter registered for source %q", source)
	}
	if backlog >= entry.Config.TargetQueueDepth {
		o.logger.Debug("source already at target depth",
			zap.String("source", string(source)),
			zap.Int("backlog", backlog),
		)
		return 0, nil
	}
	limit := entry.Config.TargetQueueDepth - backlog
	if limit > entry.Config.MaxRefillBatch {
		limit = entry.Config.MaxRefillBatch
	}

	resources, err := entry.Adapter.FetchCandidates(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("fetch candidates: %w", err)
	}

	claimed := make([]filing.Resource, 0, len(resources))
	for _, res := range resources {
		if err := entry.Adapter.EnsureClaimed(ctx, res); err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			o.logClaimFailure(source, res, err)
			continue
		}
		claimed = append(claimed, res)
	}

	enqueued := 0
	for _, candidate := range entry.Adapter.BuildPayloads(ctx, claimed) {
		if candidate.NeedsAuthorization {
			id, err := o.auths.InsertPending(ctx, source, candidate.Protocol, candidate.Payload,
				candidate.AuthorizationType, candidate.AuthorizationReason)
			if err != nil {
				return enqueued, fmt.Errorf("park authorization for resource %d: %w", candidate.Payload.ResourceID, err)
			}
			metrics.ObserveAuthorization("parked")
			o.logger.Info("parked candidate pending authorization",
				zap.String("source", string(source)),
				zap.Int64("resource_id", candidate.Payload.ResourceID),
				zap.String("authorization_type", candidate.AuthorizationType),
				zap.String("authorization_id", id),
			)
			enqueued++
			continue
		}
		if _, err := o.tasks.Insert(ctx, source, candidate.Protocol, candidate.Payload); err != nil {
			return enqueued, fmt.Errorf("enqueue resource %d: %w", candidate.Payload.ResourceID, err)
		}
		metrics.ObserveEnqueue(string(source))
		enqueued++
	}
	return enqueued, nil
}

func (o *Orchestrator) logClaimFailure(source filing.SourceID, res filing.Resource, err error) {
	if errors.Is(err, filing.ErrOwnershipConflict) {
		o.logger.Info("skipping resource claimed by another user",
			zap.String("source", string(source)),
			zap.Int64("resource_id", res.ResourceID),
		)
		return
	}
	o.logger.Warn("claim failed, resource left for next cycle",
		zap.String("source", string(source)),
		zap.Int64("resource_id", res.ResourceID),
		zap.Error(err),
	)
}

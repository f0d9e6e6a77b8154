// Package scheduler implements GroupScheduler: the round-robin beat that
// decides which group gets the next DispatcherTick. The loop shape is a
// plain time.Ticker loop generalized from "claim one runnable job" to
// "pick the next fairness-eligible group and tick it", extended to run N
// loop instances concurrently via errgroup since nothing about the
// selection rule requires a single goroutine.
package scheduler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	reposwf "github.com/stepflow/stepflow/internal/data/repos/workflow"
	"github.com/stepflow/stepflow/internal/engine/dispatcher"
	"github.com/stepflow/stepflow/internal/platform/logger"
)

// Scheduler drives one or more beat loops, each repeatedly selecting the
// oldest-unselected group and running one DispatcherTick for it.
type Scheduler struct {
	dispatch reposwf.DispatchRepository
	cooldown reposwf.CooldownRepository
	tick     *dispatcher.Tick
	interval time.Duration
	log      *logger.Logger
}

func New(dispatch reposwf.DispatchRepository, cooldown reposwf.CooldownRepository, tick *dispatcher.Tick, interval time.Duration, baseLog *logger.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Scheduler{
		dispatch: dispatch, cooldown: cooldown, tick: tick, interval: interval,
		log: baseLog.With("component", "GroupScheduler"),
	}
}

// Run drives loops concurrent beat loops until ctx is cancelled.
// loops <= 1 runs a single loop, matching the simplest deployment shape;
// correctness never depends on this number, since the authoritative
// mutual exclusion is the per-group can_dispatch row, not goroutine count.
func (s *Scheduler) Run(ctx context.Context, loops int) error {
	if loops < 1 {
		loops = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < loops; i++ {
		g.Go(func() error { return s.loop(ctx) })
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.beat(ctx); err != nil {
				s.log.Error("scheduler beat failed", "error", err)
			}
		}
	}
}

// beat runs one round of the five-step selection rule: check cooldown,
// pick the oldest eligible group, touch its selection timestamp, and tick
// it.
func (s *Scheduler) beat(ctx context.Context) error {
	coolingDown, err := s.cooldown.IsCoolingDown(ctx)
	if err != nil {
		return err
	}
	if coolingDown {
		return nil
	}

	group, ok, err := s.dispatch.OldestGroup(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if err := s.dispatch.TouchSelected(ctx, group, time.Now()); err != nil {
		return err
	}

	_, err = s.tick.Run(ctx, group)
	return err
}

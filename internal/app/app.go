package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	reposwf "github.com/stepflow/stepflow/internal/data/repos/workflow"
	"github.com/stepflow/stepflow/internal/engine/cascade"
	"github.com/stepflow/stepflow/internal/engine/dispatcher"
	"github.com/stepflow/stepflow/internal/engine/retry"
	"github.com/stepflow/stepflow/internal/engine/runner"
	"github.com/stepflow/stepflow/internal/engine/runner/examples"
	"github.com/stepflow/stepflow/internal/engine/scheduler"
	"github.com/stepflow/stepflow/internal/engine/transition"
	"github.com/stepflow/stepflow/internal/notify"
	"github.com/stepflow/stepflow/internal/platform/logger"
	"github.com/stepflow/stepflow/internal/queue"
)

// App holds every wired component a long-running stepflowd process (or
// the stepflowctl CLI, for one-shot commands) needs. Exported fields are
// the deliberately small surface both entry points share.
type App struct {
	cfg Config
	Log *logger.Logger

	DB  *gorm.DB
	RDB *goredis.Client

	Steps    reposwf.StepRepository
	Dispatch reposwf.DispatchRepository
	Cooldown reposwf.CooldownRepository

	Executor  *transition.Executor
	Cascade   *cascade.Engine
	Retry     *retry.Policy
	Registry  *runner.Registry
	Runner    *runner.Runner
	Tick      *dispatcher.Tick
	Scheduler *scheduler.Scheduler
}

// New connects to Postgres and Redis and wires every engine component
// together: repositories first, then TransitionExecutor on top of them,
// then CascadeEngine/DispatcherTick/GroupScheduler layered on top of that,
// since each later stage depends on the one before it being ready.
func New(cfg Config) (*App, error) {
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("app: logger: %w", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("app: connect postgres: %w", err)
	}

	rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})

	steps := reposwf.NewStepRepository(db, log)
	dispatchRepo := reposwf.NewDispatchRepository(db, log)
	cooldownRepo := reposwf.NewCooldownRepository(db)

	notifier := notify.NewRedis(rdb, "", log)
	exec := transition.NewExecutor(db, steps, notifier, log)
	cascadeEngine := cascade.NewEngine(steps, exec, log)
	retryPolicy := retry.NewPolicy(exec, steps, retry.Exponential(cfg.RetryBaseDelay), cfg.RetryCeiling)

	registry := runner.NewRegistry()
	if err := examples.Register(registry); err != nil {
		return nil, fmt.Errorf("app: register example jobs: %w", err)
	}
	jobRunner := runner.New(steps, exec, retryPolicy, registry, log)

	transport := queue.NewRedisTransport(rdb, "", log)
	tick := dispatcher.NewTick(steps, dispatchRepo, cooldownRepo, cascadeEngine, exec, transport, jobRunner, log)
	sched := scheduler.New(dispatchRepo, cooldownRepo, tick, cfg.SchedulerInterval, log)

	return &App{
		cfg: cfg, Log: log,
		DB: db, RDB: rdb,
		Steps: steps, Dispatch: dispatchRepo, Cooldown: cooldownRepo,
		Executor: exec, Cascade: cascadeEngine, Retry: retryPolicy,
		Registry: registry, Runner: jobRunner, Tick: tick, Scheduler: sched,
	}, nil
}

// Start runs the scheduler (if enabled) and a Redis queue consumer for
// WorkerQueue (if enabled), blocking until ctx is cancelled.
func (a *App) Start(ctx context.Context) error {
	errCh := make(chan error, 2)
	running := 0

	if a.cfg.RunScheduler {
		running++
		go func() { errCh <- a.Scheduler.Run(ctx, a.cfg.SchedulerLoops) }()
	}
	if a.cfg.RunWorker {
		running++
		transport := queue.NewRedisTransport(a.RDB, "", a.Log)
		consumer := queue.NewConsumer(transport, a.cfg.WorkerQueue, "worker", a.cfg.WorkerPoll, a.Runner.Run)
		go func() { errCh <- consumer.Run(ctx) }()
	}

	var firstErr error
	for i := 0; i < running; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *App) Close() error {
	sqlDB, err := a.DB.DB()
	if err == nil {
		sqlDB.Close()
	}
	return a.RDB.Close()
}

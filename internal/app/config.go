// Package app wires the engine's components into a runnable process:
// Config loads every knob from the environment via envutil's
// Int/Bool/Duration/String helpers for the scheduler/retry/queue/notify
// settings; App owns the process lifecycle (New/Start/Close).
package app

import (
	"time"

	"github.com/stepflow/stepflow/internal/platform/envutil"
)

type Config struct {
	PostgresDSN string
	RedisAddr   string

	LogMode string

	RunScheduler bool
	RunWorker    bool

	SchedulerLoops    int
	SchedulerInterval time.Duration

	WorkerQueue string
	WorkerPoll  time.Duration

	RetryBaseDelay time.Duration
	RetryCeiling   time.Duration

	StaleDispatchThreshold time.Duration
}

func LoadConfig() Config {
	return Config{
		PostgresDSN: envutil.String("POSTGRES_DSN", "postgres://localhost:5432/stepflow?sslmode=disable"),
		RedisAddr:   envutil.String("REDIS_ADDR", "localhost:6379"),

		LogMode: envutil.String("LOG_MODE", "production"),

		RunScheduler: envutil.Bool("RUN_SCHEDULER", true),
		RunWorker:    envutil.Bool("RUN_WORKER", true),

		SchedulerLoops:    envutil.Int("SCHEDULER_LOOPS", 1),
		SchedulerInterval: envutil.Duration("SCHEDULER_INTERVAL", time.Second),

		WorkerQueue: envutil.String("WORKER_QUEUE", "default"),
		WorkerPoll:  envutil.Duration("WORKER_POLL_INTERVAL", 5*time.Second),

		RetryBaseDelay: envutil.Duration("RETRY_BASE_DELAY", time.Second),
		RetryCeiling:   envutil.Duration("RETRY_CEILING", 5*time.Minute),

		StaleDispatchThreshold: envutil.Duration("STALE_DISPATCH_THRESHOLD", 5*time.Minute),
	}
}

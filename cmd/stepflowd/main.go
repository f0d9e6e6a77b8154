// Command stepflowd is the long-running scheduler/worker process. It
// toggles between running the scheduler loop and running queue consumers
// via RUN_SCHEDULER/RUN_WORKER, since this process has no HTTP server to
// gate on.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/stepflow/stepflow/internal/app"
)

func main() {
	cfg := app.LoadConfig()

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("stepflowd: %v", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Log.Info("stepflowd starting", "run_scheduler", cfg.RunScheduler, "run_worker", cfg.RunWorker)
	if err := a.Start(ctx); err != nil {
		a.Log.Error("stepflowd exited with error", "error", err)
		os.Exit(1)
	}
	a.Log.Info("stepflowd shut down cleanly")
}

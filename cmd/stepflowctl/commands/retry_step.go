package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/stepflow/stepflow/internal/app"
	"github.com/stepflow/stepflow/internal/domain/workflow"
)

// NewRetryStepCmd implements `retry-step <id>`: forces a stuck Running
// step back to Pending for redispatch, clearing its prior run's timing
// so the next attempt's duration isn't measured from the old start.
func NewRetryStepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry-step <id>",
		Short: "Force a Running step back to Pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("retry-step: invalid step id %q: %w", args[0], err)
			}

			cfg := app.LoadConfig()
			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			patch := map[string]interface{}{
				"started_at":   nil,
				"completed_at": nil,
				"duration_ms":  nil,
			}
			if _, err := a.Executor.Transition(cmd.Context(), id, workflow.StatePending, patch); err != nil {
				return err
			}
			fmt.Printf("step %d set to pending\n", id)
			return nil
		},
	}
	return cmd
}

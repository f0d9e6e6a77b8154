package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stepflow/stepflow/internal/app"
)

// NewDispatchCmd implements `dispatch [--group G]`: run one tick and
// report its outcome. Exit code is non-zero on lock contention or
// internal error.
func NewDispatchCmd() *cobra.Command {
	var group string

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Run one DispatcherTick for a group",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.LoadConfig()
			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Tick.Run(cmd.Context(), group)
			if err != nil {
				return err
			}
			if !res.Ran {
				return fmt.Errorf("dispatch: group %q was locked or cooling down", group)
			}
			fmt.Printf("dispatched %d step(s) for group %q (progress=%d)\n", res.Dispatched, group, res.Progress)
			return nil
		},
	}

	cmd.Flags().StringVar(&group, "group", "", "group to dispatch (empty means the null group)")
	return cmd
}

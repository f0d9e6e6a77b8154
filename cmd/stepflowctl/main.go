// Command stepflowctl is the operator-facing admin surface: dispatch,
// cooldown, retry-step. Its command tree follows the familiar
// newRootCmd/AddCommand cobra shape.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stepflow/stepflow/cmd/stepflowctl/commands"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "stepflowctl",
		Short:        "stepflowctl - operate the stepflow scheduler",
		SilenceUsage: true,
	}

	cmd.AddCommand(commands.NewDispatchCmd())
	cmd.AddCommand(commands.NewCooldownCmd())
	cmd.AddCommand(commands.NewRetryStepCmd())

	return cmd
}

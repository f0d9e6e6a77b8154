package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stepflow/stepflow/internal/app"
)

// NewCooldownCmd implements `cooldown {on|off}`.
func NewCooldownCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "cooldown [on|off]",
		Short:     "Toggle the global dispatch-pause flag",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseOnOff(args[0])
			if err != nil {
				return err
			}

			cfg := app.LoadConfig()
			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Cooldown.SetCoolingDown(cmd.Context(), on); err != nil {
				return err
			}
			fmt.Printf("cooldown set to %t\n", on)
			return nil
		},
	}
	return cmd
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("cooldown: expected \"on\" or \"off\", got %q", s)
	}
}

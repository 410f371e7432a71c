package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"ciphersync/internal/domain"
)

// reset-session <handle>: drop the sessions with a contact so the next send
// starts a new handshake.
func resetSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-session <handle>",
		Short: "Forget the sessions with every device of a handle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := domain.ParseHandle(args[0])
			if err != nil {
				return err
			}
			reset, err := wire.Engine.ResetSessions(handle)
			if err != nil {
				return err
			}
			if len(reset) == 0 {
				fmt.Printf("no sessions with %s\n", handle)
				return nil
			}
			for _, a := range reset {
				fmt.Printf("  %s: reset\n", a)
			}
			fmt.Println("The next message starts a new handshake.")
			return nil
		},
	}
}

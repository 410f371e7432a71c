package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// fingerprint: show what a contact should compare out of band.
func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Show this device's identity fingerprint and address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			fp, err := wire.Identity.FingerprintIdentity(wire.Config.Passphrase)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-12s %s\n", "fingerprint", fp)

			profile, err := wire.Profile()
			if err != nil {
				fmt.Fprintf(out, "%-12s not registered with %s\n", "address", wire.Config.Relay.URL)
				return nil
			}
			fmt.Fprintf(out, "%-12s %s (registration %d)\n", "address", profile.Address, profile.RegistrationID)
			if n, err := wire.PreKeys.CountOneTimePreKeys(); err == nil {
				fmt.Fprintf(out, "%-12s %d one-time keys held locally\n", "prekeys", n)
			}
			return nil
		},
	}
}

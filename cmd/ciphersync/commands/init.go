package commands

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"ciphersync/internal/domain"
	"ciphersync/internal/store"
)

// init [handle]: create the identity and register this device on the relay.
func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [handle]",
		Short: "Generate identity keys and register this device for the relay",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			cfg := wire.Config
			raw := cfg.Account.Handle
			if len(args) == 1 {
				raw = args[0]
			}
			if raw == "" {
				return errors.New("handle required (argument or account.handle)")
			}
			handle, err := domain.ParseHandle(raw)
			if err != nil {
				return err
			}

			_, err = wire.Identity.LoadIdentity(cfg.Passphrase)
			switch {
			case err == nil:
				fmt.Println("Identity already present, keeping it.")
			case errors.Is(err, store.ErrNoIdentity):
				_, fp, err := wire.Identity.GenerateIdentity(cfg.Passphrase)
				if err != nil {
					return err
				}
				fmt.Printf("Identity created.\nFingerprint: %s\n", fp)
			default:
				return err
			}

			addr := domain.NewAddress(handle, domain.DeviceID(cfg.Account.DeviceID))
			profile, err := wire.Identity.RegisterAccount(cfg.Relay.URL, addr)
			if err != nil {
				return err
			}
			fmt.Printf("Registered %s on %s (registration id %d)\n", profile.Address, profile.ServerURL, profile.RegistrationID)
			fmt.Println("Key material is published on the first connect.")
			return nil
		},
	}
	cmd.Flags().Uint32("device", 1, "device id of this install")
	bindLocal(cmd, "account.device_id", "device")
	return cmd
}

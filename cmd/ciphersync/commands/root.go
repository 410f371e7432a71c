package commands

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ciphersync/internal/app"
)

var (
	v       = viper.New()
	cfgFile string
	wire    *app.Wire
)

// bindPersistent binds key to the persistent flag of the same name.
func bindPersistent(cmd *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(errors.Wrapf(err, "bind flag %q", flag))
	}
}

// bindLocal binds key to a command's own flag.
func bindLocal(cmd *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(errors.Wrapf(err, "bind flag %q", flag))
	}
}

func readConfig() error {
	v.SetEnvPrefix("CIPHERSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := cfgFile
	if path == "" {
		path = filepath.Join(app.DefaultHome(), "config.yaml")
		if _, err := os.Stat(path); err != nil {
			return nil
		}
	}
	v.SetConfigFile(path)
	return errors.Wrapf(v.ReadInConfig(), "read config %s", path)
}

func Execute() error {
	root := &cobra.Command{
		Use:          "ciphersync",
		Short:        "End-to-end encrypted multi-device messaging client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := readConfig(); err != nil {
				return err
			}
			cfg, err := app.LoadConfig(v)
			if err != nil {
				return err
			}
			logger, err := app.NewLogger(cfg.Log)
			if err != nil {
				return err
			}
			wire, err = app.NewWire(cfg, logger)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if wire == nil {
				return nil
			}
			return wire.Close()
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.ciphersync/config.yaml)")
	root.PersistentFlags().String("home", "", "state dir (default ~/.ciphersync)")
	root.PersistentFlags().StringP("passphrase", "p", "", "passphrase protecting the identity keys")
	root.PersistentFlags().String("relay", "", "relay websocket URL (e.g. ws://127.0.0.1:8080/ws)")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	bindPersistent(root, "home", "home")
	bindPersistent(root, "passphrase", "passphrase")
	bindPersistent(root, "relay.url", "relay")
	bindPersistent(root, "log.level", "log-level")

	root.AddCommand(
		initCmd(),
		fingerprintCmd(),
		connectCmd(),
		sendCmd(),
		historyCmd(),
		pendingCmd(),
		resetSessionCmd(),
	)
	return root.Execute()
}

func requirePassphrase() error {
	if wire.Config.Passphrase == "" {
		return errors.New("passphrase required (-p or CIPHERSYNC_PASSPHRASE)")
	}
	return nil
}

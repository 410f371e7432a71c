package app

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"ciphersync/internal/services/cipher"
	"ciphersync/internal/services/delivery"
	"ciphersync/internal/services/prekey"
)

// Config holds runtime wiring options for building the app. Keys follow the
// mapstructure tags, e.g. relay.request_timeout.
type Config struct {
	Home       string `mapstructure:"home"`
	Passphrase string `mapstructure:"passphrase"`

	Relay    RelayConfig    `mapstructure:"relay"`
	Account  AccountConfig  `mapstructure:"account"`
	PreKeys  PreKeyConfig   `mapstructure:"prekeys"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Recovery RecoveryConfig `mapstructure:"recovery"`
	Resend   ResendConfig   `mapstructure:"resend"`
	Log      LogConfig      `mapstructure:"log"`
}

type RelayConfig struct {
	URL            string          `mapstructure:"url"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout"`
	Reconnect      ReconnectConfig `mapstructure:"reconnect"`
}

type ReconnectConfig struct {
	Initial time.Duration `mapstructure:"initial"`
	Max     time.Duration `mapstructure:"max"`
}

// AccountConfig names the address registered by init.
type AccountConfig struct {
	Handle   string `mapstructure:"handle"`
	DeviceID uint32 `mapstructure:"device_id"`
}

type PreKeyConfig struct {
	Batch int `mapstructure:"batch"`
}

type DeliveryConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

type RecoveryConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
}

// ResendConfig bounds the reconnect resend pass; zero disables a bound.
type ResendConfig struct {
	MaxAttempts   int `mapstructure:"max_attempts"`
	RatePerSecond int `mapstructure:"rate_per_second"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// DefaultHome is $HOME/.ciphersync, or .ciphersync when HOME is unknown.
func DefaultHome() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return ".ciphersync"
	}
	return filepath.Join(dir, ".ciphersync")
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		Home: DefaultHome(),
		Relay: RelayConfig{
			URL:            "ws://127.0.0.1:8080/ws",
			RequestTimeout: 10 * time.Second,
			Reconnect: ReconnectConfig{
				Initial: 500 * time.Millisecond,
				Max:     30 * time.Second,
			},
		},
		Account:  AccountConfig{DeviceID: 1},
		PreKeys:  PreKeyConfig{Batch: prekey.DefaultBatch},
		Delivery: DeliveryConfig{Concurrency: delivery.DefaultConcurrency},
		Recovery: RecoveryConfig{MaxRetries: cipher.DefaultRecoveryPolicy().MaxRetries},
		Resend:   ResendConfig{MaxAttempts: 20, RatePerSecond: 10},
		Log:      LogConfig{Level: "info"},
	}
}

// SetDefaults registers DefaultConfig on v so unset keys resolve.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("home", d.Home)
	v.SetDefault("passphrase", d.Passphrase)
	v.SetDefault("relay.url", d.Relay.URL)
	v.SetDefault("relay.request_timeout", d.Relay.RequestTimeout)
	v.SetDefault("relay.reconnect.initial", d.Relay.Reconnect.Initial)
	v.SetDefault("relay.reconnect.max", d.Relay.Reconnect.Max)
	v.SetDefault("account.handle", d.Account.Handle)
	v.SetDefault("account.device_id", d.Account.DeviceID)
	v.SetDefault("prekeys.batch", d.PreKeys.Batch)
	v.SetDefault("delivery.concurrency", d.Delivery.Concurrency)
	v.SetDefault("recovery.max_retries", d.Recovery.MaxRetries)
	v.SetDefault("resend.max_attempts", d.Resend.MaxAttempts)
	v.SetDefault("resend.rate_per_second", d.Resend.RatePerSecond)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
}

// LoadConfig resolves v (defaults, file, env, flags) into a Config.
func LoadConfig(v *viper.Viper) (Config, error) {
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if cfg.Home == "" {
		return Config{}, errors.New("home must not be empty")
	}
	if cfg.Relay.URL == "" {
		return Config{}, errors.New("relay.url must not be empty")
	}
	return cfg, nil
}

// NewLogger builds a zap logger from the log section.
func NewLogger(c LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if c.Level != "" {
		lvl, err := zap.ParseAtomicLevel(c.Level)
		if err != nil {
			return nil, errors.Wrapf(err, "log level %q", c.Level)
		}
		zc.Level = lvl
	}
	return zc.Build()
}

package prekey

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"ciphersync/internal/domain"
	"ciphersync/internal/metrics"
)

// DefaultBatch is how many one-time prekeys are published per request.
const DefaultBatch = 100

// Provisioner generates the key material the relay reports missing and
// publishes it, one round trip per kind.
type Provisioner struct {
	engine    domain.SessionEngine
	transport domain.Transport
	batch     int
	log       *zap.Logger
}

// New returns a Provisioner publishing batch one-time prekeys at a time.
func New(engine domain.SessionEngine, transport domain.Transport, batch int, logger *zap.Logger) *Provisioner {
	if batch <= 0 {
		batch = DefaultBatch
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{
		engine:    engine,
		transport: transport,
		batch:     batch,
		log:       logger.Named("provisioner"),
	}
}

// Provision publishes every kind req asks for. A nil error means every
// requested upload was accepted; unrequested kinds count as success. All
// requested kinds are attempted even when an earlier one fails.
func (p *Provisioner) Provision(ctx context.Context, req domain.KeyBundleRequirement) error {
	if !req.Any() {
		return nil
	}
	var errs error

	if req.NeedIdentityKey {
		errs = multierr.Append(errs, p.publish("identity", func() (bool, error) {
			key, err := p.engine.IdentityKey()
			if err != nil {
				return false, errors.Wrap(err, "load identity key")
			}
			return p.transport.UploadIdentityKey(ctx, key)
		}))
	}

	if req.NeedSignedPreKey {
		errs = multierr.Append(errs, p.publish("signed_prekey", func() (bool, error) {
			spk, err := p.engine.GenerateSignedPreKey()
			if err != nil {
				return false, errors.Wrap(err, "generate signed prekey")
			}
			return p.transport.UploadSignedPreKey(ctx, spk)
		}))
	}

	if req.NeedPreKeys {
		errs = multierr.Append(errs, p.publish("one_time_prekeys", func() (bool, error) {
			keys, err := p.engine.GenerateOneTimePreKeys(p.batch)
			if err != nil {
				return false, errors.Wrap(err, "generate one-time prekeys")
			}
			return p.transport.UploadPreKeys(ctx, keys)
		}))
	}

	if errs != nil {
		p.log.Error("provisioning failed", zap.Error(errs))
	}
	return errs
}

func (p *Provisioner) publish(kind string, upload func() (bool, error)) error {
	ok, err := upload()
	if err != nil {
		return errors.WithMessagef(err, "publish %s", kind)
	}
	if !ok {
		return errors.Wrapf(domain.ErrPublishRejected, "publish %s", kind)
	}
	metrics.PreKeysPublished.WithLabelValues(kind).Inc()
	p.log.Info("key material published", zap.String("kind", kind))
	return nil
}

// Compile-time assertion that Provisioner implements domain.Provisioner.
var _ domain.Provisioner = (*Provisioner)(nil)

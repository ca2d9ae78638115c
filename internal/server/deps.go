package server

import (
	"oobind/internal/auth"
	"oobind/internal/ceremony"
	"oobind/internal/config"
	"oobind/internal/handshake"
	"oobind/internal/hub"
	"oobind/internal/logging"
	"oobind/internal/pairing"
	"oobind/internal/passkey"
	"oobind/internal/relay"
	"oobind/internal/store"
)

type Deps struct {
	Config      config.Config
	Logger      logging.Logger
	Ceremony    *ceremony.Service
	Negotiator  *handshake.Negotiator
	TokenConfig auth.TokenConfig

	// Passkey is set in service mode, Relay in relay mode.
	Passkey *passkey.Verifier
	Relay   *relay.Relay
}

// NewDeps wires the ceremony for the configured deployment mode.
func NewDeps(cfg config.Config, log logging.Logger) (Deps, error) {
	if log == nil {
		log = logging.Discard()
	}
	spec := pairing.Spec{
		Enabled:    cfg.PairingCodeEnabled,
		Characters: pairing.Digits,
		Length:     cfg.PairingCodeLength,
	}
	if err := spec.Validate(); err != nil {
		return Deps{}, err
	}
	algorithms := []string{auth.AlgorithmEd25519}

	opts := ceremony.Options{
		Store:            store.New(),
		Codes:            pairing.NewGenerator(spec),
		Hub:              hub.New(),
		Logger:           log,
		SignatureMaxSkew: cfg.SignatureMaxSkew,
		SessionTTL:       cfg.SessionTTL,
		ExpiredRetention: cfg.ExpiredRetention,
	}

	tokenCfg := auth.DefaultTokenConfig(cfg.AdminSecret)
	tokenCfg.Expiry = cfg.AdminTokenExpiry

	deps := Deps{Config: cfg, Logger: log, TokenConfig: tokenCfg}

	switch cfg.Mode {
	case config.ModeRelay:
		deps.Relay = relay.New(cfg.StreamGrace, log.With("component", "relay"))
		opts.Stager = relay.TransferStager{Relay: deps.Relay, PublicURL: cfg.PublicURL}
		opts.PreNegotiator = relay.KeyRegistration{Algorithms: algorithms}
		deps.Negotiator = handshake.New(handshake.AnyOrigin{}, algorithms, spec)

	default:
		verifier, err := passkey.New(passkey.Config{
			RPID:          cfg.WebAuthnRPID,
			RPOrigins:     cfg.WebAuthnRPOrigins,
			RPDisplayName: cfg.WebAuthnRPDisplayName,
		})
		if err != nil {
			return Deps{}, err
		}
		deps.Passkey = verifier
		opts.Stager = ceremony.IdentityStager{Verifier: verifier}
		deps.Negotiator = handshake.New(handshake.NewAllowList(cfg.AllowedOrigins), algorithms, spec)
	}

	opts.Logger = log.With("component", "ceremony")
	deps.Ceremony = ceremony.New(opts)
	return deps, nil
}

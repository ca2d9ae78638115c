package agent

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"slices"
	"time"

	"oobind/internal/auth"
	"oobind/internal/ceremony"
	"oobind/internal/handshake"
	"oobind/internal/model"
	"oobind/internal/protoerr"
)

const (
	defaultPollInterval = time.Second
	cancelTimeout       = 5 * time.Second
)

// CodeSource asks the user for the pairing code shown on the companion
// device. It is called again after every rejected code.
type CodeSource func(ctx context.Context) (string, error)

// PreNegotiateFunc runs the deployment's pre-negotiation steps for a freshly
// initialized session.
type PreNegotiateFunc func(ctx context.Context, c *Client, sessionID string) error

type BindOptions struct {
	// Origin is sent as the requesting origin of the handshake.
	Origin string
	// Key signs complete and cancel requests. A key is generated when nil.
	Key ed25519.PrivateKey

	PreNegotiate PreNegotiateFunc
	// OnSession is called with the session id once the session is ready to
	// be negotiated, so it can be handed to the companion.
	OnSession func(sessionID string)
	Code      CodeSource

	PollInterval time.Duration
}

type BindResult struct {
	SessionID   string
	Result      json.RawMessage
	Compromised bool
}

type CompleteResponse struct {
	Status      string          `json:"status"`
	Reason      string          `json:"reason"`
	Result      json.RawMessage `json:"result"`
	Compromised bool            `json:"compromised"`
}

// Bind drives the browser leg of a ceremony to completion. It returns an
// aborted error once ctx is done, after asking the service to cancel the
// session.
func (c *Client) Bind(ctx context.Context, opts BindOptions) (BindResult, error) {
	key := opts.Key
	if key == nil {
		var err error
		if _, key, err = ed25519.GenerateKey(rand.Reader); err != nil {
			return BindResult{}, protoerr.Wrap(protoerr.CodeInternal, "generate key", err)
		}
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	hs, err := c.Handshake(ctx, handshake.Request{
		Algorithms:       []string{auth.AlgorithmEd25519},
		RequestingOrigin: opts.Origin,
	})
	if err != nil {
		return BindResult{}, err
	}
	if !hs.Accepted() {
		return BindResult{}, rejection(hs.Reasons)
	}
	pairingEnabled := hs.PairingCodeSpecification != nil && hs.PairingCodeSpecification.Type == "enabled"
	if pairingEnabled && opts.Code == nil {
		return BindResult{}, protoerr.New(protoerr.CodeInvalidRequest, "service requires a pairing code source")
	}

	id, err := c.Initialize(ctx, PublicKeyOf(key))
	if err != nil {
		return BindResult{}, err
	}
	res, err := c.bindSession(ctx, id, key, pairingEnabled, interval, opts)
	if err != nil && ctx.Err() != nil {
		c.cancelDetached(ctx, id, key)
		return BindResult{}, protoerr.Wrap(protoerr.CodeAborted, "bind cancelled", ctx.Err())
	}
	return res, err
}

func (c *Client) bindSession(ctx context.Context, id string, key ed25519.PrivateKey, pairingEnabled bool, interval time.Duration, opts BindOptions) (BindResult, error) {
	if opts.PreNegotiate != nil {
		if err := opts.PreNegotiate(ctx, c, id); err != nil {
			return BindResult{}, err
		}
	}
	if opts.OnSession != nil {
		opts.OnSession(id)
	}

	var code string
	for {
		if pairingEnabled && code == "" {
			var err error
			if code, err = opts.Code(ctx); err != nil {
				return BindResult{}, err
			}
		}

		resp, err := c.Complete(ctx, id, code, key)
		if err != nil {
			if protoerr.Is(err, protoerr.CodeSessionExpired) {
				return BindResult{}, protoerr.Wrap(protoerr.CodeAborted, "session expired", err)
			}
			return BindResult{}, err
		}

		switch {
		case resp.Status == "complete":
			return BindResult{SessionID: id, Result: resp.Result, Compromised: resp.Compromised}, nil
		case resp.Status == "error" && resp.Reason == string(protoerr.CodeInvalidCode):
			code = ""
			continue
		}

		select {
		case <-ctx.Done():
			return BindResult{}, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// cancelDetached tells the service the browser leg has gone away. It runs
// on its own deadline since ctx is already done.
func (c *Client) cancelDetached(ctx context.Context, id string, key ed25519.PrivateKey) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()
	_ = c.Cancel(cctx, id, key)
}

func rejection(reasons []string) error {
	if slices.Contains(reasons, handshake.ReasonOriginNotAllowed) {
		return protoerr.New(protoerr.CodeOriginRejected, "origin not allowed by the service")
	}
	return protoerr.New(protoerr.CodeAlgorithmRejected, "no compatible signature algorithm")
}

// PublicKeyOf is the wire form of key's public half.
func PublicKeyOf(key ed25519.PrivateKey) model.PublicKey {
	pub := key.Public().(ed25519.PublicKey)
	return model.PublicKey{Algorithm: auth.AlgorithmEd25519, Key: base64.StdEncoding.EncodeToString(pub)}
}

func sign(key ed25519.PrivateKey, message []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(key, message))
}

func (c *Client) Handshake(ctx context.Context, req handshake.Request) (handshake.Response, error) {
	var resp handshake.Response
	err := c.postJSON(ctx, "/bind/handshake", req, &resp)
	return resp, err
}

func (c *Client) Initialize(ctx context.Context, key model.PublicKey) (string, error) {
	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := c.postJSON(ctx, "/bind/initialize", map[string]any{"public_key": key}, &resp); err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

// Complete signs and sends one complete attempt. A pending session and a
// rejected pairing code are ordinary responses, not errors.
func (c *Client) Complete(ctx context.Context, sessionID, code string, key ed25519.PrivateKey) (CompleteResponse, error) {
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	var resp CompleteResponse
	err := c.postJSON(ctx, "/bind/complete", map[string]string{
		"session_id":   sessionID,
		"pairing_code": code,
		"timestamp":    ts,
		"signature":    sign(key, auth.SessionMessage(sessionID, code, ts)),
	}, &resp)
	return resp, err
}

func (c *Client) Cancel(ctx context.Context, sessionID string, key ed25519.PrivateKey) error {
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	return c.postJSON(ctx, "/bind/cancel", map[string]string{
		"session_id": sessionID,
		"timestamp":  ts,
		"signature":  sign(key, ceremony.CancelMessage(sessionID, ts)),
	}, nil)
}

// PreNegotiate sends one pre-negotiation step. fields are merged into the
// request body next to session_id and step.
func (c *Client) PreNegotiate(ctx context.Context, sessionID, step string, fields map[string]any) (map[string]any, error) {
	body := map[string]any{"session_id": sessionID, "step": step}
	for k, v := range fields {
		body[k] = v
	}
	var resp map[string]any
	err := c.postJSON(ctx, "/pre-negotiate", body, &resp)
	return resp, err
}

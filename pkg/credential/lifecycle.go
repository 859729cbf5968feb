package credential

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentid-dev/agentid-core/pkg/crypto"
	"github.com/agentid-dev/agentid-core/pkg/notify"
	"github.com/agentid-dev/agentid-core/pkg/reputation"
	"github.com/agentid-dev/agentid-core/pkg/tasks"
)

// LifecycleConfig wires a Lifecycle. Credentials and Issuers are required.
type LifecycleConfig struct {
	Credentials Repository
	Issuers     IssuerRepository
	Revocations RevocationRecorder
	Cache       *Cache
	Reputation  *reputation.Engine
	Notifier    notify.Sink
	Tasks       tasks.Runner
	Logger      *slog.Logger
	Now         func() time.Time
}

// Lifecycle issues, revokes and renews stored credentials.
type Lifecycle struct {
	cfg LifecycleConfig
}

// NewLifecycle validates cfg and fills defaults.
func NewLifecycle(cfg LifecycleConfig) (*Lifecycle, error) {
	if cfg.Credentials == nil || cfg.Issuers == nil {
		return nil, errors.New("credential and issuer repositories are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	if cfg.Tasks == nil {
		cfg.Tasks = tasks.Inline{Logger: cfg.Logger}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Lifecycle{cfg: cfg}, nil
}

// IssueOptions carries the unsigned state of a new credential.
type IssueOptions struct {
	OwnerID  string
	PolicyID string
}

// Create signs p with the issuer's key and stores it as active.
func (l *Lifecycle) Create(ctx context.Context, p Payload, priv ed25519.PrivateKey, opts IssueOptions) (*Credential, error) {
	if _, err := l.signingIssuer(ctx, p.Issuer.IssuerID, priv); err != nil {
		return nil, err
	}
	signed, err := Issue(p, priv)
	if err != nil {
		return nil, err
	}
	c := &Credential{
		Payload:  signed,
		Status:   StatusActive,
		OwnerID:  opts.OwnerID,
		PolicyID: opts.PolicyID,
		IssuedAt: l.cfg.Now().UTC().Truncate(time.Second),
	}
	if err := l.cfg.Credentials.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to save credential: %w", err)
	}
	l.cfg.Logger.Info("credential issued", "credential_id", c.CredentialID, "issuer_id", c.Issuer.IssuerID)
	return c, nil
}

// Revoke marks a credential revoked. Revoking an already revoked credential
// returns it unchanged.
func (l *Lifecycle) Revoke(ctx context.Context, id, reason string) (*Credential, error) {
	c, err := l.cfg.Credentials.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == StatusRevoked {
		return c, nil
	}

	now := l.cfg.Now().UTC()
	if err := l.cfg.Credentials.UpdateStatus(ctx, id, StatusRevoked, reason, now); err != nil {
		return nil, fmt.Errorf("failed to revoke credential: %w", err)
	}
	c.Status = StatusRevoked
	c.RevokedAt = &now
	c.RevocationReason = reason

	l.cfg.Cache.Invalidate(id)
	if l.cfg.Revocations != nil {
		if err := l.cfg.Revocations.Add(id, now, reason); err != nil {
			l.cfg.Logger.Warn("failed to record revocation", "credential_id", id, "error", err)
		}
	}
	l.cfg.Logger.Info("credential revoked", "credential_id", id, "reason", reason)

	if l.cfg.Reputation != nil {
		ev := reputation.Event{
			Type:               reputation.EventCredentialRevoked,
			CredentialID:       id,
			IssuerID:           c.Issuer.IssuerID,
			CredentialIssuedAt: c.IssuedAt,
			At:                 now,
		}
		l.cfg.Tasks.Submit("reputation-revocation", func(ctx context.Context) error {
			_, err := l.cfg.Reputation.Apply(ctx, ev)
			return err
		})
	}
	l.emit(notify.EventCredentialRevoked, map[string]any{
		"credential_id": id,
		"reason":        reason,
		"revoked_at":    now,
	})
	return c, nil
}

// Renew re-signs a credential with a new validity window. Revoked and
// suspended credentials cannot be renewed.
func (l *Lifecycle) Renew(ctx context.Context, id string, validFrom, validUntil time.Time, priv ed25519.PrivateKey) (*Credential, error) {
	c, err := l.cfg.Credentials.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == StatusRevoked || c.Status == StatusSuspended {
		return nil, NewError(CodeRevoked, fmt.Sprintf("cannot renew credential with status %s", c.Status))
	}
	if _, err := l.signingIssuer(ctx, c.Issuer.IssuerID, priv); err != nil {
		return nil, err
	}

	p := c.Payload
	p.Constraints.ValidFrom = validFrom
	p.Constraints.ValidUntil = validUntil
	signed, err := Issue(p, priv)
	if err != nil {
		return nil, err
	}
	c.Payload = signed
	c.Status = StatusActive
	if err := l.cfg.Credentials.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to save credential: %w", err)
	}
	l.cfg.Cache.Invalidate(id)

	l.emit(notify.EventCredentialRenewed, map[string]any{
		"credential_id": id,
		"valid_from":    signed.Constraints.ValidFrom,
		"valid_until":   signed.Constraints.ValidUntil,
	})
	return c, nil
}

// MarkIssuerVerified flags an issuer as verified and grants the issuer bonus
// to every credential it has signed.
func (l *Lifecycle) MarkIssuerVerified(ctx context.Context, issuerID string) error {
	iss, err := l.cfg.Issuers.GetIssuer(ctx, issuerID)
	if err != nil {
		return err
	}
	if !iss.Verified {
		iss.Verified = true
		if err := l.cfg.Issuers.SaveIssuer(ctx, iss); err != nil {
			return fmt.Errorf("failed to save issuer: %w", err)
		}
	}
	l.cfg.Cache.InvalidateIssuer(issuerID)

	if l.cfg.Reputation != nil {
		recs, err := l.cfg.Reputation.ApplyIssuerVerified(ctx, issuerID, l.cfg.Now())
		if err != nil {
			return fmt.Errorf("failed to apply issuer bonus: %w", err)
		}
		l.cfg.Logger.Info("issuer verified", "issuer_id", issuerID, "credentials_updated", len(recs))
	}
	l.emit(notify.EventIssuerVerified, map[string]any{"issuer_id": issuerID})
	return nil
}

// signingIssuer checks that priv belongs to the stored issuer.
func (l *Lifecycle) signingIssuer(ctx context.Context, issuerID string, priv ed25519.PrivateKey) (*Issuer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, NewError(CodeValidation, "issuer private key is required")
	}
	iss, err := l.cfg.Issuers.GetIssuer(ctx, issuerID)
	if err != nil {
		return nil, err
	}
	if iss.PublicKey != crypto.EncodePublicKey(priv.Public().(ed25519.PublicKey)) {
		return nil, NewError(CodeInvalidSignature, "private key does not match issuer public key")
	}
	return iss, nil
}

func (l *Lifecycle) emit(typ string, payload any) {
	ev := notify.NewEvent(typ, payload)
	l.cfg.Tasks.Submit("notify-"+typ, func(ctx context.Context) error {
		return l.cfg.Notifier.Emit(ctx, ev)
	})
}

// Package postgres is the gorm-backed credential, issuer and policy
// repository.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/agentid-dev/agentid-core/pkg/credential"
	"github.com/agentid-dev/agentid-core/pkg/revocation"
)

var errDBUnavailable = errors.New("db unavailable")

// Store implements credential.Repository, credential.IssuerRepository,
// credential.PolicyRepository and revocation.Source.
type Store struct {
	db *gorm.DB
}

// Open connects to dsn and migrates the schema.
func Open(dsn string) (*Store, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := New(gdb)
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the tables.
func (s *Store) Migrate() error {
	if s.db == nil {
		return errDBUnavailable
	}
	if err := s.db.AutoMigrate(&CredentialModel{}, &IssuerModel{}, &PolicyModel{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close releases the underlying pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Get implements credential.Repository.
func (s *Store) Get(ctx context.Context, id string) (*credential.Credential, error) {
	if s.db == nil {
		return nil, errDBUnavailable
	}
	var model CredentialModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, credential.ErrNotFound
		}
		return nil, err
	}
	return credentialFromModel(model)
}

// Save implements credential.Repository.
func (s *Store) Save(ctx context.Context, c *credential.Credential) error {
	if s.db == nil {
		return errDBUnavailable
	}
	model, err := credentialToModel(c)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&model).Error
}

// UpdateStatus implements credential.Repository.
func (s *Store) UpdateStatus(ctx context.Context, id string, status credential.Status, reason string, at time.Time) error {
	if s.db == nil {
		return errDBUnavailable
	}
	updates := map[string]any{"status": string(status)}
	if status == credential.StatusRevoked {
		updates["revoked_at"] = at.UTC()
		updates["revocation_reason"] = reason
	}
	res := s.db.WithContext(ctx).Model(&CredentialModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return credential.ErrNotFound
	}
	return nil
}

// ListRevoked implements revocation.Source.
func (s *Store) ListRevoked(ctx context.Context, since time.Time) ([]revocation.Revocation, error) {
	if s.db == nil {
		return nil, errDBUnavailable
	}
	var models []CredentialModel
	q := s.db.WithContext(ctx).
		Select("id", "revoked_at", "revocation_reason").
		Where("status = ? AND revoked_at IS NOT NULL", string(credential.StatusRevoked))
	if !since.IsZero() {
		q = q.Where("revoked_at >= ?", since.UTC())
	}
	if err := q.Order("revoked_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]revocation.Revocation, 0, len(models))
	for _, m := range models {
		out = append(out, revocation.Revocation{CredentialID: m.ID, RevokedAt: *m.RevokedAt, Reason: m.RevocationReason})
	}
	return out, nil
}

// GetIssuer implements credential.IssuerRepository.
func (s *Store) GetIssuer(ctx context.Context, id string) (*credential.Issuer, error) {
	if s.db == nil {
		return nil, errDBUnavailable
	}
	var model IssuerModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, credential.ErrIssuerNotFound
		}
		return nil, err
	}
	return &credential.Issuer{ID: model.ID, Name: model.Name, PublicKey: model.PublicKey, Verified: model.Verified}, nil
}

// SaveIssuer implements credential.IssuerRepository.
func (s *Store) SaveIssuer(ctx context.Context, issuer *credential.Issuer) error {
	if s.db == nil {
		return errDBUnavailable
	}
	model := IssuerModel{ID: issuer.ID, Name: issuer.Name, PublicKey: issuer.PublicKey, Verified: issuer.Verified}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "public_key", "verified", "updated_at"}),
		}).
		Create(&model).Error
}

// GetPolicy implements credential.PolicyRepository.
func (s *Store) GetPolicy(ctx context.Context, id string) (*credential.Policy, error) {
	if s.db == nil {
		return nil, errDBUnavailable
	}
	var model PolicyModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, credential.ErrPolicyNotFound
		}
		return nil, err
	}
	return &credential.Policy{
		ID:          model.ID,
		Name:        model.Name,
		Version:     model.Version,
		Permissions: json.RawMessage(model.Permissions),
		Rego:        model.Rego,
	}, nil
}

// SavePolicy stores a permission policy.
func (s *Store) SavePolicy(ctx context.Context, p *credential.Policy) error {
	if s.db == nil {
		return errDBUnavailable
	}
	model := PolicyModel{ID: p.ID, Name: p.Name, Version: p.Version, Permissions: []byte(p.Permissions), Rego: p.Rego}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&model).Error
}

func credentialToModel(c *credential.Credential) (CredentialModel, error) {
	payload, err := json.Marshal(c.Payload)
	if err != nil {
		return CredentialModel{}, fmt.Errorf("encode payload: %w", err)
	}
	return CredentialModel{
		ID:               c.CredentialID,
		AgentID:          c.AgentID,
		IssuerID:         c.Issuer.IssuerID,
		Status:           string(c.Status),
		OwnerID:          c.OwnerID,
		PolicyID:         c.PolicyID,
		Payload:          payload,
		ValidFrom:        c.Constraints.ValidFrom.UTC(),
		ValidUntil:       c.Constraints.ValidUntil.UTC(),
		IssuedAt:         c.IssuedAt.UTC(),
		RevokedAt:        c.RevokedAt,
		RevocationReason: c.RevocationReason,
	}, nil
}

func credentialFromModel(m CredentialModel) (*credential.Credential, error) {
	var p credential.Payload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &credential.Credential{
		Payload:          p,
		Status:           credential.Status(m.Status),
		OwnerID:          m.OwnerID,
		PolicyID:         m.PolicyID,
		IssuedAt:         m.IssuedAt.UTC(),
		RevokedAt:        m.RevokedAt,
		RevocationReason: m.RevocationReason,
	}, nil
}

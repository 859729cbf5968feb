// Package trust is a file-backed issuer registry. Each issuer's Ed25519
// public key is kept as a JWK file and its metadata in issuers.json, so a
// verifier can run without a database.
package trust

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/go-jose/go-jose/v4"

	"github.com/agentid-dev/agentid-core/pkg/credential"
	"github.com/agentid-dev/agentid-core/pkg/crypto"
)

// ErrInvalidKey is returned for keys that are not Ed25519 public keys.
var ErrInvalidKey = errors.New("invalid key format")

// issuerMeta is the issuers.json record for one issuer.
type issuerMeta struct {
	Name     string `json:"name"`
	Verified bool   `json:"verified"`
	KeyID    string `json:"kid"`
}

// FileStore implements credential.IssuerRepository on the filesystem.
// Default location: ~/.agentid/trust/
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// DefaultTrustDir returns the default trust store directory.
func DefaultTrustDir() string {
	if envPath := os.Getenv("AGENTID_TRUST_PATH"); envPath != "" {
		return envPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentid/trust"
	}
	return filepath.Join(home, ".agentid", "trust")
}

// NewFileStore opens or creates a trust store in dir.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = DefaultTrustDir()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create trust directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) keyPath(kid string) string {
	return filepath.Join(s.dir, sanitizeFilename(kid)+".jwk")
}

func (s *FileStore) issuersPath() string {
	return filepath.Join(s.dir, "issuers.json")
}

// GetIssuer implements credential.IssuerRepository.
func (s *FileStore) GetIssuer(_ context.Context, id string) (*credential.Issuer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	issuers, err := s.loadIssuers()
	if err != nil {
		return nil, err
	}
	meta, ok := issuers[id]
	if !ok {
		return nil, credential.ErrIssuerNotFound
	}
	key, err := s.readKey(meta.KeyID)
	if err != nil {
		return nil, err
	}
	pub, err := crypto.JWKToPublicKey(*key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &credential.Issuer{
		ID:        id,
		Name:      meta.Name,
		PublicKey: crypto.EncodePublicKey(pub),
		Verified:  meta.Verified,
	}, nil
}

// SaveIssuer implements credential.IssuerRepository. The public key is
// written as a JWK whose kid is the issuer id.
func (s *FileStore) SaveIssuer(_ context.Context, issuer *credential.Issuer) error {
	pub, err := crypto.DecodePublicKey(issuer.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeKey(crypto.PublicKeyToJWK(pub, issuer.ID)); err != nil {
		return err
	}
	issuers, err := s.loadIssuers()
	if err != nil {
		return err
	}
	issuers[issuer.ID] = issuerMeta{Name: issuer.Name, Verified: issuer.Verified, KeyID: issuer.ID}
	return s.saveIssuers(issuers)
}

// AddFromJWKS registers issuerID with the first Ed25519 key in set matching
// kid (any Ed25519 key when kid is empty).
func (s *FileStore) AddFromJWKS(ctx context.Context, set *jose.JSONWebKeySet, issuerID, name, kid string) error {
	pub, err := crypto.SelectEd25519(set, kid)
	if err != nil {
		return err
	}
	return s.SaveIssuer(ctx, &credential.Issuer{
		ID:        issuerID,
		Name:      name,
		PublicKey: crypto.EncodePublicKey(pub),
	})
}

// List returns every issuer, sorted by id.
func (s *FileStore) List(ctx context.Context) ([]*credential.Issuer, error) {
	s.mu.RLock()
	issuers, err := s.loadIssuers()
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(issuers))
	for id := range issuers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*credential.Issuer, 0, len(ids))
	for _, id := range ids {
		iss, err := s.GetIssuer(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, iss)
	}
	return out, nil
}

// Remove deletes an issuer and its key.
func (s *FileStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	issuers, err := s.loadIssuers()
	if err != nil {
		return err
	}
	meta, ok := issuers[id]
	if !ok {
		return credential.ErrIssuerNotFound
	}
	delete(issuers, id)
	if err := os.Remove(s.keyPath(meta.KeyID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove key: %w", err)
	}
	return s.saveIssuers(issuers)
}

func (s *FileStore) readKey(kid string) (*jose.JSONWebKey, error) {
	data, err := os.ReadFile(s.keyPath(kid))
	if os.IsNotExist(err) {
		return nil, credential.ErrIssuerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}
	var key jose.JSONWebKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("failed to parse key: %w", err)
	}
	return &key, nil
}

func (s *FileStore) writeKey(key jose.JSONWebKey) error {
	data, err := json.MarshalIndent(key, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal key: %w", err)
	}
	if err := os.WriteFile(s.keyPath(key.KeyID), data, 0600); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}
	return nil
}

func (s *FileStore) loadIssuers() (map[string]issuerMeta, error) {
	data, err := os.ReadFile(s.issuersPath())
	if os.IsNotExist(err) {
		return make(map[string]issuerMeta), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read issuers file: %w", err)
	}
	issuers := make(map[string]issuerMeta)
	if err := json.Unmarshal(data, &issuers); err != nil {
		return nil, fmt.Errorf("failed to parse issuers file: %w", err)
	}
	return issuers, nil
}

func (s *FileStore) saveIssuers(issuers map[string]issuerMeta) error {
	data, err := json.MarshalIndent(issuers, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal issuers: %w", err)
	}
	if err := os.WriteFile(s.issuersPath(), data, 0600); err != nil {
		return fmt.Errorf("failed to write issuers file: %w", err)
	}
	return nil
}

// sanitizeFilename converts a kid to a safe filename.
func sanitizeFilename(kid string) string {
	safe := make([]byte, 0, len(kid))
	for _, c := range []byte(kid) {
		switch c {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			safe = append(safe, '_')
		default:
			safe = append(safe, c)
		}
	}
	return string(safe)
}

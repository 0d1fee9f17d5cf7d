package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const fileVersion = 1

var ErrSecretNotFound = errors.New("secret not found")

// secretEntry is one named secret with metadata.
type secretEntry struct {
	Secret    *EncryptedSecret `json:"secret"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// vaultFile is the on-disk layout. Every binary field is base64 in JSON.
type vaultFile struct {
	Version      int                    `json:"version"`
	Salt         []byte                 `json:"salt"`
	KDFParams    Argon2Params           `json:"kdf_params"`
	EncryptedDEK *EncryptedDEK          `json:"encrypted_dek"`
	Secrets      map[string]secretEntry `json:"secrets"`
}

// Store is an unlocked vault: the file plus the in-memory DEK. The DEK never
// leaves the process; the file is the only persisted artifact.
type Store struct {
	mu   sync.Mutex
	path string
	file *vaultFile
	dek  *DEK
}

// Create initializes a new vault file at path, protected by password, using
// the default KDF profile. Fails if the file already exists.
func Create(path, password string) (*Store, error) {
	return CreateWithParams(path, password, DefaultArgon2Params())
}

// CreateWithParams initializes a new vault with an explicit KDF profile.
func CreateWithParams(path, password string, params Argon2Params) (*Store, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("vault file %s already exists", path)
	}

	salt, err := GenerateSalt()
	if err != nil {
		return nil, err
	}
	kek := DeriveKEK(password, salt, params)
	dek, err := GenerateDEK()
	if err != nil {
		return nil, err
	}
	encDEK, err := EncryptDEK(dek, kek)
	if err != nil {
		return nil, err
	}

	s := &Store{
		path: path,
		file: &vaultFile{
			Version:      fileVersion,
			Salt:         salt,
			KDFParams:    params,
			EncryptedDEK: encDEK,
			Secrets:      make(map[string]secretEntry),
		},
		dek: dek,
	}
	if err := s.save(); err != nil {
		return nil, err
	}
	log.Info().Str("path", path).Msg("Vault created")
	return s, nil
}

// Open unlocks an existing vault file. A wrong password surfaces as
// ErrAuthenticationFailed from the DEK unwrap.
func Open(path, password string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vault file: %w", err)
	}
	var file vaultFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse vault file: %w", err)
	}
	if file.Version != fileVersion {
		return nil, fmt.Errorf("unsupported vault version %d", file.Version)
	}
	if file.EncryptedDEK == nil {
		return nil, errors.New("vault file has no encrypted dek")
	}
	if file.Secrets == nil {
		file.Secrets = make(map[string]secretEntry)
	}

	kek := DeriveKEK(password, file.Salt, file.KDFParams)
	dek, err := DecryptDEK(file.EncryptedDEK, kek)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, file: &file, dek: dek}, nil
}

// Set encrypts and stores a named secret, replacing any previous value.
func (s *Store) Set(name string, value []byte) error {
	enc, err := EncryptSecret(value, s.dek)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	entry := secretEntry{Secret: enc, CreatedAt: now, UpdatedAt: now}
	if prev, ok := s.file.Secrets[name]; ok {
		entry.CreatedAt = prev.CreatedAt
	}
	s.file.Secrets[name] = entry
	return s.save()
}

// Get decrypts a named secret.
func (s *Store) Get(name string) ([]byte, error) {
	s.mu.Lock()
	entry, ok := s.file.Secrets[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return DecryptSecret(entry.Secret, s.dek)
}

// List returns the secret names in sorted order.
func (s *Store) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.file.Secrets))
	for name := range s.file.Secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Delete removes a named secret.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.file.Secrets[name]; !ok {
		return fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	delete(s.file.Secrets, name)
	return s.save()
}

// ChangePassword re-wraps the DEK under a KEK derived from the new password
// and a fresh salt. Secrets are not re-encrypted.
func (s *Store) ChangePassword(oldPassword, newPassword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldKEK := DeriveKEK(oldPassword, s.file.Salt, s.file.KDFParams)
	if _, err := DecryptDEK(s.file.EncryptedDEK, oldKEK); err != nil {
		return err
	}

	newSalt, err := GenerateSalt()
	if err != nil {
		return err
	}
	newKEK := DeriveKEK(newPassword, newSalt, s.file.KDFParams)
	encDEK, err := RotateDEK(s.file.EncryptedDEK, oldKEK, newKEK)
	if err != nil {
		return err
	}

	s.file.Salt = newSalt
	s.file.EncryptedDEK = encDEK
	if err := s.save(); err != nil {
		return err
	}
	log.Info().Str("path", s.path).Msg("Vault password changed")
	return nil
}

// Materialize decrypts each named secret into its environment variable so
// provider SDKs can read it. mapping is secret name to env var name.
func (s *Store) Materialize(mapping map[string]string) error {
	for name, envVar := range mapping {
		value, err := s.Get(name)
		if err != nil {
			return fmt.Errorf("materialize %s: %w", name, err)
		}
		if err := os.Setenv(envVar, string(value)); err != nil {
			return fmt.Errorf("materialize %s: %w", name, err)
		}
	}
	return nil
}

// save writes the vault file atomically with owner-only permissions.
func (s *Store) save() error {
	raw, err := json.MarshalIndent(s.file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode vault file: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write vault file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write vault file: %w", err)
	}
	return nil
}

// DefaultPath returns the conventional vault location under a data dir.
func DefaultPath(dataDir string) string {
	return filepath.Join(dataDir, "vault.json")
}

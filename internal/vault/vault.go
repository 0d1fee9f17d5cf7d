// Package vault protects provider credentials at rest with a two-tier key
// hierarchy: a password-derived KEK wraps a random DEK, and the DEK encrypts
// each secret independently. Password rotation re-wraps only the DEK.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// ErrAuthenticationFailed covers wrong keys and any ciphertext or tag
// tampering. Callers cannot distinguish the two cases.
var ErrAuthenticationFailed = errors.New("vault authentication failed")

const (
	saltLength  = 16
	dekLength   = 32
	nonceLength = 12
	tagLength   = 16
)

// Argon2Params tunes the KDF.
type Argon2Params struct {
	MemoryKiB   uint32 `json:"memory_kib"`
	Iterations  uint32 `json:"iterations"`
	Parallelism uint8  `json:"parallelism"`
	KeyLength   uint32 `json:"key_length_bytes"`
}

// DefaultArgon2Params is the standard profile: 64 MiB, 3 passes, 4 lanes.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		MemoryKiB:   64 * 1024,
		Iterations:  3,
		Parallelism: 4,
		KeyLength:   32,
	}
}

// KEK is the password-derived key-encryption key. The key bytes are not
// exported; a KEK only wraps and unwraps DEKs.
type KEK struct {
	key []byte
}

// DEK is the random data-encryption key that encrypts secrets.
type DEK struct {
	key []byte
}

// DeriveKEK runs Argon2id over the password and salt. This is CPU and
// memory heavy by construction; expect 100 ms to 1 s.
func DeriveKEK(password string, salt []byte, p Argon2Params) *KEK {
	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)
	return &KEK{key: key}
}

// GenerateSalt returns 16 random bytes.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// GenerateDEK returns a fresh random 256-bit key.
func GenerateDEK() (*DEK, error) {
	key := make([]byte, dekLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate dek: %w", err)
	}
	return &DEK{key: key}, nil
}

// EncryptedDEK is a KEK-wrapped DEK as stored in the vault header.
type EncryptedDEK struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	Tag        []byte `json:"tag"`
}

// EncryptedSecret is one DEK-encrypted value.
type EncryptedSecret struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	Tag        []byte `json:"tag"`
}

// EncryptDEK wraps a DEK with the KEK under AES-256-GCM.
func EncryptDEK(dek *DEK, kek *KEK) (*EncryptedDEK, error) {
	nonce, ct, tag, err := seal(kek.key, dek.key)
	if err != nil {
		return nil, err
	}
	return &EncryptedDEK{Nonce: nonce, Ciphertext: ct, Tag: tag}, nil
}

// DecryptDEK unwraps a DEK. Any tampering or a wrong KEK yields
// ErrAuthenticationFailed.
func DecryptDEK(enc *EncryptedDEK, kek *KEK) (*DEK, error) {
	key, err := open(kek.key, enc.Nonce, enc.Ciphertext, enc.Tag)
	if err != nil {
		return nil, err
	}
	return &DEK{key: key}, nil
}

// RotateDEK re-wraps the DEK under a new KEK. Secrets stay untouched.
func RotateDEK(enc *EncryptedDEK, oldKEK, newKEK *KEK) (*EncryptedDEK, error) {
	dek, err := DecryptDEK(enc, oldKEK)
	if err != nil {
		return nil, err
	}
	return EncryptDEK(dek, newKEK)
}

// EncryptSecret encrypts a plaintext with the DEK under a fresh nonce.
func EncryptSecret(plaintext []byte, dek *DEK) (*EncryptedSecret, error) {
	nonce, ct, tag, err := seal(dek.key, plaintext)
	if err != nil {
		return nil, err
	}
	return &EncryptedSecret{Nonce: nonce, Ciphertext: ct, Tag: tag}, nil
}

// DecryptSecret decrypts one secret. Any tampering or a wrong DEK yields
// ErrAuthenticationFailed.
func DecryptSecret(enc *EncryptedSecret, dek *DEK) ([]byte, error) {
	return open(dek.key, enc.Nonce, enc.Ciphertext, enc.Tag)
}

// seal encrypts under AES-256-GCM and splits the authentication tag off the
// sealed output.
func seal(key, plaintext []byte) (nonce, ciphertext, tag []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, nil, err
	}
	nonce = make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("generate nonce: %w", err)
	}
	out := gcm.Seal(nil, nonce, plaintext, nil)
	return nonce, out[:len(out)-tagLength], out[len(out)-tagLength:], nil
}

// open reassembles ciphertext and tag and decrypts.
func open(key, nonce, ciphertext, tag []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != nonceLength || len(tag) != tagLength {
		return nil, ErrAuthenticationFailed
	}
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm mode: %w", err)
	}
	return gcm, nil
}

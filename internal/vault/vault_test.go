package vault

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// lightParams keeps KDF time negligible in tests.
func lightParams() Argon2Params {
	return Argon2Params{MemoryKiB: 64, Iterations: 1, Parallelism: 1, KeyLength: 32}
}

func TestKeyHierarchyRoundTrip(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("salt: %v", err)
	}
	if len(salt) != 16 {
		t.Errorf("salt length = %d, want 16", len(salt))
	}

	kek := DeriveKEK("correct horse", salt, lightParams())
	dek, err := GenerateDEK()
	if err != nil {
		t.Fatalf("dek: %v", err)
	}

	enc, err := EncryptDEK(dek, kek)
	if err != nil {
		t.Fatalf("encrypt dek: %v", err)
	}
	if len(enc.Nonce) != 12 || len(enc.Tag) != 16 {
		t.Errorf("nonce/tag lengths = %d/%d, want 12/16", len(enc.Nonce), len(enc.Tag))
	}

	got, err := DecryptDEK(enc, kek)
	if err != nil {
		t.Fatalf("decrypt dek: %v", err)
	}

	secret := []byte("sk-ant-test-key")
	encSecret, err := EncryptSecret(secret, got)
	if err != nil {
		t.Fatalf("encrypt secret: %v", err)
	}
	plain, err := DecryptSecret(encSecret, dek)
	if err != nil {
		t.Fatalf("decrypt secret: %v", err)
	}
	if !bytes.Equal(plain, secret) {
		t.Errorf("round trip = %q, want %q", plain, secret)
	}
}

func TestDeriveKEKDeterministic(t *testing.T) {
	salt, _ := GenerateSalt()
	a := DeriveKEK("pw", salt, lightParams())
	b := DeriveKEK("pw", salt, lightParams())
	if !bytes.Equal(a.key, b.key) {
		t.Error("same password and salt produced different keys")
	}
	c := DeriveKEK("pw2", salt, lightParams())
	if bytes.Equal(a.key, c.key) {
		t.Error("different passwords produced the same key")
	}
}

func TestWrongKEKFailsAuthentication(t *testing.T) {
	salt, _ := GenerateSalt()
	kek := DeriveKEK("right", salt, lightParams())
	wrong := DeriveKEK("wrong", salt, lightParams())

	dek, _ := GenerateDEK()
	enc, err := EncryptDEK(dek, kek)
	if err != nil {
		t.Fatalf("encrypt dek: %v", err)
	}
	if _, err := DecryptDEK(enc, wrong); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("got %v, want ErrAuthenticationFailed", err)
	}
}

func TestTamperDetection(t *testing.T) {
	dek, _ := GenerateDEK()
	enc, err := EncryptSecret([]byte("payload"), dek)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	flipped := func(b []byte, i int) []byte {
		cp := append([]byte(nil), b...)
		cp[i] ^= 0x01
		return cp
	}

	cases := []struct {
		name string
		enc  EncryptedSecret
	}{
		{"ciphertext", EncryptedSecret{Nonce: enc.Nonce, Ciphertext: flipped(enc.Ciphertext, 0), Tag: enc.Tag}},
		{"tag", EncryptedSecret{Nonce: enc.Nonce, Ciphertext: enc.Ciphertext, Tag: flipped(enc.Tag, 0)}},
		{"nonce", EncryptedSecret{Nonce: flipped(enc.Nonce, 0), Ciphertext: enc.Ciphertext, Tag: enc.Tag}},
		{"truncated tag", EncryptedSecret{Nonce: enc.Nonce, Ciphertext: enc.Ciphertext, Tag: enc.Tag[:8]}},
	}
	for _, tc := range cases {
		if _, err := DecryptSecret(&tc.enc, dek); !errors.Is(err, ErrAuthenticationFailed) {
			t.Errorf("%s tamper: got %v, want ErrAuthenticationFailed", tc.name, err)
		}
	}
}

func TestRotateDEKPreservesSecrets(t *testing.T) {
	salt, _ := GenerateSalt()
	oldKEK := DeriveKEK("old", salt, lightParams())
	newKEK := DeriveKEK("new", salt, lightParams())

	dek, _ := GenerateDEK()
	enc, _ := EncryptDEK(dek, oldKEK)
	secret, err := EncryptSecret([]byte("survives rotation"), dek)
	if err != nil {
		t.Fatalf("encrypt secret: %v", err)
	}

	rotated, err := RotateDEK(enc, oldKEK, newKEK)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if _, err := DecryptDEK(rotated, oldKEK); !errors.Is(err, ErrAuthenticationFailed) {
		t.Error("old kek still unwraps the rotated dek")
	}

	recovered, err := DecryptDEK(rotated, newKEK)
	if err != nil {
		t.Fatalf("unwrap with new kek: %v", err)
	}
	plain, err := DecryptSecret(secret, recovered)
	if err != nil {
		t.Fatalf("decrypt after rotation: %v", err)
	}
	if string(plain) != "survives rotation" {
		t.Errorf("secret = %q", plain)
	}
}

func TestStoreLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")

	s, err := CreateWithParams(path, "hunter2", lightParams())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := CreateWithParams(path, "hunter2", lightParams()); err == nil {
		t.Error("second create over existing file succeeded")
	}

	if err := s.Set("anthropic_api_key", []byte("sk-ant-abc")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set("webhook_secret", []byte("whsec")); err != nil {
		t.Fatalf("set: %v", err)
	}

	reopened, err := Open(path, "hunter2")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	value, err := reopened.Get("anthropic_api_key")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(value) != "sk-ant-abc" {
		t.Errorf("secret = %q", value)
	}

	names := reopened.List()
	if len(names) != 2 || names[0] != "anthropic_api_key" || names[1] != "webhook_secret" {
		t.Errorf("list = %v", names)
	}

	if err := reopened.Delete("webhook_secret"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := reopened.Get("webhook_secret"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("get deleted: %v", err)
	}

	if _, err := Open(path, "wrong password"); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("wrong password open: %v", err)
	}
}

func TestStoreFileHasNoPlaintext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")
	s, err := CreateWithParams(path, "pw", lightParams())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Set("key", []byte("super-secret-value")); err != nil {
		t.Fatalf("set: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if bytes.Contains(raw, []byte("super-secret-value")) {
		t.Error("plaintext secret on disk")
	}
}

func TestChangePassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")
	s, err := CreateWithParams(path, "old-pw", lightParams())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Set("key", []byte("value")); err != nil {
		t.Fatalf("set: %v", err)
	}

	if err := s.ChangePassword("wrong", "new-pw"); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("change with wrong password: %v", err)
	}
	if err := s.ChangePassword("old-pw", "new-pw"); err != nil {
		t.Fatalf("change password: %v", err)
	}

	if _, err := Open(path, "old-pw"); !errors.Is(err, ErrAuthenticationFailed) {
		t.Error("old password still opens the vault")
	}
	reopened, err := Open(path, "new-pw")
	if err != nil {
		t.Fatalf("open with new password: %v", err)
	}
	value, err := reopened.Get("key")
	if err != nil || string(value) != "value" {
		t.Errorf("secret after rotation = %q, %v", value, err)
	}
}

func TestMaterialize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")
	s, err := CreateWithParams(path, "pw", lightParams())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Set("anthropic_api_key", []byte("sk-ant-xyz")); err != nil {
		t.Fatalf("set: %v", err)
	}

	t.Setenv("ANTHROPIC_API_KEY", "")
	if err := s.Materialize(map[string]string{"anthropic_api_key": "ANTHROPIC_API_KEY"}); err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if got := os.Getenv("ANTHROPIC_API_KEY"); got != "sk-ant-xyz" {
		t.Errorf("env = %q", got)
	}

	if err := s.Materialize(map[string]string{"missing": "X"}); err == nil {
		t.Error("materialize of missing secret succeeded")
	}
}

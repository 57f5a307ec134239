package datavet

import (
	"bytes"
	"testing"
)

func TestEncryptor_EncryptDecrypt(t *testing.T) {
	enc, err := NewEncryptor(EncryptionConfig{
		Enabled:     true,
		KeyPassword: "test-password-123",
	})
	if err != nil {
		t.Fatalf("NewEncryptor failed: %v", err)
	}

	plaintext := []byte("hello world, this is secret data!")

	ciphertext, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if bytes.Equal(ciphertext, plaintext) {
		t.Error("ciphertext should not equal plaintext")
	}

	decrypted, err := enc.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}

	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("decrypted data does not match: got %s, want %s", decrypted, plaintext)
	}
}

func TestEncryptor_WithRawKey(t *testing.T) {
	key := make([]byte, EncryptionKeySize)
	for i := range key {
		key[i] = byte(i)
	}

	enc, err := NewEncryptorWithKey(key)
	if err != nil {
		t.Fatalf("NewEncryptorWithKey failed: %v", err)
	}

	plaintext := []byte("secret data")

	ciphertext, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	decrypted, err := enc.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}

	if !bytes.Equal(decrypted, plaintext) {
		t.Error("decrypted data does not match")
	}
}

func TestEncryptor_ConfigRawKey(t *testing.T) {
	enc, err := NewEncryptor(EncryptionConfig{
		Enabled: true,
		Key:     bytes.Repeat([]byte{0xab}, EncryptionKeySize),
	})
	if err != nil {
		t.Fatalf("NewEncryptor failed: %v", err)
	}

	ciphertext, err := enc.Encrypt([]byte("keyed"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	decrypted, err := enc.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if string(decrypted) != "keyed" {
		t.Errorf("unexpected plaintext: %s", decrypted)
	}

	_, err = NewEncryptor(EncryptionConfig{
		Enabled: true,
		Key:     []byte("too-short"),
	})
	if err == nil {
		t.Error("expected error for wrong key size")
	}
}

func TestEncryptor_WithSalt(t *testing.T) {
	password := "my-secret-password"

	enc1, err := NewEncryptor(EncryptionConfig{
		Enabled:     true,
		KeyPassword: password,
	})
	if err != nil {
		t.Fatalf("NewEncryptor failed: %v", err)
	}

	plaintext := []byte("important data")

	ciphertext, err := enc1.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	// Create new encryptor with same password and salt
	enc2, err := NewEncryptorWithSalt(password, enc1.Salt())
	if err != nil {
		t.Fatalf("NewEncryptorWithSalt failed: %v", err)
	}

	decrypted, err := enc2.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}

	if !bytes.Equal(decrypted, plaintext) {
		t.Error("decrypted data does not match")
	}
}

func TestEncryptor_InvalidKeySize(t *testing.T) {
	_, err := NewEncryptorWithKey([]byte("too-short"))
	if err == nil {
		t.Error("expected error for invalid key size")
	}
}

func TestEncryptor_InvalidCiphertext(t *testing.T) {
	enc, _ := NewEncryptor(EncryptionConfig{
		Enabled:     true,
		KeyPassword: "test",
	})

	_, err := enc.Decrypt([]byte("short"))
	if err == nil {
		t.Error("expected error for short ciphertext")
	}

	_, err = enc.Decrypt(make([]byte, 50)) // Wrong key
	if err == nil {
		t.Error("expected error for invalid ciphertext")
	}
}

func TestSealArtifact_RoundTrip(t *testing.T) {
	enc, err := NewEncryptor(EncryptionConfig{
		Enabled:     true,
		KeyPassword: "artifact-password",
	})
	if err != nil {
		t.Fatalf("NewEncryptor failed: %v", err)
	}

	plaintext := []byte("apiVersion: datavet/v1\nkind: Schema\n")

	sealed, err := enc.SealArtifact(plaintext)
	if err != nil {
		t.Fatalf("SealArtifact failed: %v", err)
	}

	if !IsSealedArtifact(sealed) {
		t.Error("sealed artifact not recognized")
	}
	if IsSealedArtifact(plaintext) {
		t.Error("plaintext misidentified as sealed")
	}

	opened, err := enc.OpenArtifact(sealed)
	if err != nil {
		t.Fatalf("OpenArtifact failed: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("opened artifact does not match: got %s", opened)
	}
}

func TestOpenArtifact_PasswordRederivation(t *testing.T) {
	password := "shared-password"

	// Two password-based encryptors get distinct random salts. The
	// envelope carries the writer's salt, so the reader must re-derive.
	writer, err := NewEncryptor(EncryptionConfig{Enabled: true, KeyPassword: password})
	if err != nil {
		t.Fatalf("NewEncryptor failed: %v", err)
	}
	reader, err := NewEncryptor(EncryptionConfig{Enabled: true, KeyPassword: password})
	if err != nil {
		t.Fatalf("NewEncryptor failed: %v", err)
	}
	if bytes.Equal(writer.Salt(), reader.Salt()) {
		t.Fatal("expected distinct salts")
	}

	plaintext := []byte("cross-process artifact")
	sealed, err := writer.SealArtifact(plaintext)
	if err != nil {
		t.Fatalf("SealArtifact failed: %v", err)
	}

	opened, err := reader.OpenArtifact(sealed)
	if err != nil {
		t.Fatalf("OpenArtifact failed: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Error("re-derived open does not match")
	}
}

func TestOpenArtifact_RawKeyIgnoresSalt(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, EncryptionKeySize)

	// Raw-key encryptors carry unrelated salts; the key alone must open.
	writer, err := NewEncryptor(EncryptionConfig{Enabled: true, Key: key})
	if err != nil {
		t.Fatalf("NewEncryptor failed: %v", err)
	}
	reader, err := NewEncryptor(EncryptionConfig{Enabled: true, Key: key})
	if err != nil {
		t.Fatalf("NewEncryptor failed: %v", err)
	}

	sealed, err := writer.SealArtifact([]byte("raw key data"))
	if err != nil {
		t.Fatalf("SealArtifact failed: %v", err)
	}
	opened, err := reader.OpenArtifact(sealed)
	if err != nil {
		t.Fatalf("OpenArtifact failed: %v", err)
	}
	if string(opened) != "raw key data" {
		t.Errorf("unexpected plaintext: %s", opened)
	}
}

func TestOpenArtifact_WrongKey(t *testing.T) {
	writer, err := NewEncryptorWithKey(bytes.Repeat([]byte{0x01}, EncryptionKeySize))
	if err != nil {
		t.Fatalf("NewEncryptorWithKey failed: %v", err)
	}
	reader, err := NewEncryptorWithKey(bytes.Repeat([]byte{0x02}, EncryptionKeySize))
	if err != nil {
		t.Fatalf("NewEncryptorWithKey failed: %v", err)
	}

	sealed, err := writer.SealArtifact([]byte("secret"))
	if err != nil {
		t.Fatalf("SealArtifact failed: %v", err)
	}
	if _, err := reader.OpenArtifact(sealed); err == nil {
		t.Error("expected error opening with wrong key")
	}
}

func TestOpenArtifact_Malformed(t *testing.T) {
	enc, err := NewEncryptor(EncryptionConfig{Enabled: true, KeyPassword: "test"})
	if err != nil {
		t.Fatalf("NewEncryptor failed: %v", err)
	}

	if _, err := enc.OpenArtifact([]byte("tiny")); err == nil {
		t.Error("expected error for truncated envelope")
	}

	sealed, err := enc.SealArtifact([]byte("data"))
	if err != nil {
		t.Fatalf("SealArtifact failed: %v", err)
	}

	badMagic := append([]byte(nil), sealed...)
	badMagic[0] = 'X'
	if _, err := enc.OpenArtifact(badMagic); err == nil {
		t.Error("expected error for bad magic")
	}

	badVersion := append([]byte(nil), sealed...)
	badVersion[4] = 9
	if _, err := enc.OpenArtifact(badVersion); err == nil {
		t.Error("expected error for unsupported version")
	}
}

func TestEncryptor_Disabled(t *testing.T) {
	enc, err := NewEncryptor(EncryptionConfig{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enc != nil {
		t.Error("expected nil encryptor when disabled")
	}
}

func TestEncryptor_NoKeyOrPassword(t *testing.T) {
	_, err := NewEncryptor(EncryptionConfig{Enabled: true})
	if err == nil {
		t.Error("expected error when no key or password provided")
	}
}

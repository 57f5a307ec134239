package datavet

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// EncryptionNonceSize is the nonce size for AES-GCM
	EncryptionNonceSize = 12
	// EncryptionSaltSize is the salt size for key derivation
	EncryptionSaltSize = 32
	// EncryptionKeySize is the AES-256 key size
	EncryptionKeySize = 32
	// PBKDF2Iterations is the number of iterations for key derivation
	PBKDF2Iterations = 100000
)

// EncryptionConfig configures encryption at rest for registry artifacts.
// Schema domains and tracked value frequencies can carry sensitive tokens,
// so registries backed by shared storage may want them sealed.
type EncryptionConfig struct {
	// Enabled turns on encryption for stored artifacts
	Enabled bool `yaml:"enabled"`
	// Key is the encryption key (must be 32 bytes for AES-256)
	// If empty, KeyPassword is used to derive a key
	Key []byte `yaml:"key,omitempty"`
	// KeyPassword is used to derive the encryption key via PBKDF2
	KeyPassword string `yaml:"key_password,omitempty"`
}

// Encryptor seals and opens artifact bytes with AES-GCM.
type Encryptor struct {
	gcm      cipher.AEAD
	salt     []byte
	password string
}

// NewEncryptor creates a new encryptor from a key or password. Returns
// (nil, nil) when encryption is disabled.
func NewEncryptor(cfg EncryptionConfig) (*Encryptor, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var key, salt []byte
	var password string

	switch {
	case len(cfg.Key) > 0:
		if len(cfg.Key) != EncryptionKeySize {
			return nil, errors.New("encryption key must be 32 bytes for AES-256")
		}
		key = cfg.Key
		salt = make([]byte, EncryptionSaltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
	case cfg.KeyPassword != "":
		salt = make([]byte, EncryptionSaltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
		key = pbkdf2.Key([]byte(cfg.KeyPassword), salt, PBKDF2Iterations, EncryptionKeySize, sha256.New)
		password = cfg.KeyPassword
	default:
		return nil, errors.New("encryption enabled but no key or password provided")
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return &Encryptor{gcm: gcm, salt: salt, password: password}, nil
}

// NewEncryptorWithSalt derives an encryptor from a password and an
// existing salt, for opening artifacts sealed elsewhere.
func NewEncryptorWithSalt(password string, salt []byte) (*Encryptor, error) {
	if len(salt) != EncryptionSaltSize {
		return nil, errors.New("invalid salt size")
	}
	key := pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, EncryptionKeySize, sha256.New)
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return &Encryptor{gcm: gcm, salt: salt, password: password}, nil
}

// NewEncryptorWithKey creates an encryptor from a raw 32-byte key.
func NewEncryptorWithKey(key []byte) (*Encryptor, error) {
	if len(key) != EncryptionKeySize {
		return nil, errors.New("encryption key must be 32 bytes")
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return &Encryptor{gcm: gcm}, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Salt returns the salt used for key derivation.
func (e *Encryptor) Salt() []byte {
	return e.salt
}

// Encrypt encrypts plaintext and returns ciphertext with prepended nonce.
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, EncryptionNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return e.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts ciphertext (with prepended nonce) and returns plaintext.
func (e *Encryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < EncryptionNonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce := ciphertext[:EncryptionNonceSize]
	return e.gcm.Open(nil, nonce, ciphertext[EncryptionNonceSize:], nil)
}

// Sealed artifact envelope: magic, version, key derivation salt, then the
// nonce-prefixed ciphertext.
var magicSealed = [4]byte{'D', 'V', 'E', 'N'}

const sealedHeaderSize = 4 + 1 + EncryptionSaltSize

// SealArtifact encrypts artifact bytes into a self-describing envelope.
// The envelope carries the salt, so a password-derived encryptor in
// another process can open it.
func (e *Encryptor) SealArtifact(plaintext []byte) ([]byte, error) {
	ciphertext, err := e.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	out := make([]byte, sealedHeaderSize, sealedHeaderSize+len(ciphertext))
	copy(out[0:4], magicSealed[:])
	out[4] = 1
	copy(out[5:], e.salt)
	return append(out, ciphertext...), nil
}

// OpenArtifact decrypts an envelope produced by SealArtifact. Envelopes
// sealed under a different salt are reopened by re-deriving the key from
// the stored salt, which requires a password-based encryptor.
func (e *Encryptor) OpenArtifact(data []byte) ([]byte, error) {
	salt, ciphertext, err := splitSealed(data)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(salt, e.salt) || e.password == "" {
		return e.Decrypt(ciphertext)
	}
	derived, err := NewEncryptorWithSalt(e.password, salt)
	if err != nil {
		return nil, err
	}
	return derived.Decrypt(ciphertext)
}

// IsSealedArtifact reports whether data starts with the sealed envelope
// magic.
func IsSealedArtifact(data []byte) bool {
	return len(data) >= 4 && [4]byte(data[0:4]) == magicSealed
}

func splitSealed(data []byte) (salt, ciphertext []byte, err error) {
	if len(data) < sealedHeaderSize {
		return nil, nil, errors.New("sealed artifact too short")
	}
	if [4]byte(data[0:4]) != magicSealed {
		return nil, nil, errors.New("invalid sealed artifact magic")
	}
	if data[4] != 1 {
		return nil, nil, errors.New("unsupported sealed artifact version")
	}
	return data[5:sealedHeaderSize], data[sealedHeaderSize:], nil
}

// Package secrets seals configuration files that carry credentials
// (webhook URLs, SMTP and ClickHouse passwords) with a master key.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltSize is the size of the salt in bytes.
	SaltSize = 16
	// NonceSize is the size of the GCM nonce in bytes.
	NonceSize = 12
	// KeySize is the AES-256 key size in bytes.
	KeySize = 32
	// Iterations is the number of PBKDF2 iterations.
	Iterations = 100000
	// Suffix marks a sealed file.
	Suffix = ".enc"

	// MasterKeyEnv names the environment variable holding the master key.
	MasterKeyEnv = "KEYWATCH_MASTER_KEY"

	envelopeVersion = 1
)

// additionalData binds ciphertexts to this file format.
var additionalData = []byte("keywatch-sealed-config")

// ErrNoMasterKey is returned when a sealed file is read or written without
// a master key.
var ErrNoMasterKey = errors.New("master key required for sealed files, set " + MasterKeyEnv)

// Envelope is the on-disk form of a sealed file.
type Envelope struct {
	Version    int    `json:"version"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// MasterKey returns the master key from the environment, or nil.
func MasterKey() []byte {
	if v := os.Getenv(MasterKeyEnv); v != "" {
		return []byte(v)
	}
	return nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	return b, nil
}

func newGCM(masterKey, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(masterKey, salt, Iterations, KeySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

// Seal encrypts plaintext with AES-256-GCM under a key derived from
// masterKey and a fresh salt.
func Seal(plaintext, masterKey []byte) (*Envelope, error) {
	if len(masterKey) == 0 {
		return nil, ErrNoMasterKey
	}
	salt, err := randomBytes(SaltSize)
	if err != nil {
		return nil, err
	}
	nonce, err := randomBytes(NonceSize)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(masterKey, salt)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Version:    envelopeVersion,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, additionalData),
	}, nil
}

// Open decrypts an envelope produced by Seal.
func Open(env *Envelope, masterKey []byte) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("sealed data is nil")
	}
	if len(masterKey) == 0 {
		return nil, ErrNoMasterKey
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("unsupported sealed file version %d", env.Version)
	}
	if len(env.Salt) != SaltSize {
		return nil, fmt.Errorf("invalid salt size: got %d, want %d", len(env.Salt), SaltSize)
	}
	if len(env.Nonce) != NonceSize {
		return nil, fmt.Errorf("invalid nonce size: got %d, want %d", len(env.Nonce), NonceSize)
	}

	gcm, err := newGCM(masterKey, env.Salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, env.Nonce, env.Ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("decrypt: wrong master key or corrupted file")
	}
	return plaintext, nil
}

// IsSealed reports whether path names a sealed file.
func IsSealed(path string) bool {
	return strings.HasSuffix(path, Suffix)
}

// ReadFile returns the contents of path, decrypting it when it carries the
// sealed suffix.
func ReadFile(path string, masterKey []byte) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if !IsSealed(path) {
		return content, nil
	}

	var env Envelope
	if err := json.Unmarshal(content, &env); err != nil {
		return nil, fmt.Errorf("parse sealed file: %w", err)
	}
	return Open(&env, masterKey)
}

// WriteFile seals plaintext into path, adding the sealed suffix if
// missing, with 0600 permissions. It returns the written path.
func WriteFile(path string, plaintext, masterKey []byte) (string, error) {
	if !IsSealed(path) {
		path += Suffix
	}

	env, err := Seal(plaintext, masterKey)
	if err != nil {
		return "", err
	}
	content, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal sealed file: %w", err)
	}
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

// Package security keeps the session token (ARL) out of the settings file
// in plain text. The token is sealed with AES-256-GCM under a key derived
// from a per-install random salt and a machine identifier, so a copied
// settings file is useless on another machine.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize    = 32 // AES-256
	saltSize   = 32
	pbkdf2Iter = 100000

	// sealedPrefix marks an encrypted value in the settings file.
	sealedPrefix = "enc:"

	// credentialTarget names the entry in the platform credential store.
	credentialTarget = "Melodex_ARL"

	// credentialRef is the stored value when the token itself lives in the
	// platform credential store instead of the settings file.
	credentialRef = sealedPrefix + "credential-store"
)

// TokenEncryptor seals and opens credential strings. The derivation salt
// lives next to the database in a 0600 file.
type TokenEncryptor struct {
	saltPath string
}

// NewTokenEncryptor creates an encryptor rooted at the data directory.
func NewTokenEncryptor(dataDir string) *TokenEncryptor {
	return &TokenEncryptor{saltPath: filepath.Join(dataDir, ".salt")}
}

// IsSealed reports whether a stored value is already encrypted.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}

// Seal stores a token for later retrieval. The platform credential store
// is preferred, leaving only a reference value behind; where none exists
// the token is encrypted in place. Either way the result carries the
// sealed prefix so loaders can tell plaintext from ciphertext.
func (te *TokenEncryptor) Seal(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("token cannot be empty")
	}

	if err := te.storeCredential(token); err == nil {
		return credentialRef, nil
	}

	key, err := te.getOrCreateKey()
	if err != nil {
		return "", fmt.Errorf("deriving encryption key: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(token), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open decrypts a sealed token. Plain values pass through unchanged so a
// hand-edited settings file keeps working until the next save re-seals it.
func (te *TokenEncryptor) Open(stored string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}
	if stored == credentialRef {
		return te.readCredential()
	}

	key, err := te.loadKey()
	if err != nil {
		return "", fmt.Errorf("loading encryption key: %w", err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("decoding sealed token: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return "", fmt.Errorf("sealed token too short")
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("opening sealed token: %w", err)
	}
	return string(plaintext), nil
}

// DeleteKey removes the stored token material: the credential store entry
// where one exists, and the derivation salt, invalidating every sealed
// value.
func (te *TokenEncryptor) DeleteKey() error {
	// Best effort: a missing credential entry must not block logout.
	_ = te.deleteCredential()
	if err := os.Remove(te.saltPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting salt file: %w", err)
	}
	return nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

func (te *TokenEncryptor) getOrCreateKey() ([]byte, error) {
	if key, err := te.loadKey(); err == nil {
		return key, nil
	}
	return te.generateAndSaveKey()
}

func (te *TokenEncryptor) loadKey() ([]byte, error) {
	data, err := os.ReadFile(te.saltPath)
	if err != nil {
		return nil, fmt.Errorf("reading salt file: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("decoding salt: %w", err)
	}
	if len(salt) < saltSize {
		return nil, fmt.Errorf("invalid salt file")
	}

	return pbkdf2.Key([]byte(machineID()), salt, pbkdf2Iter, keySize, sha256.New), nil
}

func (te *TokenEncryptor) generateAndSaveKey() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(te.saltPath), 0o700); err != nil {
		return nil, fmt.Errorf("creating key directory: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(salt)
	if err := os.WriteFile(te.saltPath, []byte(encoded), 0o600); err != nil {
		return nil, fmt.Errorf("writing salt file: %w", err)
	}

	return pbkdf2.Key([]byte(machineID()), salt, pbkdf2Iter, keySize, sha256.New), nil
}

// machineID ties the key to this host and user. Not a secret by itself;
// the random salt carries the entropy.
func machineID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "default-machine"
	}
	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME")
	}
	if username == "" {
		username = "default-user"
	}
	return hostname + ":" + username
}

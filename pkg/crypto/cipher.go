// Package crypto encrypts account credentials at rest with AES-256-GCM.
// Ciphertexts carry a key version prefix (ENC[vN]:base64) so keys can be
// rotated without re-encrypting everything at once.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

const (
	keySize   = 32 // AES-256
	nonceSize = 12 // GCM standard nonce

	// EnvMasterKey holds the base64 primary key. Rotated keys live in
	// EnvMasterKey_V2, _V3 and so on.
	EnvMasterKey = "LADDERBOT_MASTER_KEY"

	maxKeyVersions = 10
)

var (
	ErrBadKey        = errors.New("encryption key must be 32 bytes")
	ErrBadCiphertext = errors.New("malformed ciphertext")
	ErrOpenFailed    = errors.New("decryption failed")
)

// Cipher seals and opens strings with a single AES-256-GCM key.
type Cipher struct {
	aead    cipher.AEAD
	version int
}

// NewCipher builds a Cipher from a raw 32-byte key.
func NewCipher(key []byte, version int) (*Cipher, error) {
	if len(key) != keySize {
		return nil, ErrBadKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Cipher{aead: aead, version: version}, nil
}

// Seal encrypts plaintext and returns ENC[vN]:base64(nonce||ciphertext).
func (c *Cipher) Seal(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf("ENC[v%d]:%s", c.version, base64.StdEncoding.EncodeToString(sealed)), nil
}

// Open decrypts a string produced by Seal.
func (c *Cipher) Open(ciphertext string) (string, error) {
	_, payload, err := splitCiphertext(ciphertext)
	if err != nil {
		return "", err
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if len(data) < nonceSize {
		return "", ErrBadCiphertext
	}
	plain, err := c.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", ErrOpenFailed
	}
	return string(plain), nil
}

// Version returns the key version this cipher seals with.
func (c *Cipher) Version() int { return c.version }

// Keyring holds every loaded key version. Seal uses the newest version;
// Open picks the version named in the ciphertext.
type Keyring struct {
	mu      sync.RWMutex
	ciphers map[int]*Cipher
	newest  int
}

// LoadKeyring reads keys from the environment. EnvMasterKey (version 1) is
// required; EnvMasterKey_V2..V10 are optional rotations.
func LoadKeyring() (*Keyring, error) {
	kr := &Keyring{ciphers: make(map[int]*Cipher)}
	if err := kr.addFromEnv(1, EnvMasterKey); err != nil {
		return nil, fmt.Errorf("load primary key: %w", err)
	}
	for v := 2; v <= maxKeyVersions; v++ {
		if err := kr.addFromEnv(v, fmt.Sprintf("%s_V%d", EnvMasterKey, v)); err == nil {
			kr.newest = v
		}
	}
	return kr, nil
}

func (kr *Keyring) addFromEnv(version int, envName string) error {
	encoded := os.Getenv(envName)
	if encoded == "" {
		return fmt.Errorf("%s not set", envName)
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode %s: %w", envName, err)
	}
	c, err := NewCipher(key, version)
	if err != nil {
		return fmt.Errorf("key v%d: %w", version, err)
	}
	kr.mu.Lock()
	defer kr.mu.Unlock()
	kr.ciphers[version] = c
	if version > kr.newest {
		kr.newest = version
	}
	return nil
}

// Seal encrypts with the newest key version.
func (kr *Keyring) Seal(plaintext string) (string, error) {
	kr.mu.RLock()
	c := kr.ciphers[kr.newest]
	kr.mu.RUnlock()
	if c == nil {
		return "", errors.New("keyring is empty")
	}
	return c.Seal(plaintext)
}

// Open decrypts with whichever key version the ciphertext names.
func (kr *Keyring) Open(ciphertext string) (string, error) {
	version, _, err := splitCiphertext(ciphertext)
	if err != nil {
		return "", err
	}
	kr.mu.RLock()
	c := kr.ciphers[version]
	kr.mu.RUnlock()
	if c == nil {
		return "", fmt.Errorf("key version %d not loaded", version)
	}
	return c.Open(ciphertext)
}

// Reseal rewraps a ciphertext under the newest key. Used during rotation.
func (kr *Keyring) Reseal(ciphertext string) (string, error) {
	plain, err := kr.Open(ciphertext)
	if err != nil {
		return "", fmt.Errorf("open for reseal: %w", err)
	}
	return kr.Seal(plain)
}

// NewestVersion returns the version Seal currently uses.
func (kr *Keyring) NewestVersion() int {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	return kr.newest
}

// GenerateKey returns a fresh random key, base64-encoded for env storage.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

func splitCiphertext(ciphertext string) (version int, payload string, err error) {
	if !strings.HasPrefix(ciphertext, "ENC[v") {
		return 0, "", ErrBadCiphertext
	}
	sep := strings.Index(ciphertext, "]:")
	if sep == -1 {
		return 0, "", ErrBadCiphertext
	}
	if _, err := fmt.Sscanf(ciphertext[:sep+2], "ENC[v%d]:", &version); err != nil || version <= 0 {
		return 0, "", ErrBadCiphertext
	}
	payload = ciphertext[sep+2:]
	if payload == "" {
		return 0, "", ErrBadCiphertext
	}
	return version, payload, nil
}

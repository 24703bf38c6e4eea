package airsync

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
)

const (
	keySize   = 32
	nonceSize = 12
)

// entropy feeds key generation and per-frame nonces. Tests script it with
// SetEntropySource; everything else reads crypto/rand.
var entropy = struct {
	sync.Mutex
	src io.Reader
}{src: rand.Reader}

// SetEntropySource swaps the randomness source and returns the previous one
// so the caller can put it back.
func SetEntropySource(r io.Reader) io.Reader {
	entropy.Lock()
	defer entropy.Unlock()
	prev := entropy.src
	entropy.src = r
	return prev
}

func fillRandom(b []byte) error {
	entropy.Lock()
	src := entropy.src
	entropy.Unlock()
	_, err := io.ReadFull(src, b)
	return err
}

// Cipher performs AES-256-GCM sealing of wire frames and owns the key
// lifecycle. The key material is read-only after construction.
type Cipher struct {
	key  []byte
	aead cipher.AEAD
}

// NewCipher loads the key from path, generating and persisting a fresh
// 256-bit key if the file does not exist yet.
func NewCipher(path string) (*Cipher, error) {
	key, err := loadOrGenerateKey(path)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("airsync: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("airsync: init cipher: %w", err)
	}
	return &Cipher{key: key, aead: aead}, nil
}

func loadOrGenerateKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != keySize {
			return nil, fmt.Errorf("%w: %s holds %d bytes, want %d", ErrKeyIO, path, len(key), keySize)
		}
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: read %s: %v", ErrKeyIO, path, err)
	}
	key = make([]byte, keySize)
	if err := fillRandom(key); err != nil {
		return nil, fmt.Errorf("%w: generate key: %v", ErrKeyIO, err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("%w: write %s: %v", ErrKeyIO, path, err)
	}
	return key, nil
}

// KeyBase64 returns the key encoded for the pairing URI.
func (c *Cipher) KeyBase64() string {
	return base64.StdEncoding.EncodeToString(c.key)
}

// Encrypt seals plaintext into base64(nonce || ciphertext || tag) with a
// fresh 96-bit nonce per call.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if err := fillRandom(nonce); err != nil {
		return "", fmt.Errorf("airsync: draw nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a base64(nonce || ciphertext || tag) frame. Any format or
// authentication failure is reported as ErrDecrypt; the passthrough policy
// for unencrypted peers lives in the codec, not here.
func (c *Cipher) Decrypt(frame string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(frame)
	if err != nil {
		return "", fmt.Errorf("%w: not base64", ErrDecrypt)
	}
	if len(raw) < nonceSize+c.aead.Overhead() {
		return "", fmt.Errorf("%w: frame too short", ErrDecrypt)
	}
	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}

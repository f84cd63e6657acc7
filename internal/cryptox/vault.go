// Package cryptox implements the secret vault that protects stored channel
// targets, and the key derivation helpers built around its process-wide key.
//
// Ciphertexts are AES-256-GCM with a random 12-byte nonce prepended, encoded
// as standard base64. Losing the key makes every stored ciphertext
// unrecoverable; there is no rotation.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/availwatch/internal/common"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the vault key length in bytes (AES-256).
const KeySize = 32

// passphraseSalt is fixed so the same passphrase always yields the same key
// across restarts.
var passphraseSalt = []byte("availwatch/vault/v1")

// KeyFromSecret turns the configured secret into a vault key. A secret that
// decodes (base64 or hex) to exactly KeySize bytes is used as-is; anything
// else is treated as a passphrase and stretched with argon2id.
func KeyFromSecret(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("%w: encryption key is empty", common.ErrConfig)
	}

	if b, err := base64.StdEncoding.DecodeString(secret); err == nil && len(b) == KeySize {
		return b, nil
	}
	if b, err := base64.RawURLEncoding.DecodeString(secret); err == nil && len(b) == KeySize {
		return b, nil
	}
	if b, err := hex.DecodeString(secret); err == nil && len(b) == KeySize {
		return b, nil
	}

	return DeriveMasterKey([]byte(secret), passphraseSalt), nil
}

// DeriveMasterKey stretches a passphrase into a KeySize key with argon2id.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, KeySize)
}

// DeriveSubkey expands master into an independent KeySize key bound to
// purpose (HKDF-SHA256). Subkeys sign session tokens and hash OTP codes so the
// vault key itself is only ever used for encryption.
func DeriveSubkey(master []byte, purpose string) []byte {
	out := make([]byte, KeySize)
	r := hkdf.New(sha256.New, master, nil, []byte(purpose))
	if _, err := io.ReadFull(r, out); err != nil {
		panic(err)
	}
	return out
}

// GenerateKey returns a fresh random key encoded the way KeyFromSecret
// accepts it.
func GenerateKey() string {
	return base64.StdEncoding.EncodeToString(common.GenerateRandByteArray(KeySize))
}

// Vault encrypts and decrypts channel targets with the process-wide key.
// It is safe for concurrent use.
type Vault struct {
	aead cipher.AEAD
}

// NewVault builds a Vault around key, which must be KeySize bytes.
func NewVault(key []byte) (*Vault, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: vault key must be %d bytes", common.ErrConfig, KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Any malformed, truncated or
// tampered input fails with common.ErrDecryption.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: bad encoding", common.ErrDecryption)
	}
	ns := v.aead.NonceSize()
	if len(raw) < ns+v.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", common.ErrDecryption)
	}
	plain, err := v.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", common.ErrDecryption)
	}
	return string(plain), nil
}

// Package services holds the domain logic of the monitor: change detection,
// notification dispatch, OTP authentication, subscription management,
// retention and the read-only status queries. Services share the pattern
// (db *sql.DB, repomanager.RepositoryManager, *config.Config) and compose
// repositories inside dbx transactions.
package services

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/dmitrijs2005/availwatch/internal/common"
	"github.com/dmitrijs2005/availwatch/internal/cryptox"
)

// SecretBox is the part of the vault services depend on.
type SecretBox interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Keys are purpose-bound secrets derived from the vault key.
type Keys struct {
	OTP     []byte
	Session []byte
}

// DeriveKeys derives the OTP hashing key and the session signing key from
// the vault key. A non-empty sessionSecret overrides the derived session key.
func DeriveKeys(vaultKey []byte, sessionSecret string) Keys {
	k := Keys{
		OTP:     cryptox.DeriveSubkey(vaultKey, "otp"),
		Session: cryptox.DeriveSubkey(vaultKey, "session"),
	}
	if sessionSecret != "" {
		k.Session = []byte(sessionSecret)
	}
	return k
}

// NormalizeIdentity returns the canonical form of an email identity:
// trimmed, lowercased and free of display names. Addresses containing
// URL-significant characters are rejected since identities are substituted
// into channel URLs.
func NormalizeIdentity(identity string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(identity))
	if s == "" || len(s) > 254 {
		return "", fmt.Errorf("%w: invalid email address", common.ErrValidation)
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s || addr.Name != "" {
		return "", fmt.Errorf("%w: invalid email address", common.ErrValidation)
	}
	if strings.ContainsAny(s, "?&#/%{}\\\"' ") {
		return "", fmt.Errorf("%w: invalid email address", common.ErrValidation)
	}
	return s, nil
}

// clock is overridden in tests.
type clock func() time.Time

func (c clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c()
}

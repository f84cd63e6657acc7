package services

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/dmitrijs2005/availwatch/internal/common"
	"github.com/dmitrijs2005/availwatch/internal/dbx"
	"github.com/dmitrijs2005/availwatch/internal/logging"
	"github.com/dmitrijs2005/availwatch/internal/server/auth"
	"github.com/dmitrijs2005/availwatch/internal/server/config"
	"github.com/dmitrijs2005/availwatch/internal/server/models"
	"github.com/dmitrijs2005/availwatch/internal/server/notify"
	"github.com/dmitrijs2005/availwatch/internal/server/repositories/repomanager"
)

// Session is the ephemeral authorization returned by a successful verify.
type Session struct {
	Token     string
	Identity  string
	ExpiresAt time.Time
}

// OTPService issues and verifies one-time login codes. A verified code is
// exchanged for a signed session token; nothing about the session is stored.
type OTPService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	sender      notify.Sender
	template    *notify.URLTemplate
	keys        Keys
	log         logging.Logger

	ttl         time.Duration
	maxAttempts int
	length      int
	sessionTTL  time.Duration
	sendTimeout time.Duration
	clock       clock
}

func NewOTPService(db *sql.DB, rm repomanager.RepositoryManager, cfg *config.Config, sender notify.Sender,
	template *notify.URLTemplate, keys Keys, log logging.Logger) *OTPService {
	return &OTPService{
		db:          db,
		repomanager: rm,
		sender:      sender,
		template:    template,
		keys:        keys,
		log:         log.With("module", "otp"),
		ttl:         cfg.OTPTTL,
		maxAttempts: cfg.OTPMaxAttempts,
		length:      cfg.OTPLength,
		sessionTTL:  cfg.SessionTTL,
		sendTimeout: cfg.SendTimeout,
	}
}

// IssueChallenge supersedes any open challenge for identity, stores the hash
// of a fresh code and sends the code to the identity's address.
func (s *OTPService) IssueChallenge(ctx context.Context, identity string) error {
	id, err := NormalizeIdentity(identity)
	if err != nil {
		return err
	}
	if s.template == nil {
		return fmt.Errorf("%w: login code channel is not configured", common.ErrConfig)
	}

	code, err := generateCode(s.length)
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}

	now := s.clock.now()
	challenge := &models.OTPChallenge{
		Identity:  id,
		CodeHash:  s.hashCode(id, code),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Challenges(tx)
		if _, err := repo.InvalidateActive(ctx, id, now); err != nil {
			return err
		}
		_, err := repo.Create(ctx, challenge)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: store challenge: %w", common.ErrStore, err)
	}

	sctx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()
	if err := s.sender.Send(sctx, s.template.Render(id, code), notify.LoginCodeMessage(code, s.ttl)); err != nil {
		s.log.Warn(ctx, "login code not delivered", "challenge", challenge.ID, "error", err)
		return fmt.Errorf("send login code: %w", err)
	}

	s.log.Info(ctx, "challenge issued", "challenge", challenge.ID)
	return nil
}

// Verify consumes the open challenge of identity when code matches. Every
// failure is reported as common.ErrAuth. A wrong code counts against the
// challenge even though the call fails; once the attempt ceiling is reached
// the challenge no longer verifies, whatever the code.
func (s *OTPService) Verify(ctx context.Context, identity, code string) (*Session, error) {
	id, err := NormalizeIdentity(identity)
	if err != nil {
		return nil, common.ErrAuth
	}

	now := s.clock.now()
	var reason string

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Challenges(tx)

		c, err := repo.FindLatestActive(ctx, id)
		if errors.Is(err, common.ErrorNotFound) {
			reason = "no open challenge"
			return nil
		}
		if err != nil {
			return err
		}

		switch {
		case !now.Before(c.ExpiresAt):
			reason = "expired"
			return nil
		case c.AttemptCount >= s.maxAttempts:
			reason = "attempt ceiling reached"
			return nil
		}

		if subtle.ConstantTimeCompare(s.hashCode(id, code), c.CodeHash) != 1 {
			reason = "code mismatch"
			_, err := repo.IncrementAttempts(ctx, c.ID)
			return err
		}

		if err := repo.Consume(ctx, c.ID, now); err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				reason = "already consumed"
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: verify challenge: %w", common.ErrStore, err)
	}
	if reason != "" {
		s.log.Info(ctx, "verification rejected", "reason", reason)
		return nil, common.ErrAuth
	}

	token, expiresAt, err := auth.GenerateToken(id, s.keys.Session, s.sessionTTL, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorInternal, err)
	}
	return &Session{Token: token, Identity: id, ExpiresAt: expiresAt}, nil
}

// Authenticate resolves a session token to its identity.
func (s *OTPService) Authenticate(token string) (string, error) {
	id, err := auth.IdentityFromToken(token, s.keys.Session)
	if err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrorUnauthorized, err)
	}
	return id, nil
}

func (s *OTPService) hashCode(identity, code string) []byte {
	mac := hmac.New(sha256.New, s.keys.OTP)
	mac.Write([]byte(identity + ":" + code))
	return mac.Sum(nil)
}

// generateCode returns n uniformly random decimal digits.
func generateCode(n int) (string, error) {
	ten := big.NewInt(10)
	b := make([]byte, n)
	for i := range b {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b[i] = byte('0' + d.Int64())
	}
	return string(b), nil
}

package models

import "time"

// OTPChallenge is one issued login code. Only the code hash is stored.
type OTPChallenge struct {
	ID            int64
	Identity      string
	CodeHash      []byte
	IssuedAt      time.Time
	ExpiresAt     time.Time
	ConsumedAt    *time.Time
	InvalidatedAt *time.Time
	AttemptCount  int
}

// Usable reports whether the challenge may still authorize at now.
func (c *OTPChallenge) Usable(now time.Time) bool {
	return c.ConsumedAt == nil && c.InvalidatedAt == nil && now.Before(c.ExpiresAt)
}

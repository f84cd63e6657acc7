// Package common defines shared constants and sentinel errors used across
// the availwatch server, its workers and the operator console. Callers should
// use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Validation errors carry a user-facing reason in the wrapping message.
	ErrValidation = errors.New("validation error")

	// Session token errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Cycle-level errors.
	ErrFetch = errors.New("fetch error")
	ErrStore = errors.New("store error")

	// Vault errors. A profile whose target fails to decrypt is unusable.
	ErrDecryption = errors.New("decryption error")

	// Delivery outcomes other than success.
	ErrDeliveryTransient = errors.New("transient delivery failure")
	ErrDeliveryPermanent = errors.New("permanent delivery failure")

	// ErrAuth is returned for every OTP failure (mismatch, expiry, consumed,
	// attempt ceiling). Its message is the only one shown to users.
	ErrAuth = errors.New("invalid or expired code")

	// ErrRateLimited is returned when an identity requests codes too often.
	ErrRateLimited = errors.New("too many requests")

	// ErrConfig is fatal at startup only.
	ErrConfig = errors.New("configuration error")
)

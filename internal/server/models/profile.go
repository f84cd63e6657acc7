package models

import (
	"slices"
	"time"
)

// FilterMode selects how WatchedCIIDs is interpreted.
type FilterMode string

const (
	// FilterInclude matches the listed items; an empty list matches everything.
	FilterInclude FilterMode = "include"
	// FilterExclude matches everything except the listed items.
	FilterExclude FilterMode = "exclude"
)

// ChannelKind tells how the decrypted target is used.
type ChannelKind string

const (
	// ChannelApprise targets are Apprise-style URLs supplied by the owner.
	ChannelApprise ChannelKind = "apprise"
	// ChannelEmail targets are the owner's verified address, delivered through
	// the configured email URL template.
	ChannelEmail ChannelKind = "email"
)

// NotificationProfile is a subscription owned by a verified identity.
type NotificationProfile struct {
	ID               string
	OwnerIdentity    string
	Name             string
	FilterMode       FilterMode
	ChannelKind      ChannelKind
	EncryptedTarget  string
	WatchedCIIDs     []string
	UnsubscribeToken string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	FlaggedAt        *time.Time
	FlagReason       string
}

// Flagged reports whether the profile awaits operator review.
func (p *NotificationProfile) Flagged() bool {
	return p.FlaggedAt != nil
}

// Matches reports whether an event for ciID concerns this profile.
func (p *NotificationProfile) Matches(ciID string) bool {
	listed := slices.Contains(p.WatchedCIIDs, ciID)
	if p.FilterMode == FilterExclude {
		return !listed
	}
	return len(p.WatchedCIIDs) == 0 || listed
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChannelKind is the out-of-band medium a verification code is delivered through.
type ChannelKind string

const (
	ChannelSMS   ChannelKind = "sms"
	ChannelEmail ChannelKind = "email"
)

// ChallengeChannel is the delivery target, snapshotted when the challenge is issued so a
// later profile change cannot redirect a code that is already in flight.
type ChallengeChannel struct {
	Kind        ChannelKind `json:"kind"`
	Destination string      `json:"destination"`
}

// VerificationChallenge is a short-lived one-time code bound to a single transfer.
// Only the bcrypt hash of the code is stored.
type VerificationChallenge struct {
	ID           uuid.UUID        `json:"id"`
	TransferID   uuid.UUID        `json:"transfer_id"`
	CodeHash     string           `json:"-"`
	Channel      ChallengeChannel `json:"channel"`
	ExpiresAt    time.Time        `json:"expires_at"`
	Consumed     bool             `json:"consumed"`
	ConsumedAt   *time.Time       `json:"consumed_at,omitempty"`
	SupersededAt *time.Time       `json:"superseded_at,omitempty"`
	ExpiredAt    *time.Time       `json:"expired_at,omitempty"`
	Attempts     int              `json:"attempts"`
	CreatedAt    time.Time        `json:"created_at"`
}

// IsExpired reports whether the challenge window has closed at the given instant.
func (c *VerificationChallenge) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// IsActive reports whether the challenge can still be confirmed.
func (c *VerificationChallenge) IsActive(now time.Time) bool {
	return !c.Consumed && c.SupersededAt == nil && !c.IsExpired(now)
}

// MaskedDestination hides most of the delivery address for display.
func (c ChallengeChannel) MaskedDestination() string {
	d := c.Destination
	if c.Kind == ChannelEmail {
		for i := 0; i < len(d); i++ {
			if d[i] == '@' {
				if i <= 1 {
					return d
				}
				return d[:1] + "***" + d[i:]
			}
		}
	}
	if len(d) <= 4 {
		return d
	}
	return "***" + d[len(d)-4:]
}

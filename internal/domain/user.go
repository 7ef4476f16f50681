// Package domain contains core domain types for the Alpha Tech site.
package domain

import (
	"time"
)

// Identity is the signed-in principal reported by the session store.
// The zero value is the absent identity.
type Identity struct {
	ID      string `json:"id,omitempty"`
	Email   string `json:"email,omitempty"`
	Present bool   `json:"present"`
}

// Absent returns the identity used when nobody is signed in.
func Absent() Identity {
	return Identity{}
}

// Account is a registered credential record.
type Account struct {
	AccountID    string    `json:"account_id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Identity returns the present identity for the account.
func (a *Account) Identity() Identity {
	return Identity{ID: a.AccountID, Email: a.Email, Present: true}
}

// Profile is the document kept per registered identity.
// CreatedAt is an ISO-8601 timestamp string, as written at registration.
type Profile struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
}

// Visitor is an anonymous browser identified by a long-lived cookie.
type Visitor struct {
	VisitorID  string    `json:"visitor_id"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IdleFor reports how long the visitor has been inactive.
func (v *Visitor) IdleFor(now time.Time) time.Duration {
	if v.LastSeenAt.IsZero() {
		return 0
	}
	d := now.Sub(v.LastSeenAt)
	if d < 0 {
		return 0
	}
	return d
}

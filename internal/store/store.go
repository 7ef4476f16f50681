// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/alphatech-ng/alphatech-site/internal/domain"
)

// ErrEmailTaken is returned by CreateAccount when the email is already registered.
var ErrEmailTaken = errors.New("email already registered")

// ProfileStore persists profile documents keyed by identity ID.
type ProfileStore interface {
	// WriteProfile creates or replaces the profile for profile.UserID.
	WriteProfile(ctx context.Context, profile *domain.Profile) error

	// ReadProfile returns the profile, or nil when none exists.
	ReadProfile(ctx context.Context, userID string) (*domain.Profile, error)

	// ListAllProfiles returns every profile ordered by creation time.
	ListAllProfiles(ctx context.Context) ([]*domain.Profile, error)

	// CountProfiles returns the number of stored profiles.
	CountProfiles(ctx context.Context) (int, error)
}

// AccountStore persists credentials and the identity signed in on each device.
type AccountStore interface {
	// CreateAccount inserts a new account. Returns ErrEmailTaken on duplicates.
	CreateAccount(ctx context.Context, account *domain.Account) error

	// GetAccountByEmail returns the account for email, or nil when none exists.
	GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error)

	// GetAccount returns the account by ID, or nil when none exists.
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)

	// SetDeviceSession records accountID as signed in on visitorID.
	SetDeviceSession(ctx context.Context, visitorID, accountID string) error

	// GetDeviceSession returns the account signed in on visitorID, or "".
	GetDeviceSession(ctx context.Context, visitorID string) (string, error)

	// DeleteDeviceSession signs visitorID out.
	DeleteDeviceSession(ctx context.Context, visitorID string) error
}

// Repository defines the full persistence surface of the site.
type Repository interface {
	ProfileStore
	AccountStore

	// GetVisitor retrieves a visitor by ID, or nil when unknown.
	GetVisitor(ctx context.Context, visitorID string) (*domain.Visitor, error)

	// UpsertVisitor creates or updates a visitor record.
	UpsertVisitor(ctx context.Context, visitor *domain.Visitor) error

	// UpdateLastSeen updates the last_seen_at timestamp for a visitor.
	UpdateLastSeen(ctx context.Context, visitorID string, lastSeen time.Time) error

	// DeleteIdleVisitors removes visitors idle for longer than ttl together
	// with their device sessions.
	DeleteIdleVisitors(ctx context.Context, ttl time.Duration) (visitorsDeleted int64, sessionsDeleted int64, err error)

	// CreateLead stores a contact or training request.
	CreateLead(ctx context.Context, lead *domain.Lead) error

	// ListLeads returns all leads, newest first.
	ListLeads(ctx context.Context) ([]*domain.Lead, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

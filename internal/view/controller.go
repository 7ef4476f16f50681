// Package view decides which top-level screen each visitor tab sees.
package view

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alphatech-ng/alphatech-site/internal/domain"
)

// Resolve maps the routing inputs to exactly one screen. First match wins.
func Resolve(identity domain.Identity, role domain.Role, flags domain.NavigationFlags) domain.Screen {
	switch {
	case flags.WantsAdminArea && identity.Present && role == domain.RoleAdmin:
		return domain.ScreenAdminDashboard
	case flags.WantsAdminArea && !identity.Present:
		return domain.ScreenAdminLogin
	case flags.WantsUserProfile && identity.Present && role == domain.RoleRegular:
		return domain.ScreenUserProfile
	case flags.WantsUserLogin && !identity.Present:
		return domain.ScreenUserLogin
	default:
		return domain.ScreenPublicSite
	}
}

// Snapshot is the routing state of one tab together with its resolved screen.
type Snapshot struct {
	Screen   domain.Screen          `json:"screen"`
	Identity domain.Identity        `json:"identity"`
	Role     domain.Role            `json:"role"`
	Flags    domain.NavigationFlags `json:"flags"`
}

// SignOuter ends the identity signed in on a visitor's device.
type SignOuter interface {
	SignOut(ctx context.Context, visitorID string) error
}

// Controller owns the (identity, role, flags) tuple of one visitor tab.
// All methods are safe for concurrent use and applied one at a time.
type Controller struct {
	visitorID string
	signOut   SignOuter

	mu       sync.Mutex
	identity domain.Identity
	role     domain.Role
	flags    domain.NavigationFlags
	nextWID  uint64
	watchers map[uint64]func(Snapshot)
}

// NewController creates a controller showing the public site.
func NewController(visitorID string, signOut SignOuter) *Controller {
	return &Controller{
		visitorID: visitorID,
		signOut:   signOut,
		role:      domain.RoleUnknown,
		watchers:  make(map[uint64]func(Snapshot)),
	}
}

// OnIdentityChanged applies an identity event from the session store.
func (c *Controller) OnIdentityChanged(identity domain.Identity) {
	c.update(func() {
		c.identity = identity
		if !identity.Present {
			c.flags = domain.NavigationFlags{}
			c.role = domain.RoleUnknown
			return
		}
		// Admin sign-in: the role is assigned by OnAdminLoginSucceeded.
		if c.flags.WantsAdminArea {
			return
		}
		c.role = domain.RoleRegular
		c.flags.WantsUserProfile = true
	})
}

// RequestAdminArea records the intent to open the admin area.
func (c *Controller) RequestAdminArea() {
	c.update(func() { c.flags.WantsAdminArea = true })
}

// RequestUserLogin records the intent to open the user login screen.
func (c *Controller) RequestUserLogin() {
	c.update(func() { c.flags.WantsUserLogin = true })
}

// ShowRegistration leaves the login screen for the registration form on the
// public site.
func (c *Controller) ShowRegistration() {
	c.update(func() { c.flags.WantsUserLogin = false })
}

// OnAdminLoginSucceeded promotes the tab's identity to Admin.
func (c *Controller) OnAdminLoginSucceeded() {
	c.update(func() {
		c.role = domain.RoleAdmin
		c.flags.WantsAdminArea = true
	})
}

// OnUserLoginSucceeded moves a regular sign-in on to the profile screen.
func (c *Controller) OnUserLoginSucceeded() {
	c.update(func() {
		c.flags.WantsUserLogin = false
		c.flags.WantsUserProfile = true
		c.role = domain.RoleRegular
	})
}

// RequestLogout asks the session store to sign the device out. The reset
// happens when the resulting absent identity arrives.
func (c *Controller) RequestLogout(ctx context.Context) {
	if err := c.signOut.SignOut(ctx, c.visitorID); err != nil {
		slog.Error("Sign-out failed", "visitor_id", c.visitorID, "error", err)
	}
}

// Screen returns the currently resolved screen.
func (c *Controller) Screen() domain.Screen {
	return c.Snapshot().Screen
}

// Snapshot returns the current tuple and its screen.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Watch calls fn with a new snapshot after every state change.
func (c *Controller) Watch(fn func(Snapshot)) (stop func()) {
	c.mu.Lock()
	c.nextWID++
	id := c.nextWID
	c.watchers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		Screen:   Resolve(c.identity, c.role, c.flags),
		Identity: c.identity,
		Role:     c.role,
		Flags:    c.flags,
	}
}

func (c *Controller) update(mutate func()) {
	c.mu.Lock()
	before := c.snapshotLocked()
	mutate()
	after := c.snapshotLocked()
	if after == before {
		c.mu.Unlock()
		return
	}
	watchers := make([]func(Snapshot), 0, len(c.watchers))
	for _, fn := range c.watchers {
		watchers = append(watchers, fn)
	}
	c.mu.Unlock()

	for _, fn := range watchers {
		fn(after)
	}
}

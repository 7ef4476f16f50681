// Package auth implements the session store: accounts, the identity signed
// in on each device, and identity-change notifications.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/alphatech-ng/alphatech-site/internal/domain"
	"github.com/alphatech-ng/alphatech-site/internal/store"
)

// MinPasswordLength is the shortest password accepted at registration.
const MinPasswordLength = 6

// Options tunes the Service.
type Options struct {
	BcryptCost int
}

// Service keeps one signed-in identity per device (visitor) and notifies
// subscribers of that device whenever it changes.
type Service struct {
	accounts store.AccountStore
	cost     int

	// notifyMu orders identity deliveries. Listeners run with it held and
	// must not call back into the Service.
	notifyMu  sync.Mutex
	mu        sync.Mutex
	nextSubID uint64
	subs      map[string]map[uint64]func(domain.Identity)
}

// NewService creates a session store over accounts.
func NewService(accounts store.AccountStore, opts Options) *Service {
	cost := opts.BcryptCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		accounts: accounts,
		cost:     cost,
		subs:     make(map[string]map[uint64]func(domain.Identity)),
	}
}

// Subscribe registers fn for identity changes on visitorID. fn is called
// immediately with the current identity, then on every change, until the
// returned function is called.
func (s *Service) Subscribe(ctx context.Context, visitorID string, fn func(domain.Identity)) func() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	current, err := s.Current(ctx, visitorID)
	if err != nil {
		slog.Warn("Failed to read current identity, reporting absent", "visitor_id", visitorID, "error", err)
		current = domain.Absent()
	}

	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	if s.subs[visitorID] == nil {
		s.subs[visitorID] = make(map[uint64]func(domain.Identity))
	}
	s.subs[visitorID][id] = fn
	s.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs[visitorID], id)
			if len(s.subs[visitorID]) == 0 {
				delete(s.subs, visitorID)
			}
		})
	}
}

// Current returns the identity signed in on visitorID.
func (s *Service) Current(ctx context.Context, visitorID string) (domain.Identity, error) {
	accountID, err := s.accounts.GetDeviceSession(ctx, visitorID)
	if err != nil {
		return domain.Absent(), newError(CodeOther, err)
	}
	if accountID == "" {
		return domain.Absent(), nil
	}

	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return domain.Absent(), newError(CodeOther, err)
	}
	if account == nil {
		return domain.Absent(), nil
	}
	return account.Identity(), nil
}

// CreateAccount registers a new account and signs visitorID in as it.
func (s *Service) CreateAccount(ctx context.Context, visitorID, email, password string) (domain.Identity, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return domain.Absent(), err
	}
	if len(password) < MinPasswordLength {
		return domain.Absent(), ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return domain.Absent(), newError(CodeOther, err)
	}

	account := &domain.Account{
		AccountID:    uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}
	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return domain.Absent(), newError(CodeEmailInUse, err)
		}
		return domain.Absent(), newError(CodeOther, err)
	}

	identity := account.Identity()
	if err := s.signIn(ctx, visitorID, identity); err != nil {
		return domain.Absent(), err
	}
	slog.Info("Account created", "visitor_id", visitorID, "account_id", account.AccountID)
	return identity, nil
}

// SignIn checks the credentials and signs visitorID in.
func (s *Service) SignIn(ctx context.Context, visitorID, email, password string) (domain.Identity, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return domain.Absent(), err
	}

	account, err := s.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		return domain.Absent(), newError(CodeOther, err)
	}
	if account == nil {
		return domain.Absent(), ErrNotFound
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return domain.Absent(), ErrWrongPassword
		}
		return domain.Absent(), newError(CodeOther, err)
	}

	identity := account.Identity()
	if err := s.signIn(ctx, visitorID, identity); err != nil {
		return domain.Absent(), err
	}
	return identity, nil
}

// SignOut clears the identity on visitorID.
func (s *Service) SignOut(ctx context.Context, visitorID string) error {
	if err := s.accounts.DeleteDeviceSession(ctx, visitorID); err != nil {
		return newError(CodeOther, err)
	}
	s.notify(visitorID, domain.Absent())
	return nil
}

func (s *Service) signIn(ctx context.Context, visitorID string, identity domain.Identity) error {
	if err := s.accounts.SetDeviceSession(ctx, visitorID, identity.ID); err != nil {
		return newError(CodeOther, err)
	}
	s.notify(visitorID, identity)
	return nil
}

func (s *Service) notify(visitorID string, identity domain.Identity) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	listeners := make([]func(domain.Identity), 0, len(s.subs[visitorID]))
	for _, fn := range s.subs[visitorID] {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(identity)
	}
}

func normalizeEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(email), nil
}

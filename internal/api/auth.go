package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alphatech-ng/alphatech-site/internal/auth"
	"github.com/alphatech-ng/alphatech-site/internal/banner"
	"github.com/alphatech-ng/alphatech-site/internal/domain"
	"github.com/alphatech-ng/alphatech-site/internal/identity"
)

// Form copy shown inline on the auth forms.
const (
	msgPasswordsMismatch   = "Passwords do not match"
	msgPasswordTooShort    = "Password must be at least 6 characters"
	msgRegistered          = "Registration successful! Welcome to Alpha Tech"
	msgEmailInUse          = "Email already in use"
	msgInvalidEmail        = "Invalid email address"
	msgRegistrationFailed  = "Registration failed"
	msgEmailNotFound       = "Email not found. Please register first."
	msgIncorrectPassword   = "Incorrect password"
	msgLoginFailed         = "Login failed. Please try again."
	msgLoginSucceeded      = "Login successful! Redirecting..."
	msgAdminInvalid        = "Invalid email or password"
	msgAdminLoginNotActive = "admin login is not open"
)

// isoMillis matches the createdAt format stored at registration.
const isoMillis = "2006-01-02T15:04:05.000Z"

// AuthHandler handles registration and sign-in.
type AuthHandler struct {
	*Handler
	auth *auth.Service
}

// NewAuthHandler creates an auth handler.
func NewAuthHandler(base *Handler, svc *auth.Service) *AuthHandler {
	return &AuthHandler{Handler: base, auth: svc}
}

// RegisterRoutes registers auth routes.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/admin/login", h.AdminLogin)
		r.Get("/stats", h.Stats)
	})
}

type registerRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// formError shows msg on the form's banner and writes it as the response.
func formError(w http.ResponseWriter, board *banner.Board, form string, status int, msg string) {
	board.Show(form, banner.KindError, msg)
	Error(w, status, msg)
}

// Register creates an account, signs the device in and writes the profile.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	visitorID := identity.VisitorIDFromContext(ctx)
	sessionID := identity.SessionIDFromContext(ctx)

	unlock, ok := h.forms.tryLock(visitorID, sessionID, banner.FormRegister)
	if !ok {
		Error(w, http.StatusConflict, "submission_in_progress")
		return
	}
	defer unlock()

	var req registerRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	sess := h.session(r)
	if req.Password != req.ConfirmPassword {
		formError(w, sess.Banners, banner.FormRegister, http.StatusBadRequest, msgPasswordsMismatch)
		return
	}
	if len(req.Password) < auth.MinPasswordLength {
		formError(w, sess.Banners, banner.FormRegister, http.StatusBadRequest, msgPasswordTooShort)
		return
	}

	id, err := h.auth.CreateAccount(ctx, visitorID, req.Email, req.Password)
	if err != nil {
		status, msg := registrationError(err)
		slog.Warn("Registration failed", "visitor_id", visitorID, "code", auth.CodeOf(err), "error", err)
		formError(w, sess.Banners, banner.FormRegister, status, msg)
		return
	}

	profile := &domain.Profile{
		UserID:    id.ID,
		Name:      strings.TrimSpace(req.Name),
		Email:     id.Email,
		CreatedAt: time.Now().UTC().Format(isoMillis),
	}
	if err := h.profiles.WriteProfile(ctx, profile); err != nil {
		slog.Error("Failed to write profile", "visitor_id", visitorID, "user_id", id.ID, "error", err)
		formError(w, sess.Banners, banner.FormRegister, http.StatusInternalServerError, msgRegistrationFailed)
		return
	}

	sess.Banners.Show(banner.FormRegister, banner.KindSuccess, msgRegistered)
	JSON(w, http.StatusCreated, map[string]any{
		"identity": id,
		"message":  msgRegistered,
		"state":    viewState(sess),
	})
}

func registrationError(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrEmailInUse):
		return http.StatusConflict, msgEmailInUse
	case errors.Is(err, auth.ErrInvalidEmail):
		return http.StatusBadRequest, msgInvalidEmail
	case errors.Is(err, auth.ErrWeakPassword):
		return http.StatusBadRequest, msgPasswordTooShort
	default:
		return http.StatusInternalServerError, msgRegistrationFailed
	}
}

// Login signs a regular user in and opens the profile screen.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	visitorID := identity.VisitorIDFromContext(ctx)
	sessionID := identity.SessionIDFromContext(ctx)

	unlock, ok := h.forms.tryLock(visitorID, sessionID, banner.FormUserLogin)
	if !ok {
		Error(w, http.StatusConflict, "submission_in_progress")
		return
	}
	defer unlock()

	var req credentialsRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	sess := h.session(r)
	id, err := h.auth.SignIn(ctx, visitorID, req.Email, req.Password)
	if err != nil {
		status, msg := loginError(err)
		slog.Info("User login failed", "visitor_id", visitorID, "code", auth.CodeOf(err))
		formError(w, sess.Banners, banner.FormUserLogin, status, msg)
		return
	}

	sess.View.OnUserLoginSucceeded()
	sess.Banners.Show(banner.FormUserLogin, banner.KindSuccess, msgLoginSucceeded)
	JSON(w, http.StatusOK, map[string]any{
		"identity": id,
		"message":  msgLoginSucceeded,
		"state":    viewState(sess),
	})
}

func loginError(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrNotFound):
		return http.StatusNotFound, msgEmailNotFound
	case errors.Is(err, auth.ErrWrongPassword):
		return http.StatusUnauthorized, msgIncorrectPassword
	case errors.Is(err, auth.ErrInvalidEmail):
		return http.StatusBadRequest, msgInvalidEmail
	default:
		return http.StatusInternalServerError, msgLoginFailed
	}
}

// AdminLogin signs in from the admin login screen and promotes the tab to
// Admin. Any signed-in identity reaching this path is treated as admin.
func (h *AuthHandler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	visitorID := identity.VisitorIDFromContext(ctx)
	sessionID := identity.SessionIDFromContext(ctx)

	unlock, ok := h.forms.tryLock(visitorID, sessionID, banner.FormAdminLogin)
	if !ok {
		Error(w, http.StatusConflict, "submission_in_progress")
		return
	}
	defer unlock()

	var req credentialsRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	sess := h.session(r)
	if sess.View.Screen() != domain.ScreenAdminLogin {
		Error(w, http.StatusConflict, msgAdminLoginNotActive)
		return
	}

	if _, err := h.auth.SignIn(ctx, visitorID, req.Email, req.Password); err != nil {
		slog.Info("Admin login failed", "visitor_id", visitorID, "code", auth.CodeOf(err))
		formError(w, sess.Banners, banner.FormAdminLogin, http.StatusUnauthorized, msgAdminInvalid)
		return
	}

	sess.View.OnAdminLoginSucceeded()
	slog.Info("Admin area opened", "visitor_id", visitorID, "session_id", sessionID)
	JSON(w, http.StatusOK, viewState(sess))
}

// Stats returns the number of registered profiles.
func (h *AuthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	n, err := h.profiles.CountProfiles(r.Context())
	if err != nil {
		slog.Error("Failed to count profiles", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	JSON(w, http.StatusOK, map[string]int{"registered": n})
}

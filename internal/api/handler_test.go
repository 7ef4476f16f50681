//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/alphatech-ng/alphatech-site/internal/agent"
	"github.com/alphatech-ng/alphatech-site/internal/auth"
	"github.com/alphatech-ng/alphatech-site/internal/catalog"
	"github.com/alphatech-ng/alphatech-site/internal/chat"
	"github.com/alphatech-ng/alphatech-site/internal/config"
	"github.com/alphatech-ng/alphatech-site/internal/domain"
	"github.com/alphatech-ng/alphatech-site/internal/identity"
	"github.com/alphatech-ng/alphatech-site/internal/store"
	"github.com/alphatech-ng/alphatech-site/internal/view"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusTeapot, "short and stout")

	if w.Code != http.StatusTeapot {
		t.Fatalf("Expected status 418, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Expected JSON content type, got %q", ct)
	}
	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["error"] != "short and stout" {
		t.Fatalf("unexpected error body: %v", got)
	}
}

// replyGenerator answers every prompt with a fixed text.
type replyGenerator struct {
	mu      sync.Mutex
	text    string
	prompts []string
}

func (g *replyGenerator) Generate(_ context.Context, req agent.GenerateRequest) (*agent.GenerateResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, req.Prompt)
	return &agent.GenerateResponse{Text: g.text}, nil
}

func (g *replyGenerator) Close() error { return nil }

type testEnv struct {
	server    *httptest.Server
	repo      *store.SQLiteStore
	views     *view.Registry
	generator *replyGenerator
}

func testConfig() *config.Config {
	return &config.Config{
		BannerDelay:    time.Minute,
		SessionIdleTTL: time.Hour,
		SSE: config.SSEConfig{
			KeepaliveInterval:  time.Minute,
			RetryDelay:         time.Second,
			MaxRequestBodySize: 4096,
		},
		Timeout: config.TimeoutConfig{HealthCheck: time.Second},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithProfiles(t, nil)
}

// newTestEnvWithProfiles serves profile documents from wrap(repo).
func newTestEnvWithProfiles(t *testing.T, wrap func(*store.SQLiteStore) store.ProfileStore) *testEnv {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "site.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	cat, err := catalog.Load()
	if err != nil {
		t.Fatalf("catalog.Load failed: %v", err)
	}

	cfg := testConfig()
	authSvc := auth.NewService(repo, auth.Options{BcryptCost: bcrypt.MinCost})
	views := view.NewRegistry(authSvc, cfg.BannerDelay)
	t.Cleanup(views.Close)

	gen := &replyGenerator{text: "Our fees depend on the program."}
	chats := chat.NewRegistry(gen, chat.Options{Model: "test-model", RequestTimeout: time.Second})
	limiter := NewRateLimiter(3, time.Minute)
	t.Cleanup(limiter.Stop)

	var profiles store.ProfileStore
	if wrap != nil {
		profiles = wrap(repo)
	}
	base := NewHandler(repo, profiles, views, cfg)

	r := chi.NewRouter()
	r.Use(identity.Middleware(repo, true))
	NewHealthHandler(repo, nil, cfg).RegisterHealth(r)
	NewSiteHandler(base, cat).RegisterRoutes(r)
	NewAuthHandler(base, authSvc).RegisterRoutes(r)
	NewViewHandler(base).RegisterRoutes(r)
	NewProfileHandler(base).RegisterRoutes(r)
	NewChatHandler(base, chats, limiter).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, repo: repo, views: views, generator: gen}
}

// device is one browser: a cookie jar shared by its tabs.
type device struct {
	t      *testing.T
	env    *testEnv
	client *http.Client
}

func (e *testEnv) newDevice(t *testing.T) *device {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New failed: %v", err)
	}
	return &device{t: t, env: e, client: &http.Client{Jar: jar}}
}

func (d *device) request(tab, method, path string, body any) *http.Request {
	d.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			d.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, d.env.server.URL+path, reader)
	if err != nil {
		d.t.Fatalf("NewRequest failed: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(identity.SessionHeaderName, tab)
	return req
}

// do sends a request from tab and decodes the JSON response into out.
func (d *device) do(tab, method, path string, body, out any) int {
	d.t.Helper()
	resp, err := d.client.Do(d.request(tab, method, path, body))
	if err != nil {
		d.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			d.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

type stateBody struct {
	View struct {
		Screen   string `json:"screen"`
		Role     string `json:"role"`
		Identity struct {
			ID      string `json:"id"`
			Email   string `json:"email"`
			Present bool   `json:"present"`
		} `json:"identity"`
	} `json:"view"`
	Banners []struct {
		Form string `json:"form"`
		Kind string `json:"kind"`
		Text string `json:"text"`
	} `json:"banners"`
}

func (d *device) state(tab string) stateBody {
	d.t.Helper()
	var st stateBody
	if code := d.do(tab, http.MethodGet, "/api/view/", nil, &st); code != http.StatusOK {
		d.t.Fatalf("GET /api/view/ returned %d", code)
	}
	return st
}

func (d *device) register(tab, name, email, password string) int {
	d.t.Helper()
	return d.do(tab, http.MethodPost, "/api/auth/register", map[string]string{
		"name": name, "email": email, "password": password, "confirm_password": password,
	}, &map[string]any{})
}

func TestRegisterSignsInAndShowsProfile(t *testing.T) {
	env := newTestEnv(t)
	dev := env.newDevice(t)

	var resp struct {
		Message string    `json:"message"`
		State   stateBody `json:"state"`
	}
	code := dev.do("tab1", http.MethodPost, "/api/auth/register", map[string]string{
		"name": "Ada Lovelace", "email": "Ada@Example.com", "password": "secret1", "confirm_password": "secret1",
	}, &resp)
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	if resp.Message != msgRegistered {
		t.Fatalf("unexpected message %q", resp.Message)
	}
	if resp.State.View.Screen != "user_profile" || resp.State.View.Role != "regular" {
		t.Fatalf("expected regular profile view, got %+v", resp.State.View)
	}

	var profile profileResponse
	if code := dev.do("tab1", http.MethodGet, "/api/profile", nil, &profile); code != http.StatusOK {
		t.Fatalf("GET /api/profile returned %d", code)
	}
	if !profile.Available || profile.Name != "Ada Lovelace" || profile.Email != "ada@example.com" {
		t.Fatalf("unexpected profile %+v", profile)
	}
	if _, err := time.Parse(isoMillis, profile.CreatedAt); err != nil {
		t.Fatalf("created_at %q not in millisecond ISO form: %v", profile.CreatedAt, err)
	}

	// Another tab on the same device sees the sign-in too.
	if st := dev.state("tab2"); st.View.Screen != "user_profile" {
		t.Fatalf("second tab expected user_profile, got %s", st.View.Screen)
	}

	var stats map[string]int
	dev.do("tab1", http.MethodGet, "/api/auth/stats", nil, &stats)
	if stats["registered"] != 1 {
		t.Fatalf("expected 1 registration, got %v", stats)
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	dev := env.newDevice(t)

	tests := []struct {
		name    string
		body    map[string]string
		status  int
		message string
	}{
		{
			name:    "passwords differ",
			body:    map[string]string{"name": "A", "email": "a@example.com", "password": "secret1", "confirm_password": "secret2"},
			status:  http.StatusBadRequest,
			message: msgPasswordsMismatch,
		},
		{
			name:    "short password",
			body:    map[string]string{"name": "A", "email": "a@example.com", "password": "abc", "confirm_password": "abc"},
			status:  http.StatusBadRequest,
			message: msgPasswordTooShort,
		},
		{
			name:    "bad email",
			body:    map[string]string{"name": "A", "email": "not-an-email", "password": "secret1", "confirm_password": "secret1"},
			status:  http.StatusBadRequest,
			message: msgInvalidEmail,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]string
			if code := dev.do("tab1", http.MethodPost, "/api/auth/register", tt.body, &body); code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, code)
			}
			if body["error"] != tt.message {
				t.Fatalf("expected %q, got %q", tt.message, body["error"])
			}

			st := dev.state("tab1")
			if st.View.Screen != "public_site" {
				t.Fatalf("failed registration changed the screen to %s", st.View.Screen)
			}
			if len(st.Banners) != 1 || st.Banners[0].Kind != "error" || st.Banners[0].Text != tt.message {
				t.Fatalf("expected error banner %q, got %+v", tt.message, st.Banners)
			}
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	if code := env.newDevice(t).register("tab1", "Ada", "ada@example.com", "secret1"); code != http.StatusCreated {
		t.Fatalf("first registration returned %d", code)
	}

	var body map[string]string
	code := env.newDevice(t).do("tab1", http.MethodPost, "/api/auth/register", map[string]string{
		"name": "Imposter", "email": "ADA@example.com", "password": "secret2", "confirm_password": "secret2",
	}, &body)
	if code != http.StatusConflict || body["error"] != msgEmailInUse {
		t.Fatalf("expected 409 %q, got %d %v", msgEmailInUse, code, body)
	}
}

func TestUserLoginFlow(t *testing.T) {
	env := newTestEnv(t)
	if code := env.newDevice(t).register("tab1", "Ada", "ada@example.com", "secret1"); code != http.StatusCreated {
		t.Fatalf("registration returned %d", code)
	}

	dev := env.newDevice(t)
	var st stateBody
	dev.do("tab1", http.MethodPost, "/api/view/login", nil, &st)
	if st.View.Screen != "user_login" {
		t.Fatalf("expected user_login, got %s", st.View.Screen)
	}

	var body map[string]string
	code := dev.do("tab1", http.MethodPost, "/api/auth/login", map[string]string{"email": "nobody@example.com", "password": "secret1"}, &body)
	if code != http.StatusNotFound || body["error"] != msgEmailNotFound {
		t.Fatalf("expected 404 %q, got %d %v", msgEmailNotFound, code, body)
	}

	code = dev.do("tab1", http.MethodPost, "/api/auth/login", map[string]string{"email": "ada@example.com", "password": "wrong-pw"}, &body)
	if code != http.StatusUnauthorized || body["error"] != msgIncorrectPassword {
		t.Fatalf("expected 401 %q, got %d %v", msgIncorrectPassword, code, body)
	}
	if dev.state("tab1").View.Screen != "user_login" {
		t.Fatal("failed login left the login screen")
	}

	var ok struct {
		Message string    `json:"message"`
		State   stateBody `json:"state"`
	}
	code = dev.do("tab1", http.MethodPost, "/api/auth/login", map[string]string{"email": "ada@example.com", "password": "secret1"}, &ok)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if ok.State.View.Screen != "user_profile" || ok.State.View.Role != "regular" {
		t.Fatalf("expected regular profile, got %+v", ok.State.View)
	}
	if ok.Message != msgLoginSucceeded {
		t.Fatalf("unexpected message %q", ok.Message)
	}

	// Logging out resets every tab on the device.
	dev.state("tab2")
	dev.do("tab1", http.MethodPost, "/api/view/logout", nil, &st)
	if st.View.Screen != "public_site" || st.View.Identity.Present {
		t.Fatalf("expected signed-out public site, got %+v", st.View)
	}
	if other := dev.state("tab2"); other.View.Screen != "public_site" {
		t.Fatalf("second tab still on %s after logout", other.View.Screen)
	}
	if code := dev.do("tab1", http.MethodGet, "/api/profile", nil, &body); code != http.StatusForbidden {
		t.Fatalf("expected profile to be closed after logout, got %d", code)
	}
}

func TestAdminLoginFlow(t *testing.T) {
	env := newTestEnv(t)
	if code := env.newDevice(t).register("tab1", "Ada", "ada@example.com", "secret1"); code != http.StatusCreated {
		t.Fatalf("registration returned %d", code)
	}

	dev := env.newDevice(t)
	creds := map[string]string{"email": "ada@example.com", "password": "secret1"}

	var body map[string]string
	if code := dev.do("tab1", http.MethodPost, "/api/auth/admin/login", creds, &body); code != http.StatusConflict {
		t.Fatalf("admin login outside the admin screen should be 409, got %d", code)
	}

	var st stateBody
	dev.do("tab1", http.MethodPost, "/api/view/admin", nil, &st)
	if st.View.Screen != "admin_login" {
		t.Fatalf("expected admin_login, got %s", st.View.Screen)
	}

	code := dev.do("tab1", http.MethodPost, "/api/auth/admin/login", map[string]string{"email": "ada@example.com", "password": "nope123"}, &body)
	if code != http.StatusUnauthorized || body["error"] != msgAdminInvalid {
		t.Fatalf("expected 401 %q, got %d %v", msgAdminInvalid, code, body)
	}

	if code := dev.do("tab1", http.MethodPost, "/api/auth/admin/login", creds, &st); code != http.StatusOK {
		t.Fatalf("admin login returned %d", code)
	}
	if st.View.Screen != "admin_dashboard" || st.View.Role != "admin" {
		t.Fatalf("expected admin dashboard, got %+v", st.View)
	}

	var list struct {
		Registrations []map[string]string `json:"registrations"`
		Total         int                 `json:"total"`
	}
	if code := dev.do("tab1", http.MethodGet, "/api/admin/registrations", nil, &list); code != http.StatusOK {
		t.Fatalf("GET registrations returned %d", code)
	}
	if list.Total != 1 || list.Registrations[0]["email"] != "ada@example.com" {
		t.Fatalf("unexpected registrations %+v", list)
	}

	if code := dev.do("tab1", http.MethodGet, "/api/profile", nil, &body); code != http.StatusForbidden {
		t.Fatalf("admin tab should not see the user profile, got %d", code)
	}
}

func TestRegistrationsClosedOutsideDashboard(t *testing.T) {
	env := newTestEnv(t)
	var body map[string]string
	if code := env.newDevice(t).do("tab1", http.MethodGet, "/api/admin/registrations", nil, &body); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestCreateLead(t *testing.T) {
	env := newTestEnv(t)
	dev := env.newDevice(t)

	tests := []struct {
		name   string
		body   map[string]string
		status int
	}{
		{"contact", map[string]string{"kind": "contact", "name": "Ada", "email": "ada@example.com", "phone": "+2348000000000", "message": "Hello"}, http.StatusCreated},
		{"training for an open program", map[string]string{"kind": "training", "program": "web development", "name": "Ada", "email": "ada@example.com", "phone": "0800"}, http.StatusCreated},
		{"training without a program", map[string]string{"kind": "training", "name": "Ada", "email": "ada@example.com", "phone": "0800"}, http.StatusCreated},
		{"coming soon program", map[string]string{"kind": "training", "program": "Cyber Security", "name": "Ada", "email": "ada@example.com", "phone": "0800"}, http.StatusConflict},
		{"unknown program", map[string]string{"kind": "training", "program": "Basket Weaving", "name": "Ada", "email": "ada@example.com", "phone": "0800"}, http.StatusBadRequest},
		{"unknown kind", map[string]string{"kind": "newsletter", "name": "Ada", "email": "ada@example.com", "phone": "0800"}, http.StatusBadRequest},
		{"missing phone", map[string]string{"kind": "contact", "name": "Ada", "email": "ada@example.com"}, http.StatusBadRequest},
		{"bad email", map[string]string{"kind": "contact", "name": "Ada", "email": "ada", "phone": "0800"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]any
			if code := dev.do("tab1", http.MethodPost, "/api/leads", tt.body, &body); code != tt.status {
				t.Fatalf("expected %d, got %d (%v)", tt.status, code, body)
			}
		})
	}

	leads, err := env.repo.ListLeads(context.Background())
	if err != nil {
		t.Fatalf("ListLeads failed: %v", err)
	}
	if len(leads) != 3 {
		t.Fatalf("expected 3 stored leads, got %d", len(leads))
	}
	for _, lead := range leads {
		if lead.Kind == "training" && lead.Program != "" && lead.Program != "Web Development" {
			t.Fatalf("program title not canonicalized: %q", lead.Program)
		}
	}

	st := dev.state("tab1")
	if len(st.Banners) != 1 || st.Banners[0].Form != "lead" || st.Banners[0].Kind != "success" {
		t.Fatalf("expected lead success banner, got %+v", st.Banners)
	}
}

func TestDismissBanner(t *testing.T) {
	env := newTestEnv(t)
	dev := env.newDevice(t)
	dev.do("tab1", http.MethodPost, "/api/auth/register", map[string]string{
		"name": "A", "email": "a@example.com", "password": "x", "confirm_password": "y",
	}, &map[string]string{})

	if code := dev.do("tab1", http.MethodDelete, "/api/view/banners/register", nil, nil); code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", code)
	}
	if st := dev.state("tab1"); len(st.Banners) != 0 {
		t.Fatalf("banner still shown: %+v", st.Banners)
	}
	if code := dev.do("tab1", http.MethodDelete, "/api/view/banners/register", nil, &map[string]string{}); code != http.StatusNotFound {
		t.Fatalf("expected 404 for a dismissed banner, got %d", code)
	}
	if code := dev.do("tab1", http.MethodDelete, "/api/view/banners/bogus", nil, &map[string]string{}); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown form, got %d", code)
	}
}

func TestRequestBodyTooLarge(t *testing.T) {
	env := newTestEnv(t)
	dev := env.newDevice(t)

	var body map[string]string
	huge := map[string]string{"text": strings.Repeat("a", 8192)}
	if code := dev.do("tab1", http.MethodPut, "/api/chat/draft", huge, &body); code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", code)
	}
}

type chatBody struct {
	Transcript []struct {
		Role string `json:"role"`
		Text string `json:"text"`
	} `json:"transcript"`
	AwaitingResponse bool   `json:"awaiting_response"`
	Draft            string `json:"draft"`
}

func TestChatSubmit(t *testing.T) {
	env := newTestEnv(t)
	dev := env.newDevice(t)

	var st chatBody
	dev.do("tab1", http.MethodPut, "/api/chat/draft", map[string]string{"text": "Training Fees"}, &st)
	if st.Draft != "Training Fees" {
		t.Fatalf("draft not set: %+v", st)
	}

	var resp struct {
		Accepted bool     `json:"accepted"`
		State    chatBody `json:"state"`
	}
	if code := dev.do("tab1", http.MethodPost, "/api/chat/messages", map[string]string{"text": "Training Fees"}, &resp); code != http.StatusOK {
		t.Fatalf("submit returned %d", code)
	}
	if !resp.Accepted || len(resp.State.Transcript) != 2 {
		t.Fatalf("unexpected submit result %+v", resp)
	}
	if resp.State.Transcript[0].Role != "user" || resp.State.Transcript[1].Text != "Our fees depend on the program." {
		t.Fatalf("unexpected transcript %+v", resp.State.Transcript)
	}
	if resp.State.Draft != "" || resp.State.AwaitingResponse {
		t.Fatalf("expected cleared draft and idle session, got %+v", resp.State)
	}

	if len(env.generator.prompts) != 1 || env.generator.prompts[0] != "Training Fees" {
		t.Fatalf("unexpected prompts %v", env.generator.prompts)
	}

	dev.do("tab1", http.MethodPost, "/api/chat/messages", map[string]string{"text": "   "}, &resp)
	if resp.Accepted || len(resp.State.Transcript) != 2 {
		t.Fatalf("blank message should be ignored, got %+v", resp)
	}

	// Tabs have separate transcripts; reopening starts over.
	dev.do("tab2", http.MethodGet, "/api/chat/", nil, &st)
	if len(st.Transcript) != 0 {
		t.Fatalf("second tab should start empty, got %+v", st)
	}
	dev.do("tab1", http.MethodPost, "/api/chat/open", nil, &st)
	if len(st.Transcript) != 0 {
		t.Fatalf("reopened chat should be empty, got %+v", st)
	}
}

func TestChatRateLimitIsPerVisitor(t *testing.T) {
	env := newTestEnv(t)
	dev := env.newDevice(t)

	for i, tab := range []string{"tab1", "tab2", "tab3"} {
		var resp map[string]any
		if code := dev.do(tab, http.MethodPost, "/api/chat/messages", map[string]string{"text": "hi"}, &resp); code != http.StatusOK {
			t.Fatalf("request %d returned %d", i, code)
		}
	}
	var body map[string]string
	if code := dev.do("tab4", http.MethodPost, "/api/chat/messages", map[string]string{"text": "hi"}, &body); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after the limit, got %d", code)
	}

	var resp map[string]any
	if code := env.newDevice(t).do("tab1", http.MethodPost, "/api/chat/messages", map[string]string{"text": "hi"}, &resp); code != http.StatusOK {
		t.Fatalf("another device should not be limited, got %d", code)
	}
}

func TestGetSite(t *testing.T) {
	env := newTestEnv(t)
	var site struct {
		Company  string `json:"company"`
		Programs []struct {
			Title  string `json:"title"`
			Status string `json:"status"`
		} `json:"programs"`
	}
	if code := env.newDevice(t).do("tab1", http.MethodGet, "/api/site", nil, &site); code != http.StatusOK {
		t.Fatalf("GET /api/site returned %d", code)
	}
	if site.Company != "Alpha Tech" || len(site.Programs) != 6 {
		t.Fatalf("unexpected catalog %+v", site)
	}
}

func TestViewStreamPushesChanges(t *testing.T) {
	env := newTestEnv(t)
	dev := env.newDevice(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req := dev.request("tab1", http.MethodGet, "/api/view/stream", nil).WithContext(ctx)
	resp, err := dev.client.Do(req)
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	events := newSSEReader(resp.Body)
	event, data := events.next(t)
	if event != "connected" {
		t.Fatalf("expected connected event, got %q", event)
	}
	var st stateBody
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		t.Fatalf("decode connected payload: %v", err)
	}
	if st.View.Screen != "public_site" {
		t.Fatalf("expected public_site, got %s", st.View.Screen)
	}

	sess, ok := env.views.Get(identityOf(t, dev), "tab1")
	if !ok {
		t.Fatal("stream did not mount a view session")
	}
	if sess.View.Screen() != "public_site" {
		t.Fatalf("unexpected mounted screen %s", sess.View.Screen())
	}

	dev.do("tab1", http.MethodPost, "/api/view/login", nil, &stateBody{})

	event, data = events.next(t)
	if event != "view" {
		t.Fatalf("expected view event, got %q", event)
	}
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		t.Fatalf("decode view payload: %v", err)
	}
	if st.View.Screen != "user_login" {
		t.Fatalf("expected user_login, got %s", st.View.Screen)
	}
}

// identityOf returns the visitor ID the server assigned to the device.
func identityOf(t *testing.T, d *device) string {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, d.env.server.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range d.client.Jar.Cookies(req.URL) {
		if c.Name == identity.VisitorCookieName {
			return c.Value
		}
	}
	t.Fatal("no visitor cookie")
	return ""
}

type sseReader struct {
	lines chan string
}

func newSSEReader(r io.Reader) *sseReader {
	s := &sseReader{lines: make(chan string, 64)}
	go func() {
		defer close(s.lines)
		buf := make([]byte, 4096)
		var pending string
		for {
			n, err := r.Read(buf)
			pending += string(buf[:n])
			for {
				i := strings.IndexByte(pending, '\n')
				if i < 0 {
					break
				}
				s.lines <- pending[:i]
				pending = pending[i+1:]
			}
			if err != nil {
				return
			}
		}
	}()
	return s
}

// next returns the next named event, skipping keepalives and the retry hint.
func (s *sseReader) next(t *testing.T) (string, string) {
	t.Helper()
	var event, data string
	timeout := time.After(3 * time.Second)
	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				t.Fatal("stream closed")
			}
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && event != "":
				if event == "ping" {
					event, data = "", ""
					continue
				}
				return event, data
			}
		case <-timeout:
			t.Fatal("timed out waiting for SSE event")
		}
	}
}

type failingGeneration struct{}

func (failingGeneration) Health(context.Context) error { return io.ErrUnexpectedEOF }

func TestHealthDegradesOnGenerationFailure(t *testing.T) {
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "site.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	defer repo.Close()

	h := NewHealthHandler(repo, failingGeneration{}, testConfig())
	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("generation failure should not fail health, got %d", w.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "degraded" || body.Checks["generation"] != "unavailable" || body.Checks["database"] != "ok" {
		t.Fatalf("unexpected health body %+v", body)
	}

	_ = repo.Close()
	w = httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("closed database should fail health, got %d", w.Code)
	}
}

func TestCloseTabReleasesSessions(t *testing.T) {
	env := newTestEnv(t)
	dev := env.newDevice(t)

	dev.state("tab1")
	dev.do("tab1", http.MethodPut, "/api/chat/draft", map[string]string{"text": "Contact CEO"}, &chatBody{})
	visitorID := identityOf(t, dev)
	if _, ok := env.views.Get(visitorID, "tab1"); !ok {
		t.Fatal("view session should be mounted")
	}

	if code := dev.do("tab1", http.MethodPost, "/api/tab/close", nil, nil); code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", code)
	}
	if _, ok := env.views.Get(visitorID, "tab1"); ok {
		t.Fatal("view session should be released")
	}

	var st chatBody
	dev.do("tab1", http.MethodGet, "/api/chat/", nil, &st)
	if st.Draft != "" {
		t.Fatalf("chat session should start over, got draft %q", st.Draft)
	}
}

// stubProfiles answers ReadProfile with a fixed result and passes everything
// else through.
type stubProfiles struct {
	store.ProfileStore
	profile *domain.Profile
	err     error
}

func (s stubProfiles) ReadProfile(context.Context, string) (*domain.Profile, error) {
	return s.profile, s.err
}

func TestGetProfileRendersPlaceholders(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"read fails", errors.New("profile backend unavailable")},
		{"no profile record", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnvWithProfiles(t, func(repo *store.SQLiteStore) store.ProfileStore {
				return stubProfiles{ProfileStore: repo, err: tt.err}
			})
			dev := env.newDevice(t)

			if code := dev.register("tab1", "Ada Lovelace", "ada@example.com", "secret1"); code != http.StatusCreated {
				t.Fatalf("register returned %d", code)
			}
			userID := dev.state("tab1").View.Identity.ID

			var profile profileResponse
			if code := dev.do("tab1", http.MethodGet, "/api/profile", nil, &profile); code != http.StatusOK {
				t.Fatalf("expected 200, got %d", code)
			}
			if profile.Available {
				t.Fatal("profile should not be available")
			}
			if profile.Name != notAvailable || profile.CreatedAt != notAvailable {
				t.Fatalf("expected placeholders, got %+v", profile)
			}
			if profile.UserID != userID || profile.Email != "ada@example.com" {
				t.Fatalf("identity fields should still render, got %+v", profile)
			}
			if st := dev.state("tab1"); st.View.Screen != "user_profile" {
				t.Fatalf("screen should stay user_profile, got %s", st.View.Screen)
			}
		})
	}
}

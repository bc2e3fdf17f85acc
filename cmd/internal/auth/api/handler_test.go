package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/crypto/bcrypt"

	"userauth/cmd/identity"
	"userauth/cmd/internal/auth/session"
	"userauth/cmd/security/password"
	"userauth/cmd/security/token"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testEnv struct {
	h      *Handler
	mux    *http.ServeMux
	store  identity.Store
	events *prometheus.CounterVec
	now    time.Time
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, cfg, identity.NewMemoryStore())
}

func newTestEnvWithStore(t *testing.T, cfg Config, store identity.Store) *testEnv {
	t.Helper()

	hasher := password.DefaultConfig()
	hasher.Cost = bcrypt.MinCost

	creds, err := identity.NewCredentials(store, hasher)
	if err != nil {
		t.Fatalf("NewCredentials: %v", err)
	}
	mgr, err := session.NewJWTManager(token.Config{Secret: testSecret, TTL: token.DefaultTTL})
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}

	env := &testEnv{
		store:  store,
		events: NewEventCounter(),
		now:    time.Now().UTC(),
	}
	env.h, err = NewHandler(
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		cfg,
		creds,
		session.NewService(store, mgr),
		WithEventCounter(env.events),
		WithClock(func() time.Time { return env.now }),
	)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	env.mux = http.NewServeMux()
	env.h.Register(env.mux)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = "203.0.113.7:40000"
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) register(t *testing.T, name, email, pw string) authResponse {
	t.Helper()

	rec := e.do(t, http.MethodPost, "/api/users", "", map[string]any{"name": name, "email": email, "password": pw})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status=%d body=%s", rec.Code, rec.Body.String())
	}
	return decodeRecBody[authResponse](t, rec)
}

func (e *testEnv) login(t *testing.T, email, pw string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, "/api/users/login", "", map[string]any{"email": email, "password": pw})
}

func (e *testEnv) tokens(t *testing.T, email string) []string {
	t.Helper()

	u, err := e.store.GetUserByEmail(context.Background(), identity.NormalizeEmail(email))
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	return u.Tokens
}

func decodeRecBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v (body=%s)", v, err, rec.Body.String())
	}
	return v
}

func assertErrorMsg(t *testing.T, rec *httptest.ResponseRecorder, status int, msg string) {
	t.Helper()

	if rec.Code != status {
		t.Fatalf("status: got %d want %d (body=%s)", rec.Code, status, rec.Body.String())
	}
	body := decodeRecBody[errorResponse](t, rec)
	if len(body.Errors) != 1 || body.Errors[0].Msg != msg {
		t.Fatalf("errors: got %+v want msg %q", body.Errors, msg)
	}
}

func TestNewHandler_RequiresDeps(t *testing.T) {
	if _, err := NewHandler(nil, DefaultConfig(), nil, nil); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}

func TestRegister_ReturnsUserAndToken(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	rec := env.do(t, http.MethodPost, "/api/users", "", map[string]any{
		"name": "Ann", "email": "a@x.com", "password": "secret",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	var raw map[string]map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &raw)
	if _, leaked := raw["user"]["password"]; leaked {
		t.Fatalf("password leaked in response: %s", rec.Body.String())
	}
	if _, leaked := raw["user"]["tokens"]; leaked {
		t.Fatalf("token list leaked in response: %s", rec.Body.String())
	}

	body := decodeRecBody[authResponse](t, rec)
	if body.Token == "" || body.User.ID == "" || body.User.Name != "Ann" || body.User.Email != "a@x.com" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if toks := env.tokens(t, "a@x.com"); len(toks) != 1 || toks[0] != body.Token {
		t.Fatalf("stored tokens: %v", toks)
	}
	if got := testutil.ToFloat64(env.events.WithLabelValues(eventRegisterSuccess)); got != 1 {
		t.Fatalf("register events: got %v", got)
	}
}

func TestRegister_PasswordPair(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	rec := env.do(t, http.MethodPost, "/api/users", "", map[string]any{
		"name": "Ann", "email": "a@x.com", "password1": "secret1", "password2": "secret1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("matching pair: status=%d body=%s", rec.Code, rec.Body.String())
	}
	if lr := env.login(t, "a@x.com", "secret1"); lr.Code != http.StatusOK {
		t.Fatalf("login with password1: status=%d", lr.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/users", "", map[string]any{
		"name": "Bob", "email": "b@x.com", "password1": "secret1", "password2": "secret2",
	})
	assertErrorMsg(t, rec, http.StatusInternalServerError, msgPasswordMismatch)
}

func TestRegister_ValidationErrors(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	rec := env.do(t, http.MethodPost, "/api/users", "", map[string]any{
		"name": "", "email": "nope", "password": "123",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	body := decodeRecBody[errorResponse](t, rec)
	want := map[string]string{
		"name":     "Name is required",
		"email":    "Please include a valid email",
		"password": "Please enter a password with 6 or more characters",
	}
	if len(body.Errors) != len(want) {
		t.Fatalf("errors: %+v", body.Errors)
	}
	for _, e := range body.Errors {
		if want[e.Field] != e.Msg {
			t.Fatalf("field %q: got %q want %q", e.Field, e.Msg, want[e.Field])
		}
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.register(t, "Ann", "a@x.com", "secret")

	rec := env.do(t, http.MethodPost, "/api/users", "", map[string]any{
		"name": "Ann Again", "email": "A@X.com", "password": "secret",
	})
	assertErrorMsg(t, rec, http.StatusInternalServerError, msgUserExists)
}

func TestRegister_BadBody(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	for name, body := range map[string]string{
		"not json":      "{",
		"trailing data": `{"name":"A","email":"a@x.com","password":"secret"} {}`,
	} {
		rec := env.do(t, http.MethodPost, "/api/users", "", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d", name, rec.Code)
		}
	}
}

func TestRegister_IgnoresUnknownFields(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	rec := env.do(t, http.MethodPost, "/api/users", "",
		`{"name":"A","email":"a@x.com","password":"secret","avatar":"x.png","terms":true}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	// Login stays strict.
	rec = env.do(t, http.MethodPost, "/api/users/login", "",
		`{"email":"a@x.com","password":"secret","remember":true}`)
	assertErrorMsg(t, rec, http.StatusBadRequest, msgInvalidBody)
}

func TestLogin_AppendsExactlyOneToken(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.register(t, "Ann", "a@x.com", "secret")

	rec := env.login(t, "a@x.com", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeRecBody[authResponse](t, rec)
	if body.Msg != msgLoggedIn || body.Token == "" {
		t.Fatalf("unexpected body: %+v", body)
	}

	toks := env.tokens(t, "a@x.com")
	if len(toks) != 2 || toks[1] != body.Token {
		t.Fatalf("expected 2 tokens ending with the new one, got %v", toks)
	}
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.register(t, "Ann", "a@x.com", "secret")

	wrongPw := env.login(t, "a@x.com", "not-the-password")
	unknown := env.login(t, "nobody@x.com", "secret")

	assertErrorMsg(t, wrongPw, http.StatusInternalServerError, msgBadCredentials)
	assertErrorMsg(t, unknown, http.StatusInternalServerError, msgBadCredentials)
	if wrongPw.Body.String() != unknown.Body.String() {
		t.Fatalf("bodies differ: %q vs %q", wrongPw.Body.String(), unknown.Body.String())
	}

	if toks := env.tokens(t, "a@x.com"); len(toks) != 1 {
		t.Fatalf("failed login changed token list: %v", toks)
	}
	if got := testutil.ToFloat64(env.events.WithLabelValues(eventLoginFailed)); got != 2 {
		t.Fatalf("login failed events: got %v", got)
	}
}

func TestLogin_Validation(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	rec := env.do(t, http.MethodPost, "/api/users/login", "", map[string]any{"email": "bad"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeRecBody[errorResponse](t, rec)
	if len(body.Errors) != 2 ||
		body.Errors[0].Field != "email" || body.Errors[0].Msg != "Please include a valid email" ||
		body.Errors[1].Field != "password" || body.Errors[1].Msg != "Password is required" {
		t.Fatalf("errors: %+v", body.Errors)
	}

	if rec := env.do(t, http.MethodGet, "/api/users/login", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET login: status=%d", rec.Code)
	}
}

func TestLogin_RateLimitedPerIP(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LoginIPMax = 2
	cfg.LoginIPWindow = time.Minute
	env := newTestEnv(t, cfg)
	env.register(t, "Ann", "a@x.com", "secret")

	for i := 0; i < 2; i++ {
		if rec := env.login(t, "a@x.com", "wrong-pass"); rec.Code != http.StatusInternalServerError {
			t.Fatalf("attempt %d: status=%d", i, rec.Code)
		}
	}

	// Even the right password is refused while throttled.
	rec := env.login(t, "a@x.com", "secret")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("Retry-After: %q", rec.Header().Get("Retry-After"))
	}
	if got := testutil.ToFloat64(env.events.WithLabelValues(eventLoginRateLimited)); got != 1 {
		t.Fatalf("rate limited events: got %v", got)
	}

	env.now = env.now.Add(time.Minute + time.Second)
	if rec := env.login(t, "a@x.com", "secret"); rec.Code != http.StatusOK {
		t.Fatalf("after window: status=%d", rec.Code)
	}
}

func TestMe(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	reg := env.register(t, "Ann", "a@x.com", "secret")

	rec := env.do(t, http.MethodGet, "/api/users", reg.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	me := decodeRecBody[userResponse](t, rec)
	if me.ID != reg.User.ID || me.Email != "a@x.com" {
		t.Fatalf("unexpected user: %+v", me)
	}

	// x-auth-token fallback.
	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set("x-auth-token", reg.Token)
	rec = httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("x-auth-token: status=%d", rec.Code)
	}
}

func TestAuthGate(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	reg := env.register(t, "Ann", "a@x.com", "secret")

	assertErrorMsg(t, env.do(t, http.MethodGet, "/api/users", "", nil), http.StatusUnauthorized, msgNoToken)
	assertErrorMsg(t, env.do(t, http.MethodGet, "/api/users", "garbage", nil), http.StatusUnauthorized, msgInvalidToken)

	env.now = env.now.Add(48*time.Hour + time.Second)
	assertErrorMsg(t, env.do(t, http.MethodGet, "/api/users", reg.Token, nil), http.StatusUnauthorized, msgInvalidToken)
}

func TestLogout_InvalidatesOnlyThatToken(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	reg := env.register(t, "Ann", "a@x.com", "secret")
	latest := decodeRecBody[authResponse](t, env.login(t, "a@x.com", "secret")).Token

	rec := env.do(t, http.MethodPost, "/api/users/logout", latest, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if body := decodeRecBody[msgResponse](t, rec); body.Msg != msgLoggedOut {
		t.Fatalf("msg: %q", body.Msg)
	}

	assertErrorMsg(t, env.do(t, http.MethodGet, "/api/users", latest, nil), http.StatusUnauthorized, msgInvalidToken)
	if rec := env.do(t, http.MethodGet, "/api/users", reg.Token, nil); rec.Code != http.StatusOK {
		t.Fatalf("other token must stay valid: status=%d", rec.Code)
	}
	if toks := env.tokens(t, "a@x.com"); len(toks) != 1 || toks[0] != reg.Token {
		t.Fatalf("stored tokens: %v", toks)
	}
}

func TestLogoutAll(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	reg := env.register(t, "Ann", "a@x.com", "secret")
	other := decodeRecBody[authResponse](t, env.login(t, "a@x.com", "secret")).Token

	rec := env.do(t, http.MethodPost, "/api/users/logoutAll", reg.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	for _, tok := range []string{reg.Token, other} {
		assertErrorMsg(t, env.do(t, http.MethodGet, "/api/users", tok, nil), http.StatusUnauthorized, msgInvalidToken)
	}
	if toks := env.tokens(t, "a@x.com"); len(toks) != 0 {
		t.Fatalf("stored tokens: %v", toks)
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	reg := env.register(t, "Ann", "a@x.com", "secret")

	rec := env.do(t, http.MethodPost, "/api/users/password", reg.Token, map[string]any{
		"currentPassword": "wrong-one", "newPassword": "secret2",
	})
	assertErrorMsg(t, rec, http.StatusInternalServerError, msgBadCredentials)

	rec = env.do(t, http.MethodPost, "/api/users/password", reg.Token, map[string]any{
		"currentPassword": "secret", "newPassword": "abc",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("short password: status=%d", rec.Code)
	}
	if body := decodeRecBody[errorResponse](t, rec); len(body.Errors) != 1 || body.Errors[0].Field != "newPassword" {
		t.Fatalf("errors: %+v", body.Errors)
	}

	rec = env.do(t, http.MethodPost, "/api/users/password", reg.Token, map[string]any{
		"currentPassword": "secret", "newPassword": "secret2",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeRecBody[authResponse](t, rec)

	assertErrorMsg(t, env.do(t, http.MethodGet, "/api/users", reg.Token, nil), http.StatusUnauthorized, msgInvalidToken)
	if rec := env.do(t, http.MethodGet, "/api/users", body.Token, nil); rec.Code != http.StatusOK {
		t.Fatalf("new token rejected: status=%d", rec.Code)
	}
	if rec := env.login(t, "a@x.com", "secret2"); rec.Code != http.StatusOK {
		t.Fatalf("login with new password: status=%d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	for _, tc := range []struct{ method, path string }{
		{http.MethodDelete, "/api/users"},
		{http.MethodGet, "/api/users/logout"},
		{http.MethodGet, "/api/users/logoutAll"},
		{http.MethodGet, "/api/users/password"},
	} {
		if rec := env.do(t, tc.method, tc.path, "", nil); rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s %s: status=%d", tc.method, tc.path, rec.Code)
		}
	}
}

// failingStore simulates a store outage after registration.
type failingStore struct {
	identity.Store
	fail bool
}

var errStoreDown = errors.New("store down")

func (s *failingStore) GetUserByID(ctx context.Context, id string) (identity.User, error) {
	if s.fail {
		return identity.User{}, errStoreDown
	}
	return s.Store.GetUserByID(ctx, id)
}

func (s *failingStore) GetUserByEmail(ctx context.Context, email string) (identity.User, error) {
	if s.fail {
		return identity.User{}, errStoreDown
	}
	return s.Store.GetUserByEmail(ctx, email)
}

func TestStoreOutage_GenericServerErrors(t *testing.T) {
	store := &failingStore{Store: identity.NewMemoryStore()}
	env := newTestEnvWithStore(t, DefaultConfig(), store)
	reg := env.register(t, "Ann", "a@x.com", "secret")

	store.fail = true

	assertErrorMsg(t, env.do(t, http.MethodGet, "/api/users", reg.Token, nil), http.StatusInternalServerError, msgServerError)
	assertErrorMsg(t, env.login(t, "a@x.com", "secret"), http.StatusInternalServerError, msgBadCredentials)

	// Store failures are not counted as failed logins.
	if got := testutil.ToFloat64(env.events.WithLabelValues(eventLoginFailed)); got != 0 {
		t.Fatalf("login failed events: got %v", got)
	}
}

// flakyStore fails selected writes while set, passing everything else through.
type flakyStore struct {
	identity.Store
	failInsert, failAppend, failUpdatePassword bool
}

func (s *flakyStore) InsertUser(ctx context.Context, u *identity.User) error {
	if s.failInsert {
		return errStoreDown
	}
	return s.Store.InsertUser(ctx, u)
}

func (s *flakyStore) AppendToken(ctx context.Context, userID, tok string) error {
	if s.failAppend {
		return errStoreDown
	}
	return s.Store.AppendToken(ctx, userID, tok)
}

func (s *flakyStore) UpdatePassword(ctx context.Context, userID, hash string, tokens []string) error {
	if s.failUpdatePassword {
		return errStoreDown
	}
	return s.Store.UpdatePassword(ctx, userID, hash, tokens)
}

func TestRegister_FailedWriteLeavesNoUser(t *testing.T) {
	store := &flakyStore{Store: identity.NewMemoryStore(), failInsert: true}
	env := newTestEnvWithStore(t, DefaultConfig(), store)
	body := map[string]any{"name": "Ann", "email": "a@x.com", "password": "secret"}

	assertErrorMsg(t, env.do(t, http.MethodPost, "/api/users", "", body), http.StatusInternalServerError, msgUnableToRegister)

	store.failInsert = false
	rec := env.do(t, http.MethodPost, "/api/users", "", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("retry: status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestRegister_DoesNotDependOnTokenAppend(t *testing.T) {
	store := &flakyStore{Store: identity.NewMemoryStore(), failAppend: true}
	env := newTestEnvWithStore(t, DefaultConfig(), store)

	reg := env.register(t, "Ann", "a@x.com", "secret")
	if toks := env.tokens(t, "a@x.com"); len(toks) != 1 || toks[0] != reg.Token {
		t.Fatalf("stored tokens: %v", toks)
	}
	if rec := env.do(t, http.MethodGet, "/api/users", reg.Token, nil); rec.Code != http.StatusOK {
		t.Fatalf("me: status=%d", rec.Code)
	}
}

func TestChangePassword_FailedWriteKeepsOldCredentials(t *testing.T) {
	store := &flakyStore{Store: identity.NewMemoryStore()}
	env := newTestEnvWithStore(t, DefaultConfig(), store)
	reg := env.register(t, "Ann", "a@x.com", "secret")

	store.failUpdatePassword = true
	rec := env.do(t, http.MethodPost, "/api/users/password", reg.Token, map[string]any{
		"currentPassword": "secret", "newPassword": "secret2",
	})
	assertErrorMsg(t, rec, http.StatusInternalServerError, msgServerError)

	if rec := env.do(t, http.MethodGet, "/api/users", reg.Token, nil); rec.Code != http.StatusOK {
		t.Fatalf("old token revoked by failed change: status=%d", rec.Code)
	}
	if rec := env.login(t, "a@x.com", "secret"); rec.Code != http.StatusOK {
		t.Fatalf("old password lost by failed change: status=%d", rec.Code)
	}
	if toks := env.tokens(t, "a@x.com"); len(toks) != 2 {
		t.Fatalf("stored tokens: %v", toks)
	}
}

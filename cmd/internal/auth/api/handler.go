package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"userauth/cmd/identity"
	"userauth/cmd/internal/auth/session"

	"github.com/prometheus/client_golang/prometheus"
)

// Client-facing messages.
const (
	msgUserExists       = "User already exists"
	msgPasswordMismatch = "Passwords don't match"
	msgUnableToRegister = "Unable to Register"
	msgBadCredentials   = "Incorrect username/password field"
	msgNoToken          = "No token, authorization denied"
	msgInvalidToken     = "Token is not valid"
	msgServerError      = "Server error"
	msgInvalidBody      = "Invalid request body"

	msgLoggedIn        = "User logged in successfully!"
	msgLoggedOut       = "User logged out successfully!"
	msgLoggedOutAll    = "User logged out of all sessions successfully!"
	msgPasswordChanged = "Password changed successfully!"
)

// Handler wires the user HTTP endpoints to the credential store and token issuer.
type Handler struct {
	log *slog.Logger
	cfg Config

	creds    *identity.Credentials
	sessions *session.Service

	limiter *loginLimiter
	events  *prometheus.CounterVec
	now     func() time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithEventCounter records audit events on c (see NewEventCounter).
func WithEventCounter(c *prometheus.CounterVec) HandlerOption {
	return func(h *Handler) {
		if c != nil {
			h.events = c
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs a Handler. creds and sessions are required.
func NewHandler(log *slog.Logger, cfg Config, creds *identity.Credentials, sessions *session.Service, opts ...HandlerOption) (*Handler, error) {
	if creds == nil {
		return nil, errors.New("authapi: nil credentials")
	}
	if sessions == nil {
		return nil, errors.New("authapi: nil session service")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.normalized()

	h := &Handler{
		log:      log,
		cfg:      cfg,
		creds:    creds,
		sessions: sessions,
		limiter:  newLoginLimiter(cfg.LoginIPMax, cfg.LoginIPWindow),
		events:   NewEventCounter(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register wires the user routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/api/users", h.handleUsers)
	mux.HandleFunc("/api/users/login", h.handleLogin)
	mux.HandleFunc("/api/users/logout", h.handleLogout)
	mux.HandleFunc("/api/users/logoutAll", h.handleLogoutAll)
	mux.HandleFunc("/api/users/password", h.handleChangePassword)
}

// ---- handlers ----

func (h *Handler) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleRegister(w, r)
	case http.MethodGet:
		h.handleMe(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSONLenient(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	pw := req.Password
	if pw == "" {
		pw = req.Password1
	}

	ctx := r.Context()
	now := h.now()
	in := identity.CreateUserInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: pw,
		Gender:   req.Gender,
		Now:      now,
	}

	// Field validation first so malformed input is a 400 before anything else.
	if fields := identity.ValidationFields(identity.ValidateCreate(in, h.creds.Hasher())); len(fields) > 0 {
		writeErrors(w, http.StatusBadRequest, toAPIErrors(fields)...)
		return
	}
	if (req.Password1 != "" || req.Password2 != "") && req.Password1 != req.Password2 {
		writeError(w, http.StatusInternalServerError, msgPasswordMismatch)
		return
	}

	// The user and its first token are persisted in one write.
	var issued session.Issued
	u, err := h.creds.CreateWithToken(ctx, in, h.sessions.Minter(now, &issued))
	if err != nil {
		switch {
		case identity.IsValidation(err):
			writeErrors(w, http.StatusBadRequest, toAPIErrors(identity.ValidationFields(err))...)
		case identity.IsConflict(err):
			writeError(w, http.StatusInternalServerError, msgUserExists)
		default:
			h.log.Error("auth.register.fail", "err", err)
			writeError(w, http.StatusInternalServerError, msgUnableToRegister)
		}
		return
	}

	h.auditRegister(ctx, u.ID, clientIP(r, h.cfg.TrustProxy), r.UserAgent())
	writeJSON(w, http.StatusCreated, authResponse{
		User:  toUserResponse(u),
		Token: issued.Token,
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if errs := validateRequest(req); len(errs) > 0 {
		writeErrors(w, http.StatusBadRequest, errs...)
		return
	}

	ctx := r.Context()
	now := h.now()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := r.UserAgent()

	// IP-based throttling before the store lookup.
	if blocked, retryAfter := h.limiter.Check(ipKey(ip), now); blocked {
		h.auditLoginRateLimited(ctx, ip, ua, retryAfter)
		writeRateLimited(w, retryAfter)
		return
	}

	u, err := h.creds.FindByCredentials(ctx, req.Email, req.Password)
	if err != nil {
		if identity.IsAuthentication(err) {
			h.limiter.RecordFailure(ipKey(ip), now)
			h.auditLoginFailed(ctx, ip, ua, "bad_credentials")
		} else {
			h.log.Error("auth.login.lookup.fail", "err", err)
		}
		// Unknown email, wrong password and store failures look the same to the client.
		writeError(w, http.StatusInternalServerError, msgBadCredentials)
		return
	}

	issued, err := h.sessions.Issue(ctx, now, &u)
	if err != nil {
		h.log.Error("auth.login.issue_token.fail", "err", err, "user_id", u.ID)
		writeError(w, http.StatusInternalServerError, msgBadCredentials)
		return
	}

	h.auditLoginSuccess(ctx, u.ID, issued.TokenID, ip, ua)
	writeJSON(w, http.StatusOK, authResponse{
		Msg:   msgLoggedIn,
		User:  toUserResponse(u),
		Token: issued.Token,
	})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	a, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(a.user))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	a, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if err := h.sessions.Revoke(ctx, &a.user, a.token); err != nil {
		h.log.Error("auth.logout.fail", "err", err, "user_id", a.user.ID)
		writeError(w, http.StatusInternalServerError, msgServerError)
		return
	}

	h.auditLogout(ctx, a.user.ID, a.claims.TokenID, clientIP(r, h.cfg.TrustProxy), r.UserAgent())
	writeJSON(w, http.StatusOK, msgResponse{Msg: msgLoggedOut})
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	a, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if err := h.sessions.RevokeAll(ctx, &a.user); err != nil {
		h.log.Error("auth.logout_all.fail", "err", err, "user_id", a.user.ID)
		writeError(w, http.StatusInternalServerError, msgServerError)
		return
	}

	h.auditLogoutAll(ctx, a.user.ID, clientIP(r, h.cfg.TrustProxy), r.UserAgent())
	writeJSON(w, http.StatusOK, msgResponse{Msg: msgLoggedOutAll})
}

// handleChangePassword re-hashes the password, revokes every token and issues a fresh one.
func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	a, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if errs := validateRequest(req); len(errs) > 0 {
		writeErrors(w, http.StatusBadRequest, errs...)
		return
	}

	ctx := r.Context()
	var issued session.Issued
	u, err := h.creds.ChangePasswordWithToken(ctx, a.user.ID, req.CurrentPassword, req.NewPassword,
		h.sessions.Minter(h.now(), &issued))
	if err != nil {
		switch {
		case identity.IsValidation(err):
			fields := identity.ValidationFields(err)
			for i := range fields {
				if fields[i].Field == "password" {
					fields[i].Field = "newPassword"
				}
			}
			writeErrors(w, http.StatusBadRequest, toAPIErrors(fields)...)
		case identity.IsAuthentication(err):
			writeError(w, http.StatusInternalServerError, msgBadCredentials)
		default:
			h.log.Error("auth.password.change.fail", "err", err, "user_id", a.user.ID)
			writeError(w, http.StatusInternalServerError, msgServerError)
		}
		return
	}

	h.auditPasswordChanged(ctx, u.ID, clientIP(r, h.cfg.TrustProxy), r.UserAgent())
	writeJSON(w, http.StatusOK, authResponse{
		Msg:   msgPasswordChanged,
		User:  toUserResponse(u),
		Token: issued.Token,
	})
}

// ---- auth gate ----

type authenticated struct {
	user   identity.User
	claims session.AccessClaims
	token  string
}

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (authenticated, bool) {
	tok := requestToken(r)
	if tok == "" {
		writeError(w, http.StatusUnauthorized, msgNoToken)
		return authenticated{}, false
	}

	u, claims, err := h.sessions.Authenticate(r.Context(), tok, h.now())
	if err != nil {
		if errors.Is(err, session.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, msgInvalidToken)
			return authenticated{}, false
		}
		if !errors.Is(err, context.Canceled) {
			h.log.Error("auth.gate.fail", "err", err)
		}
		writeError(w, http.StatusInternalServerError, msgServerError)
		return authenticated{}, false
	}
	return authenticated{user: u, claims: claims, token: tok}, true
}

package handler

import (
	"net/http"
	"strings"
	"time"

	"authz-gateway/internal/audit"
	"authz-gateway/internal/gatekeeper"
	"authz-gateway/internal/identity"
	"authz-gateway/internal/policy"
	"authz-gateway/internal/session"
	"authz-gateway/pkg/password"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// CSRFTokenIssuer hands out per-subject CSRF tokens.
type CSRFTokenIssuer interface {
	GetOrCreateToken(subject string) (string, error)
}

type AuthHandler struct {
	users      identity.Store
	codec      *session.Codec
	policy     policy.Client
	cookie     gatekeeper.CookieConfig
	signInPath string
	audit      audit.Recorder
	csrf       CSRFTokenIssuer
	log        zerolog.Logger
}

type AuthHandlerConfig struct {
	Users      identity.Store
	Codec      *session.Codec
	Policy     policy.Client
	Cookie     gatekeeper.CookieConfig
	SignInPath string
	Audit      audit.Recorder
	CSRF       CSRFTokenIssuer
	Log        zerolog.Logger
}

func NewAuthHandler(cfg AuthHandlerConfig) *AuthHandler {
	if cfg.Audit == nil {
		cfg.Audit = audit.Nop{}
	}
	return &AuthHandler{
		users:      cfg.Users,
		codec:      cfg.Codec,
		policy:     cfg.Policy,
		cookie:     cfg.Cookie,
		signInPath: cfg.SignInPath,
		audit:      cfg.Audit,
		csrf:       cfg.CSRF,
		log:        cfg.Log,
	}
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignInResponse struct {
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

type CSRFTokenResponse struct {
	Token string `json:"csrf_token"`
}

func (h *AuthHandler) SignIn(c echo.Context) error {
	var req SignInRequest
	if err := decodeJSON(c, &req); err != nil {
		return handleHTTPError(c, err)
	}

	ctx := c.Request().Context()
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		password.Burn(req.Password)
		return h.rejectSignIn(c, "", "missing_credentials")
	}

	u, err := h.users.GetByEmail(ctx, req.Email)
	if err != nil {
		password.Burn(req.Password)
		return h.rejectSignIn(c, "", "unknown_account")
	}

	if !password.Verify(req.Password, u.PasswordHash) {
		return h.rejectSignIn(c, u.ID, "wrong_password")
	}

	if strings.TrimSpace(u.Role) == "" {
		h.audit.Record(ctx, audit.FromEcho(c, &audit.Event{
			EventType: audit.EventSignIn,
			ActorID:   u.ID,
			Action:    "sign_in",
			Resource:  "session",
			Status:    audit.StatusDenied,
			Metadata:  map[string]any{"reason": "no_role"},
		}))
		return respondError(c, http.StatusForbidden, msgNoRoleAssigned)
	}

	token, claims, err := h.codec.Sign(u.ID, u.Role)
	if err != nil {
		h.log.Error().Err(err).Str("subject", u.ID).Msg("failed to mint session")
		return respondError(c, http.StatusInternalServerError, msgSessionIssueFail)
	}

	gatekeeper.NewCookieStore(c, h.cookie).Write(token, claims.Expiry())
	h.policy.EnsureRole(ctx, u.ID, claims.Role, policy.DefaultTenant)

	h.audit.Record(ctx, audit.FromEcho(c, &audit.Event{
		EventType: audit.EventSignIn,
		ActorID:   u.ID,
		Action:    "sign_in",
		Resource:  "session",
		Status:    audit.StatusAllowed,
	}))

	return c.JSON(http.StatusOK, SignInResponse{
		UserID:    u.ID,
		Role:      claims.Role,
		ExpiresAt: claims.Expiry(),
	})
}

func (h *AuthHandler) rejectSignIn(c echo.Context, actorID, reason string) error {
	h.audit.Record(c.Request().Context(), audit.FromEcho(c, &audit.Event{
		EventType: audit.EventSignIn,
		ActorID:   actorID,
		Action:    "sign_in",
		Resource:  "session",
		Status:    audit.StatusFailure,
		Metadata:  map[string]any{"reason": reason},
	}))
	return respondError(c, http.StatusUnauthorized, msgInvalidCredentials)
}

// SignOut clears the session cookie. It succeeds with or without a session.
func (h *AuthHandler) SignOut(c echo.Context) error {
	gatekeeper.NewCookieStore(c, h.cookie).Clear()

	if id, err := gatekeeper.GetIdentity(c); err == nil {
		h.audit.Record(c.Request().Context(), audit.FromEcho(c, &audit.Event{
			EventType: audit.EventSignOut,
			ActorID:   id.ID,
			Action:    "sign_out",
			Resource:  "session",
			Status:    audit.StatusAllowed,
		}))
	}

	return c.Redirect(http.StatusSeeOther, h.signInPath)
}

// CSRFToken returns the caller's CSRF token for /api mutations.
func (h *AuthHandler) CSRFToken(c echo.Context) error {
	id, err := gatekeeper.GetIdentity(c)
	if err != nil {
		return err
	}

	token, err := h.csrf.GetOrCreateToken(id.ID)
	if err != nil {
		h.log.Error().Err(err).Msg(msgCSRFTokenFail)
		return respondError(c, http.StatusInternalServerError, msgCSRFTokenFail)
	}

	return c.JSON(http.StatusOK, CSRFTokenResponse{Token: token})
}

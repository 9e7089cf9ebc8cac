package gatekeeper

import (
	"net/http"
	"time"

	"authz-gateway/internal/audit"
	"authz-gateway/internal/identity"
	apperrors "authz-gateway/pkg/errors"

	"github.com/labstack/echo/v4"
)

// CookieConfig describes the session cookie written by the echo adapter.
type CookieConfig struct {
	Name   string
	Secure bool
}

type cookieStore struct {
	c   echo.Context
	cfg CookieConfig
}

// NewCookieStore binds the session cookie of one echo request to SessionStore.
func NewCookieStore(c echo.Context, cfg CookieConfig) SessionStore {
	return &cookieStore{c: c, cfg: cfg}
}

func (s *cookieStore) Read() (string, bool) {
	cookie, err := s.c.Cookie(s.cfg.Name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

func (s *cookieStore) Write(token string, expires time.Time) {
	s.c.SetCookie(&http.Cookie{
		Name:     s.cfg.Name,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *cookieStore) Clear() {
	s.c.SetCookie(&http.Cookie{
		Name:     s.cfg.Name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Middleware runs Process for every request. Redirects use 303 so that a denied
// mutation is retried as a GET against the destination.
func (g *Gatekeeper) Middleware(cookie CookieConfig, recorder audit.Recorder) echo.MiddlewareFunc {
	if recorder == nil {
		recorder = audit.Nop{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			out := g.Process(req.Context(), Request{Method: req.Method, Path: req.URL.Path}, NewCookieStore(c, cookie))

			if shouldAudit(out) {
				recorder.Record(req.Context(), audit.FromEcho(c, outcomeEvent(out)))
			}

			if out.Verdict != PassThrough {
				return c.Redirect(http.StatusSeeOther, out.Location)
			}

			if out.Identity != nil {
				c.Set(ContextKeyIdentity, out.Identity)
				c.SetRequest(req.WithContext(identity.WithContext(req.Context(), out.Identity)))
			}

			return next(c)
		}
	}
}

// Requests without any credential are not audited; only presented credentials
// that were rejected or denied are.
func shouldAudit(out Outcome) bool {
	switch out.Reason {
	case ReasonInvalidToken, ReasonExpiredToken, ReasonForbidden, ReasonInternal:
		return true
	default:
		return false
	}
}

func outcomeEvent(out Outcome) *audit.Event {
	event := &audit.Event{
		EventType: audit.EventPageAccess,
		Action:    actionView,
		Resource:  resourceDashboard,
		Status:    audit.StatusDenied,
		Metadata:  map[string]any{"reason": string(out.Reason)},
	}
	if out.Identity != nil {
		event.ActorID = out.Identity.ID
		event.Metadata["role"] = out.Identity.Role
	}
	return event
}

// GetIdentity returns the identity the middleware attached to c.
func GetIdentity(c echo.Context) (*identity.Identity, error) {
	id, ok := c.Get(ContextKeyIdentity).(*identity.Identity)
	if !ok || id == nil {
		return nil, apperrors.NotAuthenticated("no authenticated identity")
	}
	return id, nil
}

package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"sync"
	"time"

	"authz-gateway/internal/gatekeeper"
	"authz-gateway/pkg/token"

	"github.com/labstack/echo/v4"
)

const (
	csrfTokenLength = 32
	csrfTokenTTL    = 24 * time.Hour
	csrfHeaderName  = "X-CSRF-Token"
	cleanupInterval = 1 * time.Hour

	msgCSRFTokenNotFound = "CSRF token not found"
	msgCSRFTokenExpired  = "CSRF token expired"
	msgCSRFTokenRequired = "CSRF token required"
	msgCSRFTokenInvalid  = "invalid CSRF token"
)

// CSRFToken represents a CSRF token with expiry
type CSRFToken struct {
	Token     string
	ExpiresAt time.Time
}

// CSRFMiddleware keeps one token per signed-in subject.
type CSRFMiddleware struct {
	tokens  sync.Map // subject -> *CSRFToken
	now     func() time.Time
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewCSRFMiddleware creates a new CSRF middleware with background cleanup
func NewCSRFMiddleware(ctx context.Context) *CSRFMiddleware {
	cleanupCtx, cancel := context.WithCancel(ctx)
	m := &CSRFMiddleware{
		now:     time.Now,
		ctx:     cleanupCtx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}

	go m.cleanupLoop()

	return m
}

// Stop gracefully stops the cleanup goroutine
func (m *CSRFMiddleware) Stop() {
	m.cancel()
	<-m.stopped
}

func (m *CSRFMiddleware) cleanupLoop() {
	defer close(m.stopped)

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.CleanupExpiredTokens()
		}
	}
}

// GetOrCreateToken returns the subject's live token or mints a new one.
func (m *CSRFMiddleware) GetOrCreateToken(subject string) (string, error) {
	if tokenRaw, exists := m.tokens.Load(subject); exists {
		if csrfToken, ok := tokenRaw.(*CSRFToken); ok && m.now().Before(csrfToken.ExpiresAt) {
			return csrfToken.Token, nil
		}
	}

	tok, err := token.Generate(csrfTokenLength)
	if err != nil {
		return "", err
	}

	m.tokens.Store(subject, &CSRFToken{
		Token:     tok,
		ExpiresAt: m.now().Add(csrfTokenTTL),
	})
	return tok, nil
}

// Middleware checks X-CSRF-Token on unsafe methods from signed-in subjects.
// Anonymous requests are left to the action guard, which rejects them.
func (m *CSRFMiddleware) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			switch c.Request().Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				return next(c)
			}

			id, err := gatekeeper.GetIdentity(c)
			if err != nil {
				return next(c)
			}

			tokenRaw, exists := m.tokens.Load(id.ID)
			if !exists {
				return csrfError(c, msgCSRFTokenNotFound)
			}

			csrfToken, ok := tokenRaw.(*CSRFToken)
			if !ok || m.now().After(csrfToken.ExpiresAt) {
				return csrfError(c, msgCSRFTokenExpired)
			}

			providedToken := c.Request().Header.Get(csrfHeaderName)
			if providedToken == "" {
				return csrfError(c, msgCSRFTokenRequired)
			}

			if subtle.ConstantTimeCompare([]byte(providedToken), []byte(csrfToken.Token)) != 1 {
				return csrfError(c, msgCSRFTokenInvalid)
			}

			return next(c)
		}
	}
}

func csrfError(c echo.Context, msg string) error {
	return c.JSON(http.StatusForbidden, map[string]string{"error": msg})
}

// CleanupExpiredTokens removes expired tokens (called by background goroutine)
func (m *CSRFMiddleware) CleanupExpiredTokens() {
	now := m.now()
	m.tokens.Range(func(key, value any) bool {
		if csrfToken, ok := value.(*CSRFToken); ok && now.After(csrfToken.ExpiresAt) {
			m.tokens.Delete(key)
		}
		return true
	})
}

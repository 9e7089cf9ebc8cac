package gatekeeper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"authz-gateway/internal/audit"
	"authz-gateway/internal/identity"
	apperrors "authz-gateway/pkg/errors"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (r *fakeRecorder) Record(_ context.Context, e *audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func newEcho(f *fixture, cookie CookieConfig, rec audit.Recorder) *echo.Echo {
	e := echo.New()
	e.Use(f.gk.Middleware(cookie, rec))
	handler := func(c echo.Context) error {
		id := identity.FromContext(c.Request().Context())
		if id == nil {
			return c.String(http.StatusOK, "anonymous")
		}
		fromEcho, err := GetIdentity(c)
		if err != nil {
			return err
		}
		return c.String(http.StatusOK, fromEcho.ID+":"+id.Role)
	}
	e.GET("/dashboard", handler)
	e.GET("/dashboard/*", handler)
	e.POST("/dashboard/items", handler)
	e.GET("/about", handler)
	return e
}

func findCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestMiddlewareRedirectsAnonymousDashboard(t *testing.T) {
	f := newFixture(t, &fakePolicy{allow: true})
	recorder := &fakeRecorder{}
	e := newEcho(f, CookieConfig{Name: "session"}, recorder)

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/sign-in", rec.Header().Get(echo.HeaderLocation))
	assert.Nil(t, findCookie(t, rec, "session"))
	assert.Empty(t, recorder.events)
}

func TestMiddlewarePassesAndRefreshesCookie(t *testing.T) {
	f := newFixture(t, &fakePolicy{allow: true})
	e := newEcho(f, CookieConfig{Name: "session", Secure: true}, nil)
	store := f.mint(t, "42", "issuer")
	f.clock.Advance(time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/dashboard/reports", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: store.token})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42:issuer", rec.Body.String())

	cookie := findCookie(t, rec, "session")
	require.NotNil(t, cookie)
	assert.NotEqual(t, store.token, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal(t, "/", cookie.Path)

	claims, err := f.codec.Verify(cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.SubjectID())
}

func TestMiddlewareDoesNotRefreshMutations(t *testing.T) {
	f := newFixture(t, &fakePolicy{allow: true})
	e := newEcho(f, CookieConfig{Name: "session"}, nil)
	store := f.mint(t, "42", "issuer")

	req := httptest.NewRequest(http.MethodPost, "/dashboard/items", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: store.token})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, findCookie(t, rec, "session"))
}

func TestMiddlewareClearsInvalidCookie(t *testing.T) {
	f := newFixture(t, &fakePolicy{allow: true})
	recorder := &fakeRecorder{}
	e := newEcho(f, CookieConfig{Name: "session"}, recorder)

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "garbage"})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/sign-in", rec.Header().Get(echo.HeaderLocation))

	cookie := findCookie(t, rec, "session")
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Less(t, cookie.MaxAge, 0)

	require.Len(t, recorder.events, 1)
	assert.Equal(t, audit.EventPageAccess, recorder.events[0].EventType)
	assert.Equal(t, string(ReasonInvalidToken), recorder.events[0].Metadata["reason"])
}

func TestMiddlewareInvalidCookieOnPublicPathServesAnonymously(t *testing.T) {
	f := newFixture(t, &fakePolicy{allow: true})
	recorder := &fakeRecorder{}
	e := newEcho(f, CookieConfig{Name: "session"}, recorder)

	req := httptest.NewRequest(http.MethodGet, "/about", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "garbage"})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", rec.Body.String())

	cookie := findCookie(t, rec, "session")
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Less(t, cookie.MaxAge, 0)

	require.Len(t, recorder.events, 1)
	assert.Equal(t, string(ReasonInvalidToken), recorder.events[0].Metadata["reason"])
	assert.Empty(t, recorder.events[0].ActorID)
}

func TestMiddlewareAuditsForbidden(t *testing.T) {
	f := newFixture(t, &fakePolicy{allow: false})
	recorder := &fakeRecorder{}
	e := newEcho(f, CookieConfig{Name: "session"}, recorder)
	store := f.mint(t, "9", "guest")

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: store.token})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/forbidden", rec.Header().Get(echo.HeaderLocation))

	require.Len(t, recorder.events, 1)
	event := recorder.events[0]
	assert.Equal(t, "9", event.ActorID)
	assert.Equal(t, audit.StatusDenied, event.Status)
	assert.Equal(t, "/dashboard", event.Path)
}

func TestMiddlewarePublicPathAnonymous(t *testing.T) {
	f := newFixture(t, &fakePolicy{})
	e := newEcho(f, CookieConfig{Name: "session"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/about", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", rec.Body.String())
	assert.Empty(t, rec.Header().Values("Set-Cookie"))
	assert.Zero(t, f.policy.callCount())
}

func TestGetIdentityWithoutMiddleware(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	_, err := GetIdentity(c)
	assert.ErrorIs(t, err, apperrors.ErrNotAuthenticated)
}

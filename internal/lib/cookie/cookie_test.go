package cookie

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"filevault/internal/config"
	"filevault/internal/domain/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newContext(cookies ...*http.Cookie) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	c.Request = req
	return c, w
}

func responseCookies(w *httptest.ResponseRecorder) map[string]*http.Cookie {
	res := map[string]*http.Cookie{}
	for _, ck := range w.Result().Cookies() {
		res[ck.Name] = ck
	}
	return res
}

func TestSetGrant_WritesBothCookies(t *testing.T) {
	m := NewManager(config.Cookie{Path: "/", SameSite: "strict", Secure: true, Prefix: "fv"}, 10*time.Minute, 720*time.Hour)
	c, w := newContext()

	grant := &models.Grant{
		AccessToken: "access",
		Session:     models.Session{ID: 7, RefreshToken: "refresh"},
	}
	require.NoError(t, m.SetGrant(c, grant))

	cookies := responseCookies(w)
	access := cookies["fv_access_token"]
	refresh := cookies["fv_refresh_token"]
	require.NotNil(t, access)
	require.NotNil(t, refresh)

	assert.Equal(t, 600, access.MaxAge)
	assert.Equal(t, 30*24*60*60, refresh.MaxAge)
	assert.True(t, access.HttpOnly)
	assert.True(t, refresh.Secure)
	assert.Equal(t, http.SameSiteStrictMode, refresh.SameSite)

	// Feed the cookies back in and decode them.
	c2, _ := newContext(access, refresh)
	got, err := m.Get(c2, RefreshName)
	require.NoError(t, err)
	assert.Equal(t, Payload{Token: "refresh", SessionID: 7}, got)

	got, err = m.Get(c2, AccessName)
	require.NoError(t, err)
	assert.Equal(t, Payload{Token: "access", SessionID: 7}, got)
}

func TestGet_Errors(t *testing.T) {
	m := NewManager(config.Cookie{Path: "/"}, 10*time.Minute, 720*time.Hour)

	c, _ := newContext()
	_, err := m.Get(c, RefreshName)
	require.ErrorIs(t, err, ErrNoCookie)
	assert.False(t, m.Has(c, RefreshName))

	c, _ = newContext(&http.Cookie{Name: RefreshName, Value: "***"})
	_, err = m.Get(c, RefreshName)
	require.ErrorIs(t, err, ErrMalformed)
	assert.True(t, m.Has(c, RefreshName))

	c, _ = newContext(&http.Cookie{Name: RefreshName, Value: "bm90LWpzb24"}) // "not-json"
	_, err = m.Get(c, RefreshName)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestClear_ExpiresBothCookies(t *testing.T) {
	m := NewManager(config.Cookie{Path: "/"}, 10*time.Minute, 720*time.Hour)
	c, w := newContext()

	m.Clear(c)

	cookies := responseCookies(w)
	require.Len(t, cookies, 2)
	for _, name := range []string{AccessName, RefreshName} {
		ck := cookies[name]
		require.NotNil(t, ck, name)
		assert.Empty(t, ck.Value)
		assert.Negative(t, ck.MaxAge)
	}
}

func TestSetGrant_MaxAgeFollowsTokenLifetimes(t *testing.T) {
	m := NewManager(config.Cookie{Path: "/"}, 5*time.Minute, 24*time.Hour)
	c, w := newContext()

	require.NoError(t, m.SetGrant(c, &models.Grant{
		AccessToken: "access",
		Session:     models.Session{ID: 1, RefreshToken: "refresh"},
	}))

	cookies := responseCookies(w)
	require.NotNil(t, cookies[AccessName])
	require.NotNil(t, cookies[RefreshName])
	assert.Equal(t, 300, cookies[AccessName].MaxAge)
	assert.Equal(t, 86400, cookies[RefreshName].MaxAge)
	assert.Equal(t, 300, m.AccessMaxAge())
	assert.Equal(t, 86400, m.RefreshMaxAge())
}

// Package cookie reads and writes the access_token and refresh_token cookies.
// Each cookie carries a {token, sessionId} pair encoded as base64url JSON.
package cookie

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"filevault/internal/config"
	"filevault/internal/domain/models"

	"github.com/gin-gonic/gin"
)

const (
	AccessName  = "access_token"
	RefreshName = "refresh_token"
)

var (
	ErrNoCookie  = errors.New("cookie not found")
	ErrMalformed = errors.New("malformed cookie")
)

// Payload is the value stored in both auth cookies.
type Payload struct {
	Token     string `json:"token"`
	SessionID int64  `json:"sessionId"`
}

type Manager struct {
	cfg           config.Cookie
	accessMaxAge  int
	refreshMaxAge int
}

// NewManager returns a Manager whose cookies live as long as the tokens they
// carry: accessTTL for access_token and refreshTTL for refresh_token.
func NewManager(cfg config.Cookie, accessTTL, refreshTTL time.Duration) *Manager {
	return &Manager{
		cfg:           cfg,
		accessMaxAge:  int(accessTTL / time.Second),
		refreshMaxAge: int(refreshTTL / time.Second),
	}
}

func (m *Manager) AccessMaxAge() int {
	return m.accessMaxAge
}

func (m *Manager) RefreshMaxAge() int {
	return m.refreshMaxAge
}

// Set writes an HttpOnly cookie holding p.
func (m *Manager) Set(c *gin.Context, name string, p Payload, maxAge int) error {
	const op = "cookie.Set"

	if name == "" {
		return fmt.Errorf("%s: cookie name must not be empty", op)
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	c.SetSameSite(m.sameSite())
	c.SetCookie(
		m.name(name),
		base64.RawURLEncoding.EncodeToString(raw),
		maxAge,
		m.cfg.Path,
		m.cfg.Domain,
		m.cfg.Secure,
		true,
	)

	return nil
}

// Get decodes the named cookie. A missing or empty cookie yields ErrNoCookie.
func (m *Manager) Get(c *gin.Context, name string) (Payload, error) {
	const op = "cookie.Get"

	value, err := c.Cookie(m.name(name))
	if err != nil || value == "" {
		return Payload{}, fmt.Errorf("%s: %s: %w", op, name, ErrNoCookie)
	}

	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return Payload{}, fmt.Errorf("%s: %s: %w", op, name, ErrMalformed)
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("%s: %s: %w", op, name, ErrMalformed)
	}

	return p, nil
}

// Has reports whether the named cookie was sent at all, without decoding it.
func (m *Manager) Has(c *gin.Context, name string) bool {
	value, err := c.Cookie(m.name(name))
	return err == nil && value != ""
}

// Delete expires the named cookie.
func (m *Manager) Delete(c *gin.Context, name string) {
	c.SetSameSite(m.sameSite())
	c.SetCookie(m.name(name), "", -1, m.cfg.Path, m.cfg.Domain, m.cfg.Secure, true)
}

// SetGrant writes both auth cookies for a grant.
func (m *Manager) SetGrant(c *gin.Context, grant *models.Grant) error {
	if err := m.Set(c, AccessName, Payload{
		Token:     grant.AccessToken,
		SessionID: grant.Session.ID,
	}, m.accessMaxAge); err != nil {
		return err
	}

	return m.Set(c, RefreshName, Payload{
		Token:     grant.Session.RefreshToken,
		SessionID: grant.Session.ID,
	}, m.refreshMaxAge)
}

// Clear expires both auth cookies.
func (m *Manager) Clear(c *gin.Context) {
	m.Delete(c, AccessName)
	m.Delete(c, RefreshName)
}

func (m *Manager) name(name string) string {
	if m.cfg.Prefix == "" {
		return name
	}
	return m.cfg.Prefix + "_" + name
}

func (m *Manager) sameSite() http.SameSite {
	switch m.cfg.SameSite {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

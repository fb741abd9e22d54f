// Package gatekeeper admits requests to protected routes.
//
// A request passes only if it carries a valid "Authorization: Bearer" access
// token and also sends the access_token cookie. The cookie is checked for
// presence only; its contents are not compared with the bearer token, so the
// second check adds no cryptographic guarantee.
package gatekeeper

import (
	"log/slog"
	"net/http"
	"strings"

	"filevault/internal/domain/models"
	"filevault/internal/lib/api/response"
	"filevault/internal/lib/cookie"
	"filevault/internal/lib/sl"

	"github.com/gin-gonic/gin"
)

const claimsKey = "gatekeeper.claims"

type AccessVerifier interface {
	VerifyAccess(token string) (models.Claims, error)
}

type CookieReader interface {
	Has(c *gin.Context, name string) bool
}

func New(log *slog.Logger, verifier AccessVerifier, cookies CookieReader) gin.HandlerFunc {
	const op = "middleware.gatekeeper"
	log = log.With(slog.String("op", op))

	return func(c *gin.Context) {
		token, ok := bearer(c.GetHeader("Authorization"))
		if !ok {
			log.Debug("missing bearer token", slog.String("path", c.Request.URL.Path))
			response.Abort(c, http.StatusUnauthorized, response.Unauthorized())
			return
		}

		claims, err := verifier.VerifyAccess(token)
		if err != nil {
			log.Debug("invalid bearer token", sl.Err(err))
			response.Abort(c, http.StatusUnauthorized, response.Unauthorized())
			return
		}

		if !cookies.Has(c, cookie.AccessName) {
			log.Debug("missing access cookie", slog.Int64("userID", claims.UserID))
			response.Abort(c, http.StatusUnauthorized, response.Unauthorized())
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// Claims returns the claims stored by the gatekeeper for this request.
func Claims(c *gin.Context) (models.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return models.Claims{}, false
	}
	claims, ok := v.(models.Claims)
	return claims, ok
}

func bearer(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

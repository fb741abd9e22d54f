package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"filevault/internal/domain/models"
	"filevault/internal/lib/api/response"
	"filevault/internal/lib/cookie"
	"filevault/internal/lib/sl"
	authsvc "filevault/internal/services/auth"

	"github.com/gin-gonic/gin"
)

type Auth interface {
	Signup(ctx context.Context, email, password string) (*models.Grant, error)
	Signin(ctx context.Context, email, password string, presentedSessionID int64) (*models.Grant, error)
	Refresh(ctx context.Context, refreshToken string, sessionID int64) (*models.Grant, error)
	Logout(ctx context.Context, refreshToken string) error
	Me(ctx context.Context, accessToken string) (models.Claims, error)
	Users(ctx context.Context) ([]models.User, error)
}

type Cookies interface {
	SetGrant(c *gin.Context, grant *models.Grant) error
	Get(c *gin.Context, name string) (cookie.Payload, error)
	Clear(c *gin.Context)
}

type Handler struct {
	log     *slog.Logger
	auth    Auth
	cookies Cookies
}

func New(log *slog.Logger, auth Auth, cookies Cookies) *Handler {
	return &Handler{
		log:     log,
		auth:    auth,
		cookies: cookies,
	}
}

// Register mounts the routes on rg. gate guards the protected ones.
func (h *Handler) Register(rg *gin.RouterGroup, gate gin.HandlerFunc) {
	rg.POST("/signup", h.Signup)
	rg.POST("/signin", h.Signin)
	rg.POST("/signin/new_token", h.Refresh)
	rg.GET("/info", gate, h.Info)
	rg.GET("/users", gate, h.Users)
	rg.GET("/logout", gate, h.Logout)
}

type credentialsRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type userResponse struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

type sessionResponse struct {
	ID           int64        `json:"id"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	User         userResponse `json:"user"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	SessionID    int64  `json:"sessionId"`
}

func (h *Handler) Signup(c *gin.Context) {
	const op = "handlers.auth.Signup"
	log := h.log.With(slog.String("op", op))

	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug("invalid request body", sl.Err(err))
		response.Abort(c, http.StatusBadRequest, response.BadRequest("invalid email or password"))
		return
	}

	grant, err := h.auth.Signup(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, log, err)
		return
	}

	h.grant(c, log, grant)
}

func (h *Handler) Signin(c *gin.Context) {
	const op = "handlers.auth.Signin"
	log := h.log.With(slog.String("op", op))

	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug("invalid request body", sl.Err(err))
		response.Abort(c, http.StatusBadRequest, response.BadRequest("invalid email or password"))
		return
	}

	// An absent or unreadable cookie means the caller holds no session.
	var presented int64
	if p, err := h.cookies.Get(c, cookie.RefreshName); err == nil {
		presented = p.SessionID
	}

	grant, err := h.auth.Signin(c.Request.Context(), req.Email, req.Password, presented)
	if err != nil {
		h.fail(c, log, err)
		return
	}

	h.grant(c, log, grant)
}

func (h *Handler) Refresh(c *gin.Context) {
	const op = "handlers.auth.Refresh"
	log := h.log.With(slog.String("op", op))

	p, err := h.cookies.Get(c, cookie.RefreshName)
	if err != nil {
		log.Debug("no refresh cookie", sl.Err(err))
		response.Abort(c, http.StatusUnauthorized, response.Unauthorized())
		return
	}

	grant, err := h.auth.Refresh(c.Request.Context(), p.Token, p.SessionID)
	if err != nil {
		h.fail(c, log, err)
		return
	}

	if err := h.cookies.SetGrant(c, grant); err != nil {
		log.Error("failed to set cookies", sl.Err(err))
		response.Abort(c, http.StatusInternalServerError, response.Internal())
		return
	}

	c.JSON(http.StatusOK, refreshResponse{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.Session.RefreshToken,
		SessionID:    grant.Session.ID,
	})
}

func (h *Handler) Info(c *gin.Context) {
	const op = "handlers.auth.Info"
	log := h.log.With(slog.String("op", op))

	p, err := h.cookies.Get(c, cookie.AccessName)
	if err != nil {
		log.Debug("unreadable access cookie", sl.Err(err))
		response.Abort(c, http.StatusUnauthorized, response.Unauthorized())
		return
	}

	claims, err := h.auth.Me(c.Request.Context(), p.Token)
	if err != nil {
		h.fail(c, log, err)
		return
	}

	c.JSON(http.StatusOK, userResponse{ID: claims.UserID, Email: claims.Email})
}

func (h *Handler) Users(c *gin.Context) {
	const op = "handlers.auth.Users"
	log := h.log.With(slog.String("op", op))

	users, err := h.auth.Users(c.Request.Context())
	if err != nil {
		h.fail(c, log, err)
		return
	}

	res := make([]userResponse, 0, len(users))
	for _, u := range users {
		res = append(res, userResponse{
			ID:        u.ID,
			Email:     u.Email,
			CreatedAt: u.CreatedAt,
			UpdatedAt: u.UpdatedAt,
		})
	}

	c.JSON(http.StatusOK, res)
}

func (h *Handler) Logout(c *gin.Context) {
	const op = "handlers.auth.Logout"
	log := h.log.With(slog.String("op", op))

	p, err := h.cookies.Get(c, cookie.RefreshName)
	if err != nil {
		log.Debug("no refresh cookie", sl.Err(err))
		response.Abort(c, http.StatusUnauthorized, response.Unauthorized())
		return
	}

	if err := h.auth.Logout(c.Request.Context(), p.Token); err != nil {
		h.fail(c, log, err)
		return
	}

	h.cookies.Clear(c)
	c.JSON(http.StatusOK, true)
}

func (h *Handler) grant(c *gin.Context, log *slog.Logger, grant *models.Grant) {
	if err := h.cookies.SetGrant(c, grant); err != nil {
		log.Error("failed to set cookies", sl.Err(err))
		response.Abort(c, http.StatusInternalServerError, response.Internal())
		return
	}

	c.JSON(http.StatusOK, sessionResponse{
		ID:           grant.Session.ID,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.Session.RefreshToken,
		User: userResponse{
			ID:    grant.Session.User.ID,
			Email: grant.Session.User.Email,
		},
		CreatedAt: grant.Session.CreatedAt,
		UpdatedAt: grant.Session.UpdatedAt,
	})
}

func (h *Handler) fail(c *gin.Context, log *slog.Logger, err error) {
	status, apiErr := ToAPIError(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed", sl.Err(err))
	}
	_ = c.Error(err)
	response.Abort(c, status, apiErr)
}

// ToAPIError maps service errors to a status code and response body.
func ToAPIError(err error) (int, response.Error) {
	switch {
	case errors.Is(err, authsvc.ErrUserExists):
		return http.StatusConflict, response.Error{
			Code:    response.CodeConflict,
			Message: "this email is already registered",
		}
	case errors.Is(err, authsvc.ErrUserNotFound):
		return http.StatusNotFound, response.Error{
			Code:    response.CodeNotFound,
			Message: "user not found",
		}
	case errors.Is(err, authsvc.ErrInvalidCredentials):
		return http.StatusUnauthorized, response.Error{
			Code:    response.CodeInvalidCredentials,
			Message: "invalid email or password",
		}
	case errors.Is(err, authsvc.ErrUnauthorized):
		return http.StatusUnauthorized, response.Unauthorized()
	default:
		return http.StatusInternalServerError, response.Internal()
	}
}

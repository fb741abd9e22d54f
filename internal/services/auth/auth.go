// Package auth implements the credential and session lifecycle:
// signup, signin, refresh, logout and identity lookup.
//
// Session bookkeeping is deliberately not transactional. Two concurrent
// signins without a presented session id each insert a row, so a user can
// hold several active sessions. Two concurrent refreshes of the same session
// both pass the lookup and the later UpdateSession overwrites the earlier one.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"filevault/internal/domain/models"
	"filevault/internal/lib/sl"
	"filevault/internal/storage"
)

type Auth struct {
	log             *slog.Logger
	userSaver       UserSaver
	userProvider    UserProvider
	sessionSaver    SessionSaver
	sessionProvider SessionProvider
	hasher          PasswordHasher
	tokens          TokenIssuer
}

type UserSaver interface {
	SaveUser(
		ctx context.Context,
		email string,
		passHash []byte,
	) (uid int64, err error)
}

type UserProvider interface {
	User(ctx context.Context, email string) (*models.User, error)
	Users(ctx context.Context) ([]models.User, error)
}

type SessionSaver interface {
	SaveSession(ctx context.Context, userID int64, refreshToken string) (*models.Session, error)
	UpdateSession(ctx context.Context, id int64, refreshToken string) (*models.Session, error)
	DeleteSession(ctx context.Context, id int64) error
}

type SessionProvider interface {
	SessionByUser(ctx context.Context, userID int64) (*models.Session, error)
	SessionByIDAndToken(ctx context.Context, id int64, refreshToken string) (*models.Session, error)
	SessionByToken(ctx context.Context, refreshToken string) (*models.Session, error)
}

type PasswordHasher interface {
	Hash(password string) ([]byte, error)
	Verify(password string, hash []byte) bool
}

type TokenIssuer interface {
	Issue(userID int64, email string) (models.TokenPair, error)
	VerifyAccess(token string) (models.Claims, error)
	VerifyRefresh(token string) (models.Claims, error)
}

var (
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
)

// New returns a new instance of the Auth service.
func New(
	log *slog.Logger,
	userSaver UserSaver,
	userProvider UserProvider,
	sessionSaver SessionSaver,
	sessionProvider SessionProvider,
	hasher PasswordHasher,
	tokens TokenIssuer,
) *Auth {
	return &Auth{
		log:             log,
		userSaver:       userSaver,
		userProvider:    userProvider,
		sessionSaver:    sessionSaver,
		sessionProvider: sessionProvider,
		hasher:          hasher,
		tokens:          tokens,
	}
}

// Signup registers a new user and opens its first session.
func (a *Auth) Signup(ctx context.Context, email, password string) (*models.Grant, error) {
	const op = "auth.Signup"
	log := a.log.With(
		slog.String("op", op),
		slog.String("email", email),
	)
	log.Info("signup request")

	_, err := a.userProvider.User(ctx, email)
	switch {
	case err == nil:
		log.Warn("user already exists")
		return nil, fmt.Errorf("%s: %w", op, ErrUserExists)
	case !errors.Is(err, storage.ErrUserNotFound):
		log.Error("failed to get user", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	passHash, err := a.hasher.Hash(password)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	uid, err := a.userSaver.SaveUser(ctx, email, passHash)
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			log.Warn("user already exists", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, ErrUserExists)
		}
		log.Error("failed to save user", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pair, err := a.tokens.Issue(uid, email)
	if err != nil {
		log.Error("failed to issue tokens", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	session, err := a.sessionSaver.SaveSession(ctx, uid, pair.RefreshToken)
	if err != nil {
		log.Error("failed to save session", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user registered", slog.Int64("userID", uid), slog.Int64("sessionID", session.ID))

	return &models.Grant{AccessToken: pair.AccessToken, Session: *session}, nil
}

// Signin authenticates a user and issues a fresh token pair.
//
// presentedSessionID is the session id the caller already holds, 0 if none.
// When it is 0, or the user has no session yet, a new session row is inserted.
// Otherwise the user's existing session is rotated in place and keeps its id.
func (a *Auth) Signin(ctx context.Context, email, password string, presentedSessionID int64) (*models.Grant, error) {
	const op = "auth.Signin"
	log := a.log.With(slog.String("op", op))
	log.Info("signin request", slog.String("email", email))

	user, err := a.userProvider.User(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to get user", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !a.hasher.Verify(password, user.PassHash) {
		log.Warn("invalid password", slog.Int64("userID", user.ID))
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	pair, err := a.tokens.Issue(user.ID, user.Email)
	if err != nil {
		log.Error("failed to issue tokens", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	existing, err := a.sessionProvider.SessionByUser(ctx, user.ID)
	if err != nil && !errors.Is(err, storage.ErrSessionNotFound) {
		log.Error("failed to get session", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var session *models.Session
	if existing == nil || presentedSessionID == 0 {
		session, err = a.sessionSaver.SaveSession(ctx, user.ID, pair.RefreshToken)
	} else {
		session, err = a.sessionSaver.UpdateSession(ctx, existing.ID, pair.RefreshToken)
	}
	if err != nil {
		log.Error("failed to persist session", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info(
		"user signed in",
		slog.Int64("userID", user.ID),
		slog.Int64("sessionID", session.ID),
		slog.Bool("reused", existing != nil && presentedSessionID != 0),
	)

	return &models.Grant{AccessToken: pair.AccessToken, Session: *session}, nil
}

// Refresh exchanges a refresh token for a new pair. Both the token and the
// session id must match the stored row, so a rotated token or a bare
// session id is rejected.
func (a *Auth) Refresh(ctx context.Context, refreshToken string, sessionID int64) (*models.Grant, error) {
	const op = "auth.Refresh"
	log := a.log.With(
		slog.String("op", op),
		slog.Int64("sessionID", sessionID),
	)
	log.Info("refresh request")

	if _, err := a.tokens.VerifyRefresh(refreshToken); err != nil {
		log.Warn("invalid refresh token", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}

	existing, err := a.sessionProvider.SessionByIDAndToken(ctx, sessionID, refreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			log.Warn("session not found for refresh token", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, ErrUnauthorized)
		}
		log.Error("failed to get session", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pair, err := a.tokens.Issue(existing.User.ID, existing.User.Email)
	if err != nil {
		log.Error("failed to issue tokens", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	session, err := a.sessionSaver.UpdateSession(ctx, existing.ID, pair.RefreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			log.Warn("session removed during refresh", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, ErrUnauthorized)
		}
		log.Error("failed to rotate refresh token", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("tokens refreshed", slog.Int64("userID", existing.User.ID))

	return &models.Grant{AccessToken: pair.AccessToken, Session: *session}, nil
}

// Logout deletes the session holding refreshToken. An unknown token is a
// successful no-op, so logout is idempotent.
func (a *Auth) Logout(ctx context.Context, refreshToken string) error {
	const op = "auth.Logout"
	log := a.log.With(slog.String("op", op))
	log.Info("logout request")

	if refreshToken == "" {
		log.Warn("no refresh token presented")
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}

	session, err := a.sessionProvider.SessionByToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			log.Info("session already gone")
			return nil
		}
		log.Error("failed to get session", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.sessionSaver.DeleteSession(ctx, session.ID); err != nil {
		log.Error("failed to delete session", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user logged out", slog.Int64("userID", session.User.ID), slog.Int64("sessionID", session.ID))

	return nil
}

// Me returns the identity carried by a valid access token.
func (a *Auth) Me(_ context.Context, accessToken string) (models.Claims, error) {
	const op = "auth.Me"

	claims, err := a.tokens.VerifyAccess(accessToken)
	if err != nil {
		a.log.Warn("invalid access token", slog.String("op", op), sl.Err(err))
		return models.Claims{}, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}

	return claims, nil
}

// Users lists every registered user.
func (a *Auth) Users(ctx context.Context) ([]models.User, error) {
	const op = "auth.Users"

	users, err := a.userProvider.Users(ctx)
	if err != nil {
		a.log.Error("failed to list users", slog.String("op", op), sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return users, nil
}

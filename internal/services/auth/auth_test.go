package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"filevault/internal/domain/models"
	"filevault/internal/lib/handlers/slogdiscard"
	"filevault/internal/lib/jwt"
	"filevault/internal/lib/password"
	"filevault/internal/storage/memory"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const passDefaultLen = 10

type suite struct {
	auth    *Auth
	storage *memory.Storage
	tokens  *jwt.Issuer
}

func newSuite(t *testing.T) *suite {
	t.Helper()

	st := memory.New()
	tokens := jwt.New("access-secret", "refresh-secret", 10*time.Minute, 30*24*time.Hour)

	return &suite{
		auth: New(
			slogdiscard.NewDiscardLogger(),
			st, st, st, st,
			password.NewHasher(bcrypt.MinCost),
			tokens,
		),
		storage: st,
		tokens:  tokens,
	}
}

func randomPassword() string {
	return gofakeit.Password(true, true, true, true, false, passDefaultLen)
}

func TestSignup_HappyPath(t *testing.T) {
	ctx := context.Background()
	s := newSuite(t)
	email := gofakeit.Email()

	grant, err := s.auth.Signup(ctx, email, randomPassword())
	require.NoError(t, err)
	require.NotEmpty(t, grant.AccessToken)
	require.NotEmpty(t, grant.Session.RefreshToken)
	assert.NotZero(t, grant.Session.ID)
	assert.False(t, grant.Session.CreatedAt.IsZero())
	assert.Equal(t, email, grant.Session.User.Email)

	claims, err := s.tokens.VerifyAccess(grant.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, email, claims.Email)
	assert.Equal(t, grant.Session.User.ID, claims.UserID)

	stored, err := s.storage.SessionByToken(ctx, grant.Session.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, grant.Session.ID, stored.ID)
}

func TestSignup_DuplicatedEmail(t *testing.T) {
	ctx := context.Background()
	s := newSuite(t)

	for i := 0; i < 5; i++ {
		email := gofakeit.Email()

		_, err := s.auth.Signup(ctx, email, randomPassword())
		require.NoError(t, err)

		_, err = s.auth.Signup(ctx, email, randomPassword())
		require.ErrorIs(t, err, ErrUserExists)
	}
}

func TestSignin_FailCases(t *testing.T) {
	ctx := context.Background()
	s := newSuite(t)
	email := gofakeit.Email()
	pass := randomPassword()

	_, err := s.auth.Signup(ctx, email, pass)
	require.NoError(t, err)

	tests := []struct {
		name        string
		email       string
		password    string
		expectedErr error
	}{
		{
			name:        "Unknown email",
			email:       gofakeit.Email(),
			password:    pass,
			expectedErr: ErrUserNotFound,
		},
		{
			name:        "Wrong password",
			email:       email,
			password:    pass + "x",
			expectedErr: ErrInvalidCredentials,
		},
		{
			name:        "Empty password",
			email:       email,
			password:    "",
			expectedErr: ErrInvalidCredentials,
		},
		{
			name:        "Email in another case",
			email:       strings.ToUpper(email),
			password:    pass,
			expectedErr: ErrUserNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.auth.Signin(ctx, tt.email, tt.password, 0)
			require.ErrorIs(t, err, tt.expectedErr)
		})
	}
}

func TestSignin_WithoutPresentedSessionCreatesRow(t *testing.T) {
	ctx := context.Background()
	s := newSuite(t)
	email := gofakeit.Email()
	pass := randomPassword()

	signup, err := s.auth.Signup(ctx, email, pass)
	require.NoError(t, err)

	signin, err := s.auth.Signin(ctx, email, pass, 0)
	require.NoError(t, err)

	assert.NotEqual(t, signup.Session.ID, signin.Session.ID)
	assert.Equal(t, 2, s.storage.SessionCount(signup.Session.User.ID))

	// The signup session is untouched and still refreshable.
	_, err = s.auth.Refresh(ctx, signup.Session.RefreshToken, signup.Session.ID)
	require.NoError(t, err)
}

func TestSignin_WithPresentedSessionRotatesExistingRow(t *testing.T) {
	ctx := context.Background()
	s := newSuite(t)
	email := gofakeit.Email()
	pass := randomPassword()

	signup, err := s.auth.Signup(ctx, email, pass)
	require.NoError(t, err)

	signin, err := s.auth.Signin(ctx, email, pass, signup.Session.ID)
	require.NoError(t, err)

	assert.Equal(t, signup.Session.ID, signin.Session.ID)
	assert.NotEqual(t, signup.Session.RefreshToken, signin.Session.RefreshToken)
	assert.Equal(t, 1, s.storage.SessionCount(signup.Session.User.ID))

	_, err = s.auth.Refresh(ctx, signup.Session.RefreshToken, signup.Session.ID)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestSignin_PresentedSessionWithoutStoredRowCreatesRow(t *testing.T) {
	ctx := context.Background()
	s := newSuite(t)
	email := gofakeit.Email()
	pass := randomPassword()

	signup, err := s.auth.Signup(ctx, email, pass)
	require.NoError(t, err)
	require.NoError(t, s.auth.Logout(ctx, signup.Session.RefreshToken))

	signin, err := s.auth.Signin(ctx, email, pass, signup.Session.ID)
	require.NoError(t, err)

	assert.NotEqual(t, signup.Session.ID, signin.Session.ID)
	assert.Equal(t, 1, s.storage.SessionCount(signup.Session.User.ID))
}

func TestRefresh_RotationEndToEnd(t *testing.T) {
	ctx := context.Background()
	s := newSuite(t)

	signup, err := s.auth.Signup(ctx, "a@x.com", "pw123")
	require.NoError(t, err)
	oldToken := signup.Session.RefreshToken
	sessionID := signup.Session.ID

	refreshed, err := s.auth.Refresh(ctx, oldToken, sessionID)
	require.NoError(t, err)
	require.NotEmpty(t, refreshed.AccessToken)
	assert.Equal(t, sessionID, refreshed.Session.ID)
	assert.NotEqual(t, oldToken, refreshed.Session.RefreshToken)

	claims, err := s.tokens.VerifyAccess(refreshed.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", claims.Email)

	// A stale token fails every time.
	for i := 0; i < 2; i++ {
		_, err = s.auth.Refresh(ctx, oldToken, sessionID)
		require.ErrorIs(t, err, ErrUnauthorized)
	}

	_, err = s.auth.Refresh(ctx, refreshed.Session.RefreshToken, sessionID)
	require.NoError(t, err)
}

func TestRefresh_FailCases(t *testing.T) {
	ctx := context.Background()
	s := newSuite(t)

	first, err := s.auth.Signup(ctx, gofakeit.Email(), randomPassword())
	require.NoError(t, err)
	second, err := s.auth.Signup(ctx, gofakeit.Email(), randomPassword())
	require.NoError(t, err)

	foreign, err := jwt.New("x", "y", time.Minute, time.Minute).Issue(first.Session.User.ID, first.Session.User.Email)
	require.NoError(t, err)

	tests := []struct {
		name         string
		refreshToken string
		sessionID    int64
	}{
		{name: "Empty refresh token", refreshToken: "", sessionID: first.Session.ID},
		{name: "Malformed refresh token", refreshToken: "invalid-token", sessionID: first.Session.ID},
		{name: "Foreign signature", refreshToken: foreign.RefreshToken, sessionID: first.Session.ID},
		{name: "Access token instead of refresh", refreshToken: first.AccessToken, sessionID: first.Session.ID},
		{name: "Session id of another user", refreshToken: first.Session.RefreshToken, sessionID: second.Session.ID},
		{name: "Unknown session id", refreshToken: first.Session.RefreshToken, sessionID: 9999},
		{name: "Missing session id", refreshToken: first.Session.RefreshToken, sessionID: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.auth.Refresh(ctx, tt.refreshToken, tt.sessionID)
			require.ErrorIs(t, err, ErrUnauthorized)
		})
	}

	// None of the failures rotated anything.
	_, err = s.auth.Refresh(ctx, first.Session.RefreshToken, first.Session.ID)
	require.NoError(t, err)
}

func TestRefresh_ExpiredTokenMatchingStoredRow(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	expired := jwt.New("access-secret", "refresh-secret", time.Minute, -time.Minute)
	a := New(slogdiscard.NewDiscardLogger(), st, st, st, st, password.NewHasher(bcrypt.MinCost), expired)

	grant, err := a.Signup(ctx, gofakeit.Email(), randomPassword())
	require.NoError(t, err)

	_, err = a.Refresh(ctx, grant.Session.RefreshToken, grant.Session.ID)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestLogout_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newSuite(t)

	grant, err := s.auth.Signup(ctx, gofakeit.Email(), randomPassword())
	require.NoError(t, err)

	require.NoError(t, s.auth.Logout(ctx, grant.Session.RefreshToken))
	require.NoError(t, s.auth.Logout(ctx, grant.Session.RefreshToken))
	require.NoError(t, s.auth.Logout(ctx, "never-issued"))

	assert.Equal(t, 0, s.storage.SessionCount(grant.Session.User.ID))

	_, err = s.auth.Refresh(ctx, grant.Session.RefreshToken, grant.Session.ID)
	require.ErrorIs(t, err, ErrUnauthorized)

	err = s.auth.Logout(ctx, "")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestMe(t *testing.T) {
	ctx := context.Background()
	s := newSuite(t)
	email := gofakeit.Email()

	grant, err := s.auth.Signup(ctx, email, randomPassword())
	require.NoError(t, err)

	claims, err := s.auth.Me(ctx, grant.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, email, claims.Email)
	assert.Equal(t, grant.Session.User.ID, claims.UserID)

	_, err = s.auth.Me(ctx, grant.Session.RefreshToken)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = s.auth.Me(ctx, "")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	s := newSuite(t)

	emails := []string{gofakeit.Email(), gofakeit.Email()}
	for _, e := range emails {
		_, err := s.auth.Signup(ctx, e, randomPassword())
		require.NoError(t, err)
	}

	users, err := s.auth.Users(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, emails[0], users[0].Email)
	assert.Equal(t, emails[1], users[1].Email)
}

// Concurrent signins that present no session id each insert a row. This is
// the service's actual behaviour, not a guarantee of one session per user.
func TestSignin_ConcurrentWithoutSessionCreatesMultipleRows(t *testing.T) {
	ctx := context.Background()
	s := newSuite(t)
	email := gofakeit.Email()
	pass := randomPassword()

	signup, err := s.auth.Signup(ctx, email, pass)
	require.NoError(t, err)

	const n = 4
	var wg sync.WaitGroup
	ids := make([]int64, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			grant, err := s.auth.Signin(ctx, email, pass, 0)
			errs[i] = err
			if err == nil {
				ids[i] = grant.Session.ID
			}
		}(i)
	}
	wg.Wait()

	seen := map[int64]bool{}
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		seen[ids[i]] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, n+1, s.storage.SessionCount(signup.Session.User.ID))
}

// Concurrent refreshes of one session race: every caller that passed the
// lookup gets tokens, and the stored token is whichever rotation wrote last.
func TestRefresh_ConcurrentLastWriterWins(t *testing.T) {
	ctx := context.Background()
	s := newSuite(t)

	grant, err := s.auth.Signup(ctx, gofakeit.Email(), randomPassword())
	require.NoError(t, err)

	const n = 2
	var wg sync.WaitGroup
	results := make([]*models.Grant, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.auth.Refresh(ctx, grant.Session.RefreshToken, grant.Session.ID)
		}(i)
	}
	wg.Wait()

	issued := map[string]bool{}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			require.ErrorIs(t, errs[i], ErrUnauthorized)
			continue
		}
		issued[results[i].Session.RefreshToken] = true
	}
	require.NotEmpty(t, issued)

	stored, err := s.storage.SessionByUser(ctx, grant.Session.User.ID)
	require.NoError(t, err)
	assert.True(t, issued[stored.RefreshToken])
}

type failingStore struct {
	*memory.Storage
	err error
}

func (f failingStore) User(context.Context, string) (*models.User, error) {
	return nil, f.err
}

func TestStorageFailureIsNotATaxonomyError(t *testing.T) {
	ctx := context.Background()
	diskErr := errors.New("disk on fire")
	st := failingStore{Storage: memory.New(), err: diskErr}
	a := New(
		slogdiscard.NewDiscardLogger(),
		st, st, st, st,
		password.NewHasher(bcrypt.MinCost),
		jwt.New("a", "r", time.Minute, time.Hour),
	)

	_, err := a.Signup(ctx, gofakeit.Email(), "pw")
	require.ErrorIs(t, err, diskErr)

	_, err = a.Signin(ctx, gofakeit.Email(), "pw", 0)
	require.ErrorIs(t, err, diskErr)

	for _, kind := range []error{ErrUserExists, ErrUserNotFound, ErrInvalidCredentials, ErrUnauthorized} {
		assert.NotErrorIs(t, err, kind)
	}
}

func TestSignup_PasswordLongerThanBcryptLimit(t *testing.T) {
	ctx := context.Background()
	s := newSuite(t)
	email := gofakeit.Email()
	long := strings.Repeat("p", password.MaxLen+1)

	grant, err := s.auth.Signup(ctx, email, long)
	require.NoError(t, err)
	require.NotEmpty(t, grant.AccessToken)

	_, err = s.auth.Signin(ctx, email, long, 0)
	require.NoError(t, err)

	_, err = s.auth.Signin(ctx, email, long[:password.MaxLen-1], 0)
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

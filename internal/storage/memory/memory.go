package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"filevault/internal/domain/models"
	"filevault/internal/storage"
)

// Storage keeps users and sessions in process memory.
// Each method is atomic on its own; a find followed by a write is not.
type Storage struct {
	mu       sync.Mutex
	userSeq  int64
	sessSeq  int64
	users    map[int64]models.User
	byEmail  map[string]int64
	sessions map[int64]sessionRow
}

type sessionRow struct {
	id           int64
	userID       int64
	refreshToken string
	createdAt    time.Time
	updatedAt    time.Time
}

func New() *Storage {
	return &Storage{
		users:    make(map[int64]models.User),
		byEmail:  make(map[string]int64),
		sessions: make(map[int64]sessionRow),
	}
}

// Close is a noop for the in-memory store.
func (s *Storage) Close() error { return nil }

func (s *Storage) SaveUser(ctx context.Context, email string, passHash []byte) (int64, error) {
	const op = "storage.memory.SaveUser"
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[email]; ok {
		return 0, fmt.Errorf("%s: %w", op, storage.ErrUserExists)
	}

	s.userSeq++
	now := time.Now().UTC()
	s.users[s.userSeq] = models.User{
		ID:        s.userSeq,
		Email:     email,
		PassHash:  append([]byte(nil), passHash...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.byEmail[email] = s.userSeq

	return s.userSeq, nil
}

func (s *Storage) User(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.memory.User"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	u := s.users[id]
	u.PassHash = append([]byte(nil), u.PassHash...)
	return &u, nil
}

func (s *Storage) Users(ctx context.Context) ([]models.User, error) {
	const op = "storage.memory.Users"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		u.PassHash = nil
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (s *Storage) SaveSession(ctx context.Context, userID int64, refreshToken string) (*models.Session, error) {
	const op = "storage.memory.SaveSession"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	s.sessSeq++
	now := time.Now().UTC()
	row := sessionRow{
		id:           s.sessSeq,
		userID:       userID,
		refreshToken: refreshToken,
		createdAt:    now,
		updatedAt:    now,
	}
	s.sessions[row.id] = row

	return s.toModel(row), nil
}

// UpdateSession overwrites the refresh token; the last write wins.
func (s *Storage) UpdateSession(ctx context.Context, id int64, refreshToken string) (*models.Session, error) {
	const op = "storage.memory.UpdateSession"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
	}
	row.refreshToken = refreshToken
	row.updatedAt = time.Now().UTC()
	s.sessions[id] = row

	return s.toModel(row), nil
}

func (s *Storage) DeleteSession(ctx context.Context, id int64) error {
	const op = "storage.memory.DeleteSession"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// SessionByUser returns the oldest session of the user.
func (s *Storage) SessionByUser(ctx context.Context, userID int64) (*models.Session, error) {
	return s.find(ctx, "storage.memory.SessionByUser", func(r sessionRow) bool {
		return r.userID == userID
	})
}

func (s *Storage) SessionByIDAndToken(ctx context.Context, id int64, refreshToken string) (*models.Session, error) {
	return s.find(ctx, "storage.memory.SessionByIDAndToken", func(r sessionRow) bool {
		return r.id == id && r.refreshToken == refreshToken
	})
}

func (s *Storage) SessionByToken(ctx context.Context, refreshToken string) (*models.Session, error) {
	return s.find(ctx, "storage.memory.SessionByToken", func(r sessionRow) bool {
		return r.refreshToken == refreshToken
	})
}

// SessionCount reports how many session rows the user has.
func (s *Storage) SessionCount(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, r := range s.sessions {
		if r.userID == userID {
			n++
		}
	}
	return n
}

func (s *Storage) find(ctx context.Context, op string, match func(sessionRow) bool) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var found *sessionRow
	for _, r := range s.sessions {
		if !match(r) {
			continue
		}
		if found == nil || r.id < found.id {
			r := r
			found = &r
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
	}
	return s.toModel(*found), nil
}

// toModel must be called with s.mu held.
func (s *Storage) toModel(r sessionRow) *models.Session {
	u := s.users[r.userID]
	return &models.Session{
		ID:           r.id,
		RefreshToken: r.refreshToken,
		User: models.User{
			ID:    u.ID,
			Email: u.Email,
		},
		CreatedAt: r.createdAt,
		UpdatedAt: r.updatedAt,
	}
}

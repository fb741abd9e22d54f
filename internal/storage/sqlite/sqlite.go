package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"filevault/internal/domain/models"
	"filevault/internal/storage"

	"github.com/mattn/go-sqlite3"
)

type Storage struct {
	db *sql.DB
}

const sessionColumns = `
	SELECT s.id, s.refresh_token, s.created_at, s.updated_at, u.id, u.email
	FROM sessions s
	JOIN users u ON u.id = s.user_id`

// New returns a new instance of the Storage.
func New(storagePath string) (*Storage, error) {
	const op = "storage.sqlite.New"
	db, err := sql.Open("sqlite3", storagePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) SaveUser(ctx context.Context, email string, passHash []byte) (int64, error) {
	const op = "storage.sqlite.SaveUser"
	stmt, err := s.db.PrepareContext(ctx, "INSERT INTO users (email, pass_hash, created_at, updated_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	result, err := stmt.ExecContext(ctx, email, passHash, now, now)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

func (s *Storage) User(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.sqlite.User"
	row := s.db.QueryRowContext(ctx, "SELECT id, email, pass_hash, created_at, updated_at FROM users WHERE email = ?", email)
	var user models.User
	err := row.Scan(&user.ID, &user.Email, &user.PassHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &user, nil
}

func (s *Storage) Users(ctx context.Context) ([]models.User, error) {
	const op = "storage.sqlite.Users"
	rows, err := s.db.QueryContext(ctx, "SELECT id, email, created_at, updated_at FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return users, nil
}

func (s *Storage) SaveSession(ctx context.Context, userID int64, refreshToken string) (*models.Session, error) {
	const op = "storage.sqlite.SaveSession"
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (user_id, refresh_token, created_at, updated_at) VALUES (?, ?, ?, ?)",
		userID, refreshToken, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s.session(ctx, op, sessionColumns+" WHERE s.id = ?", id)
}

// UpdateSession overwrites the refresh token of session id. Concurrent
// updates are not serialized: the last write wins.
func (s *Storage) UpdateSession(ctx context.Context, id int64, refreshToken string) (*models.Session, error) {
	const op = "storage.sqlite.UpdateSession"
	result, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET refresh_token = ?, updated_at = ? WHERE id = ?",
		refreshToken, time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
	}
	return s.session(ctx, op, sessionColumns+" WHERE s.id = ?", id)
}

// DeleteSession removes session id. Deleting a missing session is not an error.
func (s *Storage) DeleteSession(ctx context.Context, id int64) error {
	const op = "storage.sqlite.DeleteSession"
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SessionByUser returns the oldest session of the user.
func (s *Storage) SessionByUser(ctx context.Context, userID int64) (*models.Session, error) {
	return s.session(ctx, "storage.sqlite.SessionByUser",
		sessionColumns+" WHERE s.user_id = ? ORDER BY s.id LIMIT 1", userID)
}

func (s *Storage) SessionByIDAndToken(ctx context.Context, id int64, refreshToken string) (*models.Session, error) {
	return s.session(ctx, "storage.sqlite.SessionByIDAndToken",
		sessionColumns+" WHERE s.id = ? AND s.refresh_token = ?", id, refreshToken)
}

func (s *Storage) SessionByToken(ctx context.Context, refreshToken string) (*models.Session, error) {
	return s.session(ctx, "storage.sqlite.SessionByToken",
		sessionColumns+" WHERE s.refresh_token = ? ORDER BY s.id LIMIT 1", refreshToken)
}

func (s *Storage) session(ctx context.Context, op, query string, args ...any) (*models.Session, error) {
	var sess models.Session
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&sess.ID,
		&sess.RefreshToken,
		&sess.CreatedAt,
		&sess.UpdatedAt,
		&sess.User.ID,
		&sess.User.Email,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &sess, nil
}

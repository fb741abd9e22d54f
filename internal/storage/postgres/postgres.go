package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"filevault/internal/domain/models"
	"filevault/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const sessionColumns = `
	SELECT s.id, s.refresh_token, s.created_at, s.updated_at, u.id, u.email
	FROM sessions s
	JOIN users u ON u.id = s.user_id`

type Storage struct {
	pool *pgxpool.Pool
}

// New opens a connection pool for dsn and checks that a connection can be acquired.
func New(ctx context.Context, dsn string) (*Storage, error) {
	const op = "storage.postgres.New"

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	return &Storage{pool: pool}, nil
}

func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

func (s *Storage) SaveUser(ctx context.Context, email string, passHash []byte) (int64, error) {
	const op = "storage.postgres.SaveUser"

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (email, pass_hash, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		RETURNING id
	`, email, passHash).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (s *Storage) User(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.postgres.User"

	var user models.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, pass_hash, created_at, updated_at
		FROM users
		WHERE email = $1
	`, email).Scan(&user.ID, &user.Email, &user.PassHash, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &user, nil
}

func (s *Storage) Users(ctx context.Context) ([]models.User, error) {
	const op = "storage.postgres.Users"

	rows, err := s.pool.Query(ctx, `SELECT id, email, created_at, updated_at FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.User, error) {
		var u models.User
		err := row.Scan(&u.ID, &u.Email, &u.CreatedAt, &u.UpdatedAt)
		return u, err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return users, nil
}

func (s *Storage) SaveSession(ctx context.Context, userID int64, refreshToken string) (*models.Session, error) {
	const op = "storage.postgres.SaveSession"

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sessions (user_id, refresh_token, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		RETURNING id
	`, userID, refreshToken).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.session(ctx, op, sessionColumns+" WHERE s.id = $1", id)
}

// UpdateSession overwrites the refresh token without row locking; the last write wins.
func (s *Storage) UpdateSession(ctx context.Context, id int64, refreshToken string) (*models.Session, error) {
	const op = "storage.postgres.UpdateSession"

	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET refresh_token = $2, updated_at = now()
		WHERE id = $1
	`, id, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
	}

	return s.session(ctx, op, sessionColumns+" WHERE s.id = $1", id)
}

func (s *Storage) DeleteSession(ctx context.Context, id int64) error {
	const op = "storage.postgres.DeleteSession"

	if _, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SessionByUser returns the oldest session of the user.
func (s *Storage) SessionByUser(ctx context.Context, userID int64) (*models.Session, error) {
	return s.session(ctx, "storage.postgres.SessionByUser",
		sessionColumns+" WHERE s.user_id = $1 ORDER BY s.id LIMIT 1", userID)
}

func (s *Storage) SessionByIDAndToken(ctx context.Context, id int64, refreshToken string) (*models.Session, error) {
	return s.session(ctx, "storage.postgres.SessionByIDAndToken",
		sessionColumns+" WHERE s.id = $1 AND s.refresh_token = $2", id, refreshToken)
}

func (s *Storage) SessionByToken(ctx context.Context, refreshToken string) (*models.Session, error) {
	return s.session(ctx, "storage.postgres.SessionByToken",
		sessionColumns+" WHERE s.refresh_token = $1 ORDER BY s.id LIMIT 1", refreshToken)
}

func (s *Storage) session(ctx context.Context, op, query string, args ...any) (*models.Session, error) {
	var sess models.Session
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&sess.ID,
		&sess.RefreshToken,
		&sess.CreatedAt,
		&sess.UpdatedAt,
		&sess.User.ID,
		&sess.User.Email,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &sess, nil
}

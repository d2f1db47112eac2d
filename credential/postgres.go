package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS fleet_users (
	id             TEXT PRIMARY KEY,
	email          TEXT NOT NULL,
	password_hash  TEXT NOT NULL,
	role           TEXT NOT NULL CHECK (role IN ('user', 'admin')),
	email_verified BOOLEAN NOT NULL DEFAULT FALSE,
	active         BOOLEAN NOT NULL DEFAULT TRUE,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS fleet_users_email_key ON fleet_users (lower(email));

CREATE TABLE IF NOT EXISTS fleet_login_history (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL DEFAULT '',
	email       TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	outcome     TEXT NOT NULL,
	metadata    JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS fleet_login_history_user_idx ON fleet_login_history (user_id, occurred_at DESC);
`

const selectUser = `SELECT id, email, password_hash, role, email_verified, active, created_at, updated_at FROM fleet_users`

// PostgresRepository implements both repositories on a pgx pool.
type PostgresRepository struct {
	db *pgxpool.Pool
}

var (
	_ UserRepository    = (*PostgresRepository)(nil)
	_ HistoryRepository = (*PostgresRepository)(nil)
)

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: pool}
}

// Migrate creates the tables and indexes if they do not exist.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("%w: migrate: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *PostgresRepository) InsertUser(ctx context.Context, u User) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO fleet_users (id, email, password_hash, role, email_verified, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, NormalizeEmail(u.Email), u.PasswordHash, string(u.Role), u.EmailVerified, u.Active, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("%w: insert user: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *PostgresRepository) UserByID(ctx context.Context, id string) (User, error) {
	return scanUser(r.db.QueryRow(ctx, selectUser+` WHERE id = $1`, id))
}

func (r *PostgresRepository) UserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(r.db.QueryRow(ctx, selectUser+` WHERE lower(email) = $1`, NormalizeEmail(email)))
}

func (r *PostgresRepository) UpdateUser(ctx context.Context, id string, fn func(*User) error) (User, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return User{}, fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	u, err := scanUser(tx.QueryRow(ctx, selectUser+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return User{}, err
	}
	if err := fn(&u); err != nil {
		return User{}, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE fleet_users
		    SET password_hash = $2, role = $3, email_verified = $4, active = $5, updated_at = $6
		  WHERE id = $1`,
		id, u.PasswordHash, string(u.Role), u.EmailVerified, u.Active, u.UpdatedAt,
	)
	if err != nil {
		return User{}, fmt.Errorf("%w: update user: %v", ErrUnavailable, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return User{}, fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}
	return u, nil
}

func (r *PostgresRepository) AppendLogin(ctx context.Context, rec LoginRecord) error {
	metadata := rec.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO fleet_login_history (id, user_id, email, occurred_at, outcome, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.UserID, rec.Email, rec.Timestamp, string(rec.Outcome), metadata,
	)
	if err != nil {
		return fmt.Errorf("%w: append login: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *PostgresRepository) ListLogins(ctx context.Context, userID string, limit int) ([]LoginRecord, error) {
	query := `SELECT id, user_id, email, occurred_at, outcome, metadata
	            FROM fleet_login_history
	           WHERE user_id = $1
	        ORDER BY occurred_at DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list logins: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	out := make([]LoginRecord, 0)
	for rows.Next() {
		var (
			rec     LoginRecord
			outcome string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Email, &rec.Timestamp, &outcome, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("%w: scan login: %v", ErrUnavailable, err)
		}
		rec.Outcome = Outcome(outcome)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list logins: %v", ErrUnavailable, err)
	}
	return out, nil
}

// Ping checks database reachability.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func scanUser(row pgx.Row) (User, error) {
	var (
		u    User
		role string
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &u.EmailVerified, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("%w: scan user: %v", ErrUnavailable, err)
	}
	u.Role = Role(role)
	return u, nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file" //used for migrations
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" //postgres driver
	"github.com/nmorozov/authd/internal/config"
	"github.com/nmorozov/authd/internal/logger"
	"github.com/nmorozov/authd/internal/repository/models"
)

// Connect opens and pings a Postgres connection described by cfg.
func Connect(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.DBName,
		cfg.SSLMode,
	)
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open db connection: %v", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("could not establish db connection: %v", err)
	}

	return db, nil
}

// refreshTokenQueries implements the per-record contract over either the
// connection pool or a transaction. Inside a transaction lookups lock the
// row so concurrent refresh/revoke attempts on one digest are serialized.
type refreshTokenQueries struct {
	ext       sqlx.ExtContext
	l         logger.Logger
	forUpdate bool
}

type refreshTokenRepo struct {
	refreshTokenQueries
	db *sqlx.DB
}

// NewRefreshTokenStore creates a Postgres-backed refresh token store on an
// already-open connection.
func NewRefreshTokenStore(db *sqlx.DB, l logger.Logger) models.RefreshTokenStore {
	return &refreshTokenRepo{
		refreshTokenQueries: refreshTokenQueries{ext: db, l: l},
		db:                  db,
	}
}

func (r *refreshTokenRepo) Close() error {
	return r.db.Close()
}

func (r *refreshTokenRepo) RunMigrations(migrationsPath string) error {
	driver, err := postgres.WithInstance(r.db.DB, &postgres.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://"+migrationsPath,
		"postgres", driver,
	)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}

	return nil
}

// InTx runs fn against a transaction-scoped repository whose lookups take
// row locks. Any error from fn rolls the transaction back.
func (r *refreshTokenRepo) InTx(ctx context.Context, fn func(models.RefreshTokenRepository) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	q := &refreshTokenQueries{ext: tx, l: r.l, forUpdate: true}
	if err := fn(q); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			r.l.Error("Failed to rollback transaction", logger.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (q *refreshTokenQueries) Create(ctx context.Context, token *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (user_id, token_hash, session_id, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	err := q.ext.QueryRowxContext(ctx, query, token.UserID, token.TokenHash, token.SessionID, token.ExpiresAt).
		Scan(&token.ID, &token.CreatedAt)
	if err != nil {
		q.l.Error("Failed to execute insert query", logger.Error(err))
		return fmt.Errorf("failed to create refresh token: %w", err)
	}

	q.l.Info("Refresh token created",
		logger.Int("id", token.ID),
		logger.String("session_id", token.SessionID))
	return nil
}

func (q *refreshTokenQueries) GetByDigest(ctx context.Context, digest string) (*models.RefreshToken, error) {
	query := `
		SELECT id, user_id, token_hash, session_id, created_at, expires_at, revoked, revoked_at, last_used_at
		FROM refresh_tokens
		WHERE token_hash = $1`
	if q.forUpdate {
		query += `
		FOR UPDATE`
	}

	token := &models.RefreshToken{}
	err := sqlx.GetContext(ctx, q.ext, token, query, digest)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	return token, nil
}

// MarkRevoked flips a record to revoked exactly once. Unknown or already
// revoked digests affect zero rows, which is not an error.
func (q *refreshTokenQueries) MarkRevoked(ctx context.Context, digest string, at time.Time) error {
	query := `
		UPDATE refresh_tokens
		SET revoked = true, revoked_at = $2
		WHERE token_hash = $1 AND revoked = false`

	result, err := q.ext.ExecContext(ctx, query, digest, at)
	if err != nil {
		q.l.Error("Failed to mark token as revoked", logger.Error(err))
		return fmt.Errorf("failed to mark token as revoked: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		q.l.Error("Failed to get rows affected after revoke", logger.Error(err))
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected > 0 {
		q.l.Info("Refresh token revoked")
	}
	return nil
}

func (q *refreshTokenQueries) Touch(ctx context.Context, digest string, at time.Time) error {
	query := `
		UPDATE refresh_tokens
		SET last_used_at = $2
		WHERE token_hash = $1`

	result, err := q.ext.ExecContext(ctx, query, digest, at)
	if err != nil {
		q.l.Error("Failed to stamp token usage", logger.Error(err))
		return fmt.Errorf("failed to stamp token usage: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return models.ErrNotFound
	}

	return nil
}

func (q *refreshTokenQueries) CleanExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM refresh_tokens WHERE expires_at < NOW()`

	result, err := q.ext.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to clean expired tokens: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

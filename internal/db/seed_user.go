package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/taskhubio/taskhub/internal/config"
	"github.com/taskhubio/taskhub/internal/domain/user"
	"github.com/taskhubio/taskhub/internal/security"
)

// EnsureSeedUser creates the optional bootstrap account on startup.
// No-op unless both SEED_USER_EMAIL and SEED_USER_PASSWORD are set, and
// idempotent when the account already exists.
func EnsureSeedUser(ctx context.Context, pool *pgxpool.Pool, cfg config.Config) error {
	if cfg.SeedEmail == "" || cfg.SeedPassword == "" {
		return nil
	}

	email := user.NormalizeEmail(cfg.SeedEmail)

	var dummy string

	err := pool.QueryRow(ctx, `SELECT id FROM users WHERE email = $1`, email).Scan(&dummy)

	if err == nil {
		return nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	hash, err := security.HashPassword(cfg.SeedPassword)

	if err != nil {
		return err
	}

	now := time.Now().UTC()

	_, err = pool.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		`,
		uuid.NewString(), email, hash, now, now,
	)

	return err
}

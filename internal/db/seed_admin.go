package db

import (
	"context"
	"errors"
	"time"

	"github.com/getourhome/agentservice/internal/config"
	"github.com/getourhome/agentservice/internal/domain/agent"
	"github.com/getourhome/agentservice/internal/security"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureAdminAgent seeds the bootstrap admin account. The admin signs in
// through the regular login endpoint, so it is stored as an already
// accepted agent with the ADMIN role.
func EnsureAdminAgent(ctx context.Context, pool *pgxpool.Pool, cfg config.Config) error {
	if cfg.AdminLoginID == "" || cfg.AdminPassword == "" {
		return nil
	}

	var dummy string

	err := pool.QueryRow(ctx, `SELECT id FROM agents WHERE login_id = $1`, cfg.AdminLoginID).Scan(&dummy)

	if err == nil {
		return nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	hash, err := security.HashPassword(cfg.AdminPassword)

	if err != nil {
		return err
	}

	now := time.Now().UTC()

	_, err = pool.Exec(ctx,
		`INSERT INTO agents (id, login_id, display_name, phone_number, registration_number, agency_name, password_hash, email, status, role, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`,
		uuid.NewString(),
		cfg.AdminLoginID,
		cfg.AdminName,
		"",
		"admin:"+cfg.AdminLoginID,
		"",
		hash,
		cfg.AdminLoginID+"@internal.getourhome",
		string(agent.StatusAccepted),
		agent.RoleAdmin,
		now,
		now,
	)

	return err
}

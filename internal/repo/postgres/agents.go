package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/getourhome/agentservice/internal/domain/agent"
	"github.com/getourhome/agentservice/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const agentColumns = `id, login_id, display_name, phone_number, registration_number,
	agency_name, password_hash, email, status, reject_reason, role, created_at, updated_at`

type AgentsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewAgentsRepo(pool *pgxpool.Pool, prom *observability.Prom) *AgentsRepo {
	return &AgentsRepo{
		pool: pool,
		prom: prom,
	}
}

func (repo *AgentsRepo) observe(op string, fn func() error) error {
	if repo.prom != nil {
		return repo.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (repo *AgentsRepo) scanRow(row pgx.Row, a *agent.Agent) error {
	var status string

	err := row.Scan(
		&a.ID,
		&a.LoginID,
		&a.DisplayName,
		&a.PhoneNumber,
		&a.RegistrationNumber,
		&a.AgencyName,
		&a.PasswordHash,
		&a.Email,
		&status,
		&a.RejectReason,
		&a.Role,
		&a.CreatedAt,
		&a.UpdatedAt,
	)

	if err != nil {
		return err
	}

	a.Status, err = agent.ParseStatus(status)

	return err
}

func (repo *AgentsRepo) getBy(ctx context.Context, op, where string, arg any) (found agent.Agent, err error) {
	var a agent.Agent

	err = repo.observe(op, func() error {
		return repo.scanRow(repo.pool.QueryRow(ctx,
			`SELECT `+agentColumns+` FROM agents WHERE `+where, arg,
		), &a)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = agent.ErrNotFound
		}
		return
	}

	found = a
	return
}

func (repo *AgentsRepo) GetByID(ctx context.Context, id string) (agent.Agent, error) {
	return repo.getBy(ctx, "agents.get_by_id", `id = $1`, id)
}

func (repo *AgentsRepo) GetByLoginID(ctx context.Context, loginID string) (agent.Agent, error) {
	return repo.getBy(ctx, "agents.get_by_login_id", `login_id = $1`, loginID)
}

func (repo *AgentsRepo) GetByEmail(ctx context.Context, email string) (agent.Agent, error) {
	return repo.getBy(ctx, "agents.get_by_email", `email = $1`, email)
}

func (repo *AgentsRepo) GetByRegistrationNumber(ctx context.Context, registrationNumber string) (agent.Agent, error) {
	return repo.getBy(ctx, "agents.get_by_registration_number", `registration_number = $1`, registrationNumber)
}

// Create inserts a new agent in PENDING state. Unique-index violations are
// mapped to the per-field duplicate error so a check-then-create race still
// surfaces as the same failure the pre-checks would have reported.
func (repo *AgentsRepo) Create(ctx context.Context, req agent.CreateAgentRequest, passwordHash string) (created agent.Agent, err error) {
	now := time.Now().UTC()

	a := agent.Agent{
		ID:                 uuid.NewString(),
		LoginID:            req.LoginID,
		DisplayName:        req.DisplayName,
		PhoneNumber:        req.PhoneNumber,
		RegistrationNumber: req.RegistrationNumber,
		AgencyName:         req.AgencyName,
		PasswordHash:       passwordHash,
		Email:              req.Email,
		Status:             agent.StatusPending,
		Role:               agent.RoleAgent,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err = repo.observe("agents.create", func() error {
		_, e := repo.pool.Exec(ctx,
			`INSERT INTO agents (`+agentColumns+`)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			a.ID, a.LoginID, a.DisplayName, a.PhoneNumber, a.RegistrationNumber,
			a.AgencyName, a.PasswordHash, a.Email, string(a.Status), a.RejectReason,
			a.Role, a.CreatedAt, a.UpdatedAt,
		)
		return e
	})

	if err != nil {
		err = mapUniqueViolation(err)
		return
	}

	created = a
	return
}

func (repo *AgentsRepo) UpdateAgencyName(ctx context.Context, id, agencyName string) (updated agent.Agent, err error) {
	var a agent.Agent

	err = repo.observe("agents.update_agency_name", func() error {
		return repo.scanRow(repo.pool.QueryRow(ctx,
			`UPDATE agents
			 SET agency_name = $2, updated_at = $3
			 WHERE id = $1
			 RETURNING `+agentColumns,
			id, agencyName, time.Now().UTC(),
		), &a)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = agent.ErrNotFound
		}
		return
	}

	updated = a
	return
}

// UpdateStatus applies an approval transition. The reason pointer is only
// written on rejection; accept leaves any prior reason untouched.
func (repo *AgentsRepo) UpdateStatus(ctx context.Context, id string, status agent.Status, reason *string) (updated agent.Agent, err error) {
	var a agent.Agent

	q := `UPDATE agents
		 SET status = $2, updated_at = $3
		 WHERE id = $1
		 RETURNING ` + agentColumns

	args := []any{id, string(status), time.Now().UTC()}

	if status == agent.StatusRejected {
		q = `UPDATE agents
			 SET status = $2, updated_at = $3, reject_reason = $4
			 WHERE id = $1
			 RETURNING ` + agentColumns
		args = append(args, reason)
	}

	err = repo.observe("agents.update_status", func() error {
		return repo.scanRow(repo.pool.QueryRow(ctx, q, args...), &a)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = agent.ErrNotFound
		}
		return
	}

	updated = a
	return
}

func (repo *AgentsRepo) ListByStatus(ctx context.Context, status *agent.Status) (agents []agent.Agent, err error) {
	q := `SELECT ` + agentColumns + ` FROM agents WHERE role = $1 ORDER BY created_at ASC, id ASC`
	args := []any{agent.RoleAgent}

	if status != nil {
		q = `SELECT ` + agentColumns + ` FROM agents WHERE role = $1 AND status = $2 ORDER BY created_at ASC, id ASC`
		args = append(args, string(*status))
	}

	var rows pgx.Rows

	err = repo.observe("agents.list_by_status", func() error {
		rows, err = repo.pool.Query(ctx, q, args...)
		return err
	})

	if err != nil {
		return
	}

	defer rows.Close()

	agents = make([]agent.Agent, 0)

	for rows.Next() {
		var a agent.Agent

		e := repo.scanRow(rows, &a)

		if e != nil {
			err = e
			return
		}
		agents = append(agents, a)
	}

	err = rows.Err()
	return
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError

	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}

	switch pgErr.ConstraintName {
	case "agents_login_id_uniq":
		return agent.ErrDuplicateLoginID
	case "agents_email_uniq":
		return agent.ErrDuplicateEmail
	case "agents_registration_number_uniq":
		return agent.ErrDuplicateRegistrationNumber
	}

	return err
}

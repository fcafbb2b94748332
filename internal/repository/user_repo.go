package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketplace-auth/internal/model"
)

const userColumns = `id, email, first_name, last_name, password_hash, google_subject,
	roles, active_role, is_verified, profile_completed, created_at, updated_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (model.Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	a, err := scanAccount(row)
	if err != nil {
		return model.Account{}, fmt.Errorf("find user by id: %w", err)
	}
	return a, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (model.Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, strings.TrimSpace(email))
	a, err := scanAccount(row)
	if err != nil {
		return model.Account{}, fmt.Errorf("find user by email: %w", err)
	}
	return a, nil
}

func (r *UserRepository) Create(ctx context.Context, a model.Account) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.Email, a.FirstName, a.LastName, a.PasswordHash, a.GoogleSubject,
		roleStrings(a.Roles), string(a.ActiveRole), a.IsVerified, a.ProfileCompleted, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.ErrUserAlreadyExists
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *UserRepository) Update(ctx context.Context, a model.Account) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET first_name = $2, last_name = $3, password_hash = $4, google_subject = $5,
		        roles = $6, active_role = $7, is_verified = $8, profile_completed = $9, updated_at = $10
		 WHERE id = $1`,
		a.ID, a.FirstName, a.LastName, a.PasswordHash, a.GoogleSubject,
		roleStrings(a.Roles), string(a.ActiveRole), a.IsVerified, a.ProfileCompleted, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (model.Account, error) {
	var (
		a          model.Account
		roles      []string
		activeRole string
	)
	err := row.Scan(&a.ID, &a.Email, &a.FirstName, &a.LastName, &a.PasswordHash, &a.GoogleSubject,
		&roles, &activeRole, &a.IsVerified, &a.ProfileCompleted, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, model.ErrUserNotFound
	}
	if err != nil {
		return model.Account{}, err
	}

	for _, raw := range roles {
		if role, ok := model.ParseRole(raw); ok {
			a.Roles = append(a.Roles, role)
		}
	}
	a.ActiveRole, _ = model.ParseRole(activeRole)
	return a, nil
}

func roleStrings(roles []model.Role) []string {
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		out = append(out, string(role))
	}
	return out
}

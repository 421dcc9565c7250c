package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"saas_template/internal/models"
)

const userColumns = `id, auth_id, email, first_name, last_name, image_url,
	is_admin, email_subscribed, created_at, updated_at`

// UserRepository handles the accounts synced from the identity provider
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

type userRow struct {
	ID              string  `db:"id"`
	AuthID          string  `db:"auth_id"`
	Email           string  `db:"email"`
	FirstName       *string `db:"first_name"`
	LastName        *string `db:"last_name"`
	ImageURL        *string `db:"image_url"`
	IsAdmin         bool    `db:"is_admin"`
	EmailSubscribed bool    `db:"email_subscribed"`
	CreatedAt       dbTime  `db:"created_at"`
	UpdatedAt       dbTime  `db:"updated_at"`
}

func (r *userRow) toModel() *models.User {
	return &models.User{
		ID:              r.ID,
		AuthID:          r.AuthID,
		Email:           r.Email,
		FirstName:       r.FirstName,
		LastName:        r.LastName,
		ImageURL:        r.ImageURL,
		IsAdmin:         r.IsAdmin,
		EmailSubscribed: r.EmailSubscribed,
		CreatedAt:       r.CreatedAt.Time,
		UpdatedAt:       r.UpdatedAt.Time,
	}
}

// nowExpr is the dialect's current timestamp in the stored format
func (r *UserRepository) nowExpr() string {
	if r.db.driver == DriverSQLite {
		return `strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`
	}
	return `NOW()`
}

func (r *UserRepository) getOne(ctx context.Context, where string, arg interface{}) (*models.User, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	query := r.db.conn.Rebind(`SELECT ` + userColumns + ` FROM users WHERE ` + where + ` = ?`)

	var row userRow
	err := r.db.conn.GetContext(ctx, &row, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return row.toModel(), nil
}

// GetByAuthID retrieves a user by token subject
func (r *UserRepository) GetByAuthID(ctx context.Context, authID string) (*models.User, error) {
	return r.getOne(ctx, "auth_id", authID)
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, "email", email)
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrUserNotFound
	}
	return r.getOne(ctx, "id", id)
}

// List returns every user ordered by email
func (r *UserRepository) List(ctx context.Context) ([]*models.User, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var rows []userRow
	query := `SELECT ` + userColumns + ` FROM users ORDER BY email ASC`
	if err := r.db.conn.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	users := make([]*models.User, 0, len(rows))
	for i := range rows {
		users = append(users, rows[i].toModel())
	}
	return users, nil
}

// Sync creates the user with u.AuthID or refreshes its profile fields.
// Admin and subscription flags of an existing user are kept. u is replaced
// with the stored row; created reports whether the row is new.
func (r *UserRepository) Sync(ctx context.Context, u *models.User) (created bool, err error) {
	if u.AuthID == "" {
		return false, fmt.Errorf("user auth id is required")
	}
	if u.Email == "" {
		return false, fmt.Errorf("user has no email address")
	}

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	insert := r.db.conn.Rebind(`
		INSERT INTO users (id, auth_id, email, first_name, last_name, image_url)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (auth_id) DO NOTHING
		RETURNING ` + userColumns)

	var row userRow
	err = r.db.conn.GetContext(ctx, &row, insert,
		uuid.NewString(), u.AuthID, u.Email, u.FirstName, u.LastName, u.ImageURL)
	switch {
	case err == nil:
		created = true
	case errors.Is(err, sql.ErrNoRows):
		update := r.db.conn.Rebind(`
			UPDATE users
			SET email = ?, first_name = ?, last_name = ?, image_url = ?, updated_at = ` + r.nowExpr() + `
			WHERE auth_id = ?
			RETURNING ` + userColumns)
		err = r.db.conn.GetContext(ctx, &row, update, u.Email, u.FirstName, u.LastName, u.ImageURL, u.AuthID)
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrUserNotFound
		}
		if err != nil {
			return false, fmt.Errorf("failed to update user: %w", err)
		}
	default:
		return false, fmt.Errorf("failed to create user: %w", err)
	}

	*u = *row.toModel()
	return created, nil
}

// SetAdmin grants or revokes admin access
func (r *UserRepository) SetAdmin(ctx context.Context, id string, isAdmin bool) (*models.User, error) {
	// ids are UUIDs; anything else cannot match and would be a type error in Postgres
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrUserNotFound
	}

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	query := r.db.conn.Rebind(`
		UPDATE users SET is_admin = ?, updated_at = ` + r.nowExpr() + `
		WHERE id = ?
		RETURNING ` + userColumns)

	var row userRow
	err := r.db.conn.GetContext(ctx, &row, query, isAdmin, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set admin flag: %w", err)
	}
	return row.toModel(), nil
}

// Unsubscribe turns off email for the user with the given address
func (r *UserRepository) Unsubscribe(ctx context.Context, email string) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	query := r.db.conn.Rebind(`
		UPDATE users SET email_subscribed = ?, updated_at = ` + r.nowExpr() + `
		WHERE email = ?`)

	result, err := r.db.conn.ExecContext(ctx, query, false, email)
	if err != nil {
		return fmt.Errorf("failed to unsubscribe user: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

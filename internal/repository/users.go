package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/wadi-transport/invoicesync/internal/conflict"
	"github.com/wadi-transport/invoicesync/internal/models"
)

const userColumns = `id, name, username, password, role, permissions, created_at, last_modified, last_modified_device, is_active`

// PostgresUserRepository implements user persistence against a
// PostgreSQL database.
type PostgresUserRepository struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
}

// NewPostgresUserRepository creates a user repository using the
// provided *sql.DB.
func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{DB: db}
}

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	var perms pq.StringArray
	var lastModifiedMs int64
	err := row.Scan(&u.ID, &u.Name, &u.Username, &u.Password, &u.Role, &perms,
		&u.CreatedAt, &lastModifiedMs, &u.LastModifiedDevice, &u.IsActive)
	if err != nil {
		return nil, err
	}
	u.Permissions = make([]models.Permission, len(perms))
	for i, p := range perms {
		u.Permissions[i] = models.Permission(p)
	}
	u.LastModified = msToTime(lastModifiedMs)
	u.Synced = true
	return &u, nil
}

func permStrings(perms []models.Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

// List returns all active users. The password hash is included so that
// clients can cache it for offline login; handlers decide whether to
// strip it from responses.
func (r *PostgresUserRepository) List(ctx context.Context) ([]models.User, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE is_active = true
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// GetByID fetches a single user by primary key.
func (r *PostgresUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetByUsername fetches an active user by login name.
func (r *PostgresUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE username = $1 AND is_active = true
	`, username))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return u, nil
}

// UpsertIfNewer applies the server-side LWW policy to a user write.
// It returns the winning record and whether the incoming write was
// applied. A colliding username on a different id yields
// ErrDuplicateKey and leaves the table unchanged.
func (r *PostgresUserRepository) UpsertIfNewer(ctx context.Context, u models.User) (*models.User, bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanUser(tx.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = $1
	`, u.ID))
	if err != nil && err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("check version: %w", err)
	}

	if existing != nil && !conflict.IncomingWins(u.LastModified, existing.LastModified) {
		return existing, false, nil
	}

	var dup bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM users WHERE username = $1 AND id <> $2)
	`, u.Username, u.ID).Scan(&dup)
	if err != nil {
		return nil, false, fmt.Errorf("check username: %w", err)
	}
	if dup {
		return nil, false, ErrDuplicateKey
	}

	u.Synced = true
	u.PendingSync = false

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, name, username, password, role, permissions, created_at, last_modified, last_modified_device, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			username = EXCLUDED.username,
			password = EXCLUDED.password,
			role = EXCLUDED.role,
			permissions = EXCLUDED.permissions,
			last_modified = EXCLUDED.last_modified,
			last_modified_device = EXCLUDED.last_modified_device,
			is_active = EXCLUDED.is_active
	`, u.ID, u.Name, u.Username, u.Password, u.Role, pq.Array(permStrings(u.Permissions)),
		u.CreatedAt, u.LastModified.UnixMilli(), u.LastModifiedDevice, u.IsActive)
	if err != nil {
		return nil, false, fmt.Errorf("upsert user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return &u, true, nil
}

// UpdatePermissions replaces a user's permission set and bumps the LWW
// clock. Returns the updated user.
func (r *PostgresUserRepository) UpdatePermissions(ctx context.Context, id string, perms []models.Permission, lastModifiedMs int64, device string) (*models.User, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE users SET permissions = $2, last_modified = $3, last_modified_device = $4 WHERE id = $1
	`, id, pq.Array(permStrings(perms)), lastModifiedMs, device)
	if err != nil {
		return nil, fmt.Errorf("update permissions: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

// Delete removes a user. The server's full user list is authoritative,
// so removal is a hard delete: clients reconcile by absence on their
// next pull.
func (r *PostgresUserRepository) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

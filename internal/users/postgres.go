package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gogotex/gogotex/backend/auth-service/internal/database"
	"github.com/gogotex/gogotex/backend/auth-service/internal/models"
)

const uniqueViolation = "23505"

const userColumns = `id, email, password_hash, display_name, role, email_verified, active,
	primary_provider, primary_provider_account_id, created_at, updated_at`

const linkColumns = `id, user_id, provider, provider_account_id, linked_email, linked_at`

// PostgresRepository stores users in PostgreSQL through database/sql and the
// pgx stdlib driver. Schema lives in internal/database/migrations.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) CreateUser(ctx context.Context, u *models.User) error {
	return insertUser(ctx, r.db, u)
}

func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (r *PostgresRepository) UpdateUser(ctx context.Context, u *models.User) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET email = $2, password_hash = $3, display_name = $4, role = $5,
		 email_verified = $6, active = $7, primary_provider = $8,
		 primary_provider_account_id = $9, updated_at = $10
		 WHERE id = $1`,
		u.ID, u.Email, u.PasswordHash, u.DisplayName, string(u.Role), u.EmailVerified, u.Active,
		u.PrimaryProvider, u.PrimaryProviderAccountID, u.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) CreateLink(ctx context.Context, l *models.ProviderLink) error {
	return insertLink(ctx, r.db, l)
}

func (r *PostgresRepository) GetLink(ctx context.Context, provider, accountID string) (*models.ProviderLink, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM provider_links WHERE provider = $1 AND provider_account_id = $2`,
		provider, accountID)
	l := &models.ProviderLink{}
	if err := row.Scan(&l.ID, &l.UserID, &l.Provider, &l.ProviderAccountID, &l.LinkedEmail, &l.LinkedAt); err != nil {
		return nil, mapErr(err)
	}
	return l, nil
}

func (r *PostgresRepository) ListLinks(ctx context.Context, userID string) ([]*models.ProviderLink, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+linkColumns+` FROM provider_links WHERE user_id = $1 ORDER BY linked_at`, userID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*models.ProviderLink
	for rows.Next() {
		l := &models.ProviderLink{}
		if err := rows.Scan(&l.ID, &l.UserID, &l.Provider, &l.ProviderAccountID, &l.LinkedEmail, &l.LinkedAt); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (r *PostgresRepository) CreateUserWithLink(ctx context.Context, u *models.User, l *models.ProviderLink) error {
	return database.WithTx(ctx, r.db, func(ctx context.Context, tx database.DBTX) error {
		if err := insertUser(ctx, tx, u); err != nil {
			return err
		}
		return insertLink(ctx, tx, l)
	})
}

func insertUser(ctx context.Context, db database.DBTX, u *models.User) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		u.ID, u.Email, u.PasswordHash, u.DisplayName, string(u.Role), u.EmailVerified, u.Active,
		u.PrimaryProvider, u.PrimaryProviderAccountID, u.CreatedAt, u.UpdatedAt)
	return mapErr(err)
}

func insertLink(ctx context.Context, db database.DBTX, l *models.ProviderLink) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO provider_links (`+linkColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		l.ID, l.UserID, l.Provider, l.ProviderAccountID, l.LinkedEmail, l.LinkedAt)
	return mapErr(err)
}

func scanUser(row *sql.Row) (*models.User, error) {
	u := &models.User{}
	var role string
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &role, &u.EmailVerified, &u.Active,
		&u.PrimaryProvider, &u.PrimaryProviderAccountID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	u.Role = models.Role(role)
	return u, nil
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrAlreadyExists
	}
	return fmt.Errorf("db error: %w", err)
}

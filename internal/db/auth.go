package db

import (
	"context"
	"time"

	"github.com/bosted-app/backend/internal/model"
	"github.com/jackc/pgx/v5"
)

const userColumns = `id, email, first_name, last_name, password_hash, role, bosted_id, created_at, updated_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		user     model.User
		role     string
		bostedID *int64
	)
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.PasswordHash,
		&role,
		&bostedID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, classify(err)
	}
	parsed, err := model.ParseRole(role)
	if err != nil {
		return nil, err
	}
	user.Role = parsed
	if bostedID != nil {
		user.TenantID = *bostedID
	}
	return &user, nil
}

func nullableTenant(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func (db *Postgres) CreateUser(ctx context.Context, user *model.User) error {
	ctx, cancel := db.bound(ctx)
	defer cancel()

	query := `
		INSERT INTO users (id, email, first_name, last_name, password_hash, role, bosted_id, created_at, updated_at)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING email, created_at, updated_at
	`
	err := db.Pool.QueryRow(ctx, query,
		user.ID,
		user.Email,
		user.FirstName,
		user.LastName,
		user.PasswordHash,
		user.Role.String(),
		nullableTenant(user.TenantID),
	).Scan(&user.Email, &user.CreatedAt, &user.UpdatedAt)
	return classify(err)
}

func (db *Postgres) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	ctx, cancel := db.bound(ctx)
	defer cancel()

	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	return scanUser(db.Pool.QueryRow(ctx, query, email))
}

func (db *Postgres) FindUserByID(ctx context.Context, userID string) (*model.User, error) {
	ctx, cancel := db.bound(ctx)
	defer cancel()

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(db.Pool.QueryRow(ctx, query, userID))
}

func (db *Postgres) UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error {
	ctx, cancel := db.bound(ctx)
	defer cancel()

	tag, err := db.Pool.Exec(ctx, `
		UPDATE users
		SET password_hash = $2, updated_at = NOW()
		WHERE id = $1
	`, userID, passwordHash)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (db *Postgres) EnsureRole(ctx context.Context, role model.Role) error {
	if !role.Valid() {
		return model.ErrUnknownRole
	}
	ctx, cancel := db.bound(ctx)
	defer cancel()

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO roles (name, created_at)
		VALUES ($1, NOW())
		ON CONFLICT (name) DO NOTHING
	`, role.String())
	return classify(err)
}

func (db *Postgres) AssignRole(ctx context.Context, userID string, role model.Role) error {
	ctx, cancel := db.bound(ctx)
	defer cancel()

	tag, err := db.Pool.Exec(ctx, `
		UPDATE users
		SET role = $2, updated_at = NOW()
		WHERE id = $1
	`, userID, role.String())
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (db *Postgres) InsertRefreshToken(ctx context.Context, token *model.RefreshToken) error {
	ctx, cancel := db.bound(ctx)
	defer cancel()

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO refresh_tokens (token_hash, user_id, expiry_date, is_used, is_revoked, created_at)
		VALUES ($1, $2, $3, FALSE, FALSE, $4)
	`, token.TokenHash, token.UserID, token.ExpiresAt, token.CreatedAt)
	return classify(err)
}

// ConsumeRefreshToken is the single-statement compare-and-set behind Redeem:
// the row lock taken by UPDATE serializes concurrent callers and only the
// first one still sees is_used = FALSE.
func (db *Postgres) ConsumeRefreshToken(ctx context.Context, tokenHash string, now time.Time) (string, bool, error) {
	ctx, cancel := db.bound(ctx)
	defer cancel()

	var userID string
	err := db.Pool.QueryRow(ctx, `
		UPDATE refresh_tokens
		SET is_used = TRUE
		WHERE token_hash = $1
		  AND is_used = FALSE
		  AND is_revoked = FALSE
		  AND expiry_date >= $2
		RETURNING user_id
	`, tokenHash, now).Scan(&userID)
	if err != nil {
		if IsNoRows(err) {
			return "", false, nil
		}
		return "", false, classify(err)
	}
	return userID, true, nil
}

func (db *Postgres) GetRefreshToken(ctx context.Context, tokenHash string) (*model.RefreshToken, error) {
	ctx, cancel := db.bound(ctx)
	defer cancel()

	var token model.RefreshToken
	err := db.Pool.QueryRow(ctx, `
		SELECT token_hash, user_id, expiry_date, is_used, is_revoked, created_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`, tokenHash).Scan(
		&token.TokenHash,
		&token.UserID,
		&token.ExpiresAt,
		&token.IsUsed,
		&token.IsRevoked,
		&token.CreatedAt,
	)
	if err != nil {
		return nil, classify(err)
	}
	return &token, nil
}

func (db *Postgres) RevokeRefreshToken(ctx context.Context, tokenHash string) (bool, error) {
	ctx, cancel := db.bound(ctx)
	defer cancel()

	tag, err := db.Pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET is_revoked = TRUE
		WHERE token_hash = $1 AND is_revoked = FALSE
	`, tokenHash)
	if err != nil {
		return false, classify(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (db *Postgres) RevokeUserRefreshTokens(ctx context.Context, userID string, now time.Time) (int64, error) {
	ctx, cancel := db.bound(ctx)
	defer cancel()

	tag, err := db.Pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET is_revoked = TRUE
		WHERE user_id = $1 AND is_revoked = FALSE AND expiry_date >= $2
	`, userID, now)
	if err != nil {
		return 0, classify(err)
	}
	return tag.RowsAffected(), nil
}

func (db *Postgres) DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := db.bound(ctx)
	defer cancel()

	tag, err := db.Pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expiry_date < $1`, before)
	if err != nil {
		return 0, classify(err)
	}
	return tag.RowsAffected(), nil
}

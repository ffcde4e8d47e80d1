package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/tour-booking-api/internal/models"
)

func userSchema() Schema[models.User] {
	return Schema[models.User]{
		Table: "users",
		Alias: "t",
		Scope: "t.active = TRUE",
		Columns: []Column{
			{Field: "id", DB: "id", Kind: KindID},
			{Field: "name", DB: "name", Kind: KindString},
			{Field: "email", DB: "email", Kind: KindString},
			{Field: "photo", DB: "photo", Kind: KindString},
			{Field: "role", DB: "role", Kind: KindString},
			{Field: "passwordHash", DB: "password_hash", Secret: true, Immutable: true},
			{Field: "passwordChangedAt", DB: "password_changed_at", Secret: true, ReadOnly: true},
			{Field: "passwordResetToken", DB: "password_reset_token", Secret: true, ReadOnly: true},
			{Field: "passwordResetExpires", DB: "password_reset_expires", Secret: true, ReadOnly: true},
			{Field: "active", DB: "active", Secret: true, ReadOnly: true},
			{Field: "createdAt", DB: "created_at", Kind: KindTime, ReadOnly: true},
		},
		Uniques: map[string]Unique{
			"users_email_key": {Field: "email", Message: "email is already in use"},
		},
		ID: func(u *models.User) *string { return &u.ID },
	}
}

// UserRepository provides database access for active users. Credential
// columns are only written through the dedicated methods below.
type UserRepository struct {
	*Table[models.User]
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{Table: NewTable(db, userSchema())}
}

// FindByEmail returns an active user by email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.FindOne(ctx, "email", strings.ToLower(strings.TrimSpace(email)))
}

// FindByIDs returns the active users with the given ids.
func (r *UserRepository) FindByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE t.id = ANY($1) AND t.active = TRUE ORDER BY t.name", r.selectList(), r.from())
	users := make([]models.User, 0, len(ids))
	if err := r.DB().SelectContext(ctx, &users, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("find users by ids: %w", err)
	}
	return users, nil
}

// SetPassword stores a new hash, records the change time and clears any
// outstanding reset token.
func (r *UserRepository) SetPassword(ctx context.Context, id, hash string, changedAt time.Time) error {
	const query = `UPDATE users SET password_hash = $2, password_changed_at = $3, password_reset_token = NULL, password_reset_expires = NULL WHERE id = $1 AND active = TRUE`
	res, err := r.DB().ExecContext(ctx, query, id, hash, changedAt)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	return requireAffected(res)
}

// SetResetToken stores the hash of an issued reset token.
func (r *UserRepository) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	const query = `UPDATE users SET password_reset_token = $2, password_reset_expires = $3 WHERE id = $1 AND active = TRUE`
	res, err := r.DB().ExecContext(ctx, query, id, tokenHash, expiresAt)
	if err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}
	return requireAffected(res)
}

// ClearResetToken drops any outstanding reset token.
func (r *UserRepository) ClearResetToken(ctx context.Context, id string) error {
	const query = `UPDATE users SET password_reset_token = NULL, password_reset_expires = NULL WHERE id = $1`
	if _, err := r.DB().ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("clear reset token: %w", err)
	}
	return nil
}

// ConsumeResetToken swaps the password of the user holding an unexpired
// token with the given hash. The single conditional update makes the token
// single use. Unknown or expired tokens return sql.ErrNoRows and change
// nothing.
func (r *UserRepository) ConsumeResetToken(ctx context.Context, tokenHash, newHash string, now time.Time) (string, error) {
	const query = `UPDATE users SET password_hash = $2, password_changed_at = $3, password_reset_token = NULL, password_reset_expires = NULL
	WHERE password_reset_token = $1 AND password_reset_expires > $3 AND active = TRUE
	RETURNING id`
	var id string
	if err := r.DB().GetContext(ctx, &id, query, tokenHash, newHash, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
		return "", fmt.Errorf("consume reset token: %w", err)
	}
	return id, nil
}

// PurgeExpiredResetTokens clears reset tokens that expired before now.
func (r *UserRepository) PurgeExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	const query = `UPDATE users SET password_reset_token = NULL, password_reset_expires = NULL WHERE password_reset_expires IS NOT NULL AND password_reset_expires <= $1`
	res, err := r.DB().ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("purge reset tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge reset tokens: %w", err)
	}
	return n, nil
}

// Deactivate soft-deletes a user.
func (r *UserRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE users SET active = FALSE WHERE id = $1 AND active = TRUE`
	res, err := r.DB().ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	return requireAffected(res)
}

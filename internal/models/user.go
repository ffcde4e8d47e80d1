package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleUser      UserRole = "user"
	RoleGuide     UserRole = "guide"
	RoleLeadGuide UserRole = "lead-guide"
	RoleAdmin     UserRole = "admin"
)

// DefaultPhoto is assigned to accounts without an uploaded photo.
const DefaultPhoto = "default.jpg"

// CredentialState is derived from the reset fields of a user.
type CredentialState string

const (
	CredentialActive       CredentialState = "active"
	CredentialResetPending CredentialState = "password_reset_pending"
)

// User represents an application user stored in the users table.
type User struct {
	ID                   string     `db:"id" json:"id"`
	Name                 string     `db:"name" json:"name" validate:"required,max=80"`
	Email                string     `db:"email" json:"email" validate:"required,email"`
	Photo                string     `db:"photo" json:"photo"`
	Role                 UserRole   `db:"role" json:"role" validate:"required,oneof=user guide lead-guide admin"`
	PasswordHash         string     `db:"password_hash" json:"-"`
	PasswordChangedAt    *time.Time `db:"password_changed_at" json:"-"`
	PasswordResetToken   *string    `db:"password_reset_token" json:"-"`
	PasswordResetExpires *time.Time `db:"password_reset_expires" json:"-"`
	Active               bool       `db:"active" json:"-"`
	CreatedAt            time.Time  `db:"created_at" json:"createdAt"`
}

// CredentialState reports whether a usable reset token is outstanding.
func (u *User) CredentialState(now time.Time) CredentialState {
	if u.PasswordResetToken != nil && u.PasswordResetExpires != nil && u.PasswordResetExpires.After(now) {
		return CredentialResetPending
	}
	return CredentialActive
}

// ChangedPasswordAfter reports whether the password changed after a token
// was issued. Both sides are compared at millisecond precision.
func (u *User) ChangedPasswordAfter(issuedAtMs int64) bool {
	if u.PasswordChangedAt == nil {
		return false
	}
	return issuedAtMs < u.PasswordChangedAt.UnixMilli()
}

// HasRole reports whether the user holds one of roles.
func (u *User) HasRole(roles ...UserRole) bool {
	for _, role := range roles {
		if u.Role == role {
			return true
		}
	}
	return false
}

package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles form a closed set; authorization is a plain (role, action) table,
// see CanModerate below.
const (
	RoleStudent       = "student"
	RoleTeacher       = "teacher"
	RoleChapterAdmin  = "chapter_admin"
	RolePlatformAdmin = "platform_admin"
)

// User is created by the identity collaborator. The id is an opaque text
// value; nothing in this service parses it.
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	FirstName    string    `db:"first_name" json:"first_name"`
	LastName     string    `db:"last_name" json:"last_name"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Claims defines the structure of the JWT claims.
type Claims struct {
	UserID string `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Actor is the authenticated caller as seen by the service layer.
type Actor struct {
	ID   string
	Role string
}

// CanModerate reports whether a role may apply moderation actions.
func CanModerate(role string) bool {
	return role == RoleChapterAdmin || role == RolePlatformAdmin
}

func ValidRole(role string) bool {
	switch role {
	case RoleStudent, RoleTeacher, RoleChapterAdmin, RolePlatformAdmin:
		return true
	}
	return false
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account is a billing account (a hotel using the product).
type Account struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewAccountID generates a fresh account identifier.
func NewAccountID() string {
	return uuid.New().String()
}

// LoginRequest is the input for POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the signed token and basic profile.
type LoginResponse struct {
	Token   string       `json:"token"`
	Account LoginAccount `json:"account"`
}

// LoginAccount is the profile fragment embedded in a login response.
type LoginAccount struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// JWTClaims are the claims this service reads from a verified token.
type JWTClaims struct {
	Sub   string
	Email string
	Role  string
}

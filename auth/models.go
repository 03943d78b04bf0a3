package auth

import "time"

type Role string

const (
	// RoleTrader can create escrows, confirm delivery, request release,
	// refund and dispute its own deals.
	RoleTrader Role = "trader"
	// RoleArbiter resolves disputed escrows.
	RoleArbiter Role = "arbiter"
	// RoleOracle reports deposit proofs.
	RoleOracle Role = "oracle"
	// RoleAssessor attaches risk scores and tags.
	RoleAssessor Role = "assessor"
)

// User is the domain representation of an authenticated caller.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

package models

import "golang.org/x/crypto/bcrypt"

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
	// Bots are regular users from the protocol's point of view but are
	// treated differently during matchmaking (never paired together).
	RoleBot UserRole = "bot"
)

// Rating is a Bayesian skill estimate. New users start at DefaultRating.
type Rating struct {
	Mu    float64 `json:"mu" db:"mu"`
	Sigma float64 `json:"sigma" db:"sigma"`
}

// DefaultRating returns the rating assigned to users without any played games.
func DefaultRating() Rating {
	return Rating{Mu: 25.0, Sigma: 25.0 / 3.0}
}

// User is a persistent account. Users outlive connections; a connected
// client is bound to a user only after token authentication.
type User struct {
	ID           int      `json:"id" db:"user_id"`
	Username     string   `json:"username" db:"username"`
	PasswordHash string   `json:"-" db:"password"`
	Token        string   `json:"-" db:"token"`
	Role         UserRole `json:"role" db:"role"`
	Rating       Rating   `json:"rating"`
}

// HashPassword hashes a plaintext password for storage.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword verifies a plaintext password against the stored hash.
func (u *User) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	return err == nil
}

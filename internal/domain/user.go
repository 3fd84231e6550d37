package domain

import (
	"time"
)

// Auth providers a user account can originate from.
const (
	ProviderLocal    = "local"
	ProviderGoogle   = "google"
	ProviderFacebook = "facebook"
)

// Role constants define the allowed user roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// IsValidProvider checks whether p is a known auth provider.
func IsValidProvider(p string) bool {
	switch p {
	case ProviderLocal, ProviderGoogle, ProviderFacebook:
		return true
	}
	return false
}

// User represents a registered user in the system.
type User struct {
	ID           string          `json:"id"`
	Username     string          `json:"username"`
	Email        string          `json:"email"`
	PasswordHash string          `json:"-"`
	FederatedID  string          `json:"federated_id,omitempty"`
	AuthProvider string          `json:"auth_provider"`
	Sessions     SessionRegistry `json:"-"`
	Role         string          `json:"role"`
	LastLoginAt  *time.Time      `json:"last_login_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TokenPair holds an access and refresh token pair.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"-"`
}

package auth

import "github.com/golang-jwt/jwt/v5"

// SessionClaims is the JWT payload of a coverbridge session.
type SessionClaims struct {
	jwt.RegisteredClaims
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name,omitempty"`
	LoginMethod string `json:"login_method,omitempty"` // "local" or "guest"
}

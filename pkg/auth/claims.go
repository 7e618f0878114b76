package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID string
	JTI    string
}

// AccessTokenClaims represents the typed JWT presented by cart clients. The same token is
// forwarded to the remote cart service.
type AccessTokenClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// User returns the user id, falling back to the registered subject claim.
func (c *AccessTokenClaims) User() string {
	if c == nil {
		return ""
	}
	if c.UserID != "" {
		return c.UserID
	}
	return c.RegisteredClaims.Subject
}

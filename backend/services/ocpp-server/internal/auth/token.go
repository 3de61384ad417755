package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Operator roles.
const (
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// Claims represents the JWT payload issued by the auth service.
type Claims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenValidator verifies HS256 operator tokens. Issuing them is the auth service's job.
type TokenValidator struct {
	secret []byte
}

// NewTokenValidator returns validator.
func NewTokenValidator(secret string) *TokenValidator {
	return &TokenValidator{secret: []byte(secret)}
}

// Validate verifies and decodes a token.
func (t *TokenValidator) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("token: unexpected signing method")
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("token: invalid claims")
}

// CanCommand reports whether the role may send commands to charge points.
func (c *Claims) CanCommand() bool {
	return c.Role == RoleOperator || c.Role == RoleAdmin
}

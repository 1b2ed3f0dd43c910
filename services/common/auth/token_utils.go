package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// TokenTypeAccess is the "typ" claim carried by access tokens.
const TokenTypeAccess = "access"

var (
	ErrSecretNotConfigured = errors.New("JWT secret not configured")
	ErrInvalidToken        = errors.New("invalid or expired token")
	ErrMissingSubject      = errors.New("token has no subject")
)

// Validator checks HMAC-signed tokens issued by the auth service.
type Validator struct {
	secret []byte
}

func NewValidator(secret string) *Validator {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &Validator{}
	}
	return &Validator{secret: []byte(secret)}
}

// ParseAndValidateToken parses a JWT token string and returns its claims.
// If expectedType is non-empty, a "typ" claim must match it when present.
func (v *Validator) ParseAndValidateToken(tokenStr, expectedType string) (jwt.MapClaims, error) {
	if v.secret == nil {
		return nil, ErrSecretNotConfigured
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || token == nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	if expectedType != "" {
		if typ, present := claims["typ"]; present {
			if s, ok := typ.(string); !ok || s != expectedType {
				return nil, fmt.Errorf("invalid token type")
			}
		}
	}
	return claims, nil
}

// ReferenceFromToken returns the "sub" claim of a valid access token. The
// subject is the user's email or phone number.
func (v *Validator) ReferenceFromToken(tokenStr string) (string, error) {
	claims, err := v.ParseAndValidateToken(tokenStr, TokenTypeAccess)
	if err != nil {
		return "", err
	}
	sub, _ := claims["sub"].(string)
	if strings.TrimSpace(sub) == "" {
		return "", ErrMissingSubject
	}
	return sub, nil
}

package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/yashrajoria/storefront/services/common/errors"
)

const (
	ReferenceContextKey = "reference"

	// Set by the API gateway after it has validated the session.
	ReferenceHeader = "X-User-Reference"
	EmailHeader     = "X-User-Email"
)

// ReferenceExtractor pulls the user's reference out of a bearer token.
type ReferenceExtractor interface {
	ReferenceFromToken(token string) (string, error)
}

// AuthMiddleware resolves the caller's reference from a bearer token, or from
// gateway headers when trustGateway is set. A bearer token that fails
// validation is rejected even if gateway headers are present.
func AuthMiddleware(tokens ReferenceExtractor, trustGateway bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var reference string

		if token, ok := bearerToken(c.GetHeader("Authorization")); ok && tokens != nil {
			ref, err := tokens.ReferenceFromToken(token)
			if err != nil {
				apperrors.Response(c, apperrors.WithMessage(apperrors.ErrUnauthorized, "Invalid or expired token"))
				return
			}
			reference = ref
		} else if trustGateway {
			reference = c.GetHeader(ReferenceHeader)
			if reference == "" {
				reference = c.GetHeader(EmailHeader)
			}
			if reference == "" {
				if v, err := c.Cookie("user_email"); err == nil {
					reference = v
				}
			}
		}

		reference = strings.TrimSpace(reference)
		if reference == "" {
			apperrors.Response(c, apperrors.ErrUnauthorized)
			return
		}

		c.Set(ReferenceContextKey, reference)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

// GetReference extracts the caller's reference from the Gin context.
func GetReference(c *gin.Context) (string, error) {
	if val, ok := c.Get(ReferenceContextKey); ok {
		if ref, ok := val.(string); ok && ref != "" {
			return ref, nil
		}
	}
	return "", errors.New("reference not found in context")
}

package services

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	apperrors "github.com/yashrajoria/storefront/services/common/errors"
	"github.com/yashrajoria/storefront/services/cart-service/repository"
)

// ReferenceKind says which user field a reference is matched against.
type ReferenceKind int

const (
	ReferenceInvalid ReferenceKind = iota
	ReferenceEmail
	ReferencePhone
)

func (k ReferenceKind) String() string {
	switch k {
	case ReferenceEmail:
		return "email"
	case ReferencePhone:
		return "phone"
	default:
		return "invalid"
	}
}

var (
	emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9]{10,15}$`)
)

// IdentityResolver turns a reference (email or phone number) into a user id.
type IdentityResolver interface {
	Classify(reference string) ReferenceKind
	Resolve(ctx context.Context, reference string) (int64, *apperrors.Error)
}

type identityResolverImpl struct {
	users  repository.UserRepository
	logger *zap.Logger
}

func NewIdentityResolver(users repository.UserRepository, logger *zap.Logger) IdentityResolver {
	return &identityResolverImpl{users: users, logger: logger}
}

// Classify tries the email shape first, then the phone shape. The two
// patterns share no valid input.
func (r *identityResolverImpl) Classify(reference string) ReferenceKind {
	reference = strings.TrimSpace(reference)
	switch {
	case reference == "":
		return ReferenceInvalid
	case emailPattern.MatchString(reference):
		return ReferenceEmail
	case phonePattern.MatchString(reference):
		return ReferencePhone
	default:
		return ReferenceInvalid
	}
}

func (r *identityResolverImpl) Resolve(ctx context.Context, reference string) (int64, *apperrors.Error) {
	reference = strings.TrimSpace(reference)

	var (
		userID int64
		err    error
	)
	switch kind := r.Classify(reference); kind {
	case ReferenceEmail:
		userID, err = r.users.FindUserIDByEmail(ctx, reference)
	case ReferencePhone:
		userID, err = r.users.FindUserIDByNumber(ctx, reference)
	default:
		return 0, apperrors.ErrInvalidReference
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, apperrors.ErrUserNotFound
	}
	if err != nil {
		r.logger.Error("User lookup failed", zap.Error(err))
		return 0, apperrors.Unknown("Failed to resolve user", err)
	}
	return userID, nil
}

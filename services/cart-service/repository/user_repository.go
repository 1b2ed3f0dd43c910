package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/yashrajoria/storefront/services/cart-service/models"
)

// UserRepository looks up user ids in the users table owned by the user
// service. Both methods return gorm.ErrRecordNotFound when nothing matches.
type UserRepository interface {
	FindUserIDByEmail(ctx context.Context, email string) (int64, error)
	FindUserIDByNumber(ctx context.Context, number string) (int64, error)
}

type GormUserRepository struct {
	db *gorm.DB
}

func NewGormUserRepository(db *gorm.DB) UserRepository {
	return &GormUserRepository{db: db}
}

// FindUserIDByEmail matches case-insensitively.
func (r *GormUserRepository) FindUserIDByEmail(ctx context.Context, email string) (int64, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Select("id").
		Where("LOWER(email) = ?", strings.ToLower(email)).
		Take(&user).Error
	if err != nil {
		return 0, err
	}
	return user.ID, nil
}

func (r *GormUserRepository) FindUserIDByNumber(ctx context.Context, number string) (int64, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Select("id").
		Where("number = ?", number).
		Take(&user).Error
	if err != nil {
		return 0, err
	}
	return user.ID, nil
}

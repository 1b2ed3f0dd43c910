package repository

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/yashrajoria/storefront/services/cart-service/models"
)

// ProductRepository reads the products table owned by the product service.
type ProductRepository interface {
	FindPriceByID(ctx context.Context, productID int64) (decimal.Decimal, error)
	ExistsByID(ctx context.Context, productID int64) (bool, error)
	FindByIDs(ctx context.Context, productIDs []int64) ([]models.Product, error)
}

type GormProductRepository struct {
	db *gorm.DB
}

func NewGormProductRepository(db *gorm.DB) ProductRepository {
	return &GormProductRepository{db: db}
}

// FindPriceByID returns the price of an active product with a positive price,
// and gorm.ErrRecordNotFound for anything else.
func (r *GormProductRepository) FindPriceByID(ctx context.Context, productID int64) (decimal.Decimal, error) {
	var p models.Product
	err := r.db.WithContext(ctx).
		Select("id", "price").
		Where("id = ? AND active = ? AND price > 0", productID, true).
		Take(&p).Error
	if err != nil {
		return decimal.Zero, err
	}
	return p.Price, nil
}

func (r *GormProductRepository) ExistsByID(ctx context.Context, productID int64) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", productID).
		Count(&n).Error
	return n > 0, err
}

// FindByIDs is used to put product names on cart views. Missing ids are
// skipped.
func (r *GormProductRepository) FindByIDs(ctx context.Context, productIDs []int64) ([]models.Product, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	var products []models.Product
	err := r.db.WithContext(ctx).
		Select("id", "name").
		Where("id IN ?", productIDs).
		Find(&products).Error
	return products, err
}

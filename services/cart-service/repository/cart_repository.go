package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yashrajoria/storefront/services/cart-service/models"
)

// ErrDuplicateItem is returned by CreateItem when the cart already holds the
// product.
var ErrDuplicateItem = errors.New("cart item already exists")

const pgUniqueViolation = "23505"

// CartRepository persists carts and their items. Each method is a single
// statement; callers compose them inside Transaction.
type CartRepository interface {
	Transaction(ctx context.Context, fn func(tx CartRepository) error) error

	CreateCart(ctx context.Context, userID int64, initialTotal decimal.Decimal) (*models.Cart, error)
	UpdateCart(ctx context.Context, cart *models.Cart) error
	DeleteCart(ctx context.Context, cart *models.Cart) error
	FindCart(ctx context.Context, cartID int64) (*models.Cart, error)
	LockCart(ctx context.Context, cartID int64) (*models.Cart, error)
	CartsOf(ctx context.Context, userID int64) ([]models.Cart, error)

	CreateItem(ctx context.Context, cartID, productID int64, quantity int, unitPrice decimal.Decimal) (*models.CartItem, error)
	UpdateItem(ctx context.Context, item *models.CartItem) error
	DeleteItem(ctx context.Context, item *models.CartItem) error
	DeleteItemsOf(ctx context.Context, cartID int64) error
	FindItem(ctx context.Context, cartID, productID int64) (*models.CartItem, error)
	ItemExists(ctx context.Context, cartID, productID int64) (bool, error)
	ItemsOf(ctx context.Context, cartID int64) ([]models.CartItem, error)
	ItemsOfCarts(ctx context.Context, cartIDs []int64) ([]models.CartItem, error)
}

// GormCartRepository implements CartRepository using GORM.
type GormCartRepository struct {
	db *gorm.DB
}

// NewGormCartRepository creates a new GormCartRepository.
func NewGormCartRepository(db *gorm.DB) CartRepository {
	return &GormCartRepository{db: db}
}

// RollbackError is returned when fn failed and the rollback failed too.
type RollbackError struct {
	Cause    error
	Rollback error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("%v (rollback failed: %v)", e.Cause, e.Rollback)
}

func (e *RollbackError) Unwrap() []error {
	return []error{e.Cause, e.Rollback}
}

// Transaction runs fn against a repository bound to one database transaction.
// fn returning an error rolls everything back.
func (r *GormCartRepository) Transaction(ctx context.Context, fn func(tx CartRepository) error) error {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&GormCartRepository{db: tx}); err != nil {
		if rbErr := tx.Rollback().Error; rbErr != nil {
			return &RollbackError{Cause: err, Rollback: rbErr}
		}
		return err
	}
	return tx.Commit().Error
}

func (r *GormCartRepository) CreateCart(ctx context.Context, userID int64, initialTotal decimal.Decimal) (*models.Cart, error) {
	cart := &models.Cart{UserID: userID, TotalAmount: initialTotal}
	if err := r.db.WithContext(ctx).Create(cart).Error; err != nil {
		return nil, err
	}
	return cart, nil
}

// UpdateCart writes the cart's total.
func (r *GormCartRepository) UpdateCart(ctx context.Context, cart *models.Cart) error {
	return r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ?", cart.ID).
		Update("total_amount", cart.TotalAmount).
		Error
}

func (r *GormCartRepository) DeleteCart(ctx context.Context, cart *models.Cart) error {
	return r.db.WithContext(ctx).
		Where("id = ?", cart.ID).
		Delete(&models.Cart{}).
		Error
}

// FindCart returns gorm.ErrRecordNotFound when the cart does not exist.
func (r *GormCartRepository) FindCart(ctx context.Context, cartID int64) (*models.Cart, error) {
	var cart models.Cart
	if err := r.db.WithContext(ctx).Where("id = ?", cartID).Take(&cart).Error; err != nil {
		return nil, err
	}
	return &cart, nil
}

// LockCart is FindCart with SELECT ... FOR UPDATE. Concurrent mutations of the
// same cart queue on this row until the holder's transaction ends.
func (r *GormCartRepository) LockCart(ctx context.Context, cartID int64) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", cartID).
		Take(&cart).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// CartsOf returns the user's carts in creation order.
func (r *GormCartRepository) CartsOf(ctx context.Context, userID int64) ([]models.Cart, error) {
	var carts []models.Cart
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&carts).Error
	return carts, err
}

// CreateItem returns ErrDuplicateItem on a (cart_id, product_id) conflict.
func (r *GormCartRepository) CreateItem(ctx context.Context, cartID, productID int64, quantity int, unitPrice decimal.Decimal) (*models.CartItem, error) {
	item := &models.CartItem{
		CartID:     cartID,
		ProductID:  productID,
		Quantity:   quantity,
		UnitPrice:  unitPrice,
		TotalPrice: models.LineTotal(unitPrice, quantity),
	}
	if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateItem
		}
		return nil, err
	}
	return item, nil
}

// UpdateItem writes quantity and total price.
func (r *GormCartRepository) UpdateItem(ctx context.Context, item *models.CartItem) error {
	return r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("id = ?", item.ID).
		Updates(map[string]interface{}{
			"quantity":    item.Quantity,
			"total_price": item.TotalPrice,
		}).Error
}

func (r *GormCartRepository) DeleteItem(ctx context.Context, item *models.CartItem) error {
	return r.db.WithContext(ctx).
		Where("id = ?", item.ID).
		Delete(&models.CartItem{}).
		Error
}

func (r *GormCartRepository) DeleteItemsOf(ctx context.Context, cartID int64) error {
	return r.db.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Delete(&models.CartItem{}).
		Error
}

// FindItem returns gorm.ErrRecordNotFound when the cart has no such product.
func (r *GormCartRepository) FindItem(ctx context.Context, cartID, productID int64) (*models.CartItem, error) {
	var item models.CartItem
	err := r.db.WithContext(ctx).
		Where("cart_id = ? AND product_id = ?", cartID, productID).
		Take(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *GormCartRepository) ItemExists(ctx context.Context, cartID, productID int64) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("cart_id = ? AND product_id = ?", cartID, productID).
		Count(&n).Error
	return n > 0, err
}

// ItemsOf returns the cart's items in creation order.
func (r *GormCartRepository) ItemsOf(ctx context.Context, cartID int64) ([]models.CartItem, error) {
	var items []models.CartItem
	err := r.db.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Order("id ASC").
		Find(&items).Error
	return items, err
}

// ItemsOfCarts loads the items of several carts in one query, ordered by cart
// then creation.
func (r *GormCartRepository) ItemsOfCarts(ctx context.Context, cartIDs []int64) ([]models.CartItem, error) {
	if len(cartIDs) == 0 {
		return nil, nil
	}
	var items []models.CartItem
	err := r.db.WithContext(ctx).
		Where("cart_id IN ?", cartIDs).
		Order("cart_id ASC, id ASC").
		Find(&items).Error
	return items, err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

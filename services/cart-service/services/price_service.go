package services

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yashrajoria/storefront/services/cart-service/models"
	apperrors "github.com/yashrajoria/storefront/services/common/errors"
)

// ErrProductNotFound is returned by price sources that are not backed by GORM.
var ErrProductNotFound = errors.New("product not found")

// PriceSource is the catalog's price lookup. A missing or inactive product is
// reported as ErrProductNotFound or gorm.ErrRecordNotFound.
type PriceSource interface {
	FindPriceByID(ctx context.Context, productID int64) (decimal.Decimal, error)
}

// ProductExistence is implemented by sources that can tell an unknown product
// from one that exists but cannot be bought.
type ProductExistence interface {
	ExistsByID(ctx context.Context, productID int64) (bool, error)
}

// PriceCache is a read-through cache in front of a PriceSource.
type PriceCache interface {
	GetPrice(ctx context.Context, productID int64) (decimal.Decimal, bool, error)
	SetPrice(ctx context.Context, productID int64, price decimal.Decimal, ttl time.Duration) error
}

// PriceOracle supplies the authoritative unit price of a product. Client
// supplied prices are never used.
type PriceOracle interface {
	PriceOf(ctx context.Context, productID int64) (decimal.Decimal, *apperrors.Error)
}

type priceOracleImpl struct {
	source PriceSource
	cache  PriceCache
	ttl    time.Duration
	logger *zap.Logger
}

// NewPriceOracle builds an oracle over source. cache may be nil.
func NewPriceOracle(source PriceSource, cache PriceCache, ttl time.Duration, logger *zap.Logger) PriceOracle {
	return &priceOracleImpl{source: source, cache: cache, ttl: ttl, logger: logger}
}

// PriceOf returns prices rounded to the money column scale, so that a stored
// item's TotalPrice equals UnitPrice × Quantity.
func (o *priceOracleImpl) PriceOf(ctx context.Context, productID int64) (decimal.Decimal, *apperrors.Error) {
	if productID <= 0 {
		return decimal.Zero, apperrors.ErrInvalidProductID
	}

	if o.cache != nil {
		price, ok, err := o.cache.GetPrice(ctx, productID)
		switch {
		case err != nil:
			o.logger.Warn("Price cache read failed", zap.Int64("product_id", productID), zap.Error(err))
		case ok && models.RoundMoney(price).IsPositive():
			return models.RoundMoney(price), nil
		}
	}

	price, err := o.source.FindPriceByID(ctx, productID)
	if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, ErrProductNotFound) {
		o.logMissing(ctx, productID)
		return decimal.Zero, apperrors.ErrInvalidProductID
	}
	if err != nil {
		o.logger.Error("Price lookup failed", zap.Int64("product_id", productID), zap.Error(err))
		return decimal.Zero, apperrors.Unknown("Failed to fetch product price", err)
	}
	// a price that rounds to zero means the product cannot be bought
	price = models.RoundMoney(price)
	if !price.IsPositive() {
		o.logger.Info("Product has no sellable price", zap.Int64("product_id", productID))
		return decimal.Zero, apperrors.ErrInvalidProductID
	}

	if o.cache != nil {
		if err := o.cache.SetPrice(ctx, productID, price, o.ttl); err != nil {
			o.logger.Warn("Price cache write failed", zap.Int64("product_id", productID), zap.Error(err))
		}
	}
	return price, nil
}

func (o *priceOracleImpl) logMissing(ctx context.Context, productID int64) {
	ex, ok := o.source.(ProductExistence)
	if !ok {
		o.logger.Info("Product not found", zap.Int64("product_id", productID))
		return
	}
	exists, err := ex.ExistsByID(ctx, productID)
	switch {
	case err != nil:
		o.logger.Warn("Product existence check failed", zap.Int64("product_id", productID), zap.Error(err))
	case exists:
		o.logger.Info("Product is inactive or unpriced", zap.Int64("product_id", productID))
	default:
		o.logger.Info("Product not found", zap.Int64("product_id", productID))
	}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yashrajoria/storefront/services/cart-service/models"
	"github.com/yashrajoria/storefront/services/cart-service/repository"
	apperrors "github.com/yashrajoria/storefront/services/common/errors"
	"github.com/yashrajoria/storefront/services/common/logger"
	awspkg "github.com/yashrajoria/storefront/pkg/aws"
)

const eventTimeout = 5 * time.Second

// ProductCatalog supplies product names for cart views.
type ProductCatalog interface {
	FindByIDs(ctx context.Context, productIDs []int64) ([]models.Product, error)
}

// CartService defines the cart operations. Every mutation runs in a single
// transaction holding the cart's row lock and answers with all of the
// caller's carts as read after commit.
type CartService interface {
	Create(ctx context.Context, reference string, req models.ProductOrderRequest) ([]models.CartView, *apperrors.Error)
	AddItem(ctx context.Context, reference string, cartID int64, req models.ProductOrderRequest) ([]models.CartView, *apperrors.Error)
	Update(ctx context.Context, reference string, cartID int64, updates []models.ProductOrderRequest) ([]models.CartView, *apperrors.Error)
	DeleteCart(ctx context.Context, reference string, cartID int64) ([]models.CartView, *apperrors.Error)
	ListCarts(ctx context.Context, reference string) ([]models.CartView, *apperrors.Error)
	GetCart(ctx context.Context, reference string, cartID int64) (*models.CartView, *apperrors.Error)
}

// CartDeps groups the collaborators of the cart service. Catalog, Events and
// Metrics are optional.
type CartDeps struct {
	Carts    repository.CartRepository
	Identity IdentityResolver
	Prices   PriceOracle
	Catalog  ProductCatalog
	Events   EventPublisher
	Metrics  awspkg.MetricsRecorder
}

type cartServiceImpl struct {
	CartDeps
	logger *zap.Logger
}

func NewCartService(deps CartDeps, logger *zap.Logger) CartService {
	return &cartServiceImpl{CartDeps: deps, logger: logger}
}

// Create opens a new cart holding one item.
func (s *cartServiceImpl) Create(ctx context.Context, reference string, req models.ProductOrderRequest) ([]models.CartView, *apperrors.Error) {
	if req.Quantity < 1 {
		return nil, apperrors.ErrInvalidQuantity
	}
	price, appErr := s.Prices.PriceOf(ctx, req.ProductID)
	if appErr != nil {
		return nil, appErr
	}
	userID, appErr := s.Identity.Resolve(ctx, reference)
	if appErr != nil {
		return nil, appErr
	}

	var cart *models.Cart
	err := s.Carts.Transaction(ctx, func(tx repository.CartRepository) error {
		c, err := tx.CreateCart(ctx, userID, decimal.Zero)
		if err != nil {
			return err
		}
		item, err := tx.CreateItem(ctx, c.ID, req.ProductID, req.Quantity, price)
		if err != nil {
			return err
		}
		c.TotalAmount = c.TotalAmount.Add(item.TotalPrice)
		if err := tx.UpdateCart(ctx, c); err != nil {
			return err
		}
		cart = c
		return nil
	})
	if err != nil {
		return nil, s.txError(ctx, "create cart", err)
	}

	logger.For(ctx, s.logger).Info("Cart created",
		zap.Int64("cart_id", cart.ID),
		zap.Int64("user_id", userID),
		zap.Int64("product_id", req.ProductID),
	)
	s.afterCommit(ctx, models.EventCartCreated, awspkg.MetricCartsCreated, cart, []int64{req.ProductID})
	return s.cartsView(ctx, userID)
}

// AddItem puts a product that is not yet in the cart into it.
func (s *cartServiceImpl) AddItem(ctx context.Context, reference string, cartID int64, req models.ProductOrderRequest) ([]models.CartView, *apperrors.Error) {
	if req.Quantity < 1 {
		return nil, apperrors.ErrInvalidQuantity
	}
	price, appErr := s.Prices.PriceOf(ctx, req.ProductID)
	if appErr != nil {
		return nil, appErr
	}
	userID, appErr := s.Identity.Resolve(ctx, reference)
	if appErr != nil {
		return nil, appErr
	}

	var cart *models.Cart
	err := s.Carts.Transaction(ctx, func(tx repository.CartRepository) error {
		c, err := lockOwnedCart(ctx, tx, cartID, userID)
		if err != nil {
			return err
		}
		exists, err := tx.ItemExists(ctx, c.ID, req.ProductID)
		if err != nil {
			return err
		}
		if exists {
			return apperrors.ErrProductExistsInCart
		}
		item, err := tx.CreateItem(ctx, c.ID, req.ProductID, req.Quantity, price)
		if errors.Is(err, repository.ErrDuplicateItem) {
			return apperrors.ErrProductExistsInCart
		}
		if err != nil {
			return err
		}
		c.TotalAmount = c.TotalAmount.Add(item.TotalPrice)
		if err := tx.UpdateCart(ctx, c); err != nil {
			return err
		}
		cart = c
		return nil
	})
	if err != nil {
		return nil, s.txError(ctx, "add item to cart", err)
	}

	logger.For(ctx, s.logger).Info("Item added to cart",
		zap.Int64("cart_id", cart.ID),
		zap.Int64("product_id", req.ProductID),
		zap.Int("quantity", req.Quantity),
	)
	s.afterCommit(ctx, models.EventCartItemAdded, awspkg.MetricCartItemsAdded, cart, []int64{req.ProductID})
	return s.cartsView(ctx, userID)
}

// Update applies quantity changes in order. A quantity of zero or less removes
// the item; the cart goes away with its last item. Prices are not refreshed
// from the catalog. The first unknown product aborts the whole batch.
func (s *cartServiceImpl) Update(ctx context.Context, reference string, cartID int64, updates []models.ProductOrderRequest) ([]models.CartView, *apperrors.Error) {
	userID, appErr := s.Identity.Resolve(ctx, reference)
	if appErr != nil {
		return nil, appErr
	}

	var (
		cart    *models.Cart
		deleted bool
	)
	err := s.Carts.Transaction(ctx, func(tx repository.CartRepository) error {
		c, err := lockOwnedCart(ctx, tx, cartID, userID)
		if err != nil {
			return err
		}

		for _, u := range updates {
			item, err := tx.FindItem(ctx, c.ID, u.ProductID)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.WithMessage(apperrors.ErrCartItemNotFound,
					fmt.Sprintf("Item not found which you are trying to update: product %d", u.ProductID))
			}
			if err != nil {
				return err
			}

			if u.Quantity > 0 {
				delta := item.Reprice(u.Quantity)
				if err := tx.UpdateItem(ctx, item); err != nil {
					return err
				}
				c.TotalAmount = c.TotalAmount.Add(delta)
				continue
			}
			if err := tx.DeleteItem(ctx, item); err != nil {
				return err
			}
			c.TotalAmount = c.TotalAmount.Sub(item.TotalPrice)
		}

		remaining, err := tx.ItemsOf(ctx, c.ID)
		if err != nil {
			return err
		}
		cart = c
		if len(remaining) == 0 {
			deleted = true
			return tx.DeleteCart(ctx, c)
		}
		return tx.UpdateCart(ctx, c)
	})
	if err != nil {
		return nil, s.txError(ctx, "update cart", err)
	}

	productIDs := make([]int64, 0, len(updates))
	for _, u := range updates {
		productIDs = append(productIDs, u.ProductID)
	}
	logger.For(ctx, s.logger).Info("Cart updated",
		zap.Int64("cart_id", cart.ID),
		zap.Int("updates", len(updates)),
		zap.Bool("cart_deleted", deleted),
	)
	if deleted {
		cart.TotalAmount = decimal.Zero
		s.afterCommit(ctx, models.EventCartDeleted, awspkg.MetricCartsDeleted, cart, productIDs)
	} else {
		s.afterCommit(ctx, models.EventCartUpdated, awspkg.MetricCartsUpdated, cart, productIDs)
	}
	return s.cartsView(ctx, userID)
}

// DeleteCart removes the cart and all of its items.
func (s *cartServiceImpl) DeleteCart(ctx context.Context, reference string, cartID int64) ([]models.CartView, *apperrors.Error) {
	userID, appErr := s.Identity.Resolve(ctx, reference)
	if appErr != nil {
		return nil, appErr
	}

	var cart *models.Cart
	err := s.Carts.Transaction(ctx, func(tx repository.CartRepository) error {
		c, err := lockOwnedCart(ctx, tx, cartID, userID)
		if err != nil {
			return err
		}
		if err := tx.DeleteItemsOf(ctx, c.ID); err != nil {
			return err
		}
		if err := tx.DeleteCart(ctx, c); err != nil {
			return err
		}
		cart = c
		return nil
	})
	if err != nil {
		return nil, s.txError(ctx, "delete cart", err)
	}

	logger.For(ctx, s.logger).Info("Cart deleted", zap.Int64("cart_id", cart.ID), zap.Int64("user_id", userID))
	s.afterCommit(ctx, models.EventCartDeleted, awspkg.MetricCartsDeleted, cart, nil)
	return s.cartsView(ctx, userID)
}

func (s *cartServiceImpl) ListCarts(ctx context.Context, reference string) ([]models.CartView, *apperrors.Error) {
	userID, appErr := s.Identity.Resolve(ctx, reference)
	if appErr != nil {
		return nil, appErr
	}
	return s.cartsView(ctx, userID)
}

// GetCart returns one cart, enforcing ownership like the mutations do.
func (s *cartServiceImpl) GetCart(ctx context.Context, reference string, cartID int64) (*models.CartView, *apperrors.Error) {
	userID, appErr := s.Identity.Resolve(ctx, reference)
	if appErr != nil {
		return nil, appErr
	}

	cart, err := s.Carts.FindCart(ctx, cartID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrInvalidCartID
	}
	if err != nil {
		return nil, s.txError(ctx, "load cart", err)
	}
	if cart.UserID != userID {
		return nil, apperrors.ErrUnauthorizedUser
	}

	items, err := s.Carts.ItemsOf(ctx, cart.ID)
	if err != nil {
		return nil, s.txError(ctx, "load cart items", err)
	}
	views := s.buildViews(ctx, []models.Cart{*cart}, items)
	return &views[0], nil
}

// lockOwnedCart takes the cart's row lock and checks that userID owns it.
func lockOwnedCart(ctx context.Context, tx repository.CartRepository, cartID, userID int64) (*models.Cart, error) {
	cart, err := tx.LockCart(ctx, cartID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrInvalidCartID
	}
	if err != nil {
		return nil, err
	}
	if cart.UserID != userID {
		return nil, apperrors.ErrUnauthorizedUser
	}
	return cart, nil
}

// txError passes domain errors through and wraps everything else, including
// failed rollbacks, as UnknownError.
func (s *cartServiceImpl) txError(ctx context.Context, op string, err error) *apperrors.Error {
	var rbErr *repository.RollbackError
	var appErr *apperrors.Error
	if !errors.As(err, &rbErr) && errors.As(err, &appErr) {
		if appErr.Kind == apperrors.KindProductExistsInCart {
			s.recordMetric(awspkg.MetricCartConflicts)
		}
		return appErr
	}
	logger.For(ctx, s.logger).Error("Cart operation failed", zap.String("op", op), zap.Error(err))
	return apperrors.Unknown("Failed to "+op, err)
}

func (s *cartServiceImpl) cartsView(ctx context.Context, userID int64) ([]models.CartView, *apperrors.Error) {
	carts, err := s.Carts.CartsOf(ctx, userID)
	if err != nil {
		return nil, s.txError(ctx, "load carts", err)
	}
	ids := make([]int64, len(carts))
	for i, c := range carts {
		ids[i] = c.ID
	}
	items, err := s.Carts.ItemsOfCarts(ctx, ids)
	if err != nil {
		return nil, s.txError(ctx, "load cart items", err)
	}
	return s.buildViews(ctx, carts, items), nil
}

func (s *cartServiceImpl) buildViews(ctx context.Context, carts []models.Cart, items []models.CartItem) []models.CartView {
	names := s.productNames(ctx, items)

	byCart := make(map[int64][]models.CartItemView, len(carts))
	for _, it := range items {
		byCart[it.CartID] = append(byCart[it.CartID], models.CartItemView{
			ProductID:  it.ProductID,
			Name:       names[it.ProductID],
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			TotalPrice: it.TotalPrice,
		})
	}

	views := make([]models.CartView, 0, len(carts))
	for _, c := range carts {
		lines := byCart[c.ID]
		if lines == nil {
			lines = []models.CartItemView{}
		}
		views = append(views, models.CartView{
			CartID:      c.ID,
			TotalAmount: c.TotalAmount,
			Items:       lines,
			CreatedAt:   c.CreatedAt,
		})
	}
	return views
}

// Names are decoration; a catalog failure leaves them empty.
func (s *cartServiceImpl) productNames(ctx context.Context, items []models.CartItem) map[int64]string {
	names := map[int64]string{}
	if s.Catalog == nil || len(items) == 0 {
		return names
	}

	seen := map[int64]bool{}
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		if !seen[it.ProductID] {
			seen[it.ProductID] = true
			ids = append(ids, it.ProductID)
		}
	}

	products, err := s.Catalog.FindByIDs(ctx, ids)
	if err != nil {
		logger.For(ctx, s.logger).Warn("Product names unavailable", zap.Error(err))
		return names
	}
	for _, p := range products {
		names[p.ID] = p.Name
	}
	return names
}

// afterCommit publishes the event and records the business metric. Both are
// best effort; the cart change is already durable.
func (s *cartServiceImpl) afterCommit(ctx context.Context, eventType, metric string, cart *models.Cart, productIDs []int64) {
	s.recordMetric(metric)

	if s.Events == nil {
		return
	}
	event := models.CartEvent{
		Event:       eventType,
		CartID:      cart.ID,
		UserID:      cart.UserID,
		TotalAmount: cart.TotalAmount,
		ProductIDs:  productIDs,
		RequestID:   logger.RequestID(ctx),
		Timestamp:   time.Now().UTC(),
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventTimeout)
	defer cancel()
	if err := s.Events.Publish(pctx, event); err != nil {
		logger.For(ctx, s.logger).Warn("Failed to publish cart event",
			zap.String("event", eventType),
			zap.Int64("cart_id", cart.ID),
			zap.Error(err),
		)
	}
}

func (s *cartServiceImpl) recordMetric(name string) {
	if s.Metrics == nil || !s.Metrics.IsEnabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		_ = s.Metrics.RecordCount(ctx, name, map[string]string{"Service": "cart-service"})
	}()
}

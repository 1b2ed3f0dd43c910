package controllers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/yashrajoria/storefront/services/cart-service/database"
	"github.com/yashrajoria/storefront/services/cart-service/middleware"
	"github.com/yashrajoria/storefront/services/cart-service/models"
	"github.com/yashrajoria/storefront/services/cart-service/services"
	apperrors "github.com/yashrajoria/storefront/services/common/errors"
	"github.com/yashrajoria/storefront/services/common/logger"
)

const (
	IdempotencyKeyHeader      = "Idempotency-Key"
	IdempotencyReplayedHeader = "Idempotent-Replayed"
)

// IdempotencyStore remembers the response of a cart creation by client key.
type IdempotencyStore interface {
	ReserveIdempotency(ctx context.Context, key, fingerprint string, ttl time.Duration) (bool, error)
	GetIdempotency(ctx context.Context, key string) (*database.IdempotencyRecord, error)
	CompleteIdempotency(ctx context.Context, key, fingerprint string, response []byte, ttl time.Duration) error
	ReleaseIdempotency(ctx context.Context, key string) error
}

// RequestFingerprint identifies the body of a create request, so that a key
// reused with a different body can be told apart from a retry.
func RequestFingerprint(req models.ProductOrderRequest) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%d", req.ProductID, req.Quantity)))
	return hex.EncodeToString(sum[:])
}

// CartController handles HTTP requests for cart operations.
type CartController struct {
	cartService services.CartService
	idem        IdempotencyStore
	idemTTL     time.Duration
	logger      *zap.Logger
}

// NewCartController creates a new CartController. idem may be nil, in which
// case Idempotency-Key headers are ignored.
func NewCartController(cartService services.CartService, idem IdempotencyStore, idemTTL time.Duration, logger *zap.Logger) *CartController {
	return &CartController{cartService: cartService, idem: idem, idemTTL: idemTTL, logger: logger}
}

// CreateCart handles POST /carts.
func (cc *CartController) CreateCart(ctx *gin.Context) {
	reference, ok := callerReference(ctx)
	if !ok {
		return
	}

	var req models.ProductOrderRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}

	key := ctx.GetHeader(IdempotencyKeyHeader)
	if key == "" || cc.idem == nil {
		carts, svcErr := cc.cartService.Create(ctx.Request.Context(), reference, req)
		if svcErr != nil {
			apperrors.Response(ctx, svcErr)
			return
		}
		ctx.JSON(http.StatusCreated, gin.H{"carts": carts})
		return
	}

	cc.createIdempotent(ctx, reference+":"+key, reference, req)
}

func (cc *CartController) createIdempotent(ctx *gin.Context, key, reference string, req models.ProductOrderRequest) {
	reqCtx := ctx.Request.Context()
	log := logger.For(reqCtx, cc.logger)

	fingerprint := RequestFingerprint(req)
	won, err := cc.idem.ReserveIdempotency(reqCtx, key, fingerprint, cc.idemTTL)
	if err != nil {
		log.Error("Failed to reserve idempotency key", zap.Error(err))
		apperrors.Response(ctx, apperrors.Unknown("Failed to create cart", err))
		return
	}
	if !won {
		rec, err := cc.idem.GetIdempotency(reqCtx, key)
		if err != nil {
			log.Error("Failed to read idempotency key", zap.Error(err))
			apperrors.Response(ctx, apperrors.Unknown("Failed to create cart", err))
			return
		}
		switch {
		case rec == nil:
			ctx.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "A request with this Idempotency-Key is in progress"})
		case rec.Fingerprint != fingerprint:
			ctx.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "Idempotency-Key was already used with a different request body"})
		case rec.Pending():
			ctx.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "A request with this Idempotency-Key is in progress"})
		default:
			ctx.Header(IdempotencyReplayedHeader, "true")
			ctx.Data(http.StatusCreated, "application/json; charset=utf-8", rec.Response)
		}
		return
	}

	carts, svcErr := cc.cartService.Create(reqCtx, reference, req)
	if svcErr != nil {
		if err := cc.idem.ReleaseIdempotency(context.WithoutCancel(reqCtx), key); err != nil {
			log.Warn("Failed to release idempotency key", zap.Error(err))
		}
		apperrors.Response(ctx, svcErr)
		return
	}

	body, err := json.Marshal(gin.H{"carts": carts})
	if err != nil {
		apperrors.Response(ctx, apperrors.Unknown("Failed to encode response", err))
		return
	}
	if err := cc.idem.CompleteIdempotency(context.WithoutCancel(reqCtx), key, fingerprint, body, cc.idemTTL); err != nil {
		log.Warn("Failed to store idempotent response", zap.Error(err))
	}
	ctx.Data(http.StatusCreated, "application/json; charset=utf-8", body)
}

// ListCarts handles GET /carts.
func (cc *CartController) ListCarts(ctx *gin.Context) {
	reference, ok := callerReference(ctx)
	if !ok {
		return
	}

	carts, svcErr := cc.cartService.ListCarts(ctx.Request.Context(), reference)
	if svcErr != nil {
		apperrors.Response(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"carts": carts})
}

// GetCart handles GET /carts/:id.
func (cc *CartController) GetCart(ctx *gin.Context) {
	reference, ok := callerReference(ctx)
	if !ok {
		return
	}
	cartID, ok := parseCartID(ctx)
	if !ok {
		return
	}

	cart, svcErr := cc.cartService.GetCart(ctx.Request.Context(), reference, cartID)
	if svcErr != nil {
		apperrors.Response(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"cart": cart})
}

// AddItem handles POST /carts/:id/items.
func (cc *CartController) AddItem(ctx *gin.Context) {
	reference, ok := callerReference(ctx)
	if !ok {
		return
	}
	cartID, ok := parseCartID(ctx)
	if !ok {
		return
	}

	var req models.ProductOrderRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}

	carts, svcErr := cc.cartService.AddItem(ctx.Request.Context(), reference, cartID, req)
	if svcErr != nil {
		apperrors.Response(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"carts": carts})
}

// UpdateCart handles PUT /carts/:id.
func (cc *CartController) UpdateCart(ctx *gin.Context) {
	reference, ok := callerReference(ctx)
	if !ok {
		return
	}
	cartID, ok := parseCartID(ctx)
	if !ok {
		return
	}

	var req models.CartUpdateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}

	carts, svcErr := cc.cartService.Update(ctx.Request.Context(), reference, cartID, req.Updates)
	if svcErr != nil {
		apperrors.Response(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"carts": carts})
}

// DeleteCart handles DELETE /carts/:id.
func (cc *CartController) DeleteCart(ctx *gin.Context) {
	reference, ok := callerReference(ctx)
	if !ok {
		return
	}
	cartID, ok := parseCartID(ctx)
	if !ok {
		return
	}

	carts, svcErr := cc.cartService.DeleteCart(ctx.Request.Context(), reference, cartID)
	if svcErr != nil {
		apperrors.Response(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"carts": carts})
}

func callerReference(ctx *gin.Context) (string, bool) {
	ref, err := middleware.GetReference(ctx)
	if err != nil {
		apperrors.Response(ctx, apperrors.ErrUnauthorized)
		return "", false
	}
	return ref, true
}

// parseCartID parses the :id path parameter. Ids that cannot name a cart are
// reported the same way as unknown ones.
func parseCartID(ctx *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		apperrors.Response(ctx, apperrors.ErrInvalidCartID)
		return 0, false
	}
	return id, true
}

func badRequest(ctx *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "fields": fields})
		return
	}
	ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
}

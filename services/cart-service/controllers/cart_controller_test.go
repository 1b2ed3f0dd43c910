package controllers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yashrajoria/storefront/services/cart-service/controllers"
	"github.com/yashrajoria/storefront/services/cart-service/database"
	"github.com/yashrajoria/storefront/services/cart-service/middleware"
	"github.com/yashrajoria/storefront/services/cart-service/models"
	apperrors "github.com/yashrajoria/storefront/services/common/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// --- Mock CartService ---

type mockCartService struct {
	createFn func(ctx context.Context, reference string, req models.ProductOrderRequest) ([]models.CartView, *apperrors.Error)
	addFn    func(ctx context.Context, reference string, cartID int64, req models.ProductOrderRequest) ([]models.CartView, *apperrors.Error)
	updateFn func(ctx context.Context, reference string, cartID int64, updates []models.ProductOrderRequest) ([]models.CartView, *apperrors.Error)
	deleteFn func(ctx context.Context, reference string, cartID int64) ([]models.CartView, *apperrors.Error)
	listFn   func(ctx context.Context, reference string) ([]models.CartView, *apperrors.Error)
	getFn    func(ctx context.Context, reference string, cartID int64) (*models.CartView, *apperrors.Error)
}

func (m *mockCartService) Create(ctx context.Context, reference string, req models.ProductOrderRequest) ([]models.CartView, *apperrors.Error) {
	return m.createFn(ctx, reference, req)
}
func (m *mockCartService) AddItem(ctx context.Context, reference string, cartID int64, req models.ProductOrderRequest) ([]models.CartView, *apperrors.Error) {
	return m.addFn(ctx, reference, cartID, req)
}
func (m *mockCartService) Update(ctx context.Context, reference string, cartID int64, updates []models.ProductOrderRequest) ([]models.CartView, *apperrors.Error) {
	return m.updateFn(ctx, reference, cartID, updates)
}
func (m *mockCartService) DeleteCart(ctx context.Context, reference string, cartID int64) ([]models.CartView, *apperrors.Error) {
	return m.deleteFn(ctx, reference, cartID)
}
func (m *mockCartService) ListCarts(ctx context.Context, reference string) ([]models.CartView, *apperrors.Error) {
	return m.listFn(ctx, reference)
}
func (m *mockCartService) GetCart(ctx context.Context, reference string, cartID int64) (*models.CartView, *apperrors.Error) {
	return m.getFn(ctx, reference, cartID)
}

// --- Fake idempotency store ---

type fakeIdem struct {
	mu         sync.Mutex
	values     map[string]database.IdempotencyRecord
	reserveErr error
}

func newFakeIdem() *fakeIdem {
	return &fakeIdem{values: map[string]database.IdempotencyRecord{}}
}

func (f *fakeIdem) ReserveIdempotency(_ context.Context, key, fingerprint string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reserveErr != nil {
		return false, f.reserveErr
	}
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = database.IdempotencyRecord{Fingerprint: fingerprint}
	return true, nil
}

func (f *fakeIdem) GetIdempotency(_ context.Context, key string) (*database.IdempotencyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.values[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (f *fakeIdem) CompleteIdempotency(_ context.Context, key, fingerprint string, response []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = database.IdempotencyRecord{Fingerprint: fingerprint, Response: response}
	return nil
}

func (f *fakeIdem) ReleaseIdempotency(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, key)
	return nil
}

// --- Helpers ---

const testReference = "alice@example.com"

func setupRouter(svc *mockCartService, idem controllers.IdempotencyStore) *gin.Engine {
	r := gin.New()
	cc := controllers.NewCartController(svc, idem, time.Hour, zap.NewNop())

	r.Use(func(c *gin.Context) {
		c.Set(middleware.ReferenceContextKey, testReference)
		c.Next()
	})

	r.POST("/carts", cc.CreateCart)
	r.GET("/carts", cc.ListCarts)
	r.GET("/carts/:id", cc.GetCart)
	r.POST("/carts/:id/items", cc.AddItem)
	r.PUT("/carts/:id", cc.UpdateCart)
	r.DELETE("/carts/:id", cc.DeleteCart)
	return r
}

func doRequest(r *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func sampleCarts() []models.CartView {
	return []models.CartView{{
		CartID:      1,
		TotalAmount: decimal.RequireFromString("40"),
		Items: []models.CartItemView{{
			ProductID:  10,
			Quantity:   2,
			UnitPrice:  decimal.RequireFromString("20"),
			TotalPrice: decimal.RequireFromString("40"),
		}},
	}}
}

type errorBody struct {
	Error string         `json:"error"`
	Kind  apperrors.Kind `json:"kind"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// --- Tests ---

func TestCreateCart_Success(t *testing.T) {
	svc := &mockCartService{
		createFn: func(_ context.Context, reference string, req models.ProductOrderRequest) ([]models.CartView, *apperrors.Error) {
			assert.Equal(t, testReference, reference)
			assert.Equal(t, int64(10), req.ProductID)
			assert.Equal(t, 2, req.Quantity)
			return sampleCarts(), nil
		},
	}
	r := setupRouter(svc, nil)

	w := doRequest(r, http.MethodPost, "/carts", `{"product_id":10,"quantity":2}`, nil)

	assert.Equal(t, http.StatusCreated, w.Code)
	var body struct {
		Carts []models.CartView `json:"carts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Carts, 1)
	assert.True(t, body.Carts[0].TotalAmount.Equal(decimal.RequireFromString("40")))
}

func TestCreateCart_InvalidJSON(t *testing.T) {
	r := setupRouter(&mockCartService{}, nil)

	w := doRequest(r, http.MethodPost, "/carts", `{bad json`, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateCart_ServiceError(t *testing.T) {
	svc := &mockCartService{
		createFn: func(context.Context, string, models.ProductOrderRequest) ([]models.CartView, *apperrors.Error) {
			return nil, apperrors.ErrInvalidQuantity
		},
	}
	r := setupRouter(svc, nil)

	w := doRequest(r, http.MethodPost, "/carts", `{"product_id":10,"quantity":0}`, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperrors.KindInvalidQuantity, decodeError(t, w).Kind)
}

func TestCreateCart_IdempotentReplay(t *testing.T) {
	calls := 0
	svc := &mockCartService{
		createFn: func(context.Context, string, models.ProductOrderRequest) ([]models.CartView, *apperrors.Error) {
			calls++
			return sampleCarts(), nil
		},
	}
	idem := newFakeIdem()
	r := setupRouter(svc, idem)
	headers := map[string]string{controllers.IdempotencyKeyHeader: "req-1"}

	first := doRequest(r, http.MethodPost, "/carts", `{"product_id":10,"quantity":2}`, headers)
	second := doRequest(r, http.MethodPost, "/carts", `{"product_id":10,"quantity":2}`, headers)

	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "true", second.Header().Get(controllers.IdempotencyReplayedHeader))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Contains(t, idem.values, testReference+":req-1")
}

func TestCreateCart_IdempotencyInProgress(t *testing.T) {
	idem := newFakeIdem()
	idem.values[testReference+":req-2"] = database.IdempotencyRecord{
		Fingerprint: controllers.RequestFingerprint(models.ProductOrderRequest{ProductID: 10, Quantity: 2}),
	}
	r := setupRouter(&mockCartService{}, idem)

	w := doRequest(r, http.MethodPost, "/carts", `{"product_id":10,"quantity":2}`,
		map[string]string{controllers.IdempotencyKeyHeader: "req-2"})

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateCart_IdempotencyKeyReusedWithDifferentBody(t *testing.T) {
	calls := 0
	svc := &mockCartService{
		createFn: func(context.Context, string, models.ProductOrderRequest) ([]models.CartView, *apperrors.Error) {
			calls++
			return sampleCarts(), nil
		},
	}
	idem := newFakeIdem()
	r := setupRouter(svc, idem)
	headers := map[string]string{controllers.IdempotencyKeyHeader: "req-5"}

	first := doRequest(r, http.MethodPost, "/carts", `{"product_id":10,"quantity":2}`, headers)
	second := doRequest(r, http.MethodPost, "/carts", `{"product_id":11,"quantity":2}`, headers)
	third := doRequest(r, http.MethodPost, "/carts", `{"product_id":10,"quantity":3}`, headers)

	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusUnprocessableEntity, second.Code)
	assert.Equal(t, http.StatusUnprocessableEntity, third.Code)
	assert.Empty(t, second.Header().Get(controllers.IdempotencyReplayedHeader))
	assert.Equal(t, 1, calls)
}

func TestCreateCart_IdempotencyInProgressWithDifferentBody(t *testing.T) {
	idem := newFakeIdem()
	idem.values[testReference+":req-6"] = database.IdempotencyRecord{
		Fingerprint: controllers.RequestFingerprint(models.ProductOrderRequest{ProductID: 10, Quantity: 2}),
	}
	r := setupRouter(&mockCartService{}, idem)

	w := doRequest(r, http.MethodPost, "/carts", `{"product_id":10,"quantity":1}`,
		map[string]string{controllers.IdempotencyKeyHeader: "req-6"})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCreateCart_IdempotencyReleasedOnFailure(t *testing.T) {
	calls := 0
	svc := &mockCartService{
		createFn: func(context.Context, string, models.ProductOrderRequest) ([]models.CartView, *apperrors.Error) {
			calls++
			if calls == 1 {
				return nil, apperrors.ErrUserNotFound
			}
			return sampleCarts(), nil
		},
	}
	idem := newFakeIdem()
	r := setupRouter(svc, idem)
	headers := map[string]string{controllers.IdempotencyKeyHeader: "req-3"}

	first := doRequest(r, http.MethodPost, "/carts", `{"product_id":10,"quantity":2}`, headers)
	second := doRequest(r, http.MethodPost, "/carts", `{"product_id":10,"quantity":2}`, headers)

	assert.Equal(t, http.StatusNotFound, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, 2, calls)
}

func TestCreateCart_IdempotencyStoreDown(t *testing.T) {
	idem := newFakeIdem()
	idem.reserveErr = errors.New("redis down")
	r := setupRouter(&mockCartService{}, idem)

	w := doRequest(r, http.MethodPost, "/carts", `{"product_id":10,"quantity":2}`,
		map[string]string{controllers.IdempotencyKeyHeader: "req-4"})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apperrors.KindUnknown, decodeError(t, w).Kind)
}

func TestListCarts(t *testing.T) {
	svc := &mockCartService{
		listFn: func(context.Context, string) ([]models.CartView, *apperrors.Error) {
			return sampleCarts(), nil
		},
	}
	r := setupRouter(svc, nil)

	w := doRequest(r, http.MethodGet, "/carts", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"carts"`)
}

func TestGetCart(t *testing.T) {
	svc := &mockCartService{
		getFn: func(_ context.Context, _ string, cartID int64) (*models.CartView, *apperrors.Error) {
			if cartID != 1 {
				return nil, apperrors.ErrInvalidCartID
			}
			view := sampleCarts()[0]
			return &view, nil
		},
	}
	r := setupRouter(svc, nil)

	w := doRequest(r, http.MethodGet, "/carts/1", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cart"`)

	w = doRequest(r, http.MethodGet, "/carts/2", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCartID_Malformed(t *testing.T) {
	r := setupRouter(&mockCartService{}, nil)

	for _, path := range []string{"/carts/abc", "/carts/0", "/carts/-4"} {
		w := doRequest(r, http.MethodDelete, path, "", nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Equal(t, apperrors.KindInvalidCartID, decodeError(t, w).Kind, path)
	}
}

func TestAddItem(t *testing.T) {
	svc := &mockCartService{
		addFn: func(_ context.Context, _ string, cartID int64, req models.ProductOrderRequest) ([]models.CartView, *apperrors.Error) {
			assert.Equal(t, int64(1), cartID)
			if req.ProductID == 10 {
				return nil, apperrors.ErrProductExistsInCart
			}
			return sampleCarts(), nil
		},
	}
	r := setupRouter(svc, nil)

	w := doRequest(r, http.MethodPost, "/carts/1/items", `{"product_id":11,"quantity":1}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodPost, "/carts/1/items", `{"product_id":10,"quantity":1}`, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperrors.KindProductExistsInCart, decodeError(t, w).Kind)
}

func TestUpdateCart(t *testing.T) {
	svc := &mockCartService{
		updateFn: func(_ context.Context, _ string, cartID int64, updates []models.ProductOrderRequest) ([]models.CartView, *apperrors.Error) {
			require.Len(t, updates, 2)
			assert.Equal(t, 0, updates[1].Quantity)
			return []models.CartView{}, nil
		},
	}
	r := setupRouter(svc, nil)

	w := doRequest(r, http.MethodPut, "/carts/1",
		`{"updates":[{"product_id":10,"quantity":3},{"product_id":11,"quantity":0}]}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"carts":[]}`, w.Body.String())
}

func TestUpdateCart_EmptyBatch(t *testing.T) {
	r := setupRouter(&mockCartService{}, nil)

	w := doRequest(r, http.MethodPut, "/carts/1", `{"updates":[]}`, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body struct {
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "min", body.Fields["Updates"])
}

func TestDeleteCart_Forbidden(t *testing.T) {
	svc := &mockCartService{
		deleteFn: func(context.Context, string, int64) ([]models.CartView, *apperrors.Error) {
			return nil, apperrors.ErrUnauthorizedUser
		},
	}
	r := setupRouter(svc, nil)

	w := doRequest(r, http.MethodDelete, "/carts/7", "", nil)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, apperrors.KindUnauthorizedUser, decodeError(t, w).Kind)
}

func TestMissingReference(t *testing.T) {
	r := gin.New()
	cc := controllers.NewCartController(&mockCartService{}, nil, time.Hour, zap.NewNop())
	r.GET("/carts", cc.ListCarts)

	w := doRequest(r, http.MethodGet, "/carts", "", nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

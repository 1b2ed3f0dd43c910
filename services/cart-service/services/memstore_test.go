package services_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/yashrajoria/storefront/services/cart-service/models"
	"github.com/yashrajoria/storefront/services/cart-service/repository"
)

type memState struct {
	carts    map[int64]models.Cart
	items    map[int64]models.CartItem
	nextCart int64
	nextItem int64
}

func (s *memState) clone() *memState {
	c := &memState{
		carts:    make(map[int64]models.Cart, len(s.carts)),
		items:    make(map[int64]models.CartItem, len(s.items)),
		nextCart: s.nextCart,
		nextItem: s.nextItem,
	}
	for k, v := range s.carts {
		c.carts[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	return c
}

// memStore is an in-memory CartRepository that behaves like row locking:
// LockCart holds a per-cart lock until the surrounding Transaction ends,
// writes apply immediately and are undone when fn fails. Transactions on
// different carts run in parallel.
type memStore struct {
	mu          sync.Mutex
	state       *memState
	cartLocks   map[int64]*sync.Mutex
	failOn      map[string]error
	rollbackErr error
}

func newMemStore() *memStore {
	return &memStore{
		state:     &memState{carts: map[int64]models.Cart{}, items: map[int64]models.CartItem{}},
		cartLocks: map[int64]*sync.Mutex{},
		failOn:    map[string]error{},
	}
}

func (s *memStore) repo() repository.CartRepository {
	return &memRepo{store: s}
}

// snapshot copies the current state for assertions.
func (s *memStore) snapshot() *memState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

func (s *memStore) cartLock(cartID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.cartLocks[cartID]
	if !ok {
		l = &sync.Mutex{}
		s.cartLocks[cartID] = l
	}
	return l
}

type memTx struct {
	undo []func(st *memState)
	held map[int64]*sync.Mutex
}

type memRepo struct {
	store *memStore
	tx    *memTx
}

// view locks the state for one primitive. record registers the inverse of a
// write when running inside a transaction.
func (r *memRepo) view() (*memState, func()) {
	r.store.mu.Lock()
	return r.store.state, r.store.mu.Unlock
}

func (r *memRepo) record(undo func(st *memState)) {
	if r.tx != nil {
		r.tx.undo = append(r.tx.undo, undo)
	}
}

func (r *memRepo) fail(op string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.store.failOn[op]
}

func (r *memRepo) Transaction(_ context.Context, fn func(tx repository.CartRepository) error) error {
	tx := &memTx{held: map[int64]*sync.Mutex{}}
	defer func() {
		for _, l := range tx.held {
			l.Unlock()
		}
	}()

	if err := fn(&memRepo{store: r.store, tx: tx}); err != nil {
		r.store.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i](r.store.state)
		}
		rbErr := r.store.rollbackErr
		r.store.mu.Unlock()
		if rbErr != nil {
			return &repository.RollbackError{Cause: err, Rollback: rbErr}
		}
		return err
	}
	return nil
}

func (r *memRepo) CreateCart(_ context.Context, userID int64, initialTotal decimal.Decimal) (*models.Cart, error) {
	if err := r.fail("CreateCart"); err != nil {
		return nil, err
	}
	st, done := r.view()
	defer done()
	st.nextCart++
	now := time.Now()
	c := models.Cart{ID: st.nextCart, UserID: userID, TotalAmount: initialTotal, CreatedAt: now, UpdatedAt: now}
	st.carts[c.ID] = c
	r.record(func(st *memState) { delete(st.carts, c.ID) })
	return &c, nil
}

func (r *memRepo) UpdateCart(_ context.Context, cart *models.Cart) error {
	if err := r.fail("UpdateCart"); err != nil {
		return err
	}
	st, done := r.view()
	defer done()
	c, ok := st.carts[cart.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	prev := c
	c.TotalAmount = cart.TotalAmount
	st.carts[cart.ID] = c
	r.record(func(st *memState) { st.carts[prev.ID] = prev })
	return nil
}

func (r *memRepo) DeleteCart(_ context.Context, cart *models.Cart) error {
	if err := r.fail("DeleteCart"); err != nil {
		return err
	}
	st, done := r.view()
	defer done()
	if prev, ok := st.carts[cart.ID]; ok {
		r.record(func(st *memState) { st.carts[prev.ID] = prev })
	}
	delete(st.carts, cart.ID)
	return nil
}

func (r *memRepo) FindCart(_ context.Context, cartID int64) (*models.Cart, error) {
	st, done := r.view()
	defer done()
	c, ok := st.carts[cartID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &c, nil
}

func (r *memRepo) LockCart(ctx context.Context, cartID int64) (*models.Cart, error) {
	if _, err := r.FindCart(ctx, cartID); err != nil {
		return nil, err
	}
	if r.tx != nil {
		if _, ok := r.tx.held[cartID]; !ok {
			l := r.store.cartLock(cartID)
			l.Lock()
			r.tx.held[cartID] = l
		}
	}
	// the cart may have been deleted while waiting for the lock
	return r.FindCart(ctx, cartID)
}

func (r *memRepo) CartsOf(_ context.Context, userID int64) ([]models.Cart, error) {
	st, done := r.view()
	defer done()
	var out []models.Cart
	for _, c := range st.carts {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) CreateItem(_ context.Context, cartID, productID int64, quantity int, unitPrice decimal.Decimal) (*models.CartItem, error) {
	if err := r.fail("CreateItem"); err != nil {
		return nil, err
	}
	st, done := r.view()
	defer done()
	for _, it := range st.items {
		if it.CartID == cartID && it.ProductID == productID {
			return nil, repository.ErrDuplicateItem
		}
	}
	st.nextItem++
	it := models.CartItem{
		ID:         st.nextItem,
		CartID:     cartID,
		ProductID:  productID,
		Quantity:   quantity,
		UnitPrice:  unitPrice,
		TotalPrice: models.LineTotal(unitPrice, quantity),
	}
	st.items[it.ID] = it
	r.record(func(st *memState) { delete(st.items, it.ID) })
	return &it, nil
}

func (r *memRepo) UpdateItem(_ context.Context, item *models.CartItem) error {
	if err := r.fail("UpdateItem"); err != nil {
		return err
	}
	st, done := r.view()
	defer done()
	it, ok := st.items[item.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	prev := it
	it.Quantity = item.Quantity
	it.TotalPrice = item.TotalPrice
	st.items[item.ID] = it
	r.record(func(st *memState) { st.items[prev.ID] = prev })
	return nil
}

func (r *memRepo) DeleteItem(_ context.Context, item *models.CartItem) error {
	if err := r.fail("DeleteItem"); err != nil {
		return err
	}
	st, done := r.view()
	defer done()
	if prev, ok := st.items[item.ID]; ok {
		r.record(func(st *memState) { st.items[prev.ID] = prev })
	}
	delete(st.items, item.ID)
	return nil
}

func (r *memRepo) DeleteItemsOf(_ context.Context, cartID int64) error {
	if err := r.fail("DeleteItemsOf"); err != nil {
		return err
	}
	st, done := r.view()
	defer done()
	for id, it := range st.items {
		if it.CartID == cartID {
			prev := it
			r.record(func(st *memState) { st.items[prev.ID] = prev })
			delete(st.items, id)
		}
	}
	return nil
}

func (r *memRepo) FindItem(_ context.Context, cartID, productID int64) (*models.CartItem, error) {
	st, done := r.view()
	defer done()
	for _, it := range st.items {
		if it.CartID == cartID && it.ProductID == productID {
			return &it, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) ItemExists(ctx context.Context, cartID, productID int64) (bool, error) {
	_, err := r.FindItem(ctx, cartID, productID)
	return err == nil, nil
}

func (r *memRepo) ItemsOf(ctx context.Context, cartID int64) ([]models.CartItem, error) {
	return r.ItemsOfCarts(ctx, []int64{cartID})
}

func (r *memRepo) ItemsOfCarts(_ context.Context, cartIDs []int64) ([]models.CartItem, error) {
	st, done := r.view()
	defer done()
	want := map[int64]bool{}
	for _, id := range cartIDs {
		want[id] = true
	}
	var out []models.CartItem
	for _, it := range st.items {
		if want[it.CartID] {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CartID != out[j].CartID {
			return out[i].CartID < out[j].CartID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

package models

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventCartCreated   = "cart.created"
	EventCartItemAdded = "cart.item_added"
	EventCartUpdated   = "cart.updated"
	EventCartDeleted   = "cart.deleted"
)

// CartEvent is published after a cart mutation commits.
type CartEvent struct {
	Event       string          `json:"event"`
	CartID      int64           `json:"cart_id"`
	UserID      int64           `json:"user_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	ProductIDs  []int64         `json:"product_ids,omitempty"`
	RequestID   string          `json:"request_id,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

const (
	ProductUpdated = "product.updated"
	ProductDeleted = "product.deleted"
)

// ProductEvent is the subset of the product service's events the cart service
// reads. ProductID arrives as a number or a numeric string.
type ProductEvent struct {
	Event     string          `json:"event"`
	ProductID json.RawMessage `json:"product_id"`
}

// NumericProductID decodes ProductID in either of its wire forms.
func (e ProductEvent) NumericProductID() (int64, error) {
	var s string
	if err := json.Unmarshal(e.ProductID, &s); err == nil {
		return strconv.ParseInt(s, 10, 64)
	}
	var n int64
	err := json.Unmarshal(e.ProductID, &n)
	return n, err
}

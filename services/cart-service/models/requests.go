package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductOrderRequest names one product and a quantity. On update a
// quantity of zero or less removes the item.
type ProductOrderRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type CartUpdateRequest struct {
	Updates []ProductOrderRequest `json:"updates" binding:"required,min=1"`
}

type CartItemView struct {
	ProductID  int64           `json:"product_id"`
	Name       string          `json:"name,omitempty"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

type CartView struct {
	CartID      int64           `json:"cart_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       []CartItemView  `json:"items"`
	CreatedAt   time.Time       `json:"created_at"`
}

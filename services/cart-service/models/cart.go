package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cart is one shopping cart owned by a single user. TotalAmount always equals
// the sum of its items' TotalPrice once a transaction commits.
type Cart struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"cart_id"`
	UserID      int64           `gorm:"not null;index" json:"user_id"`
	TotalAmount decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"total_amount"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Cart) TableName() string { return "carts" }

// CartItem is a line item. UnitPrice is the catalog price when the item was
// added and is not refreshed afterwards.
type CartItem struct {
	ID         int64           `gorm:"primaryKey;autoIncrement" json:"item_id"`
	CartID     int64           `gorm:"not null;uniqueIndex:idx_cart_items_cart_product" json:"cart_id"`
	ProductID  int64           `gorm:"not null;uniqueIndex:idx_cart_items_cart_product" json:"product_id"`
	Quantity   int             `gorm:"not null;check:quantity >= 1" json:"quantity"`
	UnitPrice  decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"unit_price"`
	TotalPrice decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"total_price"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CartItem) TableName() string { return "cart_items" }

// Reprice sets the quantity and recomputes TotalPrice from the stored unit
// price. It returns the change in TotalPrice.
func (i *CartItem) Reprice(quantity int) decimal.Decimal {
	before := i.TotalPrice
	i.Quantity = quantity
	i.TotalPrice = LineTotal(i.UnitPrice, quantity)
	return i.TotalPrice.Sub(before)
}

// MoneyScale is the number of decimal places kept by the numeric(12,2)
// money columns.
const MoneyScale = 2

// RoundMoney rounds half away from zero to MoneyScale places, as Postgres
// does when it stores a numeric(12,2) value.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// LineTotal is unitPrice × quantity.
func LineTotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}

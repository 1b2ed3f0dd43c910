package models

import "github.com/shopspring/decimal"

// User is the read-only slice of the users table owned by the user service.
type User struct {
	ID     int64  `gorm:"primaryKey"`
	Email  string `gorm:"column:email"`
	Number string `gorm:"column:number"`
}

func (User) TableName() string { return "users" }

// Product is the read-only slice of the products table owned by the product
// service.
type Product struct {
	ID     int64           `gorm:"primaryKey" json:"id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `gorm:"type:numeric(12,2)" json:"price"`
	Active bool            `json:"active"`
}

func (Product) TableName() string { return "products" }

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yashrajoria/storefront/services/cart-service/models"
)

type productResponse struct {
	ID     int64           `json:"id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Active *bool           `json:"active"`
}

// ProductClient reads prices and names from the product service's internal
// endpoint. It is used instead of the products table when PRICE_SOURCE=http.
type ProductClient struct {
	baseURL string
	client  *http.Client
}

func NewProductClient(baseURL string, timeout time.Duration) *ProductClient {
	return &ProductClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *ProductClient) get(ctx context.Context, productID int64) (*productResponse, error) {
	url := fmt.Sprintf("%s/products/internal/%d", c.baseURL, productID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrProductNotFound
	default:
		return nil, fmt.Errorf("product service returned %d", resp.StatusCode)
	}

	var prod productResponse
	if err := json.NewDecoder(resp.Body).Decode(&prod); err != nil {
		return nil, err
	}
	return &prod, nil
}

// fetch is get restricted to active products.
func (c *ProductClient) fetch(ctx context.Context, productID int64) (*productResponse, error) {
	prod, err := c.get(ctx, productID)
	if err != nil {
		return nil, err
	}
	if prod.Active != nil && !*prod.Active {
		return nil, ErrProductNotFound
	}
	return prod, nil
}

// ExistsByID reports whether the product service knows the product, active
// or not.
func (c *ProductClient) ExistsByID(ctx context.Context, productID int64) (bool, error) {
	_, err := c.get(ctx, productID)
	if errors.Is(err, ErrProductNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (c *ProductClient) FindPriceByID(ctx context.Context, productID int64) (decimal.Decimal, error) {
	prod, err := c.fetch(ctx, productID)
	if err != nil {
		return decimal.Zero, err
	}
	return prod.Price, nil
}

// FindByIDs fetches products one by one and skips the ones that are gone.
func (c *ProductClient) FindByIDs(ctx context.Context, productIDs []int64) ([]models.Product, error) {
	products := make([]models.Product, 0, len(productIDs))
	for _, id := range productIDs {
		prod, err := c.fetch(ctx, id)
		if errors.Is(err, ErrProductNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		products = append(products, models.Product{ID: prod.ID, Name: prod.Name, Price: prod.Price, Active: true})
	}
	return products, nil
}

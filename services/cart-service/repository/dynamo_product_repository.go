package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/yashrajoria/storefront/services/cart-service/models"
)

// BatchGetItem accepts at most 100 keys per call.
const dynamoBatchSize = 100

const maxUnprocessedRetries = 3

type dynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
}

// DynamoProductRepository reads products from the product service's DynamoDB
// table, keyed by the numeric attribute `product_id`.
type DynamoProductRepository struct {
	client dynamoAPI
	table  string
}

func NewDynamoProductRepository(cfg aws.Config, table string) ProductRepository {
	return newDynamoProductRepository(dynamodb.NewFromConfig(cfg), table)
}

func newDynamoProductRepository(client dynamoAPI, table string) *DynamoProductRepository {
	return &DynamoProductRepository{client: client, table: table}
}

type ddbProduct struct {
	ProductID int64                 `dynamodbav:"product_id"`
	Name      string                `dynamodbav:"name"`
	Price     attributevalue.Number `dynamodbav:"price"`
	DeletedAt *string               `dynamodbav:"deleted_at,omitempty"`
}

func (p ddbProduct) active() bool {
	return p.DeletedAt == nil
}

func (p ddbProduct) price() (decimal.Decimal, error) {
	if p.Price == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(string(p.Price))
}

func productKey(id int64) (map[string]types.AttributeValue, error) {
	key, err := attributevalue.MarshalMap(map[string]int64{"product_id": id})
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	return key, nil
}

func (r *DynamoProductRepository) get(ctx context.Context, productID int64) (*ddbProduct, error) {
	key, err := productKey(productID)
	if err != nil {
		return nil, err
	}
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{TableName: &r.table, Key: key})
	if err != nil {
		return nil, fmt.Errorf("dynamodb GetItem failed: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	var dp ddbProduct
	if err := attributevalue.UnmarshalMap(out.Item, &dp); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &dp, nil
}

// FindPriceByID returns the price of a live product with a positive price,
// and gorm.ErrRecordNotFound for anything else.
func (r *DynamoProductRepository) FindPriceByID(ctx context.Context, productID int64) (decimal.Decimal, error) {
	dp, err := r.get(ctx, productID)
	if err != nil {
		return decimal.Zero, err
	}
	if !dp.active() {
		return decimal.Zero, gorm.ErrRecordNotFound
	}
	price, err := dp.price()
	if err != nil {
		return decimal.Zero, fmt.Errorf("product %d has invalid price %q: %w", productID, dp.Price, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, gorm.ErrRecordNotFound
	}
	return price, nil
}

func (r *DynamoProductRepository) ExistsByID(ctx context.Context, productID int64) (bool, error) {
	_, err := r.get(ctx, productID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

// FindByIDs returns names for the given ids. Missing ids are skipped.
func (r *DynamoProductRepository) FindByIDs(ctx context.Context, productIDs []int64) ([]models.Product, error) {
	var products []models.Product
	for start := 0; start < len(productIDs); start += dynamoBatchSize {
		end := min(start+dynamoBatchSize, len(productIDs))
		batch, err := r.batchGet(ctx, productIDs[start:end])
		if err != nil {
			return nil, err
		}
		products = append(products, batch...)
	}
	return products, nil
}

func (r *DynamoProductRepository) batchGet(ctx context.Context, ids []int64) ([]models.Product, error) {
	keys := make([]map[string]types.AttributeValue, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		key, err := productKey(id)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	projection := "product_id, #n, price, deleted_at"
	request := map[string]types.KeysAndAttributes{
		r.table: {
			Keys:                     keys,
			ProjectionExpression:     &projection,
			ExpressionAttributeNames: map[string]string{"#n": "name"},
		},
	}

	var products []models.Product
	for attempt := 0; len(request) > 0; attempt++ {
		if attempt > maxUnprocessedRetries {
			return nil, fmt.Errorf("dynamodb BatchGetItem left %d keys unprocessed", len(request[r.table].Keys))
		}
		out, err := r.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
		if err != nil {
			return nil, fmt.Errorf("dynamodb BatchGetItem failed: %w", err)
		}
		for _, item := range out.Responses[r.table] {
			var dp ddbProduct
			if err := attributevalue.UnmarshalMap(item, &dp); err != nil {
				return nil, fmt.Errorf("unmarshal item: %w", err)
			}
			products = append(products, models.Product{ID: dp.ProductID, Name: dp.Name, Active: dp.active()})
		}
		request = out.UnprocessedKeys
	}
	return products, nil
}

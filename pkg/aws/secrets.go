package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"golang.org/x/sync/singleflight"
)

type getSecretValueAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsClient reads JSON object secrets such as {"POSTGRES_USER": "..."}.
// Decoded secrets are kept for the process lifetime and concurrent first
// reads of the same name share one request.
type SecretsClient struct {
	client  getSecretValueAPI
	group   singleflight.Group
	mu      sync.RWMutex
	decoded map[string]map[string]string
}

func NewSecretsClient(cfg sdkaws.Config) *SecretsClient {
	return newSecretsClient(secretsmanager.NewFromConfig(cfg))
}

func newSecretsClient(api getSecretValueAPI) *SecretsClient {
	return &SecretsClient{client: api, decoded: make(map[string]map[string]string)}
}

func (s *SecretsClient) GetSecretMap(ctx context.Context, name string) (map[string]string, error) {
	s.mu.RLock()
	m, ok := s.decoded[name]
	s.mu.RUnlock()
	if ok {
		return m, nil
	}

	v, err, _ := s.group.Do(name, func() (any, error) {
		return s.fetch(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]string), nil
}

func (s *SecretsClient) fetch(ctx context.Context, name string) (map[string]string, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &name})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", name, err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", name)
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(*out.SecretString), &m); err != nil {
		return nil, fmt.Errorf("secret %s is not a JSON object: %w", name, err)
	}

	s.mu.Lock()
	s.decoded[name] = m
	s.mu.Unlock()
	return m, nil
}

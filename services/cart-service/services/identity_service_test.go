package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yashrajoria/storefront/services/cart-service/services"
	apperrors "github.com/yashrajoria/storefront/services/common/errors"
)

type mockUserRepo struct {
	byEmail  map[string]int64
	byNumber map[string]int64
	err      error
}

func (m *mockUserRepo) FindUserIDByEmail(_ context.Context, email string) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	if id, ok := m.byEmail[email]; ok {
		return id, nil
	}
	return 0, gorm.ErrRecordNotFound
}

func (m *mockUserRepo) FindUserIDByNumber(_ context.Context, number string) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	if id, ok := m.byNumber[number]; ok {
		return id, nil
	}
	return 0, gorm.ErrRecordNotFound
}

func TestClassify(t *testing.T) {
	r := services.NewIdentityResolver(&mockUserRepo{}, zap.NewNop())

	cases := map[string]services.ReferenceKind{
		"a@b.com":               services.ReferenceEmail,
		" first.last+x@shop.in ": services.ReferenceEmail,
		"9876543210":            services.ReferencePhone,
		"+919876543210":         services.ReferencePhone,
		"12345":                 services.ReferenceInvalid,
		"a@b":                   services.ReferenceInvalid,
		"":                      services.ReferenceInvalid,
		"   ":                   services.ReferenceInvalid,
		"98765-43210":           services.ReferenceInvalid,
	}
	for ref, want := range cases {
		assert.Equal(t, want, r.Classify(ref), "reference %q", ref)
	}
}

func TestResolve(t *testing.T) {
	repo := &mockUserRepo{
		byEmail:  map[string]int64{"a@b.com": 1},
		byNumber: map[string]int64{"+919876543210": 2},
	}
	r := services.NewIdentityResolver(repo, zap.NewNop())

	id, err := r.Resolve(context.Background(), "a@b.com")
	require.Nil(t, err)
	assert.Equal(t, int64(1), id)

	id, err = r.Resolve(context.Background(), "+919876543210")
	require.Nil(t, err)
	assert.Equal(t, int64(2), id)

	_, err = r.Resolve(context.Background(), "nobody@b.com")
	assert.ErrorIs(t, err, apperrors.ErrUserNotFound)

	_, err = r.Resolve(context.Background(), "not-a-reference")
	assert.ErrorIs(t, err, apperrors.ErrInvalidReference)
}

func TestResolve_StoreFailureIsUnknown(t *testing.T) {
	cause := errors.New("connection refused")
	r := services.NewIdentityResolver(&mockUserRepo{err: cause}, zap.NewNop())

	_, err := r.Resolve(context.Background(), "a@b.com")
	require.NotNil(t, err)
	assert.Equal(t, apperrors.KindUnknown, err.Kind)
	assert.ErrorIs(t, err, cause)
}

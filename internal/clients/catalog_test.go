package clients

import (
	"context"
	"errors"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"

	"github.com/vaidashi/lavender-orders/pkg/circuitbreaker"
	apperrors "github.com/vaidashi/lavender-orders/pkg/errors"
	"github.com/vaidashi/lavender-orders/pkg/logger"
)

type stubSource struct {
	products map[string]*stripe.Product
	queries  []string
	err      error
	gets     int
}

func (s *stubSource) Get(ctx context.Context, id string) (*stripe.Product, error) {
	s.gets++
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.products[id]
	if !ok {
		return nil, &stripe.Error{Code: stripe.ErrorCodeResourceMissing, HTTPStatusCode: 404}
	}
	return p, nil
}

func (s *stubSource) Search(ctx context.Context, query string) ([]*stripe.Product, error) {
	s.queries = append(s.queries, query)
	if s.err != nil {
		return nil, s.err
	}
	var out []*stripe.Product
	for _, p := range s.products {
		if p.Metadata["category"] == "lavender" && p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func lavenderSource() *stubSource {
	return &stubSource{products: map[string]*stripe.Product{
		"prod_sachet": {
			ID:           "prod_sachet",
			Name:         "Lavender Sachet",
			Active:       true,
			Metadata:     map[string]string{"category": "lavender"},
			DefaultPrice: &stripe.Price{UnitAmount: 1200},
		},
		"prod_draft": {
			ID:       "prod_draft",
			Name:     "Unpriced Soap",
			Active:   true,
			Metadata: map[string]string{"category": "soap"},
		},
	}}
}

func newTestCatalog(t *testing.T, source *stubSource, cache *redis.Client) *CatalogClient {
	t.Helper()

	c, err := NewCatalogClient(CatalogClientConfig{
		Cache:    cache,
		CacheTTL: time.Minute,
		Breaker:  circuitbreaker.Config{MaxFailures: 2},
		source:   source,
	}, logger.NewNop())
	require.NoError(t, err)
	return c
}

func TestCatalogProduct(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(t, lavenderSource(), nil)

	p, err := c.Product(context.Background(), "prod_sachet")
	require.NoError(t, err)
	assert.Equal(t, "Lavender Sachet", p.Name)
	assert.Equal(t, int64(1200), p.PriceCents)
	assert.Equal(t, "lavender", p.Category)
	assert.True(t, p.Active)
	assert.NotNil(t, p.Images)
}

func TestCatalogProductWithoutPriceIsInactive(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(t, lavenderSource(), nil)

	p, err := c.Product(context.Background(), "prod_draft")
	require.NoError(t, err)
	assert.False(t, p.Active)
}

func TestCatalogProductNotFound(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(t, lavenderSource(), nil)

	_, err := c.Product(context.Background(), "prod_missing")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, "Product 'prod_missing' not found", err.Error())

	_, err = c.Product(context.Background(), " ")
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestCatalogSourceOutage(t *testing.T) {
	t.Parallel()

	source := lavenderSource()
	source.err = errors.New("stripe down")
	c := newTestCatalog(t, source, nil)

	_, err := c.Product(context.Background(), "prod_sachet")
	require.ErrorIs(t, err, apperrors.ErrServiceUnavailable)
}

func TestCatalogListProducts(t *testing.T) {
	t.Parallel()

	source := lavenderSource()
	c := newTestCatalog(t, source, nil)

	products, err := c.ListProducts(context.Background(), " Lavender ")
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "prod_sachet", products[0].ID)
	assert.Equal(t, []string{"active:'true' AND metadata['category']:'lavender'"}, source.queries)
}

func TestCatalogListProductsRejectsBadCategory(t *testing.T) {
	t.Parallel()

	source := lavenderSource()
	c := newTestCatalog(t, source, nil)

	for _, category := range []string{"", "cider' OR active:'false", "a b"} {
		_, err := c.ListProducts(context.Background(), category)
		require.ErrorIs(t, err, apperrors.ErrInvalidInput, category)
	}
	assert.Empty(t, source.queries)
}

func TestCatalogFallsBackWhenCacheUnreachable(t *testing.T) {
	t.Parallel()

	cache := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = cache.Close() })

	source := lavenderSource()
	c := newTestCatalog(t, source, cache)

	for i := 0; i < 3; i++ {
		p, err := c.Product(context.Background(), "prod_sachet")
		require.NoError(t, err)
		assert.Equal(t, "Lavender Sachet", p.Name)
	}

	assert.Equal(t, 3, source.gets)
}

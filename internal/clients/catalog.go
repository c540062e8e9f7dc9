package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/product"
	"golang.org/x/sync/singleflight"

	"github.com/vaidashi/lavender-orders/internal/models"
	"github.com/vaidashi/lavender-orders/pkg/circuitbreaker"
	apperrors "github.com/vaidashi/lavender-orders/pkg/errors"
	"github.com/vaidashi/lavender-orders/pkg/logger"
)

const maxCatalogResults = 100

var categoryPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// productSource is the catalog of record
type productSource interface {
	Get(ctx context.Context, id string) (*stripe.Product, error)
	Search(ctx context.Context, query string) ([]*stripe.Product, error)
}

type stripeProductAPI interface {
	Get(id string, params *stripe.ProductParams) (*stripe.Product, error)
	Search(params *stripe.ProductSearchParams) *product.SearchIter
}

type stripeProducts struct {
	api stripeProductAPI
}

func (s *stripeProducts) Get(ctx context.Context, id string) (*stripe.Product, error) {
	params := &stripe.ProductParams{}
	params.Context = ctx
	params.AddExpand("default_price")

	return s.api.Get(id, params)
}

func (s *stripeProducts) Search(ctx context.Context, query string) ([]*stripe.Product, error) {
	params := &stripe.ProductSearchParams{}
	params.Context = ctx
	params.Query = query
	params.Limit = stripe.Int64(maxCatalogResults)
	params.AddExpand("data.default_price")

	var out []*stripe.Product
	iter := s.api.Search(params)
	for iter.Next() && len(out) < maxCatalogResults {
		out = append(out, iter.Product())
	}

	return out, iter.Err()
}

// CatalogClientConfig configures the CatalogClient
type CatalogClientConfig struct {
	SecretKey   string
	CategoryKey string
	// Cache is optional; without it every lookup goes to Stripe
	Cache    *redis.Client
	CacheTTL time.Duration
	Breaker  circuitbreaker.Config

	source productSource
}

// CatalogClient reads storefront products from Stripe, cached in Redis
type CatalogClient struct {
	source      productSource
	categoryKey string
	cache       *redis.Client
	ttl         time.Duration
	sf          singleflight.Group
	cacheCB     *gobreaker.CircuitBreaker
	logger      logger.Logger
}

// NewCatalogClient creates a new CatalogClient
func NewCatalogClient(cfg CatalogClientConfig, log logger.Logger) (*CatalogClient, error) {
	source := cfg.source
	if source == nil {
		key := strings.TrimSpace(cfg.SecretKey)
		if key == "" {
			return nil, errors.New("stripe: secret key is required")
		}
		source = &stripeProducts{api: client.New(key, nil).Products}
	}

	categoryKey := cfg.CategoryKey
	if categoryKey == "" {
		categoryKey = "category"
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &CatalogClient{
		source:      source,
		categoryKey: categoryKey,
		cache:       cfg.Cache,
		ttl:         ttl,
		cacheCB:     circuitbreaker.New("catalog-cache", cfg.Breaker, log),
		logger:      log,
	}, nil
}

// Breaker exposes the cache circuit breaker for status reporting
func (c *CatalogClient) Breaker() *gobreaker.CircuitBreaker {
	return c.cacheCB
}

// Product returns one product by id
func (c *CatalogClient) Product(ctx context.Context, id string) (*models.Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.NewInvalidInputError("Product id is required")
	}

	key := "catalog:product:" + id

	var cached models.Product
	if c.readCache(ctx, key, &cached) {
		return &cached, nil
	}

	res, err, _ := c.sf.Do(key, func() (interface{}, error) {
		p, err := c.source.Get(ctx, id)
		if err != nil {
			return nil, c.mapError(err, fmt.Sprintf("Product '%s' not found", id))
		}

		product := c.toModel(p)
		c.writeCache(ctx, key, product)
		return product, nil
	})

	if err != nil {
		return nil, err
	}

	return res.(*models.Product), nil
}

// ListProducts returns the active products in category
func (c *CatalogClient) ListProducts(ctx context.Context, category string) ([]*models.Product, error) {
	category = strings.ToLower(strings.TrimSpace(category))
	if !categoryPattern.MatchString(category) {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("Invalid category '%s'", category))
	}

	key := "catalog:category:" + category

	var cached []*models.Product
	if c.readCache(ctx, key, &cached) {
		return cached, nil
	}

	res, err, shared := c.sf.Do(key, func() (interface{}, error) {
		query := fmt.Sprintf("active:'true' AND metadata['%s']:'%s'", c.categoryKey, category)

		found, err := c.source.Search(ctx, query)
		if err != nil {
			return nil, c.mapError(err, fmt.Sprintf("Category '%s' not found", category))
		}

		products := make([]*models.Product, 0, len(found))
		for _, p := range found {
			products = append(products, c.toModel(p))
		}

		c.writeCache(ctx, key, products)
		return products, nil
	})

	if err != nil {
		return nil, err
	}

	if shared {
		c.logger.Debug("Catalog lookup shared", "category", category)
	}

	return res.([]*models.Product), nil
}

func (c *CatalogClient) toModel(p *stripe.Product) *models.Product {
	out := &models.Product{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Metadata[c.categoryKey],
		Images:      p.Images,
		Active:      p.Active,
	}

	if p.DefaultPrice != nil {
		out.PriceCents = p.DefaultPrice.UnitAmount
	} else {
		// Without a price the product cannot be sold.
		out.Active = false
	}

	if out.Images == nil {
		out.Images = []string{}
	}

	return out
}

func (c *CatalogClient) mapError(err error, notFound string) error {
	var stripeErr *stripe.Error

	if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
		return apperrors.NewNotFoundError(notFound)
	}

	c.logger.Error("Catalog lookup failed", "error", err)
	return apperrors.NewServiceUnavailableError("Catalog is temporarily unavailable")
}

// readCache reports whether key was found and decoded into dst. Cache
// failures count as misses.
func (c *CatalogClient) readCache(ctx context.Context, key string, dst interface{}) bool {
	if c.cache == nil {
		return false
	}

	val, err := c.cacheCB.Execute(func() (interface{}, error) {
		res, err := c.cache.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return res, err
	})

	if err != nil {
		c.logger.Warn("Catalog cache read failed", "key", key, "error", err)
		return false
	}

	raw, ok := val.(string)
	if !ok {
		return false
	}

	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		c.logger.Warn("Catalog cache entry unreadable", "key", key, "error", err)
		return false
	}

	return true
}

func (c *CatalogClient) writeCache(ctx context.Context, key string, value interface{}) {
	if c.cache == nil {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		return
	}

	// Jitter keeps entries written together from expiring together.
	ttl := c.ttl + time.Duration(rand.Int64N(int64(c.ttl/10)+1))

	_, err = c.cacheCB.Execute(func() (interface{}, error) {
		return nil, c.cache.Set(ctx, key, data, ttl).Err()
	})

	if err != nil {
		c.logger.Warn("Catalog cache write failed", "key", key, "error", err)
	}
}

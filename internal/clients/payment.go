package clients

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/vaidashi/lavender-orders/internal/models"
	"github.com/vaidashi/lavender-orders/pkg/circuitbreaker"
	apperrors "github.com/vaidashi/lavender-orders/pkg/errors"
	"github.com/vaidashi/lavender-orders/pkg/logger"
)

type paymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// PaymentClientConfig configures the PaymentClient
type PaymentClientConfig struct {
	SecretKey string
	Currency  string
	Timeout   time.Duration
	Breaker   circuitbreaker.Config

	intents paymentIntentAPI
}

// PaymentClient charges payment sources through Stripe PaymentIntents
type PaymentClient struct {
	intents  paymentIntentAPI
	currency string
	timeout  time.Duration
	breaker  *gobreaker.CircuitBreaker
	logger   logger.Logger
}

// NewPaymentClient creates a new PaymentClient
func NewPaymentClient(cfg PaymentClientConfig, log logger.Logger) (*PaymentClient, error) {
	intents := cfg.intents
	if intents == nil {
		key := strings.TrimSpace(cfg.SecretKey)
		if key == "" {
			return nil, errors.New("stripe: secret key is required")
		}
		intents = client.New(key, nil).PaymentIntents
	}

	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	// Card declines do not count against the breaker.
	breakerCfg := cfg.Breaker
	breakerCfg.IsSuccessful = func(err error) bool {
		return err == nil || isCardError(err)
	}

	return &PaymentClient{
		intents:  intents,
		currency: currency,
		timeout:  timeout,
		breaker:  circuitbreaker.New("stripe-payments", breakerCfg, log),
		logger:   log,
	}, nil
}

// Breaker exposes the client's circuit breaker for status reporting
func (c *PaymentClient) Breaker() *gobreaker.CircuitBreaker {
	return c.breaker
}

// Charge creates and confirms a PaymentIntent for amountCents against sourceToken
func (c *PaymentClient) Charge(ctx context.Context, sourceToken string, amountCents int64) (*models.Payment, error) {
	sourceToken = strings.TrimSpace(sourceToken)
	if sourceToken == "" {
		return nil, apperrors.NewInvalidInputError("Payment source is required")
	}

	if amountCents <= 0 {
		return nil, apperrors.NewInvalidInputError("Charge amount must be positive")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amountCents),
		Currency:      stripe.String(c.currency),
		PaymentMethod: stripe.String(sourceToken),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	params.Context = ctx

	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.intents.New(params)
	})

	if err != nil {
		return nil, c.mapError(ctx, err, amountCents)
	}

	intent, ok := res.(*stripe.PaymentIntent)
	if !ok || intent == nil {
		return nil, apperrors.NewInternalError("Payment provider returned an empty response")
	}

	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusProcessing:
	default:
		c.logger.Warn("Payment intent not completed",
			"paymentIntent", intent.ID,
			"status", intent.Status)
		return nil, apperrors.NewPaymentDeclinedError("Payment could not be completed")
	}

	c.logger.Info("Payment captured",
		"paymentIntent", intent.ID,
		"amount", intent.Amount,
		"status", intent.Status)

	return &models.Payment{
		ID:          intent.ID,
		AmountCents: intent.Amount,
		Status:      string(intent.Status),
	}, nil
}

func (c *PaymentClient) mapError(ctx context.Context, err error, amountCents int64) error {
	var stripeErr *stripe.Error

	switch {
	case errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard:
		msg := stripeErr.Msg
		if msg == "" {
			msg = "Payment was declined"
		}
		return apperrors.NewPaymentDeclinedError(msg)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.logger.Warn("Payment circuit open, charge rejected", "amount", amountCents)
		return apperrors.NewServiceUnavailableError("Payment service is temporarily unavailable")
	case ctx.Err() != nil:
		return apperrors.NewTimeoutError("Payment service timed out")
	default:
		c.logger.Error("Payment charge failed", "amount", amountCents, "error", err)
		return apperrors.NewServiceUnavailableError("Payment service is unavailable")
	}
}

func isCardError(err error) bool {
	var stripeErr *stripe.Error
	return errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard
}

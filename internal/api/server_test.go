package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/vaidashi/lavender-orders/internal/auth"
	"github.com/vaidashi/lavender-orders/internal/models"
	"github.com/vaidashi/lavender-orders/internal/outbox"
	"github.com/vaidashi/lavender-orders/internal/pricing"
	"github.com/vaidashi/lavender-orders/internal/repository"
	"github.com/vaidashi/lavender-orders/internal/service"
	"github.com/vaidashi/lavender-orders/pkg/circuitbreaker"
	apperrors "github.com/vaidashi/lavender-orders/pkg/errors"
	"github.com/vaidashi/lavender-orders/pkg/logger"
)

type stubProducts map[string]*models.Product

func (p stubProducts) Product(ctx context.Context, id string) (*models.Product, error) {
	product, ok := p[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("Product '" + id + "' not found")
	}
	return product, nil
}

func (p stubProducts) ListProducts(ctx context.Context, category string) ([]*models.Product, error) {
	var out []*models.Product
	for _, product := range p {
		if product.Category == category {
			out = append(out, product)
		}
	}
	return out, nil
}

type stubCharger struct{ err error }

func (c stubCharger) Charge(ctx context.Context, sourceToken string, amountCents int64) (*models.Payment, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &models.Payment{ID: "pi_test", AmountCents: amountCents, Status: "succeeded"}, nil
}

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error { return errors.New("connection refused") }

type testEnv struct {
	server *Server
	store  *repository.MemoryStore
	orders *service.OrderService
	token  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := repository.NewMemoryStore()
	orders := service.NewOrderService(store, logger.NewNop())

	products := stubProducts{
		"prod_sachet": {ID: "prod_sachet", Name: "Lavender Sachet", Category: "lavender", PriceCents: 1200, Active: true},
	}
	checkout := service.NewCheckoutService(orders, products, stubCharger{}, pricing.NewCalculator(pricing.DefaultRates()), logger.NewNop())

	hash, err := bcrypt.GenerateFromPassword([]byte("lavender"), bcrypt.MinCost)
	require.NoError(t, err)

	authenticator, err := auth.New(auth.Config{PasswordHash: string(hash), Secret: []byte("test-secret")}, logger.NewNop())
	require.NoError(t, err)

	token, _, err := authenticator.Login("lavender")
	require.NoError(t, err)

	deadLetters := outbox.NewDeadLetterProcessor(store.DeadLetters(), outbox.DeadLetterProcessorConfig{}, logger.NewNop())

	breakers := circuitbreaker.NewRegistry()
	breakers.Register(circuitbreaker.New("stripe-payments", circuitbreaker.Config{}, logger.NewNop()))

	server := NewServer(0, Dependencies{
		Orders:      orders,
		Checkout:    checkout,
		Catalog:     products,
		DeadLetters: deadLetters,
		DLQStore:    store.DeadLetters(),
		Auth:        authenticator,
		Breakers:    breakers,
		Health:      store,
	}, logger.NewNop())

	return &testEnv{server: server, store: store, orders: orders, token: token}
}

func (e *testEnv) createOrder(t *testing.T, method models.FulfillmentMethod) *models.Order {
	t.Helper()

	in := service.CreateOrderInput{
		Items:             []models.LineItem{{ProductID: "prod_sachet", Name: "Lavender Sachet", Quantity: 1, UnitPriceCents: 1500}},
		Customer:          models.CustomerInfo{Email: "jane@example.com", FirstName: "Jane", LastName: "Smith"},
		FulfillmentMethod: method,
		SubtotalCents:     1500,
		TotalCents:        1500,
	}
	if method == models.FulfillmentShipping {
		in.ShippingAddress = &models.Address{Line1: "1 Farm Rd", City: "Sequim", State: "WA", PostalCode: "98382", Country: "US"}
	}

	order, err := e.orders.CreateOrder(context.Background(), in)
	require.NoError(t, err)
	return order
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "ok", body["data"].(map[string]interface{})["database"])
}

func TestHealthCheckReportsUnreachableDatabase(t *testing.T) {
	t.Parallel()

	server := NewServer(0, Dependencies{Health: failingPinger{}}, logger.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestOrderRoutesRequireSession(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.token = ""

	for _, path := range []string{"/api/v1/orders", "/api/v1/orders/export", "/api/v1/admin/dead-letters"} {
		rec := env.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestLoginAndLogout(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.token = ""

	rec := env.do(t, http.MethodPost, "/api/v1/auth/login", LoginRequest{Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Result().Cookies())

	rec = env.do(t, http.MethodPost, "/api/v1/auth/login", LoginRequest{Password: "lavender"})
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, auth.CookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "the session cookie authenticates")

	rec = env.do(t, http.MethodPost, "/api/v1/auth/logout", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, rec.Result().Cookies(), 1)
	assert.Equal(t, -1, rec.Result().Cookies()[0].MaxAge)
}

func TestChangeStatusRejectionCarriesAllowedTransitions(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	order := env.createOrder(t, models.FulfillmentPickup)

	rec := env.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/status", ChangeStatusRequest{Status: "ready"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body RejectionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "InvalidTransition", body.Error)
	assert.NotEmpty(t, body.Detail)
	assert.Equal(t, []models.OrderStatus{models.StatusProcessing, models.StatusOnHold, models.StatusCancelled}, body.AllowedTransitions)

	stored, err := env.store.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, stored.Status, "a rejected change leaves the order untouched")
}

func TestChangeStatusNoteRequired(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	order := env.createOrder(t, models.FulfillmentShipping)

	rec := env.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/status", ChangeStatusRequest{Status: "cancelled", Note: "   "})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "NoteRequired", decodeBody(t, rec)["error"])
}

func TestChangeStatusCommits(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	order := env.createOrder(t, models.FulfillmentShipping)

	rec := env.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/status", ChangeStatusRequest{Status: "processing"})
	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeBody(t, rec)["data"].(map[string]interface{})
	transition := data["transition"].(map[string]interface{})
	assert.Equal(t, "confirmed", transition["from"])
	assert.Equal(t, "processing", transition["to"])
	assert.Equal(t, "processing", data["order"].(map[string]interface{})["status"])

	rec = env.do(t, http.MethodGet, "/api/v1/orders/"+order.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	detail := decodeBody(t, rec)["data"].(map[string]interface{})
	assert.Len(t, detail["auditLog"], 2)
	assert.Equal(t, []interface{}{"shipped", "on_hold", "cancelled"}, detail["allowedTransitions"])
}

func TestChangeStatusErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	order := env.createOrder(t, models.FulfillmentPickup)

	rec := env.do(t, http.MethodPost, "/api/v1/orders/missing/status", ChangeStatusRequest{Status: "processing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/status", ChangeStatusRequest{Status: "teleported"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+order.ID+"/status", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+env.token)
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBulkStatus(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	pickup := env.createOrder(t, models.FulfillmentPickup)
	shipping := env.createOrder(t, models.FulfillmentShipping)

	rec := env.do(t, http.MethodPost, "/api/v1/orders/bulk/status", BulkStatusRequest{
		OrderIDs: []string{pickup.ID, shipping.ID, "missing"},
		Status:   "processing",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data service.BulkResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.ElementsMatch(t, []string{pickup.ID, shipping.ID}, body.Data.Succeeded)
	require.Len(t, body.Data.Failed, 1)
	assert.Equal(t, "missing", body.Data.Failed[0].OrderID)

	rec = env.do(t, http.MethodPost, "/api/v1/orders/bulk/targets", BulkTargetsRequest{OrderIDs: []string{pickup.ID, shipping.ID}})
	require.Equal(t, http.StatusOK, rec.Code)
	targets := decodeBody(t, rec)["data"].(map[string]interface{})["allowedTransitions"]
	assert.Equal(t, []interface{}{"on_hold", "cancelled"}, targets)
}

func TestBulkStatusRejectsOversizedRequests(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	ids := make([]string, service.MaxBulkOrders+1)
	for i := range ids {
		ids[i] = models.GenerateID("ord")
	}

	rec := env.do(t, http.MethodPost, "/api/v1/orders/bulk/status", BulkStatusRequest{OrderIDs: ids, Status: "processing"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/orders/bulk/status", BulkStatusRequest{Status: "processing"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrackingAndNotes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	pickup := env.createOrder(t, models.FulfillmentPickup)
	shipping := env.createOrder(t, models.FulfillmentShipping)

	rec := env.do(t, http.MethodPost, "/api/v1/orders/"+pickup.ID+"/tracking", TrackingRequest{TrackingNumber: "1Z999"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "FulfillmentMismatch", decodeBody(t, rec)["error"])

	rec = env.do(t, http.MethodPost, "/api/v1/orders/"+shipping.ID+"/tracking", TrackingRequest{TrackingNumber: "1Z999"})
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, shipping.ID, data["orderId"])
	assert.Equal(t, "1Z999", data["trackingNumber"])

	rec = env.do(t, http.MethodPost, "/api/v1/orders/"+pickup.ID+"/notes", NoteRequest{Note: "Call before pickup"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Call before pickup", decodeBody(t, rec)["data"].(map[string]interface{})["adminNotes"])

	rec = env.do(t, http.MethodPost, "/api/v1/orders/missing/notes", NoteRequest{Note: "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/orders/"+shipping.ID+"/audit?action=tracking_added", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Len(t, body["data"], 1)
	assert.EqualValues(t, 1, body["pagination"].(map[string]interface{})["totalCount"])

	rec = env.do(t, http.MethodGet, "/api/v1/orders/"+shipping.ID+"/audit?action=deleted", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/orders/missing/audit", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListOrders(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	first := env.createOrder(t, models.FulfillmentPickup)
	env.createOrder(t, models.FulfillmentShipping)

	_, err := env.orders.ChangeStatus(context.Background(), service.ChangeStatusInput{
		OrderID: first.ID,
		Target:  models.StatusCancelled,
		Note:    "Customer asked",
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/v1/orders?tab=active&pageSize=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Len(t, body["data"], 1)

	counts := body["counts"].(map[string]interface{})
	assert.EqualValues(t, 1, counts["confirmed"])
	assert.EqualValues(t, 1, counts["cancelled"], "counts ignore the status filter")
	assert.EqualValues(t, 0, counts["shipped"])

	pagination := body["pagination"].(map[string]interface{})
	assert.EqualValues(t, 1, pagination["totalCount"])
	assert.EqualValues(t, 10, pagination["pageSize"])

	rec = env.do(t, http.MethodGet, "/api/v1/orders?status=confirmed,cancelled&sortBy=total&sortOrder=asc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["data"], 2)
}

func TestListOrdersRejectsBadFilters(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	for _, query := range []string{
		"status=lost",
		"tab=someday",
		"fulfillment=drone",
		"dateFrom=06/01/2024",
		"sortBy=color",
		"sortOrder=sideways",
		"dateFrom=2024-06-02&dateTo=2024-06-01",
	} {
		rec := env.do(t, http.MethodGet, "/api/v1/orders?"+query, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestExportOrders(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	order := env.createOrder(t, models.FulfillmentShipping)

	rec := env.do(t, http.MethodGet, "/api/v1/orders/export?fulfillment=shipping", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Equal(t, "1", rec.Header().Get("X-Total-Count"))

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "Order ID,Status,Customer Name"))
	assert.True(t, strings.HasPrefix(lines[1], order.ID+",confirmed,Jane Smith"))
}

func TestCheckoutAndCatalog(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.token = ""

	rec := env.do(t, http.MethodPost, "/api/v1/checkout", service.CheckoutInput{
		Items:             []service.CheckoutItem{{ProductID: "prod_sachet", Quantity: 2}},
		Customer:          models.CustomerInfo{Email: "sam@example.com", FirstName: "Sam"},
		FulfillmentMethod: models.FulfillmentPickup,
		SourceToken:       "tok_visa",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	data := decodeBody(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, "confirmed", data["status"])
	assert.Equal(t, "pi_test", data["paymentId"])

	rec = env.do(t, http.MethodPost, "/api/v1/checkout", service.CheckoutInput{
		Items:             []service.CheckoutItem{{ProductID: "prod_unknown", Quantity: 1}},
		Customer:          models.CustomerInfo{Email: "sam@example.com"},
		FulfillmentMethod: models.FulfillmentPickup,
		SourceToken:       "tok_visa",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/catalog/lavender", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["data"], 1)
}

func TestDeadLetterAdmin(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	dead := models.NewDeadLetterMessage(&models.OutboxMessage{
		ID:            7,
		AggregateType: "order",
		AggregateID:   "ord_1",
		EventType:     "order.status_changed",
		Payload:       []byte(`{}`),
		CreatedAt:     time.Now(),
	}, "smtp timeout", "max retries exceeded")
	require.NoError(t, env.store.DeadLetters().Create(ctx, dead))

	rec := env.do(t, http.MethodGet, "/api/v1/admin/dead-letters?status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Len(t, body["data"], 1)

	rec = env.do(t, http.MethodGet, "/api/v1/admin/dead-letters?status=sideways", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/admin/dead-letters/abc/retry", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/admin/dead-letters/999/discard", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/admin/dead-letters/"+jsonNumber(dead.ID)+"/discard", DiscardRequest{Reason: "stale"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "discarded", decodeBody(t, rec)["data"].(map[string]interface{})["status"])

	rec = env.do(t, http.MethodPost, "/api/v1/admin/dead-letters/"+jsonNumber(dead.ID)+"/discard", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, rec.Header().Get("Retry-After"))
	assert.Nil(t, decodeBody(t, rec)["retryable"])
}

func TestCircuitBreakerStatus(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/admin/circuit-breaker", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	breakers := decodeBody(t, rec)["data"].(map[string]interface{})["breakers"].([]interface{})
	require.Len(t, breakers, 1)
	assert.Equal(t, "stripe-payments", breakers[0].(map[string]interface{})["name"])
	assert.Equal(t, "closed", breakers[0].(map[string]interface{})["state"])
}

func jsonNumber(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestServiceErrorsReportRetryability(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	tests := []struct {
		name      string
		err       error
		status    int
		message   string
		retryable bool
	}{
		{
			name:      "storage failure",
			err:       fmt.Errorf("%w: connection reset", repository.ErrDatabase),
			status:    http.StatusInternalServerError,
			message:   "Internal server error",
			retryable: true,
		},
		{
			name:      "lost optimistic update",
			err:       fmt.Errorf("order ord-1 changed since version 3: %w", repository.ErrConflict),
			status:    http.StatusConflict,
			message:   "The order was modified concurrently. Please retry.",
			retryable: true,
		},
		{
			name:    "state conflict",
			err:     apperrors.NewConflictError("Dead letter 7 is already discarded"),
			status:  http.StatusConflict,
			message: "Dead letter 7 is already discarded",
		},
		{
			name:      "dependency unavailable",
			err:       apperrors.NewServiceUnavailableError("Payments are unavailable"),
			status:    http.StatusServiceUnavailable,
			message:   "Payments are unavailable",
			retryable: true,
		},
		{
			name:    "bad input",
			err:     apperrors.NewInvalidInputError("Note is required"),
			status:  http.StatusBadRequest,
			message: "Note is required",
		},
		{
			name:    "not found",
			err:     repository.ErrNotFound,
			status:  http.StatusNotFound,
			message: "Order not found",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			env.server.respondWithServiceError(rec, tt.err, "Order not found")

			require.Equal(t, tt.status, rec.Code)

			var body ApiResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.False(t, body.Success)
			assert.Equal(t, tt.message, body.Error)
			assert.Equal(t, tt.retryable, body.Retryable)

			if tt.retryable {
				assert.Equal(t, retryAfterSeconds, rec.Header().Get("Retry-After"))
			} else {
				assert.Empty(t, rec.Header().Get("Retry-After"))
			}
		})
	}
}

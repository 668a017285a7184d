//go:build integration

package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tablepos/internal/config"
	"tablepos/internal/dto"
	"tablepos/internal/infra"
	"tablepos/internal/middleware"
	"tablepos/internal/model"
	"tablepos/internal/repository"
	"tablepos/internal/router"
	"tablepos/internal/worker"

	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"gorm.io/gorm"
)

const e2eSecret = "e2e-secret-key"

type e2eEnv struct {
	engine *gin.Engine
	db     *gorm.DB
	rdb    *redis.Client
}

func setupE2E(t *testing.T) *e2eEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	pgC, err := tcPostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcPostgres.WithDatabase("tablepos_test"),
		tcPostgres.WithUsername("tablepos"),
		tcPostgres.WithPassword("tablepos"),
		tcPostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })

	pgURL, err := pgC.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	rdC, err := tcRedis.RunContainer(ctx,
		testcontainers.WithImage("redis:7-alpine"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdC.Terminate(context.Background()) })

	rdURL, err := rdC.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := infra.NewDatabase(pgURL)
	require.NoError(t, err)
	rdb, err := infra.NewRedis(rdURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.Config{
		Env:                   "test",
		RequestTimeoutSeconds: 10,
		ReadRetryAttempts:     2,
		ReadRetryBaseMS:       10,
		JWTSecret:             e2eSecret,
		RateLimitRPS:          1000,
		RateLimitBurst:        1000,
		CORSAllowedOrigins:    "http://localhost:5173",
	}
	cb := infra.NewCircuitBreaker(infra.DefaultCBConfig("notifier"))
	return &e2eEnv{engine: router.New(ctx, cfg, db, rdb, cb), db: db, rdb: rdb}
}

func (e *e2eEnv) call(t *testing.T, role, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		token, err := middleware.IssueToken(e2eSecret, "s-"+role, role, role, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func decodeInto(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

// seedOrder stands in for the order service: 2 x 12.50 + 1 x 12.00 with 3.00 tax.
func (e *e2eEnv) seedOrder(t *testing.T, sessionID, billingID uuid.UUID) {
	t.Helper()
	order := model.Order{
		ID:             uuid.New(),
		SessionID:      sessionID,
		BillingID:      &billingID,
		Status:         "served",
		DeliveryStatus: "delivered",
		Subtotal:       decimal.RequireFromString("37.00"),
		TaxTotal:       decimal.RequireFromString("3.00"),
		Total:          decimal.RequireFromString("40.00"),
	}
	items := []model.OrderItem{
		{MenuItemID: "burger", Name: "Burger", Quantity: 2, UnitPrice: decimal.RequireFromString("12.50"),
			BasePrice: decimal.RequireFromString("5.00"), LineTotal: decimal.RequireFromString("25.00")},
		{MenuItemID: "salad", Name: "Salad", Quantity: 1, UnitPrice: decimal.RequireFromString("12.00"),
			BasePrice: decimal.RequireFromString("4.00"), LineTotal: decimal.RequireFromString("12.00")},
	}
	err := e.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		for i := range items {
			items[i].OrderID = order.ID
		}
		return tx.Create(&items).Error
	})
	require.NoError(t, err)
}

func TestE2E_BillingLifecycle(t *testing.T) {
	e := setupE2E(t)
	ctx := context.Background()

	w := e.call(t, "", http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.call(t, "", http.MethodPost, "/v1/billings", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// open T1
	w = e.call(t, middleware.RoleServer, http.MethodPost, "/v1/billings", dto.CreateBillingRequest{
		TableID: "T1", ServerID: "s-1", ServerName: "Ana",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created dto.CreateBillingResponse
	decodeInto(t, w, &created)
	billingID := uuid.MustParse(created.BillingID)
	e.seedOrder(t, uuid.MustParse(created.SessionID), billingID)

	w = e.call(t, middleware.RoleServer, http.MethodPost, "/v1/billings", dto.CreateBillingRequest{
		TableID: "T1", ServerID: "s-2", ServerName: "Bo",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// move T1 -> T2 keeps the billing
	w = e.call(t, middleware.RoleServer, http.MethodPost, "/v1/billings/"+created.SessionID+"/move", dto.MoveSessionRequest{
		FromTableID: "T1", ToTableID: "T2", ServerID: "s-7", ServerName: "Cy",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var moved dto.MoveSessionResponse
	decodeInto(t, w, &moved)
	assert.True(t, moved.Success)

	w = e.call(t, middleware.RoleServer, http.MethodGet, "/v1/tables/T2/session", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = e.call(t, middleware.RoleServer, http.MethodGet, "/v1/tables/T1/session", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.call(t, middleware.RoleServer, http.MethodGet, "/v1/billings/"+created.BillingID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var view dto.BillingView
	decodeInto(t, w, &view)
	assert.True(t, decimal.RequireFromString("40").Equal(view.TotalAmount), view.TotalAmount.String())

	// servers cannot take payments
	payment := map[string]interface{}{
		"sessionId": moved.NewSessionID,
		"billingId": created.BillingID,
		"lines": []map[string]interface{}{
			{"amountPaid": "25.00", "paymentMethod": "card", "externalRef": "term-1-0001", "tipAmount": "3.00"},
			{"amountPaid": "15.00", "paymentMethod": "cash"},
		},
	}
	w = e.call(t, middleware.RoleServer, http.MethodPost, "/v1/payments", payment)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.call(t, middleware.RoleCashier, http.MethodPost, "/v1/payments", payment)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var ledger dto.BillLedger
	decodeInto(t, w, &ledger)
	assert.Equal(t, dto.LedgerPaid, ledger.Status)
	assert.True(t, ledger.BalanceDue.IsZero())
	assert.True(t, decimal.RequireFromString("3").Equal(ledger.TotalTip))

	w = e.call(t, middleware.RoleCashier, http.MethodPost, "/v1/payments", payment)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.call(t, middleware.RoleManager, http.MethodGet, "/v1/payments/"+created.BillingID+"/logs", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// the payment left an outbox row for the relay
	relay := worker.NewRelay(worker.RelayConfig{
		Outbox:    repository.NewOutboxRepository(e.db),
		Publisher: worker.NewDispatcher(e.rdb),
		Locker:    redislock.New(e.rdb),
	})
	n, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	queued, err := e.rdb.LRange(ctx, worker.QueueNotification, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, queued, 1)
	var job worker.Job
	require.NoError(t, json.Unmarshal([]byte(queued[0]), &job))
	var ev dto.NotificationEvent
	require.NoError(t, json.Unmarshal(job.Payload, &ev))
	assert.Equal(t, model.EventBillingPaid, ev.EventType)
	assert.Equal(t, created.BillingID, ev.BillingID)

	w = e.call(t, middleware.RoleCashier, http.MethodPost, "/v1/billings/"+created.BillingID+"/close", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = e.call(t, middleware.RoleServer, http.MethodGet, "/v1/tables/T2/session", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/catalog"
	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/fjod/go_cart/reservation-service/internal/stats"
	"github.com/fjod/go_cart/reservation-service/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) (http.Handler, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore(catalog.NewMemoryCatalog(map[int64]int{1: 10, 2: 5, 3: 8}))
	h := NewReservationHandler(s, stats.NewAggregator(s), 10, nil)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	return NewRouter(RouterConfig{Handler: h, Metrics: metrics, NodeID: "node-a"}), s
}

func doRequest(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestReserve_Success(t *testing.T) {
	router, _ := setupRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/reservations", ReserveRequestDTO{ProductID: 1, Quantity: 3, SessionID: "s1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	res := decode[domain.Reservation](t, rec)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, domain.StateActive, res.State)
	assert.Equal(t, 3, res.Quantity)

	rec = doRequest(t, router, http.MethodGet, "/api/v1/availability/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	a := decode[domain.Availability](t, rec)
	assert.Equal(t, domain.Availability{ProductID: 1, StockReal: 10, StockReserved: 3, StockAvailable: 7}, a)
}

func TestReserve_Errors(t *testing.T) {
	router, _ := setupRouter(t)

	tests := []struct {
		name   string
		body   interface{}
		status int
		code   string
	}{
		{"insufficient stock", ReserveRequestDTO{ProductID: 2, Quantity: 6, SessionID: "s1"}, http.StatusConflict, "insufficient_stock"},
		{"unknown product", ReserveRequestDTO{ProductID: 99, Quantity: 1, SessionID: "s1"}, http.StatusNotFound, "product_not_found"},
		{"zero quantity", ReserveRequestDTO{ProductID: 1, Quantity: 0, SessionID: "s1"}, http.StatusBadRequest, "invalid_quantity"},
		{"missing session", ReserveRequestDTO{ProductID: 1, Quantity: 1}, http.StatusBadRequest, "invalid_session"},
		{"bad product id", ReserveRequestDTO{ProductID: -1, Quantity: 1, SessionID: "s1"}, http.StatusBadRequest, "invalid_product_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodPost, "/api/v1/reservations", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reservations", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReleaseAndConfirm(t *testing.T) {
	router, s := setupRouter(t)
	r1, err := s.Reserve(context.Background(), 1, 2, "s1")
	require.NoError(t, err)
	r2, err := s.Reserve(context.Background(), 1, 2, "s1")
	require.NoError(t, err)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/reservations/"+r1.ID+"/release", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[TransitionResponseDTO](t, rec)
	require.NotNil(t, resp.Released)
	assert.True(t, *resp.Released)

	// second release is a no-op, not an error
	rec = doRequest(t, router, http.MethodPost, "/api/v1/reservations/"+r1.ID+"/release", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, *decode[TransitionResponseDTO](t, rec).Released)

	rec = doRequest(t, router, http.MethodPost, "/api/v1/reservations/"+r2.ID+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, *decode[TransitionResponseDTO](t, rec).Confirmed)

	rec = doRequest(t, router, http.MethodPost, "/api/v1/reservations/unknown/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, *decode[TransitionResponseDTO](t, rec).Confirmed)

	rec = doRequest(t, router, http.MethodGet, "/api/v1/reservations/"+r2.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StateConfirmed, decode[domain.Reservation](t, rec).State)
}

func TestGet_NotFound(t *testing.T) {
	router, _ := setupRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/reservations/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "reservation_not_found", decode[ErrorResponse](t, rec).Code)
}

func TestUpdateQuantity(t *testing.T) {
	router, s := setupRouter(t)
	r, err := s.Reserve(context.Background(), 2, 2, "s1")
	require.NoError(t, err)

	rec := doRequest(t, router, http.MethodPut, "/api/v1/reservations/"+r.ID, UpdateQuantityRequestDTO{Quantity: 5})
	require.Equal(t, http.StatusOK, rec.Code)
	replaced := decode[domain.Reservation](t, rec)
	assert.NotEqual(t, r.ID, replaced.ID)
	assert.Equal(t, 5, replaced.Quantity)

	rec = doRequest(t, router, http.MethodPut, "/api/v1/reservations/"+replaced.ID, UpdateQuantityRequestDTO{Quantity: 6})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, router, http.MethodPut, "/api/v1/reservations/"+r.ID, UpdateQuantityRequestDTO{Quantity: 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessions(t *testing.T) {
	router, s := setupRouter(t)
	for _, pid := range []int64{1, 2, 3} {
		_, err := s.Reserve(context.Background(), pid, 1, "cart-1")
		require.NoError(t, err)
	}
	_, err := s.Reserve(context.Background(), 1, 1, "cart-2")
	require.NoError(t, err)

	rec := doRequest(t, router, http.MethodDelete, "/api/v1/sessions/cart-1/reservations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, *decode[SessionResponseDTO](t, rec).Released)

	rec = doRequest(t, router, http.MethodPost, "/api/v1/sessions/cart-2/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, *decode[SessionResponseDTO](t, rec).Confirmed)

	rec = doRequest(t, router, http.MethodGet, "/api/v1/reservations?session_id=cart-1&state=expired", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.Reservation](t, rec), 3)

	rec = doRequest(t, router, http.MethodGet, "/api/v1/reservations?state=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/v1/reservations?product_id=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatistics(t *testing.T) {
	router, s := setupRouter(t)
	ctx := context.Background()
	_, err := s.Reserve(ctx, 1, 3, "s1")
	require.NoError(t, err)
	_, err = s.Reserve(ctx, 2, 3, "s2")
	require.NoError(t, err)
	r, err := s.Reserve(ctx, 3, 1, "s3")
	require.NoError(t, err)
	s.Confirm(r.ID)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/statistics?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[stats.Snapshot](t, rec)
	assert.Equal(t, stats.Counts{Active: 2, Confirmed: 1}, snap.Counts)
	assert.Equal(t, []stats.ProductTotal{{ProductID: 1, TotalQuantity: 3}}, snap.TopReservedProducts)

	rec = doRequest(t, router, http.MethodGet, "/api/v1/statistics?limit=-2", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSweepAndAvailabilityValidation(t *testing.T) {
	router, _ := setupRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[SweepResponseDTO](t, rec).Expired)

	rec = doRequest(t, router, http.MethodGet, "/api/v1/availability/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/v1/availability/42", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	router, _ := setupRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"status": "ok", "node_id": "node-a"}, decode[map[string]string](t, rec))

	rec = doRequest(t, router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestEvents_StreamsSnapshots(t *testing.T) {
	router, s := setupRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readSnapshot := func() []domain.Reservation {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var list []domain.Reservation
				require.NoError(t, json.Unmarshal([]byte(data), &list))
				return list
			}
		}
	}

	assert.Empty(t, readSnapshot())

	_, err = s.Reserve(context.Background(), 1, 2, "s1")
	require.NoError(t, err)

	list := readSnapshot()
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].Quantity)
}

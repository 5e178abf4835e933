package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/pointsledger/internal/metrics"
	"github.com/mmynk/pointsledger/internal/middleware"
	"github.com/mmynk/pointsledger/internal/reconcile"
	"github.com/mmynk/pointsledger/internal/models"
	"github.com/mmynk/pointsledger/internal/service"
	"github.com/mmynk/pointsledger/internal/storage"
	"github.com/mmynk/pointsledger/internal/storage/sqlite"
)

// setupTestServer starts an httptest server over a fresh SQLite database.
func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return newTestServer(t, newTestStore(t))
}

func newTestStore(t *testing.T) *sqlite.SQLiteStore {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err, "failed to create store")
	return store
}

func newTestServer(t *testing.T, store storage.Store) *httptest.Server {
	t.Helper()

	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	engine := reconcile.New(store, reconcile.WithMetrics(rec))

	srv := NewServer(
		service.NewSettlementService(store, engine, service.WithMetrics(rec)),
		service.NewLedgerService(store, engine, service.WithMetrics(rec)),
		store,
		WithGatherer(reg),
	)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		store.Close()
	})
	return ts
}

type envelope struct {
	Success bool            `json:"success"`
	Kind    string          `json:"kind"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func do(t *testing.T, ts *httptest.Server, method, path, body string) (int, envelope) {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	require.NoError(t, err)
	req.Header.Set(middleware.ActorHeader, "grader-7")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func decodeData(t *testing.T, env envelope, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func TestSettlementFlow(t *testing.T) {
	ts := setupTestServer(t)

	status, env := do(t, ts, http.MethodPost, "/accounts/acct-1/credits", `{"amount":100,"description":"quiz"}`)
	require.Equal(t, http.StatusCreated, status)
	require.True(t, env.Success)

	status, env = do(t, ts, http.MethodPost, "/categories", `{"name":"talking","mandatory":false}`)
	require.Equal(t, http.StatusCreated, status)
	var category struct {
		ID string `json:"id"`
	}
	decodeData(t, env, &category)

	status, env = do(t, ts, http.MethodPost, "/accounts/acct-1/negative-entries",
		`{"amount":30,"reason":"talking in class","category_id":"`+category.ID+`"}`)
	require.Equal(t, http.StatusCreated, status)
	var entry struct {
		ID        string `json:"id"`
		Mandatory bool   `json:"mandatory"`
	}
	decodeData(t, env, &entry)
	assert.False(t, entry.Mandatory)

	status, env = do(t, ts, http.MethodPost, "/accounts/acct-1/debts/"+entry.ID+"/settle", `{"partial_amount":10}`)
	require.Equal(t, http.StatusOK, status)
	var settled service.SettlementResult
	decodeData(t, env, &settled)
	assert.Equal(t, int64(10), settled.Paid)
	assert.Equal(t, int64(20), settled.Remaining)
	assert.Equal(t, int64(90), settled.NewBalance)

	status, env = do(t, ts, http.MethodGet, "/accounts/acct-1/debts", "")
	require.Equal(t, http.StatusOK, status)
	var debts struct {
		OptionalTotal int64 `json:"optional_total"`
		Balance       int64 `json:"balance"`
	}
	decodeData(t, env, &debts)
	assert.Equal(t, int64(20), debts.OptionalTotal)
	assert.Equal(t, int64(90), debts.Balance)

	// Empty body settles in full.
	status, env = do(t, ts, http.MethodPost, "/accounts/acct-1/debts/"+entry.ID+"/settle", "")
	require.Equal(t, http.StatusOK, status)
	decodeData(t, env, &settled)
	assert.Equal(t, int64(70), settled.NewBalance)

	status, env = do(t, ts, http.MethodPost, "/accounts/acct-1/debts/"+entry.ID+"/settle", "")
	assert.Equal(t, http.StatusConflict, status)
	assert.False(t, env.Success)
	assert.Equal(t, string(service.KindAlreadySettled), env.Kind)
}

func TestErrorStatuses(t *testing.T) {
	ts := setupTestServer(t)

	do(t, ts, http.MethodPost, "/accounts/acct-1/credits", `{"amount":5}`)
	_, env := do(t, ts, http.MethodPost, "/accounts/acct-1/negative-entries", `{"amount":30,"reason":"x"}`)
	var entry struct {
		ID string `json:"id"`
	}
	decodeData(t, env, &entry)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantKind   service.Kind
	}{
		{
			name:       "insufficient funds",
			method:     http.MethodPost,
			path:       "/accounts/acct-1/debts/" + entry.ID + "/settle",
			wantStatus: http.StatusUnprocessableEntity,
			wantKind:   service.KindInsufficientFunds,
		},
		{
			name:       "unknown entry",
			method:     http.MethodPost,
			path:       "/accounts/acct-1/debts/missing/settle",
			wantStatus: http.StatusNotFound,
			wantKind:   service.KindNotFound,
		},
		{
			name:       "partial on mandatory entry",
			method:     http.MethodPost,
			path:       "/accounts/acct-1/debts/" + entry.ID + "/settle",
			body:       `{"partial_amount":1}`,
			wantStatus: http.StatusBadRequest,
			wantKind:   service.KindInvalidAmount,
		},
		{
			name:       "unknown body field",
			method:     http.MethodPost,
			path:       "/accounts/acct-1/credits",
			body:       `{"amount":5,"points":5}`,
			wantStatus: http.StatusBadRequest,
			wantKind:   service.KindValidation,
		},
		{
			name:       "bad force flag",
			method:     http.MethodPost,
			path:       "/accounts/acct-1/reconcile?force=maybe",
			wantStatus: http.StatusBadRequest,
			wantKind:   service.KindValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := do(t, ts, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, status)
			assert.False(t, env.Success)
			assert.Equal(t, string(tt.wantKind), env.Kind)
		})
	}
}

func TestSettleMandatoryAndReconcile(t *testing.T) {
	ts := setupTestServer(t)

	do(t, ts, http.MethodPost, "/accounts/acct-1/recharges", `{"amount":50,"note":"bonus"}`)
	do(t, ts, http.MethodPost, "/accounts/acct-1/negative-entries", `{"amount":10,"reason":"a"}`)
	do(t, ts, http.MethodPost, "/accounts/acct-1/negative-entries", `{"amount":15,"reason":"b"}`)

	status, env := do(t, ts, http.MethodPost, "/accounts/acct-1/settle-mandatory", "")
	require.Equal(t, http.StatusOK, status)
	var batch service.BatchResult
	decodeData(t, env, &batch)
	assert.Equal(t, 2, batch.ProcessedCount)
	assert.Equal(t, int64(25), batch.TotalDeducted)
	assert.Equal(t, int64(25), batch.NewBalance)

	_, env = do(t, ts, http.MethodPost, "/accounts/acct-1/settle-mandatory", "")
	decodeData(t, env, &batch)
	assert.Zero(t, batch.ProcessedCount)

	status, env = do(t, ts, http.MethodPost, "/accounts/acct-1/reconcile?force=true", "")
	require.Equal(t, http.StatusOK, status)
	var rec struct {
		Amount int64  `json:"amount"`
		Method string `json:"method"`
	}
	decodeData(t, env, &rec)
	assert.Equal(t, int64(25), rec.Amount)
	assert.Equal(t, reconcile.MethodAggregate, rec.Method)
}

// flakyStore fails ledger writes whose description contains failOn.
type flakyStore struct {
	storage.Store
	failOn string
}

func (s *flakyStore) AppendTransaction(ctx context.Context, tx *models.Transaction) error {
	if strings.Contains(tx.Description, s.failOn) {
		return errors.New("disk full")
	}
	return s.Store.AppendTransaction(ctx, tx)
}

func (s *flakyStore) InTx(ctx context.Context, fn func(storage.Store) error) error {
	return s.Store.InTx(ctx, func(tx storage.Store) error {
		return fn(&flakyStore{Store: tx, failOn: s.failOn})
	})
}

func TestSettleMandatory_PartialFailureKeepsResult(t *testing.T) {
	ts := newTestServer(t, &flakyStore{Store: newTestStore(t), failOn: "broken window"})

	do(t, ts, http.MethodPost, "/accounts/acct-1/credits", `{"amount":100}`)
	_, env := do(t, ts, http.MethodPost, "/accounts/acct-1/negative-entries", `{"amount":10,"reason":"late"}`)
	var ok struct {
		ID string `json:"id"`
	}
	decodeData(t, env, &ok)
	do(t, ts, http.MethodPost, "/accounts/acct-1/negative-entries", `{"amount":15,"reason":"broken window"}`)

	status, env := do(t, ts, http.MethodPost, "/accounts/acct-1/settle-mandatory", "")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.False(t, env.Success)
	assert.Equal(t, string(service.KindSystem), env.Kind)

	var batch service.BatchResult
	decodeData(t, env, &batch)
	assert.Equal(t, 1, batch.ProcessedCount)
	assert.Equal(t, int64(10), batch.TotalDeducted)
	assert.Equal(t, []string{ok.ID}, batch.EntryIDs)
	assert.Equal(t, int64(90), batch.NewBalance)
}

func TestErrorResponse_OmitsEmptyData(t *testing.T) {
	ts := setupTestServer(t)

	status, env := do(t, ts, http.MethodPost, "/accounts/acct-1/debts/missing/settle", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Empty(t, env.Data)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	do(t, ts, http.MethodPost, "/accounts/acct-1/credits", `{"amount":5}`)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, bytes.Contains(body, []byte("pointsledger_reconciliations_total")))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(service.KindValidation))
	assert.Equal(t, http.StatusNotFound, statusFor(service.KindNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(service.KindAlreadySettled))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(service.KindInsufficientFunds))
	assert.Equal(t, http.StatusInternalServerError, statusFor(service.KindSystem))
}

package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/barre/provider"
	"github.com/xraph/barre/syncrecord"
	"github.com/xraph/barre/txn"
	"github.com/xraph/barre/types"
)

func invoiceRequest() *provider.PushRequest {
	due := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	return &provider.PushRequest{
		StudioKey:       "studio-1",
		TenantID:        "tenant-9",
		ObjectType:      syncrecord.ObjectInvoice,
		TransactionID:   "charge_01jh0000000000000000000000",
		TransactionKind: txn.KindCharge,
		IdempotencyKey:  "3f1c5a2e-0000-5000-8000-000000000000",
		ContactID:       "dancer_01jh0000000000000000000000",
		Date:            time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		DueDate:         &due,
		Amount:          types.USD(12050),
		Lines: []provider.Line{
			{Description: "Tuition", AccountCode: "4000", Amount: types.USD(12050)},
		},
	}
}

func TestPushCreatesInvoice(t *testing.T) {
	var got wireObject
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, invoicesPath, r.URL.Path)
		assert.Equal(t, "3f1c5a2e-0000-5000-8000-000000000000", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "tenant-9", r.Header.Get("X-Tenant-Id"))
		assert.Equal(t, "Bearer tok-studio-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"INV-001"}`))
	}))
	defer srv.Close()

	c := New("books", srv.URL, WithTokenSource(TokenSourceFunc(func(_ context.Context, studio string) (string, error) {
		return "tok-" + studio, nil
	})))

	res, err := c.Push(context.Background(), invoiceRequest())
	require.NoError(t, err)
	assert.Equal(t, "INV-001", res.ExternalObjectID)
	assert.Equal(t, "books", c.Name())

	assert.Equal(t, "120.50", got.Amount)
	assert.Equal(t, "usd", got.Currency)
	assert.Equal(t, "2026-01-01", got.Date)
	assert.Equal(t, "2026-01-15", got.DueDate)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, "4000", got.Lines[0].AccountCode)
	assert.Equal(t, "120.50", got.Lines[0].Amount)
}

func TestPushUpdateUsesPut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, invoicesPath+"/INV-001", r.URL.Path)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	req := invoiceRequest()
	req.ExternalObjectID = "INV-001"

	res, err := New("books", srv.URL).Push(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "INV-001", res.ExternalObjectID, "update keeps the existing id")
}

func TestPushPaths(t *testing.T) {
	tests := []struct {
		objectType syncrecord.ObjectType
		path       string
	}{
		{syncrecord.ObjectInvoice, invoicesPath},
		{syncrecord.ObjectPayment, paymentsPath},
		{syncrecord.ObjectBankTransaction, bankTransactionsPath},
	}
	for _, tt := range tests {
		t.Run(string(tt.objectType), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.path, r.URL.Path)
				_, _ = w.Write([]byte(`{"id":"X-1"}`))
			}))
			defer srv.Close()

			req := invoiceRequest()
			req.ObjectType = tt.objectType
			_, err := New("books", srv.URL).Push(context.Background(), req)
			require.NoError(t, err)
		})
	}
}

func TestPushClassifiesFailures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		rejection bool
	}{
		{"validation", http.StatusUnprocessableEntity, `{"code":"account_missing","message":"account 4000 not found"}`, true},
		{"bad request", http.StatusBadRequest, `not json`, true},
		{"expired token", http.StatusUnauthorized, `{"message":"token expired"}`, false},
		{"forbidden", http.StatusForbidden, ``, false},
		{"idempotency key in flight", http.StatusConflict, `{"message":"request in progress"}`, false},
		{"request timeout", http.StatusRequestTimeout, ``, false},
		{"rate limited", http.StatusTooManyRequests, `{"message":"slow down"}`, false},
		{"server error", http.StatusInternalServerError, ``, false},
		{"unavailable", http.StatusServiceUnavailable, ``, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New("books", srv.URL).Push(context.Background(), invoiceRequest())
			require.Error(t, err)
			assert.Equal(t, tt.rejection, provider.IsRejection(err))
		})
	}
}

func TestPushRejectionCarriesCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"code":"account_missing","message":"account 4000 not found"}`))
	}))
	defer srv.Close()

	_, err := New("books", srv.URL).Push(context.Background(), invoiceRequest())
	var rej *provider.Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "account_missing", rej.Code)
	assert.Contains(t, rej.Reason, "account 4000 not found")
}

func TestPushMissingIDIsNotConfirmed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := New("books", srv.URL).Push(context.Background(), invoiceRequest())
	require.Error(t, err)
	assert.False(t, provider.IsRejection(err))
}

func TestPushHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New("books", srv.URL).Push(ctx, invoiceRequest())
	require.Error(t, err)
	assert.False(t, provider.IsRejection(err))
}

func TestUnsupportedObjectType(t *testing.T) {
	req := invoiceRequest()
	req.ObjectType = "credit_note"
	_, err := New("books", "http://127.0.0.1:0").Push(context.Background(), req)
	assert.True(t, provider.IsRejection(err))
}

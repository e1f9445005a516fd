package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"git.sr.ht/~aondrejcak/mm-api/gateway"
)

func TestInitiatePushAccepted(t *testing.T) {
	var gotAuth, gotShortCode string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NotEmpty(t, r.Header.Get("X-Request-ID"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotShortCode = body["shortCode"].(string)
		require.Equal(t, float64(500), body["amount"])
		require.Equal(t, "254712345678", body["payerPhone"])

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"correlationId":   "ABC123",
			"customerMessage": "Enter your PIN to complete the payment",
		})
	}))
	defer srv.Close()

	gw := gateway.New(srv.URL, "test-key", "600123", otel.Tracer("test"))
	rsp, err := gw.InitiatePush(context.Background(), 500, "254712345678")
	require.NoError(t, err)
	require.Equal(t, "ABC123", rsp.CorrelationId)
	require.Equal(t, "Bearer test-key", gotAuth)
	require.Equal(t, "600123", gotShortCode)
}

func TestInitiatePushRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"errorCode":    "INVALID_MSISDN",
			"errorMessage": "payer phone is not registered",
		})
	}))
	defer srv.Close()

	gw := gateway.New(srv.URL, "test-key", "600123", otel.Tracer("test"))
	_, err := gw.InitiatePush(context.Background(), 500, "254712345678")

	var rejected *gateway.RejectedError
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, "INVALID_MSISDN", rejected.Code)
	require.Equal(t, "payer phone is not registered", rejected.Description)
}

func TestInitiatePushUnavailable(t *testing.T) {
	gw := gateway.New("http://127.0.0.1:1", "test-key", "600123", otel.Tracer("test"))
	_, err := gw.InitiatePush(context.Background(), 500, "254712345678")
	require.ErrorIs(t, err, gateway.ErrUnavailable)
}

func TestInitiatePushServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	gw := gateway.New(srv.URL, "test-key", "600123", otel.Tracer("test"))
	_, err := gw.InitiatePush(context.Background(), 500, "254712345678")
	require.ErrorIs(t, err, gateway.ErrUnavailable)
}

func TestInitiatePushMissingCorrelationId(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	gw := gateway.New(srv.URL, "test-key", "600123", otel.Tracer("test"))
	_, err := gw.InitiatePush(context.Background(), 500, "254712345678")
	require.Error(t, err)
}

func TestQueryStatusTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/push/status/ABC123", r.URL.Path)
		_ = json.NewEncoder(w).Encode(gateway.StatusResponse{
			ResultCode:    "0",
			TransactionId: "TXN001",
			Amount:        500,
		})
	}))
	defer srv.Close()

	gw := gateway.New(srv.URL, "test-key", "600123", otel.Tracer("test"))
	st, err := gw.QueryStatus(context.Background(), "ABC123")
	require.NoError(t, err)
	require.False(t, st.Pending)
	require.Equal(t, "0", st.ResultCode)
	require.Equal(t, "TXN001", st.TransactionId)
	require.Equal(t, int64(500), st.Amount)
}

func TestQueryStatusPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(gateway.StatusResponse{Pending: true})
	}))
	defer srv.Close()

	gw := gateway.New(srv.URL, "test-key", "600123", otel.Tracer("test"))
	st, err := gw.QueryStatus(context.Background(), "ABC123")
	require.NoError(t, err)
	require.True(t, st.Pending)
}

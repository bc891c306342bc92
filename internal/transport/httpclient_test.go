package transport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/shopkit/selfscan/internal/checkout"
	"github.com/shopkit/selfscan/internal/resilience"
	"github.com/shopkit/selfscan/internal/transport"
)

func newClient(baseURL string) *transport.Client {
	return &transport.Client{
		BaseURL:  baseURL,
		Project:  "demo",
		ClientID: "client-1",
		HTTP: resilience.HTTPClient{
			Client:      &http.Client{Timeout: 2 * time.Second},
			MaxAttempts: 1,
		},
		Logger: zerolog.Nop(),
	}
}

func TestCreateCheckoutInfoSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/demo/checkout/info", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "client-1", r.Header.Get("Client-ID"))

		var bc checkout.BackendCart
		require.NoError(t, json.NewDecoder(r.Body).Decode(&bc))
		require.Equal(t, "sess-1", bc.Session)

		json.NewEncoder(w).Encode(checkout.SignedCheckoutInfo{
			Session:   bc.Session,
			Signature: "sig",
			Price:     597,
			AvailableMethods: []checkout.PaymentMethodInfo{
				{Method: checkout.MethodQRCodePOS},
			},
		})
	}))
	defer srv.Close()

	client := newClient(srv.URL)
	info, err := client.CreateCheckoutInfo(context.Background(),
		checkout.BackendCart{Session: "sess-1", ShopID: "shop-1"}, 0)
	require.NoError(t, err)
	require.Equal(t, "sig", info.Signature)
	require.Equal(t, int64(597), info.Price)
	require.Len(t, info.AvailableMethods, 1)
}

func TestShopNotFoundClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := newClient(srv.URL)
	_, err := client.CreateCheckoutInfo(context.Background(), checkout.BackendCart{Session: "s"}, 0)
	require.Equal(t, checkout.KindShopNotFound, checkout.KindOf(err))
}

func TestStructuredErrorClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"type":"invalid_cart_item","message":"deposit return voucher already redeemed"}}`))
	}))
	defer srv.Close()

	client := newClient(srv.URL)
	_, err := client.CreateCheckoutInfo(context.Background(), checkout.BackendCart{Session: "s"}, 0)
	require.Equal(t, checkout.KindInvalidItems, checkout.KindOf(err))
	require.Contains(t, err.Error(), "deposit return voucher")
}

func TestUnreachableBackendIsConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens anymore

	client := newClient(srv.URL)
	_, err := client.CreateCheckoutInfo(context.Background(), checkout.BackendCart{Session: "s"}, 0)
	require.True(t, checkout.IsConnectionError(err))
}

func TestCreatePaymentProcessConflictResumes(t *testing.T) {
	var puts, gets int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/demo/checkout/process/idem-1", r.URL.Path)
		switch r.Method {
		case http.MethodPut:
			puts++
			w.WriteHeader(http.StatusConflict)
		case http.MethodGet:
			gets++
			json.NewEncoder(w).Encode(checkout.CheckoutProcess{
				ID:           "p1",
				SelfLink:     "/demo/checkout/process/idem-1",
				PaymentState: checkout.PaymentStateProcessing,
			})
		}
	}))
	defer srv.Close()

	client := newClient(srv.URL)
	process, err := client.CreatePaymentProcess(context.Background(), checkout.ProcessRequest{
		IdempotencyID: "idem-1",
		SignedInfo:    checkout.SignedCheckoutInfo{Session: "s", Signature: "sig"},
		Method:        checkout.MethodQRCodePOS,
	})
	require.NoError(t, err)
	require.Equal(t, 1, puts)
	require.Equal(t, 1, gets)
	require.Equal(t, "p1", process.ID)
}

func TestUpdateFollowsSelfLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/demo/checkout/process/p1", r.URL.Path)
		require.Equal(t, http.MethodGet, r.Method)
		json.NewEncoder(w).Encode(checkout.CheckoutProcess{
			ID:           "p1",
			SelfLink:     "/demo/checkout/process/p1",
			PaymentState: checkout.PaymentStateSuccessful,
		})
	}))
	defer srv.Close()

	client := newClient(srv.URL)
	updated, err := client.UpdatePaymentProcess(context.Background(), checkout.CheckoutProcess{
		ID:       "p1",
		SelfLink: "/demo/checkout/process/p1",
	})
	require.NoError(t, err)
	require.Equal(t, checkout.PaymentStateSuccessful, updated.PaymentState)
}

func TestAbortPatchesProcess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		var body map[string]bool
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.True(t, body["aborted"])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := newClient(srv.URL)
	err := client.Abort(context.Background(), checkout.CheckoutProcess{
		ID: "p1", SelfLink: "/demo/checkout/process/p1",
	})
	require.NoError(t, err)
}

func TestOfflineRetrySubmitsOriginalTimestamp(t *testing.T) {
	finalized := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			ProcessedOffline bool       `json:"processedOffline"`
			FinalizedAt      *time.Time `json:"finalizedAt"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.True(t, payload.ProcessedOffline)
		require.NotNil(t, payload.FinalizedAt)
		require.True(t, payload.FinalizedAt.Equal(finalized))
		json.NewEncoder(w).Encode(checkout.CheckoutProcess{ID: "p1", PaymentState: checkout.PaymentStateSuccessful})
	}))
	defer srv.Close()

	client := newClient(srv.URL)
	_, err := client.CreatePaymentProcess(context.Background(), checkout.ProcessRequest{
		IdempotencyID:    "idem-1",
		SignedInfo:       checkout.SignedCheckoutInfo{Session: "s"},
		Method:           checkout.MethodQRCodePOS,
		ProcessedOffline: true,
		FinalizedAt:      &finalized,
	})
	require.NoError(t, err)
}

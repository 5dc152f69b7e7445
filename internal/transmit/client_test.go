package transmit_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfe-collector/internal/outbox"
	"github.com/rezonia/nfe-collector/internal/transmit"
)

const testKey = "35200114200166000187550010000000046550000046"

func queuedInvoice(key string) outbox.QueueItem {
	return outbox.QueueItem{
		ID:        "item-1",
		AccessKey: key,
		Payload:   `{"access_key":"` + key + `","totals":{"gross":"10.00"}}`,
	}
}

func TestClient_Send_Acknowledged(t *testing.T) {
	var gotAuth, gotMarket, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/ingest/invoice", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotMarket = r.Header.Get("X-Market-ID")
		gotVersion = r.Header.Get("X-Agent-Version")

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, testKey, body["access_key"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"accepted":   true,
			"access_key": testKey,
		})
	}))
	defer srv.Close()

	c := transmit.NewClient(srv.URL, "secret-token", "market-042",
		transmit.WithAgentVersion("1.2.0"))
	err := c.Send(context.Background(), queuedInvoice(testKey))

	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "market-042", gotMarket)
	assert.Equal(t, "1.2.0", gotVersion)
}

func TestClient_Send_AckMismatchIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"accepted":   true,
			"access_key": "00000000000000000000000000000000000000000000",
		})
	}))
	defer srv.Close()

	c := transmit.NewClient(srv.URL, "tok", "m1")
	err := c.Send(context.Background(), queuedInvoice(testKey))

	var te *transmit.TransmitError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Retryable)
	assert.Contains(t, te.Message, "mismatch")
}

func TestClient_Send_NotAcceptedIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"accepted":   false,
			"access_key": testKey,
		})
	}))
	defer srv.Close()

	c := transmit.NewClient(srv.URL, "tok", "m1")
	err := c.Send(context.Background(), queuedInvoice(testKey))

	var te *transmit.TransmitError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Retryable)
}

func TestClient_Send_StatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"bad request is terminal", http.StatusBadRequest, false},
		{"unauthorized is terminal", http.StatusUnauthorized, false},
		{"conflict is terminal", http.StatusConflict, false},
		{"server error is transient", http.StatusInternalServerError, true},
		{"bad gateway is transient", http.StatusBadGateway, true},
		{"unavailable is transient", http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			c := transmit.NewClient(srv.URL, "tok", "m1")
			err := c.Send(context.Background(), queuedInvoice(testKey))

			var te *transmit.TransmitError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.status, te.StatusCode)
			assert.Equal(t, tt.retryable, te.Retryable)
		})
	}
}

func TestClient_Send_NetworkErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	c := transmit.NewClient(srv.URL, "tok", "m1")
	err := c.Send(context.Background(), queuedInvoice(testKey))

	var te *transmit.TransmitError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Retryable)
	assert.Zero(t, te.StatusCode)
}

func TestClient_SendBatch_PerItemOutcomes(t *testing.T) {
	const rejectedKey = "35200114200166000187650010000001231000001239"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/ingest/invoices", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{
				{"access_key": testKey, "accepted": true},
				{"access_key": rejectedKey, "accepted": false, "error": "schema rejected", "retryable": false},
			},
		})
	}))
	defer srv.Close()

	c := transmit.NewClient(srv.URL, "tok", "m1")
	outcomes, err := c.SendBatch(context.Background(), []outbox.QueueItem{
		queuedInvoice(testKey),
		queuedInvoice(rejectedKey),
	})
	require.NoError(t, err)

	assert.NoError(t, outcomes[testKey])

	var te *transmit.TransmitError
	require.ErrorAs(t, outcomes[rejectedKey], &te)
	assert.False(t, te.Retryable)
	assert.Contains(t, te.Message, "schema rejected")
}

func TestClient_SendBatch_MissingItemTreatedAsUndelivered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"results": []interface{}{}})
	}))
	defer srv.Close()

	c := transmit.NewClient(srv.URL, "tok", "m1")
	outcomes, err := c.SendBatch(context.Background(), []outbox.QueueItem{queuedInvoice(testKey)})
	require.NoError(t, err)

	var te *transmit.TransmitError
	require.ErrorAs(t, outcomes[testKey], &te)
	assert.True(t, te.Retryable)
}

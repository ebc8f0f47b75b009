package payments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRESTClient(retries int) *restClient {
	client := newRESTClient("test_provider", 2*time.Second, retries)
	client.delay = time.Millisecond
	return client
}

func TestDoJSONRetriesServerErrors(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := newTestRESTClient(3)

	var out struct {
		OK bool `json:"ok"`
	}
	err := client.doJSON(context.Background(), "op", "POST", server.URL, nil, map[string]string{"k": "v"}, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, 3, attempts)
}

func TestDoJSONDoesNotRetryClientErrors(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"invalid request"}`))
	}))
	defer server.Close()

	client := newTestRESTClient(3)

	err := client.doJSON(context.Background(), "op", "POST", server.URL, nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, 1, attempts)

	var apiErr *ProviderAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.False(t, apiErr.Retryable())
}

func TestDoJSONRetriesTooManyRequests(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestRESTClient(2)

	err := client.doJSON(context.Background(), "op", "GET", server.URL, nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, 2, attempts)

	var apiErr *ProviderAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
}

func TestDoJSONExhaustedRetriesReturnsLastError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestRESTClient(3)

	err := client.doJSON(context.Background(), "op", "GET", server.URL, nil, nil, nil)
	require.Error(t, err)

	var apiErr *ProviderAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "test_provider", apiErr.Provider)
}

func TestDoJSONSetsBasicAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "u", user)
		assert.Equal(t, "p", pass)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestRESTClient(1)

	err := client.doJSON(context.Background(), "op", "POST", server.URL, &basicAuth{user: "u", pass: "p"}, map[string]string{}, nil)
	require.NoError(t, err)
}

func TestDoJSONHonorsContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestRESTClient(3)
	client.delay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := client.doJSON(ctx, "op", "GET", server.URL, nil, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

package httpclient

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRetryStrategy(t *testing.T) {
	assert.Equal(t, SmartRetry, DefaultRetryStrategy(http.StatusTooManyRequests))
	assert.Equal(t, SmartRetry, DefaultRetryStrategy(http.StatusServiceUnavailable))
	assert.Equal(t, ConservativeRetry, DefaultRetryStrategy(http.StatusBadGateway))
	assert.Equal(t, NoRetry, DefaultRetryStrategy(http.StatusBadRequest))
	assert.Equal(t, NoRetry, DefaultRetryStrategy(http.StatusNotFound))
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(WithMaxRetries(5), WithBaseDelay(time.Millisecond))
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(WithMaxRetries(5), WithBaseDelay(time.Millisecond))
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.Error(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(WithMaxRetries(2), WithBaseDelay(time.Millisecond))
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.Error(t, err)
	if resp != nil {
		resp.Body.Close()
	}

	var retryErr *RetryableError
	require.True(t, errors.As(err, &retryErr))
	assert.Equal(t, http.StatusServiceUnavailable, retryErr.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

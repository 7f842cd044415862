package meter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadDecodesFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data.json", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accumulated": 1234.5, "flow": 2.25, "extra": "x"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Host: srv.URL})
	r, err := c.Read(context.Background())
	require.NoError(t, err)
	require.NotNil(t, r.Accumulated)
	require.NotNil(t, r.Flow)
	assert.Equal(t, 1234.5, *r.Accumulated)
	assert.Equal(t, 2.25, *r.Flow)
}

func TestReadMissingFieldIsUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"flow": 0}`))
	}))
	defer srv.Close()

	r, err := NewClient(Config{Host: srv.URL}).Read(context.Background())
	require.NoError(t, err)
	assert.Nil(t, r.Accumulated)
	require.NotNil(t, r.Flow)
	assert.Equal(t, 0.0, *r.Flow)
}

func TestReadServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	r, err := NewClient(Config{Host: srv.URL}).Read(context.Background())
	require.Error(t, err)
	assert.Nil(t, r.Accumulated)
	assert.Nil(t, r.Flow)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{Host: srv.URL, BreakerFailures: 2, BreakerOpenFor: time.Minute})
	var err error
	for i := 0; i < 5; i++ {
		_, err = c.Read(context.Background())
		require.Error(t, err)
	}
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, "open", c.State())
}

func TestNewClientAddsScheme(t *testing.T) {
	c := NewClient(Config{Host: "watermeter.local/"})
	assert.True(t, strings.HasPrefix(c.url, "http://watermeter.local/data.json"))
}

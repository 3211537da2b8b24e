package tracking

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusChecker(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/declarations/MRN-1/status":
			w.Write([]byte(`{"status":"Cleared"}`))
		case "/declarations/MRN-2/status":
			w.Write([]byte(`{"status":"under_control"}`))
		case "/declarations/MRN-3/status":
			w.Write([]byte(`{"status":"rejected"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	checker := NewHTTPStatusChecker(ts.URL, zerolog.Nop())
	ctx := context.Background()

	status, err := checker.CheckStatus(ctx, "MRN-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCleared, status)

	status, err = checker.CheckStatus(ctx, "MRN-2")
	require.NoError(t, err)
	assert.Equal(t, StatusUnderControl, status)

	_, err = checker.CheckStatus(ctx, "MRN-3")
	assert.ErrorContains(t, err, "unknown status")

	_, err = checker.CheckStatus(ctx, "missing")
	assert.ErrorContains(t, err, "returned 404")
}

func TestHTTPStatusCheckerHonorsContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer ts.Close()

	checker := NewHTTPStatusChecker(ts.URL, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := checker.CheckStatus(ctx, "MRN-1")
	assert.Error(t, err)
}

package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTokenCacheLookup(t *testing.T) {
	hits := testutil.ToFloat64(TokenCacheLookups.WithLabelValues("hit"))
	misses := testutil.ToFloat64(TokenCacheLookups.WithLabelValues("miss"))

	RecordTokenCacheLookup(true)
	RecordTokenCacheLookup(false)
	RecordTokenCacheLookup(false)

	assert.Equal(t, hits+1, testutil.ToFloat64(TokenCacheLookups.WithLabelValues("hit")))
	assert.Equal(t, misses+2, testutil.ToFloat64(TokenCacheLookups.WithLabelValues("miss")))
}

func TestRecordError(t *testing.T) {
	before := testutil.ToFloat64(ErrorsTotal.WithLabelValues("send_transaction", "rate_limited"))
	RecordError("send_transaction", "rate_limited")
	assert.Equal(t, before+1, testutil.ToFloat64(ErrorsTotal.WithLabelValues("send_transaction", "rate_limited")))
}

func TestRecordCustodyRequest(t *testing.T) {
	before := testutil.ToFloat64(CustodyRequestsTotal.WithLabelValues("sign", "success"))
	RecordCustodyRequest("sign", "success", 0.25)
	assert.Equal(t, before+1, testutil.ToFloat64(CustodyRequestsTotal.WithLabelValues("sign", "success")))
}

func TestPush(t *testing.T) {
	RecordWalletProvisioning("evm", "created")

	var (
		method string
		path   string
		body   []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := Push(context.Background(), srv.URL, "custodyctl", map[string]string{"command": "create"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/custodyctl/command/create", path)
	assert.Contains(t, string(body), "custody_wallet_provisioning_total")
}

func TestPush_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := Push(context.Background(), srv.URL, "custodyctl", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to push metrics")
}

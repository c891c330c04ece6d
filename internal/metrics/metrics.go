package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	// WalletProvisioning tracks getOrCreateWallet outcomes
	WalletProvisioning = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custody_wallet_provisioning_total",
			Help: "The total number of wallet provisioning requests",
		},
		[]string{"chain_family", "outcome"}, // existing, created, recovered, failed
	)

	// CustodyRequestsTotal tracks calls to the external custody service
	CustodyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custody_service_requests_total",
			Help: "The total number of custody service requests",
		},
		[]string{"operation", "status"},
	)

	// CustodyRequestSeconds tracks custody service latency
	CustodyRequestSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "custody_service_request_seconds",
			Help:    "Time taken by custody service requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// TokenCacheLookups tracks token metadata cache hits and misses
	TokenCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custody_token_cache_lookups_total",
			Help: "The total number of token metadata cache lookups",
		},
		[]string{"result"}, // hit, miss
	)

	// ErrorsTotal tracks classified failures leaving the core
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custody_errors_total",
			Help: "The total number of classified errors returned to callers",
		},
		[]string{"operation", "kind"},
	)

	// TransactionsSent tracks broadcast transactions
	TransactionsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custody_transactions_sent_total",
			Help: "The total number of transactions broadcast",
		},
		[]string{"chain", "status"}, // success, failed
	)
)

// RecordWalletProvisioning records a provisioning outcome
func RecordWalletProvisioning(chainFamily, outcome string) {
	WalletProvisioning.WithLabelValues(chainFamily, outcome).Inc()
}

// RecordCustodyRequest records a custody service call and its duration
func RecordCustodyRequest(operation, status string, seconds float64) {
	CustodyRequestsTotal.WithLabelValues(operation, status).Inc()
	CustodyRequestSeconds.WithLabelValues(operation).Observe(seconds)
}

// RecordTokenCacheLookup records a cache hit or miss
func RecordTokenCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	TokenCacheLookups.WithLabelValues(result).Inc()
}

// RecordError records a classified error kind for an operation
func RecordError(operation, kind string) {
	ErrorsTotal.WithLabelValues(operation, kind).Inc()
}

// RecordTransactionSent records a broadcast attempt
func RecordTransactionSent(chain, status string) {
	TransactionsSent.WithLabelValues(chain, status).Inc()
}

// Push sends everything in the default registry to a Pushgateway under job,
// replacing the group identified by job and grouping.
func Push(ctx context.Context, url, job string, grouping map[string]string) error {
	pusher := push.New(url, job).Gatherer(prometheus.DefaultGatherer)
	for name, value := range grouping {
		pusher = pusher.Grouping(name, value)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// DealMetrics tracks the throughput and outcomes of the deal engine.
type DealMetrics struct {
	dealsDeployed   *prometheus.CounterVec
	dealsCompleted  *prometheus.CounterVec
	dealsCancelled  *prometheus.CounterVec
	dealsExpired    *prometheus.CounterVec
	bidsPlaced      prometheus.Counter
	rejections      *prometheus.CounterVec
	commissionPaid  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

var (
	dealOnce     sync.Once
	dealRegistry *DealMetrics
)

// Deal returns the process-wide deal metrics collector, registering it on
// first use.
func Deal() *DealMetrics {
	dealOnce.Do(func() {
		dealRegistry = &DealMetrics{
			dealsDeployed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "namedeal_deals_deployed_total",
				Help: "Count of deployed deals by kind.",
			}, []string{"kind"}),
			dealsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "namedeal_deals_completed_total",
				Help: "Count of successfully settled deals by kind.",
			}, []string{"kind"}),
			dealsCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "namedeal_deals_cancelled_total",
				Help: "Count of cancelled or declined deals by kind.",
			}, []string{"kind"}),
			dealsExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "namedeal_deals_expired_total",
				Help: "Count of deals resolved by the expiry watchdog by kind.",
			}, []string{"kind"}),
			bidsPlaced: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "namedeal_bids_placed_total",
				Help: "Count of accepted auction bids.",
			}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "namedeal_rejections_total",
				Help: "Count of rejected transitions by reason.",
			}, []string{"reason"}),
			commissionPaid: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "namedeal_commission_paid_total",
				Help: "Cumulative commission routed to the treasury by leg.",
			}, []string{"leg"}),
			requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "namedeal_http_request_duration_seconds",
				Help:    "Gateway request latency by route and status.",
				Buckets: prometheus.DefBuckets,
			}, []string{"route", "status"}),
		}
		prometheus.MustRegister(
			dealRegistry.dealsDeployed,
			dealRegistry.dealsCompleted,
			dealRegistry.dealsCancelled,
			dealRegistry.dealsExpired,
			dealRegistry.bidsPlaced,
			dealRegistry.rejections,
			dealRegistry.commissionPaid,
			dealRegistry.requestDuration,
		)
	})
	return dealRegistry
}

func (m *DealMetrics) ObserveDeployed(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.dealsDeployed.WithLabelValues(kind).Inc()
}

func (m *DealMetrics) ObserveCompleted(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.dealsCompleted.WithLabelValues(kind).Inc()
}

func (m *DealMetrics) ObserveCancelled(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.dealsCancelled.WithLabelValues(kind).Inc()
}

func (m *DealMetrics) ObserveExpired(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.dealsExpired.WithLabelValues(kind).Inc()
}

func (m *DealMetrics) ObserveBid() {
	if m == nil {
		return
	}
	m.bidsPlaced.Inc()
}

func (m *DealMetrics) ObserveRejection(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *DealMetrics) ObserveCommission(leg string, amount float64) {
	if m == nil {
		return
	}
	if leg == "" {
		leg = "unknown"
	}
	m.commissionPaid.WithLabelValues(leg).Add(amount)
}

func (m *DealMetrics) ObserveRequest(route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(route, status).Observe(seconds)
}

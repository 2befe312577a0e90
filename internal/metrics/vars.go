package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SettlementsSettled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_settlements_settled_total",
		Help: "Settlements committed to the ledger",
	})

	SettlementsAborted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_settlements_aborted_total",
		Help: "Settlements aborted after the loan was issued",
	})

	SettlementsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_settlements_rejected_total",
		Help: "Requests rejected before any capital moved",
	})

	OpportunitiesFound = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_opportunities_found_total",
		Help: "Opportunities that passed all scanner gates",
	})

	ScanCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_scan_cycles_total",
		Help: "Completed scanner polling cycles",
	})

	QuoteErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_quote_errors_total",
		Help: "Number of failed venue quote fetches",
	})

	QuoteLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flasharb_quote_latency_seconds",
		Help:    "Time to obtain a venue quote",
		Buckets: prometheus.DefBuckets,
	})

	SpreadPercent = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flasharb_spread_percent",
		Help: "Last observed cross-venue spread per pair",
	}, []string{"pair"})

	TriggerSubmissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flasharb_trigger_submissions_total",
		Help: "Settlement submissions by outcome",
	}, []string{"result"})

	GasUSD = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flasharb_gas_usd",
		Help: "Estimated settlement gas cost in USD",
	})
)

func init() {
	prometheus.MustRegister(
		SettlementsSettled,
		SettlementsAborted,
		SettlementsRejected,
		OpportunitiesFound,
		ScanCycles,
		QuoteErrors,
		QuoteLatency,
		SpreadPercent,
		TriggerSubmissions,
		GasUSD,
	)
}

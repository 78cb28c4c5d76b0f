package metrics

import (
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/elys-network/cellar/internal/utils"
)

type KeeperMetrics struct {
	upkeeps          *prometheus.CounterVec
	cycleDuration    prometheus.Histogram
	cycles           *prometheus.CounterVec
	totalAssets      *prometheus.GaugeVec
	sharePrice       *prometheus.GaugeVec
	oracleNotSafe    *prometheus.GaugeVec
	pendingRequests  *prometheus.GaugeVec
	solveOutcomes    *prometheus.CounterVec
	snapshotsSaved   prometheus.Counter
	keeperParameters prometheus.Gauge
}

var (
	keeperOnce     sync.Once
	keeperRegistry *KeeperMetrics
)

// Keeper returns the process wide keeper metrics, registering them on first use.
func Keeper() *KeeperMetrics {
	keeperOnce.Do(func() {
		keeperRegistry = &KeeperMetrics{
			upkeeps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "cellar_upkeeps_total",
				Help: "Upkeep attempts by kind (oracle, fees, sweep, listing) and result.",
			}, []string{"kind", "result"}),
			cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "cellar_keeper_cycle_duration_seconds",
				Help:    "Wall time of one keeper cycle.",
				Buckets: prometheus.DefBuckets,
			}),
			cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "cellar_keeper_cycles_total",
				Help: "Keeper cycles by result.",
			}, []string{"result"}),
			totalAssets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "cellar_total_assets",
				Help: "Total assets of a cellar in whole holding asset units.",
			}, []string{"vault"}),
			sharePrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "cellar_share_price",
				Help: "Holding asset per whole share.",
			}, []string{"vault"}),
			oracleNotSafe: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "cellar_share_oracle_not_safe",
				Help: "1 while the cellar's share price oracle must not be used.",
			}, []string{"vault"}),
			pendingRequests: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "cellar_withdraw_requests_pending",
				Help: "Open withdraw requests in the queue per cellar.",
			}, []string{"vault"}),
			solveOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "cellar_withdraw_solve_outcomes_total",
				Help: "Withdraw requests filled or skipped by the keeper, skips labelled by error kind.",
			}, []string{"vault", "outcome"}),
			snapshotsSaved: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "cellar_snapshots_saved_total",
				Help: "Vault snapshots persisted to the database.",
			}),
			keeperParameters: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "cellar_keeper_parameters_version",
				Help: "Version of the keeper parameters in use.",
			}),
		}
		prometheus.MustRegister(
			keeperRegistry.upkeeps,
			keeperRegistry.cycleDuration,
			keeperRegistry.cycles,
			keeperRegistry.totalAssets,
			keeperRegistry.sharePrice,
			keeperRegistry.oracleNotSafe,
			keeperRegistry.pendingRequests,
			keeperRegistry.solveOutcomes,
			keeperRegistry.snapshotsSaved,
			keeperRegistry.keeperParameters,
		)
	})
	return keeperRegistry
}

// toFloat scales a base unit amount down by decimals. Precision loss is fine for gauges.
func toFloat(amount sdkmath.Int, decimals uint32) float64 {
	f, err := utils.SDKIntToFloat64(amount, int(decimals))
	if err != nil {
		return 0
	}
	return f
}

func (m *KeeperMetrics) ObserveUpkeep(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.upkeeps.WithLabelValues(kind, result).Inc()
}

func (m *KeeperMetrics) ObserveCycle(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(d.Seconds())
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.cycles.WithLabelValues(result).Inc()
}

// SetVault publishes the live state of one cellar.
func (m *KeeperMetrics) SetVault(vault string, decimals uint32, totalAssets, sharePrice sdkmath.Int, oracleNotSafe bool, pending int) {
	if m == nil {
		return
	}
	m.totalAssets.WithLabelValues(vault).Set(toFloat(totalAssets, decimals))
	m.sharePrice.WithLabelValues(vault).Set(toFloat(sharePrice, decimals))
	notSafe := 0.0
	if oracleNotSafe {
		notSafe = 1
	}
	m.oracleNotSafe.WithLabelValues(vault).Set(notSafe)
	m.pendingRequests.WithLabelValues(vault).Set(float64(pending))
}

func (m *KeeperMetrics) ObserveSolve(vault string, filled int, skippedKinds []string) {
	if m == nil {
		return
	}
	if filled > 0 {
		m.solveOutcomes.WithLabelValues(vault, "filled").Add(float64(filled))
	}
	for _, kind := range skippedKinds {
		if kind == "" {
			kind = "unknown"
		}
		m.solveOutcomes.WithLabelValues(vault, "skipped_"+kind).Inc()
	}
}

func (m *KeeperMetrics) IncSnapshotsSaved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.snapshotsSaved.Add(float64(n))
}

func (m *KeeperMetrics) SetParametersVersion(version int) {
	if m == nil {
		return
	}
	m.keeperParameters.Set(float64(version))
}

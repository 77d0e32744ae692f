package metrics

import (
	"fmt"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"

	"github.com/ppiankov/bucketspectre/internal/engine"
)

const namespace = "bucketspectre"

// Recorder collects scan metrics in its own registry. It implements
// engine.Observer.
type Recorder struct {
	Registry *promclient.Registry

	bucketsScanned   promclient.Counter
	providerFailures promclient.Counter
	findings         *promclient.CounterVec
	fetchSeconds     promclient.Histogram
	bucketScore      *promclient.GaugeVec
	runDuration      promclient.Gauge
	runTimestamp     promclient.Gauge
	highRiskBuckets  promclient.Gauge
	highRiskScore    int
}

// New creates a recorder. Buckets scoring at least highRiskThreshold are
// counted in bucketspectre_high_risk_buckets.
func New(highRiskThreshold int) *Recorder {
	r := &Recorder{
		Registry:      promclient.NewRegistry(),
		highRiskScore: highRiskThreshold,
		bucketsScanned: promclient.NewCounter(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "buckets_scanned_total",
			Help:      "Buckets evaluated in the last run.",
		}),
		providerFailures: promclient.NewCounter(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "provider_failures_total",
			Help:      "Buckets whose configuration could not be retrieved.",
		}),
		findings: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "findings_total",
			Help:      "Findings by rule and status.",
		}, []string{"rule", "status"}),
		fetchSeconds: promclient.NewHistogram(promclient.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_fetch_seconds",
			Help:      "Time spent reading one bucket's configuration.",
			Buckets:   promclient.DefBuckets,
		}),
		bucketScore: promclient.NewGaugeVec(promclient.GaugeOpts{
			Namespace: namespace,
			Name:      "bucket_risk_score",
			Help:      "Risk score per bucket in the last run.",
		}, []string{"bucket", "region"}),
		runDuration: promclient.NewGauge(promclient.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
		runTimestamp: promclient.NewGauge(promclient.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Start time of the last committed run.",
		}),
		highRiskBuckets: promclient.NewGauge(promclient.GaugeOpts{
			Namespace: namespace,
			Name:      "high_risk_buckets",
			Help:      "Buckets at or above the high risk threshold in the last run.",
		}),
	}
	r.Registry.MustRegister(
		r.bucketsScanned, r.providerFailures, r.findings, r.fetchSeconds,
		r.bucketScore, r.runDuration, r.runTimestamp, r.highRiskBuckets,
	)
	return r
}

// BucketEvaluated records one bucket's result.
func (r *Recorder) BucketEvaluated(res engine.BucketResult, fetch time.Duration) {
	r.bucketsScanned.Inc()
	r.fetchSeconds.Observe(fetch.Seconds())
	if res.ProviderFailed() {
		r.providerFailures.Inc()
	}
	for _, f := range res.Findings {
		r.findings.WithLabelValues(f.RuleKey, string(f.Status)).Inc()
	}
	r.bucketScore.WithLabelValues(res.Bucket, res.RegionOrUnknown()).Set(float64(res.RiskScore))
}

// RunCompleted records run-level gauges after commit.
func (r *Recorder) RunCompleted(run *engine.ScanRun, elapsed time.Duration) {
	r.runDuration.Set(elapsed.Seconds())
	r.runTimestamp.Set(float64(run.StartedAt.Unix()))
	high := 0
	for _, res := range run.Results {
		if res.RiskScore >= r.highRiskScore {
			high++
		}
	}
	r.highRiskBuckets.Set(float64(high))
}

// WriteTextfile writes the registry in the node_exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := promclient.WriteToTextfile(path, r.Registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

package health

import (
	"net/http"
	"time"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "policy_audit"

type metricDesc struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	value     func(api.MetricsResponse) float64
}

func counter(name, help string, value func(api.MetricsResponse) float64) metricDesc {
	return metricDesc{
		desc:      prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil),
		valueType: prometheus.CounterValue,
		value:     value,
	}
}

func gauge(name, help string, value func(api.MetricsResponse) float64) metricDesc {
	return metricDesc{
		desc:      prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil),
		valueType: prometheus.GaugeValue,
		value:     value,
	}
}

// Collector exposes the daemon metrics snapshot to Prometheus. Values are
// read at scrape time.
type Collector struct {
	status  StatusProvider
	now     func() time.Time
	metrics []metricDesc
}

func NewCollector(status StatusProvider) *Collector {
	return &Collector{
		status: status,
		now:    time.Now,
		metrics: []metricDesc{
			gauge("uptime_seconds", "Seconds since the daemon started.", func(m api.MetricsResponse) float64 { return m.UptimeSeconds }),
			counter("runs_total", "Fetch and grade runs started.", func(m api.MetricsResponse) float64 { return float64(m.Runs.TotalRuns) }),
			counter("runs_successful_total", "Runs that completed without errors.", func(m api.MetricsResponse) float64 { return float64(m.Runs.SuccessfulRuns) }),
			counter("runs_failed_total", "Runs that failed or completed degraded.", func(m api.MetricsResponse) float64 { return float64(m.Runs.FailedRuns) }),
			counter("hosts_processed_total", "Hosts rolled up across runs.", func(m api.MetricsResponse) float64 { return float64(m.Runs.HostsProcessed) }),
			counter("policies_graded_total", "Policies graded across runs.", func(m api.MetricsResponse) float64 { return float64(m.Runs.PoliciesGraded) }),
			counter("policies_passed_total", "Graded policies that passed.", func(m api.MetricsResponse) float64 { return float64(m.Runs.PoliciesPassed) }),
			counter("policies_failed_total", "Graded policies that failed.", func(m api.MetricsResponse) float64 { return float64(m.Runs.PoliciesFailed) }),
			counter("api_calls_total", "Calls made to the management API.", func(m api.MetricsResponse) float64 { return float64(m.Runs.APICalls) }),
			counter("api_errors_total", "Failed calls to the management API.", func(m api.MetricsResponse) float64 { return float64(m.Runs.APIErrors) }),
			gauge("last_run_duration_seconds", "Duration of the most recent run.", func(m api.MetricsResponse) float64 { return m.Runs.LastRunDurationSeconds }),
			counter("ratelimit_requests_total", "Requests admitted by the rate limiter.", func(m api.MetricsResponse) float64 { return float64(m.RateLimiter.TotalRequests) }),
			counter("ratelimit_throttled_total", "Admissions that had to wait.", func(m api.MetricsResponse) float64 { return float64(m.RateLimiter.ThrottledRequests) }),
			gauge("ratelimit_current_rpm", "Requests in the last minute.", func(m api.MetricsResponse) float64 { return float64(m.RateLimiter.CurrentRPM) }),
			gauge("ratelimit_tokens_available", "Tokens left in the bucket.", func(m api.MetricsResponse) float64 { return m.RateLimiter.TokensAvailable }),
			gauge("ratelimit_backoff_attempt", "Current backoff attempt.", func(m api.MetricsResponse) float64 { return float64(m.RateLimiter.BackoffAttempt) }),
		},
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snapshot := c.status.Metrics(c.now())
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.valueType, m.value(snapshot))
	}
}

// PrometheusHandler serves a private registry holding only the collector.
func PrometheusHandler(status StatusProvider) (http.Handler, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(NewCollector(status)); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

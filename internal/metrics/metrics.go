// Package metrics exposes the daemon's Prometheus collectors: deployment
// outcome counts, deployment duration and per-component install-phase
// duration. Kept deliberately small: three collectors, registered once at
// startup and handed to internal/executor as an optional collaborator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder records executor-observed events as Prometheus collectors.
type Recorder struct {
	deploymentsTotal  *prometheus.CounterVec
	deploymentSeconds prometheus.Histogram
	installSeconds    *prometheus.HistogramVec
}

// New registers the daemon's collectors against reg and returns a Recorder
// that reports to them. Pass prometheus.NewRegistry() in tests to avoid
// colliding with the process-global default registerer.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		deploymentsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "ggdeploymentd",
			Name:      "deployments_total",
			Help:      "Deployments processed, by type and outcome.",
		}, []string{"type", "outcome"}),
		deploymentSeconds: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "ggdeploymentd",
			Name:      "deployment_duration_seconds",
			Help:      "Time to run a deployment's full pipeline, success or failure.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~34min
		}),
		installSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ggdeploymentd",
			Name:      "component_install_duration_seconds",
			Help:      "Time spent waiting for a component's install unit to reach a terminal state.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"component"}),
	}
	return r
}

// ObserveDeployment records one finished deployment's type, outcome, and
// wall-clock duration.
func (r *Recorder) ObserveDeployment(deploymentType string, succeeded bool, seconds float64) {
	if r == nil {
		return
	}
	outcome := "failed"
	if succeeded {
		outcome = "succeeded"
	}
	r.deploymentsTotal.WithLabelValues(deploymentType, outcome).Inc()
	r.deploymentSeconds.Observe(seconds)
}

// ObserveComponentInstall records how long a single component's install
// phase took to reach a terminal lifecycle state.
func (r *Recorder) ObserveComponentInstall(componentName string, seconds float64) {
	if r == nil {
		return
	}
	r.installSeconds.WithLabelValues(componentName).Observe(seconds)
}

// Handler serves the registered collectors in the Prometheus exposition
// format, for mounting at /metrics.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Package metrics exposes role reconciliation counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Role resolution outcomes
const (
	OutcomeFound   = "found"
	OutcomeCreated = "created"
	OutcomeFailed  = "failed"
)

// Repair paths
const (
	PathProcedure = "procedure"
	PathManual    = "manual"
)

// Recorder is implemented by Collector and Nop.
type Recorder interface {
	RecordRoleResolution(outcome string)
	RecordRoleRetry()
	RecordConsistencyCheck(ok bool)
	RecordRepair(path string, ok bool)
}

// Collector records reconciliation metrics in a Prometheus registry.
type Collector struct {
	roleResolutions   *prometheus.CounterVec
	roleRetries       prometheus.Counter
	consistencyChecks *prometheus.CounterVec
	repairs           *prometheus.CounterVec
}

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		roleResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_role_resolutions_total",
			Help: "Role resolutions by outcome.",
		}, []string{"outcome"}),
		roleRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_role_retries_total",
			Help: "Scheduled role resolution retries.",
		}),
		consistencyChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_consistency_checks_total",
			Help: "Consistency verifications by result.",
		}, []string{"result"}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_repairs_total",
			Help: "Account repairs by path and result.",
		}, []string{"path", "result"}),
	}

	reg.MustRegister(
		c.roleResolutions,
		c.roleRetries,
		c.consistencyChecks,
		c.repairs,
	)
	return c
}

func (c *Collector) RecordRoleResolution(outcome string) {
	c.roleResolutions.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordRoleRetry() {
	c.roleRetries.Inc()
}

func (c *Collector) RecordConsistencyCheck(ok bool) {
	c.consistencyChecks.WithLabelValues(result(ok)).Inc()
}

func (c *Collector) RecordRepair(path string, ok bool) {
	c.repairs.WithLabelValues(path, result(ok)).Inc()
}

// Handler serves the gatherer's metrics for scraping.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordRoleResolution(string) {}
func (Nop) RecordRoleRetry()            {}
func (Nop) RecordConsistencyCheck(bool) {}
func (Nop) RecordRepair(string, bool)   {}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

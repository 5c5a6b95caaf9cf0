// Tracks run-wide counters: tick count, contention and replans, path
// failures, and staged or cancelled work orders. Every counter is mirrored
// into a private Prometheus registry so a live run can be scraped.

package sim

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/warehouse-sim/warehouse-sim/sim/eventlog"
)

const metricsNamespace = "warehouse_sim"

// Metrics aggregates statistics about a run for the END summary and for
// scraping while the run is live.
type Metrics struct {
	Ticks                  int64
	BoundsViolations       int64
	ReservationContentions int64
	Replans                int64
	PathFailures           int64
	WorkOrdersStaged       int
	WorkOrdersCancelled    int
	UnitsStaged            int

	registry      *prometheus.Registry
	ticksTotal    prometheus.Counter
	boundsTotal   prometheus.Counter
	contentions   prometheus.Counter
	replansTotal  prometheus.Counter
	pathFailTotal prometheus.Counter
	stagedTotal   prometheus.Counter
	unitsTotal    prometheus.Counter
	cancelTotal   prometheus.Counter
	agentsBusy    prometheus.Gauge
	virtualTime   prometheus.Gauge
}

// NewMetrics creates the counters in a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		})
		m.registry.MustRegister(c)
		return c
	}
	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		})
		m.registry.MustRegister(g)
		return g
	}
	m.ticksTotal = counter("ticks_total", "Kernel ticks executed")
	m.boundsTotal = counter("bounds_violations_total", "Agent positions clamped back onto the grid")
	m.contentions = counter("reservation_contentions_total", "Failed cell reservation attempts")
	m.replansTotal = counter("replans_total", "Routes recomputed around a blocked cell")
	m.pathFailTotal = counter("path_failures_total", "Route requests that found no path")
	m.stagedTotal = counter("work_orders_staged_total", "Work orders fully delivered to staging")
	m.unitsTotal = counter("units_staged_total", "Units delivered to staging")
	m.cancelTotal = counter("work_orders_cancelled_total", "Work orders cancelled after repeated path failures")
	m.agentsBusy = gauge("agents_busy", "Agents not idle at the end of the last tick")
	m.virtualTime = gauge("virtual_time_seconds", "Virtual clock after the last tick")
	return m
}

// Registry exposes the Prometheus registry for an HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) tick(now float64, busy int) {
	m.Ticks++
	m.ticksTotal.Inc()
	m.virtualTime.Set(now)
	m.agentsBusy.Set(float64(busy))
}

func (m *Metrics) boundsViolation() {
	m.BoundsViolations++
	m.boundsTotal.Inc()
}

func (m *Metrics) contention() {
	m.ReservationContentions++
	m.contentions.Inc()
}

func (m *Metrics) replan() {
	m.Replans++
	m.replansTotal.Inc()
}

func (m *Metrics) pathFailure() {
	m.PathFailures++
	m.pathFailTotal.Inc()
}

func (m *Metrics) cancelled() {
	m.WorkOrdersCancelled++
	m.cancelTotal.Inc()
}

func (m *Metrics) staged(units int) {
	m.WorkOrdersStaged++
	m.UnitsStaged += units
	m.stagedTotal.Inc()
	m.unitsTotal.Add(float64(units))
}

// Summary converts the counters to the END record form.
func (m *Metrics) Summary(total int) eventlog.Summary {
	return eventlog.Summary{
		Ticks:                  m.Ticks,
		WorkOrdersTotal:        total,
		WorkOrdersStaged:       m.WorkOrdersStaged,
		WorkOrdersCancelled:    m.WorkOrdersCancelled,
		UnitsStaged:            m.UnitsStaged,
		BoundsViolations:       m.BoundsViolations,
		ReservationContentions: m.ReservationContentions,
		Replans:                m.Replans,
		PathFailures:           m.PathFailures,
	}
}

// Print displays the run summary.
func (m *Metrics) Print(total int, now float64) {
	fmt.Println("=== Simulation Metrics ===")
	fmt.Printf("Virtual Time         : %.1f s (%d ticks)\n", now, m.Ticks)
	fmt.Printf("Work Orders Staged   : %d / %d\n", m.WorkOrdersStaged, total)
	fmt.Printf("Work Orders Cancelled: %d\n", m.WorkOrdersCancelled)
	fmt.Printf("Units Staged         : %d\n", m.UnitsStaged)
	fmt.Printf("Path Failures        : %d\n", m.PathFailures)
	fmt.Printf("Contentions / Replans: %d / %d\n", m.ReservationContentions, m.Replans)
	if m.BoundsViolations > 0 {
		fmt.Printf("Bounds Violations    : %d\n", m.BoundsViolations)
	}
}

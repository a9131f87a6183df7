package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StructureCollector exposes metrics for the structure engine, the scope
// cache, the event connector and the simulation loop. It satisfies the
// recorder interfaces those packages accept.
type StructureCollector struct {
	Operations       *prometheus.CounterVec
	OperationLatency *prometheus.HistogramVec
	RelinkFailures   prometheus.Counter
	TreeNodes        prometheus.Gauge
	ScopeCacheLookup *prometheus.CounterVec
	EventBindings    prometheus.Gauge
	SimulationSteps  prometheus.Counter
}

// NewStructureCollector registers structure metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewStructureCollector(reg prometheus.Registerer) (*StructureCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	ops, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modeltree_structure_operations_total",
		Help: "Structural operations performed, labeled by operation and result.",
	}, []string{"op", "result"}), "modeltree_structure_operations_total")
	if err != nil {
		return nil, err
	}

	latency, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "modeltree_structure_operation_duration_seconds",
		Help:    "Duration of structural operations, including live re-linking.",
		Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"op"}), "modeltree_structure_operation_duration_seconds")
	if err != nil {
		return nil, err
	}

	relink, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "modeltree_live_relink_failures_total",
		Help: "Live adds whose link, event or start phase failed after attaching.",
	}), "modeltree_live_relink_failures_total")
	if err != nil {
		return nil, err
	}

	nodes, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "modeltree_tree_nodes",
		Help: "Current number of nodes in the node registry.",
	}), "modeltree_tree_nodes")
	if err != nil {
		return nil, err
	}

	lookups, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modeltree_scope_cache_lookups_total",
		Help: "Scope cache lookups, labeled by query kind and outcome (hit or miss).",
	}, []string{"kind", "outcome"}), "modeltree_scope_cache_lookups_total")
	if err != nil {
		return nil, err
	}

	bindings, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "modeltree_event_bindings",
		Help: "Current number of event bindings.",
	}), "modeltree_event_bindings")
	if err != nil {
		return nil, err
	}

	steps, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "modeltree_simulation_steps_total",
		Help: "Simulation timesteps executed.",
	}), "modeltree_simulation_steps_total")
	if err != nil {
		return nil, err
	}

	return &StructureCollector{
		Operations:       ops,
		OperationLatency: latency,
		RelinkFailures:   relink,
		TreeNodes:        nodes,
		ScopeCacheLookup: lookups,
		EventBindings:    bindings,
		SimulationSteps:  steps,
	}, nil
}

// ObserveStructureOp records one structural operation.
func (c *StructureCollector) ObserveStructureOp(op string, d time.Duration, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.Operations.WithLabelValues(op, result).Inc()
	c.OperationLatency.WithLabelValues(op).Observe(d.Seconds())
}

// IncRelinkFailures counts a partially wired live add.
func (c *StructureCollector) IncRelinkFailures() {
	if c == nil {
		return
	}
	c.RelinkFailures.Inc()
}

// SetTreeNodes updates the node count gauge.
func (c *StructureCollector) SetTreeNodes(n int) {
	if c == nil {
		return
	}
	c.TreeNodes.Set(float64(n))
}

// ScopeCacheHit counts a cache hit for a query kind.
func (c *StructureCollector) ScopeCacheHit(kind string) {
	if c == nil {
		return
	}
	c.ScopeCacheLookup.WithLabelValues(kind, "hit").Inc()
}

// ScopeCacheMiss counts a cache miss for a query kind.
func (c *StructureCollector) ScopeCacheMiss(kind string) {
	if c == nil {
		return
	}
	c.ScopeCacheLookup.WithLabelValues(kind, "miss").Inc()
}

// SetEventBindings updates the event binding gauge.
func (c *StructureCollector) SetEventBindings(n int) {
	if c == nil {
		return
	}
	c.EventBindings.Set(float64(n))
}

// IncSimulationSteps counts one executed timestep.
func (c *StructureCollector) IncSimulationSteps() {
	if c == nil {
		return
	}
	c.SimulationSteps.Inc()
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

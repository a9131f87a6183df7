package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/modeltree/internal/config"
	"github.com/signalsfoundry/modeltree/internal/events"
	"github.com/signalsfoundry/modeltree/internal/format"
	"github.com/signalsfoundry/modeltree/internal/logging"
	"github.com/signalsfoundry/modeltree/internal/observability"
	"github.com/signalsfoundry/modeltree/internal/scope"
	"github.com/signalsfoundry/modeltree/internal/sim"
	"github.com/signalsfoundry/modeltree/internal/structure"
	"github.com/signalsfoundry/modeltree/kb"
	"github.com/signalsfoundry/modeltree/model"
)

// readModel parses a model file in any supported dialect.
func readModel(path string) (*model.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	n, err := format.Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return n, nil
}

// buildSimulation loads the configured model, or an empty simulation when
// none is configured, with metrics reported to collector.
func buildSimulation(cfg config.Config, log logging.Logger, collector *observability.StructureCollector) (*sim.Simulation, error) {
	registry := kb.NewRegistry()
	registry.Subscribe(func(ev kb.Event) {
		collector.SetTreeNodes(ev.Total)
		log.Debug(context.Background(), "registry changed",
			logging.String("event", ev.Type.String()),
			logging.String("path", ev.Path),
			logging.Int("total", ev.Total),
		)
	})

	clock := cfg.Simulation.Clock()
	clock.AddListener(func(context.Context, time.Time) error {
		collector.IncSimulationSteps()
		return nil
	})

	opts := []sim.Option{
		sim.WithLogger(log),
		sim.WithCache(scope.NewCache(collector)),
		sim.WithClock(clock),
		sim.WithRegistry(registry),
		sim.WithStrictLinks(cfg.Simulation.StrictLinks),
		sim.WithEngineOptions(structure.WithMetricsRecorder(collector)),
		sim.WithEventOptions(events.WithMetricsRecorder(collector)),
	}

	var (
		s   *sim.Simulation
		err error
	)
	if cfg.Simulation.Model == "" {
		s, err = sim.New(cfg.Simulation.Name, opts...)
	} else {
		var root *model.Node
		if root, err = readModel(cfg.Simulation.Model); err != nil {
			return nil, err
		}
		s, err = sim.Load(root, opts...)
	}
	if err != nil {
		return nil, err
	}
	collector.SetTreeNodes(registry.Len())
	return s, nil
}

// newCollectors registers both collectors on reg.
func newCollectors(reg *prometheus.Registry) (*observability.APICollector, *observability.StructureCollector, error) {
	api, err := observability.NewAPICollector(reg)
	if err != nil {
		return nil, nil, err
	}
	sc, err := observability.NewStructureCollector(reg)
	if err != nil {
		return nil, nil, err
	}
	return api, sc, nil
}

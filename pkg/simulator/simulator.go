/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package simulator wires every component onto one event bus and drives
// the simulation: Persistent Storage, the API Server, the Scheduler, both
// autoscalers, the Node Runtime Pool, the Metrics Aggregator, and the
// Trace Feeder. Construction happens once, up front; after Load and
// Bootstrap the bus runs the whole engine.
package simulator

import (
	"context"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jellythefish/kubernetriks/pkg/apiserver"
	clusterautoscaler "github.com/jellythefish/kubernetriks/pkg/autoscaler/cluster"
	horizontalautoscaler "github.com/jellythefish/kubernetriks/pkg/autoscaler/horizontal"
	"github.com/jellythefish/kubernetriks/pkg/config"
	"github.com/jellythefish/kubernetriks/pkg/eventbus"
	"github.com/jellythefish/kubernetriks/pkg/log"
	"github.com/jellythefish/kubernetriks/pkg/metrics"
	"github.com/jellythefish/kubernetriks/pkg/noderuntime"
	"github.com/jellythefish/kubernetriks/pkg/scheduler"
	"github.com/jellythefish/kubernetriks/pkg/simevents"
	"github.com/jellythefish/kubernetriks/pkg/simtypes"
	"github.com/jellythefish/kubernetriks/pkg/storage"
	"github.com/jellythefish/kubernetriks/pkg/trace"
)

// Simulator owns the bus and every constructed component, and exposes the
// pieces a caller needs after a run completes: the Metrics Aggregator for
// its counters and estimators, the final storage state, and the bus's
// clock.
type Simulator struct {
	bus *eventbus.Bus
	logger *zap.SugaredLogger
	storage *storage.Storage
	apiServer *apiserver.APIServer
	scheduler *scheduler.Scheduler
	pool *noderuntime.Pool
	metrics *metrics.Aggregator

	clusterAutoscaler *clusterautoscaler.Autoscaler
	horizontalAutoscaler *horizontalautoscaler.Autoscaler

	feeder *trace.Feeder
}

// New constructs every component from cfg and registers their bus
// handlers -- including preallocating the node pool, which must happen
// before time zero -- and returns a Simulator ready to Load a trace and
// Run.
// The caller selects the logger verbosity: production runs should pass
// log.NewProduction, interactive/debug runs log.NewDevelopment.
func New(cfg config.Config, logger *zap.SugaredLogger) *Simulator {
	bus := eventbus.New()
	recorder := simevents.NewRecorder(logger, 30*time.Second)

	st := storage.New(storage.NetworkDelays{
		PSToScheduler: cfg.NetworkDelays.PSToScheduler,
		PSToAPIServer: cfg.NetworkDelays.ASToPS,
	})
	bus.Register(simevents.DestStorage, st)

	pool := noderuntime.NewPool(bus, cfg.NodePoolCapacity, cfg.NetworkDelays.ASToNode)

	as := apiserver.New(apiserver.NetworkDelays{
		ASToPS: cfg.NetworkDelays.ASToPS,
		ASToNode: cfg.NetworkDelays.ASToNode,
		ASToScheduler: cfg.NetworkDelays.SchedToAS,
		ASToCA: cfg.NetworkDelays.ASToCA,
	}, pool)
	bus.Register(simevents.DestAPIServer, as)

	sched := scheduler.New(scheduler.Config{
		SchedulingCycleInterval: cfg.Scheduler.SchedulingCycleInterval,
		PodFlushInterval: cfg.Scheduler.PodFlushInterval,
		MaxUnschedulableDuration: cfg.Scheduler.MaxUnschedulableDuration,
		EnableConditionalMove: cfg.Scheduler.EnableUnscheduledPodsConditionalMove,
	}, scheduler.NetworkDelays{SchedToAS: cfg.NetworkDelays.SchedToAS}, recorder)
	for name, profile := range cfg.Scheduler.Profiles {
		sched.RegisterProfile(toSchedulerProfile(name, profile))
	}
	if perNode := cfg.Scheduler.PodSchedulingTimeModel.ConstantTimePerNode; perNode > 0 {
		sched.SetComputeTimeModel(scheduler.ConstantTimePerNodeModel{ConstantTimePerNode: perNode})
	}
	bus.Register(simevents.DestScheduler, sched)

	registry := prometheus.NewRegistry()
	counters := metrics.NewCounters(registry)
	aggregator := metrics.New(metrics.DefaultConfig(), pool, st, counters)
	bus.Register(simevents.DestMetrics, aggregator)

	groups := toNodeGroups(cfg.ClusterAutoscaler.NodeGroups)
	ca := clusterautoscaler.New(
		clusterautoscaler.Config{ScanInterval: cfg.ClusterAutoscaler.ScanInterval},
		clusterautoscaler.NetworkDelays{CAToAS: cfg.NetworkDelays.ASToCA},
		clusterautoscaler.NewDefaultAlgorithm(cfg.ClusterAutoscaler.KubeClusterAutoscaler.ScaleDownUtilizationThreshold),
		groups,
		recorder,
	)
	if cfg.ClusterAutoscaler.Enabled {
		bus.Register(simevents.DestClusterAutoscaler, ca)
	}

	hpa := horizontalautoscaler.New(
		horizontalautoscaler.Config{ScanInterval: cfg.HorizontalPodAutoscaler.ScanInterval},
		horizontalautoscaler.NetworkDelays{HPAToAS: cfg.NetworkDelays.ASToHPA, HPAToMetrics: cfg.NetworkDelays.ASToHPA},
		horizontalautoscaler.NewDefaultAlgorithm(cfg.HorizontalPodAutoscaler.KubeHorizontalPodAutoscalerConfig.TargetThresholdTolerance),
	)
	if cfg.HorizontalPodAutoscaler.Enabled {
		bus.Register(simevents.DestHorizontalAutoscaler, hpa)
	}

	feeder := trace.New(cfg.NetworkDelays.ASToPS)
	bus.Register(simevents.DestTrace, feeder)

	return &Simulator{
		bus: bus,
		logger: logger,
		storage: st,
		apiServer: as,
		scheduler: sched,
		pool: pool,
		metrics: aggregator,
		clusterAutoscaler: ca,
		horizontalAutoscaler: hpa,
		feeder: feeder,
	}
}

// Load seeds the configured default cluster and the given trace driver's
// event sequences, and stamps the Metrics Aggregator's
// total_nodes_in_trace/total_pods_in_trace counters.
func (s *Simulator) Load(cfg config.Config, driver trace.Driver) {
	for _, seed := range cfg.DefaultCluster {
		for _, node := range seed.Expand() {
			s.bus.Emit(simevents.DestTrace, simevents.DestAPIServer, simevents.CreateNodeRequest{Node: node}, 0)
		}
	}
	s.metrics.Counters.TotalNodesInTrace = driver.TotalNodesInTrace()
	s.metrics.Counters.TotalPodsInTrace = driver.TotalPodsInTrace()
	s.feeder.Load(s.bus, driver)
}

// Bootstrap schedules every component's first periodic tick. Must be
// called once, after Load, before Run.
func (s *Simulator) Bootstrap(cfg config.Config) {
	s.scheduler.Bootstrap(s.bus)
	s.metrics.Bootstrap(s.bus)
	if cfg.ClusterAutoscaler.Enabled {
		s.clusterAutoscaler.Bootstrap(s.bus)
	}
	if cfg.HorizontalPodAutoscaler.Enabled {
		s.horizontalAutoscaler.Bootstrap(s.bus)
	}
}

// terminationCheckInterval is how often (in virtual seconds) Run evaluates
// its stop condition. Transient states -- a pod counted unschedulable
// moments before a node arrives for it -- resolve well within one window,
// so checking at every event would only ever stop a run early.
const terminationCheckInterval = 1000.0

// Run steps the bus until every pod the trace promised has terminated
// (terminated_pods >= total_pods_in_trace), checked at
// terminationCheckInterval boundaries of virtual time. The periodic
// component self-ticks keep the event queue non-empty forever, so draining
// the queue is never the stop condition.
func (s *Simulator) Run(ctx context.Context) {
	ctx = log.WithLogger(ctx, s.logger)
	s.bus.RunUntil(ctx, func(b *eventbus.Bus) bool {
		if math.Mod(b.Now(), terminationCheckInterval) != 0 {
			return false
		}
		return s.metrics.Counters.TerminatedPods >= s.metrics.Counters.TotalPodsInTrace
	})
}

// RunUntilTime steps the bus until virtual time passes deadline, for runs
// whose pod-group pods never terminate on their own.
func (s *Simulator) RunUntilTime(ctx context.Context, deadline float64) {
	ctx = log.WithLogger(ctx, s.logger)
	s.bus.RunUntilTime(ctx, deadline)
}

// Metrics returns the Metrics Aggregator, whose Counters and estimators
// callers read once Run returns.
func (s *Simulator) Metrics() *metrics.Aggregator {
	return s.metrics
}

// Storage returns the Persistent Storage component, for callers (tests,
// the metrics printer collaborator) that need to read final node/pod state.
func (s *Simulator) Storage() *storage.Storage {
	return s.storage
}

// HorizontalPodAutoscaler returns the HPA component, whose per-group
// replica counts tests assert against mid-run.
func (s *Simulator) HorizontalPodAutoscaler() *horizontalautoscaler.Autoscaler {
	return s.horizontalAutoscaler
}

// ClusterAutoscaler returns the cluster autoscaler component, whose
// per-group node counts tests assert against mid-run.
func (s *Simulator) ClusterAutoscaler() *clusterautoscaler.Autoscaler {
	return s.clusterAutoscaler
}

// Now returns the bus's final (or current) virtual time.
func (s *Simulator) Now() float64 {
	return s.bus.Now()
}

// toSchedulerProfile resolves a configuration profile's plugin names into
// the registered plugin instances. An unresolvable plugin name is a
// configuration error; since config.Validate does not itself check
// plugin names (the configuration surface pre-dates this wiring), resolving
// to an unknown plugin panics here rather than silently dropping it from
// the pipeline -- the fail-loud behavior the rest of the engine applies to
// every wiring bug.
func toSchedulerProfile(name string, p config.ProfileConfig) scheduler.Profile {
	profile := scheduler.Profile{Name: name}
	for _, filterName := range p.Filter {
		plugin, ok := scheduler.LookupFilterPlugin(filterName)
		if !ok {
			panic("simulator: unknown filter plugin " + filterName + " in profile " + name)
		}
		profile.Filters = append(profile.Filters, plugin)
	}
	for _, weighted := range p.Score {
		plugin, ok := scheduler.LookupScorePlugin(weighted.Name)
		if !ok {
			panic("simulator: unknown score plugin " + weighted.Name + " in profile " + name)
		}
		profile.Scores = append(profile.Scores, scheduler.WeightedScorePlugin{Plugin: plugin, Weight: weighted.Weight})
	}
	return profile
}

// toNodeGroups converts the configuration's node-group seeds into the
// cluster autoscaler's live, mutable group map, keyed by node-template
// name -- the same name Validate already guarantees is both non-empty and
// unique among cluster_autoscaler.node_groups.
func toNodeGroups(seeds []config.NodeGroupSeed) map[string]*simtypes.NodeGroup {
	groups := make(map[string]*simtypes.NodeGroup, len(seeds))
	for _, seed := range seeds {
		name := seed.NodeTemplate.Name
		node := simtypes.NewNode(name, simtypes.ResourceAmount{
			CPUMillicores: seed.NodeTemplate.CPUMillicores,
			RAMBytes: seed.NodeTemplate.RAMBytes,
		}, seed.NodeTemplate.Labels)
		groups[name] = &simtypes.NodeGroup{
			Name: name,
			NodeTemplate: *node,
			MaxCount: seed.MaxCount,
		}
	}
	return groups
}

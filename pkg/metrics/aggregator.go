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

// Package metrics implements the Metrics Aggregator component: running
// counters, streaming min/max/mean/variance estimators, and per-pod-group
// resource utilization sampling read by the Horizontal Pod Autoscaler.
// Counters are mirrored into Prometheus gauges so a scrape endpoint could
// expose the same values the simulation reports at completion.
package metrics

import (
	"context"
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/jellythefish/kubernetriks/pkg/eventbus"
	"github.com/jellythefish/kubernetriks/pkg/log"
	"github.com/jellythefish/kubernetriks/pkg/noderuntime"
	"github.com/jellythefish/kubernetriks/pkg/simevents"
	"github.com/jellythefish/kubernetriks/pkg/simtypes"
)

// Config holds the Aggregator's sampling cadence.
type Config struct {
	CollectPodMetricsInterval float64
}

func DefaultConfig() Config {
	return Config{CollectPodMetricsInterval: 60.0}
}

type tickCollectPodMetrics struct{}

// NodeRuntimePool gives the Aggregator read access to every currently-live
// node runtime's running pods. Implemented by noderuntime.Pool; the
// Aggregator never owns a runtime, it only reads from one inside its own
// handler invocation, which is race-free because the whole engine is
// single-threaded.
type NodeRuntimePool interface {
	ForEachActive(f func(nodeName string, rt *noderuntime.Runtime))
}

// PodLookup resolves a pod's current spec (requests, pod group, usage
// model) by name. Implemented by storage.Storage; likewise a weak
// reference, never a co-ownership.
type PodLookup interface {
	Pod(name string) (*simtypes.Pod, bool)
}

// Aggregator is the Metrics Aggregator component.
type Aggregator struct {
	cfg Config
	pool NodeRuntimePool
	pods PodLookup
	Counters *Counters

	PodDuration Estimator
	PodSchedulingAlgorithmLatency Estimator
	PodQueueTime Estimator

	groupCPU map[string]*Estimator
	groupRAM map[string]*Estimator
}

// New returns an Aggregator backed by pool (for running-pod iteration) and
// pods (for resolving each running pod's group/usage model), publishing
// into counters.
func New(cfg Config, pool NodeRuntimePool, pods PodLookup, counters *Counters) *Aggregator {
	return &Aggregator{
		cfg: cfg,
		pool: pool,
		pods: pods,
		Counters: counters,
		groupCPU: map[string]*Estimator{},
		groupRAM: map[string]*Estimator{},
	}
}

// Bootstrap schedules the first collect-pod-metrics tick.
func (a *Aggregator) Bootstrap(bus *eventbus.Bus) {
	bus.Emit(simevents.DestMetrics, simevents.DestMetrics, tickCollectPodMetrics{}, a.cfg.CollectPodMetricsInterval)
}

// Handle implements eventbus.Handler.
func (a *Aggregator) Handle(ctx context.Context, bus *eventbus.Bus, ev eventbus.Event) {
	switch p := ev.Payload.(type) {
	case tickCollectPodMetrics:
		a.collectPodMetrics(bus)
	case simevents.NodeProcessed:
		a.Counters.ProcessedNodes++
	case simevents.PodOutcomeObserved:
		a.onPodOutcome(p)
	case simevents.PodUnschedulableObserved:
		a.Counters.PodsUnschedulable++
		a.Counters.TerminatedPods++
	case simevents.PodUnschedulableResolved:
		if a.Counters.PodsUnschedulable > 0 {
			a.Counters.PodsUnschedulable--
			a.Counters.TerminatedPods--
		}
	case simevents.PodRemovedObserved:
		a.Counters.PodsRemoved++
		a.Counters.TerminatedPods++
	case simevents.ScaleActionObserved:
		a.onScaleAction(p)
	case simevents.PodSchedulingLatencyObserved:
		a.PodQueueTime.Add(p.QueueTimeSeconds)
		a.PodSchedulingAlgorithmLatency.Add(p.SchedulingAlgorithmLatencySeconds)
	case simevents.MeanUtilizationPerGroupRequest:
		a.respondMeanUtilization(bus)
	default:
		log.FromContext(ctx).Warnw("metrics: unhandled event", "payload", fmt.Sprintf("%T", p))
	}
}

func (a *Aggregator) onPodOutcome(p simevents.PodOutcomeObserved) {
	a.PodDuration.Add(p.DurationSeconds)
	a.Counters.TerminatedPods++
	if p.Outcome == simevents.PodOutcomeSucceeded {
		a.Counters.PodsSucceeded++
	} else {
		a.Counters.PodsFailed++
	}
}

func (a *Aggregator) onScaleAction(p simevents.ScaleActionObserved) {
	switch p.Kind {
	case simevents.ScaleUpNode:
		a.Counters.TotalScaledUpNodes++
	case simevents.ScaleDownNode:
		a.Counters.TotalScaledDownNodes++
	case simevents.ScaleUpPod:
		a.Counters.TotalScaledUpPods++
	case simevents.ScaleDownPod:
		a.Counters.TotalScaledDownPods++
	}
}

// collectPodMetrics implements per-tick sampling: walk every live node
// runtime, count pods per group, then for each running pod sample its cpu
// and ram usage models independently against that group's current size and
// fold the results into the group's estimators. The estimators hold only
// the latest tick's snapshot, so the HPA's mean-utilization read reflects
// exactly one tick's pod population, not a running average since time
// zero.
func (a *Aggregator) collectPodMetrics(bus *eventbus.Bus) {
	now := bus.Now()
	a.groupCPU = map[string]*Estimator{}
	a.groupRAM = map[string]*Estimator{}

	groupCounts := map[string]int{}
	a.pool.ForEachActive(func(_ string, rt *noderuntime.Runtime) {
		for _, podName := range sortedRunningPodNames(rt) {
			pod, ok := a.pods.Pod(podName)
			if !ok || pod.PodGroup == "" {
				continue
			}
			groupCounts[pod.PodGroup]++
		}
	})

	a.pool.ForEachActive(func(_ string, rt *noderuntime.Runtime) {
		for _, podName := range sortedRunningPodNames(rt) {
			pod, ok := a.pods.Pod(podName)
			if !ok || pod.PodGroup == "" || pod.UsageModelConfig == nil {
				continue
			}
			count := groupCounts[pod.PodGroup]
			if cpu := pod.UsageModelConfig.CPU; cpu != nil {
				a.estimatorFor(a.groupCPU, pod.PodGroup).Add(cpu.Sample(now, count))
			}
			if ram := pod.UsageModelConfig.RAM; ram != nil {
				a.estimatorFor(a.groupRAM, pod.PodGroup).Add(ram.Sample(now, count))
			}
		}
	})

	a.Counters.Publish()
	bus.Emit(simevents.DestMetrics, simevents.DestMetrics, tickCollectPodMetrics{}, a.cfg.CollectPodMetricsInterval)
}

// sortedRunningPodNames returns rt's running pod names in sorted order, so
// that folding samples into an Estimator never depends on Go's randomized
// map iteration order.
func sortedRunningPodNames(rt *noderuntime.Runtime) []string {
	names := lo.Keys(rt.RunningPods())
	sort.Strings(names)
	return names
}

func (a *Aggregator) estimatorFor(m map[string]*Estimator, group string) *Estimator {
	if e, ok := m[group]; ok {
		return e
	}
	e := &Estimator{}
	m[group] = e
	return e
}

// respondMeanUtilization answers the HPA's per-group mean CPU/RAM
// utilization request from the running estimators. A group
// with no samples yet is simply absent from both maps -- the HPA leaves an
// absent group untouched rather than treating it as zero utilization.
func (a *Aggregator) respondMeanUtilization(bus *eventbus.Bus) {
	meanCPU := make(map[string]float64, len(a.groupCPU))
	for name, e := range a.groupCPU {
		if e.Count() > 0 {
			meanCPU[name] = e.Mean()
		}
	}
	meanRAM := make(map[string]float64, len(a.groupRAM))
	for name, e := range a.groupRAM {
		if e.Count() > 0 {
			meanRAM[name] = e.Mean()
		}
	}
	bus.Emit(simevents.DestMetrics, simevents.DestHorizontalAutoscaler, simevents.MeanUtilizationPerGroupResponse{
		MeanCPU: meanCPU,
		MeanRAM: meanRAM,
	}, 0)
}

// GroupUtilizationSamples exposes a group's current CPU sample count, used
// by tests to assert the per-tick walk actually touched a group.
func (a *Aggregator) GroupUtilizationSamples(group string) int64 {
	if e, ok := a.groupCPU[group]; ok {
		return e.Count()
	}
	return 0
}

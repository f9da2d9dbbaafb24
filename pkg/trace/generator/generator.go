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

// Package generator is a synthetic Trace Driver: a development tool that
// fabricates a cluster and workload trace instead of parsing a real one.
// Pod sizes are drawn from a table of resource bins and arrive one
// ArrivalInterval apart, so the scheduler's queue and the autoscalers'
// scan cadence both get exercised instead of everything landing at time
// zero. Node names come from randomdata.SillyName; randomdata.CustomRand
// is seeded from the engine's own seed so two runs with the same seed
// produce an identical trace.
package generator

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/Pallinder/go-randomdata"

	"github.com/jellythefish/kubernetriks/pkg/simevents"
	"github.com/jellythefish/kubernetriks/pkg/simtypes"
	"github.com/jellythefish/kubernetriks/pkg/trace"
)

// resourceBin is one entry of the cpu/ram bin table: a pod whose bin
// index is i draws cpu uniformly from [bins[i-1].cpu, bins[i].cpu] and ram
// from the matching ram range, both bounds included.
type resourceBin struct {
	cpuMillicores uint32
	ramBytes uint64
}

var bins = []resourceBin{
	{0, 0},
	{1000, 2147483648},
	{2000, 4294967296},
	{4000, 8589934592},
	{8000, 17179869184},
	{16000, 34359738368},
	{32000, 68719476736},
	{64000, 137438953472},
	{128000, 274877906944},
	{256000, 549755813888},
	{512000, 1099511627776},
}

// Config controls the synthetic trace's size and shape.
type Config struct {
	Seed uint64

	NodeCount int
	NodeCapacity simtypes.ResourceAmount
	PodCount int
	// ArrivalInterval spaces consecutive pod arrivals this many seconds
	// apart, starting at time zero.
	ArrivalInterval float64
}

// DefaultConfig is sized to be usable as a development fixture rather
// than a benchmark load.
func DefaultConfig() Config {
	return Config{
		NodeCount: 10,
		NodeCapacity: simtypes.ResourceAmount{CPUMillicores: 64000, RAMBytes: 137438953472},
		PodCount: 1000,
		ArrivalInterval: 1.0,
	}
}

// Generate fabricates a trace.Driver: NodeCount nodes present from virtual
// time zero, followed by PodCount pods each drawn from the bin table and
// spaced ArrivalInterval seconds apart.
func Generate(cfg Config) trace.Driver {
	rng := rand.New(rand.NewSource(int64(cfg.Seed)))
	randomdata.CustomRand(rng)

	clusterEvents := make([]trace.ClusterEvent, 0, cfg.NodeCount)
	seenNames := map[string]bool{}
	for i := 0; i < cfg.NodeCount; i++ {
		name := uniqueNodeName(seenNames)
		node := simtypes.NewNode(name, cfg.NodeCapacity, map[string]string{
			simtypes.LabelOrigin: simtypes.OriginTrace,
		})
		clusterEvents = append(clusterEvents, trace.ClusterEvent{
			Time: 0,
			Payload: simevents.CreateNodeRequest{Node: *node},
		})
	}

	workloadEvents := make([]trace.WorkloadEvent, 0, cfg.PodCount)
	for i := 0; i < cfg.PodCount; i++ {
		pod := generatePod(rng, i)
		workloadEvents = append(workloadEvents, trace.WorkloadEvent{
			Time: float64(i) * cfg.ArrivalInterval,
			Payload: simevents.CreatePodRequest{Pod: pod},
		})
	}

	return &syntheticDriver{
		clusterEvents: clusterEvents,
		workloadEvents: workloadEvents,
		totalNodes: uint64(cfg.NodeCount),
		totalPods: uint64(cfg.PodCount),
	}
}

// generatePod draws a bin uniformly in [1,10], then cpu/ram uniformly
// within that bin's range, and a running duration uniformly in [1,10000]
// seconds.
func generatePod(rng *rand.Rand, index int) simtypes.Pod {
	binNo := 1 + rng.Intn(10)
	lower, upper := bins[binNo-1], bins[binNo]

	cpu := lower.cpuMillicores
	if upper.cpuMillicores > lower.cpuMillicores {
		cpu += uint32(rng.Int63n(int64(upper.cpuMillicores-lower.cpuMillicores) + 1))
	}
	ram := lower.ramBytes
	if upper.ramBytes > lower.ramBytes {
		ram += uint64(rng.Int63n(int64(upper.ramBytes-lower.ramBytes) + 1))
	}
	duration := float64(1 + rng.Intn(10000))

	return simtypes.Pod{
		Name: fmt.Sprintf("pod_%d", index),
		Requests: simtypes.ResourceAmount{
			CPUMillicores: cpu,
			RAMBytes: ram,
		},
		RunningDuration: &duration,
	}
}

func uniqueNodeName(seen map[string]bool) string {
	for {
		name := strings.ToLower(randomdata.SillyName())
		if !seen[name] {
			seen[name] = true
			return name
		}
	}
}

// syntheticDriver implements trace.Driver over the precomputed slices
// Generate builds.
type syntheticDriver struct {
	clusterEvents []trace.ClusterEvent
	workloadEvents []trace.WorkloadEvent
	totalNodes uint64
	totalPods uint64
}

func (d *syntheticDriver) ClusterEvents() []trace.ClusterEvent { return d.clusterEvents }
func (d *syntheticDriver) WorkloadEvents() []trace.WorkloadEvent { return d.workloadEvents }
func (d *syntheticDriver) TotalNodesInTrace() uint64 { return d.totalNodes }
func (d *syntheticDriver) TotalPodsInTrace() uint64 { return d.totalPods }

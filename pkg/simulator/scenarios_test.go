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

package simulator_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jellythefish/kubernetriks/pkg/config"
	"github.com/jellythefish/kubernetriks/pkg/log"
	"github.com/jellythefish/kubernetriks/pkg/simevents"
	"github.com/jellythefish/kubernetriks/pkg/simtypes"
	"github.com/jellythefish/kubernetriks/pkg/simulator"
	"github.com/jellythefish/kubernetriks/pkg/trace"
	"github.com/jellythefish/kubernetriks/pkg/trace/generator"
)

func baseConfig() config.Config {
	cfg := config.Default()
	cfg.Trace.GenericTrace = &config.GenericTracePaths{WorkloadTracePath: "w", ClusterTracePath: "c"}
	cfg.NodePoolCapacity = 16
	return cfg
}

func floatPtr(v float64) *float64 { return &v }
func u32Ptr(v uint32) *uint32     { return &v }

var _ = Describe("Simulator autoscaling scenarios", func() {
	It("runs parallel pods whose finish order follows their durations", func() {
		cfg := baseConfig()
		Expect(cfg.Validate()).To(Succeed())

		sim := simulator.New(cfg, log.NewDevelopment("parallel-pods"))
		durations := []float64{100, 50, 25}
		workload := make([]trace.WorkloadEvent, 0, 3)
		for i, d := range durations {
			workload = append(workload, trace.WorkloadEvent{
				Time:    float64(41 + i),
				Payload: simevents.CreatePodRequest{Pod: podRequesting(podNameForIndex(i), 333, 294967296, d)},
			})
		}
		driver := &fixedDriver{
			cluster: []trace.ClusterEvent{
				{Time: 30, Payload: simevents.CreateNodeRequest{
					Node: *simtypes.NewNode("trace_node_42", simtypes.ResourceAmount{CPUMillicores: 2000, RAMBytes: 4294967296}, nil),
				}},
			},
			workload: workload,
		}
		sim.Load(cfg, driver)
		sim.Bootstrap(cfg)
		sim.Run(context.Background())

		// All three fit the node at once, so the longest-running pod
		// (pod_0) finishes last and the shortest (pod_2) first; the
		// duration estimator sees each pod's own duration, not a serial
		// sum.
		Expect(sim.Metrics().Counters.PodsSucceeded).To(BeEquivalentTo(3))
		Expect(sim.Metrics().PodDuration.Min()).To(BeNumerically("~", 25, 1))
		Expect(sim.Metrics().PodDuration.Max()).To(BeNumerically("~", 100, 1))
		// Parallel execution: everything is done just after t=143, far
		// before the serial 41+100+50+25.
		Expect(sim.Metrics().PodDuration.Count()).To(BeEquivalentTo(3))
	})

	It("scales a pod group with the HPA through a full load cycle", func() {
		cfg := baseConfig()
		cfg.HorizontalPodAutoscaler.Enabled = true
		Expect(cfg.Validate()).To(Succeed())

		group := simtypes.PodGroup{
			Name:            "pod_group_1",
			InitialPodCount: 5,
			MaxPodCount:     100,
			PodTemplate: simtypes.Pod{
				Requests: simtypes.ResourceAmount{CPUMillicores: 100, RAMBytes: 104857600},
				Limits:   simtypes.ResourceAmount{CPUMillicores: 100, RAMBytes: 104857600},
			},
			TargetCPUUtilization: floatPtr(0.6),
			UsageModelConfig: simtypes.UsageModelConfig{
				CPU: &simtypes.Model{Steps: []simtypes.UsageStep{
					{DurationSeconds: 500, TotalLoad: 8},
					{DurationSeconds: 200, TotalLoad: 2},
				}},
			},
		}
		driver := &fixedDriver{
			cluster: []trace.ClusterEvent{
				{Time: 5, Payload: simevents.CreateNodeRequest{
					Node: *simtypes.NewNode("trace_node_42", simtypes.ResourceAmount{CPUMillicores: 64000, RAMBytes: 68719476736}, nil),
				}},
			},
			workload: []trace.WorkloadEvent{
				{Time: 59.5, Payload: simevents.CreatePodGroupRequest{PodGroup: group}},
			},
		}

		sim := simulator.New(cfg, log.NewDevelopment("hpa-load-cycle"))
		sim.Load(cfg, driver)
		sim.Bootstrap(cfg)
		ctx := context.Background()

		replicas := func() int {
			return sim.HorizontalPodAutoscaler().GroupReplicaCount("pod_group_1")
		}

		// First cycle at 60 has no utilization samples yet (the pods were
		// created at 59.5 and are not running when the collector walks the
		// cluster at 60), so the group is left alone.
		sim.RunUntilTime(ctx, 61)
		Expect(replicas()).To(Equal(5))

		// load 8 over 5 pods, capped at 1.0: ceil(5 * 1.0/0.6) = 9.
		sim.RunUntilTime(ctx, 121)
		Expect(replicas()).To(Equal(9))

		// load 8 over 9 pods = 0.889: ceil(9 * 0.889/0.6) = 14.
		sim.RunUntilTime(ctx, 181)
		Expect(replicas()).To(Equal(14))

		// 8/14 = 0.571, ratio 0.95 -- inside the 0.1 tolerance band.
		sim.RunUntilTime(ctx, 481)
		Expect(replicas()).To(Equal(14))

		// Load drops to 2 after t=500: 2/14 = 0.143, ceil(14*0.238) = 4.
		sim.RunUntilTime(ctx, 541)
		Expect(replicas()).To(Equal(4))

		// 2/4 = 0.5, ratio 0.83: ceil(4*0.83) is still 4.
		sim.RunUntilTime(ctx, 661)
		Expect(replicas()).To(Equal(4))

		// The 700s usage cycle wraps and load returns to 8; the ramp back
		// up retraces 4 -> 7 -> 12 -> 14 over consecutive cycles.
		sim.RunUntilTime(ctx, 721)
		Expect(replicas()).To(Equal(7))
		sim.RunUntilTime(ctx, 781)
		Expect(replicas()).To(Equal(12))
		sim.RunUntilTime(ctx, 841)
		Expect(replicas()).To(Equal(14))

		// 8/14 is back inside the tolerance band: stabilized.
		sim.RunUntilTime(ctx, 961)
		Expect(replicas()).To(Equal(14))

		Expect(sim.Metrics().Counters.TotalScaledUpPods).To(BeEquivalentTo(4 + 5 + 3 + 5 + 2))
		Expect(sim.Metrics().Counters.TotalScaledDownPods).To(BeEquivalentTo(10))
	})

	It("scales up node groups for unscheduled pods up to the group quota", func() {
		cfg := baseConfig()
		cfg.ClusterAutoscaler.Enabled = true
		cfg.ClusterAutoscaler.NodeGroups = []config.NodeGroupSeed{{
			NodeTemplate: config.NodeTemplateConfig{
				Name:          "standard",
				CPUMillicores: 4000,
				RAMBytes:      8589934592,
			},
			MaxCount: u32Ptr(3),
		}}
		Expect(cfg.Validate()).To(Succeed())

		workload := make([]trace.WorkloadEvent, 0, 4)
		for i := 0; i < 4; i++ {
			workload = append(workload, trace.WorkloadEvent{
				Time:    float64(1 + i),
				Payload: simevents.CreatePodRequest{Pod: podRequesting(podNameForIndex(i), 4000, 8589934592, 100)},
			})
		}
		driver := &fixedDriver{workload: workload}

		sim := simulator.New(cfg, log.NewDevelopment("ca-scale-up"))
		sim.Load(cfg, driver)
		sim.Bootstrap(cfg)
		ctx := context.Background()

		// One scan after the pods queued up: three nodes minted in a
		// single cycle, the fourth pod hits the quota and stays pending.
		sim.RunUntilTime(ctx, 15)
		Expect(sim.Metrics().Counters.TotalScaledUpNodes).To(BeEquivalentTo(3))
		Expect(sim.ClusterAutoscaler().GroupCurrentCount("standard")).To(Equal(3))
		Expect(sim.Storage().NodeCount()).To(Equal(3))
		for _, name := range []string{"standard_1", "standard_2", "standard_3"} {
			_, ok := sim.Storage().Node(name)
			Expect(ok).To(BeTrue(), "expected node %s to exist", name)
		}

		// Later scans with the same pending pod mint nothing further.
		sim.RunUntilTime(ctx, 60)
		Expect(sim.Metrics().Counters.TotalScaledUpNodes).To(BeEquivalentTo(3))

		// Once a node frees up the fourth pod runs too.
		sim.Run(ctx)
		Expect(sim.Metrics().Counters.PodsSucceeded).To(BeEquivalentTo(4))
		Expect(sim.Metrics().Counters.PodsUnschedulable).To(BeEquivalentTo(0))
	})

	It("scales down an underutilized node and reschedules its pod onto a peer", func() {
		cfg := baseConfig()
		cfg.ClusterAutoscaler.Enabled = true
		cfg.ClusterAutoscaler.NodeGroups = []config.NodeGroupSeed{{
			NodeTemplate: config.NodeTemplateConfig{
				Name:          "big",
				CPUMillicores: 16000,
				RAMBytes:      34359738368,
			},
			MaxCount: u32Ptr(3),
		}}
		Expect(cfg.Validate()).To(Succeed())

		// Two long-running heavy pods pin big_1/big_2 above the 0.5
		// utilization threshold while leaving plenty of headroom; a third,
		// short heavy pod forces big_3 into existence and then vacates it
		// for the small pod.
		heavy := func(name string, duration float64) simevents.CreatePodRequest {
			return simevents.CreatePodRequest{Pod: podRequesting(name, 9000, 21474836480, duration)}
		}
		driver := &fixedDriver{
			workload: []trace.WorkloadEvent{
				{Time: 1, Payload: heavy("heavy_0", 10000)},
				{Time: 2, Payload: heavy("heavy_1", 10000)},
				{Time: 3, Payload: heavy("heavy_2", 30)},
				{Time: 45, Payload: simevents.CreatePodRequest{Pod: podRequesting("small_pod", 1000, 1073741824, 100)}},
			},
		}

		sim := simulator.New(cfg, log.NewDevelopment("ca-scale-down"))
		sim.Load(cfg, driver)
		sim.Bootstrap(cfg)
		ctx := context.Background()

		// Scale-up pass: one node per heavy pod.
		sim.RunUntilTime(ctx, 15)
		Expect(sim.Storage().NodeCount()).To(Equal(3))

		// heavy_2 finishes around t=41 and small_pod lands alone on the
		// now-empty big_3 (the least-allocated node). The next scan finds
		// big_3 at 1/16 cpu utilization with its one pod movable to a
		// peer, removes it, and the displaced pod reschedules.
		sim.RunUntilTime(ctx, 200)

		Expect(sim.Metrics().Counters.TotalScaledDownNodes).To(BeEquivalentTo(1))
		Expect(sim.ClusterAutoscaler().GroupCurrentCount("big")).To(Equal(2))
		Expect(sim.Storage().NodeCount()).To(Equal(2))
		_, big3Alive := sim.Storage().Node("big_3")
		Expect(big3Alive).To(BeFalse())

		// The small pod was cut short once (counted failed), then ran to
		// completion on a surviving node.
		Expect(sim.Metrics().Counters.PodsFailed).To(BeEquivalentTo(1))
		Expect(sim.Metrics().Counters.PodsSucceeded).To(BeEquivalentTo(2))
		Expect(sim.Storage().PodCount()).To(Equal(2)) // the two pinned heavies
	})

	It("produces identical counters and estimators for identical seed, trace, and config", func() {
		run := func() (uint64, uint64, float64, float64, float64, float64) {
			cfg := baseConfig()
			cfg.Seed = 17
			cfg.NodePoolCapacity = 8

			gen := generator.Config{
				Seed:            cfg.Seed,
				NodeCount:       5,
				NodeCapacity:    simtypes.ResourceAmount{CPUMillicores: 64000, RAMBytes: 137438953472},
				PodCount:        120,
				ArrivalInterval: 1.0,
			}
			sim := simulator.New(cfg, log.NewDevelopment("determinism"))
			sim.Load(cfg, generator.Generate(gen))
			sim.Bootstrap(cfg)
			sim.RunUntilTime(context.Background(), 4000)

			m := sim.Metrics()
			return m.Counters.PodsSucceeded, m.Counters.PodsUnschedulable,
				m.PodDuration.Mean(), m.PodDuration.PopulationVariance(),
				m.PodQueueTime.Mean(), m.PodQueueTime.Max()
		}

		s1, u1, dm1, dv1, qm1, qx1 := run()
		s2, u2, dm2, dv2, qm2, qx2 := run()
		Expect(s1).To(Equal(s2))
		Expect(u1).To(Equal(u2))
		Expect(dm1).To(Equal(dm2))
		Expect(dv1).To(Equal(dv2))
		Expect(qm1).To(Equal(qm2))
		Expect(qx1).To(Equal(qx2))
	})
})

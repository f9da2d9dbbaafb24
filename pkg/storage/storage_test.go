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

package storage_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jellythefish/kubernetriks/pkg/eventbus"
	"github.com/jellythefish/kubernetriks/pkg/simevents"
	"github.com/jellythefish/kubernetriks/pkg/simtypes"
	"github.com/jellythefish/kubernetriks/pkg/storage"
)

type capture struct {
	received []eventbus.Event
}

func (c *capture) Handle(_ context.Context, _ *eventbus.Bus, ev eventbus.Event) {
	c.received = append(c.received, ev)
}

func (c *capture) payloadsOfType(match func(interface{}) bool) []interface{} {
	var out []interface{}
	for _, ev := range c.received {
		if match(ev.Payload) {
			out = append(out, ev.Payload)
		}
	}
	return out
}

func newHarness() (*eventbus.Bus, *storage.Storage, *capture, *capture, *capture) {
	bus := eventbus.New()
	st := storage.New(storage.NetworkDelays{PSToScheduler: 0.1, PSToAPIServer: 0.1})
	apiServer := &capture{}
	scheduler := &capture{}
	metrics := &capture{}
	bus.Register(simevents.DestStorage, st)
	bus.Register(simevents.DestAPIServer, apiServer)
	bus.Register(simevents.DestScheduler, scheduler)
	bus.Register(simevents.DestMetrics, metrics)
	return bus, st, apiServer, scheduler, metrics
}

func nodeWith(name string, cpu uint32, ram uint64) simtypes.Node {
	return *simtypes.NewNode(name, simtypes.ResourceAmount{CPUMillicores: cpu, RAMBytes: ram}, nil)
}

var _ = Describe("PersistentStorage", func() {
	ctx := context.Background()

	It("persists a node, acks the API Server, and advertises it to the scheduler only after the runtime exists", func() {
		bus, st, apiServer, scheduler, _ := newHarness()

		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.CreateNodeRequest{Node: nodeWith("n1", 1000, 1024)}, 0)
		bus.RunToCompletion(ctx)

		Expect(apiServer.received).To(HaveLen(1))
		Expect(apiServer.received[0].Payload).To(Equal(simevents.CreateNodeAck{NodeName: "n1"}))
		// Not yet visible to the scheduler: the runtime allocation has not
		// been confirmed.
		Expect(scheduler.received).To(BeEmpty())

		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.NodeAddedToCluster{NodeName: "n1"}, 0)
		bus.RunToCompletion(ctx)

		Expect(scheduler.received).To(HaveLen(1))
		added := scheduler.received[0].Payload.(simevents.NodeAddedToCache)
		Expect(added.Node.Name).To(Equal("n1"))

		node, ok := st.Node("n1")
		Expect(ok).To(BeTrue())
		Expect(node.Conditions.Has(simtypes.ConditionCreated, simtypes.ConditionTrue)).To(BeTrue())
	})

	It("panics on duplicate node insertion", func() {
		bus, _, _, _, _ := newHarness()
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.CreateNodeRequest{Node: nodeWith("n1", 1, 1)}, 0)
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.CreateNodeRequest{Node: nodeWith("n1", 1, 1)}, 0)
		Expect(func() { bus.RunToCompletion(ctx) }).To(Panic())
	})

	It("binds a pod: reserves allocatable, records the assignment, acks, and keeps the invariant 0 <= allocatable <= capacity", func() {
		bus, st, apiServer, _, _ := newHarness()
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.CreateNodeRequest{Node: nodeWith("n1", 2000, 4096)}, 0)
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.CreatePodRequest{Pod: simtypes.Pod{
			Name:     "p1",
			Requests: simtypes.ResourceAmount{CPUMillicores: 500, RAMBytes: 1024},
		}}, 0)
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.BindPod{PodName: "p1", NodeName: "n1"}, 1)
		bus.RunToCompletion(ctx)

		node, _ := st.Node("n1")
		Expect(node.Allocatable).To(Equal(simtypes.ResourceAmount{CPUMillicores: 1500, RAMBytes: 3072}))
		Expect(node.Allocatable.CPUMillicores).To(BeNumerically("<=", node.Capacity.CPUMillicores))

		pod, _ := st.Pod("p1")
		Expect(pod.AssignedNode).To(Equal("n1"))
		Expect(pod.Conditions.Has(simtypes.ConditionScheduled, simtypes.ConditionTrue)).To(BeTrue())
		Expect(st.Assignments().Has("n1", "p1")).To(BeTrue())

		acks := apiServer.payloadsOfType(func(p interface{}) bool {
			_, ok := p.(simevents.BindPodAck)
			return ok
		})
		Expect(acks).To(HaveLen(1))
	})

	It("panics when binding a pod to a non-existing node", func() {
		bus, _, _, _, _ := newHarness()
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.CreatePodRequest{Pod: simtypes.Pod{
			Name:     "p1",
			Requests: simtypes.ResourceAmount{CPUMillicores: 1, RAMBytes: 1},
		}}, 0)
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.BindPod{PodName: "p1", NodeName: "ghost"}, 1)
		Expect(func() { bus.RunToCompletion(ctx) }).To(Panic())
	})

	It("restores allocatable on pod completion and counts the pod as succeeded", func() {
		bus, st, _, scheduler, metrics := newHarness()
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.CreateNodeRequest{Node: nodeWith("n1", 2000, 4096)}, 0)
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.CreatePodRequest{Pod: simtypes.Pod{
			Name:     "p1",
			Requests: simtypes.ResourceAmount{CPUMillicores: 500, RAMBytes: 1024},
		}}, 0)
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.BindPod{PodName: "p1", NodeName: "n1"}, 1)
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.PodFinishedRunning{
			PodName: "p1", NodeName: "n1", Outcome: simevents.PodOutcomeSucceeded, StartTime: 1,
		}, 50)
		bus.RunToCompletion(ctx)

		node, _ := st.Node("n1")
		Expect(node.Allocatable).To(Equal(node.Capacity))
		_, stillThere := st.Pod("p1")
		Expect(stillThere).To(BeFalse())
		Expect(st.SucceededPodCount()).To(Equal(1))
		Expect(st.Assignments().Has("n1", "p1")).To(BeFalse())

		releases := scheduler.received
		var sawRelease bool
		for _, ev := range releases {
			if _, ok := ev.Payload.(simevents.ReleasePodFromCache); ok {
				sawRelease = true
			}
		}
		Expect(sawRelease).To(BeTrue())

		outcomes := metrics.payloadsOfType(func(p interface{}) bool {
			_, ok := p.(simevents.PodOutcomeObserved)
			return ok
		})
		Expect(outcomes).To(HaveLen(1))
		Expect(outcomes[0].(simevents.PodOutcomeObserved).Outcome).To(Equal(simevents.PodOutcomeSucceeded))
	})

	It("skips the release silently when the finish arrives after the node was removed", func() {
		bus, st, _, _, _ := newHarness()
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.CreateNodeRequest{Node: nodeWith("n1", 2000, 4096)}, 0)
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.CreatePodRequest{Pod: simtypes.Pod{
			Name:     "p1",
			Requests: simtypes.ResourceAmount{CPUMillicores: 500, RAMBytes: 1024},
		}}, 0)
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.BindPod{PodName: "p1", NodeName: "n1"}, 1)
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.RemoveNodeRequest{NodeName: "n1"}, 2)
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.PodFinishedRunning{
			PodName: "p1", NodeName: "n1", Outcome: simevents.PodOutcomeSucceeded, StartTime: 1,
		}, 3)

		Expect(func() { bus.RunToCompletion(ctx) }).NotTo(Panic())
		Expect(st.NodeCount()).To(Equal(0))
		Expect(st.SucceededPodCount()).To(Equal(1))
	})

	It("keeps a pod failed by node removal and sends it back to the scheduler", func() {
		bus, st, _, scheduler, _ := newHarness()
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.CreateNodeRequest{Node: nodeWith("n1", 2000, 4096)}, 0)
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.CreatePodRequest{Pod: simtypes.Pod{
			Name:     "p1",
			Requests: simtypes.ResourceAmount{CPUMillicores: 500, RAMBytes: 1024},
		}}, 0)
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.BindPod{PodName: "p1", NodeName: "n1"}, 1)
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.RemoveNodeRequest{NodeName: "n1"}, 2)
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.PodFinishedRunning{
			PodName: "p1", NodeName: "n1", Outcome: simevents.PodOutcomeFailed, StartTime: 1,
		}, 3)
		bus.RunToCompletion(ctx)

		pod, ok := st.Pod("p1")
		Expect(ok).To(BeTrue())
		Expect(pod.AssignedNode).To(BeEmpty())

		var scheduleRequests int
		for _, ev := range scheduler.received {
			if _, ok := ev.Payload.(simevents.PodScheduleRequest); ok {
				scheduleRequests++
			}
		}
		// One from pod creation, one from the failed-pod reschedule.
		Expect(scheduleRequests).To(Equal(2))
	})

	It("answers an info request with unscheduled pods when any exist", func() {
		bus, _, apiServer, _, _ := newHarness()
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.CreatePodRequest{Pod: simtypes.Pod{
			Name:     "p1",
			Requests: simtypes.ResourceAmount{CPUMillicores: 8000, RAMBytes: 1 << 33},
		}}, 0)
		bus.Emit(simevents.DestScheduler, simevents.DestStorage, simevents.PodNotScheduled{PodName: "p1", Reason: "no nodes"}, 1)
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.ClusterAutoscalerInfoRequest{Hint: simevents.InfoRequestAuto}, 2)
		bus.RunToCompletion(ctx)

		responses := apiServer.payloadsOfType(func(p interface{}) bool {
			_, ok := p.(simevents.ClusterAutoscalerInfoResponse)
			return ok
		})
		Expect(responses).To(HaveLen(1))
		resp := responses[0].(simevents.ClusterAutoscalerInfoResponse)
		Expect(resp.ScaleUp).NotTo(BeNil())
		Expect(resp.ScaleDown).To(BeNil())
		Expect(resp.ScaleUp.UnscheduledPods).To(HaveKey("p1"))
	})

	It("answers an info request with the autoscaled-node snapshot when nothing is unscheduled", func() {
		bus, _, apiServer, _, _ := newHarness()
		autoscaled := nodeWith("ca_node_1", 16000, 1<<35)
		autoscaled.Labels[simtypes.LabelOrigin] = simtypes.OriginClusterAutoscaler
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.CreateNodeRequest{Node: autoscaled}, 0)
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.CreateNodeRequest{Node: nodeWith("trace_node", 16000, 1<<35)}, 0)
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.CreatePodRequest{Pod: simtypes.Pod{
			Name:     "p1",
			Requests: simtypes.ResourceAmount{CPUMillicores: 1000, RAMBytes: 1 << 30},
		}}, 0)
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.BindPod{PodName: "p1", NodeName: "ca_node_1"}, 1)
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.ClusterAutoscalerInfoRequest{Hint: simevents.InfoRequestAuto}, 2)
		bus.RunToCompletion(ctx)

		responses := apiServer.payloadsOfType(func(p interface{}) bool {
			_, ok := p.(simevents.ClusterAutoscalerInfoResponse)
			return ok
		})
		Expect(responses).To(HaveLen(1))
		resp := responses[0].(simevents.ClusterAutoscalerInfoResponse)
		Expect(resp.ScaleUp).To(BeNil())
		Expect(resp.ScaleDown).NotTo(BeNil())
		// Only the autoscaler-owned node appears in the snapshot.
		Expect(resp.ScaleDown.Nodes).To(HaveLen(1))
		Expect(resp.ScaleDown.Nodes[0].Name).To(Equal("ca_node_1"))
		Expect(resp.ScaleDown.Assignments["ca_node_1"]).To(ConsistOf("p1"))
		Expect(resp.ScaleDown.PodsOnAutoscaledNodes).To(HaveKey("p1"))
	})

	It("removes an explicitly removed pod everywhere and tells the runtime's owner", func() {
		bus, st, apiServer, _, metrics := newHarness()
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.CreateNodeRequest{Node: nodeWith("n1", 2000, 4096)}, 0)
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.CreatePodRequest{Pod: simtypes.Pod{
			Name:     "p1",
			Requests: simtypes.ResourceAmount{CPUMillicores: 500, RAMBytes: 1024},
		}}, 0)
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.BindPod{PodName: "p1", NodeName: "n1"}, 1)
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.RemovePodRequest{PodName: "p1"}, 2)
		bus.RunToCompletion(ctx)

		_, ok := st.Pod("p1")
		Expect(ok).To(BeFalse())
		node, _ := st.Node("n1")
		Expect(node.Allocatable).To(Equal(node.Capacity))

		acks := apiServer.payloadsOfType(func(p interface{}) bool {
			_, ok := p.(simevents.RemovePodAck)
			return ok
		})
		Expect(acks).To(HaveLen(1))
		Expect(acks[0].(simevents.RemovePodAck).NodeName).To(Equal("n1"))

		removed := metrics.payloadsOfType(func(p interface{}) bool {
			_, ok := p.(simevents.PodRemovedObserved)
			return ok
		})
		Expect(removed).To(HaveLen(1))
	})
})

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

package trace_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jellythefish/kubernetriks/pkg/eventbus"
	"github.com/jellythefish/kubernetriks/pkg/simevents"
	"github.com/jellythefish/kubernetriks/pkg/simtypes"
	"github.com/jellythefish/kubernetriks/pkg/trace"
)

type recorder struct {
	events []eventbus.Event
}

func (r *recorder) Handle(_ context.Context, _ *eventbus.Bus, ev eventbus.Event) {
	r.events = append(r.events, ev)
}

type fakeDriver struct {
	cluster  []trace.ClusterEvent
	workload []trace.WorkloadEvent
}

func (d *fakeDriver) ClusterEvents() []trace.ClusterEvent   { return d.cluster }
func (d *fakeDriver) WorkloadEvents() []trace.WorkloadEvent { return d.workload }
func (d *fakeDriver) TotalNodesInTrace() uint64              { return uint64(len(d.cluster)) }
func (d *fakeDriver) TotalPodsInTrace() uint64                { return uint64(len(d.workload)) }

var _ = Describe("Feeder", func() {
	It("forwards cluster and pod events to the API Server at their recorded time, after the as_to_ps delay", func() {
		bus := eventbus.New()
		feeder := trace.New(0.5)
		apiServer := &recorder{}
		bus.Register(simevents.DestTrace, feeder)
		bus.Register(simevents.DestAPIServer, apiServer)

		driver := &fakeDriver{
			cluster: []trace.ClusterEvent{
				{Time: 10, Payload: simevents.CreateNodeRequest{Node: *simtypes.NewNode("n1", simtypes.ResourceAmount{}, nil)}},
			},
			workload: []trace.WorkloadEvent{
				{Time: 5, Payload: simevents.CreatePodRequest{Pod: simtypes.Pod{Name: "p1"}}},
			},
		}
		feeder.Load(bus, driver)
		bus.RunToCompletion(context.Background())

		Expect(apiServer.events).To(HaveLen(2))
		// pod event (t=5) is delivered before the node event (t=10).
		Expect(apiServer.events[0].Time).To(BeNumerically("==", 5.5))
		Expect(apiServer.events[1].Time).To(BeNumerically("==", 10.5))
	})

	It("mints initial_pod_count pods and registers the group with the HPA", func() {
		bus := eventbus.New()
		feeder := trace.New(0)
		apiServer := &recorder{}
		hpa := &recorder{}
		bus.Register(simevents.DestTrace, feeder)
		bus.Register(simevents.DestAPIServer, apiServer)
		bus.Register(simevents.DestHorizontalAutoscaler, hpa)

		group := simtypes.PodGroup{Name: "g1", InitialPodCount: 3, MaxPodCount: 10}
		driver := &fakeDriver{
			workload: []trace.WorkloadEvent{
				{Time: 0, Payload: simevents.CreatePodGroupRequest{PodGroup: group}},
			},
		}
		feeder.Load(bus, driver)
		bus.RunToCompletion(context.Background())

		Expect(apiServer.events).To(HaveLen(3))
		Expect(hpa.events).To(HaveLen(1))
		registered := hpa.events[0].Payload.(simevents.RegisterPodGroup).PodGroup
		Expect(registered.CreatedPods).To(Equal([]string{"g1_1", "g1_2", "g1_3"}))
		Expect(registered.TotalCreated).To(BeEquivalentTo(3))
	})
})

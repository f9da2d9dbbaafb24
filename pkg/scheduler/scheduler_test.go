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

package scheduler_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/jellythefish/kubernetriks/pkg/eventbus"
	"github.com/jellythefish/kubernetriks/pkg/scheduler"
	"github.com/jellythefish/kubernetriks/pkg/simevents"
	"github.com/jellythefish/kubernetriks/pkg/simtypes"
)

// captureHandler records every event delivered to it, for assertions
// against what the Scheduler emitted downstream.
type captureHandler struct {
	received []eventbus.Event
}

func (c *captureHandler) Handle(_ context.Context, _ *eventbus.Bus, ev eventbus.Event) {
	c.received = append(c.received, ev)
}

func newTestScheduler(bus *eventbus.Bus) (*scheduler.Scheduler, *captureHandler, *captureHandler) {
	recorder := simevents.NewRecorder(zap.NewNop().Sugar(), 0)
	s := scheduler.New(scheduler.DefaultConfig(), scheduler.NetworkDelays{SchedToAS: 0.01}, recorder)
	bus.Register(simevents.DestScheduler, s)

	apiServer := &captureHandler{}
	storage := &captureHandler{}
	bus.Register(simevents.DestAPIServer, apiServer)
	bus.Register(simevents.DestStorage, storage)
	bus.Register(simevents.DestMetrics, &captureHandler{})
	return s, apiServer, storage
}

var _ = Describe("Scheduler", func() {
	var bus *eventbus.Bus
	var ctx context.Context

	BeforeEach(func() {
		bus = eventbus.New()
		ctx = context.Background()
	})

	It("places a pod on the only feasible node once a scheduling cycle runs", func() {
		s, apiServer, _ := newTestScheduler(bus)
		s.Bootstrap(bus)

		node := *simtypes.NewNode("n1", simtypes.ResourceAmount{CPUMillicores: 1000, RAMBytes: 1024}, nil)
		bus.Emit(simevents.DestStorage, simevents.DestScheduler, simevents.NodeAddedToCache{Node: node}, 0)

		pod := simtypes.Pod{Name: "p1", Requests: simtypes.ResourceAmount{CPUMillicores: 100, RAMBytes: 100}}
		bus.Emit(simevents.DestStorage, simevents.DestScheduler, simevents.PodScheduleRequest{PodName: "p1", Pod: pod}, 0)

		bus.RunUntil(ctx, func(b *eventbus.Bus) bool {
			return len(apiServer.received) > 0
		})

		Expect(apiServer.received).To(HaveLen(1))
		req, ok := apiServer.received[0].Payload.(simevents.AssignPodToNodeRequest)
		Expect(ok).To(BeTrue())
		Expect(req.PodName).To(Equal("p1"))
		Expect(req.NodeName).To(Equal("n1"))
		Expect(s.ActiveQueueLen()).To(Equal(0))
		Expect(s.UnschedulableCount()).To(Equal(0))
	})

	It("moves an unplaceable pod to the unschedulable store and notifies storage", func() {
		s, _, storage := newTestScheduler(bus)
		s.Bootstrap(bus)

		pod := simtypes.Pod{Name: "p1", Requests: simtypes.ResourceAmount{CPUMillicores: 100, RAMBytes: 100}}
		bus.Emit(simevents.DestStorage, simevents.DestScheduler, simevents.PodScheduleRequest{PodName: "p1", Pod: pod}, 0)

		bus.RunUntil(ctx, func(b *eventbus.Bus) bool {
			return len(storage.received) > 0
		})

		Expect(storage.received).To(HaveLen(1))
		_, ok := storage.received[0].Payload.(simevents.PodNotScheduled)
		Expect(ok).To(BeTrue())
		Expect(s.UnschedulableCount()).To(Equal(1))
	})

	It("retries an unschedulable pod once a node becomes available", func() {
		s, apiServer, _ := newTestScheduler(bus)
		s.Bootstrap(bus)

		pod := simtypes.Pod{Name: "p1", Requests: simtypes.ResourceAmount{CPUMillicores: 100, RAMBytes: 100}}
		bus.Emit(simevents.DestStorage, simevents.DestScheduler, simevents.PodScheduleRequest{PodName: "p1", Pod: pod}, 0)
		bus.RunUntil(ctx, func(b *eventbus.Bus) bool { return s.UnschedulableCount() == 1 })

		node := *simtypes.NewNode("n1", simtypes.ResourceAmount{CPUMillicores: 1000, RAMBytes: 1024}, nil)
		bus.Emit(simevents.DestStorage, simevents.DestScheduler, simevents.NodeAddedToCache{Node: node}, 0.01)

		bus.RunUntil(ctx, func(b *eventbus.Bus) bool { return len(apiServer.received) > 0 })

		Expect(apiServer.received).To(HaveLen(1))
		Expect(s.UnschedulableCount()).To(Equal(0))
	})
})

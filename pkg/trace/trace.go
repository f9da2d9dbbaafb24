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

// Package trace defines the Trace Driver contract and the Feeder that
// loads a driver's precomputed event sequences onto the event bus before
// the engine starts stepping. Parsers for concrete trace formats (the YAML
// generic trace, the Alibaba cluster-trace-v2017 CSVs) live outside this
// module; the one driver shipped here is the synthetic generator in the
// sibling generator package.
package trace

import (
	"context"
	"fmt"

	"github.com/jellythefish/kubernetriks/pkg/eventbus"
	"github.com/jellythefish/kubernetriks/pkg/log"
	"github.com/jellythefish/kubernetriks/pkg/simevents"
)

// ClusterEvent is one (virtual_time, payload) entry of the cluster trace:
// payload is always a simevents.CreateNodeRequest or
// simevents.RemoveNodeRequest.
type ClusterEvent struct {
	Time float64
	Payload interface{}
}

// WorkloadEvent is one (virtual_time, payload) entry of the workload
// trace: payload is a simevents.CreatePodRequest,
// simevents.RemovePodRequest, or simevents.CreatePodGroupRequest.
type WorkloadEvent struct {
	Time float64
	Payload interface{}
}

// Driver is the Trace Driver contract: two sequences of
// (virtual_time, payload), each non-decreasing in time, plus the
// precomputed totals the Metrics Aggregator's counters are seeded with
// (total_nodes_in_trace/total_pods_in_trace).
type Driver interface {
	ClusterEvents() []ClusterEvent
	WorkloadEvents() []WorkloadEvent
	TotalNodesInTrace() uint64
	TotalPodsInTrace() uint64
}

// Feeder loads a Driver's event sequences onto the bus and, for
// CreatePodGroupRequest entries, mints the group's initial pods itself. It
// registers at simevents.DestTrace so minting happens inside a normal
// handler invocation rather than during setup, keeping the
// single-threaded handler-invocation discipline even for this one
// stateful step.
type Feeder struct {
	asToPS float64
}

// New returns a Feeder that forwards cluster/pod events to the API Server
// after the configured as_to_ps link delay, matching the delay every
// other API-Server-bound request incurs.
func New(asToPS float64) *Feeder {
	return &Feeder{asToPS: asToPS}
}

// Load enqueues every entry of both sequences for delivery to
// simevents.DestTrace at its recorded virtual time. Both the contract
// and Feeder's own FIFO-preserving use of bus.Emit require the
// sequences to already be non-decreasing in time; Load does not sort
// them.
func (f *Feeder) Load(bus *eventbus.Bus, driver Driver) {
	for _, ev := range driver.ClusterEvents() {
		bus.Emit(simevents.DestTrace, simevents.DestTrace, ev.Payload, ev.Time)
	}
	for _, ev := range driver.WorkloadEvents() {
		bus.Emit(simevents.DestTrace, simevents.DestTrace, ev.Payload, ev.Time)
	}
}

// Handle implements eventbus.Handler.
func (f *Feeder) Handle(ctx context.Context, bus *eventbus.Bus, ev eventbus.Event) {
	switch p := ev.Payload.(type) {
	case simevents.CreateNodeRequest:
		bus.Emit(simevents.DestTrace, simevents.DestAPIServer, p, f.asToPS)
	case simevents.RemoveNodeRequest:
		bus.Emit(simevents.DestTrace, simevents.DestAPIServer, p, f.asToPS)
	case simevents.CreatePodRequest:
		bus.Emit(simevents.DestTrace, simevents.DestAPIServer, p, f.asToPS)
	case simevents.RemovePodRequest:
		bus.Emit(simevents.DestTrace, simevents.DestAPIServer, p, f.asToPS)
	case simevents.CreatePodGroupRequest:
		f.onCreatePodGroup(bus, p)
	default:
		log.FromContext(ctx).Warnw("trace: unhandled event", "payload", fmt.Sprintf("%T", p))
	}
}

// onCreatePodGroup mints InitialPodCount pods from the group's template
// and forwards each as an ordinary CreatePodRequest, then registers
// the now-populated group with the Horizontal Pod Autoscaler.
func (f *Feeder) onCreatePodGroup(bus *eventbus.Bus, p simevents.CreatePodGroupRequest) {
	group := p.PodGroup
	for i := uint32(0); i < group.InitialPodCount; i++ {
		pod := group.MintPod()
		bus.Emit(simevents.DestTrace, simevents.DestAPIServer, simevents.CreatePodRequest{Pod: *pod}, f.asToPS)
	}
	bus.Emit(simevents.DestTrace, simevents.DestHorizontalAutoscaler, simevents.RegisterPodGroup{PodGroup: group}, 0)
}

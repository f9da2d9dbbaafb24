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

// Package apiserver implements the API Server component: the single
// ingress/egress for node and pod lifecycle traffic. It is a near-stateless
// relay in front of Persistent Storage, keeping only a pending-removals set
// and the registry mapping node names to their runtime slots.
package apiserver

import (
	"context"
	"fmt"

	"github.com/jellythefish/kubernetriks/pkg/eventbus"
	"github.com/jellythefish/kubernetriks/pkg/log"
	"github.com/jellythefish/kubernetriks/pkg/simevents"
)

// NetworkDelays holds the simulated link latencies the API Server needs to
// schedule its own emits.
type NetworkDelays struct {
	ASToPS float64
	ASToNode float64
	ASToScheduler float64
	ASToCA float64
}

// NodeAllocator hands out and reclaims node runtime slots from the
// preallocated pool; implemented by noderuntime.Pool.
type NodeAllocator interface {
	Allocate(nodeName string) (eventbus.Destination, error)
	Reclaim(nodeName string)
	Lookup(nodeName string) (eventbus.Destination, bool)
}

// APIServer is the API Server component.
type APIServer struct {
	delays NetworkDelays
	pool NodeAllocator

	pendingRemoval map[string]struct{}
	registry map[string]eventbus.Destination // node name -> runtime destination
	durations map[string]*float64 // pod name -> requested running duration, in flight between bind and ack
}

// New returns an API Server wired to the given node runtime pool.
func New(delays NetworkDelays, pool NodeAllocator) *APIServer {
	return &APIServer{
		delays: delays,
		pool: pool,
		pendingRemoval: map[string]struct{}{},
		registry: map[string]eventbus.Destination{},
		durations: map[string]*float64{},
	}
}

func (a *APIServer) Handle(ctx context.Context, bus *eventbus.Bus, ev eventbus.Event) {
	switch p := ev.Payload.(type) {
	case simevents.CreateNodeRequest:
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, p, a.delays.ASToPS)

	case simevents.CreateNodeAck:
		dest, err := a.pool.Allocate(p.NodeName)
		if err != nil {
			panic(fmt.Sprintf("apiserver: %v", err))
		}
		a.registry[p.NodeName] = dest
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.NodeAddedToCluster{NodeName: p.NodeName}, a.delays.ASToPS)

	case simevents.CreatePodRequest:
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, p, a.delays.ASToPS)

	case simevents.RemovePodRequest:
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, p, a.delays.ASToPS)

	case simevents.RemovePodAck:
		if dest, ok := a.registry[p.NodeName]; ok && p.NodeName != "" {
			bus.Emit(simevents.DestAPIServer, dest, simevents.RemovePodFromRuntime{PodName: p.PodName, NodeName: p.NodeName}, a.delays.ASToNode)
		}

	case simevents.AssignPodToNodeRequest:
		a.handleAssign(bus, p)

	case simevents.BindPodAck:
		duration := a.inFlightDurations()[p.PodName]
		delete(a.durations, p.PodName)
		dest, ok := a.registry[p.NodeName]
		if !ok {
			// The binding was persisted but the runtime vanished in between;
			// this cannot happen while the removal sequence below stays
			// ordered relative to bind traffic.
			panic(fmt.Sprintf("apiserver: bind ack for pod %q names unregistered node %q", p.PodName, p.NodeName))
		}
		bus.Emit(simevents.DestAPIServer, dest, simevents.BindPodToNodeRequest{
			PodName: p.PodName,
			NodeName: p.NodeName,
			Duration: duration,
		}, a.delays.ASToNode)

	case simevents.RemoveNodeRequest:
		a.pendingRemoval[p.NodeName] = struct{}{}
		bus.EmitOrdered(simevents.DestAPIServer, simevents.DestStorage, p, a.delays.ASToPS)

	case simevents.RemoveNodeAck:
		if dest, ok := a.registry[p.NodeName]; ok {
			bus.EmitOrdered(simevents.DestAPIServer, dest, simevents.RemoveNodeFromRuntime{NodeName: p.NodeName}, a.delays.ASToNode)
		}

	case simevents.NodeRemovedFromCluster:
		a.pool.Reclaim(p.NodeName)
		delete(a.registry, p.NodeName)
		delete(a.pendingRemoval, p.NodeName)
		bus.EmitOrdered(simevents.DestAPIServer, simevents.DestStorage, p, a.delays.ASToPS)

	case simevents.PodStartedRunning:
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, p, a.delays.ASToPS)

	case simevents.PodFinishedRunning:
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, p, a.delays.ASToPS)

	case simevents.ClusterAutoscalerInfoRequest:
		bus.Emit(simevents.DestAPIServer, simevents.DestStorage, p, a.delays.ASToPS)

	case simevents.ClusterAutoscalerInfoResponse:
		bus.Emit(simevents.DestAPIServer, simevents.DestClusterAutoscaler, p, a.delays.ASToCA)

	default:
		log.FromContext(ctx).Warnw("apiserver: unhandled event", "payload", fmt.Sprintf("%T", p))
	}
}

// handleAssign implements bind-request contract: a target node that
// is pending removal or was never registered is refused immediately so the
// scheduler can re-enqueue the pod; otherwise the
// request is durably persisted before the node runtime is told to start
// the pod.
func (a *APIServer) handleAssign(bus *eventbus.Bus, req simevents.AssignPodToNodeRequest) {
	if _, removing := a.pendingRemoval[req.NodeName]; removing {
		bus.Emit(simevents.DestAPIServer, simevents.DestScheduler, simevents.AssignPodToNodeResponse{
			PodName: req.PodName, NodeName: req.NodeName, Assigned: false,
		}, a.delays.ASToScheduler)
		return
	}
	if _, registered := a.registry[req.NodeName]; !registered {
		bus.Emit(simevents.DestAPIServer, simevents.DestScheduler, simevents.AssignPodToNodeResponse{
			PodName: req.PodName, NodeName: req.NodeName, Assigned: false,
		}, a.delays.ASToScheduler)
		return
	}
	a.pendingAssign(bus, req)
}

// pendingAssign stashes the duration alongside the bind request by routing
// it through storage first (to persist the binding) and re-attaching the
// duration once storage acks, since BindPodAck only round-trips pod/node
// names. A small in-flight map keeps that association.
func (a *APIServer) pendingAssign(bus *eventbus.Bus, req simevents.AssignPodToNodeRequest) {
	key := req.PodName
	a.inFlightDurations()[key] = req.Duration
	bus.Emit(simevents.DestAPIServer, simevents.DestStorage, simevents.BindPod{PodName: req.PodName, NodeName: req.NodeName}, a.delays.ASToPS)
	bus.Emit(simevents.DestAPIServer, simevents.DestScheduler, simevents.AssignPodToNodeResponse{
		PodName: req.PodName, NodeName: req.NodeName, Assigned: true,
	}, a.delays.ASToScheduler)
}

func (a *APIServer) inFlightDurations() map[string]*float64 {
	if a.durations == nil {
		a.durations = map[string]*float64{}
	}
	return a.durations
}

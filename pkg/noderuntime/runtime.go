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

// Package noderuntime implements the per-node actor: a runtime that
// simulates pod lifetime and exposes per-pod state for metrics sampling,
// plus a fixed-capacity pool of such actors registered on the bus before
// the simulation starts.
package noderuntime

import (
	"context"
	"fmt"
	"sort"

	"github.com/jellythefish/kubernetriks/pkg/eventbus"
	"github.com/jellythefish/kubernetriks/pkg/log"
	"github.com/jellythefish/kubernetriks/pkg/simevents"
)

// PodRuntimeInfo is the bookkeeping a runtime keeps per running pod: its
// name and the virtual time it started running. The Metrics Aggregator
// looks up the rest of a pod's details through Persistent Storage.
type PodRuntimeInfo struct {
	PodName string
	StartTime float64
}

// Runtime simulates one node's pod lifetime. A slot's Runtime is never nil;
// while the slot is free in the pool it is bound to no node and its node
// name is empty.
type Runtime struct {
	dest eventbus.Destination
	nodeName string
	delayToAS float64

	runningPods map[string]PodRuntimeInfo
	removed bool
}

func newRuntime(dest eventbus.Destination, delayToAS float64) *Runtime {
	return &Runtime{
		dest: dest,
		delayToAS: delayToAS,
		runningPods: map[string]PodRuntimeInfo{},
	}
}

func (r *Runtime) reset(nodeName string) {
	r.nodeName = nodeName
	r.runningPods = map[string]PodRuntimeInfo{}
	r.removed = false
}

// RunningPods returns a snapshot of pods currently running on this node,
// for the Metrics Aggregator's per-group sampling. The Aggregator
// reads this directly inside its own handler invocation, which is race-free
// because the whole engine is single-threaded.
func (r *Runtime) RunningPods() map[string]PodRuntimeInfo {
	return r.runningPods
}

// NodeName returns the node name currently bound to this runtime slot, or
// "" if the slot is free.
func (r *Runtime) NodeName() string {
	return r.nodeName
}

// Handle implements eventbus.Handler for this node's bus slot.
func (r *Runtime) Handle(ctx context.Context, bus *eventbus.Bus, ev eventbus.Event) {
	switch p := ev.Payload.(type) {
	case simevents.BindPodToNodeRequest:
		r.bind(ctx, bus, p)
	case simevents.RemoveNodeFromRuntime:
		r.remove(ctx, bus, p)
	case simevents.RemovePodFromRuntime:
		// Explicitly removed from storage already; no terminal event owed.
		if p.NodeName == r.nodeName {
			delete(r.runningPods, p.PodName)
		}
	case simevents.PodFinishedRunning:
		// A finish event scheduled before removal (of the node or of the
		// pod itself), delivered after: the pod was already failed out or
		// dropped, so the now-redundant completion is discarded.
		if r.removed {
			return
		}
		info, ok := r.runningPods[p.PodName]
		if !ok {
			return
		}
		p.StartTime = info.StartTime
		delete(r.runningPods, p.PodName)
		bus.Emit(ev.Dest, simevents.DestAPIServer, p, r.delayToAS)
	default:
		log.FromContext(ctx).Warnw("noderuntime: unhandled event", "payload", fmt.Sprintf("%T", p))
	}
}

func (r *Runtime) bind(_ context.Context, bus *eventbus.Bus, req simevents.BindPodToNodeRequest) {
	if req.NodeName != r.nodeName {
		panic(fmt.Sprintf("noderuntime: bind for node %q delivered to runtime bound to %q", req.NodeName, r.nodeName))
	}
	startTime := bus.Now()
	r.runningPods[req.PodName] = PodRuntimeInfo{PodName: req.PodName, StartTime: startTime}
	bus.Emit(r.currentDest(), simevents.DestAPIServer, simevents.PodStartedRunning{PodName: req.PodName, NodeName: req.NodeName}, r.delayToAS)
	if req.Duration != nil {
		// Self-addressed at the finish instant (not finish+delayToAS): the
		// removed-check in Handle's PodFinishedRunning case must run at the
		// pod's actual finish time, with the as_to_node delay charged only
		// once, on the subsequent forward to the API Server.
		bus.Emit(r.currentDest(), r.currentDest(), simevents.PodFinishedRunning{
			PodName: req.PodName,
			NodeName: req.NodeName,
			Outcome: simevents.PodOutcomeSucceeded,
			StartTime: startTime,
		}, *req.Duration)
	}
}

// remove marks the runtime removed, fails out every still-running pod
// explicitly, and acknowledges removal.
func (r *Runtime) remove(_ context.Context, bus *eventbus.Bus, req simevents.RemoveNodeFromRuntime) {
	r.removed = true
	podNames := make([]string, 0, len(r.runningPods))
	for podName := range r.runningPods {
		podNames = append(podNames, podName)
	}
	sort.Strings(podNames)
	for _, podName := range podNames {
		info := r.runningPods[podName]
		bus.Emit(r.currentDest(), simevents.DestAPIServer, simevents.PodFinishedRunning{
			PodName: podName,
			NodeName: req.NodeName,
			Outcome: simevents.PodOutcomeFailed,
			StartTime: info.StartTime,
		}, r.delayToAS)
	}
	r.runningPods = map[string]PodRuntimeInfo{}
	bus.EmitOrdered(r.currentDest(), simevents.DestAPIServer, simevents.NodeRemovedFromCluster{NodeName: req.NodeName}, r.delayToAS)
}

func (r *Runtime) currentDest() eventbus.Destination {
	return r.dest
}

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

// Package storage implements the Persistent Storage component: the
// authoritative in-memory state of nodes, pods and assignments. Every
// mutation arrives as an event from the API Server or the scheduler, and
// the cluster autoscaler's periodic info requests are answered from here.
package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/jellythefish/kubernetriks/pkg/eventbus"
	"github.com/jellythefish/kubernetriks/pkg/log"
	"github.com/jellythefish/kubernetriks/pkg/simevents"
	"github.com/jellythefish/kubernetriks/pkg/simtypes"
)

// NetworkDelays holds the simulated one-way link latencies this component
// needs to schedule its own emits, taken from the engine configuration. The
// as_to_ps link is bidirectional: acks back to the API Server charge it too.
type NetworkDelays struct {
	PSToScheduler float64
	PSToAPIServer float64
}

// Storage is the Persistent Storage component.
type Storage struct {
	delays NetworkDelays

	nodes map[string]*simtypes.Node
	pods map[string]*simtypes.Pod
	assignments simtypes.Assignment

	succeededPods map[string]struct{}
	unscheduledPodCache map[string]struct{}
}

// New returns an empty Persistent Storage.
func New(delays NetworkDelays) *Storage {
	return &Storage{
		delays: delays,
		nodes: map[string]*simtypes.Node{},
		pods: map[string]*simtypes.Pod{},
		assignments: simtypes.NewAssignment(),
		succeededPods: map[string]struct{}{},
		unscheduledPodCache: map[string]struct{}{},
	}
}

// Handle implements eventbus.Handler.
func (s *Storage) Handle(ctx context.Context, bus *eventbus.Bus, ev eventbus.Event) {
	switch p := ev.Payload.(type) {
	case simevents.CreateNodeRequest:
		s.addNode(ctx, bus, p.Node)
	case simevents.NodeAddedToCluster:
		s.nodeAddedToCluster(bus, p.NodeName)
	case simevents.RemoveNodeRequest:
		s.removeNode(ctx, bus, p.NodeName)
	case simevents.NodeRemovedFromCluster:
		s.nodeRemovedFromCluster(bus, p.NodeName)
	case simevents.CreatePodRequest:
		s.addPod(ctx, bus, p.Pod, bus.Now())
	case simevents.RemovePodRequest:
		s.removePod(ctx, bus, p.PodName)
	case simevents.BindPod:
		s.bindPod(ctx, bus, p.PodName, p.NodeName, bus.Now())
	case simevents.PodNotScheduled:
		s.podNotScheduled(bus, p.PodName, bus.Now())
	case simevents.PodStartedRunning:
		s.podStartedRunning(p.PodName, bus.Now())
	case simevents.PodFinishedRunning:
		s.podFinishedRunning(ctx, bus, p)
	case simevents.ClusterAutoscalerInfoRequest:
		s.handleInfoRequest(bus, p)
	default:
		log.FromContext(ctx).Warnw("storage: unhandled event", "payload", fmt.Sprintf("%T", p))
	}
}

func (s *Storage) addNode(ctx context.Context, bus *eventbus.Bus, n simtypes.Node) {
	if _, exists := s.nodes[n.Name]; exists {
		// Duplicate insertion is a programmer error, not a simulated
		// condition (Invariant violation).
		panic(fmt.Sprintf("storage: duplicate node %q", n.Name))
	}
	node := n.DeepCopy()
	s.nodes[node.Name] = node
	log.FromContext(ctx).Infow("storage: node added", "node", node.Name)
	bus.Emit(simevents.DestStorage, simevents.DestAPIServer, simevents.CreateNodeAck{NodeName: node.Name}, s.delays.PSToAPIServer)
}

// nodeAddedToCluster runs once the API Server has allocated the node's
// runtime: only now is the node stamped Created and advertised to the
// scheduler's mirror, so the scheduler can never bind to a node whose
// runtime does not exist yet.
func (s *Storage) nodeAddedToCluster(bus *eventbus.Bus, name string) {
	node, ok := s.nodes[name]
	if !ok {
		return
	}
	node.Conditions.Set(simtypes.ConditionCreated, simtypes.ConditionTrue, bus.Now())
	bus.Emit(simevents.DestStorage, simevents.DestScheduler, simevents.NodeAddedToCache{Node: *node.DeepCopy()}, s.delays.PSToScheduler)
	bus.Emit(simevents.DestStorage, simevents.DestMetrics, simevents.NodeProcessed{}, 0)
}

func (s *Storage) removeNode(ctx context.Context, bus *eventbus.Bus, name string) {
	node, ok := s.nodes[name]
	if !ok {
		// The node may have already been removed by a racing path; removal
		// is idempotent at the storage layer.
		bus.Emit(simevents.DestStorage, simevents.DestAPIServer, simevents.RemoveNodeAck{NodeName: name}, s.delays.PSToAPIServer)
		return
	}
	node.Conditions.Set(simtypes.ConditionRemoved, simtypes.ConditionTrue, bus.Now())
	delete(s.nodes, name)
	s.assignments.RemoveNode(name)
	log.FromContext(ctx).Infow("storage: node removed", "node", name)
	bus.Emit(simevents.DestStorage, simevents.DestAPIServer, simevents.RemoveNodeAck{NodeName: name}, s.delays.PSToAPIServer)
}

// nodeRemovedFromCluster runs once the node runtime has acknowledged its
// removal; the scheduler's mirror is pruned only now, so that its view
// never drops a node whose runtime is still accepting binds.
func (s *Storage) nodeRemovedFromCluster(bus *eventbus.Bus, name string) {
	bus.Emit(simevents.DestStorage, simevents.DestScheduler, simevents.RemoveNodeFromCache{NodeName: name}, s.delays.PSToScheduler)
}

func (s *Storage) addPod(_ context.Context, bus *eventbus.Bus, p simtypes.Pod, now float64) {
	if _, exists := s.pods[p.Name]; exists {
		panic(fmt.Sprintf("storage: duplicate pod %q", p.Name))
	}
	pod := p.DeepCopy()
	pod.Conditions.Set(simtypes.ConditionCreated, simtypes.ConditionTrue, now)
	s.pods[pod.Name] = pod
	bus.Emit(simevents.DestStorage, simevents.DestScheduler, simevents.PodScheduleRequest{PodName: pod.Name, Pod: *pod.DeepCopy()}, s.delays.PSToScheduler)
}

func (s *Storage) removePod(_ context.Context, bus *eventbus.Bus, name string) {
	pod, ok := s.pods[name]
	if !ok {
		return
	}
	if pod.AssignedNode != "" {
		if node, ok := s.nodes[pod.AssignedNode]; ok {
			node.Release(pod.Requests)
		}
		s.assignments.Remove(pod.AssignedNode, name)
	}
	delete(s.pods, name)
	delete(s.unscheduledPodCache, name)
	bus.Emit(simevents.DestStorage, simevents.DestAPIServer, simevents.RemovePodAck{PodName: name, NodeName: pod.AssignedNode}, s.delays.PSToAPIServer)
	bus.Emit(simevents.DestStorage, simevents.DestScheduler, simevents.ReleasePodFromCache{PodName: name, NodeName: pod.AssignedNode}, s.delays.PSToScheduler)
	bus.Emit(simevents.DestStorage, simevents.DestMetrics, simevents.PodRemovedObserved{}, 0)
}

// bindPod binds a scheduled pod to a node, recording the reservation.
func (s *Storage) bindPod(_ context.Context, bus *eventbus.Bus, podName, nodeName string, now float64) {
	pod, ok := s.pods[podName]
	if !ok {
		// Removed (pod-group scale-down) while the bind was in flight.
		return
	}
	node, ok := s.nodes[nodeName]
	if !ok {
		panic(fmt.Sprintf("storage: binding pod %q to non-existing node %q", podName, nodeName))
	}
	pod.Conditions.Set(simtypes.ConditionScheduled, simtypes.ConditionTrue, now)
	pod.AssignedNode = nodeName
	node.Reserve(pod.Requests)
	s.assignments.Add(nodeName, podName)
	if _, wasUnschedulable := s.unscheduledPodCache[podName]; wasUnschedulable {
		delete(s.unscheduledPodCache, podName)
		bus.Emit(simevents.DestStorage, simevents.DestMetrics, simevents.PodUnschedulableResolved{}, 0)
	}
	bus.Emit(simevents.DestStorage, simevents.DestAPIServer, simevents.BindPodAck{PodName: podName, NodeName: nodeName}, s.delays.PSToAPIServer)
}

func (s *Storage) podStartedRunning(podName string, now float64) {
	pod, ok := s.pods[podName]
	if !ok {
		return
	}
	pod.Conditions.Set(simtypes.ConditionRunning, simtypes.ConditionTrue, now)
}

func (s *Storage) podNotScheduled(bus *eventbus.Bus, podName string, now float64) {
	pod, ok := s.pods[podName]
	if !ok {
		return
	}
	pod.Conditions.Set(simtypes.ConditionScheduled, simtypes.ConditionFalse, now)
	_, alreadyUnschedulable := s.unscheduledPodCache[podName]
	s.unscheduledPodCache[podName] = struct{}{}
	if !alreadyUnschedulable {
		bus.Emit(simevents.DestStorage, simevents.DestMetrics, simevents.PodUnschedulableObserved{}, 0)
	}
}

// podFinishedRunning implements best-effort release: if the node was
// already removed, the release is silently skipped. A Succeeded outcome is
// terminal; a Failed outcome means the node was removed underneath a
// still-running pod, so the pod survives in storage and goes back through
// the scheduler to land on a surviving node.
func (s *Storage) podFinishedRunning(ctx context.Context, bus *eventbus.Bus, p simevents.PodFinishedRunning) {
	pod, ok := s.pods[p.PodName]
	if !ok {
		return
	}
	if node, ok := s.nodes[p.NodeName]; ok {
		node.Release(pod.Requests)
	} else {
		log.FromContext(ctx).Debugw("storage: late release skipped, node already gone", "pod", p.PodName, "node", p.NodeName)
	}
	s.assignments.Remove(p.NodeName, p.PodName)
	bus.Emit(simevents.DestStorage, simevents.DestMetrics, simevents.PodOutcomeObserved{
		Outcome: p.Outcome,
		DurationSeconds: bus.Now() - p.StartTime,
	}, 0)

	if p.Outcome == simevents.PodOutcomeFailed {
		pod.AssignedNode = ""
		bus.Emit(simevents.DestStorage, simevents.DestScheduler, simevents.PodScheduleRequest{PodName: pod.Name, Pod: *pod.DeepCopy()}, s.delays.PSToScheduler)
		return
	}

	s.succeededPods[p.PodName] = struct{}{}
	delete(s.pods, p.PodName)
	bus.Emit(simevents.DestStorage, simevents.DestScheduler, simevents.ReleasePodFromCache{PodName: p.PodName, NodeName: p.NodeName}, s.delays.PSToScheduler)
}

// handleInfoRequest answers a ClusterAutoscalerInfoRequest, honoring the
// info_request_type hint as an optimization that never changes the
// Auto-hint behavior.
func (s *Storage) handleInfoRequest(bus *eventbus.Bus, req simevents.ClusterAutoscalerInfoRequest) {
	wantScaleUp := req.Hint == simevents.InfoRequestAuto || req.Hint == simevents.InfoRequestScaleUpOnly || req.Hint == simevents.InfoRequestBoth
	wantScaleDown := req.Hint == simevents.InfoRequestAuto || req.Hint == simevents.InfoRequestScaleDownOnly || req.Hint == simevents.InfoRequestBoth

	resp := simevents.ClusterAutoscalerInfoResponse{}
	if len(s.unscheduledPodCache) > 0 {
		if wantScaleUp {
			unscheduled := make(map[string]simtypes.Pod, len(s.unscheduledPodCache))
			for name := range s.unscheduledPodCache {
				if pod, ok := s.pods[name]; ok {
					unscheduled[name] = *pod.DeepCopy()
				}
			}
			resp.ScaleUp = &simevents.ScaleUpInfo{UnscheduledPods: unscheduled}
		}
	} else if wantScaleDown {
		resp.ScaleDown = lo.ToPtr(s.scaleDownSnapshot())
	}
	bus.Emit(simevents.DestStorage, simevents.DestAPIServer, resp, s.delays.PSToAPIServer)
}

func (s *Storage) scaleDownSnapshot() simevents.ScaleDownInfo {
	// Nodes must be visited in a deterministic order -- map iteration order
	// is randomized in Go, and this order drives the scale-down algorithm's
	// candidate selection.
	names := lo.Keys(s.nodes)
	sort.Strings(names)

	var nodes []simtypes.Node
	podsOnNodes := map[string]simtypes.Pod{}
	assignments := map[string][]string{}
	for _, name := range names {
		n := s.nodes[name]
		if !n.IsAutoscaled() {
			continue
		}
		nodes = append(nodes, *n.DeepCopy())
		podNames := s.assignments.PodsOn(name)
		sort.Strings(podNames)
		assignments[name] = podNames
		for _, podName := range podNames {
			if pod, ok := s.pods[podName]; ok {
				podsOnNodes[podName] = *pod.DeepCopy()
			}
		}
	}
	return simevents.ScaleDownInfo{Nodes: nodes, PodsOnAutoscaledNodes: podsOnNodes, Assignments: assignments}
}

// --- read accessors used by tests and by the simulator's invariant checks ---

func (s *Storage) Node(name string) (*simtypes.Node, bool) {
	n, ok := s.nodes[name]
	return n, ok
}

func (s *Storage) Pod(name string) (*simtypes.Pod, bool) {
	p, ok := s.pods[name]
	return p, ok
}

func (s *Storage) Assignments() simtypes.Assignment {
	return s.assignments
}

func (s *Storage) NodeCount() int {
	return len(s.nodes)
}

func (s *Storage) PodCount() int {
	return len(s.pods)
}

func (s *Storage) SucceededPodCount() int {
	return len(s.succeededPods)
}

func (s *Storage) ForEachNode(f func(*simtypes.Node)) {
	for _, n := range s.nodes {
		f(n)
	}
}

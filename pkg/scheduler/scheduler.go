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

package scheduler

import (
	"context"
	"fmt"

	"github.com/patrickmn/go-cache"

	"github.com/jellythefish/kubernetriks/pkg/eventbus"
	"github.com/jellythefish/kubernetriks/pkg/log"
	"github.com/jellythefish/kubernetriks/pkg/simevents"
	"github.com/jellythefish/kubernetriks/pkg/simtypes"
)

// NetworkDelays holds the one-way link latencies the Scheduler charges on
// its own emits.
type NetworkDelays struct {
	SchedToAS float64
}

// Config holds the scheduler's tunables.
type Config struct {
	SchedulingCycleInterval float64
	PodFlushInterval float64
	MaxUnschedulableDuration float64
	// EnableConditionalMove gates the optimization; when false, pods
	// only ever leave the unschedulable store on the periodic flush tick.
	EnableConditionalMove bool
}

// DefaultConfig returns the tunables used when the engine configuration
// leaves this component unconfigured.
func DefaultConfig() Config {
	return Config{
		SchedulingCycleInterval: 1.0,
		PodFlushInterval: 30.0,
		MaxUnschedulableDuration: 300.0,
		EnableConditionalMove: true,
	}
}

// internal self-addressed tick payloads, never routed to any other
// component and so deliberately not part of package simevents.
type tickSchedulingCycle struct{}
type tickPodFlush struct{}

// Scheduler is the Scheduler component: a local mirror of nodes and
// pods kept warm by events pushed from Persistent Storage, an active queue
// and an unschedulable store, and a pluggable filter/score Algorithm.
type Scheduler struct {
	cfg Config
	delays NetworkDelays

	profiles map[string]Profile
	algorithm Algorithm
	computeModel ComputeTimeModel
	recorder simevents.Recorder

	nodeCache *cache.Cache // name -> *simtypes.Node
	podCache *cache.Cache // name -> *simtypes.Pod

	active ActiveQueue
	unschedulable *UnschedulableStore

	// inFlight holds queue entries whose AssignPodToNodeRequest is awaiting
	// the API Server's response, keyed by pod name, so a refused placement
	// re-enqueues the pod without losing its attempts count.
	inFlight map[string]Entry
}

// New returns a Scheduler with DefaultProfile registered under
// DefaultProfileName, and the default least-allocated algorithm/compute-time
// model.
func New(cfg Config, delays NetworkDelays, recorder simevents.Recorder) *Scheduler {
	return &Scheduler{
		cfg: cfg,
		delays: delays,
		profiles: map[string]Profile{DefaultProfileName: DefaultProfile()},
		algorithm: DefaultAlgorithm{},
		computeModel: ConstantTimePerNodeModel{ConstantTimePerNode: 0.000001},
		recorder: recorder,
		nodeCache: cache.New(cache.NoExpiration, cache.NoExpiration),
		podCache: cache.New(cache.NoExpiration, cache.NoExpiration),
		unschedulable: NewUnschedulableStore(),
		inFlight: map[string]Entry{},
	}
}

// RegisterProfile adds or replaces a named filter/score profile, selected
// by pods via Pod.SchedulerName.
func (s *Scheduler) RegisterProfile(p Profile) {
	s.profiles[p.Name] = p
}

// SetAlgorithm overrides the default placement algorithm.
func (s *Scheduler) SetAlgorithm(a Algorithm) {
	s.algorithm = a
}

// SetComputeTimeModel overrides the default synthetic compute-cost model.
func (s *Scheduler) SetComputeTimeModel(m ComputeTimeModel) {
	s.computeModel = m
}

// Bootstrap schedules the first scheduling-cycle and pod-flush ticks. Must
// be called once before the bus starts running.
func (s *Scheduler) Bootstrap(bus *eventbus.Bus) {
	bus.Emit(simevents.DestScheduler, simevents.DestScheduler, tickSchedulingCycle{}, s.cfg.SchedulingCycleInterval)
	bus.Emit(simevents.DestScheduler, simevents.DestScheduler, tickPodFlush{}, s.cfg.PodFlushInterval)
}

// Handle implements eventbus.Handler.
func (s *Scheduler) Handle(ctx context.Context, bus *eventbus.Bus, ev eventbus.Event) {
	switch p := ev.Payload.(type) {
	case simevents.PodScheduleRequest:
		s.onPodScheduleRequest(bus, p)
	case simevents.NodeAddedToCache:
		s.onNodeAdded(bus, p)
	case simevents.RemoveNodeFromCache:
		s.onNodeRemoved(p)
	case simevents.ReleasePodFromCache:
		s.onPodReleased(bus, p)
	case simevents.AssignPodToNodeResponse:
		s.onAssignResponse(ctx, bus, p)
	case tickSchedulingCycle:
		s.runSchedulingCycle(ctx, bus)
	case tickPodFlush:
		s.runPodFlush(ctx, bus)
	default:
		log.FromContext(ctx).Warnw("scheduler: unhandled event", "payload", fmt.Sprintf("%T", p))
	}
}

func (s *Scheduler) onPodScheduleRequest(bus *eventbus.Bus, p simevents.PodScheduleRequest) {
	pod := p.Pod
	s.podCache.Set(p.PodName, &pod, cache.NoExpiration)
	s.active.PushBack(Entry{
		EnqueueTimestamp: bus.Now(),
		FirstAttemptTimestamp: bus.Now(),
		PodName: p.PodName,
	})
}

func (s *Scheduler) onNodeAdded(bus *eventbus.Bus, p simevents.NodeAddedToCache) {
	node := p.Node
	s.nodeCache.Set(p.Node.Name, &node, cache.NoExpiration)
	if s.cfg.EnableConditionalMove {
		s.moveAllUnschedulableBackToActive(bus.Now())
	}
}

func (s *Scheduler) onNodeRemoved(p simevents.RemoveNodeFromCache) {
	s.nodeCache.Delete(p.NodeName)
}

func (s *Scheduler) onPodReleased(bus *eventbus.Bus, p simevents.ReleasePodFromCache) {
	// Mirror the release Persistent Storage already applied to its own
	// Allocatable, so a stale reservation here doesn't block a placement
	// that the authoritative state would actually accept.
	if pod, ok := s.podEntry(p.PodName); ok {
		if node, ok := s.nodeEntry(p.NodeName); ok {
			node.Release(pod.Requests)
		}
	}
	s.podCache.Delete(p.PodName)
	if s.cfg.EnableConditionalMove {
		s.moveAllUnschedulableBackToActive(bus.Now())
	}
}

func (s *Scheduler) onAssignResponse(ctx context.Context, bus *eventbus.Bus, p simevents.AssignPodToNodeResponse) {
	entry, ok := s.inFlight[p.PodName]
	delete(s.inFlight, p.PodName)
	if p.Assigned {
		s.recorder.Publish(simevents.PodScheduled(p.PodName, p.NodeName))
		return
	}
	// The API Server refused a placement that looked valid in our mirror
	// (the node was mid-removal or its runtime vanished): release the
	// mirror reservation and re-enqueue the pod to the active queue.
	log.FromContext(ctx).Debugw("scheduler: placement refused by api server", "pod", p.PodName, "node", p.NodeName)
	if pod, found := s.podEntry(p.PodName); found {
		if node, found := s.nodeEntry(p.NodeName); found {
			node.Release(pod.Requests)
		}
		pod.AssignedNode = ""
	} else {
		// Removed while the request was in flight; nothing to retry.
		return
	}
	if !ok {
		entry = Entry{FirstAttemptTimestamp: bus.Now(), PodName: p.PodName}
	}
	entry.EnqueueTimestamp = bus.Now()
	s.active.PushBack(entry)
}

// moveAllUnschedulableBackToActive implements the conditional-move
// optimization: rather than re-evaluate feasibility here (that's the
// algorithm's job), every unschedulable pod is given another chance on the
// next scheduling cycle.
func (s *Scheduler) moveAllUnschedulableBackToActive(now float64) {
	for _, e := range s.unschedulable.DrainAll() {
		e.EnqueueTimestamp = now
		s.active.PushBack(e)
	}
}

func (s *Scheduler) nodeEntry(name string) (*simtypes.Node, bool) {
	v, ok := s.nodeCache.Get(name)
	if !ok {
		return nil, false
	}
	return v.(*simtypes.Node), true
}

func (s *Scheduler) podEntry(name string) (*simtypes.Pod, bool) {
	v, ok := s.podCache.Get(name)
	if !ok {
		return nil, false
	}
	return v.(*simtypes.Pod), true
}

func (s *Scheduler) snapshotNodes() map[string]*simtypes.Node {
	items := s.nodeCache.Items()
	out := make(map[string]*simtypes.Node, len(items))
	for name, item := range items {
		out[name] = item.Object.(*simtypes.Node)
	}
	return out
}

func (s *Scheduler) profileFor(pod *simtypes.Pod) Profile {
	name := pod.SchedulerName
	if name == "" {
		name = DefaultProfileName
	}
	if p, ok := s.profiles[name]; ok {
		return p
	}
	return s.profiles[DefaultProfileName]
}

// runSchedulingCycle implements per-cycle drain-and-place pass: the
// active queue is fully drained, each pod is run through the algorithm
// against the current node mirror, and every attempt -- success or failure
// -- adds its synthetic compute cost to a running total. Each placement's
// AssignPodToNodeRequest is delayed by that running total plus sched_to_as,
// so a cycle that places many pods fans its API Server traffic out over
// (near-)simulated time instead of delivering it all at once; a
// PodNotScheduled report is delayed by sched_to_as alone.
func (s *Scheduler) runSchedulingCycle(ctx context.Context, bus *eventbus.Bus) {
	entries := s.active.DrainAll()
	nodes := s.snapshotNodes()
	var cumulativeCost float64

	for _, e := range entries {
		pod, ok := s.podEntry(e.PodName)
		if !ok {
			// Removed between enqueue and this cycle; drop silently.
			continue
		}
		e.Attempts++
		cumulativeCost += s.computeModel.SimulateTime(pod, len(nodes))

		nodeName, err := s.algorithm.ScheduleOne(pod, nodes, s.profileFor(pod))
		if err != nil {
			e.EnqueueTimestamp = bus.Now()
			s.unschedulable.Put(e)
			s.recorder.Publish(simevents.PodFailedToSchedule(e.PodName, err.Error()))
			bus.Emit(simevents.DestScheduler, simevents.DestStorage, simevents.PodNotScheduled{
				PodName: e.PodName,
				Reason: err.Error(),
			}, s.delays.SchedToAS)
			continue
		}

		node := nodes[nodeName]
		node.Reserve(pod.Requests)
		pod.AssignedNode = nodeName
		s.inFlight[e.PodName] = e
		log.FromContext(ctx).Debugw("scheduler: placed pod", "pod", e.PodName, "node", nodeName, "attempts", e.Attempts)

		bus.Emit(simevents.DestScheduler, simevents.DestMetrics, simevents.PodSchedulingLatencyObserved{
			QueueTimeSeconds: bus.Now() - e.EnqueueTimestamp,
			SchedulingAlgorithmLatencySeconds: cumulativeCost,
		}, 0)

		var duration *float64
		if pod.RunningDuration != nil {
			d := *pod.RunningDuration
			duration = &d
		}
		bus.Emit(simevents.DestScheduler, simevents.DestAPIServer, simevents.AssignPodToNodeRequest{
			PodName: e.PodName,
			NodeName: nodeName,
			Duration: duration,
		}, cumulativeCost+s.delays.SchedToAS)
	}

	next := s.cfg.SchedulingCycleInterval
	if cumulativeCost > next {
		next = cumulativeCost
	}
	bus.Emit(simevents.DestScheduler, simevents.DestScheduler, tickSchedulingCycle{}, next)
}

// runPodFlush implements periodic sweep of the unschedulable store:
// entries older than MaxUnschedulableDuration are moved back to active with
// a fresh enqueue timestamp, regardless of EnableConditionalMove.
func (s *Scheduler) runPodFlush(ctx context.Context, bus *eventbus.Bus) {
	now := bus.Now()
	moved := 0
	for _, e := range s.unschedulable.Ordered() {
		if now-e.EnqueueTimestamp < s.cfg.MaxUnschedulableDuration {
			continue
		}
		s.unschedulable.Remove(e.PodName)
		e.EnqueueTimestamp = now
		s.active.PushBack(e)
		moved++
	}
	if moved > 0 {
		log.FromContext(ctx).Debugw("scheduler: flushed unschedulable pods back to active", "count", moved)
	}
	bus.Emit(simevents.DestScheduler, simevents.DestScheduler, tickPodFlush{}, s.cfg.PodFlushInterval)
}

// ActiveQueueLen and UnschedulableCount expose queue depth for tests.
func (s *Scheduler) ActiveQueueLen() int { return s.active.Len() }
func (s *Scheduler) UnschedulableCount() int { return s.unschedulable.Len() }

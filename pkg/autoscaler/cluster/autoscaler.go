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

package cluster

import (
	"context"
	"fmt"

	"github.com/jellythefish/kubernetriks/pkg/eventbus"
	"github.com/jellythefish/kubernetriks/pkg/log"
	"github.com/jellythefish/kubernetriks/pkg/simevents"
	"github.com/jellythefish/kubernetriks/pkg/simtypes"
)

// NetworkDelays holds the one-way link latencies this component charges on
// its own emits.
type NetworkDelays struct {
	CAToAS float64
}

// Config holds the autoscaler's polling cadence.
type Config struct {
	ScanInterval float64
}

func DefaultConfig() Config {
	return Config{ScanInterval: 10.0}
}

type tickScan struct{}

// Autoscaler is the Cluster Autoscaler component: on a fixed
// cadence it asks Persistent Storage for a cluster snapshot and runs
// Algorithm against it, turning the result into CreateNodeRequest/
// RemoveNodeRequest emits to the API Server.
type Autoscaler struct {
	cfg Config
	delays NetworkDelays
	algorithm Algorithm
	groups map[string]*simtypes.NodeGroup
	recorder simevents.Recorder

	// scanStart is the virtual time the in-flight scan's info request was
	// emitted, used to charge the round trip against the next tick's delay.
	scanStart float64
}

// New returns an Autoscaler owning groups (by name); groups is retained,
// not copied, since MintNode/CurrentCount bookkeeping must persist across
// scans.
func New(cfg Config, delays NetworkDelays, algorithm Algorithm, groups map[string]*simtypes.NodeGroup, recorder simevents.Recorder) *Autoscaler {
	return &Autoscaler{cfg: cfg, delays: delays, algorithm: algorithm, groups: groups, recorder: recorder}
}

// Bootstrap schedules the first scan tick.
func (a *Autoscaler) Bootstrap(bus *eventbus.Bus) {
	bus.Emit(simevents.DestClusterAutoscaler, simevents.DestClusterAutoscaler, tickScan{}, a.cfg.ScanInterval)
}

// GroupCurrentCount returns a node group's live node count, or -1 for an
// unknown group.
func (a *Autoscaler) GroupCurrentCount(name string) int {
	g, ok := a.groups[name]
	if !ok {
		return -1
	}
	return int(g.CurrentCount)
}

func (a *Autoscaler) Handle(ctx context.Context, bus *eventbus.Bus, ev eventbus.Event) {
	switch p := ev.Payload.(type) {
	case tickScan:
		a.onScan(bus)
	case simevents.ClusterAutoscalerInfoResponse:
		a.onInfoResponse(ctx, bus, p)
	default:
		log.FromContext(ctx).Warnw("cluster autoscaler: unhandled event", "payload", fmt.Sprintf("%T", p))
	}
}

func (a *Autoscaler) onScan(bus *eventbus.Bus) {
	a.scanStart = bus.Now()
	bus.Emit(simevents.DestClusterAutoscaler, simevents.DestAPIServer, simevents.ClusterAutoscalerInfoRequest{
		Hint: a.algorithm.InfoRequestType(),
	}, a.delays.CAToAS)
}

func (a *Autoscaler) onInfoResponse(ctx context.Context, bus *eventbus.Bus, resp simevents.ClusterAutoscalerInfoResponse) {
	if resp.ScaleUp != nil {
		for _, action := range a.algorithm.ScaleUp(a.groups, *resp.ScaleUp) {
			log.FromContext(ctx).Infow("cluster autoscaler: scaling up", "node", action.Node.Name, "node_group", action.Node.NodeGroupName())
			bus.Emit(simevents.DestClusterAutoscaler, simevents.DestAPIServer, simevents.CreateNodeRequest{Node: action.Node}, a.delays.CAToAS)
			bus.Emit(simevents.DestClusterAutoscaler, simevents.DestMetrics, simevents.ScaleActionObserved{Kind: simevents.ScaleUpNode}, 0)
		}
	} else if resp.ScaleDown != nil {
		for _, action := range a.algorithm.ScaleDown(a.groups, *resp.ScaleDown) {
			a.recorder.Publish(simevents.NodeRemoved(action.NodeName, "scaled down by cluster autoscaler: utilization below threshold"))
			bus.Emit(simevents.DestClusterAutoscaler, simevents.DestAPIServer, simevents.RemoveNodeRequest{NodeName: action.NodeName}, a.delays.CAToAS)
			bus.Emit(simevents.DestClusterAutoscaler, simevents.DestMetrics, simevents.ScaleActionObserved{Kind: simevents.ScaleDownNode}, 0)
		}
	}
	a.scheduleNextScan(bus)
}

// scheduleNextScan reschedules the next tickScan, charging the round trip
// that just completed against scan_interval: a round trip that already
// consumed scan_interval or more reschedules immediately, otherwise after
// whatever remains of scan_interval.
func (a *Autoscaler) scheduleNextScan(bus *eventbus.Bus) {
	elapsed := bus.Now() - a.scanStart
	delay := a.cfg.ScanInterval - elapsed
	if delay < 0 {
		delay = 0
	}
	bus.Emit(simevents.DestClusterAutoscaler, simevents.DestClusterAutoscaler, tickScan{}, delay)
}

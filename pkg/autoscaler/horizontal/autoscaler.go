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

package horizontal

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
	HPAToAS float64
	HPAToMetrics float64
}

// Config holds the autoscaler's polling cadence.
type Config struct {
	ScanInterval float64
}

func DefaultConfig() Config {
	return Config{ScanInterval: 60.0}
}

type tickScan struct{}

// Autoscaler is the Horizontal Pod Autoscaler component: on a fixed
// cadence it asks the Metrics Aggregator for mean utilization per pod
// group and runs Algorithm against it, turning the result into
// CreatePodRequest/RemovePodRequest emits to the API Server.
type Autoscaler struct {
	cfg Config
	delays NetworkDelays
	algorithm Algorithm
	groups map[string]*simtypes.PodGroup
}

// New returns an Autoscaler with no registered groups; groups register
// themselves via RegisterPodGroup events that the trace Feeder emits once it
// has minted a group's initial pods.
func New(cfg Config, delays NetworkDelays, algorithm Algorithm) *Autoscaler {
	return &Autoscaler{cfg: cfg, delays: delays, algorithm: algorithm, groups: map[string]*simtypes.PodGroup{}}
}

// Bootstrap schedules the first scan tick.
func (a *Autoscaler) Bootstrap(bus *eventbus.Bus) {
	bus.Emit(simevents.DestHorizontalAutoscaler, simevents.DestHorizontalAutoscaler, tickScan{}, a.cfg.ScanInterval)
}

func (a *Autoscaler) Handle(ctx context.Context, bus *eventbus.Bus, ev eventbus.Event) {
	switch p := ev.Payload.(type) {
	case simevents.RegisterPodGroup:
		a.onRegister(p)
	case tickScan:
		a.onScan(bus)
	case simevents.MeanUtilizationPerGroupResponse:
		a.onMetrics(ctx, bus, p)
	default:
		log.FromContext(ctx).Warnw("hpa: unhandled event", "payload", fmt.Sprintf("%T", p))
	}
}

func (a *Autoscaler) onRegister(p simevents.RegisterPodGroup) {
	group := p.PodGroup
	a.groups[group.Name] = &group
}

// GroupReplicaCount returns a registered group's current replica count, or
// -1 for an unknown group.
func (a *Autoscaler) GroupReplicaCount(name string) int {
	g, ok := a.groups[name]
	if !ok {
		return -1
	}
	return g.ReplicaCount()
}

func (a *Autoscaler) onScan(bus *eventbus.Bus) {
	bus.Emit(simevents.DestHorizontalAutoscaler, simevents.DestMetrics, simevents.MeanUtilizationPerGroupRequest{}, a.delays.HPAToMetrics)
	bus.Emit(simevents.DestHorizontalAutoscaler, simevents.DestHorizontalAutoscaler, tickScan{}, a.cfg.ScanInterval)
}

func (a *Autoscaler) onMetrics(ctx context.Context, bus *eventbus.Bus, resp simevents.MeanUtilizationPerGroupResponse) {
	ups, downs := a.algorithm.Autoscale(a.groups, resp.MeanCPU, resp.MeanRAM)
	for _, action := range ups {
		log.FromContext(ctx).Infow("hpa: scaling up pod group", "pod", action.Pod.Name, "pod_group", action.Pod.PodGroup)
		bus.Emit(simevents.DestHorizontalAutoscaler, simevents.DestAPIServer, simevents.CreatePodRequest{Pod: action.Pod}, a.delays.HPAToAS)
		bus.Emit(simevents.DestHorizontalAutoscaler, simevents.DestMetrics, simevents.ScaleActionObserved{Kind: simevents.ScaleUpPod}, 0)
	}
	for _, action := range downs {
		bus.Emit(simevents.DestHorizontalAutoscaler, simevents.DestAPIServer, simevents.RemovePodRequest{PodName: action.PodName}, a.delays.HPAToAS)
		bus.Emit(simevents.DestHorizontalAutoscaler, simevents.DestMetrics, simevents.ScaleActionObserved{Kind: simevents.ScaleDownPod}, 0)
	}
}

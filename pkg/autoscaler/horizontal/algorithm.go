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

// Package horizontal implements the Horizontal Pod Autoscaler component:
// a periodic replica-count controller driven by per-pod-group mean
// utilization pulled from the Metrics Aggregator.
package horizontal

import (
	"math"
	"sort"

	"github.com/samber/lo"

	"github.com/jellythefish/kubernetriks/pkg/simtypes"
)

// ScaleUpAction creates one new pod for a group.
type ScaleUpAction struct {
	Pod simtypes.Pod
}

// ScaleDownAction removes an existing group pod.
type ScaleDownAction struct {
	PodName string
}

// Algorithm decides per-group replica actions from mean utilization.
type Algorithm interface {
	Autoscale(groups map[string]*simtypes.PodGroup, meanCPU, meanRAM map[string]float64) ([]ScaleUpAction, []ScaleDownAction)
}

// DefaultAlgorithm implements Kubernetes' HPA replica-count formula:
//
// desiredReplicas = ceil(currentReplicas * currentValue/desiredValue)
//
// skipped (replicas left unchanged) when the ratio is within
// TargetThresholdTolerance of 1.0. A group with both a CPU and a RAM
// target takes the larger of the two recommendations, capped at
// MaxPodCount.
type DefaultAlgorithm struct {
	TargetThresholdTolerance float64
}

func NewDefaultAlgorithm(targetThresholdTolerance float64) DefaultAlgorithm {
	return DefaultAlgorithm{TargetThresholdTolerance: targetThresholdTolerance}
}

func (a DefaultAlgorithm) desiredByMetric(currentReplicas int, currentValue, desiredValue float64) int {
	ratio := currentValue / desiredValue
	if math.Abs(ratio-1.0) <= a.TargetThresholdTolerance {
		return currentReplicas
	}
	return int(math.Ceil(float64(currentReplicas) * ratio))
}

// desiredReplicas returns the desired pod count for a single group given
// its current mean CPU/RAM utilization.
func (a DefaultAlgorithm) desiredReplicas(group *simtypes.PodGroup, meanCPU, meanRAM float64) int {
	current := group.ReplicaCount()

	var byCPU, byRAM *int
	if group.TargetCPUUtilization != nil {
		v := a.desiredByMetric(current, meanCPU, *group.TargetCPUUtilization)
		byCPU = &v
	}
	if group.TargetRAMUtilization != nil {
		v := a.desiredByMetric(current, meanRAM, *group.TargetRAMUtilization)
		byRAM = &v
	}

	switch {
	case byCPU != nil && byRAM != nil:
		desired := *byCPU
		if *byRAM > desired {
			desired = *byRAM
		}
		return capAt(desired, group.MaxPodCount)
	case byCPU != nil:
		return capAt(*byCPU, group.MaxPodCount)
	case byRAM != nil:
		return capAt(*byRAM, group.MaxPodCount)
	default:
		// No thresholds configured for this group: leave it alone.
		return current
	}
}

func capAt(v int, max uint32) int {
	return lo.Clamp(v, 0, int(max))
}

// makeActionsForGroup mints or removes pods to move group from its current
// replica count to desired, mutating group's CreatedPods bookkeeping as it
// does so (mirroring the template-side effects of MintPod/RemoveOldest).
func makeActionsForGroup(group *simtypes.PodGroup, desired int) ([]ScaleUpAction, []ScaleDownAction) {
	current := group.ReplicaCount()
	if current == desired {
		return nil, nil
	}
	if current < desired {
		ups := lo.Times(desired-current, func(_ int) ScaleUpAction {
			return ScaleUpAction{Pod: *group.MintPod()}
		})
		return ups, nil
	}
	downs := lo.Map(group.RemoveOldest(current-desired), func(name string, _ int) ScaleDownAction {
		return ScaleDownAction{PodName: name}
	})
	return nil, downs
}

// Autoscale evaluates every group named in meanCPU/meanRAM (a group absent
// from the metrics response produced no samples this cycle and is left
// untouched) and returns the resulting scale-up/scale-down actions.
func (a DefaultAlgorithm) Autoscale(groups map[string]*simtypes.PodGroup, meanCPU, meanRAM map[string]float64) ([]ScaleUpAction, []ScaleDownAction) {
	names := lo.Keys(groups)
	sort.Strings(names)

	var ups []ScaleUpAction
	var downs []ScaleDownAction
	for _, name := range names {
		group := groups[name]
		cpu, hasCPU := meanCPU[name]
		ram, hasRAM := meanRAM[name]
		if !hasCPU && !hasRAM {
			continue
		}
		desired := a.desiredReplicas(group, cpu, ram)
		u, d := makeActionsForGroup(group, desired)
		ups = append(ups, u...)
		downs = append(downs, d...)
	}
	return ups, downs
}

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
	"errors"
	"sort"

	"github.com/samber/lo"

	"github.com/jellythefish/kubernetriks/pkg/simtypes"
)

// Sentinel errors returned by Algorithm.ScheduleOne.
var (
	ErrRequestedResourcesAreZeros = errors.New("scheduler: pod requests zero cpu and ram")
	ErrNoNodesInCluster = errors.New("scheduler: no nodes in cluster")
	ErrNoSufficientResources = errors.New("scheduler: no node has sufficient resources")
)

// Algorithm places a single pod among a node set.
type Algorithm interface {
	ScheduleOne(pod *simtypes.Pod, nodes map[string]*simtypes.Node, profile Profile) (string, error)
}

// DefaultAlgorithm is the filter-then-score placement.
type DefaultAlgorithm struct{}

// ScheduleOne implements the five-step algorithm. Node iteration is
// always over a sorted copy of the node names: Go map iteration order is
// randomized per-process, and determinism requires the same trace to
// produce the same placement decisions on every run.
func (DefaultAlgorithm) ScheduleOne(pod *simtypes.Pod, nodes map[string]*simtypes.Node, profile Profile) (string, error) {
	if pod.RequestsAreZero() {
		return "", ErrRequestedResourcesAreZeros
	}
	if len(nodes) == 0 {
		return "", ErrNoNodesInCluster
	}

	names := lo.Keys(nodes)
	sort.Strings(names)

	candidates := lo.Filter(names, func(name string, _ int) bool {
		return lo.EveryBy(profile.Filters, func(filter FilterPlugin) bool {
			return filter.Filter(pod, nodes[name])
		})
	})
	if len(candidates) == 0 {
		return "", ErrNoSufficientResources
	}

	best := candidates[0]
	bestScore := scoreNode(pod, nodes[best], profile)
	for _, name := range candidates[1:] {
		s := scoreNode(pod, nodes[name], profile)
		if s > bestScore {
			best, bestScore = name, s
		}
	}
	return best, nil
}

func scoreNode(pod *simtypes.Pod, node *simtypes.Node, profile Profile) float64 {
	return lo.SumBy(profile.Scores, func(ws WeightedScorePlugin) float64 {
		return ws.Weight * ws.Plugin.Score(pod, node)
	})
}

// ComputeTimeModel estimates the synthetic wall-clock cost of running the
// scheduling algorithm over a cluster of the given size, charged as
// additional emit delay rather than blocking the engine.
type ComputeTimeModel interface {
	SimulateTime(pod *simtypes.Pod, nodeCount int) float64
}

// ConstantTimePerNodeModel charges a fixed cost per node considered,
// independent of the pod. It is the default when no model is configured.
type ConstantTimePerNodeModel struct {
	ConstantTimePerNode float64
}

func (m ConstantTimePerNodeModel) SimulateTime(_ *simtypes.Pod, nodeCount int) float64 {
	return m.ConstantTimePerNode * float64(nodeCount)
}

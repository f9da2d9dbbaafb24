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

import "github.com/jellythefish/kubernetriks/pkg/simtypes"

// FilterPlugin decides whether node is a feasible placement for pod.
type FilterPlugin interface {
	Name() string
	Filter(pod *simtypes.Pod, node *simtypes.Node) bool
}

// ScorePlugin ranks a feasible node; higher is better.
type ScorePlugin interface {
	Name() string
	Score(pod *simtypes.Pod, node *simtypes.Node) float64
}

// WeightedScorePlugin applies Weight to a ScorePlugin's raw output before
// the scores of a profile are summed.
type WeightedScorePlugin struct {
	Plugin ScorePlugin
	Weight float64
}

// Profile is a named filter/score pipeline (pods select one via
// Pod.SchedulerName).
type Profile struct {
	Name string
	Filters []FilterPlugin
	Scores []WeightedScorePlugin
}

// DefaultProfileName is used by pods with an empty SchedulerName.
const DefaultProfileName = "default_scheduler"

// FitsResourcesFilter rejects nodes that cannot satisfy the pod's
// requested resources.
type FitsResourcesFilter struct{}

func (FitsResourcesFilter) Name() string { return "FitsResources" }

func (FitsResourcesFilter) Filter(pod *simtypes.Pod, node *simtypes.Node) bool {
	return node.Allocatable.Fits(pod.Requests)
}

// LeastAllocatedScore implements the bin-packing formula, favoring
// nodes with the most headroom relative to their allocatable capacity:
//
// score(n) = ((alloc.cpu-req.cpu)*100/alloc.cpu + (alloc.ram-req.ram)*100/alloc.ram) / 2
//
// A node with zero allocatable of a resource contributes zero for that
// resource's term rather than dividing by zero.
type LeastAllocatedScore struct{}

func (LeastAllocatedScore) Name() string { return "LeastAllocated" }

func (LeastAllocatedScore) Score(pod *simtypes.Pod, node *simtypes.Node) float64 {
	var cpuTerm, ramTerm float64
	if node.Allocatable.CPUMillicores > 0 {
		remaining := float64(node.Allocatable.CPUMillicores) - float64(pod.Requests.CPUMillicores)
		cpuTerm = remaining * 100 / float64(node.Allocatable.CPUMillicores)
	}
	if node.Allocatable.RAMBytes > 0 {
		remaining := float64(node.Allocatable.RAMBytes) - float64(pod.Requests.RAMBytes)
		ramTerm = remaining * 100 / float64(node.Allocatable.RAMBytes)
	}
	return (cpuTerm + ramTerm) / 2
}

// DefaultProfile returns the built-in fits-resources/least-allocated
// pipeline used whenever a pod does not name another profile.
func DefaultProfile() Profile {
	return Profile{
		Name: DefaultProfileName,
		Filters: []FilterPlugin{FitsResourcesFilter{}},
		Scores: []WeightedScorePlugin{{Plugin: LeastAllocatedScore{}, Weight: 1.0}},
	}
}

// LookupFilterPlugin resolves a configuration profile's plugin name
// into the registered FilterPlugin, for callers (pkg/simulator) building a
// Profile out of config.ProfileConfig's plain strings.
func LookupFilterPlugin(name string) (FilterPlugin, bool) {
	switch name {
	case FitsResourcesFilter{}.Name():
		return FitsResourcesFilter{}, true
	default:
		return nil, false
	}
}

// LookupScorePlugin resolves a configuration profile's plugin name into
// the registered ScorePlugin.
func LookupScorePlugin(name string) (ScorePlugin, bool) {
	switch name {
	case LeastAllocatedScore{}.Name():
		return LeastAllocatedScore{}, true
	default:
		return nil, false
	}
}

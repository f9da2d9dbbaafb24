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

// Package cluster implements the Cluster Autoscaler component: a greedy
// simulate-then-act scale-up/scale-down loop driven by periodic cluster
// snapshot round trips through the API Server. Every decision bin-packs a
// working copy of node state before committing to any action.
package cluster

import (
	"github.com/samber/lo"
	"golang.org/x/exp/slices"

	"github.com/jellythefish/kubernetriks/pkg/simevents"
	"github.com/jellythefish/kubernetriks/pkg/simtypes"
)

// ScaleUpAction mints a new node from a node group template.
type ScaleUpAction struct {
	Node simtypes.Node
}

// ScaleDownAction removes an existing autoscaler-owned node.
type ScaleDownAction struct {
	NodeName string
}

// Algorithm decides scale-up/scale-down actions from a cluster snapshot.
type Algorithm interface {
	// InfoRequestType tells Persistent Storage which half of the snapshot
	// this algorithm actually needs (open question, honored as an
	// optimization hint only).
	InfoRequestType() simevents.InfoRequestType
	ScaleUp(groups map[string]*simtypes.NodeGroup, info simevents.ScaleUpInfo) []ScaleUpAction
	ScaleDown(groups map[string]*simtypes.NodeGroup, info simevents.ScaleDownInfo) []ScaleDownAction
}

// DefaultMaxNodesTotal caps the whole autoscaled fleet when no explicit
// ceiling is configured, the same default ceiling the real cluster
// autoscaler ships with. Groups with a nil MaxCount are unbounded
// individually and constrained only by this total.
const DefaultMaxNodesTotal = 1000

// DefaultAlgorithm mirrors the Kubernetes cluster autoscaler's default
// policy: greedy first-fit scale-up against group templates, and
// scale-down of underutilized nodes whose pods can all be rehomed.
type DefaultAlgorithm struct {
	// ScaleDownUtilizationThreshold is the node utilization, in [0,1] (the
	// larger of the cpu and ram fractions of capacity in use), below which a
	// node becomes a scale-down candidate.
	ScaleDownUtilizationThreshold float64
	// MaxNodesTotal bounds the summed CurrentCount across every group; 0
	// means DefaultMaxNodesTotal.
	MaxNodesTotal int
}

func NewDefaultAlgorithm(scaleDownUtilizationThreshold float64) DefaultAlgorithm {
	return DefaultAlgorithm{
		ScaleDownUtilizationThreshold: scaleDownUtilizationThreshold,
		MaxNodesTotal: DefaultMaxNodesTotal,
	}
}

func (a DefaultAlgorithm) maxNodesTotal() int {
	if a.MaxNodesTotal > 0 {
		return a.MaxNodesTotal
	}
	return DefaultMaxNodesTotal
}

func totalCurrentCount(groups map[string]*simtypes.NodeGroup) int {
	return lo.SumBy(lo.Values(groups), func(g *simtypes.NodeGroup) int {
		return int(g.CurrentCount)
	})
}

func (DefaultAlgorithm) InfoRequestType() simevents.InfoRequestType {
	return simevents.InfoRequestAuto
}

func nodeFitsPod(pod *simtypes.Pod, node *simtypes.Node) bool {
	return node.Allocatable.Fits(pod.Requests)
}

// overQuotaForAllGroups reports whether every group has hit its MaxCount;
// groups with MaxCount == nil (unbounded) never count toward this.
func overQuotaForAllGroups(groups map[string]*simtypes.NodeGroup) bool {
	return lo.EveryBy(lo.Values(groups), func(g *simtypes.NodeGroup) bool {
		return g.AtMax()
	})
}

// tryFindFittingTemplate scans groups (in a stable order supplied by the
// caller) for one whose template has room for pod, mints a node from it,
// and returns that node. A minted node's Allocatable always starts equal
// to Capacity regardless of what scale-up bookkeeping does to it
// afterward.
func tryFindFittingTemplate(order []string, groups map[string]*simtypes.NodeGroup, pod *simtypes.Pod) (*simtypes.Node, bool) {
	for _, name := range order {
		g := groups[name]
		if g.AtMax() {
			continue
		}
		if nodeFitsPod(pod, &g.NodeTemplate) {
			return g.MintNode(), true
		}
	}
	return nil, false
}

func tryFitInAllocatedNodes(allocated []*simtypes.Node, pod *simtypes.Pod) bool {
	for _, node := range allocated {
		if nodeFitsPod(pod, node) {
			node.Reserve(pod.Requests)
			return true
		}
	}
	return false
}

// ScaleUp implements greedy bin-pack of unscheduled pods against
// group templates: a pod first tries every node minted so far this pass,
// then tries minting a new node from the first group template (in
// groupOrder) that fits it. Every minted node's Allocatable is restored to
// Capacity before it is handed back as a ScaleUpAction, since the pass's
// own bookkeeping may have reserved against it along the way.
func (a DefaultAlgorithm) ScaleUp(groups map[string]*simtypes.NodeGroup, info simevents.ScaleUpInfo) []ScaleUpAction {
	if overQuotaForAllGroups(groups) {
		return nil
	}

	order := sortedGroupNames(groups)
	ceiling := a.maxNodesTotal()
	var allocated []*simtypes.Node
	for _, podName := range sortedPodNames(info.UnscheduledPods) {
		pod := info.UnscheduledPods[podName]
		if tryFitInAllocatedNodes(allocated, &pod) {
			continue
		}
		if totalCurrentCount(groups) >= ceiling {
			continue
		}
		if node, ok := tryFindFittingTemplate(order, groups, &pod); ok {
			node.Reserve(pod.Requests)
			allocated = append(allocated, node)
		}
	}

	return lo.Map(allocated, func(n *simtypes.Node, _ int) ScaleUpAction {
		n.Allocatable = n.Capacity
		return ScaleUpAction{Node: *n}
	})
}

// isUnderThresholdUtilization reports whether node's max-of-cpu/ram
// utilization is below the configured threshold.
func (a DefaultAlgorithm) isUnderThresholdUtilization(node *simtypes.Node) bool {
	cpuUtil, ramUtil := simtypes.UtilizationOf(node.Capacity, node.Allocatable)
	util := cpuUtil
	if ramUtil > util {
		util = ramUtil
	}
	return util < a.ScaleDownUtilizationThreshold
}

// allPodsCanBeMovedToOtherNodes reports whether every pod in pods can be
// placed on some node in nodes other than nodes[currentIdx]. On success it
// mutates nodes' Allocatable to reflect the simulated placement (so a
// later candidate's check sees those reservations); on failure it leaves
// nodes untouched.
func allPodsCanBeMovedToOtherNodes(pods []simtypes.Pod, nodes []*simtypes.Node, currentIdx int) bool {
	if len(pods) == 0 {
		return true
	}
	original := make([]simtypes.ResourceAmount, len(nodes))
	for i, n := range nodes {
		original[i] = n.Allocatable
	}

	for _, pod := range pods {
		placed := false
		for idx, node := range nodes {
			if idx == currentIdx {
				continue
			}
			if nodeFitsPod(&pod, node) {
				node.Reserve(pod.Requests)
				placed = true
				break
			}
		}
		if !placed {
			for i, n := range nodes {
				n.Allocatable = original[i]
			}
			return false
		}
	}
	return true
}

// ScaleDown implements three-condition scale-down check: only
// autoscaler-owned nodes under the utilization threshold whose pods can
// all be rehomed elsewhere become candidates.
func (a DefaultAlgorithm) ScaleDown(groups map[string]*simtypes.NodeGroup, info simevents.ScaleDownInfo) []ScaleDownAction {
	workingNodes := make([]*simtypes.Node, len(info.Nodes))
	for i := range info.Nodes {
		n := info.Nodes[i]
		workingNodes[i] = &n
	}

	var actions []ScaleDownAction
	for idx, node := range workingNodes {
		if !node.IsAutoscaled() {
			continue
		}
		if !a.isUnderThresholdUtilization(node) {
			continue
		}
		podNames := info.Assignments[node.Name]
		pods := make([]simtypes.Pod, 0, len(podNames))
		for _, name := range podNames {
			if p, ok := info.PodsOnAutoscaledNodes[name]; ok {
				pods = append(pods, p)
			}
		}
		if !allPodsCanBeMovedToOtherNodes(pods, workingNodes, idx) {
			continue
		}
		if g, ok := groups[node.NodeGroupName()]; ok && g.CurrentCount > 0 {
			g.CurrentCount--
		}
		actions = append(actions, ScaleDownAction{NodeName: node.Name})
	}
	return actions
}

func sortedGroupNames(groups map[string]*simtypes.NodeGroup) []string {
	names := lo.Keys(groups)
	slices.Sort(names)
	return names
}

func sortedPodNames(pods map[string]simtypes.Pod) []string {
	names := lo.Keys(pods)
	slices.Sort(names)
	return names
}

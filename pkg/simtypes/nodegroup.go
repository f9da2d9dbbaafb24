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

package simtypes

import "fmt"

// NodeGroup is a template plus a quota from which the cluster autoscaler
// mints new nodes. MaxCount is a pointer per open-question resolution:
// nil means unbounded, constrained only by the algorithm's global ceiling.
type NodeGroup struct {
	Name string
	NodeTemplate Node
	MaxCount *uint32
	CurrentCount uint32
	TotalAllocated uint64
}

// AtMax reports whether the group has reached its configured cap.
func (g *NodeGroup) AtMax() bool {
	return g.MaxCount != nil && g.CurrentCount >= *g.MaxCount
}

// MintNode increments TotalAllocated and CurrentCount and returns a fresh
// node copied from the template, with a unique name "<template_name>_<k>"
// and origin/node_group labels applied.
func (g *NodeGroup) MintNode() *Node {
	g.TotalAllocated++
	g.CurrentCount++
	n := g.NodeTemplate.DeepCopy()
	n.Name = fmt.Sprintf("%s_%d", g.NodeTemplate.Name, g.TotalAllocated)
	n.Allocatable = n.Capacity
	n.Labels[LabelOrigin] = OriginClusterAutoscaler
	n.Labels[LabelNodeGroup] = g.Name
	n.Conditions = nil
	return n
}

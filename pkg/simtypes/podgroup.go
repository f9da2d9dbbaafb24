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

// PodGroup is a logical set of long-running pods managed by the horizontal
// pod autoscaler.
type PodGroup struct {
	Name            string
	InitialPodCount uint32
	MaxPodCount     uint32
	PodTemplate     Pod

	TargetCPUUtilization *float64
	TargetRAMUtilization *float64
	UsageModelConfig     UsageModelConfig

	// CreatedPods is the ordered set of pod names created for this group,
	// oldest first; HPA scale-down removes from the front.
	CreatedPods []string
	TotalCreated uint64
}

// MintPod increments TotalCreated, appends to CreatedPods, and returns a
// fresh pod cloned from the template with name "<group>_<k>", the
// pod_group label set, and the group's usage model attached.
func (g *PodGroup) MintPod() *Pod {
	g.TotalCreated++
	p := g.PodTemplate.DeepCopy()
	p.Name = fmt.Sprintf("%s_%d", g.Name, g.TotalCreated)
	p.PodGroup = g.Name
	cfg := g.UsageModelConfig
	p.UsageModelConfig = &cfg
	p.Conditions = nil
	p.AssignedNode = ""
	g.CreatedPods = append(g.CreatedPods, p.Name)
	return p
}

// RemoveOldest removes and returns up to n of the oldest created pod names.
func (g *PodGroup) RemoveOldest(n int) []string {
	if n > len(g.CreatedPods) {
		n = len(g.CreatedPods)
	}
	victims := append([]string(nil), g.CreatedPods[:n]...)
	g.CreatedPods = g.CreatedPods[n:]
	return victims
}

// ReplicaCount is the group's current number of created (non-removed) pods.
func (g *PodGroup) ReplicaCount() int {
	return len(g.CreatedPods)
}

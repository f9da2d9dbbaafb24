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

package scheduler_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jellythefish/kubernetriks/pkg/scheduler"
	"github.com/jellythefish/kubernetriks/pkg/simtypes"
)

var _ = Describe("DefaultAlgorithm", func() {
	var alg scheduler.DefaultAlgorithm
	var profile scheduler.Profile

	BeforeEach(func() {
		profile = scheduler.DefaultProfile()
	})

	It("rejects a pod requesting zero resources", func() {
		pod := &simtypes.Pod{Name: "p1"}
		_, err := alg.ScheduleOne(pod, map[string]*simtypes.Node{}, profile)
		Expect(err).To(MatchError(scheduler.ErrRequestedResourcesAreZeros))
	})

	It("rejects placement against an empty cluster", func() {
		pod := &simtypes.Pod{Name: "p1", Requests: simtypes.ResourceAmount{CPUMillicores: 100, RAMBytes: 1}}
		_, err := alg.ScheduleOne(pod, map[string]*simtypes.Node{}, profile)
		Expect(err).To(MatchError(scheduler.ErrNoNodesInCluster))
	})

	It("reports insufficient resources when no node fits", func() {
		pod := &simtypes.Pod{Name: "p1", Requests: simtypes.ResourceAmount{CPUMillicores: 1000, RAMBytes: 1024}}
		nodes := map[string]*simtypes.Node{
			"n1": simtypes.NewNode("n1", simtypes.ResourceAmount{CPUMillicores: 500, RAMBytes: 512}, nil),
		}
		_, err := alg.ScheduleOne(pod, nodes, profile)
		Expect(err).To(MatchError(scheduler.ErrNoSufficientResources))
	})

	It("picks the node with the most relative headroom", func() {
		pod := &simtypes.Pod{Name: "p1", Requests: simtypes.ResourceAmount{CPUMillicores: 100, RAMBytes: 100}}
		nodes := map[string]*simtypes.Node{
			"tight": simtypes.NewNode("tight", simtypes.ResourceAmount{CPUMillicores: 200, RAMBytes: 200}, nil),
			"loose": simtypes.NewNode("loose", simtypes.ResourceAmount{CPUMillicores: 2000, RAMBytes: 2000}, nil),
		}
		chosen, err := alg.ScheduleOne(pod, nodes, profile)
		Expect(err).NotTo(HaveOccurred())
		Expect(chosen).To(Equal("loose"))
	})

	It("breaks ties deterministically by sorted node name", func() {
		pod := &simtypes.Pod{Name: "p1", Requests: simtypes.ResourceAmount{CPUMillicores: 100, RAMBytes: 100}}
		capacity := simtypes.ResourceAmount{CPUMillicores: 1000, RAMBytes: 1000}
		nodes := map[string]*simtypes.Node{
			"zeta":  simtypes.NewNode("zeta", capacity, nil),
			"alpha": simtypes.NewNode("alpha", capacity, nil),
			"mu":    simtypes.NewNode("mu", capacity, nil),
		}
		for i := 0; i < 10; i++ {
			chosen, err := alg.ScheduleOne(pod, nodes, profile)
			Expect(err).NotTo(HaveOccurred())
			Expect(chosen).To(Equal("alpha"))
		}
	})
})

var _ = Describe("LeastAllocatedScore", func() {
	It("does not divide by zero when a node has zero allocatable of a dimension", func() {
		score := scheduler.LeastAllocatedScore{}
		pod := &simtypes.Pod{Requests: simtypes.ResourceAmount{CPUMillicores: 0, RAMBytes: 0}}
		node := simtypes.NewNode("n", simtypes.ResourceAmount{CPUMillicores: 0, RAMBytes: 0}, nil)
		Expect(score.Score(pod, node)).To(Equal(0.0))
	})
})

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

import "math"

// UsageStep is one unit of a cyclic step-sequence usage model: for
// DurationSeconds, the pod group's aggregate demand is TotalLoad.
type UsageStep struct {
	DurationSeconds float64
	TotalLoad float64
}

// Model is either a constant per-pod utilization or a cyclic sequence of
// (duration, total_load) steps. The step sequence's phase is measured from
// virtual time zero so that every pod in a group sees the same load curve
// regardless of when it was created.
type Model struct {
	// Constant, if non-nil, is a fixed per-pod utilization fraction.
	Constant *float64
	// Steps, if non-empty, is the cyclic step sequence.
	Steps []UsageStep
}

// totalCycleDuration sums the durations of all steps.
func (m Model) totalCycleDuration() float64 {
	var total float64
	for _, s := range m.Steps {
		total += s.DurationSeconds
	}
	return total
}

// totalLoadAt returns the aggregate demand for the group at virtual time t,
// measured from t=0, wrapping around the cycle.
func (m Model) totalLoadAt(t float64) float64 {
	if len(m.Steps) == 0 {
		return 0
	}
	cycle := m.totalCycleDuration()
	if cycle <= 0 {
		return m.Steps[0].TotalLoad
	}
	phase := math.Mod(t, cycle)
	if phase < 0 {
		phase += cycle
	}
	var acc float64
	for _, s := range m.Steps {
		acc += s.DurationSeconds
		if phase < acc {
			return s.TotalLoad
		}
	}
	return m.Steps[len(m.Steps)-1].TotalLoad
}

// Sample returns the current per-pod utilization at virtual time t given
// the current number of pods in the group. A constant model reports its
// configured value as-is; a step-sequence model divides the aggregate load
// across the group's pods, capped at 1.0 since no pod can exceed its own
// request.
func (m Model) Sample(t float64, groupPodCount int) float64 {
	if m.Constant != nil {
		return *m.Constant
	}
	if groupPodCount <= 0 {
		return 0
	}
	load := m.totalLoadAt(t) / float64(groupPodCount)
	return math.Min(1.0, load)
}

// UsageModelConfig is a pod's optional resource usage model: each resource's model is
// independently optional, and the Metrics Aggregator samples them
// separately (and "ram_usage
// similarly").
type UsageModelConfig struct {
	CPU *Model
	RAM *Model
}

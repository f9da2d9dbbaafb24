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

// Pod is the unit of workload: a resource request plus an optional runtime
// duration. Pods belonging to a pod group (HPA-managed) typically leave
// RunningDuration unset and run until explicitly removed.
type Pod struct {
	Name string

	Requests ResourceAmount
	Limits ResourceAmount

	// RunningDuration, in seconds, is nil for pod-group pods that run until
	// removed.
	RunningDuration *float64

	// PodGroup is the owning pod group's name, if any.
	PodGroup string

	// SchedulerName selects the filter/score profile used to place this
	// pod; empty means the "default_scheduler" profile.
	SchedulerName string

	UsageModelConfig *UsageModelConfig

	// AssignedNode is set on bind and never cleared while the pod is
	// non-terminal.
	AssignedNode string

	Conditions ConditionList
}

// DeepCopy returns an independent copy.
func (p *Pod) DeepCopy() *Pod {
	if p == nil {
		return nil
	}
	out := *p
	conditions := make(ConditionList, len(p.Conditions))
	copy(conditions, p.Conditions)
	out.Conditions = conditions
	if p.RunningDuration != nil {
		d := *p.RunningDuration
		out.RunningDuration = &d
	}
	if p.UsageModelConfig != nil {
		cfg := *p.UsageModelConfig
		out.UsageModelConfig = &cfg
	}
	return &out
}

// IsScheduled reports whether the most recent Scheduled condition is True.
func (p *Pod) IsScheduled() bool {
	return p.Conditions.Has(ConditionScheduled, ConditionTrue)
}

// IsTerminal reports whether the pod has reached an absorbing state:
// Succeeded, Failed, or explicitly removed (callers remove terminal pods
// from Persistent Storage's pod map entirely, so in practice IsTerminal is
// checked against conditions still visible on copies in flight).
func (p *Pod) IsTerminal() bool {
	return p.Conditions.Has(ConditionSucceeded, ConditionTrue) || p.Conditions.Has(ConditionFailed, ConditionTrue)
}

// RequestsAreZero reports the step-1 "RequestedResourcesAreZeros" case.
func (p *Pod) RequestsAreZero() bool {
	return p.Requests.IsZero()
}

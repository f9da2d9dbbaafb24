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

package metrics

import "github.com/prometheus/client_golang/prometheus"

// Namespace prefixes every Prometheus metric this package registers.
const Namespace = "kubernetriks"

const simulationSubsystem = "simulation"

// Counters holds the running totals plus the Prometheus gauges they are
// mirrored into, one registered gauge per tracked quantity.
type Counters struct {
	TotalNodesInTrace uint64
	TotalPodsInTrace uint64

	PodsSucceeded uint64
	PodsUnschedulable uint64
	PodsFailed uint64
	PodsRemoved uint64

	ProcessedNodes uint64
	TerminatedPods uint64

	TotalScaledUpNodes uint64
	TotalScaledDownNodes uint64
	TotalScaledUpPods uint64
	TotalScaledDownPods uint64

	registry *prometheus.Registry
	gauges map[string]prometheus.Gauge
}

// NewCounters returns a zeroed Counters registered against registry.
func NewCounters(registry *prometheus.Registry) *Counters {
	c := &Counters{registry: registry, gauges: map[string]prometheus.Gauge{}}
	for _, name := range []string{
		"total_nodes_in_trace", "total_pods_in_trace",
		"pods_succeeded", "pods_unschedulable", "pods_failed", "pods_removed",
		"processed_nodes", "terminated_pods",
		"total_scaled_up_nodes", "total_scaled_down_nodes",
		"total_scaled_up_pods", "total_scaled_down_pods",
	} {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: simulationSubsystem,
			Name: name,
			Help: "Running total of " + name + " for the current simulation.",
		})
		registry.MustRegister(g)
		c.gauges[name] = g
	}
	return c
}

// Publish pushes the current field values into their Prometheus gauges.
// Called once per collection tick rather than on every increment, since
// the engine has no concurrent reader to race against between ticks.
func (c *Counters) Publish() {
	c.gauges["total_nodes_in_trace"].Set(float64(c.TotalNodesInTrace))
	c.gauges["total_pods_in_trace"].Set(float64(c.TotalPodsInTrace))
	c.gauges["pods_succeeded"].Set(float64(c.PodsSucceeded))
	c.gauges["pods_unschedulable"].Set(float64(c.PodsUnschedulable))
	c.gauges["pods_failed"].Set(float64(c.PodsFailed))
	c.gauges["pods_removed"].Set(float64(c.PodsRemoved))
	c.gauges["processed_nodes"].Set(float64(c.ProcessedNodes))
	c.gauges["terminated_pods"].Set(float64(c.TerminatedPods))
	c.gauges["total_scaled_up_nodes"].Set(float64(c.TotalScaledUpNodes))
	c.gauges["total_scaled_down_nodes"].Set(float64(c.TotalScaledDownNodes))
	c.gauges["total_scaled_up_pods"].Set(float64(c.TotalScaledUpPods))
	c.gauges["total_scaled_down_pods"].Set(float64(c.TotalScaledDownPods))
}

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

// Package config implements the engine's configuration surface: the
// options for network delays, scheduler profiles, autoscaler cadences, and
// trace selection, decoded from YAML with gopkg.in/yaml.v3. Reading a
// config file from disk is the entry point's job; this package only
// defines the surface plus its validation rules.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jellythefish/kubernetriks/pkg/simtypes"
)

// Config is the top-level engine configuration.
type Config struct {
	SimName string `yaml:"sim_name"`
	Seed uint64 `yaml:"seed"`
	LogsFilepath string `yaml:"logs_filepath,omitempty"`
	NodePoolCapacity int `yaml:"node_pool_capacity"`

	NetworkDelays NetworkDelaysConfig `yaml:"network_delays"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	ClusterAutoscaler ClusterAutoscalerConfig `yaml:"cluster_autoscaler"`
	HorizontalPodAutoscaler HorizontalPodAutoscalerConfig `yaml:"horizontal_pod_autoscaler"`
	Trace TraceConfig `yaml:"trace"`

	// DefaultCluster seeds the cluster with nodes present from virtual
	// time zero, each entry expanded via NodeGroupSeed.Expand.
	DefaultCluster []NodeGroupSeed `yaml:"default_cluster,omitempty"`
}

// NetworkDelaysConfig holds the simulated link latencies in seconds; each
// link is assumed symmetric, so responses charge the same delay as
// requests.
type NetworkDelaysConfig struct {
	ASToPS float64 `yaml:"as_to_ps"`
	PSToScheduler float64 `yaml:"ps_to_sched"`
	SchedToAS float64 `yaml:"sched_to_as"`
	ASToNode float64 `yaml:"as_to_node"`
	ASToCA float64 `yaml:"as_to_ca"`
	ASToHPA float64 `yaml:"as_to_hpa"`
}

// PluginWeightConfig names a registered score plugin and its weight within
// a profile.
type PluginWeightConfig struct {
	Name string `yaml:"name"`
	Weight float64 `yaml:"weight"`
}

// ProfileConfig is one named filter/score pipeline.
type ProfileConfig struct {
	Filter []string `yaml:"filter"`
	Score []PluginWeightConfig `yaml:"score"`
}

// SchedulingTimeModelConfig configures the synthetic compute-cost model;
// only the constant-per-node shape is configurable.
type SchedulingTimeModelConfig struct {
	ConstantTimePerNode float64 `yaml:"constant_time_per_node"`
}

// SchedulerConfig holds the scheduler's tunables.
type SchedulerConfig struct {
	SchedulingCycleInterval float64 `yaml:"scheduling_cycle_interval"`
	PodFlushInterval float64 `yaml:"pod_flush_interval"`
	MaxUnschedulableDuration float64 `yaml:"max_unschedulable_duration"`
	// EnableUnscheduledPodsConditionalMove gates the event-triggered
	// move-back from the unschedulable store; when false, pods return to
	// the active queue only on the periodic flush.
	EnableUnscheduledPodsConditionalMove bool `yaml:"enable_unscheduled_pods_conditional_move"`
	Profiles map[string]ProfileConfig `yaml:"profiles,omitempty"`
	PodSchedulingTimeModel SchedulingTimeModelConfig `yaml:"pod_scheduling_time_model"`
}

// ClusterAutoscalerConfig selects and tunes the cluster autoscaler.
type ClusterAutoscalerConfig struct {
	Enabled bool `yaml:"enabled"`
	AutoscalerType string `yaml:"autoscaler_type"`
	ScanInterval float64 `yaml:"scan_interval"`
	NodeGroups []NodeGroupSeed `yaml:"node_groups"`
	KubeClusterAutoscaler KubeClusterAutoscalerConfig `yaml:"kube_cluster_autoscaler"`
}

// KubeClusterAutoscalerConfig is the default algorithm's own tunable.
type KubeClusterAutoscalerConfig struct {
	ScaleDownUtilizationThreshold float64 `yaml:"scale_down_utilization_threshold"`
}

// HorizontalPodAutoscalerConfig selects and tunes the horizontal pod
// autoscaler.
type HorizontalPodAutoscalerConfig struct {
	Enabled bool `yaml:"enabled"`
	AutoscalerType string `yaml:"autoscaler_type"`
	ScanInterval float64 `yaml:"scan_interval"`
	KubeHorizontalPodAutoscalerConfig KubeHorizontalPodAutoscalerConfig `yaml:"kube_horizontal_pod_autoscaler_config"`
}

// KubeHorizontalPodAutoscalerConfig is the default HPA algorithm's own
// tunable.
type KubeHorizontalPodAutoscalerConfig struct {
	TargetThresholdTolerance float64 `yaml:"target_threshold_tolerance"`
}

// TraceConfig selects exactly one of the two supported trace sources.
// Parsing the files is the trace-driver collaborator's job; only the path
// shape is defined here.
type TraceConfig struct {
	GenericTrace *GenericTracePaths `yaml:"generic_trace,omitempty"`
	AlibabaClusterTraceV2017 *AlibabaClusterTraceV2017Paths `yaml:"alibaba_cluster_trace_v2017,omitempty"`
}

// GenericTracePaths names the YAML workload/cluster trace files.
type GenericTracePaths struct {
	WorkloadTracePath string `yaml:"workload_trace_path"`
	ClusterTracePath string `yaml:"cluster_trace_path"`
}

// AlibabaClusterTraceV2017Paths names the Alibaba cluster-trace-v2017 CSV
// files; MachineEventsTracePath is optional (nodes may instead come purely
// from DefaultCluster).
type AlibabaClusterTraceV2017Paths struct {
	BatchInstanceTracePath string `yaml:"batch_instance_trace_path"`
	BatchTaskTracePath string `yaml:"batch_task_trace_path"`
	MachineEventsTracePath string `yaml:"machine_events_trace_path,omitempty"`
}

// NodeTemplateConfig is the YAML shape of a node prototype, decoded into a
// simtypes.Node by NodeGroupSeed.Expand.
type NodeTemplateConfig struct {
	Name string `yaml:"name"`
	CPUMillicores uint32 `yaml:"cpu_millicores"`
	RAMBytes uint64 `yaml:"ram_bytes"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

// NodeGroupSeed is a `default_cluster` or `node_groups` entry: a node
// template plus an optional count and an optional cap on how many nodes
// the cluster autoscaler may mint from it.
type NodeGroupSeed struct {
	// NodeCount, if set and not 1, expands into that many nodes named
	// "<template>_<idx>"; unset or 1 yields a single bare-named node.
	NodeCount *uint64 `yaml:"node_count,omitempty"`
	NodeTemplate NodeTemplateConfig `yaml:"node_template"`
	MaxCount *uint32 `yaml:"max_count,omitempty"`
}

// Expand realizes a NodeGroupSeed into concrete nodes: a node_count of
// nil or 1 yields the bare template name, anything else yields
// "<template>_<idx>" for idx in [0, count).
func (s NodeGroupSeed) Expand() []simtypes.Node {
	count := uint64(1)
	if s.NodeCount != nil {
		count = *s.NodeCount
	}
	if count <= 1 {
		return []simtypes.Node{*s.toNode(s.NodeTemplate.Name)}
	}
	nodes := make([]simtypes.Node, 0, count)
	for i := uint64(0); i < count; i++ {
		name := fmt.Sprintf("%s_%d", s.NodeTemplate.Name, i)
		nodes = append(nodes, *s.toNode(name))
	}
	return nodes
}

func (s NodeGroupSeed) toNode(name string) *simtypes.Node {
	labels := make(map[string]string, len(s.NodeTemplate.Labels)+1)
	for k, v := range s.NodeTemplate.Labels {
		labels[k] = v
	}
	labels[simtypes.LabelOrigin] = simtypes.OriginTrace
	return simtypes.NewNode(name, simtypes.ResourceAmount{
		CPUMillicores: s.NodeTemplate.CPUMillicores,
		RAMBytes: s.NodeTemplate.RAMBytes,
	}, labels)
}

// Load decodes a YAML document into a Config. Callers pass already-read
// bytes; reading the file from a path is the entry point's job.
func Load(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

// Default returns a Config with every tunable at its stock value, an
// empty trace selection, and no node groups -- callers overlay their own
// trace selection and groups before validating.
func Default() Config {
	return Config{
		NodePoolCapacity: 1,
		Scheduler: SchedulerConfig{
			SchedulingCycleInterval: 1.0,
			PodFlushInterval: 30.0,
			MaxUnschedulableDuration: 300.0,
			EnableUnscheduledPodsConditionalMove: true,
			PodSchedulingTimeModel: SchedulingTimeModelConfig{ConstantTimePerNode: 0.000001},
		},
		ClusterAutoscaler: ClusterAutoscalerConfig{
			AutoscalerType: "kube_cluster_autoscaler",
			ScanInterval: 10.0,
			KubeClusterAutoscaler: KubeClusterAutoscalerConfig{
				ScaleDownUtilizationThreshold: 0.5,
			},
		},
		HorizontalPodAutoscaler: HorizontalPodAutoscalerConfig{
			AutoscalerType: "kube_horizontal_pod_autoscaler",
			ScanInterval: 60.0,
			KubeHorizontalPodAutoscalerConfig: KubeHorizontalPodAutoscalerConfig{
				TargetThresholdTolerance: 0.1,
			},
		},
	}
}

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

// Package simevents defines the payload types routed across the event bus
// between components, plus a recorder for noteworthy simulation
// occurrences. Payloads are plain structs dispatched by a type switch in
// each component's Handle method, so adding a message means adding a type
// here and a case there.
package simevents

import "github.com/jellythefish/kubernetriks/pkg/simtypes"

// --- Cluster trace payloads, routed trace -> API Server ---

type CreateNodeRequest struct {
	Node simtypes.Node
}

type RemoveNodeRequest struct {
	NodeName string
}

// --- Workload trace payloads, routed trace -> API Server ---

type CreatePodRequest struct {
	Pod simtypes.Pod
}

type RemovePodRequest struct {
	PodName string
}

type CreatePodGroupRequest struct {
	PodGroup simtypes.PodGroup
}

// --- API Server <-> Persistent Storage ---

type CreateNodeAck struct {
	NodeName string
}

type NodeAddedToCluster struct {
	NodeName string
}

type RemoveNodeAck struct {
	NodeName string
}

// RemovePodAck confirms a RemovePodRequest was persisted; NodeName names
// the node the pod was running on, or "" if it was never bound, so the API
// Server can tell that node's runtime to stop it.
type RemovePodAck struct {
	PodName string
	NodeName string
}

type BindPod struct {
	PodName string
	NodeName string
}

type BindPodAck struct {
	PodName string
	NodeName string
}

// --- API Server <-> Node Runtime ---

type BindPodToNodeRequest struct {
	PodName string
	NodeName string
	// Duration is nil for pods that run until explicitly removed (pod-group
	// pods).
	Duration *float64
}

type PodStartedRunning struct {
	PodName string
	NodeName string
}

// PodOutcome distinguishes a pod finishing on its own from one cut short
// by its node's removal -- the split that feeds the pods_succeeded and
// pods_failed counters.
type PodOutcome string

const (
	PodOutcomeSucceeded PodOutcome = "Succeeded"
	PodOutcomeFailed PodOutcome = "Failed"
)

type PodFinishedRunning struct {
	PodName string
	NodeName string
	Outcome PodOutcome
	// StartTime is the virtual time the pod started running, carried along
	// so Persistent Storage can compute its running duration for the
	// pod_duration estimator without a second lookup.
	StartTime float64
}

type RemoveNodeFromRuntime struct {
	NodeName string
}

// RemovePodFromRuntime stops a single running pod without any terminal
// event: the pod was already deleted from Persistent Storage by an explicit
// RemovePodRequest, so the runtime only drops its bookkeeping.
type RemovePodFromRuntime struct {
	PodName string
	NodeName string
}

type NodeRemovedFromCluster struct {
	NodeName string
}

// --- Persistent Storage <-> Scheduler ---

type PodScheduleRequest struct {
	PodName string
	Pod simtypes.Pod
}

type PodNotScheduled struct {
	PodName string
	Reason string
}

type NodeAddedToCache struct {
	Node simtypes.Node
}

type RemoveNodeFromCache struct {
	NodeName string
}

type ReleasePodFromCache struct {
	PodName string
	NodeName string
}

// --- Scheduler <-> API Server ---

type AssignPodToNodeRequest struct {
	PodName string
	NodeName string
	Duration *float64
}

type AssignPodToNodeResponse struct {
	PodName string
	NodeName string
	Assigned bool
}

// --- Cluster Autoscaler <-> API Server/Storage ---

// InfoRequestType is the hint an autoscaler algorithm gives Persistent
// Storage about which halves of the cluster snapshot it actually needs
// (open question); the default algorithm always requests Auto.
type InfoRequestType string

const (
	InfoRequestAuto InfoRequestType = "Auto"
	InfoRequestScaleUpOnly InfoRequestType = "ScaleUpOnly"
	InfoRequestScaleDownOnly InfoRequestType = "ScaleDownOnly"
	InfoRequestBoth InfoRequestType = "Both"
)

type ClusterAutoscalerInfoRequest struct {
	Hint InfoRequestType
}

type ScaleUpInfo struct {
	// UnscheduledPods is keyed by pod name so the algorithm can read each
	// pod's requests without a second round trip to Persistent Storage.
	UnscheduledPods map[string]simtypes.Pod
}

type ScaleDownInfo struct {
	Nodes []simtypes.Node
	// PodsOnAutoscaledNodes is keyed by pod name, restricted to pods
	// assigned to an autoscaler-owned node.
	PodsOnAutoscaledNodes map[string]simtypes.Pod
	// Assignments is keyed by node name, giving the pod names assigned to
	// that node.
	Assignments map[string][]string
}

type ClusterAutoscalerInfoResponse struct {
	ScaleUp *ScaleUpInfo
	ScaleDown *ScaleDownInfo
}

// --- HPA <-> Metrics Aggregator ---

type MeanUtilizationPerGroupRequest struct{}

type MeanUtilizationPerGroupResponse struct {
	// MeanCPU/MeanRAM are keyed by pod group name.
	MeanCPU map[string]float64
	MeanRAM map[string]float64
}

// --- HPA registration ---

type RegisterPodGroup struct {
	PodGroup simtypes.PodGroup
}

// --- Metrics Aggregator feed ---
//
// Every producing component emits one of these to DestMetrics alongside
// its primary flow, at zero delay: the Aggregator's counters are read by
// HPA/operators at arbitrary times, so they must stay current rather than
// only being refreshed on its own periodic tick (which instead drives the
// heavier per-pod-group utilization sampling, see the metrics package's
// collect-pod-metrics tick).

type NodeProcessed struct{}

type PodOutcomeObserved struct {
	Outcome PodOutcome
	DurationSeconds float64
}

type PodUnschedulableObserved struct{}

// PodUnschedulableResolved reverses an earlier PodUnschedulableObserved:
// the pod was eventually bound, so it no longer belongs in the
// unschedulable bucket (and no longer counts as terminated).
type PodUnschedulableResolved struct{}

type PodRemovedObserved struct{}

// ScaleKind distinguishes which scale counter an observed autoscaler
// action should increment.
type ScaleKind string

const (
	ScaleUpNode ScaleKind = "ScaleUpNode"
	ScaleDownNode ScaleKind = "ScaleDownNode"
	ScaleUpPod ScaleKind = "ScaleUpPod"
	ScaleDownPod ScaleKind = "ScaleDownPod"
)

type ScaleActionObserved struct {
	Kind ScaleKind
}

type PodSchedulingLatencyObserved struct {
	QueueTimeSeconds float64
	SchedulingAlgorithmLatencySeconds float64
}

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

package config

import (
	"fmt"

	"go.uber.org/multierr"
)

// Validate checks the configuration errors that are fatal at startup:
// unknown autoscaler type, duplicate node-group name, empty node-template
// name, both trace modes set or neither set, zero node-pool capacity.
// Independent violations are combined with go.uber.org/multierr so a bad
// config reports everything wrong with it at once.
func (c Config) Validate() error {
	var err error

	if c.NodePoolCapacity <= 0 {
		err = multierr.Append(err, fmt.Errorf("config: node_pool_capacity must be positive, got %d", c.NodePoolCapacity))
	}

	err = multierr.Append(err, c.validateTraceSelection())
	err = multierr.Append(err, c.validateClusterAutoscaler())
	err = multierr.Append(err, c.validateHorizontalPodAutoscaler())
	err = multierr.Append(err, c.validateNodeGroupNames())

	return err
}

func (c Config) validateTraceSelection() error {
	generic := c.Trace.GenericTrace != nil
	alibaba := c.Trace.AlibabaClusterTraceV2017 != nil
	switch {
	case generic && alibaba:
		return fmt.Errorf("config: trace selection must be exactly one of generic_trace or alibaba_cluster_trace_v2017, both are set")
	case !generic && !alibaba:
		return fmt.Errorf("config: trace selection must be exactly one of generic_trace or alibaba_cluster_trace_v2017, neither is set")
	}
	return nil
}

var knownClusterAutoscalerTypes = map[string]bool{
	"kube_cluster_autoscaler": true,
}

var knownHorizontalPodAutoscalerTypes = map[string]bool{
	"kube_horizontal_pod_autoscaler": true,
}

func (c Config) validateClusterAutoscaler() error {
	if !c.ClusterAutoscaler.Enabled {
		return nil
	}
	if !knownClusterAutoscalerTypes[c.ClusterAutoscaler.AutoscalerType] {
		return fmt.Errorf("config: unknown cluster_autoscaler.autoscaler_type %q", c.ClusterAutoscaler.AutoscalerType)
	}
	return nil
}

func (c Config) validateHorizontalPodAutoscaler() error {
	if !c.HorizontalPodAutoscaler.Enabled {
		return nil
	}
	if !knownHorizontalPodAutoscalerTypes[c.HorizontalPodAutoscaler.AutoscalerType] {
		return fmt.Errorf("config: unknown horizontal_pod_autoscaler.autoscaler_type %q", c.HorizontalPodAutoscaler.AutoscalerType)
	}
	return nil
}

// validateNodeGroupNames checks empty node-template names (both sources
// mint nodes by template name) and duplicate node-group names among the
// cluster autoscaler's node groups specifically -- default_cluster entries
// are one-off trace seeds, not autoscaler quota groups, so sharing a
// template-name prefix across two of them is not itself an error.
func (c Config) validateNodeGroupNames() error {
	var err error
	for _, g := range c.DefaultCluster {
		if g.NodeTemplate.Name == "" {
			err = multierr.Append(err, fmt.Errorf("config: default_cluster node template name must not be empty"))
		}
	}
	seen := map[string]bool{}
	for _, g := range c.ClusterAutoscaler.NodeGroups {
		name := g.NodeTemplate.Name
		if name == "" {
			err = multierr.Append(err, fmt.Errorf("config: node group template name must not be empty"))
			continue
		}
		if seen[name] {
			err = multierr.Append(err, fmt.Errorf("config: duplicate node group name %q", name))
			continue
		}
		seen[name] = true
	}
	return err
}

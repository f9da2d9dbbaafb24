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

package simevents

import "github.com/jellythefish/kubernetriks/pkg/eventbus"

// Well-known bus destinations for the fixed set of singleton components.
// Node runtimes are addressed dynamically as "node/<slot-index>" by the
// node pool.
const (
	DestAPIServer eventbus.Destination = "api_server"
	DestStorage eventbus.Destination = "storage"
	DestScheduler eventbus.Destination = "scheduler"
	DestClusterAutoscaler eventbus.Destination = "cluster_autoscaler"
	DestHorizontalAutoscaler eventbus.Destination = "hpa"
	DestMetrics eventbus.Destination = "metrics"
	DestTrace eventbus.Destination = "trace"
)

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

// Assignment maps a node name to the set of pod names currently bound there.
// Every non-terminal pod with AssignedNode=n must appear in assignment[n],
// and removing a node clears its entry entirely.
type Assignment map[string]map[string]struct{}

// NewAssignment returns an empty assignment map.
func NewAssignment() Assignment {
	return Assignment{}
}

// Add binds podName to nodeName.
func (a Assignment) Add(nodeName, podName string) {
	set, ok := a[nodeName]
	if !ok {
		set = map[string]struct{}{}
		a[nodeName] = set
	}
	set[podName] = struct{}{}
}

// Remove unbinds podName from nodeName. It is a no-op if the pair is absent.
func (a Assignment) Remove(nodeName, podName string) {
	set, ok := a[nodeName]
	if !ok {
		return
	}
	delete(set, podName)
	if len(set) == 0 {
		delete(a, nodeName)
	}
}

// RemoveNode clears an entire node's assignment entry, returning the pod
// names that were bound there.
func (a Assignment) RemoveNode(nodeName string) []string {
	set, ok := a[nodeName]
	if !ok {
		return nil
	}
	pods := make([]string, 0, len(set))
	for pod := range set {
		pods = append(pods, pod)
	}
	delete(a, nodeName)
	return pods
}

// PodsOn returns the pod names currently bound to nodeName.
func (a Assignment) PodsOn(nodeName string) []string {
	set, ok := a[nodeName]
	if !ok {
		return nil
	}
	pods := make([]string, 0, len(set))
	for pod := range set {
		pods = append(pods, pod)
	}
	return pods
}

// Has reports whether podName is bound to nodeName.
func (a Assignment) Has(nodeName, podName string) bool {
	_, ok := a[nodeName][podName]
	return ok
}

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

// Package scheduler implements the Scheduler component: a local mirror of
// cluster state kept warm by events from Persistent Storage, an active +
// unschedulable queue pair, and a pluggable filter/score placement
// algorithm run on a periodic scheduling cycle.
package scheduler

import "sort"

// Entry is a queued pod entry: when it was (re-)enqueued, when it was
// first attempted, how many placement attempts it has seen, and its name.
type Entry struct {
	EnqueueTimestamp float64
	FirstAttemptTimestamp float64
	Attempts int
	PodName string
}

// ActiveQueue is FIFO ordered by EnqueueTimestamp ascending. Within a single-threaded engine where pods are
// always enqueued at non-decreasing virtual time, a plain append-only slice
// already maintains that order.
type ActiveQueue struct {
	entries []Entry
}

func (q *ActiveQueue) PushBack(e Entry) {
	q.entries = append(q.entries, e)
}

// DrainAll removes and returns every entry currently queued, in FIFO order.
func (q *ActiveQueue) DrainAll() []Entry {
	out := q.entries
	q.entries = nil
	return out
}

func (q *ActiveQueue) Len() int {
	return len(q.entries)
}

// UnschedulableStore is ordered by (InsertTimestamp, PodName) ascending,
// keyed by pod name so a pod can only have
// one outstanding unschedulable entry at a time.
type UnschedulableStore struct {
	byName map[string]Entry
}

func NewUnschedulableStore() *UnschedulableStore {
	return &UnschedulableStore{byName: map[string]Entry{}}
}

func (s *UnschedulableStore) Put(e Entry) {
	if s.byName == nil {
		s.byName = map[string]Entry{}
	}
	s.byName[e.PodName] = e
}

func (s *UnschedulableStore) Remove(podName string) {
	delete(s.byName, podName)
}

func (s *UnschedulableStore) Get(podName string) (Entry, bool) {
	e, ok := s.byName[podName]
	return e, ok
}

func (s *UnschedulableStore) Len() int {
	return len(s.byName)
}

// Ordered returns every entry sorted by (InsertTimestamp (EnqueueTimestamp
// field reused as the insert time), PodName) for deterministic flush/move
// iteration.
func (s *UnschedulableStore) Ordered() []Entry {
	out := make([]Entry, 0, len(s.byName))
	for _, e := range s.byName {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EnqueueTimestamp != out[j].EnqueueTimestamp {
			return out[i].EnqueueTimestamp < out[j].EnqueueTimestamp
		}
		return out[i].PodName < out[j].PodName
	})
	return out
}

// DrainAll removes and returns every entry, ordered.
func (s *UnschedulableStore) DrainAll() []Entry {
	out := s.Ordered()
	s.byName = map[string]Entry{}
	return out
}

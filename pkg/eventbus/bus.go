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

// Package eventbus implements the simulator's single-threaded discrete-event
// core: a monotonic virtual clock and a priority queue that delivers events
// to handlers in non-decreasing time order, ties broken by insertion
// sequence. Handlers run to completion and schedule all further work by
// emitting future events; nothing in the engine blocks or runs concurrently.
package eventbus

import (
	"container/heap"
	"context"
	"fmt"
)

// Destination identifies a registered handler: "api_server", "storage",
// "scheduler", "cluster_autoscaler", "hpa", "metrics", or a node runtime
// slot such as "node/3".
type Destination string

// Event is a single scheduled message: delivered to Dest at Time, carrying
// an opaque Payload. Seq breaks ties between events sharing the same
// delivery time, in the order they were enqueued.
type Event struct {
	Time float64
	Seq uint64
	Source Destination
	Dest Destination
	Payload interface{}
}

// Handler processes one event to completion. It may call bus.Emit /
// bus.EmitOrdered / bus.EmitSelfNow to schedule further events, but must
// never block.
type Handler interface {
	Handle(ctx context.Context, bus *Bus, ev Event)
}

type channelKey struct {
	Src, Dest Destination
}

// Bus owns virtual time and the event heap. It is not safe for concurrent
// use -- the whole point of the model is that it never needs to be.
type Bus struct {
	clock float64
	seq uint64
	queue eventHeap

	handlers map[Destination]Handler

	// lastOrdered tracks, per (source,dest) channel, the delivery time of
	// the most recently ordered-emitted event on that channel, so that
	// EmitOrdered can guarantee FIFO delivery for a channel regardless of
	// the requested delays (ordering guarantee 3).
	lastOrdered map[channelKey]float64
}

// New returns an empty bus with virtual time at zero.
func New() *Bus {
	return &Bus{
		handlers: map[Destination]Handler{},
		lastOrdered: map[channelKey]float64{},
	}
}

// Register installs h as the handler for dest. Registering the same
// destination twice replaces the handler -- used by the node pool to bind a
// fresh NodeRuntime into a preallocated slot.
func (b *Bus) Register(dest Destination, h Handler) {
	b.handlers[dest] = h
}

// Now returns the current virtual time.
func (b *Bus) Now() float64 {
	return b.clock
}

// Emit enqueues payload for delivery to dest at Now+delay. delay must be
// >= 0; delay=0 is allowed and fires after any already-enqueued events at
// the current time, never before.
func (b *Bus) Emit(source, dest Destination, payload interface{}, delay float64) {
	if delay < 0 {
		panic(fmt.Sprintf("eventbus: negative delay %v emitting to %s", delay, dest))
	}
	b.push(Event{
		Time: b.clock + delay,
		Source: source,
		Dest: dest,
		Payload: payload,
	})
}

// EmitOrdered is like Emit but additionally guarantees that two events
// emitted on the same (source,dest) channel are delivered in the order they
// were emitted, even if a later call requests an earlier delivery time than
// an not-yet-delivered earlier call (ordering guarantee 3). This is used
// for channels with strict causality requirements, such as a node removal
// request followed later by that node's removal acknowledgement.
func (b *Bus) EmitOrdered(source, dest Destination, payload interface{}, delay float64) {
	if delay < 0 {
		panic(fmt.Sprintf("eventbus: negative delay %v emitting to %s", delay, dest))
	}
	key := channelKey{Src: source, Dest: dest}
	t := b.clock + delay
	if prev, ok := b.lastOrdered[key]; ok && prev > t {
		t = prev
	}
	b.lastOrdered[key] = t
	b.push(Event{
		Time: t,
		Source: source,
		Dest: dest,
		Payload: payload,
	})
}

// EmitSelfNow enqueues payload for delivery to dest at the current time
// (delay 0), used by a handler scheduling a follow-up event addressed to
// itself.
func (b *Bus) EmitSelfNow(dest Destination, payload interface{}) {
	b.Emit(dest, dest, payload, 0)
}

func (b *Bus) push(ev Event) {
	ev.Seq = b.seq
	b.seq++
	heap.Push(&b.queue, ev)
}

// Step pops the smallest event, advances the clock to its delivery time,
// and invokes the destination's handler synchronously. It returns false if
// the queue was empty.
func (b *Bus) Step(ctx context.Context) bool {
	if b.queue.Len() == 0 {
		return false
	}
	ev := heap.Pop(&b.queue).(Event)
	if ev.Time > b.clock {
		b.clock = ev.Time
	}
	h, ok := b.handlers[ev.Dest]
	if !ok {
		// A handler never being registered for a destination is a wiring
		// bug, not a simulated condition -- fail loudly rather than drop
		// the event silently.
		panic(fmt.Sprintf("eventbus: no handler registered for destination %q (event from %q)", ev.Dest, ev.Source))
	}
	h.Handle(ctx, b, ev)
	return true
}

// Pending reports whether any events remain queued.
func (b *Bus) Pending() bool {
	return b.queue.Len() > 0
}

// RunUntil repeatedly steps until the queue is empty or predicate(b)
// returns true, evaluated after each step.
func (b *Bus) RunUntil(ctx context.Context, predicate func(*Bus) bool) {
	for b.Step(ctx) {
		if predicate != nil && predicate(b) {
			return
		}
	}
}

// RunToCompletion steps until the queue is empty.
func (b *Bus) RunToCompletion(ctx context.Context) {
	b.RunUntil(ctx, nil)
}

// RunUntilTime delivers every event whose delivery time is <= deadline and
// stops, leaving later events queued. Periodic self-ticks keep the queue
// non-empty forever, so bounding a run by virtual time is the only way to
// end a simulation carrying long-running pod-group pods.
func (b *Bus) RunUntilTime(ctx context.Context, deadline float64) {
	for b.queue.Len() > 0 && b.queue[0].Time <= deadline {
		b.Step(ctx)
	}
}

// eventHeap is a container/heap.Interface ordered by (Time, Seq) ascending.
type eventHeap []Event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].Time != h[j].Time {
		return h[i].Time < h[j].Time
	}
	return h[i].Seq < h[j].Seq
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x interface{}) {
	*h = append(*h, x.(Event))
}
func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	ev := old[n-1]
	*h = old[:n-1]
	return ev
}

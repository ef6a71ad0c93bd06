// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package router

import (
	"context"
	"sync"
	"time"

	"github.com/teradata-labs/chorus/pkg/types"
)

// Default inbox configuration values.
const (
	// DefaultInboxCapacity is the soft capacity of an inbox.
	DefaultInboxCapacity = 1024
	// DefaultEnqueueWait bounds how long an enqueue blocks on a full inbox
	// before failing with InboxFull.
	DefaultEnqueueWait = 500 * time.Millisecond
)

// Inbox is a FIFO queue of events owned by a single principal. Enqueue order
// equals delivery order. Safe for concurrent use; only the owning runtime
// should pop.
type Inbox struct {
	owner       types.Identifier
	capacity    int
	enqueueWait time.Duration

	mu     sync.Mutex
	queue  []*types.Message
	closed bool

	// reserved counts capacity slots claimed by Reserve but not yet filled
	// by Commit. Fan-out claims slots on every target before filling any.
	reserved int

	// notify carries a pending "data available" signal; space carries a
	// pending "capacity available" signal. Both hold at most one signal.
	notify chan struct{}
	space  chan struct{}

	// done is closed when the inbox closes, waking all waiters.
	done chan struct{}
}

// NewInbox creates an inbox for the given owner. capacity <= 0 selects the
// default.
func NewInbox(owner types.Identifier, capacity int) *Inbox {
	if capacity <= 0 {
		capacity = DefaultInboxCapacity
	}
	return &Inbox{
		owner:       owner,
		capacity:    capacity,
		enqueueWait: DefaultEnqueueWait,
		notify:      make(chan struct{}, 1),
		space:       make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Owner returns the identifier of the owning principal.
func (in *Inbox) Owner() types.Identifier { return in.owner }

// Enqueue appends a message. When the inbox is at capacity the call blocks up
// to the enqueue wait; on timeout it fails with InboxFull. Enqueueing into a
// closed inbox fails immediately.
func (in *Inbox) Enqueue(msg *types.Message) error {
	deadline := time.NewTimer(in.enqueueWait)
	defer deadline.Stop()

	for {
		in.mu.Lock()
		if in.closed {
			in.mu.Unlock()
			return types.NewError(types.UnknownIdentifier, "inbox %s is closed", in.owner)
		}
		if len(in.queue)+in.reserved < in.capacity {
			in.queue = append(in.queue, msg)
			in.mu.Unlock()
			signal(in.notify)
			return nil
		}
		in.mu.Unlock()

		select {
		case <-in.space:
		case <-in.done:
			return types.NewError(types.UnknownIdentifier, "inbox %s is closed", in.owner)
		case <-deadline.C:
			return types.NewError(types.InboxFull, "inbox %s over capacity %d", in.owner, in.capacity)
		}
	}
}

// Reserve claims one capacity slot without enqueueing, blocking like Enqueue
// when the inbox is full. A claimed slot is later filled with Commit or
// returned with Release.
func (in *Inbox) Reserve() error {
	deadline := time.NewTimer(in.enqueueWait)
	defer deadline.Stop()

	for {
		in.mu.Lock()
		if in.closed {
			in.mu.Unlock()
			return types.NewError(types.UnknownIdentifier, "inbox %s is closed", in.owner)
		}
		if len(in.queue)+in.reserved < in.capacity {
			in.reserved++
			in.mu.Unlock()
			return nil
		}
		in.mu.Unlock()

		select {
		case <-in.space:
		case <-in.done:
			return types.NewError(types.UnknownIdentifier, "inbox %s is closed", in.owner)
		case <-deadline.C:
			return types.NewError(types.InboxFull, "inbox %s over capacity %d", in.owner, in.capacity)
		}
	}
}

// Commit fills a previously reserved slot. It fails only when the inbox
// closed after the reservation.
func (in *Inbox) Commit(msg *types.Message) error {
	in.mu.Lock()
	if in.reserved > 0 {
		in.reserved--
	}
	if in.closed {
		in.mu.Unlock()
		return types.NewError(types.UnknownIdentifier, "inbox %s is closed", in.owner)
	}
	in.queue = append(in.queue, msg)
	in.mu.Unlock()
	signal(in.notify)
	return nil
}

// Release returns an unused reserved slot.
func (in *Inbox) Release() {
	in.mu.Lock()
	if in.reserved > 0 {
		in.reserved--
	}
	in.mu.Unlock()
	signal(in.space)
}

// TryPop removes and returns the oldest message, or nil when empty.
func (in *Inbox) TryPop() *types.Message {
	in.mu.Lock()
	defer in.mu.Unlock()

	if len(in.queue) == 0 {
		return nil
	}
	msg := in.queue[0]
	in.queue = in.queue[1:]
	signal(in.space)
	if len(in.queue) > 0 {
		signal(in.notify)
	}
	return msg
}

// Pop blocks until a message is available, the context is done, or the inbox
// closes.
func (in *Inbox) Pop(ctx context.Context) (*types.Message, error) {
	for {
		if msg := in.TryPop(); msg != nil {
			return msg, nil
		}
		select {
		case <-in.notify:
		case <-in.done:
			return nil, types.NewError(types.Cancelled, "inbox %s closed", in.owner)
		case <-ctx.Done():
			return nil, types.NewError(types.Cancelled, "pop interrupted: %v", ctx.Err())
		}
	}
}

// Notify returns a channel that receives a signal when a message arrives.
// Consumers must re-check TryPop after waking; signals are coalesced.
func (in *Inbox) Notify() <-chan struct{} { return in.notify }

// Done returns a channel closed when the inbox closes.
func (in *Inbox) Done() <-chan struct{} { return in.done }

// Len returns the number of queued messages.
func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.queue)
}

// Snapshot returns a copy of the queued messages in delivery order.
func (in *Inbox) Snapshot() []*types.Message {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]*types.Message, len(in.queue))
	copy(out, in.queue)
	return out
}

// Closed reports whether the inbox has been closed.
func (in *Inbox) Closed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closed
}

// Close marks the inbox closed and returns the undelivered messages. Waiters
// are woken.
func (in *Inbox) Close() []*types.Message {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return nil
	}
	in.closed = true
	drained := in.queue
	in.queue = nil
	in.mu.Unlock()

	close(in.done)
	return drained
}

// signal places a coalesced signal on ch.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

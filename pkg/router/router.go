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

// Package router implements the in-process broker that delivers messages and
// events to per-principal inboxes. It guarantees per-pair FIFO delivery,
// channel fan-out that excludes the source, and at-most-once in-process
// delivery without acknowledgments.
package router

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/chorus/pkg/types"
)

// Metadata keys used on diagnostic events.
const (
	MetaDiagnostic = "diagnostic"
	MetaAbout      = "about"

	// DiagnosticDeadLetter marks events for messages dropped at or after
	// unregister.
	DiagnosticDeadLetter = "DeadLetter"
	// DiagnosticHandlerCrash marks events recording an aborted agent step.
	DiagnosticHandlerCrash = "HandlerCrash"
)

// Listener observes routed messages. Listeners are non-authoritative: they
// receive a best-effort copy after successful enqueue and their failures never
// affect delivery.
type Listener func(*types.Message)

// Router is the single logical broker of a workspace. All operations are safe
// for concurrent use by multiple goroutines.
type Router struct {
	mu        sync.RWMutex
	inboxes   map[types.Identifier]*Inbox
	channels  map[string]*types.ChannelInfo
	listeners []Listener

	diag *Inbox

	inboxCapacity int

	// tick is the monotonic timestamp stamped on every routed message.
	tick         atomic.Int64
	routed       atomic.Int64
	dropped      atomic.Int64
	lastActivity atomic.Int64 // unix nanos

	logger *zap.Logger
	closed atomic.Bool
}

// Option configures a Router.
type Option func(*Router)

// WithInboxCapacity overrides the soft capacity used for new inboxes.
func WithInboxCapacity(n int) Option {
	return func(r *Router) { r.inboxCapacity = n }
}

// New creates a router. A nil logger defaults to a no-op logger.
func New(logger *zap.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		inboxes:       make(map[types.Identifier]*Inbox),
		channels:      make(map[string]*types.ChannelInfo),
		inboxCapacity: DefaultInboxCapacity,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.diag = NewInbox(types.Diagnostic, r.inboxCapacity)
	r.touch()
	return r
}

// Register creates and registers an inbox for the identifier. Registering an
// already-registered identifier fails.
func (r *Router) Register(id types.Identifier) (*Inbox, error) {
	if r.closed.Load() {
		return nil, types.NewError(types.Cancelled, "router is closed")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.inboxes[id]; exists {
		return nil, types.NewError(types.MalformedEnvelope, "identifier already registered: %s", id)
	}
	in := NewInbox(id, r.inboxCapacity)
	r.inboxes[id] = in

	r.logger.Debug("principal registered", zap.String("identifier", id))
	return in, nil
}

// Unregister removes the identifier. Messages still queued are dropped and a
// DeadLetter event is emitted for each on the diagnostic inbox.
func (r *Router) Unregister(id types.Identifier) {
	r.mu.Lock()
	in, exists := r.inboxes[id]
	delete(r.inboxes, id)
	r.mu.Unlock()

	if !exists {
		return
	}
	dropped := in.Close()
	for _, msg := range dropped {
		r.deadLetter(id, msg)
	}

	r.logger.Debug("principal unregistered",
		zap.String("identifier", id),
		zap.Int("dropped", len(dropped)))
}

// Lookup returns the inbox registered for the identifier.
func (r *Router) Lookup(id types.Identifier) (*Inbox, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.inboxes[id]
	return in, ok
}

// AddChannel registers a multicast channel.
func (r *Router) AddChannel(ch *types.ChannelInfo) error {
	if ch == nil || ch.Name == "" {
		return types.NewError(types.MalformedEnvelope, "channel requires a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.channels[ch.Name]; exists {
		return types.NewError(types.MalformedEnvelope, "channel already registered: %s", ch.Name)
	}
	r.channels[ch.Name] = ch
	r.logger.Debug("channel registered",
		zap.String("channel", ch.Name),
		zap.Strings("members", ch.Members))
	return nil
}

// ChannelMembers returns the current membership of a channel.
func (r *Router) ChannelMembers(name string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	if !ok {
		return nil, false
	}
	members := make([]string, len(ch.Members))
	copy(members, ch.Members)
	return members, true
}

// ListChannels returns the names of all registered channels.
func (r *Router) ListChannels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	return names
}

// Subscribe attaches a message listener.
func (r *Router) Subscribe(fn Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Send stamps the message with the next monotonic tick and enqueues it into
// each target inbox. Channel publications fan out to every current member
// except the source; either all member inboxes enqueue or none.
func (r *Router) Send(msg *types.Message) error {
	if r.closed.Load() {
		return types.NewError(types.Cancelled, "router is closed")
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	stamped := msg.Clone()
	stamped.Timestamp = r.tick.Add(1)

	if stamped.Channel != "" {
		return r.publish(stamped)
	}
	if stamped.Destination == "" && stamped.IsLifecycleEvent() {
		// Broadcast lifecycle events reach observers only.
		r.committed(stamped)
		return nil
	}
	return r.deliver(stamped)
}

// deliver routes a direct message to its destination inbox.
func (r *Router) deliver(msg *types.Message) error {
	in, ok := r.Lookup(msg.Destination)
	if !ok {
		r.deadLetter(msg.Destination, msg)
		return types.NewError(types.UnknownIdentifier, "unknown destination: %s", msg.Destination)
	}
	if err := in.Enqueue(msg); err != nil {
		if types.IsKind(err, types.InboxFull) {
			return err
		}
		// Inbox closed between lookup and enqueue.
		r.deadLetter(msg.Destination, msg)
		return types.NewError(types.UnknownIdentifier, "destination unregistered: %s", msg.Destination)
	}
	r.committed(msg)
	return nil
}

// publish fans a message out to every channel member except the source. The
// membership set is captured at publication time.
func (r *Router) publish(msg *types.Message) error {
	name := msg.Channel
	if types.IsChannel(name) {
		name = types.ChannelName(name)
	}

	r.mu.RLock()
	ch, ok := r.channels[name]
	r.mu.RUnlock()
	if !ok {
		return types.NewError(types.UnknownIdentifier, "unknown channel: %s", name)
	}

	// Resolve every target up front so the fan-out is all-or-none.
	targets := make([]*Inbox, 0, len(ch.Members))
	for _, member := range ch.Members {
		if member == msg.Source {
			continue
		}
		in, found := r.Lookup(member)
		if !found || in.Closed() {
			return types.NewError(types.UnknownIdentifier, "channel %s member not routable: %s", name, member)
		}
		targets = append(targets, in)
	}

	// Claim a capacity slot on every target before filling any, so a full
	// member late in the list cannot leave earlier members with copies.
	reserved := make([]*Inbox, 0, len(targets))
	for _, in := range targets {
		if err := in.Reserve(); err != nil {
			for _, held := range reserved {
				held.Release()
			}
			if types.IsKind(err, types.InboxFull) {
				return types.NewError(types.InboxFull, "channel %s fan-out to %s: %v", name, in.Owner(), err)
			}
			return types.NewError(types.UnknownIdentifier, "channel %s member not routable: %s", name, in.Owner())
		}
		reserved = append(reserved, in)
	}

	for _, in := range targets {
		c := msg.Clone()
		c.Channel = name
		c.Destination = ""
		if err := in.Commit(c); err != nil {
			// The member unregistered after its slot was claimed; it is
			// being torn down concurrently, the rest still deliver.
			r.deadLetter(in.Owner(), c)
			continue
		}
		r.committed(c)
	}
	return nil
}

// committed records a successful enqueue and notifies listeners.
func (r *Router) committed(msg *types.Message) {
	r.routed.Add(1)
	r.touch()
	r.notifyListeners(msg)
}

func (r *Router) notifyListeners(msg *types.Message) {
	r.mu.RLock()
	listeners := r.listeners
	r.mu.RUnlock()
	if len(listeners) == 0 {
		return
	}
	c := msg.Clone()
	for _, fn := range listeners {
		notifyListener(fn, c)
	}
}

// notifyListener isolates listener panics from delivery.
func notifyListener(fn Listener, msg *types.Message) {
	defer func() { _ = recover() }()
	fn(msg)
}

// deadLetter emits a DeadLetter diagnostic for an undeliverable message.
func (r *Router) deadLetter(target types.Identifier, msg *types.Message) {
	r.dropped.Add(1)
	r.EmitDiagnostic(DiagnosticDeadLetter, target, msg.Content, map[string]string{
		"message_id": msg.ID,
		"source":     msg.Source,
	})
	r.logger.Warn("dead letter",
		zap.String("target", target),
		zap.String("message_id", msg.ID),
		zap.String("source", msg.Source))
}

// EmitDiagnostic places an event on the diagnostic inbox and notifies
// listeners. Diagnostic delivery is best-effort: a full diagnostic inbox drops
// the event, and diagnostics do not count as routed deliveries.
func (r *Router) EmitDiagnostic(kind string, about types.Identifier, detail string, extra map[string]string) {
	meta := map[string]string{
		MetaDiagnostic: kind,
		MetaAbout:      about,
	}
	for k, v := range extra {
		meta[k] = v
	}
	event := &types.Message{
		ID:          uuid.NewString(),
		Event:       types.EventMessage,
		Source:      "router",
		Destination: types.Diagnostic,
		Content:     detail,
		Metadata:    meta,
		Timestamp:   r.tick.Add(1),
	}
	if r.diag.Len() < r.inboxCapacity {
		if err := r.diag.Enqueue(event); err == nil {
			r.notifyListeners(event)
		}
	}
}

// Diagnostics returns the diagnostic inbox.
func (r *Router) Diagnostics() *Inbox { return r.diag }

// PendingMessages returns a copy of every message still queued in a
// registered inbox, grouped by owner in sorted order. Used by snapshots.
func (r *Router) PendingMessages() []*types.Message {
	r.mu.RLock()
	inboxes := make([]*Inbox, 0, len(r.inboxes))
	for _, in := range r.inboxes {
		inboxes = append(inboxes, in)
	}
	r.mu.RUnlock()

	sort.Slice(inboxes, func(i, j int) bool { return inboxes[i].Owner() < inboxes[j].Owner() })
	var out []*types.Message
	for _, in := range inboxes {
		out = append(out, in.Snapshot()...)
	}
	return out
}

// Now returns the most recently stamped monotonic tick.
func (r *Router) Now() int64 { return r.tick.Load() }

// RoutedCount returns the total number of committed deliveries.
func (r *Router) RoutedCount() int64 { return r.routed.Load() }

// LastActivity returns the time of the last routed message or recorded step.
func (r *Router) LastActivity() time.Time {
	return time.Unix(0, r.lastActivity.Load())
}

// Touch records activity outside routing, such as a completed agent step.
func (r *Router) Touch() { r.touch() }

func (r *Router) touch() { r.lastActivity.Store(time.Now().UnixNano()) }

// Close shuts the router down. Registered inboxes are closed; queued messages
// are dropped silently since the workspace is stopping.
func (r *Router) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	r.mu.Lock()
	inboxes := make([]*Inbox, 0, len(r.inboxes))
	for _, in := range r.inboxes {
		inboxes = append(inboxes, in)
	}
	r.inboxes = make(map[types.Identifier]*Inbox)
	r.mu.Unlock()

	for _, in := range inboxes {
		in.Close()
	}
	r.diag.Close()

	r.logger.Info("router closed",
		zap.Int64("total_routed", r.routed.Load()),
		zap.Int64("total_dropped", r.dropped.Load()))
}

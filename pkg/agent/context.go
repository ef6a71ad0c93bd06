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
package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/teradata-labs/chorus/pkg/types"
)

// Context is the facade an agent uses to talk to the engine during a single
// step. It is bound to exactly one agent and valid only for the duration of
// the step that received it.
type Context struct {
	rt  *Runtime
	ctx context.Context

	// outbound buffers sends until the step commits.
	outbound []*types.Message
}

// Name returns the identifier of the agent this context is bound to.
func (c *Context) Name() types.Identifier { return c.rt.cfg.Name }

// Send buffers a message for routing. Sends take effect in call order when
// the step commits; a failed step sends nothing. The target is resolved
// eagerly so unknown identifiers surface inside the step.
func (c *Context) Send(msg *types.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Source == "" {
		msg.Source = c.rt.cfg.Name
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.Channel != "" {
		name := msg.Channel
		if types.IsChannel(name) {
			name = types.ChannelName(name)
		}
		if _, ok := c.rt.cfg.Router.ChannelMembers(name); !ok {
			return types.NewError(types.UnknownIdentifier, "unknown channel: %s", name)
		}
	} else if msg.Destination != "" {
		if _, ok := c.rt.cfg.Router.Lookup(msg.Destination); !ok {
			return types.NewError(types.UnknownIdentifier, "unknown destination: %s", msg.Destination)
		}
	}
	c.outbound = append(c.outbound, msg)
	return nil
}

// ListChannels returns the names of the channels known to the router.
func (c *Context) ListChannels() []string {
	return c.rt.cfg.Router.ListChannels()
}

// ListInbox drains and returns every pending event for this agent in delivery
// order. Active agents use it to consume their inbox inside Iterate.
func (c *Context) ListInbox() []*types.Message {
	out := c.rt.takeStash()
	for {
		msg := c.rt.inbox.TryPop()
		if msg == nil {
			break
		}
		out = append(out, msg)
	}
	return out
}

// Now returns the router's current monotonic tick.
func (c *Context) Now() int64 { return c.rt.cfg.Router.Now() }

// Done is closed when the workspace is stopping. Handlers must check it at
// suspension points and return without mutating state when it fires.
func (c *Context) Done() <-chan struct{} { return c.ctx.Done() }

// Err returns the cancellation cause, or nil while the step may continue.
func (c *Context) Err() error { return c.ctx.Err() }

// TeamServices returns the client for the team services reachable from this
// agent.
func (c *Context) TeamServices() *ServiceClient { return &ServiceClient{c: c} }

// ServiceClient invokes team services on behalf of one agent. Requests are
// routed as team_service_request events; responses come back through the
// agent's inbox carrying the invocation id in reply_to.
type ServiceClient struct {
	c *Context
}

// List returns the service identifiers available to the agent.
func (s *ServiceClient) List() []types.Identifier {
	out := make([]types.Identifier, len(s.c.rt.cfg.Services))
	copy(out, s.c.rt.cfg.Services)
	return out
}

// Submit sends a service request without waiting for the observation. The
// response arrives later on the agent's inbox with reply_to set to the
// returned invocation id. Unlike Context.Send, the request is routed
// immediately so the service can start while the step continues.
func (s *ServiceClient) Submit(service types.Identifier, inv types.ToolInvocation, deadline time.Duration) (string, error) {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	req := &types.Message{
		ID:          uuid.NewString(),
		Event:       types.EventServiceRequest,
		Source:      s.c.rt.cfg.Name,
		Destination: service,
		Role:        types.RoleAssistant,
		Actions:     []types.ToolInvocation{inv},
	}
	if deadline > 0 {
		req.DeadlineMillis = deadline.Milliseconds()
	}
	if err := s.c.rt.cfg.Router.Send(req); err != nil {
		return "", err
	}
	return inv.ID, nil
}

// Invoke submits a request and blocks until its observation arrives. Events
// received while waiting are stashed and replayed to the scheduler in order.
// Cancellation yields an observation with error kind Cancelled.
func (s *ServiceClient) Invoke(service types.Identifier, inv types.ToolInvocation, deadline time.Duration) (*types.ToolObservation, error) {
	id, err := s.Submit(service, inv, deadline)
	if err != nil {
		return nil, err
	}
	return s.Await(id)
}

// Await blocks until the observation for the given invocation id arrives.
func (s *ServiceClient) Await(invocationID string) (*types.ToolObservation, error) {
	rt := s.c.rt
	for {
		msg, err := rt.inbox.Pop(s.c.ctx)
		if err != nil {
			return &types.ToolObservation{
				OK:    false,
				Error: types.NewError(types.Cancelled, "wait for %s interrupted", invocationID),
			}, nil
		}
		if msg.Type() == types.EventServiceResponse && msg.ReplyTo == invocationID {
			if len(msg.Observations) > 0 {
				obs := msg.Observations[0]
				return &obs, nil
			}
			return &types.ToolObservation{OK: false}, nil
		}
		rt.pushStash(msg)
	}
}

// MarshalState encodes an agent state the way snapshots do. Exposed for
// agents that want to checkpoint inside their own handlers.
func MarshalState(state State) (json.RawMessage, error) {
	return json.Marshal(state)
}

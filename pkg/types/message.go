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
package types

import (
	"encoding/json"

	"github.com/google/uuid"
)

// EventType classifies the events flowing through the router.
type EventType string

const (
	EventMessage         EventType = "message"
	EventServiceRequest  EventType = "team_service_request"
	EventServiceResponse EventType = "team_service_response"
	EventAgentStarted    EventType = "agent_started"
	EventAgentStopped    EventType = "agent_stopped"
	EventSnapshot        EventType = "snapshot"
)

// Role identifies the speaker role of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// ToolInvocation is a request to execute a named tool.
type ToolInvocation struct {
	// ID correlates the invocation with its observation. Unique per
	// (requesting agent, invocation).
	ID        string         `json:"invocation_id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolObservation is the outcome of a tool invocation.
type ToolObservation struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Message is the immutable envelope exchanged between principals. Exactly one
// of Destination or Channel is set, except for broadcast lifecycle events
// (agent_started, agent_stopped, snapshot) which may carry neither.
//
// Messages must not be mutated after they are handed to the router; Clone
// before changing anything.
type Message struct {
	ID           string            `json:"message_id"`
	Event        EventType         `json:"event,omitempty"`
	Source       Identifier        `json:"source,omitempty"`
	Destination  Identifier        `json:"destination,omitempty"`
	Channel      Identifier        `json:"channel,omitempty"`
	Content      string            `json:"content,omitempty"`
	Role         Role              `json:"role,omitempty"`
	Actions      []ToolInvocation  `json:"actions,omitempty"`
	Observations []ToolObservation `json:"observations,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`

	// Timestamp is a monotonic tick stamped by the router on send.
	Timestamp int64 `json:"timestamp"`

	// ReplyTo carries the message id (or invocation id for service
	// responses) this message answers.
	ReplyTo string `json:"reply_to,omitempty"`

	// DeadlineMillis bounds the execution of a service request. Zero means
	// no deadline.
	DeadlineMillis int64 `json:"deadline_ms,omitempty"`
}

// NewMessage creates a direct message with a fresh id.
func NewMessage(source, destination Identifier, content string) *Message {
	return &Message{
		ID:          uuid.NewString(),
		Event:       EventMessage,
		Source:      source,
		Destination: destination,
		Content:     content,
	}
}

// NewChannelMessage creates a channel publication with a fresh id.
func NewChannelMessage(source, channel Identifier, content string) *Message {
	return &Message{
		ID:      uuid.NewString(),
		Event:   EventMessage,
		Source:  source,
		Channel: channel,
		Content: content,
	}
}

// Type returns the event type, defaulting to EventMessage when unset.
func (m *Message) Type() EventType {
	if m.Event == "" {
		return EventMessage
	}
	return m.Event
}

// IsServiceEvent reports whether the message is a team service request or
// response.
func (m *Message) IsServiceEvent() bool {
	t := m.Type()
	return t == EventServiceRequest || t == EventServiceResponse
}

// IsLifecycleEvent reports whether the message is a broadcast lifecycle
// event exempt from the destination/channel exclusivity rule.
func (m *Message) IsLifecycleEvent() bool {
	switch m.Type() {
	case EventAgentStarted, EventAgentStopped, EventSnapshot:
		return true
	}
	return false
}

// Validate checks the envelope invariants. Service events always carry a
// destination; lifecycle events may carry neither destination nor channel;
// everything else carries exactly one of the two.
func (m *Message) Validate() error {
	if m.IsServiceEvent() {
		if m.Destination == "" {
			return NewError(MalformedEnvelope, "service event without destination")
		}
		return nil
	}
	if m.IsLifecycleEvent() {
		return nil
	}
	hasDest := m.Destination != ""
	hasChannel := m.Channel != ""
	if hasDest == hasChannel {
		return NewError(MalformedEnvelope, "exactly one of destination or channel must be set")
	}
	return nil
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	if m.Actions != nil {
		c.Actions = make([]ToolInvocation, len(m.Actions))
		copy(c.Actions, m.Actions)
		for i, a := range m.Actions {
			if a.Arguments != nil {
				args := make(map[string]any, len(a.Arguments))
				for k, v := range a.Arguments {
					args[k] = v
				}
				c.Actions[i].Arguments = args
			}
		}
	}
	if m.Observations != nil {
		c.Observations = make([]ToolObservation, len(m.Observations))
		copy(c.Observations, m.Observations)
	}
	if m.Metadata != nil {
		c.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// WithMetadata returns a clone with the given metadata key set.
func (m *Message) WithMetadata(key, value string) *Message {
	c := m.Clone()
	if c.Metadata == nil {
		c.Metadata = make(map[string]string, 1)
	}
	c.Metadata[key] = value
	return c
}

// Channel is a named multicast group. Fan-out uses the membership set at
// publication time and never delivers back to the source.
type ChannelInfo struct {
	Name     string            `json:"name"`
	Members  []string          `json:"members"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// HasMember reports whether name is a member of the channel.
func (c *ChannelInfo) HasMember(name string) bool {
	for _, m := range c.Members {
		if m == name {
			return true
		}
	}
	return false
}

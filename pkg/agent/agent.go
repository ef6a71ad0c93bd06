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

// Package agent hosts the per-agent concurrent runtime. Each agent runs on
// its own goroutine, owns its state exclusively, and talks to the rest of the
// workspace only through its Context.
package agent

import (
	"encoding/json"

	"github.com/teradata-labs/chorus/pkg/types"
)

// State is the agent's private state. It is opaque to the engine and must be
// JSON-serializable for snapshots. The runtime commits a returned state
// atomically after the handler succeeds; returning nil signals no change.
type State any

// Kind selects the scheduling mode of an agent.
type Kind int

const (
	// KindPassive agents are driven only by inbound messages.
	KindPassive Kind = iota
	// KindActive agents are driven by a periodic iterate step.
	KindActive
)

func (k Kind) String() string {
	if k == KindActive {
		return "active"
	}
	return "passive"
}

// ParseKind converts a kind name; unrecognized values default to passive.
func ParseKind(s string) Kind {
	if s == "active" {
		return KindActive
	}
	return KindPassive
}

// Agent is the capability set every agent implementation exposes. The runtime
// calls InitState exactly once, then Respond (passive) or Iterate (active)
// with exactly one step in flight at any time.
//
// Handlers may block on Context.TeamServices().Invoke and must observe
// Context.Done at suspension points. A returned error (or panic) aborts the
// step: state stays unchanged and nothing buffered is sent.
type Agent interface {
	InitState(c *Context) (State, error)
	Respond(c *Context, state State, msg *types.Message) (State, error)
	Iterate(c *Context, state State) (State, error)
}

// StateRestorer is implemented by agents that can decode a snapshot state
// back into their own state type. Agents without it receive the raw JSON as
// their state on restore.
type StateRestorer interface {
	RestoreState(raw json.RawMessage) (State, error)
}

// PassiveBase provides a no-op Iterate for passive agents.
type PassiveBase struct{}

// Iterate is never scheduled for passive agents.
func (PassiveBase) Iterate(c *Context, state State) (State, error) { return nil, nil }

// ActiveBase provides a no-op Respond for active agents, which consume their
// inbox inside Iterate instead.
type ActiveBase struct{}

// Respond is never scheduled for active agents.
func (ActiveBase) Respond(c *Context, state State, msg *types.Message) (State, error) {
	return nil, nil
}

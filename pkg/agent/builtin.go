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
	"encoding/json"

	"github.com/teradata-labs/chorus/pkg/types"
)

// Built-in agent type names.
const (
	TypeEcho  = "EchoAgent"
	TypeRelay = "RelayAgent"
)

// RegisterBuiltins adds the built-in agent types to a registry.
func RegisterBuiltins(reg *Registry) {
	reg.Register(TypeEcho, func(spec Spec) (Agent, Kind, error) {
		reply := spec.Instruction
		if reply == "" {
			reply = "Hello."
		}
		return &EchoAgent{Reply: reply}, KindPassive, nil
	})
	reg.Register(TypeRelay, func(spec Spec) (Agent, Kind, error) {
		var targets []types.Identifier
		targets = append(targets, spec.ReachableAgents...)
		return &RelayAgent{Targets: targets}, KindPassive, nil
	})
}

// EchoAgent replies to every inbound message with a fixed reply. Its state
// counts the messages seen.
type EchoAgent struct {
	PassiveBase
	Reply string
}

// EchoState is the serializable state of an EchoAgent.
type EchoState struct {
	Seen int `json:"seen"`
}

func (a *EchoAgent) InitState(c *Context) (State, error) {
	return &EchoState{}, nil
}

func (a *EchoAgent) RestoreState(raw json.RawMessage) (State, error) {
	var s EchoState
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (a *EchoAgent) Respond(c *Context, state State, msg *types.Message) (State, error) {
	// Lifecycle and service traffic is not conversational.
	if msg.Type() != types.EventMessage {
		return nil, nil
	}
	if err := c.Send(types.NewMessage(c.Name(), msg.Source, a.Reply)); err != nil {
		return nil, err
	}
	s := *(state.(*EchoState))
	s.Seen++
	return &s, nil
}

// RelayAgent forwards every inbound message to its configured targets,
// preserving the content.
type RelayAgent struct {
	PassiveBase
	Targets []types.Identifier
}

func (a *RelayAgent) InitState(c *Context) (State, error) {
	return &EchoState{}, nil
}

func (a *RelayAgent) RestoreState(raw json.RawMessage) (State, error) {
	var s EchoState
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (a *RelayAgent) Respond(c *Context, state State, msg *types.Message) (State, error) {
	if msg.Type() != types.EventMessage {
		return nil, nil
	}
	for _, target := range a.Targets {
		if target == msg.Source {
			continue
		}
		fwd := types.NewMessage(c.Name(), target, msg.Content)
		fwd.ReplyTo = msg.ID
		if err := c.Send(fwd); err != nil {
			return nil, err
		}
	}
	s := *(state.(*EchoState))
	s.Seen++
	return &s, nil
}

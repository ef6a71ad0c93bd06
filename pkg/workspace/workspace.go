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

// Package workspace assembles agents, teams and channels into a running
// session: a Controller starts every runtime, delivers the configured start
// messages and shuts everything down once a stop condition fires.
package workspace

import (
	"fmt"

	"github.com/teradata-labs/chorus/pkg/agent"
	"github.com/teradata-labs/chorus/pkg/types"
)

// Definition is the declarative description of one workspace.
type Definition struct {
	Title       string `json:"title" mapstructure:"title"`
	Description string `json:"description,omitempty" mapstructure:"description"`

	// MainChannel is the channel start messages without an explicit target
	// are published to. Empty selects the first team, else the first agent.
	MainChannel string `json:"main_channel,omitempty" mapstructure:"main_channel"`

	StartMessages  []StartMessage `json:"start_messages,omitempty" mapstructure:"start_messages"`
	StopConditions []StopSpec     `json:"stop_conditions,omitempty" mapstructure:"stop_conditions"`
	Agents         []agent.Spec   `json:"agents" mapstructure:"agents"`
	Teams          []TeamSpec     `json:"teams,omitempty" mapstructure:"teams"`
	Channels       []ChannelSpec  `json:"channels,omitempty" mapstructure:"channels"`
}

// StartMessage is the wire form of a message delivered at startup.
type StartMessage struct {
	Source      string            `json:"source" mapstructure:"source"`
	Destination string            `json:"destination,omitempty" mapstructure:"destination"`
	Channel     string            `json:"channel,omitempty" mapstructure:"channel"`
	Content     string            `json:"content" mapstructure:"content"`
	Metadata    map[string]string `json:"metadata,omitempty" mapstructure:"metadata"`
}

// TeamSpec is the declarative description of one team.
type TeamSpec struct {
	Name          string            `json:"name" mapstructure:"name"`
	Agents        []string          `json:"agents" mapstructure:"agents"`
	Collaboration CollaborationSpec `json:"collaboration" mapstructure:"collaboration"`
	Services      []string          `json:"services,omitempty" mapstructure:"services"`
}

// CollaborationSpec selects a team's collaboration policy.
type CollaborationSpec struct {
	Type        string `json:"type" mapstructure:"type"`
	Coordinator string `json:"coordinator,omitempty" mapstructure:"coordinator"`
}

// ChannelSpec declares a broadcast channel and its members.
type ChannelSpec struct {
	Name    string   `json:"name" mapstructure:"name"`
	Members []string `json:"members" mapstructure:"members"`
}

// Validate checks the internal consistency of a definition: unique agent
// names, team members that resolve, channel members that resolve.
func (d *Definition) Validate() error {
	if len(d.Agents) == 0 {
		return fmt.Errorf("workspace %q declares no agents", d.Title)
	}
	agents := make(map[string]bool, len(d.Agents))
	for _, a := range d.Agents {
		if a.Name == "" {
			return fmt.Errorf("workspace %q: agent without a name", d.Title)
		}
		if a.Type == "" {
			return fmt.Errorf("agent %s: missing type", a.Name)
		}
		if agents[a.Name] {
			return fmt.Errorf("duplicate agent name: %s", a.Name)
		}
		agents[a.Name] = true
	}
	for _, t := range d.Teams {
		if t.Name == "" {
			return fmt.Errorf("workspace %q: team without a name", d.Title)
		}
		if len(t.Agents) == 0 {
			return fmt.Errorf("team %s declares no members", t.Name)
		}
		for _, m := range t.Agents {
			if !agents[m] {
				return fmt.Errorf("team %s: unknown member %s", t.Name, m)
			}
		}
	}
	for _, ch := range d.Channels {
		if ch.Name == "" {
			return fmt.Errorf("workspace %q: channel without a name", d.Title)
		}
		for _, m := range ch.Members {
			if !agents[m] && m != types.User {
				return fmt.Errorf("channel %s: unknown member %s", ch.Name, m)
			}
		}
	}
	return nil
}

// ResolveMainChannel returns the configured main channel, inferring one when
// unset: the first team's name, else the first agent's name.
func (d *Definition) ResolveMainChannel() string {
	if d.MainChannel != "" {
		return d.MainChannel
	}
	if len(d.Teams) > 0 {
		return d.Teams[0].Name
	}
	if len(d.Agents) > 0 {
		return d.Agents[0].Name
	}
	return ""
}

// message converts the wire form into a routable message.
func (sm StartMessage) message() *types.Message {
	var msg *types.Message
	switch {
	case sm.Channel != "":
		msg = types.NewChannelMessage(sm.Source, sm.Channel, sm.Content)
	default:
		msg = types.NewMessage(sm.Source, sm.Destination, sm.Content)
	}
	if len(sm.Metadata) > 0 {
		msg.Metadata = make(map[string]string, len(sm.Metadata))
		for k, v := range sm.Metadata {
			msg.Metadata[k] = v
		}
	}
	return msg
}

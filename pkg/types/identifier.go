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

// Package types contains the shared data model of the chorus runtime:
// identifiers, the message envelope, channels, tool invocations and the
// error kinds surfaced by the router and the service runtimes.
package types

import (
	"fmt"
	"strings"
)

// Identifier names a principal in the flat, case-sensitive naming space.
// Agents are named directly ("researcher"), teams as "team:<name>", channels
// as "channel:<name>", team services as "service:<team>/<tool>". The human
// user is the reserved identifier "human".
type Identifier = string

// User is the identifier of the human participant.
const User Identifier = "human"

// Diagnostic is the identifier of the runtime diagnostic inbox. Dead letters
// and handler crash events are delivered here.
const Diagnostic Identifier = "diagnostic"

const (
	teamPrefix    = "team:"
	channelPrefix = "channel:"
	servicePrefix = "service:"
)

// TeamIdentifier returns the identifier for a team name.
func TeamIdentifier(name string) Identifier {
	return teamPrefix + name
}

// ChannelIdentifier returns the identifier for a channel name.
func ChannelIdentifier(name string) Identifier {
	return channelPrefix + name
}

// ServiceIdentifier returns the identifier for a tool service owned by a team.
func ServiceIdentifier(team, tool string) Identifier {
	return fmt.Sprintf("%s%s/%s", servicePrefix, team, tool)
}

// IsTeam reports whether id names a team.
func IsTeam(id Identifier) bool { return strings.HasPrefix(id, teamPrefix) }

// IsChannel reports whether id names a channel.
func IsChannel(id Identifier) bool { return strings.HasPrefix(id, channelPrefix) }

// IsService reports whether id names a team service.
func IsService(id Identifier) bool { return strings.HasPrefix(id, servicePrefix) }

// TeamName extracts the team name from a team identifier.
// Returns "" if id is not a team identifier.
func TeamName(id Identifier) string {
	if !IsTeam(id) {
		return ""
	}
	return strings.TrimPrefix(id, teamPrefix)
}

// ChannelName extracts the channel name from a channel identifier.
// Returns "" if id is not a channel identifier.
func ChannelName(id Identifier) string {
	if !IsChannel(id) {
		return ""
	}
	return strings.TrimPrefix(id, channelPrefix)
}

// ServiceName splits a service identifier into team and tool name.
// Returns ("", "") if id is not a service identifier.
func ServiceName(id Identifier) (team, tool string) {
	if !IsService(id) {
		return "", ""
	}
	rest := strings.TrimPrefix(id, servicePrefix)
	team, tool, ok := strings.Cut(rest, "/")
	if !ok {
		return "", ""
	}
	return team, tool
}

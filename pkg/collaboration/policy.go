// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package collaboration

import (
	"fmt"

	"github.com/teradata-labs/chorus/pkg/types"
)

// Built-in policy type names, as they appear in workspace configuration.
const (
	TypeCentralized   = "centralized"
	TypeDecentralized = "decentralized"
)

// MetaExternalSource carries the identifier of the external sender whose
// request a team is currently handling. The team runtime stamps it on
// messages before handing them to a policy; policies themselves stay pure.
const MetaExternalSource = "external_source"

// Routed is one delivery produced by a policy: the rewritten message and the
// identifier (agent or channel) it should be routed to.
type Routed struct {
	Target types.Identifier
	Msg    *types.Message
}

// Config is the static team configuration a policy is constructed from.
type Config struct {
	Team        string
	Members     []types.Identifier
	Coordinator types.Identifier
}

// IsMember reports whether name is one of the configured members.
func (c Config) IsMember(name types.Identifier) bool {
	for _, m := range c.Members {
		if m == name {
			return true
		}
	}
	return false
}

// Policy rewrites team-addressed messages into per-agent deliveries. A policy
// is a pure function of the message plus the team's static configuration; it
// must not retain state across calls.
type Policy interface {
	// Name returns the policy type name.
	Name() string

	// OnInbound handles a team-addressed message arriving from outside the
	// team.
	OnInbound(msg *types.Message) []Routed

	// OnMemberOutbound handles a member's message addressed to the team
	// identifier.
	OnMemberOutbound(msg *types.Message) []Routed
}

// New builds a policy from its type name and team configuration.
func New(policyType string, cfg Config) (Policy, error) {
	if cfg.Team == "" {
		return nil, fmt.Errorf("collaboration policy requires a team name")
	}
	switch policyType {
	case TypeCentralized, "": // centralized is the default
		if cfg.Coordinator == "" {
			return nil, fmt.Errorf("centralized policy for team %s requires a coordinator", cfg.Team)
		}
		if !cfg.IsMember(cfg.Coordinator) {
			return nil, fmt.Errorf("coordinator %s is not a member of team %s", cfg.Coordinator, cfg.Team)
		}
		return &Centralized{cfg: cfg}, nil
	case TypeDecentralized:
		return &Decentralized{cfg: cfg}, nil
	default:
		return nil, fmt.Errorf("unsupported collaboration policy: %q", policyType)
	}
}

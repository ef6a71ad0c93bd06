// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package collaboration

import (
	"github.com/teradata-labs/chorus/pkg/types"
)

// Centralized funnels all team-addressed traffic through a single coordinator
// member. External senders reach only the coordinator; replies the coordinator
// addresses to the team flow back to the original external sender. Direct
// agent-to-agent messages inside the team are never rewritten (they bypass the
// team identifier entirely).
type Centralized struct {
	cfg Config
}

func (p *Centralized) Name() string { return TypeCentralized }

// OnInbound re-addresses an external team-addressed message to the
// coordinator. The source is preserved so the coordinator can attribute the
// request.
func (p *Centralized) OnInbound(msg *types.Message) []Routed {
	out := msg.Clone()
	out.Destination = p.cfg.Coordinator
	out.Channel = ""
	return []Routed{{Target: p.cfg.Coordinator, Msg: out}}
}

// OnMemberOutbound routes a member's team-addressed message. Non-coordinator
// members are funneled to the coordinator; the coordinator's own messages go
// back to the external sender recorded on the message.
func (p *Centralized) OnMemberOutbound(msg *types.Message) []Routed {
	if msg.Source != p.cfg.Coordinator {
		out := msg.Clone()
		out.Destination = p.cfg.Coordinator
		out.Channel = ""
		return []Routed{{Target: p.cfg.Coordinator, Msg: out}}
	}

	target := types.Identifier(msg.Metadata[MetaExternalSource])
	if target == "" {
		target = types.User
	}
	out := msg.Clone()
	out.Destination = target
	out.Channel = ""
	return []Routed{{Target: target, Msg: out}}
}

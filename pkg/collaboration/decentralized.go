// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package collaboration

import (
	"github.com/teradata-labs/chorus/pkg/types"
)

// Decentralized broadcasts team-addressed traffic to every member over an
// internal channel named after the team. The router's fan-out excludes the
// sender, so a member's own broadcast never loops back to it.
type Decentralized struct {
	cfg Config
}

func (p *Decentralized) Name() string { return TypeDecentralized }

func (p *Decentralized) OnInbound(msg *types.Message) []Routed {
	return p.broadcast(msg)
}

func (p *Decentralized) OnMemberOutbound(msg *types.Message) []Routed {
	return p.broadcast(msg)
}

func (p *Decentralized) broadcast(msg *types.Message) []Routed {
	channel := types.ChannelIdentifier(p.cfg.Team)
	out := msg.Clone()
	out.Destination = ""
	out.Channel = p.cfg.Team
	return []Routed{{Target: channel, Msg: out}}
}

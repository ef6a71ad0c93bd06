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

// Package team implements teams: named groups of agents sharing a
// collaboration policy and a set of services. A team intercepts every message
// addressed to its team identifier and lets the policy rewrite it into
// per-agent deliveries; services run on their own goroutines and answer tool
// invocations.
package team

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/chorus/pkg/collaboration"
	"github.com/teradata-labs/chorus/pkg/router"
	"github.com/teradata-labs/chorus/pkg/types"
)

// Config describes a team.
type Config struct {
	Name    string
	Members []types.Identifier

	// PolicyType selects the collaboration policy; empty means centralized.
	PolicyType  string
	Coordinator types.Identifier

	// Services maps service names to their executors.
	Services map[string]Executor

	// Parallelism bounds concurrent invocations per service. Zero selects
	// the default.
	Parallelism int

	Router *router.Router
	Logger *zap.Logger
}

// Team is the runtime around one team. It owns the team inbox, the policy and
// the service runtimes.
type Team struct {
	cfg    Config
	id     types.Identifier
	policy collaboration.Policy

	services []*Service
	members  map[types.Identifier]bool

	ctx    context.Context
	cancel context.CancelFunc
	inbox  *router.Inbox
	done   chan struct{}

	// lastExternal remembers the most recent external sender so coordinator
	// replies can be routed back. Only the run goroutine touches it.
	lastExternal types.Identifier

	logger *zap.Logger
}

// New validates the configuration and builds the team with its policy and
// service runtimes. Nothing is registered with the router until Start.
func New(cfg Config) (*Team, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("team requires a name")
	}
	if cfg.Router == nil {
		return nil, fmt.Errorf("team %s requires a router", cfg.Name)
	}
	if len(cfg.Members) == 0 {
		return nil, fmt.Errorf("team %s requires at least one member", cfg.Name)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	members := make(map[types.Identifier]bool, len(cfg.Members))
	for _, m := range cfg.Members {
		if members[m] {
			return nil, fmt.Errorf("team %s: duplicate member %s", cfg.Name, m)
		}
		members[m] = true
	}

	policy, err := collaboration.New(cfg.PolicyType, collaboration.Config{
		Team:        cfg.Name,
		Members:     cfg.Members,
		Coordinator: cfg.Coordinator,
	})
	if err != nil {
		return nil, fmt.Errorf("team %s: %w", cfg.Name, err)
	}

	logger := cfg.Logger.With(zap.String("team", cfg.Name))
	t := &Team{
		cfg:     cfg,
		id:      types.TeamIdentifier(cfg.Name),
		policy:  policy,
		members: members,
		done:    make(chan struct{}),
		logger:  logger,
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())

	seen := make(map[string]bool, len(cfg.Services))
	for name, exec := range cfg.Services {
		if seen[name] {
			return nil, fmt.Errorf("team %s: duplicate service %s", cfg.Name, name)
		}
		seen[name] = true
		svc, err := NewService(cfg.Name, name, exec, cfg.Router, cfg.Parallelism, logger)
		if err != nil {
			return nil, err
		}
		t.services = append(t.services, svc)
	}
	return t, nil
}

// ID returns the routable team identifier.
func (t *Team) ID() types.Identifier { return t.id }

// Name returns the team name.
func (t *Team) Name() string { return t.cfg.Name }

// Members returns the configured member identifiers in order.
func (t *Team) Members() []types.Identifier {
	out := make([]types.Identifier, len(t.cfg.Members))
	copy(out, t.cfg.Members)
	return out
}

// ServiceIDs returns the identifiers of the team's services.
func (t *Team) ServiceIDs() []types.Identifier {
	out := make([]types.Identifier, 0, len(t.services))
	for _, svc := range t.services {
		out = append(out, svc.ID())
	}
	return out
}

// Start checks that every member resolves, registers the team inbox and
// launches the policy loop and the service runtimes.
func (t *Team) Start() error {
	for _, m := range t.cfg.Members {
		if _, ok := t.cfg.Router.Lookup(m); !ok {
			return fmt.Errorf("team %s: member %s is not a registered agent", t.cfg.Name, m)
		}
	}

	if t.policy.Name() == collaboration.TypeDecentralized {
		members := make([]string, len(t.cfg.Members))
		copy(members, t.cfg.Members)
		if err := t.cfg.Router.AddChannel(&types.ChannelInfo{Name: t.cfg.Name, Members: members}); err != nil {
			return fmt.Errorf("team %s: broadcast channel: %w", t.cfg.Name, err)
		}
	}

	inbox, err := t.cfg.Router.Register(t.id)
	if err != nil {
		return fmt.Errorf("register team %s: %w", t.cfg.Name, err)
	}
	t.inbox = inbox

	for i, svc := range t.services {
		if err := svc.Start(); err != nil {
			for _, started := range t.services[:i] {
				started.Stop(time.Second)
			}
			t.cfg.Router.Unregister(t.id)
			return err
		}
	}

	go t.run()
	return nil
}

// Stop drains the services with the given grace, then shuts down the policy
// loop. Blocks until everything has exited.
func (t *Team) Stop(grace time.Duration) {
	for _, svc := range t.services {
		svc.Stop(grace)
	}
	t.cancel()
	<-t.done
	t.cfg.Router.Unregister(t.id)
}

// run applies the collaboration policy to every team-addressed message.
func (t *Team) run() {
	defer close(t.done)
	for {
		msg, err := t.inbox.Pop(t.ctx)
		if err != nil {
			return
		}
		t.dispatch(msg)
	}
}

func (t *Team) dispatch(msg *types.Message) {
	var routed []collaboration.Routed
	if t.members[msg.Source] {
		if msg.Metadata[collaboration.MetaExternalSource] == "" && t.lastExternal != "" {
			msg = msg.WithMetadata(collaboration.MetaExternalSource, t.lastExternal)
		}
		routed = t.policy.OnMemberOutbound(msg)
	} else {
		t.lastExternal = msg.Source
		routed = t.policy.OnInbound(msg.WithMetadata(collaboration.MetaExternalSource, msg.Source))
	}

	for _, r := range routed {
		if err := t.cfg.Router.Send(r.Msg); err != nil {
			t.logger.Warn("policy delivery failed",
				zap.String("target", r.Target),
				zap.String("policy", t.policy.Name()),
				zap.Error(err))
			t.cfg.Router.EmitDiagnostic(router.DiagnosticDeadLetter, t.id,
				err.Error(), map[string]string{"message_id": r.Msg.ID})
		}
	}
}

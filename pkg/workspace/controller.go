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
package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/chorus/pkg/agent"
	"github.com/teradata-labs/chorus/pkg/history"
	"github.com/teradata-labs/chorus/pkg/router"
	"github.com/teradata-labs/chorus/pkg/team"
	"github.com/teradata-labs/chorus/pkg/types"
)

// Controller configuration defaults.
const (
	// DefaultStopPollInterval is how often the stop evaluator re-checks its
	// conditions.
	DefaultStopPollInterval = 50 * time.Millisecond
	// DefaultServiceGrace bounds service draining during shutdown.
	DefaultServiceGrace = 5 * time.Second
)

// ServiceFactory builds a service executor by name for team specs.
type ServiceFactory func() team.Executor

// Config configures a workspace controller.
type Config struct {
	Definition *Definition

	// Registry resolves AgentSpec.Type values. Required.
	Registry *agent.Registry

	// ServiceFactories resolves TeamSpec service names. The built-in
	// scratchpad and storage services are always available.
	ServiceFactories map[string]ServiceFactory

	// FailFast tears the workspace down on the first agent crash instead of
	// isolating it.
	FailFast bool

	// HistoryPath, when set, records every routed message into a SQLite
	// store at this path.
	HistoryPath string

	// ServiceGrace bounds service draining on stop. Zero selects the
	// default.
	ServiceGrace time.Duration

	// StopPollInterval overrides the evaluator poll cadence. Zero selects
	// the default.
	StopPollInterval time.Duration

	Logger *zap.Logger
}

// Controller owns one workspace session: the router, the agent runtimes, the
// teams and the stop evaluator.
type Controller struct {
	cfg    Config
	def    *Definition
	logger *zap.Logger

	router   *router.Router
	runtimes map[types.Identifier]*agent.Runtime
	teams    []*team.Team
	running  []*team.Team
	history  *history.Store
	user     *router.Inbox

	// mainDest / mainChannel is the resolved default target for start
	// messages without one.
	mainDest    types.Identifier
	mainChannel string

	eval     *evaluator
	stopOnce sync.Once
	stopped  chan struct{}
	started  bool

	// restored holds snapshot data applied at Start.
	restoredStates  map[string]json.RawMessage
	restoredPending []*types.Message

	mu        sync.Mutex
	listeners []router.Listener
}

// NewController validates the definition and prepares a controller. Nothing
// runs until Start.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Definition == nil {
		return nil, fmt.Errorf("controller requires a workspace definition")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("controller requires an agent registry")
	}
	if err := cfg.Definition.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ServiceGrace <= 0 {
		cfg.ServiceGrace = DefaultServiceGrace
	}
	if cfg.StopPollInterval <= 0 {
		cfg.StopPollInterval = DefaultStopPollInterval
	}
	return &Controller{
		cfg:      cfg,
		def:      cfg.Definition,
		logger:   cfg.Logger.With(zap.String("workspace", cfg.Definition.Title)),
		runtimes: make(map[types.Identifier]*agent.Runtime),
		stopped:  make(chan struct{}),
	}, nil
}

// AddMessageListener attaches a best-effort observer for every routed message.
// Listeners added before Start are installed on the router at Start; listeners
// added later attach immediately.
func (c *Controller) AddMessageListener(fn router.Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.router != nil {
		c.router.Subscribe(fn)
		return
	}
	c.listeners = append(c.listeners, fn)
}

// Load restores a snapshot taken by Snapshot. Must be called before Start;
// restored agent states replace InitState results and restored pending
// messages are re-delivered at startup.
func (c *Controller) Load(path string) error {
	if c.started {
		return fmt.Errorf("load after start")
	}
	pending, states, err := ReadSnapshotFile(path)
	if err != nil {
		return err
	}
	c.restoredPending = pending
	c.restoredStates = states
	return nil
}

// UserInbox returns the inbox collecting messages addressed to the human
// principal. Valid after Start.
func (c *Controller) UserInbox() *router.Inbox { return c.user }

// Router exposes the session router. Valid after Start.
func (c *Controller) Router() *router.Router { return c.router }

// Start is non-blocking: it registers every principal, spins up the runtimes
// and teams, and delivers the configured start messages.
func (c *Controller) Start() error {
	if c.started {
		return fmt.Errorf("workspace %q already started", c.def.Title)
	}
	c.started = true

	c.router = router.New(c.logger)

	c.mu.Lock()
	pending := c.listeners
	c.listeners = nil
	c.mu.Unlock()
	for _, fn := range pending {
		c.router.Subscribe(fn)
	}

	if c.cfg.HistoryPath != "" {
		store, err := history.Open(c.cfg.HistoryPath, c.logger)
		if err != nil {
			c.router.Close()
			return fmt.Errorf("open history store: %w", err)
		}
		c.history = store
		c.router.Subscribe(store.Record)
	}

	if err := c.buildStopConditions(); err != nil {
		return c.abortStart(err)
	}

	user, err := c.router.Register(types.User)
	if err != nil {
		return c.abortStart(err)
	}
	c.user = user

	services, err := c.buildTeams()
	if err != nil {
		return c.abortStart(err)
	}
	if err := c.buildRuntimes(services); err != nil {
		return c.abortStart(err)
	}

	for _, ch := range c.def.Channels {
		members := append([]string(nil), ch.Members...)
		if err := c.router.AddChannel(&types.ChannelInfo{Name: ch.Name, Members: members}); err != nil {
			return c.abortStart(err)
		}
	}

	for _, rt := range c.runtimes {
		if err := rt.Start(); err != nil {
			return c.abortStart(err)
		}
	}
	c.awaitAgentsReady()

	// Teams start after agents so member resolution succeeds.
	for _, tm := range c.teams {
		if err := tm.Start(); err != nil {
			return c.abortStart(err)
		}
		c.running = append(c.running, tm)
	}

	c.resolveMainTarget()

	for _, msg := range c.restoredPending {
		if err := c.router.Send(msg); err != nil {
			c.logger.Warn("restored message dropped", zap.String("id", msg.ID), zap.Error(err))
		}
	}
	c.restoredPending = nil

	for _, sm := range c.def.StartMessages {
		msg := sm.message()
		if msg.Destination == "" && msg.Channel == "" {
			msg.Destination = c.mainDest
			msg.Channel = c.mainChannel
		}
		if err := c.router.Send(msg); err != nil {
			return c.abortStart(fmt.Errorf("start message: %w", err))
		}
	}

	c.logger.Info("workspace started",
		zap.Int("agents", len(c.runtimes)),
		zap.Int("teams", len(c.teams)))
	return nil
}

func (c *Controller) abortStart(err error) error {
	c.Stop()
	return err
}

// Run starts the workspace and blocks until a stop condition fires, the
// context is cancelled, or Stop is called.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Start(); err != nil {
		return err
	}

	ticker := time.NewTicker(c.cfg.StopPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Stop()
			return ctx.Err()
		case <-c.stopped:
			return nil
		case <-ticker.C:
			if cond := c.eval.met(c.router.RoutedCount(), c.router.LastActivity()); cond != nil {
				c.logger.Info("stop condition met", zap.String("condition", cond.Description()))
				c.Stop()
				return nil
			}
		}
	}
}

// Stop signals shutdown: agent runtimes finish their current step, team
// services drain with the configured grace, then the router closes. Stop is
// idempotent and blocks until shutdown completes.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		defer close(c.stopped)
		if c.router == nil {
			return
		}

		// Runtimes still in Created were never launched; their Done channel
		// would never close.
		var launched []*agent.Runtime
		for _, rt := range c.runtimes {
			if rt.Phase() != agent.PhaseCreated {
				launched = append(launched, rt)
			}
		}
		for _, rt := range launched {
			rt.Stop()
		}
		for _, rt := range launched {
			<-rt.Done()
		}
		for _, tm := range c.running {
			tm.Stop(c.cfg.ServiceGrace)
		}
		c.router.Close()
		if c.history != nil {
			if err := c.history.Close(); err != nil {
				c.logger.Warn("history close failed", zap.Error(err))
			}
		}
		c.logger.Info("workspace stopped")
	})
	<-c.stopped
}

// Done is closed once shutdown has completed.
func (c *Controller) Done() <-chan struct{} { return c.stopped }

// Snapshot serializes the pending inboxes and every agent's committed state
// in the newline-delimited format.
func (c *Controller) Snapshot(path string) error {
	if c.router == nil {
		return fmt.Errorf("workspace not started")
	}
	// Every registered inbox: agents, the human, team inboxes and service
	// inboxes alike.
	pending := c.router.PendingMessages()

	states := make(map[string]json.RawMessage, len(c.runtimes))
	for name, rt := range c.runtimes {
		raw, err := json.Marshal(rt.StateSnapshot())
		if err != nil {
			return fmt.Errorf("marshal state of %s: %w", name, err)
		}
		states[name] = raw
	}
	return WriteSnapshotFile(path, pending, states)
}

func (c *Controller) buildStopConditions() error {
	c.eval = &evaluator{}
	for _, spec := range c.def.StopConditions {
		cond, err := NewStopCondition(spec)
		if err != nil {
			return err
		}
		c.eval.conditions = append(c.eval.conditions, cond)
	}
	c.router.Subscribe(c.eval.observe)
	return nil
}

// buildTeams constructs the team runtimes and returns the service identifiers
// reachable per agent.
func (c *Controller) buildTeams() (map[string][]types.Identifier, error) {
	services := make(map[string][]types.Identifier)
	for _, spec := range c.def.Teams {
		execs := make(map[string]team.Executor, len(spec.Services))
		for _, name := range spec.Services {
			factory, err := c.serviceFactory(name)
			if err != nil {
				return nil, fmt.Errorf("team %s: %w", spec.Name, err)
			}
			execs[name] = factory()
		}
		tm, err := team.New(team.Config{
			Name:        spec.Name,
			Members:     append([]types.Identifier(nil), spec.Agents...),
			PolicyType:  spec.Collaboration.Type,
			Coordinator: spec.Collaboration.Coordinator,
			Services:    execs,
			Router:      c.router,
			Logger:      c.logger,
		})
		if err != nil {
			return nil, err
		}
		c.teams = append(c.teams, tm)
		for _, member := range spec.Agents {
			services[member] = append(services[member], tm.ServiceIDs()...)
		}
	}
	return services, nil
}

func (c *Controller) serviceFactory(name string) (ServiceFactory, error) {
	if f, ok := c.cfg.ServiceFactories[name]; ok {
		return f, nil
	}
	switch name {
	case "scratchpad":
		return func() team.Executor { return team.NewScratchpad() }, nil
	case "storage":
		return func() team.Executor { return team.NewStorage() }, nil
	case "voting":
		return func() team.Executor {
			v, _ := team.NewVoting("", 0)
			return v
		}, nil
	default:
		return nil, fmt.Errorf("unknown service: %s", name)
	}
}

func (c *Controller) buildRuntimes(services map[string][]types.Identifier) error {
	for _, spec := range c.def.Agents {
		impl, kind, err := c.cfg.Registry.Build(spec)
		if err != nil {
			return fmt.Errorf("agent %s: %w", spec.Name, err)
		}
		if spec.Kind != "" {
			kind = agent.ParseKind(spec.Kind)
		}

		var initial agent.State
		if raw, ok := c.restoredStates[spec.Name]; ok {
			if restorer, ok := impl.(agent.StateRestorer); ok {
				initial, err = restorer.RestoreState(raw)
				if err != nil {
					return fmt.Errorf("restore state of %s: %w", spec.Name, err)
				}
			} else {
				initial = raw
			}
		}

		rt, err := agent.NewRuntime(agent.Config{
			Name:            spec.Name,
			Kind:            kind,
			Agent:           impl,
			Router:          c.router,
			Services:        services[spec.Name],
			IterateInterval: spec.IterateInterval,
			InitialState:    initial,
			OnCrash:         c.onAgentCrash,
			Logger:          c.logger,
		})
		if err != nil {
			return err
		}
		c.runtimes[spec.Name] = rt
	}
	return nil
}

// onAgentCrash isolates the crashed agent unless the workspace is configured
// to fail fast.
func (c *Controller) onAgentCrash(name types.Identifier, err error) {
	if !c.cfg.FailFast {
		return
	}
	c.logger.Error("agent crash with fail-fast enabled, stopping workspace",
		zap.String("agent", name), zap.Error(err))
	go c.Stop()
}

// awaitAgentsReady blocks briefly until every runtime has left the
// initializing phase, so team member resolution and start messages see
// registered inboxes.
func (c *Controller) awaitAgentsReady() {
	deadline := time.Now().Add(2 * time.Second)
	for _, rt := range c.runtimes {
		for rt.Phase() < agent.PhaseIdle && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}
}

// resolveMainTarget decides where start messages without an explicit target
// go: a team of that name routes through its policy, a declared channel
// broadcasts, a plain agent receives directly. Anything else gets a broadcast
// channel over every agent plus the human.
func (c *Controller) resolveMainTarget() {
	name := c.def.ResolveMainChannel()
	if name == "" {
		return
	}
	for _, tm := range c.teams {
		if tm.Name() == name {
			c.mainDest = tm.ID()
			return
		}
	}
	if _, ok := c.router.ChannelMembers(name); ok {
		c.mainChannel = name
		return
	}
	if _, ok := c.router.Lookup(name); ok {
		c.mainDest = name
		return
	}
	members := make([]string, 0, len(c.def.Agents)+1)
	for _, a := range c.def.Agents {
		members = append(members, a.Name)
	}
	members = append(members, types.User)
	if err := c.router.AddChannel(&types.ChannelInfo{Name: name, Members: members}); err != nil {
		c.logger.Warn("main channel setup failed", zap.String("channel", name), zap.Error(err))
		return
	}
	c.mainChannel = name
}

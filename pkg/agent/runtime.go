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
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/chorus/pkg/router"
	"github.com/teradata-labs/chorus/pkg/types"
)

// Default runtime configuration values.
const (
	// DefaultIterateInterval is the minimum spacing between consecutive
	// iterations of an active agent.
	DefaultIterateInterval = 100 * time.Millisecond
	// DefaultStepGrace bounds how long a step may run after stop is
	// signaled before the runtime abandons it.
	DefaultStepGrace = 2 * time.Second
)

// Phase is the lifecycle state of a runtime.
type Phase int32

const (
	PhaseCreated Phase = iota
	PhaseInitializing
	PhaseIdle
	PhaseRunning
	PhaseStopping
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseInitializing:
		return "initializing"
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhaseStopping:
		return "stopping"
	case PhaseStopped:
		return "stopped"
	}
	return "unknown"
}

// Config configures a runtime.
type Config struct {
	Name   types.Identifier
	Kind   Kind
	Agent  Agent
	Router *router.Router

	// Services lists the team service identifiers reachable from this
	// agent.
	Services []types.Identifier

	// IterateInterval rate-limits active agents. Zero selects the default.
	IterateInterval time.Duration

	// StepGrace bounds step abandonment on stop. Zero selects the default.
	StepGrace time.Duration

	// InitialState, when non-nil, replaces the state produced by
	// InitState. Used by snapshot restore.
	InitialState State

	// OnStep is called after every committed step. Optional.
	OnStep func()

	// OnCrash is called after every aborted step. Optional.
	OnCrash func(name types.Identifier, err error)

	Logger *zap.Logger
}

// Runtime drives one agent. Exactly one step executes at any time; the state
// is owned exclusively by the runtime and committed atomically per step.
type Runtime struct {
	cfg   Config
	inbox *router.Inbox

	ctx    context.Context
	cancel context.CancelFunc
	phase  atomic.Int32
	done   chan struct{}

	// stash holds events popped while a handler awaited a service
	// response. The scheduler replays it before the inbox.
	stashMu sync.Mutex
	stashed []*types.Message

	stateMu sync.Mutex
	state   State

	steps   atomic.Int64
	crashes atomic.Int64

	logger *zap.Logger
}

// NewRuntime registers the agent with the router and prepares its runtime.
func NewRuntime(cfg Config) (*Runtime, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent runtime requires a name")
	}
	if cfg.Agent == nil {
		return nil, fmt.Errorf("agent runtime %s requires an agent implementation", cfg.Name)
	}
	if cfg.Router == nil {
		return nil, fmt.Errorf("agent runtime %s requires a router", cfg.Name)
	}
	if cfg.IterateInterval <= 0 {
		cfg.IterateInterval = DefaultIterateInterval
	}
	if cfg.StepGrace <= 0 {
		cfg.StepGrace = DefaultStepGrace
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	inbox, err := cfg.Router.Register(cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("register agent %s: %w", cfg.Name, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	rt := &Runtime{
		cfg:    cfg,
		inbox:  inbox,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: cfg.Logger.With(zap.String("agent", cfg.Name), zap.Stringer("kind", cfg.Kind)),
	}
	rt.phase.Store(int32(PhaseCreated))
	return rt, nil
}

// Name returns the agent identifier.
func (r *Runtime) Name() types.Identifier { return r.cfg.Name }

// Kind returns the scheduling kind.
func (r *Runtime) Kind() Kind { return r.cfg.Kind }

// Phase returns the current lifecycle phase.
func (r *Runtime) Phase() Phase { return Phase(r.phase.Load()) }

// Done is closed once the runtime goroutine has exited.
func (r *Runtime) Done() <-chan struct{} { return r.done }

// Steps returns the number of committed steps.
func (r *Runtime) Steps() int64 { return r.steps.Load() }

// StateSnapshot returns the current committed state.
func (r *Runtime) StateSnapshot() State {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.state
}

// Start launches the runtime goroutine. It may be called once.
func (r *Runtime) Start() error {
	if !r.phase.CompareAndSwap(int32(PhaseCreated), int32(PhaseInitializing)) {
		return fmt.Errorf("agent %s already started", r.cfg.Name)
	}
	go r.run()
	return nil
}

// Stop signals shutdown. The current step finishes (or is abandoned after the
// step grace) and the goroutine exits. Stop does not block; wait on Done.
func (r *Runtime) Stop() {
	r.setPhase(PhaseStopping)
	r.cancel()
}

func (r *Runtime) setPhase(p Phase) {
	// Stopping is sticky: a committing step must not flip it back to idle.
	for {
		cur := Phase(r.phase.Load())
		if cur == PhaseStopping && p != PhaseStopped {
			return
		}
		if cur == PhaseStopped {
			return
		}
		if r.phase.CompareAndSwap(int32(cur), int32(p)) {
			return
		}
	}
}

func (r *Runtime) run() {
	defer func() {
		r.cfg.Router.Unregister(r.cfg.Name)
		r.phase.Store(int32(PhaseStopped))
		_ = r.cfg.Router.Send(&types.Message{
			ID:     "stopped-" + r.cfg.Name,
			Event:  types.EventAgentStopped,
			Source: r.cfg.Name,
		})
		close(r.done)
		r.logger.Debug("runtime stopped", zap.Int64("steps", r.steps.Load()))
	}()

	if err := r.initialize(); err != nil {
		r.logger.Error("agent initialization failed", zap.Error(err))
		r.crash(err)
		return
	}
	r.setPhase(PhaseIdle)
	_ = r.cfg.Router.Send(&types.Message{
		ID:     "started-" + r.cfg.Name,
		Event:  types.EventAgentStarted,
		Source: r.cfg.Name,
	})

	for r.ctx.Err() == nil {
		switch {
		case r.cfg.Kind == KindPassive:
			msg := r.nextMessage()
			if msg == nil {
				r.waitForMessage()
				continue
			}
			r.step(func(c *Context, state State) (State, error) {
				return r.cfg.Agent.Respond(c, state, msg)
			})
		default: // active
			r.step(func(c *Context, state State) (State, error) {
				return r.cfg.Agent.Iterate(c, state)
			})
			r.pause(r.cfg.IterateInterval)
		}
	}
}

// initialize runs InitState exactly once.
func (r *Runtime) initialize() (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = types.NewError(types.HandlerCrash, "init panic: %v", rec)
		}
	}()

	c := &Context{rt: r, ctx: r.ctx}
	state, err := r.cfg.Agent.InitState(c)
	if err != nil {
		return err
	}
	if r.cfg.InitialState != nil {
		state = r.cfg.InitialState
	}
	r.stateMu.Lock()
	r.state = state
	r.stateMu.Unlock()
	// Sends from InitState are committed like a step.
	r.commitOutbound(c)
	return nil
}

// nextMessage returns the oldest unread event, replaying stashed events
// before the inbox.
func (r *Runtime) nextMessage() *types.Message {
	r.stashMu.Lock()
	if len(r.stashed) > 0 {
		msg := r.stashed[0]
		r.stashed = r.stashed[1:]
		r.stashMu.Unlock()
		return msg
	}
	r.stashMu.Unlock()
	return r.inbox.TryPop()
}

func (r *Runtime) pushStash(msg *types.Message) {
	r.stashMu.Lock()
	r.stashed = append(r.stashed, msg)
	r.stashMu.Unlock()
}

func (r *Runtime) takeStash() []*types.Message {
	r.stashMu.Lock()
	out := r.stashed
	r.stashed = nil
	r.stashMu.Unlock()
	return out
}

// waitForMessage blocks until the inbox signals or the runtime stops.
func (r *Runtime) waitForMessage() {
	select {
	case <-r.inbox.Notify():
	case <-r.inbox.Done():
	case <-r.ctx.Done():
	}
}

// pause rate-limits active agents between iterations.
func (r *Runtime) pause(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-r.ctx.Done():
	}
}

type stepOutcome struct {
	state State
	err   error
	c     *Context
}

// step runs one handler invocation. The handler executes on its own goroutine
// so a stop signal can abandon a stuck step after the grace period; an
// abandoned step's commit is discarded.
func (r *Runtime) step(fn func(*Context, State) (State, error)) {
	r.setPhase(PhaseRunning)
	defer r.setPhase(PhaseIdle)

	c := &Context{rt: r, ctx: r.ctx}
	prev := r.StateSnapshot()

	outcome := make(chan stepOutcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				outcome <- stepOutcome{err: types.NewError(types.HandlerCrash, "handler panic: %v", rec)}
			}
		}()
		state, err := fn(c, prev)
		outcome <- stepOutcome{state: state, err: err, c: c}
	}()

	var out stepOutcome
	select {
	case out = <-outcome:
	case <-r.ctx.Done():
		grace := time.NewTimer(r.cfg.StepGrace)
		defer grace.Stop()
		select {
		case out = <-outcome:
		case <-grace.C:
			r.logger.Warn("step abandoned after grace period",
				zap.Duration("grace", r.cfg.StepGrace))
			r.cfg.Router.EmitDiagnostic(router.DiagnosticHandlerCrash, r.cfg.Name,
				"step abandoned on shutdown", nil)
			return
		}
	}

	if out.err != nil {
		r.crash(out.err)
		return
	}

	// Commit: state first, then buffered sends in call order.
	if out.state != nil {
		r.stateMu.Lock()
		r.state = out.state
		r.stateMu.Unlock()
	}
	r.commitOutbound(out.c)

	r.steps.Add(1)
	r.cfg.Router.Touch()
	if r.cfg.OnStep != nil {
		r.cfg.OnStep()
	}
}

// commitOutbound routes the step's buffered sends in order. Routing failures
// at commit time are recorded on the diagnostic inbox; the step itself has
// already succeeded.
func (r *Runtime) commitOutbound(c *Context) {
	if c == nil {
		return
	}
	for _, msg := range c.outbound {
		if err := r.cfg.Router.Send(msg); err != nil {
			r.logger.Warn("outbound send failed",
				zap.String("destination", msg.Destination),
				zap.String("channel", msg.Channel),
				zap.Error(err))
			r.cfg.Router.EmitDiagnostic(router.DiagnosticDeadLetter, r.cfg.Name,
				err.Error(), map[string]string{"message_id": msg.ID})
		}
	}
	c.outbound = nil
}

// crash records an aborted step. State stays unchanged and nothing buffered
// was sent.
func (r *Runtime) crash(err error) {
	r.crashes.Add(1)
	r.logger.Error("handler crashed", zap.Error(err))
	r.cfg.Router.EmitDiagnostic(router.DiagnosticHandlerCrash, r.cfg.Name, err.Error(), nil)
	if r.cfg.OnCrash != nil {
		r.cfg.OnCrash(r.cfg.Name, err)
	}
}

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
package team

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/chorus/pkg/router"
	"github.com/teradata-labs/chorus/pkg/types"
)

// Default service runtime configuration values.
const (
	// DefaultParallelism is the number of invocations a service executes
	// concurrently.
	DefaultParallelism = 4
	// DefaultDrainGrace bounds how long a stopping service waits for
	// in-flight invocations before answering Cancelled.
	DefaultDrainGrace = 5 * time.Second
)

// Executor runs one tool invocation on behalf of a team service. Executors
// must honor ctx: a deadline or stop signal cancels it.
type Executor interface {
	Execute(ctx context.Context, inv types.ToolInvocation) (json.RawMessage, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, inv types.ToolInvocation) (json.RawMessage, error)

func (f ExecutorFunc) Execute(ctx context.Context, inv types.ToolInvocation) (json.RawMessage, error) {
	return f(ctx, inv)
}

// Service is the runtime around one team service. It owns a dedicated
// goroutine that consumes team_service_request events from the service inbox
// and answers each with exactly one team_service_response.
type Service struct {
	team string
	name string
	exec Executor

	id          types.Identifier
	router      *router.Router
	parallelism int

	ctx    context.Context
	cancel context.CancelFunc
	inbox  *router.Inbox
	done   chan struct{}
	wg     sync.WaitGroup
	sem    chan struct{}

	mu          sync.Mutex
	outstanding map[string]bool

	logger *zap.Logger
}

// NewService prepares a service runtime. Start must be called before it
// accepts requests.
func NewService(team, name string, exec Executor, r *router.Router, parallelism int, logger *zap.Logger) (*Service, error) {
	if name == "" {
		return nil, fmt.Errorf("team %s: service requires a name", team)
	}
	if exec == nil {
		return nil, fmt.Errorf("service %s/%s requires an executor", team, name)
	}
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		team:        team,
		name:        name,
		exec:        exec,
		id:          types.ServiceIdentifier(team, name),
		router:      r,
		parallelism: parallelism,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		sem:         make(chan struct{}, parallelism),
		outstanding: make(map[string]bool),
		logger:      logger.With(zap.String("service", name), zap.String("team", team)),
	}, nil
}

// ID returns the routable service identifier.
func (s *Service) ID() types.Identifier { return s.id }

// Name returns the service name within its team.
func (s *Service) Name() string { return s.name }

// Start registers the service inbox and launches the consumer goroutine.
func (s *Service) Start() error {
	inbox, err := s.router.Register(s.id)
	if err != nil {
		return fmt.Errorf("register service %s: %w", s.id, err)
	}
	s.inbox = inbox
	go s.run()
	return nil
}

// Stop drains the service: in-flight invocations get up to grace to finish,
// then every unanswered request is answered with a Cancelled observation.
// Stop blocks until the consumer goroutine has exited.
func (s *Service) Stop(grace time.Duration) {
	if grace <= 0 {
		grace = DefaultDrainGrace
	}
	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(grace):
		s.logger.Warn("drain grace expired with invocations in flight",
			zap.Duration("grace", grace))
	}
	s.cancel()
	<-s.done
}

func (s *Service) run() {
	defer func() {
		// Requests still queued never started; answer them Cancelled.
		for {
			msg := s.inbox.TryPop()
			if msg == nil {
				break
			}
			if msg.Type() == types.EventServiceRequest && len(msg.Actions) > 0 {
				s.respondError(msg, msg.Actions[0], types.Cancelled, "service %s stopping", s.id)
			}
		}
		s.router.Unregister(s.id)
		close(s.done)
	}()

	for {
		msg, err := s.inbox.Pop(s.ctx)
		if err != nil {
			return
		}
		if msg.Type() != types.EventServiceRequest || len(msg.Actions) == 0 {
			s.logger.Warn("dropping non-request event", zap.String("event", string(msg.Type())))
			continue
		}
		inv := msg.Actions[0]
		key := string(msg.Source) + "/" + inv.ID

		s.mu.Lock()
		if s.outstanding[key] {
			s.mu.Unlock()
			s.respondError(msg, inv, types.DuplicateInvocation,
				"invocation %s from %s already in flight", inv.ID, msg.Source)
			continue
		}
		s.outstanding[key] = true
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handle(msg, inv, key)
	}
}

// handle executes one invocation and delivers its single response.
func (s *Service) handle(req *types.Message, inv types.ToolInvocation, key string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.outstanding, key)
		s.mu.Unlock()
	}()

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-s.ctx.Done():
		s.respondError(req, inv, types.Cancelled, "service %s stopping", s.id)
		return
	}

	ctx := s.ctx
	if req.DeadlineMillis > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, time.Duration(req.DeadlineMillis)*time.Millisecond)
		defer cancel()
	}

	type execResult struct {
		result json.RawMessage
		err    error
	}
	outcome := make(chan execResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				outcome <- execResult{err: types.NewError(types.HandlerCrash, "executor panic: %v", rec)}
			}
		}()
		result, err := s.exec.Execute(ctx, inv)
		outcome <- execResult{result: result, err: err}
	}()

	select {
	case out := <-outcome:
		if out.err != nil {
			// An executor that honors ctx may surface the context error
			// itself and win the race against the ctx.Done branch.
			kind := types.HandlerCrash
			var terr *types.Error
			switch {
			case errors.As(out.err, &terr):
				kind = terr.Kind
			case errors.Is(out.err, context.DeadlineExceeded):
				kind = types.Timeout
			case errors.Is(out.err, context.Canceled):
				kind = types.Cancelled
			}
			s.respondError(req, inv, kind, "%s", out.err.Error())
			return
		}
		s.respond(req, &types.ToolObservation{OK: true, Result: out.result})
	case <-ctx.Done():
		if s.ctx.Err() != nil {
			s.respondError(req, inv, types.Cancelled, "service %s stopping", s.id)
			return
		}
		s.respondError(req, inv, types.Timeout,
			"invocation %s exceeded its %dms deadline", inv.ID, req.DeadlineMillis)
	}
}

func (s *Service) respondError(req *types.Message, inv types.ToolInvocation, kind types.ErrorKind, format string, args ...any) {
	s.respondTo(req, inv, &types.ToolObservation{
		OK:    false,
		Error: types.NewError(kind, format, args...),
	})
}

func (s *Service) respond(req *types.Message, obs *types.ToolObservation) {
	s.respondTo(req, req.Actions[0], obs)
}

func (s *Service) respondTo(req *types.Message, inv types.ToolInvocation, obs *types.ToolObservation) {
	resp := &types.Message{
		ID:           uuid.NewString(),
		Event:        types.EventServiceResponse,
		Source:       s.id,
		Destination:  req.Source,
		ReplyTo:      inv.ID,
		Role:         types.RoleTool,
		Observations: []types.ToolObservation{*obs},
	}
	if err := s.router.Send(resp); err != nil {
		s.logger.Warn("response delivery failed",
			zap.String("requester", req.Source),
			zap.String("invocation", inv.ID),
			zap.Error(err))
	}
}

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
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/chorus/pkg/agent"
	"github.com/teradata-labs/chorus/pkg/team"
	"github.com/teradata-labs/chorus/pkg/types"
)

// crashOnBoom fails deterministically on a trigger word.
type crashOnBoom struct {
	agent.PassiveBase
}

func (a *crashOnBoom) InitState(c *agent.Context) (agent.State, error) {
	return map[string]int{"handled": 0}, nil
}

func (a *crashOnBoom) Respond(c *agent.Context, state agent.State, msg *types.Message) (agent.State, error) {
	if msg.Type() != types.EventMessage {
		return nil, nil
	}
	if msg.Content == "boom" {
		panic("deterministic failure")
	}
	next := map[string]int{"handled": state.(map[string]int)["handled"] + 1}
	return next, nil
}

// invoker calls a team service on every message and reports the outcome to
// the human.
type invoker struct {
	agent.PassiveBase
}

func (a *invoker) InitState(c *agent.Context) (agent.State, error) { return struct{}{}, nil }

func (a *invoker) Respond(c *agent.Context, state agent.State, msg *types.Message) (agent.State, error) {
	if msg.Type() != types.EventMessage {
		return nil, nil
	}
	services := c.TeamServices().List()
	if len(services) == 0 {
		return nil, nil
	}
	obs, err := c.TeamServices().Invoke(services[0], types.ToolInvocation{Name: "run"}, 0)
	if err != nil {
		return nil, err
	}
	report := "ok"
	if !obs.OK && obs.Error != nil {
		report = string(obs.Error.Kind)
	}
	out := types.NewMessage(c.Name(), types.User, report)
	if err := c.Send(out); err != nil {
		return nil, err
	}
	return nil, nil
}

func testRegistry(t *testing.T) *agent.Registry {
	t.Helper()
	reg := agent.NewRegistry()
	agent.RegisterBuiltins(reg)
	reg.Register("CrashAgent", func(spec agent.Spec) (agent.Agent, agent.Kind, error) {
		return &crashOnBoom{}, agent.KindPassive, nil
	})
	reg.Register("InvokerAgent", func(spec agent.Spec) (agent.Agent, agent.Kind, error) {
		return &invoker{}, agent.KindPassive, nil
	})
	return reg
}

func newController(t *testing.T, def *Definition, mutate ...func(*Config)) *Controller {
	t.Helper()
	cfg := Config{
		Definition:       def,
		Registry:         testRegistry(t),
		StopPollInterval: 10 * time.Millisecond,
		Logger:           zaptest.NewLogger(t),
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	ctrl, err := NewController(cfg)
	require.NoError(t, err)
	t.Cleanup(ctrl.Stop)
	return ctrl
}

func TestControllerHello(t *testing.T) {
	def := &Definition{
		Title: "hello",
		Agents: []agent.Spec{
			{Type: agent.TypeEcho, Name: "testbot", Instruction: "Hello."},
		},
		StartMessages: []StartMessage{
			{Source: "testbot", Destination: types.User, Content: "Hello."},
		},
		StopConditions: []StopSpec{
			{Type: StopNoActivity, Parameters: map[string]any{"window_ms": 200}},
		},
	}
	ctrl := newController(t, def)

	var mu sync.Mutex
	var trace []string
	ctrl.AddMessageListener(func(m *types.Message) {
		if m.Type() == types.EventMessage {
			mu.Lock()
			trace = append(trace, m.Source+">"+m.Destination+":"+m.Content)
			mu.Unlock()
		}
	})

	done := make(chan error, 1)
	go func() { done <- ctrl.Run(context.Background()) }()

	// The start message is delivered to the human before anything else.
	msg := popUser(t, ctrl)
	assert.Equal(t, "Hello.", msg.Content)

	require.NoError(t, ctrl.Router().Send(types.NewMessage(types.User, "testbot", "hi")))
	msg = popUser(t, ctrl)
	assert.Equal(t, "Hello.", msg.Content)
	assert.Equal(t, types.Identifier("testbot"), msg.Source)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop on inactivity")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"testbot>human:Hello.",
		"human>testbot:hi",
		"testbot>human:Hello.",
	}, trace)
}

// popUser pops the next message addressed to the human, failing the test on
// timeout.
func popUser(t *testing.T, ctrl *Controller) *types.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	msg, err := ctrl.UserInbox().Pop(ctx)
	require.NoError(t, err)
	return msg
}

func TestControllerCentralizedTeam(t *testing.T) {
	def := &Definition{
		Title: "delegation",
		Agents: []agent.Spec{
			{Type: agent.TypeEcho, Name: "K", Instruction: "ack"},
			{Type: agent.TypeEcho, Name: "R", Instruction: "never"},
		},
		Teams: []TeamSpec{
			{
				Name:          "T",
				Agents:        []string{"K", "R"},
				Collaboration: CollaborationSpec{Type: "centralized", Coordinator: "K"},
			},
		},
		StopConditions: []StopSpec{
			{Type: StopNoActivity, Parameters: map[string]any{"window_ms": 200}},
		},
	}
	ctrl := newController(t, def)

	var mu sync.Mutex
	deliveries := make(map[string]int)
	ctrl.AddMessageListener(func(m *types.Message) {
		if m.Type() == types.EventMessage && m.Content == "q" {
			mu.Lock()
			deliveries[m.Destination]++
			mu.Unlock()
		}
	})

	done := make(chan error, 1)
	go func() { done <- ctrl.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, ctrl.Router().Send(types.NewMessage(types.User, types.TeamIdentifier("T"), "q")))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, deliveries["K"], "coordinator receives the team-addressed message")
	assert.Zero(t, deliveries["R"], "other members receive nothing")
}

func TestControllerCrashIsolation(t *testing.T) {
	def := &Definition{
		Title: "isolation",
		Agents: []agent.Spec{
			{Type: "CrashAgent", Name: "X"},
			{Type: agent.TypeEcho, Name: "Y", Instruction: "still here"},
		},
		StopConditions: []StopSpec{
			{Type: StopNoActivity, Parameters: map[string]any{"window_ms": 300}},
		},
	}
	ctrl := newController(t, def)

	done := make(chan error, 1)
	go func() { done <- ctrl.Run(context.Background()) }()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, ctrl.Router().Send(types.NewMessage(types.User, "X", "boom")))

	// The crash surfaces in the diagnostic inbox, not anywhere else.
	var sawCrash bool
	deadline := time.After(3 * time.Second)
	for !sawCrash {
		if diag := ctrl.Router().Diagnostics().TryPop(); diag != nil {
			if diag.Metadata["diagnostic"] == "HandlerCrash" && diag.Metadata["about"] == "X" {
				sawCrash = true
			}
			continue
		}
		select {
		case <-deadline:
			t.Fatal("no crash diagnostic emitted")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Other agents keep working after X's crash.
	require.NoError(t, ctrl.Router().Send(types.NewMessage(types.User, "Y", "ping")))
	msg := popUser(t, ctrl)
	assert.Equal(t, "still here", msg.Content)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestControllerCancelledInvocationOnStop(t *testing.T) {
	hang := func() team.Executor {
		return team.ExecutorFunc(func(ctx context.Context, inv types.ToolInvocation) (json.RawMessage, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
	}
	def := &Definition{
		Title: "cancellation",
		Agents: []agent.Spec{
			{Type: "InvokerAgent", Name: "Y"},
		},
		Teams: []TeamSpec{
			{
				Name:          "T",
				Agents:        []string{"Y"},
				Collaboration: CollaborationSpec{Type: "centralized", Coordinator: "Y"},
				Services:      []string{"hang"},
			},
		},
	}
	ctrl := newController(t, def, func(cfg *Config) {
		cfg.ServiceFactories = map[string]ServiceFactory{"hang": hang}
		cfg.ServiceGrace = 100 * time.Millisecond
	})

	require.NoError(t, ctrl.Start())
	require.NoError(t, ctrl.Router().Send(types.NewMessage(types.User, "Y", "go")))
	time.Sleep(100 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		ctrl.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(10 * time.Second):
		t.Fatal("stop did not complete")
	}
}

func TestControllerStopOnHumanSignal(t *testing.T) {
	def := &Definition{
		Title: "signal",
		Agents: []agent.Spec{
			{Type: agent.TypeEcho, Name: "bot"},
		},
		StopConditions: []StopSpec{
			{Type: StopHumanSignal},
		},
	}
	ctrl := newController(t, def)

	done := make(chan error, 1)
	go func() { done <- ctrl.Run(context.Background()) }()
	time.Sleep(50 * time.Millisecond)

	stop := types.NewMessage(types.User, "bot", "enough").WithMetadata(MetaStop, "true")
	require.NoError(t, ctrl.Router().Send(stop))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop on human signal")
	}
}

func TestControllerStopOnMessageMatch(t *testing.T) {
	def := &Definition{
		Title: "match",
		Agents: []agent.Spec{
			{Type: agent.TypeEcho, Name: "bot", Instruction: "FINAL ANSWER"},
		},
		StopConditions: []StopSpec{
			{Type: StopMessageMatch, Parameters: map[string]any{"content": "FINAL.*"}},
		},
	}
	ctrl := newController(t, def)

	done := make(chan error, 1)
	go func() { done <- ctrl.Run(context.Background()) }()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, ctrl.Router().Send(types.NewMessage(types.User, "bot", "question")))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop on matching message")
	}
}

func TestControllerSnapshotRestore(t *testing.T) {
	def := &Definition{
		Title: "snap",
		Agents: []agent.Spec{
			{Type: agent.TypeEcho, Name: "bot", Instruction: "pong"},
		},
		StopConditions: []StopSpec{
			{Type: StopNoActivity, Parameters: map[string]any{"window_ms": 200}},
		},
	}
	ctrl := newController(t, def)
	require.NoError(t, ctrl.Start())

	require.NoError(t, ctrl.Router().Send(types.NewMessage(types.User, "bot", "ping")))
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(t.TempDir(), SnapshotFileName)
	require.NoError(t, ctrl.Snapshot(path))
	ctrl.Stop()

	_, states, err := ReadSnapshotFile(path)
	require.NoError(t, err)
	require.Contains(t, states, "bot")
	assert.JSONEq(t, `{"seen":1}`, string(states["bot"]))

	// A second controller restores the state.
	restored := newController(t, &Definition{
		Title:  "snap",
		Agents: def.Agents,
	})
	require.NoError(t, restored.Load(path))
	require.NoError(t, restored.Start())
	defer restored.Stop()

	rt := restored.runtimes["bot"]
	require.NotNil(t, rt)
	raw, err := json.Marshal(rt.StateSnapshot())
	require.NoError(t, err)
	assert.JSONEq(t, `{"seen":1}`, string(raw))
}

func TestControllerMainChannelInference(t *testing.T) {
	def := &Definition{
		Title: "inferred",
		Agents: []agent.Spec{
			{Type: agent.TypeEcho, Name: "solo", Instruction: "hi"},
		},
		StartMessages: []StartMessage{
			{Source: types.User, Content: "kickoff"},
		},
		StopConditions: []StopSpec{
			{Type: StopNoActivity, Parameters: map[string]any{"window_ms": 200}},
		},
	}
	ctrl := newController(t, def)

	var mu sync.Mutex
	var kickoffTarget string
	ctrl.AddMessageListener(func(m *types.Message) {
		if m.Content == "kickoff" {
			mu.Lock()
			kickoffTarget = m.Destination
			mu.Unlock()
		}
	})

	done := make(chan error, 1)
	go func() { done <- ctrl.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "solo", kickoffTarget, "start message falls through to the first agent")
}

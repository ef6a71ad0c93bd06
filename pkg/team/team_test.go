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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/chorus/pkg/collaboration"
	"github.com/teradata-labs/chorus/pkg/router"
	"github.com/teradata-labs/chorus/pkg/types"
)

func popWithin(t *testing.T, in *router.Inbox, d time.Duration) *types.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	msg, err := in.Pop(ctx)
	require.NoError(t, err)
	return msg
}

func TestTeamValidation(t *testing.T) {
	r := router.New(zaptest.NewLogger(t))
	defer r.Close()

	_, err := New(Config{Name: "T", Router: r})
	assert.Error(t, err, "needs members")

	_, err = New(Config{Name: "T", Router: r, Members: []types.Identifier{"a", "a"}, Coordinator: "a"})
	assert.Error(t, err, "duplicate member")

	_, err = New(Config{Name: "T", Router: r, Members: []types.Identifier{"a"}, Coordinator: "b"})
	assert.Error(t, err, "coordinator outside the team")

	tm, err := New(Config{Name: "T", Router: r, Members: []types.Identifier{"a"}, Coordinator: "a"})
	require.NoError(t, err)

	// Members must resolve at start time.
	err = tm.Start()
	assert.Error(t, err)

	_, err = r.Register("a")
	require.NoError(t, err)
	require.NoError(t, tm.Start())
	tm.Stop(time.Second)
}

func TestCentralizedDelegation(t *testing.T) {
	r := router.New(zaptest.NewLogger(t))
	defer r.Close()

	human, err := r.Register(types.User)
	require.NoError(t, err)
	coordinator, err := r.Register("K")
	require.NoError(t, err)
	member, err := r.Register("R")
	require.NoError(t, err)

	tm, err := New(Config{
		Name:        "T",
		Members:     []types.Identifier{"K", "R"},
		Coordinator: "K",
		Router:      r,
		Logger:      zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	require.NoError(t, tm.Start())
	defer tm.Stop(time.Second)

	// External team-addressed message lands on the coordinator only.
	require.NoError(t, r.Send(types.NewMessage(types.User, tm.ID(), "q")))
	msg := popWithin(t, coordinator, 2*time.Second)
	assert.Equal(t, types.User, msg.Source)
	assert.Equal(t, types.Identifier("K"), msg.Destination)
	assert.Equal(t, "q", msg.Content)
	assert.Nil(t, member.TryPop(), "non-coordinator members see nothing")

	// Member team-addressed traffic funnels to the coordinator.
	require.NoError(t, r.Send(types.NewMessage("R", tm.ID(), "draft")))
	msg = popWithin(t, coordinator, 2*time.Second)
	assert.Equal(t, types.Identifier("R"), msg.Source)
	assert.Equal(t, "draft", msg.Content)

	// The coordinator's team-addressed reply reaches the original sender.
	require.NoError(t, r.Send(types.NewMessage("K", tm.ID(), "answer")))
	msg = popWithin(t, human, 2*time.Second)
	assert.Equal(t, types.Identifier("K"), msg.Source)
	assert.Equal(t, types.User, msg.Destination)
	assert.Equal(t, "answer", msg.Content)
}

func TestDecentralizedBroadcastTeam(t *testing.T) {
	r := router.New(zaptest.NewLogger(t))
	defer r.Close()

	a, err := r.Register("a")
	require.NoError(t, err)
	b, err := r.Register("b")
	require.NoError(t, err)
	c, err := r.Register("c")
	require.NoError(t, err)

	tm, err := New(Config{
		Name:       "swarm",
		Members:    []types.Identifier{"a", "b", "c"},
		PolicyType: collaboration.TypeDecentralized,
		Router:     r,
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	require.NoError(t, tm.Start())
	defer tm.Stop(time.Second)

	// A member's team-addressed message reaches every other member.
	require.NoError(t, r.Send(types.NewMessage("a", tm.ID(), "update")))

	for _, in := range []*router.Inbox{b, c} {
		msg := popWithin(t, in, 2*time.Second)
		assert.Equal(t, "update", msg.Content)
		assert.Equal(t, "swarm", msg.Channel)
	}
	// Not the sender: the policy broadcast came from the team inbox, but the
	// channel fan-out excludes the original source.
	time.Sleep(50 * time.Millisecond)
	assert.Nil(t, a.TryPop())
}

func TestTeamWithServices(t *testing.T) {
	r := router.New(zaptest.NewLogger(t))
	defer r.Close()

	_, err := r.Register("K")
	require.NoError(t, err)
	requester, err := r.Register("R")
	require.NoError(t, err)

	tm, err := New(Config{
		Name:        "T",
		Members:     []types.Identifier{"K", "R"},
		Coordinator: "K",
		Services: map[string]Executor{
			"pad": NewScratchpad(),
		},
		Router: r,
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	require.NoError(t, tm.Start())
	defer tm.Stop(time.Second)

	ids := tm.ServiceIDs()
	require.Len(t, ids, 1)
	assert.Equal(t, types.ServiceIdentifier("T", "pad"), ids[0])

	inv := types.ToolInvocation{ID: "v1", Name: "append", Arguments: map[string]any{"topic": "x", "note": "n"}}
	require.NoError(t, r.Send(request("R", ids[0], inv, 0)))
	resp := popResponse(t, requester)
	assert.Equal(t, "v1", resp.ReplyTo)
	assert.True(t, resp.Observations[0].OK)
}

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
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/chorus/pkg/agent"
	"github.com/teradata-labs/chorus/pkg/types"
)

func validDefinition() *Definition {
	return &Definition{
		Title: "newsroom",
		Agents: []agent.Spec{
			{Type: agent.TypeEcho, Name: "writer"},
			{Type: agent.TypeEcho, Name: "editor"},
		},
		Teams: []TeamSpec{
			{Name: "desk", Agents: []string{"writer", "editor"},
				Collaboration: CollaborationSpec{Type: "centralized", Coordinator: "editor"}},
		},
		Channels: []ChannelSpec{
			{Name: "wire", Members: []string{"writer", "editor", types.User}},
		},
	}
}

func TestDefinitionValidate(t *testing.T) {
	require.NoError(t, validDefinition().Validate())

	t.Run("no agents", func(t *testing.T) {
		def := validDefinition()
		def.Agents = nil
		assert.Error(t, def.Validate())
	})
	t.Run("duplicate agent", func(t *testing.T) {
		def := validDefinition()
		def.Agents = append(def.Agents, agent.Spec{Type: agent.TypeEcho, Name: "writer"})
		assert.Error(t, def.Validate())
	})
	t.Run("agent without type", func(t *testing.T) {
		def := validDefinition()
		def.Agents[0].Type = ""
		assert.Error(t, def.Validate())
	})
	t.Run("team member unknown", func(t *testing.T) {
		def := validDefinition()
		def.Teams[0].Agents = append(def.Teams[0].Agents, "stranger")
		assert.Error(t, def.Validate())
	})
	t.Run("channel member unknown", func(t *testing.T) {
		def := validDefinition()
		def.Channels[0].Members = []string{"writer", "ghost"}
		assert.Error(t, def.Validate())
	})
	t.Run("channel may include the human", func(t *testing.T) {
		def := validDefinition()
		def.Channels[0].Members = []string{"writer", types.User}
		assert.NoError(t, def.Validate())
	})
}

func TestResolveMainChannel(t *testing.T) {
	def := validDefinition()
	assert.Equal(t, "desk", def.ResolveMainChannel(), "first team wins by default")

	def.MainChannel = "wire"
	assert.Equal(t, "wire", def.ResolveMainChannel())

	def = &Definition{Agents: []agent.Spec{{Type: agent.TypeEcho, Name: "solo"}}}
	assert.Equal(t, "solo", def.ResolveMainChannel())
}

func TestStartMessageConversion(t *testing.T) {
	direct := StartMessage{Source: types.User, Destination: "writer", Content: "go",
		Metadata: map[string]string{"k": "v"}}
	msg := direct.message()
	assert.Equal(t, types.User, msg.Source)
	assert.Equal(t, types.Identifier("writer"), msg.Destination)
	assert.Equal(t, "v", msg.Metadata["k"])

	broadcast := StartMessage{Source: types.User, Channel: "wire", Content: "hello all"}
	msg = broadcast.message()
	assert.Empty(t, msg.Destination)
	assert.Equal(t, "wire", msg.Channel)
}

func TestSnapshotRoundTrip(t *testing.T) {
	pending := []*types.Message{
		types.NewMessage("a", "b", "first"),
		types.NewMessage("b", "a", "second"),
	}
	states := map[string]json.RawMessage{
		"b": json.RawMessage(`{"seen":2}`),
		"a": json.RawMessage(`{"seen":1}`),
	}

	var buf bytes.Buffer
	require.NoError(t, WriteSnapshot(&buf, pending, states))

	gotPending, gotStates, err := ReadSnapshot(&buf)
	require.NoError(t, err)
	require.Len(t, gotPending, 2)
	assert.Equal(t, "first", gotPending[0].Content)
	assert.Equal(t, "second", gotPending[1].Content)
	require.Len(t, gotStates, 2)
	assert.JSONEq(t, `{"seen":1}`, string(gotStates["a"]))
	assert.JSONEq(t, `{"seen":2}`, string(gotStates["b"]))
}

func TestSnapshotStateOrderDeterministic(t *testing.T) {
	states := map[string]json.RawMessage{
		"zeta":  json.RawMessage(`1`),
		"alpha": json.RawMessage(`2`),
	}
	var first, second bytes.Buffer
	require.NoError(t, WriteSnapshot(&first, nil, states))
	require.NoError(t, WriteSnapshot(&second, nil, states))
	assert.Equal(t, first.String(), second.String())
	assert.Less(t, bytes.Index(first.Bytes(), []byte("alpha")), bytes.Index(first.Bytes(), []byte("zeta")))
}

func TestSnapshotFileAtomicWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, SnapshotFileName)

	require.NoError(t, WriteSnapshotFile(path, []*types.Message{types.NewMessage("a", "b", "x")}, nil))

	pending, states, err := ReadSnapshotFile(path)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Empty(t, states)

	// No temp file is left behind.
	_, _, err = ReadSnapshotFile(path + ".tmp")
	assert.Error(t, err)
}

func TestReadSnapshotRejectsGarbage(t *testing.T) {
	_, _, err := ReadSnapshot(bytes.NewReader([]byte("not json\n")))
	assert.Error(t, err)
}

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
package history

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/chorus/pkg/types"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreRecordAndSelect(t *testing.T) {
	store := openStore(t)

	msgs := []*types.Message{
		{ID: "1", Source: "a", Destination: "b", Content: "one", Timestamp: 1},
		{ID: "2", Source: "b", Destination: "a", Content: "two", Timestamp: 2},
		{ID: "3", Source: "a", Channel: "news", Content: "three", Timestamp: 3},
	}
	for _, m := range msgs {
		store.Record(m)
	}

	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got, err := store.Select(Query{Source: "a"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0].Content)
	assert.Equal(t, "three", got[1].Content)

	got, err = store.Select(Query{Channel: "news"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "3", got[0].ID)

	got, err = store.Select(Query{SinceTick: 2, Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].ID)
}

func TestStoreDuplicateIDsIgnored(t *testing.T) {
	store := openStore(t)

	msg := &types.Message{ID: "dup", Source: "a", Destination: "b", Timestamp: 1}
	store.Record(msg)
	store.Record(msg)

	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStoreRoundTripEnvelope(t *testing.T) {
	store := openStore(t)

	msg := &types.Message{
		ID:          "m1",
		Source:      "researcher",
		Destination: "human",
		Content:     "report",
		Role:        types.RoleAssistant,
		Metadata:    map[string]string{"topic": "go"},
		Timestamp:   7,
	}
	store.Record(msg)

	got, err := store.Select(Query{Destination: "human"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, msg.Metadata, got[0].Metadata)
	assert.Equal(t, types.RoleAssistant, got[0].Role)
	assert.Equal(t, int64(7), got[0].Timestamp)
}

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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/chorus/pkg/types"
)

func TestStopConditionFactory(t *testing.T) {
	cases := []struct {
		name    string
		spec    StopSpec
		wantErr bool
	}{
		{"no_activity", StopSpec{Type: StopNoActivity, Parameters: map[string]any{"window_ms": 100}}, false},
		{"no_activity float from yaml", StopSpec{Type: StopNoActivity, Parameters: map[string]any{"window_ms": float64(250)}}, false},
		{"no_activity missing window", StopSpec{Type: StopNoActivity}, true},
		{"message_count", StopSpec{Type: StopMessageCount, Parameters: map[string]any{"count": 5}}, false},
		{"message_count zero", StopSpec{Type: StopMessageCount, Parameters: map[string]any{"count": 0}}, true},
		{"human_signal", StopSpec{Type: StopHumanSignal}, false},
		{"message_match", StopSpec{Type: StopMessageMatch, Parameters: map[string]any{"content": "done"}}, false},
		{"message_match empty", StopSpec{Type: StopMessageMatch}, true},
		{"message_match bad regexp", StopSpec{Type: StopMessageMatch, Parameters: map[string]any{"content": "("}}, true},
		{"unknown", StopSpec{Type: "until_bored"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cond, err := NewStopCondition(tc.spec)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, cond.Description())
		})
	}
}

func TestNoActivityWindow(t *testing.T) {
	cond := NoActivity(50 * time.Millisecond)
	assert.False(t, cond.Met(10, time.Now()))
	assert.True(t, cond.Met(10, time.Now().Add(-100*time.Millisecond)))
}

func TestMessageCountReached(t *testing.T) {
	cond := MessageCountReached(3)
	assert.False(t, cond.Met(2, time.Time{}))
	assert.True(t, cond.Met(3, time.Time{}))
	assert.True(t, cond.Met(4, time.Time{}))
}

func TestHumanSignal(t *testing.T) {
	cond := HumanSignal()
	assert.False(t, cond.Met(0, time.Time{}))

	// Only the sentinel from the human counts.
	cond.Observe(types.NewMessage("agent", "other", "x").WithMetadata(MetaStop, "true"))
	assert.False(t, cond.Met(0, time.Time{}))
	cond.Observe(types.NewMessage(types.User, "agent", "carry on"))
	assert.False(t, cond.Met(0, time.Time{}))

	cond.Observe(types.NewMessage(types.User, "agent", "stop").WithMetadata(MetaStop, "true"))
	assert.True(t, cond.Met(0, time.Time{}))
}

func TestMessageMatchAnchored(t *testing.T) {
	cond, err := MessageMatch("", "", "", "DONE")
	require.NoError(t, err)

	// Substring hits do not count; the pattern is anchored.
	cond.Observe(types.NewMessage("a", "b", "NOT DONE YET"))
	assert.False(t, cond.Met(0, time.Time{}))

	cond.Observe(types.NewMessage("a", "b", "DONE"))
	assert.True(t, cond.Met(0, time.Time{}))
}

func TestMessageMatchAllFieldsMustHold(t *testing.T) {
	cond, err := MessageMatch("writer", "human", "", "report:.*")
	require.NoError(t, err)

	cond.Observe(types.NewMessage("writer", "editor", "report: draft"))
	assert.False(t, cond.Met(0, time.Time{}))
	cond.Observe(types.NewMessage("writer", "human", "hello"))
	assert.False(t, cond.Met(0, time.Time{}))

	cond.Observe(types.NewMessage("writer", "human", "report: final"))
	assert.True(t, cond.Met(0, time.Time{}))
}

func TestEvaluatorDisjunction(t *testing.T) {
	count := MessageCountReached(10)
	signal := HumanSignal()
	eval := &evaluator{conditions: []StopCondition{count, signal}}

	assert.Nil(t, eval.met(5, time.Now()))

	eval.observe(types.NewMessage(types.User, "a", "stop").WithMetadata(MetaStop, "true"))
	require.NotNil(t, eval.met(5, time.Now()))
	assert.Equal(t, signal.Description(), eval.met(5, time.Now()).Description())

	assert.Equal(t, count.Description(), eval.met(10, time.Now()).Description())
}

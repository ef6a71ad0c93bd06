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
package router

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/chorus/pkg/types"
)

func TestInboxFIFO(t *testing.T) {
	in := NewInbox("a", 10)

	for i := 0; i < 5; i++ {
		require.NoError(t, in.Enqueue(types.NewMessage("s", "a", fmt.Sprintf("m%d", i))))
	}
	assert.Equal(t, 5, in.Len())

	for i := 0; i < 5; i++ {
		msg := in.TryPop()
		require.NotNil(t, msg)
		assert.Equal(t, fmt.Sprintf("m%d", i), msg.Content)
	}
	assert.Nil(t, in.TryPop())
}

func TestInboxEnqueueFullTimesOut(t *testing.T) {
	in := NewInbox("a", 2)
	in.enqueueWait = 50 * time.Millisecond

	require.NoError(t, in.Enqueue(types.NewMessage("s", "a", "1")))
	require.NoError(t, in.Enqueue(types.NewMessage("s", "a", "2")))

	start := time.Now()
	err := in.Enqueue(types.NewMessage("s", "a", "3"))
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.InboxFull))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestInboxEnqueueUnblocksOnPop(t *testing.T) {
	in := NewInbox("a", 1)
	require.NoError(t, in.Enqueue(types.NewMessage("s", "a", "1")))

	done := make(chan error, 1)
	go func() {
		done <- in.Enqueue(types.NewMessage("s", "a", "2"))
	}()

	time.Sleep(20 * time.Millisecond)
	require.NotNil(t, in.TryPop())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("enqueue did not unblock after pop")
	}
	assert.Equal(t, 1, in.Len())
}

func TestInboxPopBlocksUntilEnqueue(t *testing.T) {
	in := NewInbox("a", 10)
	ctx := context.Background()

	got := make(chan *types.Message, 1)
	go func() {
		msg, err := in.Pop(ctx)
		require.NoError(t, err)
		got <- msg
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, in.Enqueue(types.NewMessage("s", "a", "wake")))

	select {
	case msg := <-got:
		assert.Equal(t, "wake", msg.Content)
	case <-time.After(time.Second):
		t.Fatal("pop did not observe enqueue")
	}
}

func TestInboxPopCancelled(t *testing.T) {
	in := NewInbox("a", 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := in.Pop(ctx)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.Cancelled))
}

func TestInboxClose(t *testing.T) {
	in := NewInbox("a", 10)
	require.NoError(t, in.Enqueue(types.NewMessage("s", "a", "pending")))

	drained := in.Close()
	require.Len(t, drained, 1)
	assert.Equal(t, "pending", drained[0].Content)
	assert.True(t, in.Closed())

	err := in.Enqueue(types.NewMessage("s", "a", "late"))
	require.Error(t, err)

	// Second close is a no-op.
	assert.Nil(t, in.Close())
}

func TestInboxSnapshotDoesNotDrain(t *testing.T) {
	in := NewInbox("a", 10)
	require.NoError(t, in.Enqueue(types.NewMessage("s", "a", "1")))
	require.NoError(t, in.Enqueue(types.NewMessage("s", "a", "2")))

	snap := in.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, 2, in.Len())
	assert.Equal(t, "1", snap[0].Content)
}

func TestInboxReserveHoldsCapacity(t *testing.T) {
	in := NewInbox("a", 2)

	require.NoError(t, in.Reserve())
	require.NoError(t, in.Reserve())

	// Both slots are claimed; a plain enqueue must not squeeze in.
	err := in.Enqueue(types.NewMessage("s", "a", "x"))
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.InboxFull))

	require.NoError(t, in.Commit(types.NewMessage("s", "a", "first")))
	in.Release()

	// The released slot is usable again.
	require.NoError(t, in.Enqueue(types.NewMessage("s", "a", "second")))
	assert.Equal(t, 2, in.Len())
	assert.Equal(t, "first", in.TryPop().Content)
	assert.Equal(t, "second", in.TryPop().Content)
}

func TestInboxCommitAfterCloseFails(t *testing.T) {
	in := NewInbox("a", 2)
	require.NoError(t, in.Reserve())
	in.Close()

	err := in.Commit(types.NewMessage("s", "a", "x"))
	require.Error(t, err)
}

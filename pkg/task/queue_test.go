// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/optica/pkg/a2a"
)

func statusEvent(taskID a2a.TaskID, state a2a.TaskState, final bool) *a2a.TaskStatusUpdateEvent {
	return &a2a.TaskStatusUpdateEvent{
		TaskID:    taskID,
		ContextID: "ctx",
		Status:    a2a.TaskStatus{State: state, Timestamp: a2a.Now()},
		Final:     final,
	}
}

func artifactEvent(taskID a2a.TaskID, n int) *a2a.TaskArtifactUpdateEvent {
	return &a2a.TaskArtifactUpdateEvent{
		TaskID:    taskID,
		ContextID: "ctx",
		Artifact:  &a2a.Artifact{ID: a2a.ArtifactID(fmt.Sprintf("a%d", n)), Parts: a2a.ContentParts{a2a.NewTextPart(fmt.Sprint(n))}},
	}
}

func drain(t *testing.T, sub *Subscription) []a2a.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out []a2a.Event
	for {
		ev, err := sub.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
}

func TestQueue_AllSubscribersSeeSameOrder(t *testing.T) {
	q := NewQueue("t1", 0)
	subs := []*Subscription{q.Subscribe(), q.Subscribe(), q.Subscribe()}

	var (
		wg      sync.WaitGroup
		results = make([][]a2a.Event, len(subs))
	)
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub *Subscription) {
			defer wg.Done()
			results[i] = drain(t, sub)
		}(i, sub)
	}

	require.NoError(t, q.Publish(statusEvent("t1", a2a.TaskStateWorking, false)))
	for n := 0; n < 50; n++ {
		require.NoError(t, q.Publish(artifactEvent("t1", n)))
	}
	require.NoError(t, q.Publish(statusEvent("t1", a2a.TaskStateCompleted, true)))
	wg.Wait()

	require.Len(t, results[0], 52)
	for i := 1; i < len(results); i++ {
		assert.Equal(t, results[0], results[i], "subscriber %d diverged", i)
	}
	assert.True(t, a2a.IsFinal(results[0][51]))
	assert.True(t, q.Closed())
}

func TestQueue_LateSubscriberReplaysBacklog(t *testing.T) {
	q := NewQueue("t1", 3)
	for n := 0; n < 5; n++ {
		require.NoError(t, q.Publish(artifactEvent("t1", n)))
	}

	late := q.Subscribe()
	require.NoError(t, q.Publish(statusEvent("t1", a2a.TaskStateCompleted, true)))

	got := drain(t, late)
	require.Len(t, got, 4, "backlog keeps only the newest events")
	assert.Equal(t, a2a.ArtifactID("a2"), got[0].(*a2a.TaskArtifactUpdateEvent).Artifact.ID)
	assert.True(t, a2a.IsFinal(got[3]))
}

func TestQueue_ClosedQueue(t *testing.T) {
	q := NewQueue("t1", 0)
	require.NoError(t, q.Publish(statusEvent("t1", a2a.TaskStateWorking, false)))
	q.Close()

	assert.ErrorIs(t, q.Publish(artifactEvent("t1", 1)), ErrQueueClosed)

	got := drain(t, q.Subscribe())
	require.Len(t, got, 1, "subscribing after close yields the replay only")
	q.Close()
}

func TestQueue_NextHonorsContext(t *testing.T) {
	q := NewQueue("t1", 0)
	sub := q.Subscribe()
	defer sub.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_ReleasedSubscriptionStops(t *testing.T) {
	q := NewQueue("t1", 0)
	sub := q.Subscribe()
	require.NoError(t, q.Publish(artifactEvent("t1", 1)))

	sub.Release()
	sub.Release()
	_, err := sub.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 0, q.Subscribers())

	require.NoError(t, q.Publish(artifactEvent("t1", 2)), "producer is unaffected by released consumers")
}

func TestQueue_ProducerNeverBlocks(t *testing.T) {
	q := NewQueue("t1", 8)
	slow := q.Subscribe()
	defer slow.Release()

	done := make(chan struct{})
	go func() {
		for n := 0; n < 10000; n++ {
			_ = q.Publish(artifactEvent("t1", n))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked on an idle subscriber")
	}
}

func TestQueues_RetireAndReopen(t *testing.T) {
	r := NewQueues(0)

	q1 := r.Open("t1")
	assert.Same(t, q1, r.Open("t1"), "an open queue is reused")

	sub := q1.Subscribe()
	require.NoError(t, q1.Publish(statusEvent("t1", a2a.TaskStateInputRequired, false)))
	q1.Close()

	_, ok := r.Get("t1")
	assert.True(t, ok, "a closed queue stays while subscribers drain it")

	q2 := r.Open("t1")
	assert.NotSame(t, q1, q2, "a new run opens a fresh queue")

	require.Len(t, drain(t, sub), 1)
	sub.Release()

	got, ok := r.Get("t1")
	require.True(t, ok)
	assert.Same(t, q2, got, "retiring the old queue leaves the new one in place")

	q2.Close()
	_, ok = r.Get("t1")
	assert.False(t, ok, "closed queue without subscribers is retired")
	assert.Equal(t, 0, r.Len())
}

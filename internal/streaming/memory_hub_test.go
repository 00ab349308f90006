package streaming

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvEvent(t *testing.T, ch <-chan CaseEvent) CaseEvent {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return CaseEvent{}
	}
}

func assertNoEvent(t *testing.T, ch <-chan CaseEvent) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected event: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel()

	err = hub.Publish(ctx, CaseEvent{CaseID: "case_1", StepID: "step_a", Kind: "step_completed"})
	require.NoError(t, err)

	got := recvEvent(t, ch)
	assert.Equal(t, "case_1", got.CaseID)
	assert.Equal(t, "step_a", got.StepID)
	assert.Equal(t, "step_completed", got.Kind)
}

func TestSubscribeFiltersByCase(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{CaseID: "case_1"})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, CaseEvent{CaseID: "case_2", Kind: "step_completed"}))
	require.NoError(t, hub.Publish(ctx, CaseEvent{CaseID: "case_1", Kind: "case_completed"}))

	got := recvEvent(t, ch)
	assert.Equal(t, "case_1", got.CaseID)
	assertNoEvent(t, ch)
}

func TestSubscribeFiltersByKind(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{Kinds: []string{"case_failed", "case_completed"}})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, CaseEvent{CaseID: "case_1", Kind: "step_started"}))
	require.NoError(t, hub.Publish(ctx, CaseEvent{CaseID: "case_1", Kind: "case_failed"}))

	got := recvEvent(t, ch)
	assert.Equal(t, "case_failed", got.Kind)
	assertNoEvent(t, ch)
}

func TestCancelStopsDelivery(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)

	cancel()
	cancel() // second call is a no-op

	require.NoError(t, hub.Publish(ctx, CaseEvent{CaseID: "case_1", Kind: "step_completed"}))
	assertNoEvent(t, ch)
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel()

	// Fill well past the channel buffer without draining.
	for i := 0; i < defaultChannelBuffer*2; i++ {
		require.NoError(t, hub.Publish(ctx, CaseEvent{CaseID: "case_1", Kind: fmt.Sprintf("evt_%d", i)}))
	}

	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			assert.Equal(t, defaultChannelBuffer, count)
			return
		}
	}
}

func TestCancelledContextRejected(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := hub.Subscribe(ctx, Filter{})
	require.Error(t, err)

	err = hub.Publish(ctx, CaseEvent{CaseID: "case_1"})
	require.Error(t, err)
}

func TestConcurrentPublish(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{CaseID: "case_1"})
	require.NoError(t, err)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = hub.Publish(ctx, CaseEvent{CaseID: "case_1", Kind: "step_completed"})
		}()
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		recvEvent(t, ch)
	}
}

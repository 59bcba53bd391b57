package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe("s1")

	b.Publish("s1", StageValidation, "checking files", nil)

	select {
	case ev := <-sub.C:
		assert.Equal(t, KindProgress, ev.Kind)
		assert.Equal(t, StageValidation, ev.Stage)
		assert.Equal(t, "checking files", ev.Message)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	b := NewBroadcaster()

	assert.NotPanics(t, func() {
		b.Publish("nobody", StageHash, "hashing", nil)
	})
	assert.Equal(t, 0, b.SubscriberCount("nobody"))
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewBroadcaster()
	s1 := b.Subscribe("s1")
	s2 := b.Subscribe("s1")
	other := b.Subscribe("s2")

	b.Publish("s1", StageHash, "hashing", nil)

	for _, sub := range []*Subscriber{s1, s2} {
		select {
		case ev := <-sub.C:
			assert.Equal(t, "hashing", ev.Message)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed event")
		}
	}

	select {
	case ev := <-other.C:
		t.Fatalf("session s2 received s1 event: %+v", ev)
	default:
	}
}

func TestCompleteIsTerminal(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe("s1")

	b.Complete("s1", map[string]any{"success": true})

	ev, ok := <-sub.C
	require.True(t, ok, "terminal event not delivered")
	assert.Equal(t, KindComplete, ev.Kind)

	_, ok = <-sub.C
	assert.False(t, ok, "channel should be closed after complete")
	assert.Equal(t, 0, b.SubscriberCount("s1"))
}

func TestFailIsTerminal(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe("s1")

	b.Fail("s1", "duplicate image")

	ev, ok := <-sub.C
	require.True(t, ok)
	assert.Equal(t, KindError, ev.Kind)
	assert.Equal(t, "duplicate image", ev.Message)

	_, ok = <-sub.C
	assert.False(t, ok, "channel should be closed after fail")
}

func TestPublishAfterTerminalIsNoop(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe("s1")
	b.Complete("s1", nil)
	<-sub.C

	assert.NotPanics(t, func() {
		b.Publish("s1", StageSave, "late event", nil)
		b.Fail("s1", "late error")
	})
	assert.Equal(t, 0, b.SubscriberCount("s1"))
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	b := NewBroadcaster()
	slow := b.Subscribe("s1")
	fast := b.Subscribe("s1")

	// Fill the slow subscriber's buffer without draining it.
	for i := 0; i < subscriberBuffer+1; i++ {
		b.Publish("s1", StageAnalysis, "tick", nil)
		// Keep the fast subscriber drained so only slow overflows.
		select {
		case <-fast.C:
		default:
		}
	}

	assert.Equal(t, 1, b.SubscriberCount("s1"))

	// The dropped channel ends with a close after its buffered backlog.
	drained := 0
	for range slow.C {
		drained++
	}
	assert.Equal(t, subscriberBuffer, drained)
}

func TestUnsubscribe(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe("s1")
	b.Unsubscribe(sub)

	_, ok := <-sub.C
	assert.False(t, ok)
	assert.Equal(t, 0, b.SubscriberCount("s1"))

	// Double unsubscribe must be safe.
	assert.NotPanics(t, func() { b.Unsubscribe(sub) })
}

func TestIdleTimeoutClosesSubscription(t *testing.T) {
	b := NewBroadcasterWithTimeout(20 * time.Millisecond)
	sub := b.Subscribe("s1")

	select {
	case _, ok := <-sub.C:
		assert.False(t, ok, "expected close, not an event")
	case <-time.After(time.Second):
		t.Fatal("idle subscriber was not closed")
	}
	assert.Equal(t, 0, b.SubscriberCount("s1"))
}

func TestIdleTimeoutDoesNotAffectActiveSession(t *testing.T) {
	b := NewBroadcasterWithTimeout(30 * time.Millisecond)
	idle := b.Subscribe("s1")
	active := b.Subscribe("s1")

	// Keep the session warm from the active side.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range active.C {
		}
	}()

	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		b.Publish("s1", StageAnalysis, "tick", nil)
		time.Sleep(5 * time.Millisecond)
	}

	// Both subscribers received deliveries, so both survived.
	assert.Equal(t, 2, b.SubscriberCount("s1"))
	_ = idle

	b.Complete("s1", nil)
	<-done
	for range idle.C {
	}
}

package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ch <-chan Event, n int) []Event {
	t.Helper()
	out := make([]Event, 0, n)
	for len(out) < n {
		select {
		case ev, ok := <-ch:
			require.True(t, ok, "channel closed early")
			out = append(out, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestBusBroadcasts(t *testing.T) {
	b := New()
	defer b.Close()

	ch1, cancel1 := b.Subscribe()
	defer cancel1()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()

	b.Publish(Event{Kind: KindFeedUpdated, FeedID: 1})
	b.Publish(Event{Kind: KindEntryAdded, FeedID: 1, EntryID: 10})

	for _, ch := range []<-chan Event{ch1, ch2} {
		got := collect(t, ch, 2)
		assert.Equal(t, KindFeedUpdated, got[0].Kind)
		assert.Equal(t, KindEntryAdded, got[1].Kind)
		assert.Equal(t, int64(10), got[1].EntryID)
	}
}

func TestBusFillsIDAndTimestamp(t *testing.T) {
	b := New()
	defer b.Close()

	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(Event{Kind: KindPollCompleted, RunID: "run-1"})

	got := collect(t, ch, 1)[0]
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.At.IsZero())
	assert.Equal(t, "run-1", got.RunID)
}

func TestBusPublishNeverBlocks(t *testing.T) {
	b := New()
	defer b.Close()

	// Nobody reads this subscriber.
	_, cancel := b.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish(Event{Kind: KindEntryAdded, EntryID: int64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestBusCancelClosesChannel(t *testing.T) {
	b := New()
	defer b.Close()

	ch, cancel := b.Subscribe()
	cancel()
	cancel() // safe to repeat

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}

	// A canceled subscriber no longer receives.
	b.Publish(Event{Kind: KindFeedUpdated})
}

func TestBusClose(t *testing.T) {
	b := New()

	ch, cancel := b.Subscribe()
	defer cancel()

	b.Close()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after bus close")
	}

	// Publishing and subscribing after close are inert.
	b.Publish(Event{Kind: KindFeedUpdated})
	late, lateCancel := b.Subscribe()
	defer lateCancel()
	select {
	case _, ok := <-late:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("late subscription not closed")
	}
}

func TestBusPerSubscriberOrdering(t *testing.T) {
	b := New()
	defer b.Close()

	ch, cancel := b.Subscribe()
	defer cancel()

	for i := 0; i < 100; i++ {
		b.Publish(Event{Kind: KindEntryAdded, EntryID: int64(i)})
	}

	got := collect(t, ch, 100)
	for i, ev := range got {
		assert.Equal(t, int64(i), ev.EntryID)
	}
}

package stream

import (
	"context"
	"testing"
	"time"
)

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("channel closed unexpectedly")
		}
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestSubscribeReplaysLatest(t *testing.T) {
	b := NewBroadcaster[int](1)
	b.Publish(1)
	b.Publish(2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := b.Subscribe(ctx)
	if got := receive(t, ch); got != 2 {
		t.Fatalf("expected replay of latest value 2, got %d", got)
	}
}

func TestSlowSubscriberSeesNewestValue(t *testing.T) {
	b := NewBroadcaster[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := b.Subscribe(ctx)

	for i := 1; i <= 5; i++ {
		b.Publish(i)
	}
	if got := receive(t, ch); got != 5 {
		t.Fatalf("expected conflated value 5, got %d", got)
	}
}

func TestBufferedSubscriberKeepsOrder(t *testing.T) {
	b := NewBroadcaster[int](3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := b.Subscribe(ctx)

	for i := 1; i <= 4; i++ {
		b.Publish(i)
	}
	for _, want := range []int{2, 3, 4} {
		if got := receive(t, ch); got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
}

func TestCancelUnsubscribes(t *testing.T) {
	b := NewBroadcaster[string](1)
	ctx, cancel := context.WithCancel(context.Background())
	ch := b.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription was not closed on cancel")
	}
	if b.Subscribers() != 0 {
		t.Fatalf("expected no subscribers, got %d", b.Subscribers())
	}
}

func TestCloseClosesSubscribers(t *testing.T) {
	b := NewBroadcaster[int](1)
	ch := b.Subscribe(context.Background())
	b.Close()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after Close")
	}
	b.Publish(1)
	if _, ok := <-b.Subscribe(context.Background()); ok {
		t.Fatal("subscribing after Close should yield a closed channel")
	}
}

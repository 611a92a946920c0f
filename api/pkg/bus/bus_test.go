package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversInOrder(t *testing.T) {
	b := New()
	ch, sub := b.Subscribe("topic", FIFO, 8)
	defer sub.Cancel()

	for i := 0; i < 5; i++ {
		b.Publish("topic", i)
	}

	for i := 0; i < 5; i++ {
		select {
		case item := <-ch:
			assert.Equal(t, i, item)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for item")
		}
	}
}

func TestFIFODropsOldestOnOverflow(t *testing.T) {
	b := New()
	ch, sub := b.Subscribe("topic", FIFO, 2)
	defer sub.Cancel()

	b.Publish("topic", 1)
	b.Publish("topic", 2)
	b.Publish("topic", 3) // should evict 1

	got := []int{}
	for len(got) < 2 {
		select {
		case item := <-ch:
			got = append(got, item.(int))
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	}
	assert.Equal(t, []int{2, 3}, got)
}

func TestLatestKeepsOnlyNewest(t *testing.T) {
	b := New()
	ch, sub := b.Subscribe("topic", Latest, 64) // maxSize ignored for Latest
	defer sub.Cancel()

	b.Publish("topic", "a")
	b.Publish("topic", "b")
	b.Publish("topic", "c")

	select {
	case item := <-ch:
		assert.Equal(t, "c", item)
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
	select {
	case item, ok := <-ch:
		t.Fatalf("expected no more items, got %v (ok=%v)", item, ok)
	default:
	}
}

func TestPublishNeverBlocksWithNoSubscribers(t *testing.T) {
	b := New()
	done := make(chan struct{})
	go func() {
		b.Publish("nobody-home", 42)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked with no subscribers")
	}
}

func TestPublishNeverBlocksWithFullSlowSubscriber(t *testing.T) {
	b := New()
	_, sub := b.Subscribe("topic", FIFO, 1)
	defer sub.Cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish("topic", i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked against a slow/full subscriber")
	}
}

func TestUnsubscribeRemovesTopicEntry(t *testing.T) {
	b := New()
	_, sub := b.Subscribe("topic", FIFO, 8)

	topics, subs := b.Stats()
	require.Equal(t, 1, topics)
	require.Equal(t, 1, subs)

	sub.Cancel()
	sub.Cancel() // idempotent

	topics, subs = b.Stats()
	assert.Equal(t, 0, topics)
	assert.Equal(t, 0, subs)
}

func TestPublishPartitioned(t *testing.T) {
	b := New()
	ch, sub := b.Subscribe("frames:cam-1", FIFO, 8)
	defer sub.Cancel()

	b.PublishPartitioned("frames", "cam-1", "hello")
	select {
	case item := <-ch:
		assert.Equal(t, "hello", item)
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestCloseTopicDropsSubscribers(t *testing.T) {
	b := New()
	_, sub := b.Subscribe("topic", FIFO, 8)
	defer sub.Cancel()

	b.CloseTopic("topic")
	topics, _ := b.Stats()
	assert.Equal(t, 0, topics)

	// Publish after close is a no-op, not an error.
	b.Publish("topic", "ignored")
}

func TestSubscribeManyMergesAndTearsDown(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	merged, sub := b.SubscribeMany(ctx, []string{"a", "b"}, FIFO, 8)

	b.Publish("a", 1)
	b.Publish("b", 2)

	seen := map[any]bool{}
	for i := 0; i < 2; i++ {
		select {
		case item := <-merged:
			seen[item] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for merged item")
		}
	}
	assert.True(t, seen[1])
	assert.True(t, seen[2])

	sub.Cancel()
	topics, _ := b.Stats()
	assert.Equal(t, 0, topics)
}

func TestConcurrentPublishSubscribeIsRaceFree(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					b.Publish("topic", 1)
				}
			}
		}()
	}

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, sub := b.Subscribe("topic", FIFO, 4)
			time.Sleep(time.Millisecond)
			sub.Cancel()
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(stop)
	wg.Wait()
}

package broker

import (
	"sync"
	"testing"
	"time"

	"github.com/cuemby/chatcluster/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToRecipientOnly(t *testing.T) {
	b := New()
	bob := b.Subscribe("bob")
	defer bob.Close()
	alice := b.Subscribe("alice")
	defer alice.Close()

	b.Publish(&types.Message{ID: 1, Sender: "carol", Recipient: "bob", Content: "hi"})

	select {
	case msg := <-bob.C:
		require.Equal(t, uint64(1), msg.ID)
	case <-time.After(time.Second):
		t.Fatal("bob never received the message")
	}

	select {
	case msg := <-alice.C:
		t.Fatalf("alice should not have received %v", msg)
	default:
	}
}

func TestPublishDisconnectsOnFullQueue(t *testing.T) {
	b := New()
	sub := b.Subscribe("bob")
	defer sub.Close()

	for i := 0; i < queueDepth; i++ {
		b.Publish(&types.Message{ID: uint64(i + 1), Recipient: "bob"})
	}
	require.Equal(t, 1, b.SubscriberCount("bob"))

	// One more publish overflows the buffer and tears the subscription down.
	b.Publish(&types.Message{ID: uint64(queueDepth + 1), Recipient: "bob"})

	select {
	case <-sub.Done:
	case <-time.After(time.Second):
		t.Fatal("Done was never closed after backpressure")
	}
	require.Equal(t, 0, b.SubscriberCount("bob"))
}

// TestPublishConcurrentBackpressureDoesNotPanic guards against the
// double-close: two goroutines racing Publish against the same
// already-full subscription must not both close(sub.Done).
func TestPublishConcurrentBackpressureDoesNotPanic(t *testing.T) {
	b := New()
	sub := b.Subscribe("bob")
	defer sub.Close()

	for i := 0; i < queueDepth; i++ {
		b.Publish(&types.Message{ID: uint64(i + 1), Recipient: "bob"})
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			b.Publish(&types.Message{ID: uint64(queueDepth + 2 + n), Recipient: "bob"})
		}(i)
	}
	wg.Wait()

	select {
	case <-sub.Done:
	default:
		t.Fatal("expected Done to be closed after overflow")
	}
}

func TestCloseIsIdempotentAndUnsubscribes(t *testing.T) {
	b := New()
	sub := b.Subscribe("bob")
	require.Equal(t, 1, b.SubscriberCount("bob"))

	sub.Close()
	sub.Close() // must not panic or double-unsubscribe
	require.Equal(t, 0, b.SubscriberCount("bob"))
}

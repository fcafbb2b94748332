package event

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startRelay(t *testing.T, addr string, bus Bus) {
	t.Helper()
	startRelayWithLogger(t, addr, bus, nil)
}

func startRelayWithLogger(t *testing.T, addr string, bus Bus, logger *slog.Logger) {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = NewRedisRelay(client, bus, "test-session-events", logger).Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = client.Close()
	})
}

func TestRedisRelayForwardsSessionEvents(t *testing.T) {
	mr := miniredis.RunT(t)

	busA := NewBus()
	busB := NewBus()
	startRelay(t, mr.Addr(), busA)
	startRelay(t, mr.Addr(), busB)

	// Both relays subscribe asynchronously.
	require.Eventually(t, func() bool {
		return busA.SubscriberCount() == 1 && busB.SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	received, unsubscribe := busB.Subscribe()
	defer unsubscribe()

	busA.Publish(Event{Type: TypeOpenLogin})
	busA.Publish(Event{Type: TypeSessionLoggedOut, Origin: "provider-a"})

	select {
	case e := <-received:
		require.Equal(t, TypeSessionLoggedOut, e.Type)
		require.Equal(t, "provider-a", e.Origin)
		require.True(t, e.Remote())
	case <-time.After(2 * time.Second):
		t.Fatal("session event was not relayed")
	}

	select {
	case e := <-received:
		t.Fatalf("unexpected extra event %q", e.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisRelayLogsMalformedPayloadWithComponent(t *testing.T) {
	mr := miniredis.RunT(t)
	logs := &lockedBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))

	bus := NewBus()
	startRelayWithLogger(t, mr.Addr(), bus, logger)
	require.Eventually(t, func() bool { return bus.SubscriberCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	mr.Publish("test-session-events", "{not json")

	require.Eventually(t, func() bool {
		out := logs.String()
		return strings.Contains(out, "dropping malformed session event") && strings.Contains(out, "component=relay")
	}, 2*time.Second, 10*time.Millisecond)
}

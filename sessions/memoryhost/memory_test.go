package memoryhost

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchrpc/mcp-dispatch-go/sessions"
)

func newSession(t *testing.T, h *Host, id string) {
	t.Helper()
	require.NoError(t, h.CreateSession(context.Background(), sessions.Session{
		ID:              id,
		ProtocolVersion: "2025-06-18",
		CreatedAt:       time.Now(),
	}))
}

func TestSessionLifecycle(t *testing.T) {
	h := New()
	ctx := context.Background()
	newSession(t, h, "s1")

	sess, err := h.LoadSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "2025-06-18", sess.ProtocolVersion)

	require.NoError(t, h.DeleteSession(ctx, "s1"))
	_, err = h.LoadSession(ctx, "s1")
	assert.ErrorIs(t, err, sessions.ErrSessionNotFound)
	assert.ErrorIs(t, h.DeleteSession(ctx, "s1"), sessions.ErrSessionNotFound)
}

func TestPublishAssignsMonotonicIDs(t *testing.T) {
	h := New()
	ctx := context.Background()
	newSession(t, h, "s1")

	id1, err := h.PublishSession(ctx, "s1", []byte(`{"n":1}`))
	require.NoError(t, err)
	id2, err := h.PublishSession(ctx, "s1", []byte(`{"n":2}`))
	require.NoError(t, err)
	assert.Equal(t, "1", id1)
	assert.Equal(t, "2", id2)

	_, err = h.PublishSession(ctx, "missing", []byte(`{}`))
	assert.ErrorIs(t, err, sessions.ErrSessionNotFound)
}

func TestSubscribeReplaysAfterLastEventID(t *testing.T) {
	h := New()
	ctx := context.Background()
	newSession(t, h, "s1")

	for i := 1; i <= 5; i++ {
		_, err := h.PublishSession(ctx, "s1", []byte{byte('0' + i)})
		require.NoError(t, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	var gotIDs []string
	var gotPayloads []string
	err := h.SubscribeSession(subCtx, "s1", "3", func(_ context.Context, eventID string, payload []byte) error {
		gotIDs = append(gotIDs, eventID)
		gotPayloads = append(gotPayloads, string(payload))
		if eventID == "5" {
			cancel()
		}
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{"4", "5"}, gotIDs)
	assert.Equal(t, []string{"4", "5"}, gotPayloads)
}

func TestSubscribeFollowsLivePublishes(t *testing.T) {
	h := New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	newSession(t, h, "s1")

	got := make(chan string, 4)
	done := make(chan error, 1)
	go func() {
		done <- h.SubscribeSession(ctx, "s1", "0", func(_ context.Context, eventID string, _ []byte) error {
			got <- eventID
			return nil
		})
	}()

	_, err := h.PublishSession(ctx, "s1", []byte("a"))
	require.NoError(t, err)
	select {
	case id := <-got:
		assert.Equal(t, "1", id)
	case <-ctx.Done():
		t.Fatal("timed out waiting for live event")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestReplayBufferIsBounded(t *testing.T) {
	h := New(WithMaxBufferedEvents(3))
	ctx := context.Background()
	newSession(t, h, "s1")

	for i := 0; i < 10; i++ {
		_, err := h.PublishSession(ctx, "s1", []byte("x"))
		require.NoError(t, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	var gotIDs []string
	err := h.SubscribeSession(subCtx, "s1", "0", func(_ context.Context, eventID string, _ []byte) error {
		gotIDs = append(gotIDs, eventID)
		if eventID == "10" {
			cancel()
		}
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	// Only the newest three survive trimming; ids keep counting up.
	assert.Equal(t, []string{"8", "9", "10"}, gotIDs)
}

func TestSessionTTLExpiry(t *testing.T) {
	h := New(WithSessionTTL(10 * time.Millisecond))
	ctx := context.Background()
	newSession(t, h, "s1")

	_, err := h.LoadSession(ctx, "s1")
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)
	_, err = h.LoadSession(ctx, "s1")
	assert.ErrorIs(t, err, sessions.ErrSessionNotFound)
}

package events

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/interviewd/internal/domain"
)

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryBus("test.sessions", nil)
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	session := &domain.Session{ID: "s-1", Kind: "questionnaire", Status: domain.StatusInitiated}
	require.NoError(t, bus.Publish(ctx, NewEvent(SessionInitiated, session, map[string]any{"questions": 2})))

	select {
	case msg := <-msgs:
		e, err := Decode(msg)
		require.NoError(t, err)
		msg.Ack()
		assert.Equal(t, SessionInitiated, e.Type)
		assert.Equal(t, "s-1", e.SessionID)
		assert.Equal(t, domain.StatusInitiated, e.Status)
		assert.Equal(t, float64(2), e.Data["questions"])
		assert.Equal(t, "s-1", msg.Metadata.Get("session_id"))
		assert.Equal(t, string(SessionInitiated), msg.Metadata.Get("type"))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestDecode_RejectsGarbage(t *testing.T) {
	bus := NewMemoryBus("garbage", nil)
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, bus.pub.Publish("garbage", message.NewMessage(watermill.NewUUID(), []byte("not json"))))
	msg := <-msgs
	msg.Ack()
	_, err = Decode(msg)
	assert.Error(t, err)
}

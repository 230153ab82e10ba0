package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusDeliversToMatchingSubscribers(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	var exact, wildcard []string
	_, err := bus.Subscribe(SubjectHandoffPublished, func(msg *Message) { exact = append(exact, msg.Subject) })
	require.NoError(t, err)
	sub, err := bus.Subscribe("session.resolved.>", func(msg *Message) { wildcard = append(wildcard, msg.Subject) })
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), SubjectHandoffPublished, HandoffPublishedV1{ChannelID: "healme_1"}))
	require.NoError(t, bus.Publish(context.Background(), SessionResolvedSubject("device-1"), SessionResolvedV1{DeviceID: "device-1"}))
	require.NoError(t, bus.Publish(context.Background(), "session.resolved", SessionResolvedV1{}))

	assert.Equal(t, []string{SubjectHandoffPublished}, exact)
	assert.Equal(t, []string{"session.resolved.device-1"}, wildcard)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, bus.Publish(context.Background(), SessionResolvedSubject("device-2"), SessionResolvedV1{}))
	assert.Len(t, wildcard, 1)
}

func TestMemoryBusEncodesJSON(t *testing.T) {
	bus := NewMemoryBus()
	var got HandoffRetiredV1
	_, err := bus.Subscribe(SubjectHandoffRetired, func(msg *Message) {
		require.NoError(t, json.Unmarshal(msg.Data, &got))
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), SubjectHandoffRetired, HandoffRetiredV1{ChannelID: "healme_x", Records: 2}))
	assert.Equal(t, "healme_x", got.ChannelID)
	assert.Equal(t, 2, got.Records)
}

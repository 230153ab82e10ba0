package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeChange(t *testing.T) {
	body := `{"deviceId":"ipad-1","kind":"sign_in","subjectId":"sub-1","email":"jane@example.com","occurredAt":"2025-06-01T10:00:00Z"}`
	change, err := DecodeChange(body)
	require.NoError(t, err)
	assert.Equal(t, ChangeSignIn, change.Kind)
	assert.Equal(t, Claim{SubjectID: "sub-1", Email: "jane@example.com"}, change.Claim())
	assert.Equal(t, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), change.OccurredAt)
}

func TestDecodeChangeRejectsInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"not json":       "{",
		"missing device": `{"kind":"sign_in","subjectId":"s"}`,
		"missing sub":    `{"deviceId":"d","kind":"token_refresh"}`,
		"unknown kind":   `{"deviceId":"d","kind":"reboot","subjectId":"s"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeChange(body)
			assert.Error(t, err)
		})
	}
}

func TestSignOutCarriesEmptyClaim(t *testing.T) {
	change := SessionChange{DeviceID: "d", Kind: ChangeSignOut, SubjectID: "sub-1"}
	require.NoError(t, change.Validate())
	assert.True(t, change.Claim().Empty())
}

func TestPublishChangeThroughMemoryQueue(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()
	require.NoError(t, PublishChange(ctx, q, SessionChange{DeviceID: "d", Kind: ChangeSignIn, SubjectID: "s"}))
	require.NoError(t, PublishChange(ctx, q, SessionChange{DeviceID: "d", Kind: ChangeSignOut}))
	assert.Error(t, PublishChange(ctx, q, SessionChange{Kind: ChangeSignIn}))

	msgs, err := q.Receive(ctx, 10, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	first, err := DecodeChange(msgs[0].Body)
	require.NoError(t, err)
	assert.Equal(t, "s", first.SubjectID)
	assert.False(t, first.OccurredAt.IsZero())
}

func TestMemoryQueueReceiveTimesOut(t *testing.T) {
	q := NewMemoryQueue(1)
	msgs, err := q.Receive(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = q.Receive(ctx, 1, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClaimContext(t *testing.T) {
	_, ok := ClaimFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithClaim(context.Background(), Claim{SubjectID: "sub-1", Email: " Jane@Example.com "})
	claim, ok := ClaimFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "jane@example.com", claim.NormalizedEmail())

	_, ok = ClaimFromContext(WithClaim(context.Background(), Claim{}))
	assert.False(t, ok)
}

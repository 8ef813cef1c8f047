package activitymap_test

import (
	"testing"
	"time"

	auth "github.com/healthapp/go-auth"
	"github.com/healthapp/go-auth/activitymap"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeActivationEvent(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	event := auth.ActivityEvent{
		EventType: auth.ActivityEventActivationApproved,
		Actor:     auth.ActorRef{ID: "admin-42", Type: "admin"},
		AccountID: "doctor-100",
		FromState: auth.StatePending,
		ToState:   auth.StateApproved,
		Metadata: map[string]any{
			"request_id": "req-1",
		},
		OccurredAt: ts,
	}

	out := activitymap.Normalize(event)

	assert.Equal(t, "admin-42", out.ActorID)
	assert.Equal(t, string(auth.ActivityEventActivationApproved), out.Verb)
	assert.Equal(t, "doctor", out.ObjectType)
	assert.Equal(t, "doctor-100", out.ObjectID)
	assert.Equal(t, "identity", out.Channel)
	assert.True(t, out.OccurredAt.Equal(ts))
	assert.Equal(t, "req-1", out.Metadata["request_id"])
	assert.Equal(t, "admin", out.Metadata[activitymap.MetadataKeyActorType])
	assert.Equal(t, "PENDING", out.Metadata[activitymap.MetadataKeyFromState])
	assert.Equal(t, "APPROVED", out.Metadata[activitymap.MetadataKeyToState])
}

func TestNormalizeFallbacks(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	t.Run("actor falls back to account", func(t *testing.T) {
		out := activitymap.Normalize(auth.ActivityEvent{
			EventType: auth.ActivityEventLoginSuccess,
			AccountID: "user-7",
		}, activitymap.WithClock(func() time.Time { return fixed }))

		assert.Equal(t, "user-7", out.ActorID)
		assert.Equal(t, "account", out.ObjectType)
		assert.Equal(t, fixed, out.OccurredAt)
		assert.Nil(t, out.Metadata)
	})

	t.Run("configured fallback and channel", func(t *testing.T) {
		out := activitymap.Normalize(auth.ActivityEvent{
			EventType: auth.ActivityEventActivationReconciled,
		}, activitymap.WithActorFallback("reconciler"), activitymap.WithChannel("audit"))

		assert.Equal(t, "reconciler", out.ActorID)
		assert.Equal(t, "audit", out.Channel)
	})

	t.Run("metadata is copied", func(t *testing.T) {
		meta := map[string]any{"k": "v"}
		out := activitymap.Normalize(auth.ActivityEvent{
			EventType: auth.ActivityEventLogout,
			Metadata:  meta,
		})
		out.Metadata["k"] = "changed"
		assert.Equal(t, "v", meta["k"])
	})
}

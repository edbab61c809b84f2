package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesSubscribers(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	events, cancel := h.Subscribe()
	defer cancel()

	h.Publish(StatusEvent{State: "connecting"})

	select {
	case ev := <-events:
		assert.Equal(t, "connecting", ev.State)
		assert.False(t, ev.At.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSubscribeReplaysLatestEvent(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	h.Publish(StatusEvent{State: "connecting"})
	h.Publish(StatusEvent{State: "awaiting_enrollment", QRCode: "data:image/png;base64,x"})

	events, cancel := h.Subscribe()
	defer cancel()

	select {
	case ev := <-events:
		assert.Equal(t, "awaiting_enrollment", ev.State)
		assert.Equal(t, "data:image/png;base64,x", ev.QRCode)
	case <-time.After(time.Second):
		t.Fatal("latest event not replayed to the new subscriber")
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	events, cancel := h.Subscribe()
	cancel()

	// Channel is closed on cancel; publishing afterwards must not panic.
	h.Publish(StatusEvent{State: "open"})

	_, open := <-events
	assert.False(t, open)
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	_, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// More events than the subscriber buffer holds.
		for i := 0; i < 100; i++ {
			h.Publish(StatusEvent{State: "open"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestQRDataURL(t *testing.T) {
	t.Parallel()

	got, err := QRDataURL("enroll-me")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "data:image/png;base64,"), got)
	assert.Greater(t, len(got), len("data:image/png;base64,"))
}

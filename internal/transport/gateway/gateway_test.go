package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promozap/promozap/internal/transport"
)

func TestTranslate(t *testing.T) {
	t.Parallel()

	ev, ok := translate(frame{Type: "qr", Code: "enroll-me"})
	require.True(t, ok)
	assert.Equal(t, transport.EventEnrollmentCode, ev.Kind)
	assert.Equal(t, "enroll-me", ev.Code)

	ev, ok = translate(frame{Type: "open"})
	require.True(t, ok)
	assert.Equal(t, transport.EventOpened, ev.Kind)

	ev, ok = translate(frame{Type: "closed", Reason: "logged_out"})
	require.True(t, ok)
	assert.Equal(t, transport.EventClosed, ev.Kind)
	assert.Equal(t, transport.CloseLoggedOut, ev.Reason)

	_, ok = translate(frame{Type: "heartbeat"})
	assert.False(t, ok, "unknown frame types are skipped")
}

func TestTranslateMessage(t *testing.T) {
	t.Parallel()

	ev, ok := translate(frame{Type: "message", Message: &messageFrame{
		ID:           "msg-1",
		Conversation: "group@g.us",
		FromSelf:     false,
		Text:         "oferta https://shope.ee/x",
		Timestamp:    1700000000,
	}})
	require.True(t, ok)
	assert.Equal(t, transport.EventMessage, ev.Kind)
	assert.Equal(t, "msg-1", ev.Message.ID)
	assert.Equal(t, "group@g.us", ev.Message.Conversation)
	assert.Equal(t, int64(1700000000), ev.Message.Timestamp.Unix())

	_, ok = translate(frame{Type: "message"})
	assert.False(t, ok, "message frame without a body is dropped")
}

func TestTranslateCredentials(t *testing.T) {
	t.Parallel()

	ev, ok := translate(frame{Type: "creds", Fragments: []fragment{
		{Name: "creds.json", Content: "eyJtZSI6ImJvdCJ9"}, // {"me":"bot"}
		{Name: "bad.bin", Content: "!!not-base64!!"},
	}})
	require.True(t, ok)
	assert.Equal(t, transport.EventCredentials, ev.Kind)
	require.Len(t, ev.Fragments, 1, "undecodable fragments are skipped")
	assert.Equal(t, "creds.json", ev.Fragments[0].Name)
	assert.Equal(t, `{"me":"bot"}`, string(ev.Fragments[0].Content))
}

func TestCloseReasonMapping(t *testing.T) {
	t.Parallel()

	assert.Equal(t, transport.CloseBadSession, closeReason("bad_session"))
	assert.Equal(t, transport.CloseTimedOut, closeReason("timed_out"))
	// Anything the bridge invents maps to a retryable connection loss.
	assert.Equal(t, transport.CloseConnectionLost, closeReason("solar_flare"))
}

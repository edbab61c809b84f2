// Package transport defines the chat transport capability the supervisor
// drives. The concrete protocol implementation is an external collaborator;
// this package only fixes the contract: dial with cached credentials, receive
// a serialized event stream, send messages, log out.
package transport

import (
	"context"
	"time"
)

// CloseReason classifies why a connection closed.
type CloseReason string

const (
	CloseConnectionLost CloseReason = "connection_lost"
	CloseTimedOut       CloseReason = "timed_out"
	CloseStreamEnded    CloseReason = "stream_ended"
	CloseRestartNeeded  CloseReason = "restart_needed"
	CloseLoggedOut      CloseReason = "logged_out"
	CloseBadSession     CloseReason = "bad_session"
)

// Retryable reports whether the supervisor may reconnect after this close.
// An explicit logout or a corrupted session must never be retried with the
// same credentials.
func (r CloseReason) Retryable() bool {
	return r != CloseLoggedOut && r != CloseBadSession
}

// EventKind discriminates Event.
type EventKind string

const (
	EventEnrollmentCode EventKind = "enrollment_code"
	EventOpened         EventKind = "opened"
	EventClosed         EventKind = "closed"
	EventMessage        EventKind = "message"
	EventCredentials    EventKind = "credentials"
)

// Fragment is a named credential blob reported by the transport.
type Fragment struct {
	Name    string
	Content []byte
}

// Message is one inbound chat message.
type Message struct {
	ID           string
	Conversation string
	FromSelf     bool
	Text         string
	Timestamp    time.Time
}

// Event is a single transport notification. Exactly the fields for its Kind
// are populated. Events arrive serially on the channel returned by Dial and
// the channel closes when the connection is gone for good.
type Event struct {
	Kind      EventKind
	Code      string
	Reason    CloseReason
	Message   Message
	Fragments []Fragment
}

// Client is an open connection able to send messages.
type Client interface {
	SendText(ctx context.Context, conversationID, text string) error
	SendImage(ctx context.Context, conversationID, imageURL, caption string) error
	Logout(ctx context.Context) error
}

// Dialer establishes a connection, authenticating from the credential cache
// directory. A dialer with no cached credentials emits an enrollment code
// event instead of opening directly.
type Dialer interface {
	Dial(ctx context.Context, credentialDir string) (Client, <-chan Event, error)
}

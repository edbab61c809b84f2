// Package gateway implements the chat transport against an external bridge
// process over a websocket. The bridge owns the actual chat protocol; this
// side speaks a small JSON frame exchange: an init frame with the credential
// cache location, then event frames in and command frames out.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/promozap/promozap/internal/transport"
)

const (
	writeTimeout = 10 * time.Second
	eventBuffer  = 16
)

// frame is the wire format in both directions.
type frame struct {
	Type         string        `json:"type"`
	Code         string        `json:"code,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	Conversation string        `json:"conversation,omitempty"`
	Text         string        `json:"text,omitempty"`
	ImageURL     string        `json:"image_url,omitempty"`
	Caption      string        `json:"caption,omitempty"`
	Message      *messageFrame `json:"message,omitempty"`
	Fragments    []fragment    `json:"fragments,omitempty"`
	Init         *initFrame    `json:"init,omitempty"`
}

type initFrame struct {
	CredentialDir string `json:"credential_dir"`
}

type messageFrame struct {
	ID           string `json:"id"`
	Conversation string `json:"conversation"`
	FromSelf     bool   `json:"from_self"`
	Text         string `json:"text"`
	Timestamp    int64  `json:"timestamp"`
}

type fragment struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Dialer connects to the bridge endpoint.
type Dialer struct {
	url    string
	logger *slog.Logger
}

func NewDialer(log *slog.Logger, url string) *Dialer {
	if log == nil {
		log = slog.Default()
	}
	return &Dialer{
		url:    url,
		logger: log.With(slog.String("component", "gateway")),
	}
}

// Dial opens the bridge connection, announces the credential directory, and
// starts translating bridge frames into transport events. The returned
// channel closes when the bridge connection dies.
func (d *Dialer) Dial(ctx context.Context, credentialDir string) (transport.Client, <-chan transport.Event, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial gateway %s: %w", d.url, err)
	}

	c := &client{conn: conn, logger: d.logger}
	if err := c.writeFrame(frame{Type: "init", Init: &initFrame{CredentialDir: credentialDir}}); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("gateway init: %w", err)
	}

	events := make(chan transport.Event, eventBuffer)
	go c.readLoop(events)
	return c, events, nil
}

type client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex
}

func (c *client) readLoop(events chan<- transport.Event) {
	defer close(events)
	defer c.conn.Close()
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("gateway read ended", slog.Any("error", err))
			}
			return
		}
		if event, ok := translate(f); ok {
			events <- event
		}
	}
}

// translate maps a bridge frame to a transport event. Unknown frame types are
// skipped so bridge upgrades do not break the supervisor.
func translate(f frame) (transport.Event, bool) {
	switch f.Type {
	case "qr":
		return transport.Event{Kind: transport.EventEnrollmentCode, Code: f.Code}, true
	case "open":
		return transport.Event{Kind: transport.EventOpened}, true
	case "closed":
		return transport.Event{
			Kind:   transport.EventClosed,
			Reason: closeReason(f.Reason),
		}, true
	case "message":
		if f.Message == nil {
			return transport.Event{}, false
		}
		return transport.Event{
			Kind: transport.EventMessage,
			Message: transport.Message{
				ID:           f.Message.ID,
				Conversation: f.Message.Conversation,
				FromSelf:     f.Message.FromSelf,
				Text:         f.Message.Text,
				Timestamp:    time.Unix(f.Message.Timestamp, 0),
			},
		}, true
	case "creds":
		fragments := make([]transport.Fragment, 0, len(f.Fragments))
		for _, fr := range f.Fragments {
			content, err := base64.StdEncoding.DecodeString(fr.Content)
			if err != nil {
				continue
			}
			fragments = append(fragments, transport.Fragment{Name: fr.Name, Content: content})
		}
		return transport.Event{Kind: transport.EventCredentials, Fragments: fragments}, true
	default:
		return transport.Event{}, false
	}
}

func closeReason(raw string) transport.CloseReason {
	switch transport.CloseReason(raw) {
	case transport.CloseConnectionLost,
		transport.CloseTimedOut,
		transport.CloseStreamEnded,
		transport.CloseRestartNeeded,
		transport.CloseLoggedOut,
		transport.CloseBadSession:
		return transport.CloseReason(raw)
	default:
		return transport.CloseConnectionLost
	}
}

func (c *client) SendText(ctx context.Context, conversationID, text string) error {
	return c.writeFrame(frame{Type: "send_text", Conversation: conversationID, Text: text})
}

func (c *client) SendImage(ctx context.Context, conversationID, imageURL, caption string) error {
	return c.writeFrame(frame{Type: "send_image", Conversation: conversationID, ImageURL: imageURL, Caption: caption})
}

func (c *client) Logout(ctx context.Context) error {
	err := c.writeFrame(frame{Type: "logout"})
	c.conn.Close()
	return err
}

func (c *client) writeFrame(f frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/durable-streams/core/internal/content"
	"github.com/durable-streams/core/internal/offset"
)

// WSAttachment is the serializable per-connection state ServeWS sends
// to the client with its catch-up control frame: the stream path, the
// counter catch-up reached, and whether the connection is subscribed to
// broadcasts. The server does not keep attachments and does not read
// them back; a new connection resumes only from its offset query
// parameter.
type WSAttachment struct {
	Path         string `json:"path"`
	NextCounter  uint64 `json:"next_counter"`
	Subscribed   bool   `json:"subscribed"`
}

// wsClientMessage is the shape of inbound control frames a WS client
// may send (e.g. to resume with a saved attachment).
type wsClientMessage struct {
	Type       string        `json:"type"`
	Attachment *WSAttachment `json:"attachment,omitempty"`
}

// wsServerMessage mirrors the SSE event/control split as JSON so a
// single Go client can speak either protocol with the same semantics.
type wsServerMessage struct {
	Type       string         `json:"type"` // "data" | "control" | "attachment"
	Data       string         `json:"data,omitempty"`
	Control    *ControlPayload `json:"control,omitempty"`
	Attachment *WSAttachment  `json:"attachment,omitempty"`
}

// WSSession mirrors SSESession for the internal WebSocket bridge.
type WSSession struct {
	Path         string
	Strategy     content.Strategy
	IsTextual    bool
	WriteTimeout time.Duration
	// Cursor seeds the cursor-advance chain with the incoming request's
	// cursor query parameter, if any.
	Cursor  string
	Hub     *Hub
	CatchUp func(fromCounter uint64) (messages [][]byte, nextOffset string, nextCounter uint64, closed bool, err error)
}

// ServeWS accepts the HTTP connection as a WebSocket and bridges
// broadcast events to it with the same data+control framing as SSE,
// grounded on the coder/websocket Accept-then-hand-off pattern. It
// sends a WSAttachment with the catch-up control frame only; control
// frames that follow broadcasts carry no attachment.
func ServeWS(w http.ResponseWriter, r *http.Request, from uint64, sess WSSession) error {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // internal bridge, fronted by the Caddy route itself
	})
	if err != nil {
		return err
	}
	defer conn.CloseNow()

	ctx := r.Context()
	sub := sess.Hub.Subscribe(sess.Path)
	defer sub.Close()

	messages, nextOffset, nextCounter, closed, err := sess.CatchUp(from)
	if err != nil {
		return err
	}
	if len(messages) > 0 {
		if err := sendWS(ctx, conn, sess.WriteTimeout, dataMessage(sess.Strategy, sess.IsTextual, messages)); err != nil {
			return nil
		}
	}
	cursor := sess.Cursor
	control := ControlPayload{NextOffset: nextOffset, UpToDate: true, Closed: closed}
	if !closed {
		cursor = offset.NextCursor(cursor, time.Now())
		control.Cursor = cursor
	}
	att := WSAttachment{Path: sess.Path, NextCounter: nextCounter, Subscribed: true}
	if err := sendWS(ctx, conn, sess.WriteTimeout, wsServerMessage{
		Type:       "control",
		Control:    &control,
		Attachment: &att,
	}); err != nil {
		return nil
	}

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg wsClientMessage
			if json.Unmarshal(data, &msg) != nil {
				continue
			}
			// Resume/ping messages are accepted but don't change server
			// state: the broadcast hub subscription already carries the
			// live session, and a reconnecting client resumes through
			// the offset query parameter of its new connection.
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-readDone:
			return nil
		case <-sub.Done:
			// CloseStream enqueues the terminal closed control frame and
			// unsubscribes in the same call, so sub.Events may still hold
			// that frame when Done fires. Drain whatever is already
			// buffered (non-blocking: Disconnect, used on DELETE, closes
			// Done without ever enqueueing anything) before closing the
			// connection, so a graceful close is never dropped by the race
			// between the two channels becoming ready together.
		drain:
			for {
				select {
				case ev, ok := <-sub.Events:
					if !ok {
						break drain
					}
					msg, next := wsEventMessage(sess, ev, cursor)
					cursor = next
					if sendWS(ctx, conn, sess.WriteTimeout, msg) != nil {
						break drain
					}
				default:
					break drain
				}
			}
			conn.Close(websocket.StatusNormalClosure, "stream closed")
			return nil
		case ev, ok := <-sub.Events:
			if !ok {
				return nil
			}
			msg, next := wsEventMessage(sess, ev, cursor)
			cursor = next
			if err := sendWS(ctx, conn, sess.WriteTimeout, msg); err != nil {
				return nil
			}
		}
	}
}

// wsEventMessage renders a broadcast event as the frame to send and the
// cursor to carry forward to the next control frame.
func wsEventMessage(sess WSSession, ev Event, cursor string) (wsServerMessage, string) {
	switch ev.Kind {
	case DataEvent:
		body := ev.Data
		if !sess.IsTextual {
			body = []byte(base64.StdEncoding.EncodeToString(body))
		}
		return wsServerMessage{Type: "data", Data: string(body)}, cursor
	case ControlEvent:
		c := ev.Control
		if !c.Closed {
			cursor = offset.NextCursor(cursor, time.Now())
			c.Cursor = cursor
		} else {
			c.Cursor = ""
		}
		return wsServerMessage{Type: "control", Control: &c}, cursor
	}
	return wsServerMessage{}, cursor
}

func dataMessage(strategy content.Strategy, isTextual bool, messages [][]byte) wsServerMessage {
	body := content.Format(strategy, messages)
	if !isTextual {
		body = []byte(base64.StdEncoding.EncodeToString(body))
	}
	return wsServerMessage{Type: "data", Data: string(body)}
}

func sendWS(ctx context.Context, conn *websocket.Conn, timeout time.Duration, v wsServerMessage) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	writeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(writeCtx, websocket.MessageText, data)
}

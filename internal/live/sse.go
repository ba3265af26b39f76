package live

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/durable-streams/core/internal/content"
	"github.com/durable-streams/core/internal/offset"
)

// SSESession is the input an HTTP handler gathers before handing control
// to ServeSSE.
type SSESession struct {
	Path              string
	Strategy          content.Strategy
	IsTextual         bool
	ReconnectInterval time.Duration
	// Cursor seeds the cursor-advance chain with the incoming request's
	// cursor query parameter, if any.
	Cursor string
	Hub    *Hub
	// CatchUp returns every message currently available from the given
	// counter, the opaque offset to resume following from, and whether
	// the stream is already closed at that point.
	CatchUp func(fromCounter uint64) (messages [][]byte, nextOffset string, closed bool, err error)
}

// ServeSSE streams catch-up data then live updates as Server-Sent
// Events, grounded on the teacher's handleSSE loop but rebuilt to
// subscribe to the shared broadcast hub instead of polling storage
// directly (spec §4.I). It blocks until the client disconnects, the
// reconnect interval elapses (so a fronting CDN can collapse repeat
// connections), or the stream closes.
func ServeSSE(w http.ResponseWriter, r *http.Request, from uint64, sess SSESession) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("live: streaming not supported by response writer")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := sess.Hub.Subscribe(sess.Path)
	defer sub.Close()

	messages, next, closed, err := sess.CatchUp(from)
	if err != nil {
		return err
	}
	if len(messages) > 0 {
		writeSSEData(w, sess.Strategy, sess.IsTextual, messages)
	}
	cursor := sess.Cursor
	cursor = writeSSEControl(w, next, true, closed, cursor)
	flusher.Flush()

	ctx := r.Context()
	reconnect := time.NewTimer(sess.ReconnectInterval)
	defer reconnect.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-reconnect.C:
			// Let the client's EventSource auto-reconnect; this bounds how
			// long a single connection is held open for CDN collapsing.
			return nil
		case <-sub.Done:
			// CloseStream enqueues the terminal closed control frame and
			// unsubscribes in the same call, so sub.Events may still hold
			// that frame when Done fires. Drain whatever is already
			// buffered (non-blocking: Disconnect, used on DELETE, closes
			// Done without ever enqueueing anything) before returning so a
			// graceful close is never dropped by the race between the two
			// channels becoming ready together.
			for {
				select {
				case ev, ok := <-sub.Events:
					if !ok {
						return nil
					}
					cursor = writeSSEEvent(w, sess, ev, cursor)
					flusher.Flush()
				default:
					return nil
				}
			}
		case ev, ok := <-sub.Events:
			if !ok {
				return nil
			}
			cursor = writeSSEEvent(w, sess, ev, cursor)
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, sess SSESession, ev Event, cursor string) string {
	switch ev.Kind {
	case DataEvent:
		writeSSEDataBytes(w, sess.IsTextual, ev.Data)
	case ControlEvent:
		cursor = writeSSEControl(w, ev.Control.NextOffset, ev.Control.UpToDate, ev.Control.Closed, cursor)
	}
	return cursor
}

func writeSSEData(w http.ResponseWriter, strategy content.Strategy, isTextual bool, messages [][]byte) {
	writeSSEDataBytes(w, isTextual, content.Format(strategy, messages))
}

func writeSSEDataBytes(w http.ResponseWriter, isTextual bool, body []byte) {
	if !isTextual {
		body = []byte(base64.StdEncoding.EncodeToString(body))
	}
	fmt.Fprintf(w, "event: data\n")
	for _, line := range strings.Split(string(body), "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprintf(w, "\n")
}

// writeSSEControl writes a control frame and returns the cursor to use
// as the previous cursor for the next one. The closed frame omits the
// cursor entirely (spec §4.I).
func writeSSEControl(w http.ResponseWriter, next string, upToDate, closed bool, prevCursor string) string {
	control := ControlPayload{NextOffset: next, UpToDate: upToDate, Closed: closed}
	nextCursor := prevCursor
	if !closed {
		nextCursor = offset.NextCursor(prevCursor, time.Now())
		control.Cursor = nextCursor
	}
	body, _ := json.Marshal(control)
	fmt.Fprintf(w, "event: control\ndata: %s\n\n", body)
	return nextCursor
}

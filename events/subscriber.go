package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stevemurr/cosmoscope/errs"
)

// URL returns the websocket address of a publisher listening on addr
// (host:port).
func URL(addr string) string {
	addr = strings.TrimPrefix(addr, "tcp://")
	return "ws://" + addr + Path
}

// Subscriber receives events from a publisher.
type Subscriber struct {
	conn *websocket.Conn
}

// Dial connects to the publisher at url.
func Dial(ctx context.Context, url string) (*Subscriber, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errs.IO(err, "subscribe %s", url)
	}
	return &Subscriber{conn: ws}, nil
}

// Next blocks for the next event. A deadline on ctx bounds the wait; once it
// passes the Subscriber is no longer usable.
func (s *Subscriber) Next(ctx context.Context) (Event, error) {
	deadline, hasDeadline := ctx.Deadline()
	s.conn.SetReadDeadline(deadline)
	for {
		kind, msg, err := s.conn.ReadMessage()
		if err != nil {
			if hasDeadline && !time.Now().Before(deadline) {
				return Event{}, context.DeadlineExceeded
			}
			return Event{}, errs.IO(err, "receive event")
		}
		if kind != websocket.TextMessage {
			continue
		}
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			return Event{}, errs.Serialization("event: %v", err)
		}
		return ev, nil
	}
}

// Close says goodbye and closes the connection.
func (s *Subscriber) Close() error {
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}

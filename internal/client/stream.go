package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/messenger/internal/api"
)

// Stream delivers the frames of one daemon feed.
type Stream[T any] struct {
	conn   *websocket.Conn
	frames chan api.Frame[T]
	stop   chan struct{}
	once   sync.Once
	err    error
}

func watch[T any](ctx context.Context, c *Client, path string) (*Stream[T], error) {
	conn, resp, err := c.ws.DialContext(ctx, wsBase+path, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			var e api.ErrorResponse
			if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
				e.Error = http.StatusText(resp.StatusCode)
			}
			return nil, &StatusError{Code: resp.StatusCode, Message: e.Error}
		}
		return nil, fmt.Errorf("reach daemon: %w", err)
	}
	s := &Stream[T]{conn: conn, frames: make(chan api.Frame[T]), stop: make(chan struct{})}
	go s.read()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.stop:
		}
	}()
	return s, nil
}

// Frames yields one frame per snapshot and is closed when the stream ends.
func (s *Stream[T]) Frames() <-chan api.Frame[T] { return s.frames }

// Err returns why the stream ended, once Frames is closed. A normal close
// from either side yields nil.
func (s *Stream[T]) Err() error { return s.err }

// Close ends the stream.
func (s *Stream[T]) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = s.conn.Close()
	})
	return err
}

func (s *Stream[T]) read() {
	defer close(s.frames)
	for {
		var f api.Frame[T]
		if err := s.conn.ReadJSON(&f); err != nil {
			select {
			case <-s.stop:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.err = err
				}
			}
			return
		}
		select {
		case s.frames <- f:
		case <-s.stop:
			return
		}
	}
}

package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

const eventWriteTimeout = 5 * time.Second

// eventHub fans mutation events out to websocket subscribers. Slow
// subscribers drop events rather than block the mutation path.
type eventHub struct {
	mu   sync.Mutex
	subs map[chan string]struct{}
}

func newEventHub() *eventHub {
	return &eventHub{subs: map[chan string]struct{}{}}
}

func (h *eventHub) subscribe() chan string {
	ch := make(chan string, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *eventHub) unsubscribe(ch chan string) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

func (h *eventHub) broadcast(event string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// handleEvents upgrades the request to a websocket and streams one text
// message per store mutation until the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logf("websocket accept failed: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "event stream closed")

	ch := s.hub.subscribe()
	defer s.hub.unsubscribe(ch)

	// The feed is write-only; CloseRead watches for the client closing.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event := <-ch:
			writeCtx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, []byte(event))
			cancel()
			if err != nil {
				return
			}
		}
	}
}

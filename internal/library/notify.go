package library

import (
	"context"
	"strings"
	"time"

	"nhooyr.io/websocket"
)

// Notifier subscribes to the server's change feed and invokes a callback
// whenever another writer touches the library. The callback is expected to
// trigger a full reload; no merging happens here.
type Notifier struct {
	url      string
	onChange func()
	logger   Logger
}

func NewNotifier(baseURL string, onChange func(), logger Logger) *Notifier {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return &Notifier{
		url:      base + "/api/events",
		onChange: onChange,
		logger:   logger,
	}
}

// Run listens until the context is cancelled, reconnecting with capped
// exponential backoff.
func (n *Notifier) Run(ctx context.Context) {
	delay := time.Second
	for {
		err := n.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		n.logf("event feed disconnected: %v; retrying in %s", err, delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
}

func (n *Notifier) listen(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, n.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return err
		}
		if n.onChange != nil {
			n.onChange()
		}
	}
}

func (n *Notifier) logf(format string, args ...any) {
	if n.logger == nil {
		return
	}
	n.logger.Printf(format, args...)
}

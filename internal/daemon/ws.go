package daemon

import (
	"context"
	"time"

	"nhooyr.io/websocket"

	"github.com/bardlex/cnpool/pkg/log"
)

// WSNotifier subscribes to a WebSocket topic carrying block-template
// notifications, for daemons fronted by a gateway instead of ZMQ. Like the
// ZMQ channel, every frame only triggers an RPC re-fetch.
type WSNotifier struct {
	url    string
	logger *log.Logger
}

// NewWSNotifier creates a WebSocket notifier for the given URL.
func NewWSNotifier(url string, logger *log.Logger) *WSNotifier {
	return &WSNotifier{
		url:    url,
		logger: logger.WithComponent("ws"),
	}
}

// Listen dials the endpoint and delivers frames to handler until ctx is
// cancelled. Connection failures reconnect with a fixed delay.
func (w *WSNotifier) Listen(ctx context.Context, handler func(payload []byte) error) error {
	w.logger.Info("WebSocket listener starting", "url", w.url)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("WebSocket listener stopping")
			return ctx.Err()
		default:
		}

		if err := w.readOnce(ctx, handler); err != nil && ctx.Err() == nil {
			w.logger.WithError(err).Warn("WebSocket connection lost, reconnecting")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
		}
	}
}

func (w *WSNotifier) readOnce(ctx context.Context, handler func(payload []byte) error) error {
	conn, _, err := websocket.Dial(ctx, w.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	w.logger.Info("WebSocket connected", "url", w.url)

	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		w.logger.Debug("received WebSocket notification", "size", len(payload))

		if err := handler(payload); err != nil {
			w.logger.WithError(err).Error("failed to handle WebSocket notification")
		}
	}
}

package daemon

import (
	"context"
	"fmt"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/bardlex/cnpool/pkg/log"
)

// ZMQNotifier subscribes to the daemon's ZMQ-PUB endpoint and surfaces
// chain-tip notifications. The payload itself is advisory; the poller
// re-fetches the template over RPC on every notification.
type ZMQNotifier struct {
	socket   *zmq.Socket
	endpoint string
	topic    string
	logger   *log.Logger
}

// NewZMQNotifier creates a ZMQ notifier for the given endpoint and topic
// (typically "json-minimal-chain_main").
func NewZMQNotifier(endpoint, topic string, logger *log.Logger) (*ZMQNotifier, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ socket: %w", err)
	}

	return &ZMQNotifier{
		socket:   socket,
		endpoint: endpoint,
		topic:    topic,
		logger:   logger.WithComponent("zmq"),
	}, nil
}

// Connect connects and subscribes.
func (z *ZMQNotifier) Connect() error {
	if err := z.socket.Connect(z.endpoint); err != nil {
		return fmt.Errorf("failed to connect to ZMQ endpoint %s: %w", z.endpoint, err)
	}
	if err := z.socket.SetSubscribe(z.topic); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", z.topic, err)
	}
	z.logger.Info("connected to ZMQ endpoint", "endpoint", z.endpoint, "topic", z.topic)
	return nil
}

// Listen receives notifications until ctx is cancelled, invoking handler for
// each frame. Handler errors are logged and do not stop the listener.
func (z *ZMQNotifier) Listen(ctx context.Context, handler func(payload []byte) error) error {
	z.logger.Info("ZMQ listener starting")

	if err := z.socket.SetRcvtimeo(250 * time.Millisecond); err != nil {
		return fmt.Errorf("failed to set ZMQ receive timeout: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			z.logger.Info("ZMQ listener stopping")
			return ctx.Err()
		default:
		}

		msg, err := z.socket.RecvMessageBytes(0)
		if err != nil {
			if err.Error() == "resource temporarily unavailable" {
				// Receive timeout, loop to observe ctx
				continue
			}
			z.logger.WithError(err).Error("failed to receive ZMQ message")
			continue
		}

		if len(msg) == 0 {
			continue
		}

		// monerod publishes single-part "topic:payload" frames
		payload := msg[len(msg)-1]
		z.logger.Debug("received ZMQ notification", "size", len(payload))

		if err := handler(payload); err != nil {
			z.logger.WithError(err).Error("failed to handle ZMQ notification")
		}
	}
}

// Close closes the ZMQ socket.
func (z *ZMQNotifier) Close() error {
	if z.socket != nil {
		return z.socket.Close()
	}
	return nil
}

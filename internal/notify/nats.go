package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mr1hm/go-quake-forecast/internal/models"
)

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes event payloads on a fixed subject.
type NATS struct {
	pub     publisher
	conn    *nats.Conn
	subject string
}

func ConnectNATS(url, subject string) (*NATS, error) {
	conn, err := nats.Connect(url,
		nats.Name("quakecast"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATS{pub: conn, conn: conn, subject: subject}, nil
}

func (n *NATS) Notify(ctx context.Context, e *models.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e.Payload())
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := n.pub.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", n.subject, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (n *NATS) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}

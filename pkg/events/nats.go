package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"surveychat/pkg/logx"
)

// NATSPublisher publishes events as JSON on NATS core subjects.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *logx.Logger
}

// NewNATSPublisher connects to url. Connection failure at startup is returned; later
// disconnects are retried in the background.
func NewNATSPublisher(url, prefix, token string) (*NATSPublisher, error) {
	logger := logx.NewLogger("events")
	opts := []nats.Option{
		nats.Name("surveychat"),
		nats.MaxReconnects(30),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(3 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected to %s", nc.ConnectedUrl())
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	logger.Info("publishing lifecycle events to %s under %q", nc.ConnectedUrl(), prefix)
	return &NATSPublisher{conn: nc, prefix: prefix, logger: logger}, nil
}

func encode(prefix string, ev Event) (string, []byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", nil, fmt.Errorf("marshal event: %w", err)
	}
	return Subject(prefix, ev.Type), payload, nil
}

func (p *NATSPublisher) Publish(_ context.Context, ev Event) error {
	subject, payload, err := encode(p.prefix, ev)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close flushes buffered events and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.FlushTimeout(2 * time.Second); err != nil {
		p.logger.Warn("flush before close: %v", err)
	}
	p.conn.Close()
}

// Package bus carries job status events and remote submissions over NATS.
package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const handlerTimeout = 30 * time.Second

type Client struct{ nc *nats.Conn }

func Connect(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name("raven"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Client{nc: nc}, nil
}

func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

func (c *Client) Conn() *nats.Conn { return c.nc }

// Ping flushes the connection, failing when the server does not answer
// before ctx is done.
func (c *Client) Ping(ctx context.Context) error {
	return c.nc.FlushWithContext(ctx)
}

func (c *Client) PublishJSON(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.nc.Publish(subject, b)
}

func (c *Client) SubscribeJSON(subject string, handler func(ctx context.Context, data []byte)) (*nats.Subscription, error) {
	return c.nc.Subscribe(subject, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		handler(ctx, msg.Data)
	})
}

// Reply is the JSON body sent back on request subjects.
type Reply struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// HandleRequests subscribes fn to subject. When a message carries a reply
// subject, fn's result is sent back wrapped in a Reply.
func (c *Client) HandleRequests(subject string, fn func(ctx context.Context, data []byte) (any, error)) (*nats.Subscription, error) {
	return c.nc.Subscribe(subject, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()

		out, err := fn(ctx, msg.Data)
		if msg.Reply == "" {
			return
		}
		reply := Reply{Data: out}
		if err != nil {
			reply = Reply{Error: err.Error()}
		}
		b, merr := json.Marshal(reply)
		if merr != nil {
			slog.Error("encoding reply", "subject", subject, "error", merr)
			return
		}
		if rerr := msg.Respond(b); rerr != nil {
			slog.Warn("sending reply", "subject", subject, "error", rerr)
		}
	})
}

// Package redischannel carries render traffic over Redis: requests are
// pushed onto a list the renderer pops from, cancellations and inbound
// events travel over pub/sub.
package redischannel

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	v1 "subforge/internal/contracts/renderer/v1"
	"subforge/internal/pkg/errors"
	"subforge/internal/pkg/logger"
)

type Config struct {
	QueueName     string
	EventsChannel string
	CancelChannel string
}

type Channel struct {
	rdb *redis.Client
	cfg Config
	log *logger.Logger
}

func New(rdb *redis.Client, cfg Config, log *logger.Logger) *Channel {
	if log == nil {
		log = logger.Discard()
	}
	return &Channel{rdb: rdb, cfg: cfg, log: log.WithComponent("redis-render-channel")}
}

// Send pushes the JSON request onto the queue. The renderer pops from the
// other end, so requests are served in submission order.
func (c *Channel) Send(ctx context.Context, req v1.RenderRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "redischannel.send", "encode render request")
	}
	if err := c.rdb.LPush(ctx, c.cfg.QueueName, body).Err(); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "redischannel.send", "push render request")
	}
	return nil
}

// Cancel publishes a cancellation. Nobody listening is not an error.
func (c *Channel) Cancel(ctx context.Context, msg v1.CancelMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "redischannel.cancel", "encode cancel message")
	}
	receivers, err := c.rdb.Publish(ctx, c.cfg.CancelChannel, body).Result()
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "redischannel.cancel", "publish cancel message")
	}
	if receivers == 0 {
		c.log.WithOperationID(msg.OperationID).Warn("cancel published with no subscribers")
	}
	return nil
}

// PublishEvent writes an event envelope to the events channel. Renderers
// and tests use it to report back.
func (c *Channel) PublishEvent(ctx context.Context, ev v1.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "redischannel.publish", "encode event")
	}
	if err := c.rdb.Publish(ctx, c.cfg.EventsChannel, body).Err(); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "redischannel.publish", "publish event")
	}
	return nil
}

// Listen subscribes to the events channel and hands each decoded event to
// sink until ctx ends. Malformed payloads are logged and skipped. ready, if
// non-nil, is closed once the subscription is confirmed.
func (c *Channel) Listen(ctx context.Context, sink func(v1.Event), ready chan<- struct{}) error {
	sub := c.rdb.Subscribe(ctx, c.cfg.EventsChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "redischannel.listen", "subscribe to events")
	}
	if ready != nil {
		close(ready)
	}
	c.log.Info("listening for render events", "channel", c.cfg.EventsChannel)

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			ev, err := v1.DecodeEvent([]byte(msg.Payload))
			if err != nil {
				c.log.Warn("dropping malformed render event", "error", err.Error())
				continue
			}
			sink(ev)
		}
	}
}

// ListenCancels subscribes to the cancel channel and hands each cancel
// message to sink until ctx ends. It serves the renderer side.
func (c *Channel) ListenCancels(ctx context.Context, sink func(v1.CancelMessage), ready chan<- struct{}) error {
	sub := c.rdb.Subscribe(ctx, c.cfg.CancelChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "redischannel.cancels", "subscribe to cancels")
	}
	if ready != nil {
		close(ready)
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var cm v1.CancelMessage
			if err := json.Unmarshal([]byte(msg.Payload), &cm); err != nil || cm.OperationID == "" {
				c.log.Warn("dropping malformed cancel message")
				continue
			}
			sink(cm)
		}
	}
}

// Pop blocks until a request is queued or ctx ends. It serves the renderer
// side of the queue, as used by the CLI emulator.
func (c *Channel) Pop(ctx context.Context) (v1.RenderRequest, error) {
	res, err := c.rdb.BRPop(ctx, 0, c.cfg.QueueName).Result()
	if err != nil {
		return v1.RenderRequest{}, err
	}
	var req v1.RenderRequest
	if err := json.Unmarshal([]byte(res[1]), &req); err != nil {
		return v1.RenderRequest{}, errors.WrapWithCode(err, errors.CodeValidation, "redischannel.pop", "decode render request")
	}
	return req, nil
}

// Ping checks the connection for health reporting.
func (c *Channel) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

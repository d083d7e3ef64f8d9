// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

// Package redis maps queues and topics onto Redis streams. Every subscriber
// reads through a consumer group: queues share one group, topic subscribers
// get their own, and durable subscriptions keep theirs between runs.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/broker/wire"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/core"
)

const (
	ProviderName = "redis"

	streamPrefix = "jms:"
	bodyField    = "body"
	blockTimeout = time.Second
)

type Config struct {
	URL      string
	Username string
	Password string
	Logger   *slog.Logger
}

type Factory struct {
	opts   *redis.Options
	logger *slog.Logger
}

func New(cfg Config) (*Factory, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidBrokerURL, err)
	}
	if cfg.Username != "" {
		opts.Username = cfg.Username
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{opts: opts, logger: logger.With("component", "redis")}, nil
}

func (f *Factory) Provider() string { return ProviderName }

func (f *Factory) CreateConnection(ctx context.Context, clientID string) (core.Connection, error) {
	opts := *f.opts
	opts.ClientName = clientID
	client := redis.NewClient(&opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	f.logger.Info("redis connection opened", "addr", opts.Addr, "client_id", clientID)
	return &connection{client: client, clientID: clientID}, nil
}

type connection struct {
	client   *redis.Client
	clientID string
}

func (c *connection) CreateSession(ctx context.Context) (core.Session, error) {
	return &session{conn: c}, nil
}

func (c *connection) Close() error {
	return c.client.Close()
}

type session struct {
	conn *connection
}

func streamKey(dest core.Destination) string {
	return streamPrefix + dest.Domain() + ":" + dest.Name
}

func (s *session) CreateProducer(ctx context.Context, dest core.Destination) (core.Producer, error) {
	return &producer{client: s.conn.client, stream: streamKey(dest)}, nil
}

// consumerGroup returns the group for dest and the ID a new group starts
// reading from. Queues start at the beginning of the stream so messages sent
// before the first consumer are not lost.
func consumerGroup(dest core.Destination, clientID string, opts core.ConsumerOptions) (group, start string, err error) {
	if !dest.PubSub {
		return dest.Name, "0", nil
	}
	if opts.Durable {
		if clientID == "" {
			return "", "", fmt.Errorf("%w: destination=%s", core.ErrClientIDRequired, dest)
		}
		sub := opts.SubscriptionName
		if sub == "" {
			sub = dest.Name
		}
		return clientID + "." + sub, "$", nil
	}
	return "jms-bridge." + uuid.NewString(), "$", nil
}

func (s *session) CreateConsumer(ctx context.Context, dest core.Destination, opts core.ConsumerOptions) (core.Consumer, error) {
	group, start, err := consumerGroup(dest, s.conn.clientID, opts)
	if err != nil {
		return nil, err
	}
	stream := streamKey(dest)
	if err := s.conn.client.XGroupCreateMkStream(ctx, stream, group, start).Err(); err != nil && !isBusyGroup(err) {
		return nil, fmt.Errorf("redis create group %s on %s: %w", group, stream, err)
	}
	name := s.conn.clientID
	if name == "" {
		name = uuid.NewString()
	}
	return &consumer{
		client:      s.conn.client,
		dest:        dest,
		stream:      stream,
		group:       group,
		name:        name,
		ephemeral:   dest.PubSub && !opts.Durable,
		readPending: true,
		deliveries:  make(map[string]uint32),
	}, nil
}

func isBusyGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func (s *session) Close(ctx context.Context) error { return nil }

type producer struct {
	client *redis.Client
	stream string
}

func (p *producer) Send(ctx context.Context, msg *core.Message) error {
	values, err := toValues(msg)
	if err != nil {
		return err
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{Stream: p.stream, Values: values}).Err()
}

func (p *producer) Close(ctx context.Context) error { return nil }

type consumer struct {
	client    *redis.Client
	dest      core.Destination
	stream    string
	group     string
	name      string
	ephemeral bool

	mu          sync.Mutex
	readPending bool
	deliveries  map[string]uint32
}

// Receive first drains this consumer's pending entries (unacknowledged
// from a nack or an earlier run), then reads new ones.
func (c *consumer) Receive(ctx context.Context) (*core.Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.mu.Lock()
		pending := c.readPending
		c.mu.Unlock()

		id := ">"
		if pending {
			id = "0"
		}
		res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.name,
			Streams:  []string{c.stream, id},
			Count:    1,
			Block:    blockTimeout,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("redis read %s: %w", c.stream, err)
		}
		if len(res) == 0 || len(res[0].Messages) == 0 {
			if pending {
				c.mu.Lock()
				c.readPending = false
				c.mu.Unlock()
			}
			continue
		}

		xm := res[0].Messages[0]
		msg, err := fromValues(c.dest, xm.Values)
		if err != nil {
			c.client.XAck(ctx, c.stream, c.group, xm.ID)
			continue
		}
		c.mu.Lock()
		c.deliveries[xm.ID]++
		msg.DeliveryCount = c.deliveries[xm.ID]
		c.mu.Unlock()
		if msg.ID == "" {
			msg.ID = xm.ID
		}
		return &core.Delivery{
			Message: msg,
			Ack:     func() error { return c.ack(xm.ID) },
			Nack:    func() error { return c.nack() },
		}, nil
	}
}

func (c *consumer) ack(id string) error {
	c.mu.Lock()
	delete(c.deliveries, id)
	c.mu.Unlock()
	return c.client.XAck(context.Background(), c.stream, c.group, id).Err()
}

func (c *consumer) nack() error {
	c.mu.Lock()
	c.readPending = true
	c.mu.Unlock()
	return nil
}

// Close drops the private group of a non-durable topic subscriber.
func (c *consumer) Close(ctx context.Context) error {
	if !c.ephemeral {
		return nil
	}
	return c.client.XGroupDestroy(ctx, c.stream, c.group).Err()
}

func toValues(msg *core.Message) (map[string]any, error) {
	body, err := wire.Body(msg)
	if err != nil {
		return nil, err
	}
	h := wire.Headers(msg)
	values := make(map[string]any, len(h)+1)
	for k, v := range h {
		values[k] = v
	}
	values[bodyField] = body
	return values, nil
}

func fromValues(dest core.Destination, values map[string]any) (*core.Message, error) {
	h := make(map[string]string, len(values))
	var body []byte
	for k, v := range values {
		s := fmt.Sprint(v)
		if k == bodyField {
			body = []byte(s)
			continue
		}
		h[k] = s
	}
	return wire.FromHeaders(dest, h, body)
}

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

// Package rabbitmq maps queues and topics onto RabbitMQ over AMQP 0-9-1.
// Topics are fanout exchanges; a durable topic subscription is a durable
// queue named after the client ID and subscription bound to the exchange.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/broker/wire"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/core"
)

const ProviderName = "rabbitmq"

type Config struct {
	URL      string
	Username string
	Password string
	Logger   *slog.Logger
}

type Factory struct {
	url    string
	logger *slog.Logger
}

func New(cfg Config) (*Factory, error) {
	uri, err := amqp.ParseURI(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidBrokerURL, err)
	}
	if cfg.Username != "" {
		uri.Username = cfg.Username
		uri.Password = cfg.Password
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{url: uri.String(), logger: logger.With("component", "rabbitmq")}, nil
}

func (f *Factory) Provider() string { return ProviderName }

func (f *Factory) CreateConnection(ctx context.Context, clientID string) (core.Connection, error) {
	cfg := amqp.Config{Properties: amqp.NewConnectionProperties()}
	if clientID != "" {
		cfg.Properties.SetClientConnectionName(clientID)
	}
	conn, err := amqp.DialConfig(f.url, cfg)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	f.logger.Info("rabbitmq connection opened", "client_id", clientID)
	return &connection{conn: conn, clientID: clientID}, nil
}

type connection struct {
	conn     *amqp.Connection
	clientID string
}

func (c *connection) CreateSession(ctx context.Context) (core.Session, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	return &session{ch: ch, clientID: c.clientID, declared: make(map[core.Destination]bool)}, nil
}

func (c *connection) Close() error {
	return c.conn.Close()
}

type session struct {
	ch       *amqp.Channel
	clientID string

	mu       sync.Mutex
	declared map[core.Destination]bool
}

// declare creates the exchange (topic) or durable queue (queue) for dest
// once per channel.
func (s *session) declare(dest core.Destination) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.declared[dest] {
		return nil
	}
	var err error
	if dest.PubSub {
		err = s.ch.ExchangeDeclare(dest.Name, amqp.ExchangeFanout, true, false, false, false, nil)
	} else {
		_, err = s.ch.QueueDeclare(dest.Name, true, false, false, false, nil)
	}
	if err != nil {
		return fmt.Errorf("rabbitmq declare %s: %w", dest, err)
	}
	s.declared[dest] = true
	return nil
}

func (s *session) CreateProducer(ctx context.Context, dest core.Destination) (core.Producer, error) {
	if err := s.declare(dest); err != nil {
		return nil, err
	}
	return &producer{ch: s.ch, dest: dest}, nil
}

func (s *session) CreateConsumer(ctx context.Context, dest core.Destination, opts core.ConsumerOptions) (core.Consumer, error) {
	if err := s.declare(dest); err != nil {
		return nil, err
	}
	queue, err := s.bindQueue(dest, opts)
	if err != nil {
		return nil, err
	}
	if err := s.ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("rabbitmq qos: %w", err)
	}
	tag := "jms-bridge-" + uuid.NewString()
	deliveries, err := s.ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq consume %s: %w", queue, err)
	}
	return &consumer{ch: s.ch, tag: tag, dest: dest, deliveries: deliveries}, nil
}

func (s *session) bindQueue(dest core.Destination, opts core.ConsumerOptions) (string, error) {
	if !dest.PubSub {
		return dest.Name, nil
	}
	name, durable, err := subscriptionQueue(dest, s.clientID, opts)
	if err != nil {
		return "", err
	}
	q, err := s.ch.QueueDeclare(name, durable, !durable, !durable, false, nil)
	if err != nil {
		return "", fmt.Errorf("rabbitmq subscription queue: %w", err)
	}
	if err := s.ch.QueueBind(q.Name, "", dest.Name, false, nil); err != nil {
		return "", fmt.Errorf("rabbitmq bind %s to %s: %w", q.Name, dest.Name, err)
	}
	return q.Name, nil
}

// subscriptionQueue names the queue backing a topic subscription. An empty
// name lets the server generate one for non-durable subscribers.
func subscriptionQueue(dest core.Destination, clientID string, opts core.ConsumerOptions) (string, bool, error) {
	if !opts.Durable {
		return "", false, nil
	}
	if clientID == "" {
		return "", false, fmt.Errorf("%w: destination=%s", core.ErrClientIDRequired, dest)
	}
	sub := opts.SubscriptionName
	if sub == "" {
		sub = dest.Name
	}
	return clientID + "." + sub, true, nil
}

func (s *session) Close(ctx context.Context) error {
	return s.ch.Close()
}

type producer struct {
	ch   *amqp.Channel
	dest core.Destination
}

func (p *producer) Send(ctx context.Context, msg *core.Message) error {
	pub, err := publishing(msg)
	if err != nil {
		return err
	}
	exchange, key := "", p.dest.Name
	if p.dest.PubSub {
		exchange, key = p.dest.Name, ""
	}
	return p.ch.PublishWithContext(ctx, exchange, key, false, false, pub)
}

func (p *producer) Close(ctx context.Context) error { return nil }

type consumer struct {
	ch         *amqp.Channel
	tag        string
	dest       core.Destination
	deliveries <-chan amqp.Delivery
}

// Receive skips deliveries whose body cannot be decoded; they are rejected
// without requeue so the broker can dead-letter them.
func (c *consumer) Receive(ctx context.Context) (*core.Delivery, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case d, ok := <-c.deliveries:
			if !ok {
				return nil, core.ErrConnectionClosed
			}
			msg, err := fromDelivery(c.dest, d)
			if err != nil {
				_ = d.Nack(false, false)
				continue
			}
			return &core.Delivery{
				Message: msg,
				Ack:     func() error { return d.Ack(false) },
				Nack:    func() error { return d.Nack(false, true) },
			}, nil
		}
	}
}

func (c *consumer) Close(ctx context.Context) error {
	return c.ch.Cancel(c.tag, false)
}

func publishing(msg *core.Message) (amqp.Publishing, error) {
	body, err := wire.Body(msg)
	if err != nil {
		return amqp.Publishing{}, err
	}
	headers := amqp.Table{core.PropertyBodyType: msg.Type.String()}
	for k, v := range msg.Properties {
		headers[k] = v
	}
	contentType := msg.ContentType
	if contentType == "" {
		contentType = core.ContentTypeBytes
	}
	return amqp.Publishing{
		Headers:       headers,
		ContentType:   contentType,
		CorrelationId: msg.CorrelationID,
		MessageId:     msg.ID,
		Timestamp:     msg.Timestamp,
		DeliveryMode:  amqp.Persistent,
		Body:          body,
	}, nil
}

func fromDelivery(dest core.Destination, d amqp.Delivery) (*core.Message, error) {
	msg := &core.Message{
		ID:            d.MessageId,
		CorrelationID: d.CorrelationId,
		Destination:   dest,
		ContentType:   d.ContentType,
		Timestamp:     d.Timestamp,
		DeliveryCount: 1,
	}
	if d.Redelivered {
		msg.DeliveryCount = 2
	}
	if n, ok := d.Headers["x-delivery-count"].(int64); ok {
		msg.DeliveryCount = uint32(n) + 1
	}
	bodyType := core.BodyTypeFromContentType(d.ContentType)
	for k, v := range d.Headers {
		if k == core.PropertyBodyType {
			if s, ok := v.(string); ok {
				bodyType = core.ParseBodyType(s)
			}
			continue
		}
		if msg.Properties == nil {
			msg.Properties = make(map[string]any)
		}
		msg.Properties[k] = v
	}
	if err := wire.SetBody(msg, bodyType, d.Body); err != nil {
		return nil, err
	}
	return msg, nil
}

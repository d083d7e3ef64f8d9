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

// Package mqtt5 talks MQTT 5 to brokers such as ActiveMQ Artemis. Queues are
// shared subscriptions; durable topic subscriptions rely on a persistent
// session keyed by the client ID.
package mqtt5

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/broker/wire"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/core"
)

const (
	ProviderName = "mqtt5"

	keepAlive = 30
	// Session expiry for clients with a fixed ID, in seconds.
	persistentSessionExpiry = 7 * 24 * 60 * 60
	disconnectTimeout       = 5 * time.Second
	consumerBuffer          = 16
)

var schemes = map[string]bool{"mqtt": true, "mqtts": true, "tcp": true, "ssl": true, "ws": true, "wss": true}

type Config struct {
	URL      string
	Username string
	Password string
	Logger   *slog.Logger
}

type Factory struct {
	server   *url.URL
	username string
	password string
	logger   *slog.Logger
}

func New(cfg Config) (*Factory, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidBrokerURL, err)
	}
	if !schemes[u.Scheme] {
		return nil, fmt.Errorf("%w: scheme=%q", core.ErrInvalidBrokerURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host in %q", core.ErrInvalidBrokerURL, cfg.URL)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		server:   u,
		username: cfg.Username,
		password: cfg.Password,
		logger:   logger.With("component", "mqtt5"),
	}, nil
}

func (f *Factory) Provider() string { return ProviderName }

func (f *Factory) clientConfig(clientID string, conn *connection) autopaho.ClientConfig {
	persistent := clientID != ""
	if !persistent {
		clientID = "jms-bridge-" + uuid.NewString()[:8]
	}
	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{f.server},
		KeepAlive:                     keepAlive,
		CleanStartOnInitialConnection: !persistent,
		SessionExpiryInterval:         60,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
			f.logger.Info("mqtt5 connection up", "client_id", clientID, "session_present", connAck.SessionPresent)
		},
		OnConnectError: func(err error) {
			f.logger.Warn("mqtt5 connect attempt failed", "client_id", clientID, "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					return conn.dispatch(pr.Packet), nil
				},
			},
		},
	}
	if persistent {
		cfg.SessionExpiryInterval = persistentSessionExpiry
	}
	if f.username != "" {
		cfg.ConnectUsername = f.username
		cfg.ConnectPassword = []byte(f.password)
	}
	return cfg
}

func (f *Factory) CreateConnection(ctx context.Context, clientID string) (core.Connection, error) {
	conn := &connection{clientID: clientID, consumers: make(map[*consumer]struct{})}
	cm, err := autopaho.NewConnection(context.Background(), f.clientConfig(clientID, conn))
	if err != nil {
		return nil, fmt.Errorf("mqtt5 connection: %w", err)
	}
	if err := cm.AwaitConnection(ctx); err != nil {
		dctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		_ = cm.Disconnect(dctx)
		return nil, fmt.Errorf("mqtt5 await connection: %w", err)
	}
	conn.cm = cm
	f.logger.Info("mqtt5 connection opened", "broker", f.server.Redacted(), "client_id", clientID)
	return conn, nil
}

type connection struct {
	cm       *autopaho.ConnectionManager
	clientID string

	mu        sync.RWMutex
	consumers map[*consumer]struct{}
}

// dispatch hands an inbound publish to every consumer subscribed to its
// topic and reports whether anyone took it.
func (c *connection) dispatch(p *paho.Publish) bool {
	c.mu.RLock()
	var targets []*consumer
	for cons := range c.consumers {
		if cons.dest.Name == p.Topic {
			targets = append(targets, cons)
		}
	}
	c.mu.RUnlock()
	for _, cons := range targets {
		select {
		case cons.ch <- p:
		case <-cons.done:
		}
	}
	return len(targets) > 0
}

func (c *connection) CreateSession(ctx context.Context) (core.Session, error) {
	return &session{conn: c}, nil
}

func (c *connection) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	return c.cm.Disconnect(ctx)
}

type session struct {
	conn *connection
}

func (s *session) CreateProducer(ctx context.Context, dest core.Destination) (core.Producer, error) {
	return &producer{cm: s.conn.cm, dest: dest}, nil
}

func (s *session) CreateConsumer(ctx context.Context, dest core.Destination, opts core.ConsumerOptions) (core.Consumer, error) {
	if opts.Durable && s.conn.clientID == "" {
		return nil, fmt.Errorf("%w: destination=%s", core.ErrClientIDRequired, dest)
	}
	cons := &consumer{
		conn:    s.conn,
		dest:    dest,
		filter:  subscriptionFilter(dest),
		durable: opts.Durable,
		ch:      make(chan *paho.Publish, consumerBuffer),
		done:    make(chan struct{}),
	}
	s.conn.mu.Lock()
	s.conn.consumers[cons] = struct{}{}
	s.conn.mu.Unlock()

	_, err := s.conn.cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: cons.filter, QoS: 1}},
	})
	if err != nil {
		cons.detach()
		return nil, fmt.Errorf("mqtt5 subscribe %s: %w", cons.filter, err)
	}
	return cons, nil
}

func (s *session) Close(ctx context.Context) error { return nil }

// subscriptionFilter returns the topic filter for dest. Queue consumers join
// a shared subscription so each message goes to one of them.
func subscriptionFilter(dest core.Destination) string {
	if dest.PubSub {
		return dest.Name
	}
	return "$share/" + dest.Name + "/" + dest.Name
}

type producer struct {
	cm   *autopaho.ConnectionManager
	dest core.Destination
}

func (p *producer) Send(ctx context.Context, msg *core.Message) error {
	pub, err := toPublish(msg, p.dest)
	if err != nil {
		return err
	}
	_, err = p.cm.Publish(ctx, pub)
	return err
}

func (p *producer) Close(ctx context.Context) error { return nil }

// consumer acknowledges QoS 1 publishes on receipt, so Ack and Nack are
// no-ops.
type consumer struct {
	conn    *connection
	dest    core.Destination
	filter  string
	durable bool
	ch      chan *paho.Publish
	done    chan struct{}
	once    sync.Once
}

func (c *consumer) Receive(ctx context.Context) (*core.Delivery, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.done:
			return nil, core.ErrConnectionClosed
		case p := <-c.ch:
			msg, err := fromPublish(c.dest, p)
			if err != nil {
				continue
			}
			noop := func() error { return nil }
			return &core.Delivery{Message: msg, Ack: noop, Nack: noop}, nil
		}
	}
}

func (c *consumer) detach() {
	c.once.Do(func() {
		c.conn.mu.Lock()
		delete(c.conn.consumers, c)
		c.conn.mu.Unlock()
		close(c.done)
	})
}

// Close stops local delivery. Durable subscriptions stay on the broker's
// session so messages published meanwhile are kept.
func (c *consumer) Close(ctx context.Context) error {
	c.detach()
	if c.durable {
		return nil
	}
	_, err := c.conn.cm.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{c.filter}})
	return err
}

func toPublish(msg *core.Message, dest core.Destination) (*paho.Publish, error) {
	body, err := wire.Body(msg)
	if err != nil {
		return nil, err
	}
	props := &paho.PublishProperties{ContentType: msg.ContentType}
	if msg.CorrelationID != "" {
		props.CorrelationData = []byte(msg.CorrelationID)
	}
	for k, v := range wire.Headers(msg) {
		props.User.Add(k, v)
	}
	return &paho.Publish{
		Topic:      dest.Name,
		QoS:        1,
		Payload:    body,
		Properties: props,
	}, nil
}

func fromPublish(dest core.Destination, p *paho.Publish) (*core.Message, error) {
	h := map[string]string{}
	if p.Properties != nil {
		for _, u := range p.Properties.User {
			h[u.Key] = u.Value
		}
		if p.Properties.ContentType != "" {
			h[wire.HeaderContentType] = p.Properties.ContentType
		}
		if len(p.Properties.CorrelationData) > 0 {
			h[wire.HeaderCorrelationID] = string(p.Properties.CorrelationData)
		}
	}
	return wire.FromHeaders(dest, h, p.Payload)
}

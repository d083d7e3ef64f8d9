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

// Package nats maps topics and queues onto NATS subjects. Plain topic
// subscribers use core NATS; queues and durable topic subscriptions read
// through JetStream pull consumers so messages wait for a disconnected
// client.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/broker/wire"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/core"
)

const (
	ProviderName = "nats"

	connectTimeout = 5 * time.Second
	fetchWait      = time.Second
)

var schemes = map[string]bool{"nats": true, "tls": true, "ws": true, "wss": true}

type Config struct {
	URL      string
	Username string
	Password string
	Logger   *slog.Logger
}

type Factory struct {
	url      string
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
		return nil, fmt.Errorf("%w: unsupported scheme %q", core.ErrInvalidBrokerURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host in %q", core.ErrInvalidBrokerURL, cfg.URL)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		url:      cfg.URL,
		username: cfg.Username,
		password: cfg.Password,
		logger:   logger.With("component", "nats"),
	}, nil
}

func (f *Factory) Provider() string { return ProviderName }

func (f *Factory) connectOptions(clientID string) []nats.Option {
	opts := []nats.Option{
		nats.Timeout(connectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				f.logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			f.logger.Info("nats reconnected")
		}),
	}
	if clientID != "" {
		opts = append(opts, nats.Name(clientID))
	}
	if f.username != "" {
		opts = append(opts, nats.UserInfo(f.username, f.password))
	}
	return opts
}

func (f *Factory) CreateConnection(ctx context.Context, clientID string) (core.Connection, error) {
	nc, err := nats.Connect(f.url, f.connectOptions(clientID)...)
	if err != nil {
		return nil, fmt.Errorf("nats connection failed: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats jetstream: %w", err)
	}
	f.logger.Info("nats connection opened", "url", nc.ConnectedUrlRedacted(), "client_id", clientID)
	return &connection{nc: nc, js: js, clientID: clientID}, nil
}

type connection struct {
	nc       *nats.Conn
	js       nats.JetStreamContext
	clientID string
}

func (c *connection) CreateSession(ctx context.Context) (core.Session, error) {
	if c.nc.IsClosed() {
		return nil, core.ErrConnectionClosed
	}
	return &session{conn: c}, nil
}

func (c *connection) Close() error {
	c.nc.Close()
	return nil
}

type session struct {
	conn *connection
}

// subject keeps the topic and queue domains apart on the NATS subject space.
func subject(dest core.Destination) string {
	return dest.Domain() + "." + dest.Name
}

// streamName turns dest into a valid JetStream stream name.
func streamName(dest core.Destination) string {
	return "JMS_" + strings.ToUpper(dest.Domain()) + "_" + sanitize(dest.Name)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

// consumerName returns the durable JetStream consumer for dest, or "" when
// a plain core subscription is enough.
func consumerName(dest core.Destination, clientID string, opts core.ConsumerOptions) (string, error) {
	if !dest.PubSub {
		return sanitize(dest.Name), nil
	}
	if !opts.Durable {
		return "", nil
	}
	if clientID == "" {
		return "", fmt.Errorf("%w: destination=%s", core.ErrClientIDRequired, dest)
	}
	sub := opts.SubscriptionName
	if sub == "" {
		sub = dest.Name
	}
	return sanitize(clientID + "." + sub), nil
}

func (s *session) ensureStream(dest core.Destination) (string, error) {
	name := streamName(dest)
	_, err := s.conn.js.StreamInfo(name)
	if err == nil {
		return name, nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return "", fmt.Errorf("nats stream %s: %w", name, err)
	}
	if _, err := s.conn.js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: []string{subject(dest)},
		Storage:  nats.FileStorage,
	}); err != nil {
		return "", fmt.Errorf("nats add stream %s: %w", name, err)
	}
	return name, nil
}

func (s *session) ensureConsumer(stream, name string, dest core.Destination) error {
	_, err := s.conn.js.ConsumerInfo(stream, name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrConsumerNotFound) {
		return fmt.Errorf("nats consumer %s: %w", name, err)
	}
	deliver := nats.DeliverNewPolicy
	if !dest.PubSub {
		deliver = nats.DeliverAllPolicy
	}
	_, err = s.conn.js.AddConsumer(stream, &nats.ConsumerConfig{
		Durable:       name,
		AckPolicy:     nats.AckExplicitPolicy,
		DeliverPolicy: deliver,
		FilterSubject: subject(dest),
	})
	if err != nil {
		return fmt.Errorf("nats add consumer %s: %w", name, err)
	}
	return nil
}

// CreateProducer makes sure a queue's stream exists so messages sent before
// the first consumer are kept.
func (s *session) CreateProducer(ctx context.Context, dest core.Destination) (core.Producer, error) {
	if !dest.PubSub {
		if _, err := s.ensureStream(dest); err != nil {
			return nil, err
		}
	}
	return &producer{conn: s.conn, dest: dest, subject: subject(dest)}, nil
}

func (s *session) CreateConsumer(ctx context.Context, dest core.Destination, opts core.ConsumerOptions) (core.Consumer, error) {
	name, err := consumerName(dest, s.conn.clientID, opts)
	if err != nil {
		return nil, err
	}
	subj := subject(dest)
	if name == "" {
		sub, err := s.conn.nc.SubscribeSync(subj)
		if err != nil {
			return nil, fmt.Errorf("nats subscribe %s: %w", subj, err)
		}
		return &coreConsumer{sub: sub, dest: dest}, nil
	}

	stream, err := s.ensureStream(dest)
	if err != nil {
		return nil, err
	}
	if err := s.ensureConsumer(stream, name, dest); err != nil {
		return nil, err
	}
	sub, err := s.conn.js.PullSubscribe(subj, name, nats.Bind(stream, name))
	if err != nil {
		return nil, fmt.Errorf("nats pull subscribe %s: %w", subj, err)
	}
	return &pullConsumer{sub: sub, dest: dest}, nil
}

func (s *session) Close(ctx context.Context) error { return nil }

type producer struct {
	conn    *connection
	dest    core.Destination
	subject string
}

func (p *producer) Send(ctx context.Context, msg *core.Message) error {
	nm, err := toNATS(p.subject, msg)
	if err != nil {
		return err
	}
	if !p.dest.PubSub {
		if _, err := p.conn.js.PublishMsg(nm, nats.Context(ctx)); err != nil {
			return fmt.Errorf("nats publish %s: %w", p.subject, err)
		}
		return nil
	}
	if err := p.conn.nc.PublishMsg(nm); err != nil {
		return fmt.Errorf("nats publish %s: %w", p.subject, err)
	}
	return p.conn.nc.FlushWithContext(ctx)
}

func (p *producer) Close(ctx context.Context) error { return nil }

type coreConsumer struct {
	sub  *nats.Subscription
	dest core.Destination
}

func (c *coreConsumer) Receive(ctx context.Context) (*core.Delivery, error) {
	for {
		nm, err := c.sub.NextMsgWithContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("nats receive %s: %w", c.sub.Subject, err)
		}
		msg, err := fromNATS(c.dest, nm)
		if err != nil {
			continue
		}
		msg.DeliveryCount = 1
		noop := func() error { return nil }
		return &core.Delivery{Message: msg, Ack: noop, Nack: noop}, nil
	}
}

func (c *coreConsumer) Close(ctx context.Context) error {
	return c.sub.Unsubscribe()
}

type pullConsumer struct {
	sub  *nats.Subscription
	dest core.Destination
}

// Receive polls the pull consumer in short fetches so ctx cancellation is
// noticed promptly.
func (c *pullConsumer) Receive(ctx context.Context) (*core.Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fctx, cancel := context.WithTimeout(ctx, fetchWait)
		msgs, err := c.sub.Fetch(1, nats.Context(fctx))
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
				continue
			}
			return nil, fmt.Errorf("nats fetch %s: %w", c.sub.Subject, err)
		}
		if len(msgs) == 0 {
			continue
		}

		nm := msgs[0]
		msg, err := fromNATS(c.dest, nm)
		if err != nil {
			nm.Term()
			continue
		}
		msg.DeliveryCount = 1
		if md, err := nm.Metadata(); err == nil {
			msg.DeliveryCount = uint32(md.NumDelivered)
		}
		return &core.Delivery{
			Message: msg,
			Ack:     func() error { return nm.Ack() },
			Nack:    func() error { return nm.Nak() },
		}, nil
	}
}

// Close releases the subscription; the bound durable consumer stays on the
// server.
func (c *pullConsumer) Close(ctx context.Context) error {
	return c.sub.Unsubscribe()
}

func toNATS(subj string, msg *core.Message) (*nats.Msg, error) {
	body, err := wire.Body(msg)
	if err != nil {
		return nil, err
	}
	nm := nats.NewMsg(subj)
	for k, v := range wire.Headers(msg) {
		nm.Header.Set(k, v)
	}
	nm.Data = body
	return nm, nil
}

func fromNATS(dest core.Destination, nm *nats.Msg) (*core.Message, error) {
	h := make(map[string]string, len(nm.Header))
	for k := range nm.Header {
		h[k] = nm.Header.Get(k)
	}
	return wire.FromHeaders(dest, h, nm.Data)
}

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

// Package amqp connects to ActiveMQ (Classic or Artemis) over AMQP 1.0.
package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/Azure/go-amqp"

	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/core"
)

const ProviderName = "amqp"

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
	if err := validateURL(cfg.URL); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		url:      cfg.URL,
		username: cfg.Username,
		password: cfg.Password,
		logger:   logger.With("component", "amqp"),
	}, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidBrokerURL, err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return fmt.Errorf("%w: scheme=%q", core.ErrInvalidBrokerURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("%w: missing host in %q", core.ErrInvalidBrokerURL, raw)
	}
	return nil
}

func (f *Factory) Provider() string { return ProviderName }

func (f *Factory) connOptions(clientID string) *amqp.ConnOptions {
	opts := &amqp.ConnOptions{ContainerID: clientID}
	if f.username != "" {
		opts.SASLType = amqp.SASLTypePlain(f.username, f.password)
	} else {
		opts.SASLType = amqp.SASLTypeAnonymous()
	}
	return opts
}

func (f *Factory) CreateConnection(ctx context.Context, clientID string) (core.Connection, error) {
	conn, err := amqp.Dial(ctx, f.url, f.connOptions(clientID))
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	f.logger.Info("amqp connection opened", "url", f.url, "client_id", clientID)
	return &connection{conn: conn, logger: f.logger}, nil
}

type connection struct {
	conn   *amqp.Conn
	logger *slog.Logger
}

func (c *connection) CreateSession(ctx context.Context) (core.Session, error) {
	s, err := c.conn.NewSession(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("amqp session: %w", err)
	}
	return &session{sess: s}, nil
}

func (c *connection) Close() error {
	return c.conn.Close()
}

type session struct {
	sess *amqp.Session
}

func (s *session) CreateProducer(ctx context.Context, dest core.Destination) (core.Producer, error) {
	sender, err := s.sess.NewSender(ctx, address(dest), &amqp.SenderOptions{
		TargetCapabilities: []string{dest.Domain()},
	})
	if err != nil {
		return nil, fmt.Errorf("amqp sender %s: %w", dest, err)
	}
	return &producer{sender: sender, dest: dest}, nil
}

func (s *session) CreateConsumer(ctx context.Context, dest core.Destination, opts core.ConsumerOptions) (core.Consumer, error) {
	ro, err := receiverOptions(dest, opts)
	if err != nil {
		return nil, err
	}
	receiver, err := s.sess.NewReceiver(ctx, address(dest), ro)
	if err != nil {
		return nil, fmt.Errorf("amqp receiver %s: %w", dest, err)
	}
	return &consumer{receiver: receiver}, nil
}

func (s *session) Close(ctx context.Context) error {
	return s.sess.Close(ctx)
}

type producer struct {
	sender *amqp.Sender
	dest   core.Destination
}

func (p *producer) Send(ctx context.Context, msg *core.Message) error {
	m, err := toAMQP(msg, p.dest)
	if err != nil {
		return err
	}
	return p.sender.Send(ctx, m, nil)
}

func (p *producer) Close(ctx context.Context) error {
	return p.sender.Close(ctx)
}

type consumer struct {
	receiver *amqp.Receiver
}

func (c *consumer) Receive(ctx context.Context) (*core.Delivery, error) {
	m, err := c.receiver.Receive(ctx, nil)
	if err != nil {
		return nil, err
	}
	msg := fromAMQP(m)
	return &core.Delivery{
		Message: msg,
		Ack:     func() error { return c.receiver.AcceptMessage(context.Background(), m) },
		Nack: func() error {
			return c.receiver.ModifyMessage(context.Background(), m, &amqp.ModifyMessageOptions{DeliveryFailed: true})
		},
	}, nil
}

func (c *consumer) Close(ctx context.Context) error {
	return c.receiver.Close(ctx)
}

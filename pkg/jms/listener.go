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

package jms

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/wso2/api-platform/gateway/jms-bridge/internal/logging"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/core"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/metrics"
)

type State int32

const (
	StateUnregistered State = iota
	StateSubscribed
	StateReceiving
	StateUnsubscribed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateSubscribed:
		return "subscribed"
	case StateReceiving:
		return "receiving"
	case StateUnsubscribed:
		return "unsubscribed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ContainerConfig describes one subscription. SubscriptionName defaults to
// the destination name for durable subscriptions and is ignored otherwise.
type ContainerConfig struct {
	Destination      core.Destination
	Durable          bool
	SubscriptionName string
	ClientID         string
}

// ListenerContainer owns one consumer and delivers its messages to a
// MessageListener from a single goroutine.
type ListenerContainer struct {
	factory  core.ConnectionFactory
	cfg      ContainerConfig
	listener MessageListener
	logger   *slog.Logger
	metrics  *metrics.Metrics
	msgLog   *logging.MessageLogger

	state atomic.Int32

	mu       sync.Mutex
	conn     core.Connection
	session  core.Session
	consumer core.Consumer
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewListenerContainer(factory core.ConnectionFactory, cfg ContainerConfig, listener MessageListener, opts ...Option) (*ListenerContainer, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: nil connection factory", core.ErrInvalidConfig)
	}
	if listener == nil {
		return nil, fmt.Errorf("%w: nil message listener", core.ErrInvalidConfig)
	}
	if cfg.Destination.Name == "" {
		return nil, fmt.Errorf("%w: empty destination name", core.ErrInvalidConfig)
	}
	if cfg.Durable {
		if !cfg.Destination.PubSub {
			return nil, fmt.Errorf("%w: durable subscription on queue %s", core.ErrInvalidConfig, cfg.Destination.Name)
		}
		if cfg.ClientID == "" {
			return nil, fmt.Errorf("%w: destination=%s", core.ErrClientIDRequired, cfg.Destination)
		}
		if cfg.SubscriptionName == "" {
			cfg.SubscriptionName = cfg.Destination.Name
		}
	} else {
		cfg.SubscriptionName = ""
	}

	o := buildOptions(opts)
	return &ListenerContainer{
		factory:  factory,
		cfg:      cfg,
		listener: listener,
		logger:   o.logger.With("component", "listener", "destination", cfg.Destination.String()),
		metrics:  o.metrics,
		msgLog:   o.msgLog,
	}, nil
}

func (c *ListenerContainer) State() State                              { return State(c.state.Load()) }
func (c *ListenerContainer) Config() ContainerConfig                   { return c.cfg }
func (c *ListenerContainer) ConnectionFactory() core.ConnectionFactory { return c.factory }

// Start subscribes and launches the receive loop. The loop lives until Stop
// is called or ctx is cancelled.
func (c *ListenerContainer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return fmt.Errorf("%w: destination=%s", core.ErrContainerRunning, c.cfg.Destination)
	}

	conn, err := c.factory.CreateConnection(ctx, c.cfg.ClientID)
	if err != nil {
		return fmt.Errorf("listener %s: connect: %w", c.cfg.Destination, err)
	}
	sess, err := conn.CreateSession(ctx)
	if err != nil {
		conn.Close()
		return fmt.Errorf("listener %s: create session: %w", c.cfg.Destination, err)
	}
	consumer, err := sess.CreateConsumer(ctx, c.cfg.Destination, core.ConsumerOptions{
		Durable:          c.cfg.Durable,
		SubscriptionName: c.cfg.SubscriptionName,
	})
	if err != nil {
		sess.Close(ctx)
		conn.Close()
		return fmt.Errorf("listener %s: subscribe: %w", c.cfg.Destination, err)
	}

	c.conn, c.session, c.consumer = conn, sess, consumer
	c.state.Store(int32(StateSubscribed))
	c.logger.Info("subscribed",
		"durable", c.cfg.Durable,
		"subscription", c.cfg.SubscriptionName,
		"client_id", c.cfg.ClientID,
	)

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.receiveLoop(loopCtx, sess, consumer, c.done)
	return nil
}

// breakable is implemented by sessions that must not be reused after their
// transport failed.
type breakable interface {
	markBroken()
}

func (c *ListenerContainer) receiveLoop(ctx context.Context, sess core.Session, consumer core.Consumer, done chan struct{}) {
	defer close(done)
	c.state.Store(int32(StateReceiving))
	for ctx.Err() == nil {
		d, err := consumer.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if b, ok := sess.(breakable); ok {
				b.markBroken()
			}
			c.state.Store(int32(StateFailed))
			c.logger.Error("receive failed, listener stopped", "error", err)
			return
		}
		c.dispatch(ctx, d)
	}
}

func (c *ListenerContainer) dispatch(ctx context.Context, d *core.Delivery) {
	msg := d.Message
	c.metrics.MessageReceived(c.cfg.Destination)
	c.msgLog.Log(msg, "inbound")

	if err := c.invoke(ctx, msg); err != nil {
		c.metrics.ListenerError(c.cfg.Destination)
		c.logger.Error("listener failed", "message_id", msg.ID, "error", err)
		if d.Nack != nil {
			if nerr := d.Nack(); nerr != nil {
				c.logger.Warn("nack failed", "message_id", msg.ID, "error", nerr)
			}
		}
		return
	}
	if d.Ack != nil {
		if err := d.Ack(); err != nil {
			c.logger.Warn("ack failed", "message_id", msg.ID, "error", err)
		}
	}
}

func (c *ListenerContainer) invoke(ctx context.Context, msg *core.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return c.listener.OnMessage(ctx, msg)
}

// Stop ends the receive loop and closes the consumer. The session goes back
// to the factory; a durable subscription stays registered on the broker.
func (c *ListenerContainer) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	var firstErr error
	if err := c.consumer.Close(ctx); err != nil {
		firstErr = err
	}
	if err := c.session.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.conn.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	c.conn, c.session, c.consumer = nil, nil, nil
	c.cancel = nil
	c.state.Store(int32(StateUnsubscribed))
	c.logger.Info("unsubscribed")
	return firstErr
}

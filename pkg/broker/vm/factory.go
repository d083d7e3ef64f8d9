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

package vm

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/core"
)

const (
	ProviderName = "vm"

	paramMaximumRedeliveries = "jms.redeliveryPolicy.maximumRedeliveries"
	paramRedeliveryDelay     = "jms.redeliveryPolicy.initialRedeliveryDelay"
)

type Factory struct {
	broker *Broker
}

// New resolves a vm://<name> URL to the named in-process broker. The
// jms.redeliveryPolicy.maximumRedeliveries and
// jms.redeliveryPolicy.initialRedeliveryDelay (milliseconds) query
// parameters replace the broker's redelivery policy.
func New(rawURL string) (*Factory, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidBrokerURL, err)
	}
	if u.Scheme != "vm" {
		return nil, fmt.Errorf("%w: scheme=%q", core.ErrInvalidBrokerURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing broker name in %q", core.ErrInvalidBrokerURL, rawURL)
	}
	b := Lookup(u.Host)
	if err := applyRedeliveryParams(b, u.Query()); err != nil {
		return nil, err
	}
	return NewFactory(b), nil
}

func applyRedeliveryParams(b *Broker, q url.Values) error {
	if !q.Has(paramMaximumRedeliveries) && !q.Has(paramRedeliveryDelay) {
		return nil
	}
	p := b.RedeliveryPolicy()
	if v := q.Get(paramMaximumRedeliveries); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", core.ErrInvalidBrokerURL, paramMaximumRedeliveries, v)
		}
		p.MaximumRedeliveries = n
	}
	if v := q.Get(paramRedeliveryDelay); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return fmt.Errorf("%w: %s=%q", core.ErrInvalidBrokerURL, paramRedeliveryDelay, v)
		}
		p.RedeliveryDelay = time.Duration(ms) * time.Millisecond
	}
	b.SetRedeliveryPolicy(p)
	return nil
}

func NewFactory(b *Broker) *Factory {
	return &Factory{broker: b}
}

func (f *Factory) Provider() string { return ProviderName }
func (f *Factory) Broker() *Broker  { return f.broker }

func (f *Factory) CreateConnection(ctx context.Context, clientID string) (core.Connection, error) {
	if err := f.broker.connect(clientID); err != nil {
		return nil, err
	}
	return &connection{broker: f.broker, clientID: clientID}, nil
}

type connection struct {
	broker   *Broker
	clientID string

	mu        sync.Mutex
	consumers map[*consumer]struct{}
	closed    bool
}

func (c *connection) CreateSession(ctx context.Context) (core.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, core.ErrConnectionClosed
	}
	return &session{conn: c}, nil
}

func (c *connection) track(cons *consumer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnectionClosed
	}
	if c.consumers == nil {
		c.consumers = make(map[*consumer]struct{})
	}
	c.consumers[cons] = struct{}{}
	return nil
}

func (c *connection) untrack(cons *consumer) {
	c.mu.Lock()
	delete(c.consumers, cons)
	c.mu.Unlock()
}

func (c *connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	consumers := c.consumers
	c.consumers = nil
	c.mu.Unlock()

	for cons := range consumers {
		cons.shutdown()
	}
	c.broker.disconnect(c.clientID)
	return nil
}

type session struct {
	conn   *connection
	closed atomic.Bool
}

func (s *session) CreateProducer(ctx context.Context, dest core.Destination) (core.Producer, error) {
	if s.closed.Load() {
		return nil, core.ErrConnectionClosed
	}
	return &producer{conn: s.conn, dest: dest}, nil
}

func (s *session) CreateConsumer(ctx context.Context, dest core.Destination, opts core.ConsumerOptions) (core.Consumer, error) {
	if s.closed.Load() {
		return nil, core.ErrConnectionClosed
	}
	box, release, err := s.conn.broker.subscribe(dest, s.conn.clientID, opts)
	if err != nil {
		return nil, err
	}
	cons := &consumer{
		box:      box,
		release:  release,
		stop:     make(chan struct{}),
		inflight: make(map[*core.Message]struct{}),
	}
	if err := s.conn.track(cons); err != nil {
		release()
		return nil, err
	}
	cons.conn = s.conn
	return cons, nil
}

func (s *session) Close(ctx context.Context) error {
	s.closed.Store(true)
	return nil
}

type producer struct {
	conn *connection
	dest core.Destination
}

func (p *producer) Send(ctx context.Context, msg *core.Message) error {
	p.conn.mu.Lock()
	closed := p.conn.closed
	p.conn.mu.Unlock()
	if closed {
		return core.ErrConnectionClosed
	}
	p.conn.broker.publish(p.dest, msg)
	return nil
}

func (p *producer) Close(ctx context.Context) error { return nil }

type consumer struct {
	conn    *connection
	box     *mailbox
	release func()
	stop    chan struct{}
	once    sync.Once

	mu       sync.Mutex
	inflight map[*core.Message]struct{}
}

func (c *consumer) Receive(ctx context.Context) (*core.Delivery, error) {
	msg, err := c.box.take(ctx, c.stop)
	if err != nil {
		return nil, err
	}
	msg.DeliveryCount++
	c.mu.Lock()
	c.inflight[msg] = struct{}{}
	c.mu.Unlock()

	delivered := *msg
	return &core.Delivery{
		Message: &delivered,
		Ack: func() error {
			c.settle(msg)
			return nil
		},
		Nack: func() error {
			if c.settle(msg) {
				c.conn.broker.redeliver(c.box, msg)
			}
			return nil
		},
	}, nil
}

func (c *consumer) settle(msg *core.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inflight[msg]; !ok {
		return false
	}
	delete(c.inflight, msg)
	return true
}

func (c *consumer) Close(ctx context.Context) error {
	c.conn.untrack(c)
	c.shutdown()
	return nil
}

// shutdown returns unsettled messages to the mailbox and detaches the
// subscription.
func (c *consumer) shutdown() {
	c.once.Do(func() {
		close(c.stop)
		c.mu.Lock()
		pending := c.inflight
		c.inflight = make(map[*core.Message]struct{})
		c.mu.Unlock()
		for msg := range pending {
			c.box.requeue(msg)
		}
		c.release()
	})
}

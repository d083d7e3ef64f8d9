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

// Package vm is an in-process broker addressed as vm://<name>. Topics fan
// out to every subscriber, queues hand each message to one consumer, and
// durable topic subscriptions keep collecting messages while their client
// is disconnected.
package vm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/core"
)

var ErrClientIDInUse = errors.New("client id already connected")

// DeadLetterQueue receives messages that ran out of redeliveries.
const DeadLetterQueue = "ActiveMQ.DLQ"

// DeliveryFailureCause is set on dead-lettered messages.
const DeliveryFailureCause = "dlqDeliveryFailureCause"

// RedeliveryPolicy bounds how often a nacked message comes back and how long
// it waits first. A negative MaximumRedeliveries means no limit.
type RedeliveryPolicy struct {
	MaximumRedeliveries int
	RedeliveryDelay     time.Duration
}

// DefaultRedeliveryPolicy matches the ActiveMQ client defaults.
func DefaultRedeliveryPolicy() RedeliveryPolicy {
	return RedeliveryPolicy{MaximumRedeliveries: 6, RedeliveryDelay: time.Second}
}

var (
	namedMu sync.Mutex
	named   = map[string]*Broker{}
)

// Lookup returns the broker registered under name, creating it on first use.
func Lookup(name string) *Broker {
	namedMu.Lock()
	defer namedMu.Unlock()
	b, ok := named[name]
	if !ok {
		b = NewBroker()
		named[name] = b
	}
	return b
}

type Broker struct {
	mu      sync.Mutex
	topics  map[string]*topic
	queues  map[string]*mailbox
	clients map[string]bool
	policy  RedeliveryPolicy
}

func NewBroker() *Broker {
	return &Broker{
		topics:  make(map[string]*topic),
		queues:  make(map[string]*mailbox),
		clients: make(map[string]bool),
		policy:  DefaultRedeliveryPolicy(),
	}
}

func (b *Broker) RedeliveryPolicy() RedeliveryPolicy {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.policy
}

func (b *Broker) SetRedeliveryPolicy(p RedeliveryPolicy) {
	b.mu.Lock()
	b.policy = p
	b.mu.Unlock()
}

// redeliver puts a nacked message back on box after the policy delay, or
// moves it to the dead letter queue once it has been delivered more than
// MaximumRedeliveries+1 times.
func (b *Broker) redeliver(box *mailbox, msg *core.Message) {
	p := b.RedeliveryPolicy()
	if p.MaximumRedeliveries >= 0 && int(msg.DeliveryCount) > p.MaximumRedeliveries {
		b.deadLetter(msg, p)
		return
	}
	if p.RedeliveryDelay <= 0 {
		box.requeue(msg)
		return
	}
	time.AfterFunc(p.RedeliveryDelay, func() { box.requeue(msg) })
}

func (b *Broker) deadLetter(msg *core.Message, p RedeliveryPolicy) {
	dl := cloneMessage(msg)
	if dl.Properties == nil {
		dl.Properties = make(map[string]any, 1)
	}
	dl.Properties[DeliveryFailureCause] = fmt.Sprintf("delivery %d exceeds redelivery limit %d",
		msg.DeliveryCount, p.MaximumRedeliveries)

	b.mu.Lock()
	b.queueLocked(DeadLetterQueue).put(dl)
	b.mu.Unlock()
}

type topic struct {
	subscribers map[*mailbox]struct{}
	durables    map[string]*durableSub
}

type durableSub struct {
	box    *mailbox
	active bool
}

func durableKey(clientID, name string) string { return clientID + ":" + name }

func (b *Broker) topicLocked(name string) *topic {
	t, ok := b.topics[name]
	if !ok {
		t = &topic{
			subscribers: make(map[*mailbox]struct{}),
			durables:    make(map[string]*durableSub),
		}
		b.topics[name] = t
	}
	return t
}

func (b *Broker) queueLocked(name string) *mailbox {
	q, ok := b.queues[name]
	if !ok {
		q = newMailbox()
		b.queues[name] = q
	}
	return q
}

func (b *Broker) publish(dest core.Destination, msg *core.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !dest.PubSub {
		b.queueLocked(dest.Name).put(cloneMessage(msg))
		return
	}
	t := b.topicLocked(dest.Name)
	for box := range t.subscribers {
		box.put(cloneMessage(msg))
	}
	for _, sub := range t.durables {
		sub.box.put(cloneMessage(msg))
	}
}

func (b *Broker) connect(clientID string) error {
	if clientID == "" {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.clients[clientID] {
		return fmt.Errorf("%w: %s", ErrClientIDInUse, clientID)
	}
	b.clients[clientID] = true
	return nil
}

func (b *Broker) disconnect(clientID string) {
	if clientID == "" {
		return
	}
	b.mu.Lock()
	delete(b.clients, clientID)
	b.mu.Unlock()
}

// subscribe returns the mailbox a consumer should read and a release func
// to call when the consumer closes.
func (b *Broker) subscribe(dest core.Destination, clientID string, opts core.ConsumerOptions) (*mailbox, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !dest.PubSub {
		return b.queueLocked(dest.Name), func() {}, nil
	}
	t := b.topicLocked(dest.Name)
	if !opts.Durable {
		box := newMailbox()
		t.subscribers[box] = struct{}{}
		return box, func() {
			b.mu.Lock()
			delete(t.subscribers, box)
			b.mu.Unlock()
		}, nil
	}

	if clientID == "" {
		return nil, nil, fmt.Errorf("%w: destination=%s", core.ErrClientIDRequired, dest)
	}
	name := opts.SubscriptionName
	if name == "" {
		name = dest.Name
	}
	key := durableKey(clientID, name)
	sub, ok := t.durables[key]
	if !ok {
		sub = &durableSub{box: newMailbox()}
		t.durables[key] = sub
	}
	if sub.active {
		return nil, nil, fmt.Errorf("%w: client=%s subscription=%s", core.ErrSubscriptionInUse, clientID, name)
	}
	sub.active = true
	return sub.box, func() {
		b.mu.Lock()
		sub.active = false
		b.mu.Unlock()
	}, nil
}

// Unsubscribe removes a durable subscription and discards its backlog.
func (b *Broker) Unsubscribe(topicName, clientID, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[topicName]
	if !ok {
		return nil
	}
	key := durableKey(clientID, name)
	if sub, ok := t.durables[key]; ok && sub.active {
		return fmt.Errorf("%w: client=%s subscription=%s", core.ErrSubscriptionInUse, clientID, name)
	}
	delete(t.durables, key)
	return nil
}

// Pending reports messages waiting on a queue or durable subscription.
func (b *Broker) Pending(dest core.Destination, clientID, subscription string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !dest.PubSub {
		if q, ok := b.queues[dest.Name]; ok {
			return q.len()
		}
		return 0
	}
	if t, ok := b.topics[dest.Name]; ok {
		if sub, ok := t.durables[durableKey(clientID, subscription)]; ok {
			return sub.box.len()
		}
	}
	return 0
}

func cloneMessage(msg *core.Message) *core.Message {
	cp := *msg
	cp.Payload = append([]byte(nil), msg.Payload...)
	if msg.Properties != nil {
		cp.Properties = make(map[string]any, len(msg.Properties))
		for k, v := range msg.Properties {
			cp.Properties[k] = v
		}
	}
	cp.DeliveryCount = 0
	return &cp
}

// mailbox is an unbounded FIFO shared by competing consumers.
type mailbox struct {
	mu     sync.Mutex
	items  []*core.Message
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) put(msg *core.Message) {
	m.mu.Lock()
	m.items = append(m.items, msg)
	m.mu.Unlock()
	m.signal()
}

func (m *mailbox) requeue(msg *core.Message) {
	m.mu.Lock()
	m.items = append([]*core.Message{msg}, m.items...)
	m.mu.Unlock()
	m.signal()
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *mailbox) take(ctx context.Context, stop <-chan struct{}) (*core.Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		select {
		case <-stop:
			return nil, core.ErrConnectionClosed
		default:
		}
		m.mu.Lock()
		if len(m.items) > 0 {
			msg := m.items[0]
			m.items[0] = nil
			m.items = m.items[1:]
			more := len(m.items) > 0
			m.mu.Unlock()
			if more {
				m.signal()
			}
			return msg, nil
		}
		m.mu.Unlock()

		select {
		case <-m.notify:
		case <-stop:
			return nil, core.ErrConnectionClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

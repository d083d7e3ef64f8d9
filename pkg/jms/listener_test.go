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
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/broker/vm"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/core"
)

type recorder struct {
	mu       sync.Mutex
	payloads []any
	fail     int
	panicNow bool
}

func (r *recorder) handle(ctx context.Context, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.panicNow {
		r.panicNow = false
		panic("handler exploded")
	}
	if r.fail > 0 {
		r.fail--
		return errors.New("handler failed")
	}
	r.payloads = append(r.payloads, payload)
	return nil
}

func (r *recorder) received() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.payloads...)
}

func startContainer(t *testing.T, f core.ConnectionFactory, cfg ContainerConfig, r *recorder) *ListenerContainer {
	t.Helper()
	adapter, err := NewMessageListenerAdapter(r.handle, nil)
	require.NoError(t, err)
	c, err := NewListenerContainer(f, cfg, adapter)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c
}

func TestNewListenerContainerValidation(t *testing.T) {
	f, _ := newCaching(t)
	adapter, _ := NewMessageListenerAdapter(func(context.Context, any) error { return nil }, nil)

	_, err := NewListenerContainer(f, ContainerConfig{Destination: core.Topic("t"), Durable: true}, adapter)
	assert.ErrorIs(t, err, core.ErrClientIDRequired)

	_, err = NewListenerContainer(f, ContainerConfig{Destination: core.Queue("q"), Durable: true, ClientID: "c"}, adapter)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = NewListenerContainer(f, ContainerConfig{Destination: core.Queue("")}, adapter)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = NewListenerContainer(f, ContainerConfig{Destination: core.Queue("q")}, nil)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	c, err := NewListenerContainer(f, ContainerConfig{Destination: core.Topic("news"), Durable: true, ClientID: "c"}, adapter)
	require.NoError(t, err)
	assert.Equal(t, "news", c.Config().SubscriptionName)
	assert.Equal(t, StateUnregistered, c.State())
	assert.Same(t, f, c.ConnectionFactory())
}

func TestQueuePingHandledExactlyOnce(t *testing.T) {
	f, _ := newCaching(t)
	r := &recorder{}
	c := startContainer(t, f, ContainerConfig{Destination: core.Queue("inbox")}, r)
	require.Eventually(t, func() bool { return c.State() == StateReceiving }, time.Second, 5*time.Millisecond)

	tmpl, _ := NewTemplate(f, core.Queue("inbox"))
	require.NoError(t, tmpl.Send(context.Background(), "ping"))

	require.Eventually(t, func() bool { return len(r.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []any{"ping"}, r.received())
}

func TestHandlerErrorRedelivers(t *testing.T) {
	f, _ := newCaching(t)
	r := &recorder{fail: 1}
	startContainer(t, f, ContainerConfig{Destination: core.Queue("retry")}, r)

	tmpl, _ := NewTemplate(f, core.Queue("retry"))
	require.NoError(t, tmpl.Send(context.Background(), "again"))
	require.Eventually(t, func() bool { return len(r.received()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []any{"again"}, r.received())
}

func TestHandlerPanicRecovered(t *testing.T) {
	f, _ := newCaching(t)
	r := &recorder{panicNow: true}
	c := startContainer(t, f, ContainerConfig{Destination: core.Queue("boom")}, r)

	tmpl, _ := NewTemplate(f, core.Queue("boom"))
	require.NoError(t, tmpl.Send(context.Background(), "survives"))
	require.Eventually(t, func() bool { return len(r.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateReceiving, c.State())
}

func TestStartTwiceFails(t *testing.T) {
	f, _ := newCaching(t)
	c := startContainer(t, f, ContainerConfig{Destination: core.Queue("q")}, &recorder{})
	assert.ErrorIs(t, c.Start(context.Background()), core.ErrContainerRunning)
}

func TestStopReturnsSessionAndAllowsRestart(t *testing.T) {
	f, _ := newCaching(t)
	c := startContainer(t, f, ContainerConfig{Destination: core.Queue("q")}, &recorder{})

	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, StateUnsubscribed, c.State())
	assert.Equal(t, 1, f.IdleSessions())
	require.NoError(t, c.Stop(context.Background()))

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, 0, f.IdleSessions())
}

func TestDurableTopicReceivesWhileStopped(t *testing.T) {
	f, _ := newCaching(t, WithClientID("reader-1"))
	r := &recorder{}
	cfg := ContainerConfig{Destination: core.Topic("events"), Durable: true, ClientID: "reader-1", SubscriptionName: "events-sub"}
	c := startContainer(t, f, cfg, r)
	require.NoError(t, c.Stop(context.Background()))

	tmpl, _ := NewTemplate(f, core.Topic("events"))
	require.NoError(t, tmpl.Send(context.Background(), "missed-while-down"))

	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool { return len(r.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []any{"missed-while-down"}, r.received())
}

func TestReceiveFailureMarksContainerFailed(t *testing.T) {
	adapter, _ := NewMessageListenerAdapter(func(context.Context, any) error { return nil }, nil)
	c, err := NewListenerContainer(failingFactory{err: errors.New("link lost")}, ContainerConfig{Destination: core.Queue("q")}, adapter)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool { return c.State() == StateFailed }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, StateUnsubscribed, c.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "receiving", StateReceiving.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func failingListener(calls *atomic.Int64) MessageListener {
	adapter, _ := NewMessageListenerAdapter(func(context.Context, any) error {
		calls.Add(1)
		return errors.New("always fails")
	}, nil)
	return adapter
}

func TestStopWhileMessageKeepsFailing(t *testing.T) {
	f, target := newCaching(t)
	target.ConnectionFactory.(*vm.Factory).Broker().SetRedeliveryPolicy(vm.RedeliveryPolicy{MaximumRedeliveries: -1})

	var calls atomic.Int64
	c, err := NewListenerContainer(f, ContainerConfig{Destination: core.Queue("poison")}, failingListener(&calls))
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	tmpl, _ := NewTemplate(f, core.Queue("poison"))
	require.NoError(t, tmpl.Send(context.Background(), "poison"))
	require.Eventually(t, func() bool { return calls.Load() > 10 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	assert.Equal(t, StateUnsubscribed, c.State())

	after := calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
}

func TestFailingMessageIsDeadLettered(t *testing.T) {
	f, target := newCaching(t)
	broker := target.ConnectionFactory.(*vm.Factory).Broker()
	broker.SetRedeliveryPolicy(vm.RedeliveryPolicy{MaximumRedeliveries: 1})

	var calls atomic.Int64
	c, err := NewListenerContainer(f, ContainerConfig{Destination: core.Queue("poison")}, failingListener(&calls))
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })

	tmpl, _ := NewTemplate(f, core.Queue("poison"))
	require.NoError(t, tmpl.Send(context.Background(), "poison"))

	require.Eventually(t, func() bool {
		return broker.Pending(core.Queue(vm.DeadLetterQueue), "", "") == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, StateReceiving, c.State())
}

func TestReceiveFailureKeepsSessionOutOfCache(t *testing.T) {
	f, err := NewCachingConnectionFactory(failingFactory{err: errors.New("link lost")})
	require.NoError(t, err)
	adapter, _ := NewMessageListenerAdapter(func(context.Context, any) error { return nil }, nil)
	c, err := NewListenerContainer(f, ContainerConfig{Destination: core.Queue("q")}, adapter)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool { return c.State() == StateFailed }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, 0, f.IdleSessions())
}

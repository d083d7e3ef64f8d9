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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/broker/vm"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/core"
)

func newCaching(t *testing.T, opts ...Option) (*CachingConnectionFactory, *countingFactory) {
	t.Helper()
	target := &countingFactory{ConnectionFactory: vm.NewFactory(vm.NewBroker())}
	f, err := NewCachingConnectionFactory(target, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Destroy(context.Background()) })
	return f, target
}

func TestCachingFactoryValidation(t *testing.T) {
	_, err := NewCachingConnectionFactory(nil)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = NewCachingConnectionFactory(vm.NewFactory(vm.NewBroker()), WithSessionCacheSize(0))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	f, err := NewCachingConnectionFactory(vm.NewFactory(vm.NewBroker()))
	require.NoError(t, err)
	assert.Equal(t, DefaultSessionCacheSize, f.SessionCacheSize())
	assert.Equal(t, vm.ProviderName, f.Provider())
}

func TestCachingFactorySharesPhysicalConnection(t *testing.T) {
	f, target := newCaching(t, WithClientID("reader-1"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		conn, err := f.CreateConnection(ctx, "")
		require.NoError(t, err)
		require.NoError(t, conn.Close())
	}
	_, err := f.CreateConnection(ctx, "reader-1")
	require.NoError(t, err)

	assert.Equal(t, int32(1), target.dials.Load())
	assert.Equal(t, int32(0), target.closes.Load())
	assert.Equal(t, 1, f.PhysicalConnections())
	assert.Equal(t, "reader-1", f.ClientID())
}

func TestCachingFactoryRejectsForeignClientID(t *testing.T) {
	f, _ := newCaching(t, WithClientID("reader-1"))
	_, err := f.CreateConnection(context.Background(), "someone-else")
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestLogicalConnectionCloseStopsNewSessions(t *testing.T) {
	f, _ := newCaching(t)
	conn, err := f.CreateConnection(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	_, err = conn.CreateSession(context.Background())
	assert.ErrorIs(t, err, core.ErrConnectionClosed)
}

func TestSessionReturnedToCacheAndReused(t *testing.T) {
	f, target := newCaching(t)
	ctx := context.Background()
	conn, err := f.CreateConnection(ctx, "")
	require.NoError(t, err)

	s1, err := conn.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s1.Close(ctx))
	assert.Equal(t, 1, f.IdleSessions())

	s2, err := conn.CreateSession(ctx)
	require.NoError(t, err)
	assert.Same(t, s1, s2)
	assert.Equal(t, 0, f.IdleSessions())
	assert.Equal(t, int32(1), target.sessions.Load())

	require.NoError(t, s2.Close(ctx))
	require.NoError(t, s2.Close(ctx))
	assert.Equal(t, 1, f.IdleSessions(), "double close must not cache twice")
}

func TestSessionCacheIsBounded(t *testing.T) {
	f, target := newCaching(t, WithSessionCacheSize(2))
	ctx := context.Background()
	conn, err := f.CreateConnection(ctx, "")
	require.NoError(t, err)

	var sessions []core.Session
	for i := 0; i < 4; i++ {
		s, err := conn.CreateSession(ctx)
		require.NoError(t, err)
		sessions = append(sessions, s)
	}
	for _, s := range sessions {
		require.NoError(t, s.Close(ctx))
	}
	assert.Equal(t, 2, f.IdleSessions())
	assert.Equal(t, int32(4), target.sessions.Load())
}

func TestProducerCachedPerDestination(t *testing.T) {
	f, _ := newCaching(t)
	ctx := context.Background()
	conn, _ := f.CreateConnection(ctx, "")
	s, err := conn.CreateSession(ctx)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		p, err := s.CreateProducer(ctx, core.Topic("t"))
		require.NoError(t, err)
		require.NoError(t, p.Close(ctx))
	}
	_, err = s.CreateProducer(ctx, core.Queue("t"))
	require.NoError(t, err)

	cs := s.(*cachedSession)
	assert.Len(t, cs.producers, 2)
}

func TestResetReconnects(t *testing.T) {
	f, target := newCaching(t)
	ctx := context.Background()
	conn, _ := f.CreateConnection(ctx, "")
	s, _ := conn.CreateSession(ctx)
	require.NoError(t, s.Close(ctx))

	require.NoError(t, f.Reset(ctx))
	assert.Equal(t, 0, f.IdleSessions())
	assert.Equal(t, int32(1), target.closes.Load())

	_, err := f.CreateConnection(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int32(2), target.dials.Load())
	assert.Equal(t, 2, f.PhysicalConnections())
}

func TestSessionOutstandingAcrossResetIsNotCached(t *testing.T) {
	f, _ := newCaching(t)
	ctx := context.Background()
	conn, _ := f.CreateConnection(ctx, "")
	stale, err := conn.CreateSession(ctx)
	require.NoError(t, err)

	require.NoError(t, f.Reset(ctx))
	require.NoError(t, stale.Close(ctx))
	assert.Equal(t, 0, f.IdleSessions())

	conn, err = f.CreateConnection(ctx, "")
	require.NoError(t, err)
	fresh, err := conn.CreateSession(ctx)
	require.NoError(t, err)
	assert.NotSame(t, stale, fresh)
	c, err := fresh.CreateConsumer(ctx, core.Queue("after-reset"), core.ConsumerOptions{})
	require.NoError(t, err)
	require.NoError(t, c.Close(ctx))
}

func TestDestroyRejectsFurtherUse(t *testing.T) {
	f, _ := newCaching(t)
	ctx := context.Background()
	conn, err := f.CreateConnection(ctx, "")
	require.NoError(t, err)
	require.NoError(t, f.Destroy(ctx))

	_, err = f.CreateConnection(ctx, "")
	assert.True(t, errors.Is(err, core.ErrFactoryClosed))
	_, err = conn.CreateSession(ctx)
	assert.ErrorIs(t, err, core.ErrFactoryClosed)
}

func TestBrokenSessionNotCached(t *testing.T) {
	f, err := NewCachingConnectionFactory(failingFactory{err: errors.New("link detached")})
	require.NoError(t, err)
	ctx := context.Background()
	conn, _ := f.CreateConnection(ctx, "")
	s, _ := conn.CreateSession(ctx)
	p, _ := s.CreateProducer(ctx, core.Queue("q"))
	require.Error(t, p.Send(ctx, &core.Message{}))
	require.NoError(t, s.Close(ctx))
	assert.Equal(t, 0, f.IdleSessions())
}

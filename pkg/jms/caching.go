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

	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/core"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/metrics"
)

// CachingConnectionFactory shares one physical connection between every
// caller and keeps up to sessionCacheSize idle sessions for reuse. Closing a
// connection obtained from it is a logical close only. Producers are cached
// per destination inside each session; consumers are not cached.
type CachingConnectionFactory struct {
	target    core.ConnectionFactory
	clientID  string
	cacheSize int
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu       sync.Mutex
	conn     core.Connection
	gen      uint64
	idle     []*cachedSession
	physical int
	closed   bool
}

func NewCachingConnectionFactory(target core.ConnectionFactory, opts ...Option) (*CachingConnectionFactory, error) {
	if target == nil {
		return nil, fmt.Errorf("%w: nil target connection factory", core.ErrInvalidConfig)
	}
	o := buildOptions(opts)
	if o.sessionCacheSize < 1 {
		return nil, fmt.Errorf("%w: session cache size %d", core.ErrInvalidConfig, o.sessionCacheSize)
	}
	return &CachingConnectionFactory{
		target:    target,
		clientID:  o.clientID,
		cacheSize: o.sessionCacheSize,
		logger:    o.logger.With("component", "caching-connection-factory"),
		metrics:   o.metrics,
	}, nil
}

func (f *CachingConnectionFactory) Provider() string      { return f.target.Provider() }
func (f *CachingConnectionFactory) ClientID() string      { return f.clientID }
func (f *CachingConnectionFactory) SessionCacheSize() int { return f.cacheSize }

// CreateConnection returns a logical handle on the shared connection. The
// physical connection is opened on first use. A non-empty clientID must
// match the one the factory is bound to.
func (f *CachingConnectionFactory) CreateConnection(ctx context.Context, clientID string) (core.Connection, error) {
	if clientID != "" && clientID != f.clientID {
		return nil, fmt.Errorf("%w: factory bound to client id %q, requested %q",
			core.ErrInvalidConfig, f.clientID, clientID)
	}
	if _, _, err := f.physicalConnection(ctx); err != nil {
		return nil, err
	}
	return &sharedConnection{factory: f}, nil
}

// physicalConnection returns the shared connection and the generation it
// belongs to. Reset starts a new generation.
func (f *CachingConnectionFactory) physicalConnection(ctx context.Context) (core.Connection, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, 0, core.ErrFactoryClosed
	}
	if f.conn != nil {
		return f.conn, f.gen, nil
	}
	conn, err := f.target.CreateConnection(ctx, f.clientID)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s connection: %w", f.target.Provider(), err)
	}
	f.conn = conn
	f.physical++
	f.metrics.ConnectionOpened()
	f.logger.Info("physical connection opened",
		"provider", f.target.Provider(),
		"client_id", f.clientID,
		"session_cache_size", f.cacheSize,
	)
	return conn, f.gen, nil
}

func (f *CachingConnectionFactory) acquireSession(ctx context.Context) (*cachedSession, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, core.ErrFactoryClosed
	}
	if n := len(f.idle); n > 0 {
		cs := f.idle[n-1]
		f.idle = f.idle[:n-1]
		cs.released = false
		f.metrics.SessionCacheIdle(len(f.idle))
		f.mu.Unlock()
		return cs, nil
	}
	f.mu.Unlock()

	conn, gen, err := f.physicalConnection(ctx)
	if err != nil {
		return nil, err
	}
	sess, err := conn.CreateSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &cachedSession{
		factory:   f,
		target:    sess,
		gen:       gen,
		producers: make(map[core.Destination]core.Producer),
	}, nil
}

func (f *CachingConnectionFactory) release(ctx context.Context, cs *cachedSession) error {
	f.mu.Lock()
	if cs.released {
		f.mu.Unlock()
		return nil
	}
	cs.released = true
	if !f.closed && !cs.broken.Load() && cs.gen == f.gen && len(f.idle) < f.cacheSize {
		f.idle = append(f.idle, cs)
		f.metrics.SessionCacheIdle(len(f.idle))
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()
	return cs.closePhysical(ctx)
}

// IdleSessions returns the number of sessions waiting in the cache.
func (f *CachingConnectionFactory) IdleSessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.idle)
}

// PhysicalConnections returns how many physical connections were opened
// over the factory's lifetime.
func (f *CachingConnectionFactory) PhysicalConnections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.physical
}

// Closed reports whether Destroy has been called.
func (f *CachingConnectionFactory) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Reset drops the cached sessions and the physical connection; the next
// caller reconnects.
func (f *CachingConnectionFactory) Reset(ctx context.Context) error {
	f.mu.Lock()
	idle := f.idle
	conn := f.conn
	f.idle = nil
	f.conn = nil
	f.gen++
	f.metrics.SessionCacheIdle(0)
	f.mu.Unlock()

	var firstErr error
	for _, cs := range idle {
		if err := cs.closePhysical(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		f.logger.Info("physical connection closed", "provider", f.target.Provider())
	}
	return firstErr
}

// Destroy resets the factory and refuses further use.
func (f *CachingConnectionFactory) Destroy(ctx context.Context) error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return f.Reset(ctx)
}

type sharedConnection struct {
	factory *CachingConnectionFactory
	closed  atomic.Bool
}

func (c *sharedConnection) CreateSession(ctx context.Context) (core.Session, error) {
	if c.closed.Load() {
		return nil, core.ErrConnectionClosed
	}
	return c.factory.acquireSession(ctx)
}

func (c *sharedConnection) Close() error {
	c.closed.Store(true)
	return nil
}

type cachedSession struct {
	factory   *CachingConnectionFactory
	target    core.Session
	released  bool   // guarded by factory.mu
	gen       uint64 // connection generation the session was opened on
	broken    atomic.Bool
	mu        sync.Mutex
	producers map[core.Destination]core.Producer
}

func (s *cachedSession) CreateProducer(ctx context.Context, dest core.Destination) (core.Producer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.producers[dest]; ok {
		return &cachedProducer{session: s, target: p}, nil
	}
	p, err := s.target.CreateProducer(ctx, dest)
	if err != nil {
		return nil, fmt.Errorf("create producer %s: %w", dest, err)
	}
	s.producers[dest] = p
	return &cachedProducer{session: s, target: p}, nil
}

func (s *cachedSession) CreateConsumer(ctx context.Context, dest core.Destination, opts core.ConsumerOptions) (core.Consumer, error) {
	c, err := s.target.CreateConsumer(ctx, dest, opts)
	if err != nil {
		s.broken.Store(true)
		return nil, err
	}
	return c, nil
}

// markBroken keeps the session out of the cache once its transport failed.
func (s *cachedSession) markBroken() { s.broken.Store(true) }

// Close hands the session back to the cache.
func (s *cachedSession) Close(ctx context.Context) error {
	return s.factory.release(ctx, s)
}

func (s *cachedSession) closePhysical(ctx context.Context) error {
	s.mu.Lock()
	producers := s.producers
	s.producers = make(map[core.Destination]core.Producer)
	s.mu.Unlock()

	for dest, p := range producers {
		if err := p.Close(ctx); err != nil {
			s.factory.logger.Warn("producer close failed", "destination", dest.String(), "error", err)
		}
	}
	return s.target.Close(ctx)
}

type cachedProducer struct {
	session *cachedSession
	target  core.Producer
}

func (p *cachedProducer) Send(ctx context.Context, msg *core.Message) error {
	if err := p.target.Send(ctx, msg); err != nil {
		p.session.broken.Store(true)
		return err
	}
	return nil
}

// Close is a no-op; the producer lives as long as its session.
func (p *cachedProducer) Close(ctx context.Context) error { return nil }

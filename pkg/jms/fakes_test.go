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
	"sync/atomic"

	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/core"
)

// countingFactory wraps a real factory and counts physical dials and sessions.
type countingFactory struct {
	core.ConnectionFactory
	dials    atomic.Int32
	sessions atomic.Int32
	closes   atomic.Int32
}

func (f *countingFactory) CreateConnection(ctx context.Context, clientID string) (core.Connection, error) {
	f.dials.Add(1)
	conn, err := f.ConnectionFactory.CreateConnection(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return &countingConn{Connection: conn, f: f}, nil
}

type countingConn struct {
	core.Connection
	f *countingFactory
}

func (c *countingConn) CreateSession(ctx context.Context) (core.Session, error) {
	c.f.sessions.Add(1)
	return c.Connection.CreateSession(ctx)
}

func (c *countingConn) Close() error {
	c.f.closes.Add(1)
	return c.Connection.Close()
}

// failingFactory hands out consumers whose Receive always fails and
// producers whose Send always fails.
type failingFactory struct {
	err error
}

func (f failingFactory) Provider() string { return "failing" }

func (f failingFactory) CreateConnection(ctx context.Context, clientID string) (core.Connection, error) {
	return failingConn{err: f.err}, nil
}

type failingConn struct{ err error }

func (c failingConn) CreateSession(ctx context.Context) (core.Session, error) {
	return failingSession{err: c.err}, nil
}
func (c failingConn) Close() error { return nil }

type failingSession struct{ err error }

func (s failingSession) CreateProducer(ctx context.Context, dest core.Destination) (core.Producer, error) {
	return failingEndpoint{err: s.err}, nil
}
func (s failingSession) CreateConsumer(ctx context.Context, dest core.Destination, opts core.ConsumerOptions) (core.Consumer, error) {
	return failingEndpoint{err: s.err}, nil
}
func (s failingSession) Close(ctx context.Context) error { return nil }

type failingEndpoint struct{ err error }

func (e failingEndpoint) Send(ctx context.Context, msg *core.Message) error { return e.err }
func (e failingEndpoint) Receive(ctx context.Context) (*core.Delivery, error) {
	return nil, e.err
}
func (e failingEndpoint) Close(ctx context.Context) error { return nil }

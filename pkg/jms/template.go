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
	"time"

	"github.com/google/uuid"

	"github.com/wso2/api-platform/gateway/jms-bridge/internal/logging"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/core"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/executor"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/metrics"
)

// Template sends payloads to a single fixed destination.
type Template struct {
	factory   core.ConnectionFactory
	dest      core.Destination
	converter MessageConverter
	logger    *slog.Logger
	metrics   *metrics.Metrics
	msgLog    *logging.MessageLogger
}

func NewTemplate(factory core.ConnectionFactory, dest core.Destination, opts ...Option) (*Template, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: nil connection factory", core.ErrInvalidConfig)
	}
	if dest.Name == "" {
		return nil, fmt.Errorf("%w: empty destination name", core.ErrInvalidConfig)
	}
	o := buildOptions(opts)
	return &Template{
		factory:   factory,
		dest:      dest,
		converter: o.converter,
		logger:    o.logger.With("component", "template", "destination", dest.String()),
		metrics:   o.metrics,
		msgLog:    o.msgLog,
	}, nil
}

func (t *Template) Destination() core.Destination             { return t.dest }
func (t *Template) ConnectionFactory() core.ConnectionFactory { return t.factory }

// Convert turns payload into a message with the template's converter.
func (t *Template) Convert(payload any) (*core.Message, error) {
	return t.converter.ToMessage(payload)
}

// Send converts payload and delivers it synchronously.
func (t *Template) Send(ctx context.Context, payload any) error {
	msg, err := t.Convert(payload)
	if err != nil {
		return err
	}
	return t.SendMessage(ctx, msg)
}

// SendMessage delivers msg to the bound destination. A missing ID or
// timestamp is filled in on msg before sending.
func (t *Template) SendMessage(ctx context.Context, msg *core.Message) error {
	if msg == nil {
		return fmt.Errorf("%w: nil message", core.ErrUnsupportedPayload)
	}
	if msg.ID == "" {
		msg.ID = "ID:" + uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	msg.Destination = t.dest

	if err := t.send(ctx, msg); err != nil {
		t.metrics.SendError(t.dest)
		t.logger.Error("send failed", "message_id", msg.ID, "error", err)
		return err
	}
	t.metrics.MessageSent(t.dest)
	t.msgLog.Log(msg, "outbound")
	return nil
}

func (t *Template) send(ctx context.Context, msg *core.Message) error {
	conn, err := t.factory.CreateConnection(ctx, "")
	if err != nil {
		return err
	}
	defer conn.Close()

	sess, err := conn.CreateSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close(ctx)

	producer, err := sess.CreateProducer(ctx, t.dest)
	if err != nil {
		return err
	}
	defer producer.Close(ctx)

	if err := producer.Send(ctx, msg); err != nil {
		return fmt.Errorf("send to %s: %w", t.dest, err)
	}
	return nil
}

// SendAsync submits a send of payload through t to pool.
func SendAsync(pool *executor.Pool, t *Template, payload any) (*executor.Future, error) {
	if pool == nil || t == nil {
		return nil, fmt.Errorf("%w: nil pool or template", core.ErrInvalidConfig)
	}
	return pool.Submit(func(ctx context.Context) error {
		return t.Send(ctx, payload)
	})
}

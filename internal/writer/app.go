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

// Package writer wires the sending service: one caching connection factory,
// a topic template, a queue template and the worker pool that runs sends.
package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/wso2/api-platform/gateway/jms-bridge/internal/logging"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/broker"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/config"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/core"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/executor"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/jms"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/metrics"
)

type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	factory *jms.CachingConnectionFactory
	topic   *jms.Template
	queue   *jms.Template
	pool    *executor.Pool

	server   *http.Server
	listener net.Listener
}

// New builds the writer in dependency order: provider factory, caching
// wrapper, templates, pool.
func New(cfg *config.Config, reg *broker.Registry, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(config.RoleWriter); err != nil {
		return nil, err
	}
	a := &App{
		cfg:     cfg,
		logger:  logger.With("component", "writer"),
		metrics: metrics.New(string(config.RoleWriter)),
	}

	target, err := reg.New(cfg.JMS.Provider, cfg.JMS.Broker)
	if err != nil {
		return nil, err
	}
	msgLog := logging.NewMessageLogger(logger.With("component", "message"))
	common := []jms.Option{jms.WithLogger(logger), jms.WithMetrics(a.metrics), jms.WithMessageLogger(msgLog)}

	// No client id: it identifies the reader's durable subscription.
	a.factory, err = jms.NewCachingConnectionFactory(target, append(common,
		jms.WithSessionCacheSize(cfg.JMS.SessionCacheSize),
	)...)
	if err != nil {
		return nil, err
	}

	if a.topic, err = jms.NewTemplate(a.factory, core.Topic(cfg.JMS.Topic.Name), common...); err != nil {
		return nil, err
	}
	if a.queue, err = jms.NewTemplate(a.factory, core.Queue(cfg.JMS.Queue.Name), common...); err != nil {
		return nil, err
	}

	a.pool, err = executor.New(executor.Config{
		CorePoolSize:  cfg.Executor.CorePoolSize,
		MaxPoolSize:   cfg.Executor.MaxPoolSize,
		QueueCapacity: cfg.Executor.QueueCapacity,
		KeepAlive:     cfg.Executor.KeepAlive,
	}, executor.WithLogger(logger), executor.WithMetrics(a.metrics))
	if err != nil {
		return nil, err
	}

	a.server = &http.Server{Addr: cfg.HTTP.Addr, Handler: a.Handler()}
	return a, nil
}

func (a *App) ConnectionFactory() *jms.CachingConnectionFactory { return a.factory }
func (a *App) TopicTemplate() *jms.Template                     { return a.topic }
func (a *App) QueueTemplate() *jms.Template                     { return a.queue }
func (a *App) Pool() *executor.Pool                             { return a.pool }
func (a *App) Metrics() *metrics.Metrics                        { return a.metrics }

// SendTopic submits payload for the topic through the pool.
func (a *App) SendTopic(payload any) (*executor.Future, error) {
	return jms.SendAsync(a.pool, a.topic, payload)
}

// SendQueue submits payload for the queue through the pool.
func (a *App) SendQueue(payload any) (*executor.Future, error) {
	return jms.SendAsync(a.pool, a.queue, payload)
}

// Start opens the broker connection so a bad broker fails startup, then
// serves HTTP.
func (a *App) Start(ctx context.Context) error {
	conn, err := a.factory.CreateConnection(ctx, "")
	if err != nil {
		return err
	}
	conn.Close()

	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.HTTP.Addr, err)
	}
	a.listener = ln
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server failed", "error", err)
		}
	}()

	pc := a.pool.Config()
	a.logger.Info("writer started",
		"provider", a.factory.Provider(),
		"topic", a.topic.Destination().Name,
		"queue", a.queue.Destination().Name,
		"core_pool_size", pc.CorePoolSize,
		"max_pool_size", pc.MaxPoolSize,
		"queue_capacity", pc.QueueCapacity,
		"http_addr", ln.Addr().String(),
	)
	return nil
}

func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Healthy reports whether the writer still accepts sends.
func (a *App) Healthy() bool {
	return !a.factory.Closed()
}

// Stop stops HTTP intake, drains the pool and closes the connection.
func (a *App) Stop(ctx context.Context) error {
	var errs []error
	if a.listener != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := a.pool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("pool shutdown: %w", err))
	}
	if err := a.factory.Destroy(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}
	a.logger.Info("writer stopped")
	return errors.Join(errs...)
}

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

// Package reader wires the listening service: one caching connection
// factory, a durable topic listener and a queue listener.
package reader

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
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/jms"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/metrics"
)

type Option func(*App)

// WithTopicHandler replaces the default logging handler for the topic.
func WithTopicHandler(h jms.HandlerFunc) Option {
	return func(a *App) { a.topicHandler = h }
}

// WithQueueHandler replaces the default logging handler for the queue.
func WithQueueHandler(h jms.HandlerFunc) Option {
	return func(a *App) { a.queueHandler = h }
}

type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	factory *jms.CachingConnectionFactory
	topic   *jms.ListenerContainer
	queue   *jms.ListenerContainer
	tap     *Tap

	topicHandler jms.HandlerFunc
	queueHandler jms.HandlerFunc

	server   *http.Server
	listener net.Listener
}

// New builds the reader in dependency order: provider factory, caching
// wrapper, listener adapters, containers. Nothing connects until Start.
func New(cfg *config.Config, reg *broker.Registry, logger *slog.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(config.RoleReader); err != nil {
		return nil, err
	}
	a := &App{
		cfg:     cfg,
		logger:  logger.With("component", "reader"),
		metrics: metrics.New(string(config.RoleReader)),
	}
	for _, opt := range opts {
		opt(a)
	}

	target, err := reg.New(cfg.JMS.Provider, cfg.JMS.Broker)
	if err != nil {
		return nil, err
	}
	msgLog := logging.NewMessageLogger(logger.With("component", "message"))
	common := []jms.Option{jms.WithLogger(logger), jms.WithMetrics(a.metrics), jms.WithMessageLogger(msgLog)}

	a.factory, err = jms.NewCachingConnectionFactory(target, append(common,
		jms.WithSessionCacheSize(cfg.JMS.SessionCacheSize),
		jms.WithClientID(cfg.JMS.ClientID),
	)...)
	if err != nil {
		return nil, err
	}

	a.tap = NewTap(logger)
	topicDest := core.Topic(cfg.JMS.Topic.Name)
	queueDest := core.Queue(cfg.JMS.Queue.Name)
	if a.topicHandler == nil {
		a.topicHandler = loggingHandler(a.logger, topicDest, a.tap)
	}
	if a.queueHandler == nil {
		a.queueHandler = loggingHandler(a.logger, queueDest, a.tap)
	}

	topicAdapter, err := jms.NewMessageListenerAdapter(a.topicHandler, jms.SimpleMessageConverter{})
	if err != nil {
		return nil, err
	}
	queueAdapter, err := jms.NewMessageListenerAdapter(a.queueHandler, jms.SimpleMessageConverter{})
	if err != nil {
		return nil, err
	}

	a.topic, err = jms.NewListenerContainer(a.factory, jms.ContainerConfig{
		Destination:      topicDest,
		Durable:          true,
		SubscriptionName: cfg.JMS.SubscriptionName,
		ClientID:         cfg.JMS.ClientID,
	}, topicAdapter, common...)
	if err != nil {
		return nil, err
	}
	a.queue, err = jms.NewListenerContainer(a.factory, jms.ContainerConfig{
		Destination: queueDest,
	}, queueAdapter, common...)
	if err != nil {
		return nil, err
	}

	a.server = &http.Server{Addr: cfg.HTTP.Addr, Handler: a.Handler()}
	return a, nil
}

func (a *App) ConnectionFactory() *jms.CachingConnectionFactory { return a.factory }
func (a *App) TopicContainer() *jms.ListenerContainer           { return a.topic }
func (a *App) QueueContainer() *jms.ListenerContainer           { return a.queue }
func (a *App) Tap() *Tap                                        { return a.tap }
func (a *App) Metrics() *metrics.Metrics                        { return a.metrics }

// Handler serves /healthz, /metrics and the /ws and /events taps.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.Handle("/metrics", a.metrics.Handler())
	mux.Handle("/ws", a.tap)
	mux.HandleFunc("/events", a.tap.ServeEvents)
	return mux
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !a.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, `{"status":"unavailable","topic":%q,"queue":%q}`, a.topic.State(), a.queue.State())
		return
	}
	w.Write([]byte(`{"status":"ok"}`))
}

// Healthy reports whether both listeners are receiving.
func (a *App) Healthy() bool {
	return a.topic.State() == jms.StateReceiving && a.queue.State() == jms.StateReceiving
}

// Start subscribes both listeners and starts the HTTP server. Any
// subscription failure is returned.
func (a *App) Start(ctx context.Context) error {
	if err := a.topic.Start(ctx); err != nil {
		return err
	}
	if err := a.queue.Start(ctx); err != nil {
		a.topic.Stop(ctx)
		return err
	}

	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		a.queue.Stop(ctx)
		a.topic.Stop(ctx)
		return fmt.Errorf("listen %s: %w", a.cfg.HTTP.Addr, err)
	}
	a.listener = ln
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server failed", "error", err)
		}
	}()

	a.logger.Info("reader started",
		"provider", a.factory.Provider(),
		"topic", a.cfg.JMS.Topic.Name,
		"queue", a.cfg.JMS.Queue.Name,
		"client_id", a.factory.ClientID(),
		"http_addr", ln.Addr().String(),
	)
	return nil
}

// Addr returns the bound HTTP address once started.
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Stop disconnects tap clients and the HTTP server, then both listeners and
// the shared connection.
func (a *App) Stop(ctx context.Context) error {
	var errs []error
	a.tap.Close()
	if a.listener != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := a.queue.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop queue listener: %w", err))
	}
	if err := a.topic.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop topic listener: %w", err))
	}
	if err := a.factory.Destroy(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}
	a.logger.Info("reader stopped")
	return errors.Join(errs...)
}

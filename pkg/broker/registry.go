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

// Package broker selects the connection factory for a configured provider.
package broker

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/broker/amqp"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/broker/kafka"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/broker/mqtt5"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/broker/nats"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/broker/rabbitmq"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/broker/redis"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/broker/vm"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/config"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/core"
)

// Constructor builds a provider's factory. It validates the URL but must not
// dial.
type Constructor func(cfg config.BrokerConfig, logger *slog.Logger) (core.ConnectionFactory, error)

type Registry struct {
	providers map[string]Constructor
	logger    *slog.Logger
	mu        sync.RWMutex
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		providers: make(map[string]Constructor),
		logger:    logger,
	}
}

// DefaultRegistry knows every built-in provider.
func DefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register(amqp.ProviderName, func(cfg config.BrokerConfig, l *slog.Logger) (core.ConnectionFactory, error) {
		return amqp.New(amqp.Config{URL: cfg.URL, Username: cfg.Username, Password: cfg.Password, Logger: l})
	})
	r.Register(vm.ProviderName, func(cfg config.BrokerConfig, _ *slog.Logger) (core.ConnectionFactory, error) {
		return vm.New(cfg.URL)
	})
	r.Register(rabbitmq.ProviderName, func(cfg config.BrokerConfig, l *slog.Logger) (core.ConnectionFactory, error) {
		return rabbitmq.New(rabbitmq.Config{URL: cfg.URL, Username: cfg.Username, Password: cfg.Password, Logger: l})
	})
	r.Register(kafka.ProviderName, func(cfg config.BrokerConfig, l *slog.Logger) (core.ConnectionFactory, error) {
		return kafka.New(kafka.Config{URL: cfg.URL, Username: cfg.Username, Password: cfg.Password, Logger: l})
	})
	r.Register(mqtt5.ProviderName, func(cfg config.BrokerConfig, l *slog.Logger) (core.ConnectionFactory, error) {
		return mqtt5.New(mqtt5.Config{URL: cfg.URL, Username: cfg.Username, Password: cfg.Password, Logger: l})
	})
	r.Register(redis.ProviderName, func(cfg config.BrokerConfig, l *slog.Logger) (core.ConnectionFactory, error) {
		return redis.New(redis.Config{URL: cfg.URL, Username: cfg.Username, Password: cfg.Password, Logger: l})
	})
	r.Register(nats.ProviderName, func(cfg config.BrokerConfig, l *slog.Logger) (core.ConnectionFactory, error) {
		return nats.New(nats.Config{URL: cfg.URL, Username: cfg.Username, Password: cfg.Password, Logger: l})
	})
	return r
}

func (r *Registry) Register(name string, c Constructor) {
	r.mu.Lock()
	r.providers[name] = c
	r.mu.Unlock()
	r.logger.Debug("registered broker provider", "provider", name)
}

func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the factory for provider. An empty broker URL is rejected
// before any provider code runs.
func (r *Registry) New(provider string, cfg config.BrokerConfig) (core.ConnectionFactory, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: jms.broker.url is required", core.ErrInvalidConfig)
	}
	r.mu.RLock()
	c, ok := r.providers[provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", core.ErrUnknownProvider, provider, r.Providers())
	}
	f, err := c(cfg, r.logger)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", provider, err)
	}
	r.logger.Info("broker provider selected", "provider", provider)
	return f, nil
}

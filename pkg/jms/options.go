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
	"log/slog"

	"github.com/wso2/api-platform/gateway/jms-bridge/internal/logging"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/metrics"
)

const DefaultSessionCacheSize = 10

// Option configures the factory, templates and containers of this package.
// Options that do not apply to a constructor are ignored by it.
type Option func(*options)

type options struct {
	sessionCacheSize int
	clientID         string
	converter        MessageConverter
	logger           *slog.Logger
	metrics          *metrics.Metrics
	msgLog           *logging.MessageLogger
}

func buildOptions(opts []Option) options {
	o := options{
		sessionCacheSize: DefaultSessionCacheSize,
		converter:        SimpleMessageConverter{},
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func WithSessionCacheSize(n int) Option {
	return func(o *options) { o.sessionCacheSize = n }
}

func WithClientID(id string) Option {
	return func(o *options) { o.clientID = id }
}

func WithConverter(c MessageConverter) Option {
	return func(o *options) {
		if c != nil {
			o.converter = c
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithMessageLogger(ml *logging.MessageLogger) Option {
	return func(o *options) { o.msgLog = ml }
}

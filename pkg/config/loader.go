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

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/core"
	"gopkg.in/yaml.v3"
)

// Role selects which keys Validate insists on.
type Role string

const (
	RoleReader Role = "reader"
	RoleWriter Role = "writer"
)

const (
	DefaultProvider         = "amqp"
	DefaultSessionCacheSize = 10
	DefaultCorePoolSize     = 5
	DefaultMaxPoolSize      = 15
	DefaultQueueCapacity    = 100
	DefaultKeepAlive        = 60 * time.Second
	DefaultWriterHTTPAddr   = ":8080"
	DefaultReaderHTTPAddr   = ":8081"
)

type Config struct {
	JMS      JMSConfig      `yaml:"jms"`
	Executor ExecutorConfig `yaml:"executor"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logger   LoggerConfig   `yaml:"logger"`
}

type JMSConfig struct {
	Provider         string            `yaml:"provider" envconfig:"JMS_PROVIDER"`
	Broker           BrokerConfig      `yaml:"broker"`
	Topic            DestinationConfig `yaml:"topic"`
	Queue            DestinationConfig `yaml:"queue"`
	ClientID         string            `yaml:"client_id" envconfig:"JMS_CLIENTID"`
	SubscriptionName string            `yaml:"subscription_name" envconfig:"JMS_SUBSCRIPTION_NAME"`
	SessionCacheSize int               `yaml:"session_cache_size" envconfig:"JMS_SESSION_CACHE_SIZE"`
}

type BrokerConfig struct {
	URL      string `yaml:"url" envconfig:"JMS_BROKER_URL"`
	Username string `yaml:"username" envconfig:"JMS_BROKER_USERNAME"`
	Password string `yaml:"password" envconfig:"JMS_BROKER_PASSWORD"`
}

// DestinationConfig.Name resolves to JMS_TOPIC_NAME or JMS_QUEUE_NAME
// through the nested struct path.
type DestinationConfig struct {
	Name string `yaml:"name"`
}

type ExecutorConfig struct {
	CorePoolSize  int           `yaml:"core_pool_size" envconfig:"EXECUTOR_CORE_POOL_SIZE"`
	MaxPoolSize   int           `yaml:"max_pool_size" envconfig:"EXECUTOR_MAX_POOL_SIZE"`
	QueueCapacity int           `yaml:"queue_capacity" envconfig:"EXECUTOR_QUEUE_CAPACITY"`
	KeepAlive     time.Duration `yaml:"keep_alive" envconfig:"EXECUTOR_KEEP_ALIVE"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" envconfig:"HTTP_ADDR"`
}

type LoggerConfig struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"LOG_FORMAT"`
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides, fills defaults and validates for the given role.
func Load(path string, role Role) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	cfg.applyDefaults(role)

	if err := cfg.Validate(role); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults(role Role) {
	if c.JMS.Provider == "" {
		c.JMS.Provider = DefaultProvider
	}
	if c.JMS.SessionCacheSize == 0 {
		c.JMS.SessionCacheSize = DefaultSessionCacheSize
	}
	if c.JMS.SubscriptionName == "" {
		c.JMS.SubscriptionName = c.JMS.Topic.Name
	}
	if c.Executor.CorePoolSize == 0 {
		c.Executor.CorePoolSize = DefaultCorePoolSize
	}
	if c.Executor.MaxPoolSize == 0 {
		c.Executor.MaxPoolSize = DefaultMaxPoolSize
	}
	if c.Executor.QueueCapacity == 0 {
		c.Executor.QueueCapacity = DefaultQueueCapacity
	}
	if c.Executor.KeepAlive == 0 {
		c.Executor.KeepAlive = DefaultKeepAlive
	}
	if c.HTTP.Addr == "" {
		if role == RoleReader {
			c.HTTP.Addr = DefaultReaderHTTPAddr
		} else {
			c.HTTP.Addr = DefaultWriterHTTPAddr
		}
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "json"
	}
}

// Validate reports the first missing or malformed key.
func (c *Config) Validate(role Role) error {
	if c.JMS.Broker.URL == "" {
		return fmt.Errorf("%w: jms.broker.url is required", core.ErrInvalidConfig)
	}
	if c.JMS.Topic.Name == "" {
		return fmt.Errorf("%w: jms.topic.name is required", core.ErrInvalidConfig)
	}
	if c.JMS.Queue.Name == "" {
		return fmt.Errorf("%w: jms.queue.name is required", core.ErrInvalidConfig)
	}
	if c.JMS.SessionCacheSize < 1 {
		return fmt.Errorf("%w: jms.session_cache_size=%d", core.ErrInvalidConfig, c.JMS.SessionCacheSize)
	}

	switch role {
	case RoleReader:
		if c.JMS.ClientID == "" {
			return fmt.Errorf("%w: jms.client_id is required", core.ErrInvalidConfig)
		}
	case RoleWriter:
		e := c.Executor
		if e.CorePoolSize < 0 || e.MaxPoolSize < 1 || e.CorePoolSize > e.MaxPoolSize {
			return fmt.Errorf("%w: executor core=%d max=%d", core.ErrInvalidConfig, e.CorePoolSize, e.MaxPoolSize)
		}
		if e.QueueCapacity < 0 {
			return fmt.Errorf("%w: executor.queue_capacity=%d", core.ErrInvalidConfig, e.QueueCapacity)
		}
	default:
		return fmt.Errorf("%w: role=%s", core.ErrInvalidConfig, role)
	}

	switch c.Logger.Format {
	case "json", "text":
	default:
		return fmt.Errorf("%w: logger.format=%s", core.ErrInvalidConfig, c.Logger.Format)
	}
	return nil
}

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

// Package kafka maps queues and topics onto Kafka topics. A queue is read by
// one consumer group shared by every consumer; each topic subscriber gets its
// own group, named after the client ID and subscription when durable.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/broker/wire"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/core"
)

const (
	ProviderName = "kafka"
	scheme       = "kafka://"
	dialTimeout  = 10 * time.Second
)

type Config struct {
	URL      string
	Username string
	Password string
	Logger   *slog.Logger
}

type Factory struct {
	brokers []string
	mech    sasl.Mechanism
	logger  *slog.Logger
}

func New(cfg Config) (*Factory, error) {
	brokers, err := parseBrokers(cfg.URL)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{brokers: brokers, logger: logger.With("component", "kafka")}
	if cfg.Username != "" {
		f.mech = plain.Mechanism{Username: cfg.Username, Password: cfg.Password}
	}
	return f, nil
}

// parseBrokers reads kafka://host:port[,host:port...].
func parseBrokers(raw string) ([]string, error) {
	if !strings.HasPrefix(raw, scheme) {
		return nil, fmt.Errorf("%w: expected %s scheme in %q", core.ErrInvalidBrokerURL, scheme, raw)
	}
	rest := strings.TrimSuffix(strings.TrimPrefix(raw, scheme), "/")
	if rest == "" {
		return nil, fmt.Errorf("%w: no brokers in %q", core.ErrInvalidBrokerURL, raw)
	}
	var brokers []string
	for _, b := range strings.Split(rest, ",") {
		b = strings.TrimSpace(b)
		host, port, ok := strings.Cut(b, ":")
		if !ok || host == "" || port == "" {
			return nil, fmt.Errorf("%w: broker %q must be host:port", core.ErrInvalidBrokerURL, b)
		}
		brokers = append(brokers, b)
	}
	return brokers, nil
}

func (f *Factory) Provider() string { return ProviderName }

func (f *Factory) dialer(clientID string) *kafka.Dialer {
	return &kafka.Dialer{
		ClientID:      clientID,
		Timeout:       dialTimeout,
		DualStack:     true,
		SASLMechanism: f.mech,
	}
}

// CreateConnection checks that a broker is reachable; readers and writers
// open their own connections on demand.
func (f *Factory) CreateConnection(ctx context.Context, clientID string) (core.Connection, error) {
	conn, err := f.dialer(clientID).DialContext(ctx, "tcp", f.brokers[0])
	if err != nil {
		return nil, fmt.Errorf("kafka dial: %w", err)
	}
	conn.Close()
	f.logger.Info("kafka connection opened", "brokers", strings.Join(f.brokers, ","), "client_id", clientID)
	return &connection{factory: f, clientID: clientID}, nil
}

type connection struct {
	factory  *Factory
	clientID string
}

func (c *connection) CreateSession(ctx context.Context) (core.Session, error) {
	return &session{conn: c}, nil
}

func (c *connection) Close() error { return nil }

type session struct {
	conn *connection
}

func (s *session) CreateProducer(ctx context.Context, dest core.Destination) (core.Producer, error) {
	f := s.conn.factory
	w := &kafka.Writer{
		Addr:                   kafka.TCP(f.brokers...),
		Topic:                  dest.Name,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	if f.mech != nil {
		w.Transport = &kafka.Transport{SASL: f.mech, ClientID: s.conn.clientID}
	}
	return &producer{writer: w}, nil
}

func (s *session) CreateConsumer(ctx context.Context, dest core.Destination, opts core.ConsumerOptions) (core.Consumer, error) {
	group, startOffset, err := groupID(dest, s.conn.clientID, opts)
	if err != nil {
		return nil, err
	}
	f := s.conn.factory
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     f.brokers,
		Topic:       dest.Name,
		GroupID:     group,
		StartOffset: startOffset,
		Dialer:      f.dialer(s.conn.clientID),
		MaxWait:     500 * time.Millisecond,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return &consumer{reader: r, dest: dest}, nil
}

// groupID picks the consumer group for dest. Non-durable topic subscribers
// get a throwaway group that starts at the newest offset.
func groupID(dest core.Destination, clientID string, opts core.ConsumerOptions) (string, int64, error) {
	if !dest.PubSub {
		return dest.Name, kafka.FirstOffset, nil
	}
	if opts.Durable {
		if clientID == "" {
			return "", 0, fmt.Errorf("%w: destination=%s", core.ErrClientIDRequired, dest)
		}
		sub := opts.SubscriptionName
		if sub == "" {
			sub = dest.Name
		}
		return clientID + "." + sub, kafka.FirstOffset, nil
	}
	prefix := clientID
	if prefix == "" {
		prefix = "jms-bridge"
	}
	return prefix + "." + dest.Name + "." + uuid.NewString(), kafka.LastOffset, nil
}

func (s *session) Close(ctx context.Context) error { return nil }

type producer struct {
	writer *kafka.Writer
}

func (p *producer) Send(ctx context.Context, msg *core.Message) error {
	km, err := toKafka(msg)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, km)
}

func (p *producer) Close(ctx context.Context) error {
	return p.writer.Close()
}

type consumer struct {
	reader *kafka.Reader
	dest   core.Destination
}

// Receive fetches without committing. Ack commits the offset; Nack leaves
// it uncommitted so the message is read again after a rebalance or restart.
func (c *consumer) Receive(ctx context.Context) (*core.Delivery, error) {
	for {
		km, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return nil, err
		}
		msg, err := fromKafka(c.dest, km)
		if err != nil {
			// Undecodable records are skipped by committing past them.
			_ = c.reader.CommitMessages(ctx, km)
			continue
		}
		return &core.Delivery{
			Message: msg,
			Ack:     func() error { return c.reader.CommitMessages(context.Background(), km) },
			Nack:    func() error { return nil },
		}, nil
	}
}

func (c *consumer) Close(ctx context.Context) error {
	return c.reader.Close()
}

func toKafka(msg *core.Message) (kafka.Message, error) {
	body, err := wire.Body(msg)
	if err != nil {
		return kafka.Message{}, err
	}
	h := wire.Headers(msg)
	headers := make([]kafka.Header, 0, len(h))
	for k, v := range h {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return kafka.Message{
		Key:     []byte(msg.ID),
		Value:   body,
		Headers: headers,
		Time:    msg.Timestamp,
	}, nil
}

func fromKafka(dest core.Destination, km kafka.Message) (*core.Message, error) {
	h := make(map[string]string, len(km.Headers))
	for _, kh := range km.Headers {
		h[kh.Key] = string(kh.Value)
	}
	msg, err := wire.FromHeaders(dest, h, km.Value)
	if err != nil {
		return nil, err
	}
	if msg.ID == "" {
		msg.ID = string(km.Key)
	}
	if _, ok := h[wire.HeaderTimestamp]; !ok && !km.Time.IsZero() {
		msg.Timestamp = km.Time
	}
	return msg, nil
}

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

package mqtt5

import (
	"errors"
	"testing"

	"github.com/eclipse/paho.golang/paho"

	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/core"
)

func TestNewValidatesURL(t *testing.T) {
	for _, ok := range []string{"mqtt://localhost:1883", "tcp://artemis:1883", "ws://artemis:61614/mqtt"} {
		if _, err := New(Config{URL: ok}); err != nil {
			t.Errorf("New(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{"", "amqp://localhost:5672", "mqtt://"} {
		if _, err := New(Config{URL: bad}); !errors.Is(err, core.ErrInvalidBrokerURL) {
			t.Errorf("New(%q) error = %v, want ErrInvalidBrokerURL", bad, err)
		}
	}
}

func TestSubscriptionFilter(t *testing.T) {
	if got := subscriptionFilter(core.Topic("prices")); got != "prices" {
		t.Errorf("topic filter = %q", got)
	}
	if got := subscriptionFilter(core.Queue("orders")); got != "$share/orders/orders" {
		t.Errorf("queue filter = %q", got)
	}
}

func TestClientConfigSessionPersistence(t *testing.T) {
	f, err := New(Config{URL: "mqtt://localhost:1883", Username: "u", Password: "p"})
	if err != nil {
		t.Fatal(err)
	}
	conn := &connection{consumers: map[*consumer]struct{}{}}

	cfg := f.clientConfig("reader-1", conn)
	if cfg.ClientConfig.ClientID != "reader-1" || cfg.CleanStartOnInitialConnection {
		t.Errorf("fixed client id should resume its session: %+v", cfg.ClientConfig)
	}
	if cfg.SessionExpiryInterval != persistentSessionExpiry {
		t.Errorf("session expiry = %d", cfg.SessionExpiryInterval)
	}
	if cfg.ConnectUsername != "u" || string(cfg.ConnectPassword) != "p" {
		t.Errorf("credentials not set")
	}

	cfg = f.clientConfig("", conn)
	if cfg.ClientConfig.ClientID == "" || !cfg.CleanStartOnInitialConnection {
		t.Errorf("anonymous client should start clean with a generated id: %+v", cfg.ClientConfig)
	}
}

func TestDispatchRoutesByTopic(t *testing.T) {
	conn := &connection{consumers: map[*consumer]struct{}{}}
	prices := &consumer{conn: conn, dest: core.Topic("prices"), ch: make(chan *paho.Publish, 1), done: make(chan struct{})}
	orders := &consumer{conn: conn, dest: core.Queue("orders"), ch: make(chan *paho.Publish, 1), done: make(chan struct{})}
	conn.consumers[prices] = struct{}{}
	conn.consumers[orders] = struct{}{}

	if !conn.dispatch(&paho.Publish{Topic: "prices"}) {
		t.Fatal("publish on prices was not taken")
	}
	if len(prices.ch) != 1 || len(orders.ch) != 0 {
		t.Errorf("routing wrong: prices=%d orders=%d", len(prices.ch), len(orders.ch))
	}
	if conn.dispatch(&paho.Publish{Topic: "unknown"}) {
		t.Error("publish on unknown topic reported as handled")
	}
}

func TestPublishRoundTrip(t *testing.T) {
	in := &core.Message{ID: "ID:9", CorrelationID: "c-1", Type: core.BodyText, Payload: []byte("ping"),
		ContentType: core.ContentTypeText, Properties: map[string]any{"region": "eu"}}
	pub, err := toPublish(in, core.Topic("prices"))
	if err != nil {
		t.Fatal(err)
	}
	if pub.Topic != "prices" || pub.QoS != 1 {
		t.Errorf("publish = %+v", pub)
	}
	if got := pub.Properties.User.Get("jms_message_id"); got != "ID:9" {
		t.Errorf("user property jms_message_id = %q", got)
	}
	out, err := fromPublish(core.Topic("prices"), pub)
	if err != nil {
		t.Fatal(err)
	}
	if out.ID != "ID:9" || out.CorrelationID != "c-1" || out.Type != core.BodyText || string(out.Payload) != "ping" {
		t.Errorf("decoded = %+v", out)
	}
	if out.Properties["region"] != "eu" {
		t.Errorf("properties = %v", out.Properties)
	}
}

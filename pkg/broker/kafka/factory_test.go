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

package kafka

import (
	"errors"
	"strings"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/core"
)

func TestParseBrokers(t *testing.T) {
	got, err := parseBrokers("kafka://k1:9092, k2:9093/")
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9093"}, got)

	for _, bad := range []string{"", "tcp://k1:9092", "kafka://", "kafka://k1", "kafka://:9092"} {
		_, err := parseBrokers(bad)
		assert.True(t, errors.Is(err, core.ErrInvalidBrokerURL), "url %q", bad)
	}
}

func TestNewConfiguresSASL(t *testing.T) {
	f, err := New(Config{URL: "kafka://k1:9092"})
	require.NoError(t, err)
	assert.Nil(t, f.mech)

	f, err = New(Config{URL: "kafka://k1:9092", Username: "u", Password: "p"})
	require.NoError(t, err)
	require.NotNil(t, f.mech)
	assert.Equal(t, "PLAIN", f.mech.Name())
}

func TestGroupID(t *testing.T) {
	g, off, err := groupID(core.Queue("orders"), "reader-1", core.ConsumerOptions{})
	require.NoError(t, err)
	assert.Equal(t, "orders", g)
	assert.Equal(t, kafka.FirstOffset, off)

	g, _, err = groupID(core.Topic("prices"), "reader-1", core.ConsumerOptions{Durable: true, SubscriptionName: "sub"})
	require.NoError(t, err)
	assert.Equal(t, "reader-1.sub", g)

	g1, off, err := groupID(core.Topic("prices"), "", core.ConsumerOptions{})
	require.NoError(t, err)
	g2, _, _ := groupID(core.Topic("prices"), "", core.ConsumerOptions{})
	assert.NotEqual(t, g1, g2)
	assert.True(t, strings.HasPrefix(g1, "jms-bridge.prices."))
	assert.Equal(t, kafka.LastOffset, off)

	_, _, err = groupID(core.Topic("prices"), "", core.ConsumerOptions{Durable: true})
	assert.ErrorIs(t, err, core.ErrClientIDRequired)
}

func TestKafkaMessageRoundTrip(t *testing.T) {
	in := &core.Message{ID: "ID:7", Type: core.BodyText, Payload: []byte("ping"), Properties: map[string]any{"a": "b"}}
	km, err := toKafka(in)
	require.NoError(t, err)
	assert.Equal(t, []byte("ID:7"), km.Key)

	out, err := fromKafka(core.Queue("orders"), km)
	require.NoError(t, err)
	assert.Equal(t, "ID:7", out.ID)
	assert.Equal(t, core.BodyText, out.Type)
	assert.Equal(t, "ping", string(out.Payload))
	assert.Equal(t, "b", out.Properties["a"])
	assert.Equal(t, core.Queue("orders"), out.Destination)
}

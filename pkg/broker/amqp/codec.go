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

package amqp

import (
	"fmt"
	"strings"
	"time"

	"github.com/Azure/go-amqp"

	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/core"
)

const (
	topicPrefix = "topic://"
	queuePrefix = "queue://"

	// Message annotations understood by ActiveMQ's AMQP-JMS mapping.
	annotationMsgType = "x-opt-jms-msg-type"
	annotationDest    = "x-opt-jms-dest"

	jmsMapMessage   int8 = 2
	jmsBytesMessage int8 = 3
	jmsTextMessage  int8 = 5

	jmsQueue int8 = 0
	jmsTopic int8 = 1

	receiverCredit = 1
)

func address(dest core.Destination) string {
	if dest.PubSub {
		return topicPrefix + dest.Name
	}
	return dest.Name
}

func parseAddress(addr string) core.Destination {
	switch {
	case strings.HasPrefix(addr, topicPrefix):
		return core.Topic(strings.TrimPrefix(addr, topicPrefix))
	case strings.HasPrefix(addr, queuePrefix):
		return core.Queue(strings.TrimPrefix(addr, queuePrefix))
	default:
		return core.Queue(addr)
	}
}

func receiverOptions(dest core.Destination, opts core.ConsumerOptions) (*amqp.ReceiverOptions, error) {
	ro := &amqp.ReceiverOptions{
		Credit:             receiverCredit,
		SourceCapabilities: []string{dest.Domain()},
	}
	if !opts.Durable {
		return ro, nil
	}
	if !dest.PubSub {
		return nil, fmt.Errorf("%w: durable subscription on queue %s", core.ErrInvalidConfig, dest.Name)
	}
	ro.Name = opts.SubscriptionName
	if ro.Name == "" {
		ro.Name = dest.Name
	}
	ro.Durability = amqp.DurabilityUnsettledState
	ro.ExpiryPolicy = amqp.ExpiryPolicyNever
	return ro, nil
}

func toAMQP(msg *core.Message, dest core.Destination) (*amqp.Message, error) {
	to := address(dest)
	created := msg.Timestamp
	if created.IsZero() {
		created = time.Now().UTC()
	}
	m := &amqp.Message{
		Header: &amqp.MessageHeader{Durable: true},
		Properties: &amqp.MessageProperties{
			To:           &to,
			CreationTime: &created,
		},
		Annotations:           amqp.Annotations{},
		ApplicationProperties: msg.Properties,
	}
	if msg.ID != "" {
		m.Properties.MessageID = msg.ID
	}
	if msg.CorrelationID != "" {
		m.Properties.CorrelationID = msg.CorrelationID
	}
	if msg.ContentType != "" {
		ct := msg.ContentType
		m.Properties.ContentType = &ct
	}
	if dest.PubSub {
		m.Annotations[annotationDest] = jmsTopic
	} else {
		m.Annotations[annotationDest] = jmsQueue
	}

	switch msg.Type {
	case core.BodyText:
		m.Value = string(msg.Payload)
		m.Annotations[annotationMsgType] = jmsTextMessage
	case core.BodyBytes:
		m.Data = [][]byte{msg.Payload}
		m.Annotations[annotationMsgType] = jmsBytesMessage
	case core.BodyMap:
		body := msg.Map
		if body == nil {
			body = map[string]any{}
		}
		m.Value = body
		m.Annotations[annotationMsgType] = jmsMapMessage
	default:
		return nil, fmt.Errorf("%w: body type %d", core.ErrUnsupportedPayload, msg.Type)
	}
	return m, nil
}

func fromAMQP(m *amqp.Message) *core.Message {
	msg := &core.Message{
		Properties:    m.ApplicationProperties,
		Timestamp:     time.Now().UTC(),
		DeliveryCount: 1,
	}
	if p := m.Properties; p != nil {
		if p.MessageID != nil {
			msg.ID = fmt.Sprint(p.MessageID)
		}
		if p.CorrelationID != nil {
			msg.CorrelationID = fmt.Sprint(p.CorrelationID)
		}
		if p.ContentType != nil {
			msg.ContentType = *p.ContentType
		}
		if p.CreationTime != nil {
			msg.Timestamp = *p.CreationTime
		}
		if p.To != nil {
			msg.Destination = parseAddress(*p.To)
		}
	}
	if m.Header != nil {
		msg.DeliveryCount = m.Header.DeliveryCount + 1
	}

	switch v := m.Value.(type) {
	case string:
		msg.Type = core.BodyText
		msg.Payload = []byte(v)
	case []byte:
		msg.Type = core.BodyBytes
		msg.Payload = v
	case map[string]any:
		msg.Type = core.BodyMap
		msg.Map = v
	case map[any]any:
		msg.Type = core.BodyMap
		msg.Map = make(map[string]any, len(v))
		for k, val := range v {
			msg.Map[fmt.Sprint(k)] = val
		}
	case nil:
		msg.Payload = m.GetData()
		msg.Type = core.BodyBytes
		if msgType(m) == jmsTextMessage || core.BodyTypeFromContentType(msg.ContentType) == core.BodyText {
			msg.Type = core.BodyText
		}
	default:
		msg.Type = core.BodyText
		msg.Payload = []byte(fmt.Sprint(v))
	}
	return msg
}

func msgType(m *amqp.Message) int8 {
	for k, v := range m.Annotations {
		if fmt.Sprint(k) != annotationMsgType {
			continue
		}
		switch t := v.(type) {
		case int8:
			return t
		case uint8:
			return int8(t)
		}
	}
	return -1
}

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

// Package wire encodes messages for transports that only carry a byte body
// and string headers.
package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/core"
)

const (
	HeaderMessageID     = "jms_message_id"
	HeaderCorrelationID = "jms_correlation_id"
	HeaderTimestamp     = "jms_timestamp"
	HeaderContentType   = "content_type"
	HeaderDestination   = "jms_destination"
)

// Body returns the bytes carried on the wire for msg. Map bodies are JSON.
func Body(msg *core.Message) ([]byte, error) {
	switch msg.Type {
	case core.BodyText, core.BodyBytes:
		return msg.Payload, nil
	case core.BodyMap:
		body := msg.Map
		if body == nil {
			body = map[string]any{}
		}
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: map body: %v", core.ErrUnsupportedPayload, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: body type %d", core.ErrUnsupportedPayload, msg.Type)
	}
}

// SetBody fills msg's body from data according to t.
func SetBody(msg *core.Message, t core.BodyType, data []byte) error {
	msg.Type = t
	if t != core.BodyMap {
		msg.Payload = data
		return nil
	}
	msg.Map = map[string]any{}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &msg.Map); err != nil {
		return fmt.Errorf("%w: map body: %v", core.ErrUnsupportedPayload, err)
	}
	return nil
}

// Headers flattens msg's metadata and properties into string headers.
func Headers(msg *core.Message) map[string]string {
	h := make(map[string]string, len(msg.Properties)+6)
	for k, v := range msg.Properties {
		h[k] = fmt.Sprint(v)
	}
	h[core.PropertyBodyType] = msg.Type.String()
	h[HeaderMessageID] = msg.ID
	h[HeaderDestination] = msg.Destination.String()
	if msg.CorrelationID != "" {
		h[HeaderCorrelationID] = msg.CorrelationID
	}
	if msg.ContentType != "" {
		h[HeaderContentType] = msg.ContentType
	}
	if !msg.Timestamp.IsZero() {
		h[HeaderTimestamp] = strconv.FormatInt(msg.Timestamp.UnixMilli(), 10)
	}
	return h
}

// FromHeaders rebuilds a message from headers written by Headers. Unknown
// headers become properties.
func FromHeaders(dest core.Destination, h map[string]string, data []byte) (*core.Message, error) {
	msg := &core.Message{
		Destination:   dest,
		Timestamp:     time.Now().UTC(),
		DeliveryCount: 1,
	}
	bodyType := core.BodyBytes
	for k, v := range h {
		switch k {
		case core.PropertyBodyType:
			bodyType = core.ParseBodyType(v)
		case HeaderMessageID:
			msg.ID = v
		case HeaderCorrelationID:
			msg.CorrelationID = v
		case HeaderContentType:
			msg.ContentType = v
		case HeaderDestination:
		case HeaderTimestamp:
			if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
				msg.Timestamp = time.UnixMilli(ms).UTC()
			}
		default:
			if msg.Properties == nil {
				msg.Properties = make(map[string]any)
			}
			msg.Properties[k] = v
		}
	}
	if _, ok := h[core.PropertyBodyType]; !ok && msg.ContentType != "" {
		bodyType = core.BodyTypeFromContentType(msg.ContentType)
	}
	if err := SetBody(msg, bodyType, data); err != nil {
		return nil, err
	}
	return msg, nil
}

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
	"fmt"

	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/core"
)

// MessageConverter translates between application payloads and broker messages.
type MessageConverter interface {
	ToMessage(payload any) (*core.Message, error)
	FromMessage(msg *core.Message) (any, error)
}

// SimpleMessageConverter maps string to a text body, []byte to a bytes body
// and map[string]any to a map body. A *core.Message passes through as is.
type SimpleMessageConverter struct{}

func (SimpleMessageConverter) ToMessage(payload any) (*core.Message, error) {
	switch p := payload.(type) {
	case *core.Message:
		if p == nil {
			return nil, fmt.Errorf("%w: nil message", core.ErrUnsupportedPayload)
		}
		return p, nil
	case string:
		return &core.Message{Type: core.BodyText, Payload: []byte(p), ContentType: core.ContentTypeText}, nil
	case []byte:
		return &core.Message{Type: core.BodyBytes, Payload: p, ContentType: core.ContentTypeBytes}, nil
	case map[string]any:
		return &core.Message{Type: core.BodyMap, Map: p, ContentType: core.ContentTypeMap}, nil
	default:
		return nil, fmt.Errorf("%w: %T", core.ErrUnsupportedPayload, payload)
	}
}

func (SimpleMessageConverter) FromMessage(msg *core.Message) (any, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", core.ErrUnsupportedPayload)
	}
	switch msg.Type {
	case core.BodyText:
		return string(msg.Payload), nil
	case core.BodyMap:
		if msg.Map == nil {
			return map[string]any{}, nil
		}
		return msg.Map, nil
	case core.BodyBytes:
		return msg.Payload, nil
	default:
		return nil, fmt.Errorf("%w: body type %d", core.ErrUnsupportedPayload, msg.Type)
	}
}

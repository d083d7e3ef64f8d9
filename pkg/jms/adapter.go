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
	"context"
	"errors"
	"fmt"

	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/core"
)

// HandlerFunc receives the converted payload of one message.
type HandlerFunc func(ctx context.Context, payload any) error

// MessageListener is what a ListenerContainer dispatches deliveries to.
type MessageListener interface {
	OnMessage(ctx context.Context, msg *core.Message) error
}

// MessageListenerAdapter binds a handler and a converter once, at wiring
// time; OnMessage only converts and calls.
type MessageListenerAdapter struct {
	handler   HandlerFunc
	converter MessageConverter
}

func NewMessageListenerAdapter(handler HandlerFunc, converter MessageConverter) (*MessageListenerAdapter, error) {
	if handler == nil {
		return nil, errors.New("listener adapter: nil handler")
	}
	if converter == nil {
		converter = SimpleMessageConverter{}
	}
	return &MessageListenerAdapter{handler: handler, converter: converter}, nil
}

func (a *MessageListenerAdapter) OnMessage(ctx context.Context, msg *core.Message) error {
	payload, err := a.converter.FromMessage(msg)
	if err != nil {
		return fmt.Errorf("convert message: %w", err)
	}
	return a.handler(ctx, payload)
}

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

package logging

import (
	"log/slog"

	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/core"
)

// MessageLogger traces messages crossing the broker boundary at debug level.
type MessageLogger struct {
	logger *slog.Logger
}

func NewMessageLogger(logger *slog.Logger) *MessageLogger {
	return &MessageLogger{logger: logger}
}

func (m *MessageLogger) Log(msg *core.Message, direction string) {
	if m == nil || msg == nil {
		return
	}
	m.logger.Debug("message",
		"message_id", msg.ID,
		"destination", msg.Destination.Name,
		"domain", msg.Destination.Domain(),
		"direction", direction,
		"body_type", msg.Type.String(),
		"payload_size", len(msg.Payload),
		"delivery_count", msg.DeliveryCount,
		"timestamp", msg.Timestamp,
	)
}

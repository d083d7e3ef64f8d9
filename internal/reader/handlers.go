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

package reader

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/core"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/jms"
)

// loggingHandler logs each payload received on dest and mirrors it to tap.
func loggingHandler(logger *slog.Logger, dest core.Destination, tap *Tap) jms.HandlerFunc {
	return func(ctx context.Context, payload any) error {
		logger.Info(fmt.Sprintf("received from %s", dest.Domain()),
			"destination", dest.Name,
			"payload", describe(payload),
		)
		if tap != nil {
			tap.Publish(dest, payload)
		}
		return nil
	}
}

func describe(payload any) string {
	switch p := payload.(type) {
	case string:
		return p
	case []byte:
		return fmt.Sprintf("%d bytes", len(p))
	default:
		return fmt.Sprint(p)
	}
}

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

package core

import "context"

// ConnectionFactory opens physical connections to a broker. A non-empty
// clientID pins the connection identity required by durable subscriptions.
type ConnectionFactory interface {
	CreateConnection(ctx context.Context, clientID string) (Connection, error)
	Provider() string
}

type Connection interface {
	CreateSession(ctx context.Context) (Session, error)
	Close() error
}

type Session interface {
	CreateProducer(ctx context.Context, dest Destination) (Producer, error)
	CreateConsumer(ctx context.Context, dest Destination, opts ConsumerOptions) (Consumer, error)
	Close(ctx context.Context) error
}

type Producer interface {
	Send(ctx context.Context, msg *Message) error
	Close(ctx context.Context) error
}

type Consumer interface {
	Receive(ctx context.Context) (*Delivery, error)
	Close(ctx context.Context) error
}

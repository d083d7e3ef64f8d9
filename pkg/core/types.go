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

import "time"

type BodyType int

const (
	BodyBytes BodyType = iota
	BodyText
	BodyMap
)

func (b BodyType) String() string {
	switch b {
	case BodyText:
		return "text"
	case BodyMap:
		return "map"
	default:
		return "bytes"
	}
}

// ParseBodyType is the inverse of BodyType.String. Unknown names map to
// BodyBytes.
func ParseBodyType(s string) BodyType {
	switch s {
	case "text":
		return BodyText
	case "map":
		return BodyMap
	default:
		return BodyBytes
	}
}

// Destination names a queue or a topic. PubSub is true for topics.
type Destination struct {
	Name   string `json:"name"`
	PubSub bool   `json:"pub_sub"`
}

func Topic(name string) Destination { return Destination{Name: name, PubSub: true} }
func Queue(name string) Destination { return Destination{Name: name} }

// Domain returns "topic" or "queue".
func (d Destination) Domain() string {
	if d.PubSub {
		return "topic"
	}
	return "queue"
}

func (d Destination) String() string {
	return d.Domain() + "://" + d.Name
}

type Message struct {
	ID            string         `json:"id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Destination   Destination    `json:"destination"`
	Type          BodyType       `json:"type"`
	Payload       []byte         `json:"payload,omitempty"`
	Map           map[string]any `json:"map,omitempty"`
	ContentType   string         `json:"content_type,omitempty"`
	Properties    map[string]any `json:"properties,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	DeliveryCount uint32         `json:"delivery_count,omitempty"`
}

// Delivery is a received message plus its settlement callbacks.
// Nack hands the message back to the broker for redelivery.
type Delivery struct {
	Message *Message
	Ack     func() error
	Nack    func() error
}

type ConsumerOptions struct {
	Durable          bool
	SubscriptionName string
}

const (
	ContentTypeText  = "text/plain; charset=utf-8"
	ContentTypeBytes = "application/octet-stream"
	ContentTypeMap   = "application/json"

	// PropertyBodyType carries the BodyType on providers whose wire format
	// has no native notion of text, bytes and map bodies.
	PropertyBodyType = "jms_body_type"
)

// BodyTypeFromContentType maps a content type back to a BodyType.
func BodyTypeFromContentType(contentType string) BodyType {
	switch contentType {
	case ContentTypeText, "text/plain":
		return BodyText
	case ContentTypeMap:
		return BodyMap
	default:
		return BodyBytes
	}
}

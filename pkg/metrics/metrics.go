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

// Package metrics holds the prometheus collectors shared by the reader and
// writer. Every method is safe to call on a nil *Metrics so components can
// run without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/core"
)

const (
	namespaceJMS      = "jms"
	namespaceExecutor = "executor"
)

var destinationLabels = []string{"destination", "domain"}

type Metrics struct {
	registry *prometheus.Registry

	received       *prometheus.CounterVec
	sent           *prometheus.CounterVec
	listenerErrors *prometheus.CounterVec
	sendErrors     *prometheus.CounterVec
	sessionIdle    prometheus.Gauge
	connections    prometheus.Counter

	poolSize   prometheus.Gauge
	active     prometheus.Gauge
	queueDepth prometheus.Gauge
	rejected   prometheus.Counter
}

// New registers all collectors on a fresh registry labelled with the
// service name ("reader" or "writer").
func New(service string) *Metrics {
	labels := prometheus.Labels{"service": service}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceJMS, Name: "messages_received_total",
			Help: "Messages delivered to a listener", ConstLabels: labels,
		}, destinationLabels),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceJMS, Name: "messages_sent_total",
			Help: "Messages sent through a template", ConstLabels: labels,
		}, destinationLabels),
		listenerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceJMS, Name: "listener_errors_total",
			Help: "Conversion or handler failures", ConstLabels: labels,
		}, destinationLabels),
		sendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceJMS, Name: "send_errors_total",
			Help: "Failed template sends", ConstLabels: labels,
		}, destinationLabels),
		sessionIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceJMS, Name: "session_cache_idle",
			Help: "Idle sessions held by the caching connection factory", ConstLabels: labels,
		}),
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceJMS, Name: "physical_connections_total",
			Help: "Physical broker connections opened", ConstLabels: labels,
		}),
		poolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceExecutor, Name: "pool_size",
			Help: "Live workers", ConstLabels: labels,
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceExecutor, Name: "active_workers",
			Help: "Workers currently running a task", ConstLabels: labels,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceExecutor, Name: "queue_depth",
			Help: "Tasks waiting for a worker", ConstLabels: labels,
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceExecutor, Name: "rejected_total",
			Help: "Tasks rejected because the pool was saturated", ConstLabels: labels,
		}),
	}

	m.registry.MustRegister(
		m.received, m.sent, m.listenerErrors, m.sendErrors,
		m.sessionIdle, m.connections,
		m.poolSize, m.active, m.queueDepth, m.rejected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) MessageReceived(d core.Destination) {
	if m != nil {
		m.received.WithLabelValues(d.Name, d.Domain()).Inc()
	}
}

func (m *Metrics) MessageSent(d core.Destination) {
	if m != nil {
		m.sent.WithLabelValues(d.Name, d.Domain()).Inc()
	}
}

func (m *Metrics) ListenerError(d core.Destination) {
	if m != nil {
		m.listenerErrors.WithLabelValues(d.Name, d.Domain()).Inc()
	}
}

func (m *Metrics) SendError(d core.Destination) {
	if m != nil {
		m.sendErrors.WithLabelValues(d.Name, d.Domain()).Inc()
	}
}

func (m *Metrics) SessionCacheIdle(n int) {
	if m != nil {
		m.sessionIdle.Set(float64(n))
	}
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) PoolStats(size, active, queued int) {
	if m == nil {
		return
	}
	m.poolSize.Set(float64(size))
	m.active.Set(float64(active))
	m.queueDepth.Set(float64(queued))
}

func (m *Metrics) TaskRejected() {
	if m != nil {
		m.rejected.Inc()
	}
}

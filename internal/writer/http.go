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

package writer

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/core"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/executor"
	"github.com/wso2/api-platform/gateway/jms-bridge/pkg/jms"
)

const maxBody = 1 << 20

type sendResponse struct {
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Handler serves POST /topic, POST /queue, /healthz and /metrics.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/topic", a.handleSend(a.topic))
	mux.HandleFunc("/queue", a.handleSend(a.queue))
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.Handle("/metrics", a.metrics.Handler())
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v sendResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !a.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, sendResponse{Status: "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Status: "ok"})
}

// payloadFor turns a request body into a text payload for textual content
// types and a bytes payload otherwise.
func payloadFor(contentType string, body []byte) any {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return body
	}
	if strings.HasPrefix(mt, "text/") || mt == "application/json" {
		return string(body)
	}
	return body
}

func (a *App) handleSend(tmpl *jms.Template) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		defer r.Body.Close()
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, sendResponse{Status: "rejected", Error: "body too large"})
				return
			}
			writeJSON(w, http.StatusBadRequest, sendResponse{Status: "rejected", Error: "bad request"})
			return
		}
		payload := payloadFor(r.Header.Get("Content-Type"), body)

		if r.URL.Query().Get("async") == "false" {
			a.sendSync(w, r, tmpl, payload)
			return
		}

		if _, err := jms.SendAsync(a.pool, tmpl, payload); err != nil {
			if errors.Is(err, executor.ErrPoolSaturated) || errors.Is(err, executor.ErrPoolShutdown) {
				writeJSON(w, http.StatusServiceUnavailable, sendResponse{Status: "rejected", Error: err.Error()})
				return
			}
			writeJSON(w, http.StatusInternalServerError, sendResponse{Status: "error", Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, sendResponse{Status: "accepted"})
	}
}

func (a *App) sendSync(w http.ResponseWriter, r *http.Request, tmpl *jms.Template, payload any) {
	msg, err := tmpl.Convert(payload)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, sendResponse{Status: "rejected", Error: err.Error()})
		return
	}
	if err := tmpl.SendMessage(r.Context(), msg); err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, core.ErrFactoryClosed) {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, sendResponse{Status: "error", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Status: "sent", ID: msg.ID})
}

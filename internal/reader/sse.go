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
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// ServeEvents streams tap events as server-sent events until the client
// goes away or the tap closes.
func (t *Tap) ServeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := t.add(r.RemoteAddr, "sse")
	defer func() {
		t.remove(client)
		t.logger.Info("tap client disconnected", "remote", r.RemoteAddr)
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case data, ok := <-client.send:
			if !ok {
				return
			}
			fmt.Fprintf(w, "id: %s\ndata: %s\n\n", uuid.NewString(), data)
			flusher.Flush()
		}
	}
}

// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package phimask

import (
	"net/http"
	"runtime"

	"github.com/antflydb/phimask/lib/schema"
	"github.com/bytedance/sonic/encoder"
)

// Version information - set at build time via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// HealthResponse is the response for /healthz endpoint
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the response for /readyz endpoint
type ReadyResponse struct {
	Status     string          `json:"status"`
	Components ReadyComponents `json:"components"`
	Queue      QueueStats      `json:"queue"`
}

// ReadyComponents shows which optional components are loaded
type ReadyComponents struct {
	Deidentifier bool   `json:"deidentifier"`
	Tokenizer    string `json:"tokenizer,omitempty"`
	Model        bool   `json:"model"`
	Labels       int    `json:"labels"`
}

// VersionResponse is the response for /api/version
type VersionResponse struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// handleHealthz returns 200 if the service is running (liveness check)
func (n *Node) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = encoder.NewStreamEncoder(w).Encode(HealthResponse{Status: "ok"})
}

// handleReadyz returns 200 once the de-identification engine is available.
// Alignment and recognition are optional and reported per component.
func (n *Node) handleReadyz(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{
		Status: "ready",
		Components: ReadyComponents{
			Deidentifier: n.deid != nil,
			Tokenizer:    n.tokenizerName,
			Model:        n.model != nil,
			Labels:       schema.Default().Size(),
		},
		Queue: n.requestQueue.Stats(),
	}

	status := http.StatusOK
	if n.deid == nil {
		resp.Status = "not_ready"
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = encoder.NewStreamEncoder(w).Encode(resp)
}

func (n *Node) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, n.logger, http.StatusOK, VersionResponse{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	})
}

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

// Package hugot opens Hugot inference sessions for the PHI tagger.
//
// The pure Go runtime is always compiled in. Building with
// -tags="onnx,ORT" adds ONNX Runtime, which is then preferred.
package hugot

import (
	"fmt"
	"slices"
	"strings"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
)

// BackendType names an inference runtime.
type BackendType string

const (
	BackendGo   BackendType = "go"
	BackendONNX BackendType = "onnx"
)

// DeviceType selects the hardware a session runs on.
type DeviceType string

const (
	DeviceAuto DeviceType = "auto"
	DeviceCUDA DeviceType = "cuda"
	DeviceCPU  DeviceType = "cpu"
)

type runtimeFactory struct {
	name string
	// rank orders runtimes; lower is preferred.
	rank int
	open func(device DeviceType, opts ...options.WithOption) (*hugot.Session, error)
}

// runtimes is filled during package init only.
var runtimes = map[BackendType]runtimeFactory{
	BackendGo: {
		name: "goMLX (pure Go)",
		rank: 100,
		open: func(_ DeviceType, opts ...options.WithOption) (*hugot.Session, error) {
			return hugot.NewGoSession(opts...)
		},
	},
}

// Compiled lists the runtimes built into this binary, preferred first.
func Compiled() []BackendType {
	out := make([]BackendType, 0, len(runtimes))
	for t := range runtimes {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b BackendType) int {
		return runtimes[a].rank - runtimes[b].rank
	})
	return out
}

// Describe returns a readable name for t.
func Describe(t BackendType) string {
	if f, ok := runtimes[t]; ok {
		return f.name
	}
	return string(t) + " (not compiled in)"
}

// NewSession opens a session on preferred, or on the best compiled runtime
// when preferred is empty or was not built in. It reports the runtime used.
func NewSession(preferred BackendType, device DeviceType, opts ...options.WithOption) (*hugot.Session, BackendType, error) {
	chosen := preferred
	if _, ok := runtimes[chosen]; !ok {
		chosen = Compiled()[0]
	}
	f := runtimes[chosen]
	session, err := f.open(device, opts...)
	if err != nil {
		return nil, "", fmt.Errorf("opening %s session: %w", f.name, err)
	}
	return session, chosen, nil
}

// ParseBackendType parses a --backend value. Empty selects the best
// compiled runtime.
func ParseBackendType(s string) (BackendType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "onnx", "ort", "onnxruntime":
		return BackendONNX, nil
	case "go", "gomlx", "pure-go":
		return BackendGo, nil
	}
	return "", fmt.Errorf("invalid backend %q: expected go or onnx", s)
}

// ParseDeviceType parses a --device value.
func ParseDeviceType(s string) (DeviceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return DeviceAuto, nil
	case "cuda", "gpu":
		return DeviceCUDA, nil
	case "cpu", "off":
		return DeviceCPU, nil
	}
	return "", fmt.Errorf("invalid device %q: expected auto, cuda or cpu", s)
}

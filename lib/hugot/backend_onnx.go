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

//go:build onnx && ORT

package hugot

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
)

func init() {
	runtimes[BackendONNX] = runtimeFactory{
		name: "ONNX Runtime",
		rank: 10,
		open: openORTSession,
	}
}

func openORTSession(device DeviceType, opts ...options.WithOption) (*hugot.Session, error) {
	var base []options.WithOption
	if dir := ortLibraryDir(); dir != "" {
		base = append(base, options.WithOnnxLibraryPath(dir))
	}
	if device == DeviceCUDA {
		base = append(base, options.WithCuda(nil))
	}
	return hugot.NewORTSession(append(base, opts...)...)
}

// ortLibraryDir finds libonnxruntime under ONNXRUNTIME_ROOT, then on
// LD_LIBRARY_PATH. Empty lets onnxruntime_go use its default search.
func ortLibraryDir() string {
	const lib = "libonnxruntime.so"

	var candidates []string
	if root := os.Getenv("ONNXRUNTIME_ROOT"); root != "" {
		candidates = append(candidates,
			filepath.Join(root, runtime.GOOS+"-"+runtime.GOARCH, "lib"),
			filepath.Join(root, "lib"))
	}
	candidates = append(candidates, filepath.SplitList(os.Getenv("LD_LIBRARY_PATH"))...)

	for _, dir := range candidates {
		if _, err := os.Stat(filepath.Join(dir, lib)); err == nil {
			return dir
		}
	}
	return ""
}

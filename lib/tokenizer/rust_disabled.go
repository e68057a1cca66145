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

//go:build !onnx || !ORT

package tokenizer

import "github.com/gomlx/go-huggingface/tokenizers/api"

// Without the onnx and ORT tags tokenizer.json falls through to the Go backends.
func loadRustTokenizer(_ string, _ *api.Config) (Tokenizer, error) {
	return nil, nil
}

func rustTokenizerAvailable() bool {
	return false
}

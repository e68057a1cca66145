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

package tokenizer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)

	_, err = Load(t.TempDir())
	require.ErrorContains(t, err, "no tokenizer found")

	_, err = Load("tiktoken:not_an_encoding")
	require.Error(t, err)
}

func TestNormalizeTokenizerConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokenizer_config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"bos_token": {"__type": "AddedToken", "content": "<s>"},
		"eos_token": "</s>",
		"model_max_length": 4096
	}`), 0o644))

	out, err := normalizeTokenizerConfig(path)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	require.Equal(t, "<s>", got["bos_token"])
	require.Equal(t, "</s>", got["eos_token"])
	require.InDelta(t, 4096, got["model_max_length"], 0)
}

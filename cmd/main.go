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

// Command phimask aligns PHI annotations to token labels and de-identifies
// clinical text.
//
// Usage:
//
//	phimask pull --kind dataset nvidia/Nemotron-PII   # Download dataset shards
//	phimask filter -i shard.parquet -o notes.jsonl     # Keep Healthcare records
//	phimask preprocess -i notes.jsonl -o aligned.jsonl --tokenizer <dir>
//	phimask redact -i notes.jsonl -o redacted.jsonl --seed 42
//	phimask serve                                      # Start the API server
//	phimask labels                                     # Print the label vocabulary
package main

import (
	"io"

	json "github.com/antflydb/antfly-go/libaf/json"
	"github.com/antflydb/phimask"
	"github.com/antflydb/phimask/cmd/cmd"
	gojson "github.com/goccy/go-json"
)

func init() {
	// Shared antfly libraries encode through libaf/json; back it with goccy.
	json.SetConfig(json.Config{
		Marshal:   gojson.Marshal,
		Unmarshal: gojson.Unmarshal,
		MarshalString: func(v any) (string, error) {
			data, err := gojson.Marshal(v)
			if err != nil {
				return "", err
			}
			return string(data), nil
		},
		UnmarshalString: func(s string, v any) error {
			return gojson.Unmarshal([]byte(s), v)
		},
		NewEncoder: func(w io.Writer) json.Encoder {
			return gojson.NewEncoder(w)
		},
		NewDecoder: func(r io.Reader) json.Decoder {
			return gojson.NewDecoder(r)
		},
	})
}

// Set by GoReleaser ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cmd.Version = version
	phimask.Version = version
	phimask.GitCommit = commit
	phimask.BuildTime = date
	cmd.Execute()
}

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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/antflydb/phimask/lib/corpus"
	"github.com/antflydb/phimask/lib/pipelines"
	"github.com/antflydb/phimask/lib/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProgressEvery is how often batch runs log progress, in records.
const ProgressEvery = 500

// Report summarizes a batch run.
type Report struct {
	pipelines.Stats

	// Entities counts spans by entity type.
	Entities []corpus.CountEntry `json:"entities"`

	// DroppedSpans counts spans that overlapped no visible token.
	DroppedSpans int `json:"dropped_spans,omitempty"`

	// Truncated counts records whose tokens exceeded the max length, and
	// MaxTokens is the longest content length seen.
	Truncated int `json:"truncated,omitempty"`
	MaxTokens int `json:"max_tokens,omitempty"`
}

// sourceMapping resolves both dataset labels and canonical names.
var sourceMapping = schema.Nemotron().Merge(schema.Canonical())

// openRecords opens a JSONL or parquet corpus.
func openRecords(path string) (pipelines.Source[corpus.Record], func() error, error) {
	if strings.EqualFold(filepath.Ext(path), ".parquet") {
		records, err := corpus.ReadParquet(path)
		if err != nil {
			return nil, nil, err
		}
		return pipelines.FromSlice(records), func() error { return nil }, nil
	}
	r, err := corpus.Open[corpus.Record](path)
	if err != nil {
		return nil, nil, err
	}
	return r, r.Close, nil
}

// createOutput creates the output's directory and opens a locked writer.
func createOutput[T any](path string) (*corpus.Writer[T], error) {
	if path != "-" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating output directory: %w", err)
		}
	}
	return corpus.Create[T](path)
}

// prepareRecord applies the domain filter and fills a missing uid with a
// name-based UUID of the text, so reruns assign the same uid.
func prepareRecord(rec *corpus.Record, filter corpus.Filter) error {
	if !filter.Match(*rec) {
		return pipelines.ErrFiltered
	}
	if rec.Text == "" {
		return corpus.ErrEmptyText
	}
	if rec.UID == "" {
		rec.UID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(rec.Text)).String()
	}
	return nil
}

func logProgress(logger *zap.Logger, stage string) func(pipelines.Stats) {
	return func(s pipelines.Stats) {
		logger.Info("Progress",
			zap.String("stage", stage),
			zap.Int("read", s.Read),
			zap.Int("processed", s.Processed),
			zap.Int("skipped", s.Skipped),
			zap.Int("filtered", s.Filtered),
			zap.Duration("elapsed", s.Duration))
	}
}

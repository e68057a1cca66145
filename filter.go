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
	"context"
	"fmt"

	"github.com/antflydb/phimask/lib/corpus"
	"github.com/antflydb/phimask/lib/pipelines"
	"go.uber.org/zap"
)

// FilterConfig configures RunFilter.
type FilterConfig struct {
	// Input is a JSONL or parquet corpus, for example a pulled dataset
	// shard. Output is JSONL.
	Input  string
	Output string

	Domain        string
	DocumentTypes []string
	Workers       int
}

// RunFilter copies the records that match the domain and document types.
// Records without text are skipped and missing uids are filled in.
func RunFilter(ctx context.Context, logger *zap.Logger, cfg FilterConfig) (Report, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("filter")

	src, closeSrc, err := openRecords(cfg.Input)
	if err != nil {
		return Report{}, err
	}
	defer func() { _ = closeSrc() }()

	out, err := createOutput[corpus.Record](cfg.Output)
	if err != nil {
		return Report{}, err
	}
	defer func() { _ = out.Close() }()

	filter := corpus.Filter{Domain: cfg.Domain, DocumentTypes: cfg.DocumentTypes}
	newWorker := func(int) (pipelines.Worker[corpus.Record, corpus.Record], error) {
		return pipelines.WorkerFunc[corpus.Record, corpus.Record](func(_ context.Context, rec corpus.Record) (corpus.Record, error) {
			if err := prepareRecord(&rec, filter); err != nil {
				return rec, err
			}
			return rec, nil
		}), nil
	}

	entities := corpus.Counts{}
	sink := pipelines.SinkFunc[corpus.Record](func(rec corpus.Record) error {
		for _, s := range rec.Spans {
			if t, ok := sourceMapping.Resolve(s.Label); ok {
				entities.Add(string(t), 1)
			}
		}
		return out.Write(rec)
	})

	stats, err := pipelines.Run(ctx, src, sink, newWorker,
		pipelines.WithWorkers(cfg.Workers),
		pipelines.WithLogger(logger),
		pipelines.WithProgress(ProgressEvery, logProgress(logger, "filter")))
	report := Report{Stats: stats, Entities: entities.Sorted()}
	RecordStats("filter", stats.Processed, stats.Skipped)
	if err != nil {
		return report, err
	}
	if err := out.Close(); err != nil {
		return report, fmt.Errorf("closing output: %w", err)
	}

	logger.Info("Filter completed",
		zap.String("domain", cfg.Domain),
		zap.Int("kept", stats.Processed),
		zap.Int("filtered", stats.Filtered),
		zap.Int("skipped", stats.Skipped))
	return report, nil
}

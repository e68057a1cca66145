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
	"time"

	"github.com/antflydb/phimask/lib/align"
	"github.com/antflydb/phimask/lib/corpus"
	"github.com/antflydb/phimask/lib/pipelines"
	"github.com/antflydb/phimask/lib/tokenizer"
	"go.uber.org/zap"
)

// PreprocessConfig configures RunPreprocess.
type PreprocessConfig struct {
	Config

	// Input is a JSONL or parquet corpus; Output is a JSONL file of
	// corpus.AlignedRecord ("-" for stdout).
	Input  string
	Output string
}

type alignedRecord struct {
	rec       corpus.AlignedRecord
	aligned   []align.Span
	dropped   int
	tokens    int
	truncated bool
}

// RunPreprocess tokenizes every record, aligns its spans to BILOU label ids
// and writes the training rows.
func RunPreprocess(ctx context.Context, logger *zap.Logger, cfg PreprocessConfig) (Report, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("preprocess")
	cfg.Config = cfg.Config.WithDefaults()
	if cfg.Tokenizer == "" {
		return Report{}, fmt.Errorf("tokenizer is required")
	}
	encOpts, err := cfg.EncoderOptions()
	if err != nil {
		return Report{}, err
	}

	src, closeSrc, err := openRecords(cfg.Input)
	if err != nil {
		return Report{}, err
	}
	defer func() { _ = closeSrc() }()

	out, err := createOutput[corpus.AlignedRecord](cfg.Output)
	if err != nil {
		return Report{}, err
	}
	defer func() { _ = out.Close() }()

	logger.Info("Starting preprocess",
		zap.String("input", cfg.Input),
		zap.String("output", cfg.Output),
		zap.String("tokenizer", cfg.Tokenizer),
		zap.Int("max_length", cfg.MaxLength))

	filter := corpus.Filter{Domain: cfg.Domain}
	var tokenizers []tokenizer.Tokenizer
	defer func() {
		for _, tok := range tokenizers {
			_ = tokenizer.Close(tok)
		}
	}()

	newWorker := func(int) (pipelines.Worker[corpus.Record, alignedRecord], error) {
		tok, err := tokenizer.Load(cfg.Tokenizer)
		if err != nil {
			return nil, err
		}
		tokenizers = append(tokenizers, tok)
		enc, err := tokenizer.NewEncoder(tok, encOpts...)
		if err != nil {
			return nil, err
		}
		return pipelines.WorkerFunc[corpus.Record, alignedRecord](func(_ context.Context, rec corpus.Record) (alignedRecord, error) {
			if err := prepareRecord(&rec, filter); err != nil {
				return alignedRecord{}, err
			}
			return alignRecord(enc, rec)
		}), nil
	}

	entities := corpus.Counts{}
	report := Report{}
	sink := pipelines.SinkFunc[alignedRecord](func(a alignedRecord) error {
		for _, s := range a.aligned {
			entities.Add(string(s.Type), 1)
			RecordSpanAligned(string(s.Type))
		}
		report.DroppedSpans += a.dropped
		report.MaxTokens = max(report.MaxTokens, a.tokens)
		if a.truncated {
			report.Truncated++
		}
		return out.Write(a.rec)
	})

	start := time.Now()
	stats, err := pipelines.Run(ctx, src, sink, newWorker,
		pipelines.WithWorkers(cfg.Workers),
		pipelines.WithLogger(logger),
		pipelines.WithProgress(ProgressEvery, logProgress(logger, "preprocess")))
	report.Stats = stats
	report.Entities = entities.Sorted()
	RecordStats("preprocess", stats.Processed, stats.Skipped)
	RecordSpansDropped(report.DroppedSpans)
	if err != nil {
		return report, err
	}
	if err := out.Close(); err != nil {
		return report, fmt.Errorf("closing output: %w", err)
	}

	logger.Info("Preprocess completed",
		zap.Int("processed", stats.Processed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("filtered", stats.Filtered),
		zap.Int("dropped_spans", report.DroppedSpans),
		zap.Int("truncated", report.Truncated),
		zap.Duration("duration", time.Since(start)))
	return report, nil
}

// alignRecord encodes one record and aligns its spans.
func alignRecord(enc *tokenizer.Encoder, rec corpus.Record) (alignedRecord, error) {
	encoding, err := enc.Encode(rec.Text)
	if err != nil {
		return alignedRecord{}, fmt.Errorf("encoding %s: %w", rec.UID, err)
	}

	spans := rec.EntitySpans(sourceMapping)
	res := align.Align(encoding.Spans, spans)

	aligned := make([]align.Span, 0, len(spans))
	dropped := make(map[align.Span]struct{}, len(res.Dropped))
	for _, s := range res.Dropped {
		dropped[s] = struct{}{}
	}
	for _, s := range spans {
		if _, ok := dropped[s]; !ok {
			aligned = append(aligned, s)
		}
	}

	return alignedRecord{
		rec: corpus.AlignedRecord{
			UID:           rec.UID,
			DocumentType:  rec.DocumentType,
			InputIDs:      encoding.InputIDs,
			AttentionMask: encoding.AttentionMask,
			Labels:        res.Labels,
		},
		aligned:   aligned,
		dropped:   len(res.Dropped),
		tokens:    encoding.OriginalLength,
		truncated: encoding.Truncated,
	}, nil
}

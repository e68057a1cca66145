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
	"github.com/antflydb/phimask/lib/deid"
	"github.com/antflydb/phimask/lib/hugot"
	"github.com/antflydb/phimask/lib/ner"
	"github.com/antflydb/phimask/lib/pipelines"
	"github.com/antflydb/phimask/lib/tokenizer"
	"go.uber.org/zap"
)

// SpanSource selects where RunRedact takes entity spans from.
type SpanSource string

const (
	// SourceGold uses the spans annotated in the corpus.
	SourceGold SpanSource = "gold"
	// SourcePredictions decodes per-token label ids from a predictions file.
	SourcePredictions SpanSource = "predictions"
	// SourceModel runs a token-classification model.
	SourceModel SpanSource = "model"
)

// ParseSpanSource parses a span source name; empty means gold.
func ParseSpanSource(s string) (SpanSource, error) {
	switch SpanSource(s) {
	case "", SourceGold:
		return SourceGold, nil
	case SourcePredictions, SourceModel:
		return SpanSource(s), nil
	default:
		return "", fmt.Errorf("invalid span source %q: expected gold, predictions or model", s)
	}
}

// RedactConfig configures RunRedact.
type RedactConfig struct {
	Config

	Input  string
	Output string
	Source SpanSource

	// Predictions is a JSONL file of corpus.Prediction, used with
	// SourcePredictions. Labels must come from Config.Tokenizer.
	Predictions string

	// Model is used with SourceModel. When nil, a PooledTagger is loaded
	// from Config.ModelDir.
	Model ner.Model
}

// spanFinder returns the byte spans to redact in a record.
type spanFinder func(ctx context.Context, rec corpus.Record) ([]align.Span, error)

// RunRedact de-identifies every record of a corpus.
//
// Each worker owns a DocumentState that is reset per record from the record
// uid, so surrogates are consistent within a document, independent across
// documents, and reproducible for a fixed seed.
func RunRedact(ctx context.Context, logger *zap.Logger, cfg RedactConfig) (Report, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("redact")
	cfg.Config = cfg.Config.WithDefaults()
	source, err := ParseSpanSource(string(cfg.Source))
	if err != nil {
		return Report{}, err
	}
	d, err := cfg.Deidentifier()
	if err != nil {
		return Report{}, err
	}

	src, closeSrc, err := openRecords(cfg.Input)
	if err != nil {
		return Report{}, err
	}
	defer func() { _ = closeSrc() }()

	var cleanup []func() error
	defer func() {
		for _, fn := range cleanup {
			_ = fn()
		}
	}()

	// newFinder is called once per worker.
	var newFinder func() (spanFinder, error)
	switch source {
	case SourceGold:
		newFinder = func() (spanFinder, error) {
			return func(_ context.Context, rec corpus.Record) ([]align.Span, error) {
				return rec.EntitySpans(sourceMapping), nil
			}, nil
		}

	case SourcePredictions:
		preds, err := loadPredictions(cfg.Predictions, logger)
		if err != nil {
			return Report{}, err
		}
		encOpts, err := cfg.EncoderOptions()
		if err != nil {
			return Report{}, err
		}
		newFinder = func() (spanFinder, error) {
			tok, err := tokenizer.Load(cfg.Tokenizer)
			if err != nil {
				return nil, err
			}
			cleanup = append(cleanup, func() error { return tokenizer.Close(tok) })
			enc, err := tokenizer.NewEncoder(tok, encOpts...)
			if err != nil {
				return nil, err
			}
			return func(_ context.Context, rec corpus.Record) ([]align.Span, error) {
				p, ok := preds[rec.UID]
				if !ok {
					return nil, fmt.Errorf("no prediction for %s", rec.UID)
				}
				encoding, err := enc.Encode(rec.Text)
				if err != nil {
					return nil, err
				}
				return align.Decode(encoding.Spans, p.Labels), nil
			}, nil
		}

	case SourceModel:
		model := cfg.Model
		if model == nil {
			if cfg.ModelDir == "" {
				return Report{}, fmt.Errorf("model source requires a model directory")
			}
			pooled, err := loadTagger(cfg.Config, logger)
			if err != nil {
				return Report{}, err
			}
			cleanup = append(cleanup, pooled.Close)
			model = pooled
		}
		newFinder = func() (spanFinder, error) {
			return func(ctx context.Context, rec corpus.Record) ([]align.Span, error) {
				spans, err := model.Recognize(ctx, []string{rec.Text})
				if err != nil {
					return nil, err
				}
				if len(spans) != 1 {
					return nil, fmt.Errorf("model returned %d results for 1 text", len(spans))
				}
				return spans[0], nil
			}, nil
		}
	}

	out, err := createOutput[corpus.RedactedRecord](cfg.Output)
	if err != nil {
		return Report{}, err
	}
	defer func() { _ = out.Close() }()

	logger.Info("Starting redact",
		zap.String("input", cfg.Input),
		zap.String("output", cfg.Output),
		zap.String("source", string(source)),
		zap.Bool("seeded", cfg.Seed != 0))

	filter := corpus.Filter{Domain: cfg.Domain}
	newWorker := func(int) (pipelines.Worker[corpus.Record, corpus.RedactedRecord], error) {
		find, err := newFinder()
		if err != nil {
			return nil, err
		}
		st := deid.NewDocumentState(cfg.Seed)
		return pipelines.WorkerFunc[corpus.Record, corpus.RedactedRecord](func(ctx context.Context, rec corpus.Record) (corpus.RedactedRecord, error) {
			if err := prepareRecord(&rec, filter); err != nil {
				return corpus.RedactedRecord{}, err
			}
			spans, err := find(ctx, rec)
			if err != nil {
				return corpus.RedactedRecord{}, err
			}
			st.ResetFor(rec.UID)
			return redactRecord(d, rec, spans, st), nil
		}), nil
	}

	entities := corpus.Counts{}
	sink := pipelines.SinkFunc[corpus.RedactedRecord](func(r corpus.RedactedRecord) error {
		for _, rep := range r.Replacements {
			entities.Add(string(rep.Type), 1)
			RecordReplacement(string(rep.Type), string(rep.Policy))
		}
		return out.Write(r)
	})

	start := time.Now()
	stats, err := pipelines.Run(ctx, src, sink, newWorker,
		pipelines.WithWorkers(cfg.Workers),
		pipelines.WithLogger(logger),
		pipelines.WithProgress(ProgressEvery, logProgress(logger, "redact")))
	report := Report{Stats: stats, Entities: entities.Sorted()}
	RecordStats("redact", stats.Processed, stats.Skipped)
	if err != nil {
		return report, err
	}
	if err := out.Close(); err != nil {
		return report, fmt.Errorf("closing output: %w", err)
	}

	logger.Info("Redact completed",
		zap.Int("processed", stats.Processed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("filtered", stats.Filtered),
		zap.Duration("duration", time.Since(start)))
	return report, nil
}

// redactRecord redacts byte spans and reports replacements in code points.
func redactRecord(d *deid.Deidentifier, rec corpus.Record, spans []align.Span, st *deid.DocumentState) corpus.RedactedRecord {
	text, reps := d.Redact(rec.Text, spans, st)
	idx := align.NewOffsetIndex(rec.Text)
	for i := range reps {
		reps[i].Start = idx.RuneOffset(reps[i].Start)
		reps[i].End = idx.RuneOffset(reps[i].End)
	}
	return corpus.RedactedRecord{
		UID:          rec.UID,
		DocumentType: rec.DocumentType,
		Text:         text,
		Replacements: reps,
		DateShift:    st.DateShift(),
	}
}

func loadPredictions(path string, logger *zap.Logger) (map[string]corpus.Prediction, error) {
	if path == "" {
		return nil, fmt.Errorf("predictions source requires a predictions file")
	}
	preds, bad, err := corpus.ReadAll[corpus.Prediction](path)
	if err != nil {
		return nil, err
	}
	for _, e := range bad {
		logger.Warn("Skipping malformed prediction", zap.Error(e))
	}
	byUID := make(map[string]corpus.Prediction, len(preds))
	for _, p := range preds {
		byUID[p.UID] = p
	}
	return byUID, nil
}

// loadTagger loads a pooled tagger from cfg.ModelDir.
func loadTagger(cfg Config, logger *zap.Logger) (*ner.PooledTagger, error) {
	backend, err := hugot.ParseBackendType(cfg.Backend)
	if err != nil {
		return nil, err
	}
	device, err := hugot.ParseDeviceType(cfg.Device)
	if err != nil {
		return nil, err
	}
	tagger, _, err := ner.NewPooledTagger(ner.TaggerConfig{
		ModelPath: cfg.ModelDir,
		PoolSize:  cfg.Workers,
		Backend:   backend,
		Device:    device,
		Logger:    logger.Named("tagger"),
	})
	if err != nil {
		return nil, fmt.Errorf("loading tagger: %w", err)
	}
	return tagger, nil
}

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

package ner

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/antflydb/phimask/lib/align"
	"github.com/antflydb/phimask/lib/hugot"
	"github.com/antflydb/phimask/lib/schema"
	khugot "github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
	"go.uber.org/zap"
)

// TaggerConfig describes a token-classification model directory.
type TaggerConfig struct {
	// ModelPath is the directory holding the ONNX file, config.json and the
	// tokenizer files.
	ModelPath string

	// OnnxFilename defaults to "model.onnx".
	OnnxFilename string

	// PoolSize is the number of pipelines (0 = runtime.NumCPU()).
	PoolSize int

	Backend hugot.BackendType
	Device  hugot.DeviceType

	// Vocabulary defaults to schema.Default().
	Vocabulary *schema.Vocabulary

	Logger *zap.Logger
}

func (c *TaggerConfig) withDefaults() {
	if c.OnnxFilename == "" {
		c.OnnxFilename = "model.onnx"
	}
	if c.Vocabulary == nil {
		c.Vocabulary = schema.Default()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// HugotTagger runs one hugot token-classification pipeline with per-token
// output and decodes the BILOU labels into byte spans.
type HugotTagger struct {
	session       *khugot.Session
	pipeline      *pipelines.TokenClassificationPipeline
	vocab         *schema.Vocabulary
	logger        *zap.Logger
	sessionShared bool
}

// NewHugotTagger creates a tagger with its own session.
func NewHugotTagger(cfg TaggerConfig) (*HugotTagger, error) {
	cfg.withDefaults()
	session, backendUsed, err := hugot.NewSession(cfg.Backend, cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("creating hugot session: %w", err)
	}
	cfg.Logger.Info("Created Hugot session", zap.String("backend", string(backendUsed)))

	t, err := newHugotTaggerWithSession(cfg, session, "tagger:"+cfg.ModelPath)
	if err != nil {
		_ = session.Destroy()
		return nil, err
	}
	t.sessionShared = false
	return t, nil
}

func newHugotTaggerWithSession(cfg TaggerConfig, session *khugot.Session, name string) (*HugotTagger, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("model path is required")
	}
	if _, err := LoadLabelConfigFor(cfg.ModelPath, cfg.Vocabulary); err != nil {
		return nil, err
	}

	pipeline, err := khugot.NewPipeline(session, khugot.TokenClassificationConfig{
		ModelPath:    cfg.ModelPath,
		Name:         name,
		OnnxFilename: cfg.OnnxFilename,
	})
	if err != nil {
		return nil, fmt.Errorf("creating token classification pipeline: %w", err)
	}
	// One entity per token; spans are rebuilt from the BILOU tags.
	pipeline.AggregationStrategy = "NONE"

	return &HugotTagger{
		session:       session,
		pipeline:      pipeline,
		vocab:         cfg.Vocabulary,
		logger:        cfg.Logger,
		sessionShared: true,
	}, nil
}

// Recognize returns the predicted spans of each text, in byte offsets.
func (h *HugotTagger) Recognize(ctx context.Context, texts []string) ([][]align.Span, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	output, err := h.pipeline.RunPipeline(texts)
	if err != nil {
		h.logger.Error("Token classification failed", zap.Error(err))
		return nil, fmt.Errorf("running token classification: %w", err)
	}
	if len(output.Entities) != len(texts) {
		return nil, fmt.Errorf("token classification returned %d results for %d texts",
			len(output.Entities), len(texts))
	}

	results := make([][]align.Span, len(texts))
	for i, entities := range output.Entities {
		preds := make([]tokenPrediction, len(entities))
		for j, e := range entities {
			preds[j] = tokenPrediction{
				Index: e.Index,
				Start: int(e.Start),
				End:   int(e.End),
				Label: e.Entity,
			}
		}
		results[i] = decodePredictions(len(texts[i]), preds, h.vocab)
	}

	h.logger.Debug("Tagging completed",
		zap.Int("num_texts", len(texts)),
		zap.Int("total_spans", countSpans(results)))
	return results, nil
}

// Close destroys the session unless it is shared with other taggers.
func (h *HugotTagger) Close() error {
	if h.session != nil && !h.sessionShared {
		return h.session.Destroy()
	}
	return nil
}

// tokenPrediction is one token's label as reported by the pipeline.
type tokenPrediction struct {
	Index int
	Start int
	End   int
	Label string
}

// decodePredictions rebuilds spans from per-token labels. Tokens the
// pipeline left out (Outside) are restored as gaps so that runs on either
// side of them are not joined.
func decodePredictions(textLen int, preds []tokenPrediction, vocab *schema.Vocabulary) []align.Span {
	if len(preds) == 0 {
		return nil
	}
	sort.SliceStable(preds, func(i, j int) bool { return preds[i].Index < preds[j].Index })

	tokens := make([]align.TokenSpan, 0, len(preds))
	labels := make([]int, 0, len(preds))
	prev := preds[0].Index - 1
	for _, p := range preds {
		if p.Index > prev+1 {
			tokens = append(tokens, align.TokenSpan{})
			labels = append(labels, schema.OutsideID)
		}
		prev = p.Index

		id, ok := vocab.LookupString(p.Label)
		if !ok {
			id = schema.OutsideID
		}
		start, end := max(p.Start, 0), min(p.End, textLen)
		tokens = append(tokens, align.TokenSpan{Start: start, End: end})
		labels = append(labels, id)
	}

	return align.Decode(tokens, labels, align.WithVocabulary(vocab))
}

func countSpans(results [][]align.Span) int {
	n := 0
	for _, spans := range results {
		n += len(spans)
	}
	return n
}

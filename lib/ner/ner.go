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

// Package ner runs token-classification models that predict the PHI label
// vocabulary and returns their output as entity spans.
package ner

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/antflydb/phimask/lib/align"
	"github.com/antflydb/phimask/lib/hugot"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrTaggerClosed is returned by Recognize after Close.
var ErrTaggerClosed = errors.New("tagger is closed")

// Model predicts entity spans for a batch of texts.
type Model interface {
	// Recognize returns the spans of each text in byte offsets.
	Recognize(ctx context.Context, texts []string) ([][]align.Span, error)

	// Close releases any resources held by the model.
	Close() error
}

var (
	_ Model = (*HugotTagger)(nil)
	_ Model = (*PooledTagger)(nil)
)

// PooledTagger spreads requests over several models.
// Each request acquires a slot via semaphore and picks a model round-robin.
type PooledTagger struct {
	models []Model
	sem    *semaphore.Weighted
	next   atomic.Uint64
	logger *zap.Logger

	mu      sync.RWMutex
	closed  bool
	closeFn func() error
}

// NewPooledTagger loads cfg.PoolSize hugot pipelines sharing one session.
func NewPooledTagger(cfg TaggerConfig) (*PooledTagger, hugot.BackendType, error) {
	cfg.withDefaults()
	if cfg.ModelPath == "" {
		return nil, "", errors.New("model path is required")
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
	}

	cfg.Logger.Info("Initializing pooled tagger",
		zap.String("modelPath", cfg.ModelPath),
		zap.String("onnxFilename", cfg.OnnxFilename),
		zap.Int("poolSize", poolSize))

	session, backendUsed, err := hugot.NewSession(cfg.Backend, cfg.Device)
	if err != nil {
		return nil, "", fmt.Errorf("creating hugot session: %w", err)
	}

	models := make([]Model, poolSize)
	for i := range poolSize {
		name := fmt.Sprintf("tagger:%s:%s:%d", cfg.ModelPath, cfg.OnnxFilename, i)
		t, err := newHugotTaggerWithSession(cfg, session, name)
		if err != nil {
			_ = session.Destroy()
			cfg.Logger.Error("Failed to create pipeline", zap.Int("index", i), zap.Error(err))
			return nil, "", fmt.Errorf("creating pipeline %d: %w", i, err)
		}
		models[i] = t
	}

	p := NewPool(models, cfg.Logger)
	p.closeFn = session.Destroy

	cfg.Logger.Info("Successfully created pooled tagger",
		zap.Int("count", poolSize),
		zap.String("backend", string(backendUsed)))
	return p, backendUsed, nil
}

// NewPool wraps already loaded models. Concurrency is bounded by len(models).
func NewPool(models []Model, logger *zap.Logger) *PooledTagger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PooledTagger{
		models: models,
		sem:    semaphore.NewWeighted(int64(len(models))),
		logger: logger,
	}
}

// Size returns the number of pooled models.
func (p *PooledTagger) Size() int {
	return len(p.models)
}

// Recognize runs texts on the next free model.
func (p *PooledTagger) Recognize(ctx context.Context, texts []string) ([][]align.Span, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrTaggerClosed
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquiring pipeline slot: %w", err)
	}
	defer p.sem.Release(1)

	idx := int(p.next.Add(1) % uint64(len(p.models)))
	p.logger.Debug("Using pipeline for tagging",
		zap.Int("pipelineIndex", idx),
		zap.Int("num_texts", len(texts)))

	spans, err := p.models[idx].Recognize(ctx, texts)
	if err != nil {
		p.logger.Error("Tagging failed", zap.Int("pipelineIndex", idx), zap.Error(err))
		return nil, err
	}
	return spans, nil
}

// Close waits for in-flight requests, then closes every model. It is safe to
// call more than once.
func (p *PooledTagger) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for i, m := range p.models {
		if err := m.Close(); err != nil {
			p.logger.Warn("Failed to close pipeline", zap.Int("index", i), zap.Error(err))
			errs = append(errs, err)
		}
	}
	if p.closeFn != nil {
		errs = append(errs, p.closeFn())
	}
	return errors.Join(errs...)
}

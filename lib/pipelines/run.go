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

package pipelines

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/antflydb/phimask/lib/corpus"
)

// ErrFiltered is returned by a worker to drop a record without counting it
// as a failure.
var ErrFiltered = errors.New("record filtered")

// Source yields records until io.EOF. A *corpus.LineError is a skippable
// bad record; any other error aborts the run.
type Source[T any] interface {
	Next() (T, error)
}

// Sink consumes results. It is called from a single goroutine.
type Sink[T any] interface {
	Write(T) error
}

// Worker transforms one record. Each worker is used by one goroutine, so it
// may hold unsynchronized state.
type Worker[In, Out any] interface {
	Process(ctx context.Context, in In) (Out, error)
}

// WorkerFunc adapts a function to Worker.
type WorkerFunc[In, Out any] func(ctx context.Context, in In) (Out, error)

func (f WorkerFunc[In, Out]) Process(ctx context.Context, in In) (Out, error) {
	return f(ctx, in)
}

// SinkFunc adapts a function to Sink.
type SinkFunc[T any] func(T) error

func (f SinkFunc[T]) Write(v T) error {
	return f(v)
}

type sliceSource[T any] struct {
	items []T
	pos   int
}

// FromSlice returns a Source over items.
func FromSlice[T any](items []T) Source[T] {
	return &sliceSource[T]{items: items}
}

func (s *sliceSource[T]) Next() (T, error) {
	if s.pos >= len(s.items) {
		var zero T
		return zero, io.EOF
	}
	v := s.items[s.pos]
	s.pos++
	return v, nil
}

// Stats summarizes a run.
type Stats struct {
	Read      int           `json:"read"`
	Processed int           `json:"processed"`
	Skipped   int           `json:"skipped"`
	Filtered  int           `json:"filtered"`
	Duration  time.Duration `json:"duration"`
}

// Option configures Run.
type Option func(*runConfig)

type runConfig struct {
	workers  int
	window   int
	logger   *zap.Logger
	every    int
	progress func(Stats)
}

// WithWorkers sets the number of workers. Zero or less uses the CPU count.
func WithWorkers(n int) Option {
	return func(c *runConfig) { c.workers = n }
}

// WithReorderWindow bounds how many records may be in flight ahead of the
// oldest unfinished one.
func WithReorderWindow(n int) Option {
	return func(c *runConfig) { c.window = n }
}

// WithLogger sets the logger for skipped records.
func WithLogger(logger *zap.Logger) Option {
	return func(c *runConfig) { c.logger = logger }
}

// WithProgress calls fn after every n finished records.
func WithProgress(n int, fn func(Stats)) Option {
	return func(c *runConfig) {
		c.every = n
		c.progress = fn
	}
}

type job[In any] struct {
	idx int
	in  In
}

type result[Out any] struct {
	idx int
	out Out
	err error
}

// Run reads src, processes records on a pool of workers and writes results
// to sink in input order. newWorker is called once per worker slot before
// any record is read.
//
// A failing or panicking worker skips its record; the run continues. Source
// and sink errors, other than *corpus.LineError, abort the run.
func Run[In, Out any](
	ctx context.Context,
	src Source[In],
	sink Sink[Out],
	newWorker func(worker int) (Worker[In, Out], error),
	opts ...Option,
) (Stats, error) {
	cfg := runConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.workers <= 0 {
		cfg.workers = runtime.NumCPU()
	}
	if cfg.window < 2*cfg.workers {
		cfg.window = 2 * cfg.workers
	}

	start := time.Now()
	var stats Stats

	workers := make([]Worker[In, Out], cfg.workers)
	for i := range workers {
		w, err := newWorker(i)
		if err != nil {
			return stats, fmt.Errorf("creating worker %d: %w", i, err)
		}
		workers[i] = w
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	jobs := make(chan job[In], cfg.workers)
	results := make(chan result[Out], cfg.workers)
	window := semaphore.NewWeighted(int64(cfg.window))

	var read, badLines atomic.Int64

	g.Go(func() error {
		defer close(jobs)
		for idx := 0; ; {
			in, err := src.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			var le *corpus.LineError
			if errors.As(err, &le) {
				badLines.Add(1)
				cfg.logger.Warn("Skipping malformed record",
					zap.Int("line", le.Line),
					zap.Error(le.Err))
				continue
			}
			if err != nil {
				return fmt.Errorf("reading input: %w", err)
			}
			read.Add(1)

			if err := window.Acquire(gctx, 1); err != nil {
				return err
			}
			select {
			case jobs <- job[In]{idx: idx, in: in}:
				idx++
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	var wg sync.WaitGroup
	for i, w := range workers {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for j := range jobs {
				out, err := process(gctx, w, j.in)
				if err != nil && !errors.Is(err, ErrFiltered) {
					cfg.logger.Warn("Skipping record",
						zap.Int("worker", i),
						zap.Int("index", j.idx),
						zap.Error(err))
				}
				select {
				case results <- result[Out]{idx: j.idx, out: out, err: err}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	snapshot := func() Stats {
		s := stats
		s.Read = int(read.Load())
		s.Skipped += int(badLines.Load())
		s.Duration = time.Since(start)
		return s
	}

	var sinkErr error
	pending := make(map[int]result[Out])
	next := 0
	for r := range results {
		pending[r.idx] = r
		for {
			p, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			window.Release(1)

			switch {
			case sinkErr != nil:
			case errors.Is(p.err, ErrFiltered):
				stats.Filtered++
			case p.err != nil:
				stats.Skipped++
			default:
				if err := sink.Write(p.out); err != nil {
					sinkErr = fmt.Errorf("writing output: %w", err)
					cancel()
					continue
				}
				stats.Processed++
			}

			if cfg.every > 0 && cfg.progress != nil && next%cfg.every == 0 {
				cfg.progress(snapshot())
			}
		}
	}

	err := g.Wait()
	stats = snapshot()
	if sinkErr != nil {
		return stats, sinkErr
	}
	return stats, err
}

func process[In, Out any](ctx context.Context, w Worker[In, Out], in In) (out Out, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.Process(ctx, in)
}

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
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic/encoder"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrQueueFull is returned when the wait queue is at capacity.
	ErrQueueFull = errors.New("request queue is full")
	// ErrRequestTimeout is returned when a request waits longer than the
	// configured timeout for a slot.
	ErrRequestTimeout = errors.New("request timed out waiting in queue")
)

// RequestQueueConfig configures a RequestQueue.
type RequestQueueConfig struct {
	// MaxConcurrentRequests defaults to runtime.NumCPU().
	MaxConcurrentRequests int
	// MaxQueueSize is the number of requests allowed to wait; 0 means
	// 4 × MaxConcurrentRequests.
	MaxQueueSize int
	// RequestTimeout bounds the wait; 0 waits until the request context ends.
	RequestTimeout time.Duration
}

// QueueStats is a snapshot of a RequestQueue.
type QueueStats struct {
	MaxConcurrent int    `json:"max_concurrent"`
	MaxQueueSize  int    `json:"max_queue_size"`
	CurrentActive int64  `json:"current_active"`
	CurrentQueued int64  `json:"current_queued"`
	TotalRejected uint64 `json:"total_rejected"`
	TotalTimedOut uint64 `json:"total_timed_out"`
}

// RequestQueue bounds concurrent work and rejects requests once too many are
// waiting.
type RequestQueue struct {
	cfg    RequestQueueConfig
	sem    *semaphore.Weighted
	logger *zap.Logger

	active   atomic.Int64
	queued   atomic.Int64
	rejected atomic.Uint64
	timedOut atomic.Uint64
}

// NewRequestQueue creates a queue.
func NewRequestQueue(cfg RequestQueueConfig, logger *zap.Logger) *RequestQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = runtime.NumCPU()
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 4 * cfg.MaxConcurrentRequests
	}
	logger.Info("Request queue configured",
		zap.Int("max_concurrent", cfg.MaxConcurrentRequests),
		zap.Int("max_queue_size", cfg.MaxQueueSize),
		zap.Duration("timeout", cfg.RequestTimeout))
	return &RequestQueue{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrentRequests)),
		logger: logger,
	}
}

// Acquire waits for a slot. The returned release must be called once the
// request is done.
func (q *RequestQueue) Acquire(ctx context.Context) (release func(), err error) {
	if !q.sem.TryAcquire(1) {
		if q.queued.Add(1) > int64(q.cfg.MaxQueueSize) {
			q.queued.Add(-1)
			q.rejected.Add(1)
			return nil, ErrQueueFull
		}

		start := time.Now()
		waitCtx := ctx
		if q.cfg.RequestTimeout > 0 {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, q.cfg.RequestTimeout)
			defer cancel()
		}
		err := q.sem.Acquire(waitCtx, 1)
		q.queued.Add(-1)
		RecordQueueWaitTime(time.Since(start).Seconds())
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				q.timedOut.Add(1)
				return nil, ErrRequestTimeout
			}
			return nil, err
		}
	}

	q.active.Add(1)
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			q.active.Add(-1)
			q.sem.Release(1)
		}
	}, nil
}

// Stats returns a snapshot of the queue.
func (q *RequestQueue) Stats() QueueStats {
	return QueueStats{
		MaxConcurrent: q.cfg.MaxConcurrentRequests,
		MaxQueueSize:  q.cfg.MaxQueueSize,
		CurrentActive: q.active.Load(),
		CurrentQueued: q.queued.Load(),
		TotalRejected: q.rejected.Load(),
		TotalTimedOut: q.timedOut.Load(),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// WriteQueueFullResponse writes a 503 with a Retry-After header.
func WriteQueueFullResponse(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(max(1, int(retryAfter.Seconds()))))
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = encoder.NewStreamEncoder(w).Encode(errorResponse{Error: ErrQueueFull.Error()})
}

// WriteTimeoutResponse writes a 503 for a request that timed out in queue.
func WriteTimeoutResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = encoder.NewStreamEncoder(w).Encode(errorResponse{Error: ErrRequestTimeout.Error()})
}

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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/antflydb/phimask/lib/align"
	"github.com/antflydb/phimask/lib/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRequestQueue_Defaults(t *testing.T) {
	q := NewRequestQueue(RequestQueueConfig{MaxConcurrentRequests: 2}, zaptest.NewLogger(t))
	s := q.Stats()
	assert.Equal(t, 2, s.MaxConcurrent)
	assert.Equal(t, 8, s.MaxQueueSize)
}

func TestRequestQueue_ReleaseIsIdempotent(t *testing.T) {
	q := NewRequestQueue(RequestQueueConfig{MaxConcurrentRequests: 1}, zaptest.NewLogger(t))

	release, err := q.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), q.Stats().CurrentActive)

	release()
	release()
	assert.Equal(t, int64(0), q.Stats().CurrentActive)

	release, err = q.Acquire(context.Background())
	require.NoError(t, err)
	release()
}

func TestRequestQueue_Timeout(t *testing.T) {
	q := NewRequestQueue(RequestQueueConfig{
		MaxConcurrentRequests: 1,
		MaxQueueSize:          1,
		RequestTimeout:        20 * time.Millisecond,
	}, zaptest.NewLogger(t))

	release, err := q.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	_, err = q.Acquire(context.Background())
	require.ErrorIs(t, err, ErrRequestTimeout)
	assert.Equal(t, uint64(1), q.Stats().TotalTimedOut)
	assert.Equal(t, int64(0), q.Stats().CurrentQueued)
}

func TestRequestQueue_CallerCancel(t *testing.T) {
	q := NewRequestQueue(RequestQueueConfig{MaxConcurrentRequests: 1}, zaptest.NewLogger(t))

	release, err := q.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = q.Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrRequestTimeout))
	assert.Equal(t, uint64(0), q.Stats().TotalTimedOut)
}

func TestRequestQueue_BoundsConcurrency(t *testing.T) {
	q := NewRequestQueue(RequestQueueConfig{MaxConcurrentRequests: 3, MaxQueueSize: 100}, zaptest.NewLogger(t))

	var active, peak atomic.Int64
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := q.Acquire(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			defer release()
			cur := active.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int64(3))
}

func TestAlignmentCache_KeyCoversSpans(t *testing.T) {
	a := alignmentKey("tok", "text", []align.Span{{Start: 0, End: 4, Type: schema.City}})
	b := alignmentKey("tok", "text", []align.Span{{Start: 0, End: 4, Type: schema.State}})
	c := alignmentKey("other", "text", []align.Span{{Start: 0, End: 4, Type: schema.City}})
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, a, alignmentKey("tok", "text", []align.Span{{Start: 0, End: 4, Type: schema.City}}))
}

func TestAlignmentCache_GetOrCompute(t *testing.T) {
	c := NewAlignmentCache(time.Minute, zaptest.NewLogger(t))
	defer c.Close()

	var calls atomic.Int32
	compute := func() (*AlignResponse, error) {
		calls.Add(1)
		return &AlignResponse{Labels: []int{0}}, nil
	}

	for range 3 {
		resp, err := c.GetOrCompute("tok", "hello", nil, compute)
		require.NoError(t, err)
		assert.Equal(t, []int{0}, resp.Labels)
	}
	assert.Equal(t, int32(1), calls.Load())

	s := c.Stats()
	assert.Equal(t, uint64(2), s.Hits)
	assert.Equal(t, uint64(1), s.Misses)
	assert.Equal(t, 1, s.Items)
}

func TestAlignmentCache_ErrorsAreNotCached(t *testing.T) {
	c := NewAlignmentCache(time.Minute, zaptest.NewLogger(t))
	defer c.Close()

	boom := errors.New("boom")
	_, err := c.GetOrCompute("tok", "x", nil, func() (*AlignResponse, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Stats().Items)

	resp, err := c.GetOrCompute("tok", "x", nil, func() (*AlignResponse, error) { return &AlignResponse{}, nil })
	require.NoError(t, err)
	assert.NotNil(t, resp)
}

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
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antflydb/phimask/lib/corpus"
)

func collect[T any](out *[]T) Sink[T] {
	return SinkFunc[T](func(v T) error {
		*out = append(*out, v)
		return nil
	})
}

func TestRunPreservesOrder(t *testing.T) {
	in := make([]int, 200)
	for i := range in {
		in[i] = i
	}

	var created atomic.Int32
	var out []int
	stats, err := Run(context.Background(), FromSlice(in), collect(&out),
		func(int) (Worker[int, int], error) {
			created.Add(1)
			return WorkerFunc[int, int](func(_ context.Context, v int) (int, error) {
				time.Sleep(time.Duration(v%7) * 100 * time.Microsecond)
				return v * 2, nil
			}), nil
		},
		WithWorkers(4))

	require.NoError(t, err)
	require.EqualValues(t, 4, created.Load())
	require.Equal(t, 200, stats.Read)
	require.Equal(t, 200, stats.Processed)
	require.Len(t, out, 200)
	for i, v := range out {
		require.Equal(t, i*2, v)
	}
}

func TestRunSkipsFailedRecords(t *testing.T) {
	var out []int
	stats, err := Run(context.Background(), FromSlice([]int{1, 2, 3, 4, 5, 6}), collect(&out),
		func(int) (Worker[int, int], error) {
			return WorkerFunc[int, int](func(_ context.Context, v int) (int, error) {
				switch v {
				case 2:
					return 0, errors.New("bad record")
				case 4:
					panic("tokenizer bug")
				case 5:
					return 0, ErrFiltered
				}
				return v, nil
			}), nil
		},
		WithWorkers(2))

	require.NoError(t, err)
	require.Equal(t, []int{1, 3, 6}, out)
	require.Equal(t, 6, stats.Read)
	require.Equal(t, 3, stats.Processed)
	require.Equal(t, 2, stats.Skipped)
	require.Equal(t, 1, stats.Filtered)
}

type scriptedSource struct {
	steps []func() (int, error)
}

func (s *scriptedSource) Next() (int, error) {
	if len(s.steps) == 0 {
		return 0, io.EOF
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step()
}

func identity(int) (Worker[int, int], error) {
	return WorkerFunc[int, int](func(_ context.Context, v int) (int, error) { return v, nil }), nil
}

func TestRunSkipsMalformedLines(t *testing.T) {
	src := &scriptedSource{steps: []func() (int, error){
		func() (int, error) { return 1, nil },
		func() (int, error) { return 0, &corpus.LineError{Line: 2, Err: errors.New("bad json")} },
		func() (int, error) { return 3, nil },
	}}

	var out []int
	stats, err := Run(context.Background(), src, collect(&out), identity, WithWorkers(1))
	require.NoError(t, err)
	require.Equal(t, []int{1, 3}, out)
	require.Equal(t, 1, stats.Skipped)
	require.Equal(t, 2, stats.Read)
}

func TestRunAbortsOnSourceError(t *testing.T) {
	src := &scriptedSource{steps: []func() (int, error){
		func() (int, error) { return 1, nil },
		func() (int, error) { return 0, errors.New("disk gone") },
	}}

	var out []int
	_, err := Run(context.Background(), src, collect(&out), identity, WithWorkers(2))
	require.ErrorContains(t, err, "disk gone")
}

func TestRunAbortsOnSinkError(t *testing.T) {
	in := make([]int, 100)
	sink := SinkFunc[int](func(v int) error {
		if v == 10 {
			return errors.New("disk full")
		}
		return nil
	})
	for i := range in {
		in[i] = i
	}

	stats, err := Run(context.Background(), FromSlice(in), sink, identity, WithWorkers(3))
	require.ErrorContains(t, err, "disk full")
	require.Equal(t, 10, stats.Processed)
}

func TestRunWorkerConstructionError(t *testing.T) {
	_, err := Run(context.Background(), FromSlice([]int{1}), SinkFunc[int](func(int) error { return nil }),
		func(i int) (Worker[int, int], error) {
			if i == 1 {
				return nil, errors.New("no tokenizer")
			}
			return identity(i)
		},
		WithWorkers(2))
	require.ErrorContains(t, err, "creating worker 1")
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := make([]int, 1000)

	var out []int
	_, err := Run(ctx, FromSlice(in), collect(&out),
		func(int) (Worker[int, int], error) {
			return WorkerFunc[int, int](func(_ context.Context, v int) (int, error) {
				cancel()
				return v, nil
			}), nil
		},
		WithWorkers(2))
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, len(out), 1000)
}

func TestRunProgress(t *testing.T) {
	var calls []int
	_, err := Run(context.Background(), FromSlice(make([]int, 10)), SinkFunc[int](func(int) error { return nil }), identity,
		WithWorkers(2),
		WithProgress(5, func(s Stats) { calls = append(calls, s.Processed) }))
	require.NoError(t, err)
	require.Equal(t, []int{5, 10}, calls)
}

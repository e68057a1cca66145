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
	"encoding/binary"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/antflydb/phimask/lib/align"
	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// AlignmentCacheTTL is the default TTL for cached alignments
const AlignmentCacheTTL = 2 * time.Minute

// AlignmentCache memoizes alignment results. Alignment is a pure function of
// the tokenizer, text and spans, so identical requests share one result.
type AlignmentCache struct {
	cache   *ttlcache.Cache[string, *AlignResponse]
	sfGroup singleflight.Group
	logger  *zap.Logger
	cancel  context.CancelFunc

	hits   atomic.Uint64
	misses atomic.Uint64
	sfHits atomic.Uint64
}

// NewAlignmentCache creates a cache; ttl <= 0 uses AlignmentCacheTTL.
func NewAlignmentCache(ttl time.Duration, logger *zap.Logger) *AlignmentCache {
	if ttl <= 0 {
		ttl = AlignmentCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *AlignResponse](ttl),
	)
	go cache.Start()

	ctx, cancel := context.WithCancel(context.Background())
	ac := &AlignmentCache{
		cache:  cache,
		logger: logger,
		cancel: cancel,
	}
	go ac.logStats(ctx)
	return ac
}

// GetOrCompute returns the cached result for (tokenizer, text, spans) or
// computes it once, even under concurrent identical requests.
func (ac *AlignmentCache) GetOrCompute(
	tokenizerName string,
	text string,
	spans []align.Span,
	compute func() (*AlignResponse, error),
) (*AlignResponse, error) {
	key := alignmentKey(tokenizerName, text, spans)

	if item := ac.cache.Get(key); item != nil {
		ac.hits.Add(1)
		RecordCacheHit("align")
		return item.Value(), nil
	}

	result, err, shared := ac.sfGroup.Do(key, func() (any, error) {
		ac.misses.Add(1)
		RecordCacheMiss("align")

		resp, err := compute()
		if err != nil {
			return nil, err
		}
		ac.cache.Set(key, resp, ttlcache.DefaultTTL)
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		ac.sfHits.Add(1)
		ac.logger.Debug("Singleflight hit for align request")
	}
	return result.(*AlignResponse), nil
}

// alignmentKey hashes the tokenizer name, text and spans in order.
func alignmentKey(tokenizerName, text string, spans []align.Span) string {
	h := xxhash.New()
	_, _ = h.WriteString(tokenizerName)
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(text)
	for _, s := range spans {
		_, _ = h.WriteString("|")
		_, _ = h.WriteString(strconv.Itoa(s.Start))
		_, _ = h.WriteString(",")
		_, _ = h.WriteString(strconv.Itoa(s.End))
		_, _ = h.WriteString(",")
		_, _ = h.WriteString(string(s.Type))
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h.Sum64())
	return string(buf[:])
}

// AlignmentCacheStats holds cache statistics
type AlignmentCacheStats struct {
	Hits             uint64 `json:"hits"`
	Misses           uint64 `json:"misses"`
	SingleflightHits uint64 `json:"singleflight_hits"`
	Items            int    `json:"items"`
}

// Stats returns cache statistics.
func (ac *AlignmentCache) Stats() AlignmentCacheStats {
	return AlignmentCacheStats{
		Hits:             ac.hits.Load(),
		Misses:           ac.misses.Load(),
		SingleflightHits: ac.sfHits.Load(),
		Items:            ac.cache.Len(),
	}
}

// Close stops the cache
func (ac *AlignmentCache) Close() {
	ac.cancel()
	ac.cache.Stop()
}

// logStats logs cache statistics periodically
func (ac *AlignmentCache) logStats(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := ac.Stats()
			if total := s.Hits + s.Misses; total > 0 {
				ac.logger.Info("Alignment cache stats",
					zap.Uint64("hits", s.Hits),
					zap.Uint64("misses", s.Misses),
					zap.Float64("hit_rate_pct", float64(s.Hits)/float64(total)*100),
					zap.Int("items", s.Items))
			}
		}
	}
}

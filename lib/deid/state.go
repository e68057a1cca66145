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

package deid

import (
	"encoding/binary"
	"math/rand/v2"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/cespare/xxhash/v2"

	"github.com/antflydb/phimask/lib/schema"
)

const (
	minDateShift = -365
	maxDateShift = -1
)

type cacheKey struct {
	typ      schema.EntityType
	original string
}

// DocumentState holds the per-document consistency state: the surrogate
// cache and the date offset. It is not safe for concurrent use; each worker
// owns one. The zero value behaves like NewDocumentState(0).
type DocumentState struct {
	seed      uint64
	rng       *rand.Rand
	faker     *gofakeit.Faker
	cache     map[cacheKey]string
	dateShift int
}

// NewDocumentState returns a state seeded with seed. A zero seed draws a
// random one, so runs are not reproducible.
func NewDocumentState(seed uint64) *DocumentState {
	st := &DocumentState{seed: seed}
	st.ensure()
	return st
}

// ensure fills in whatever a zero DocumentState lacks.
func (st *DocumentState) ensure() {
	if st.seed == 0 {
		st.seed = rand.Uint64() | 1
	}
	if st.cache == nil {
		st.cache = make(map[cacheKey]string)
	}
	if st.rng == nil {
		st.reseed(st.seed)
		st.drawShift()
	}
}

func (st *DocumentState) reseed(s uint64) {
	st.rng = rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))
	st.faker = gofakeit.New(s)
}

func (st *DocumentState) drawShift() {
	st.dateShift = minDateShift + st.rng.IntN(maxDateShift-minDateShift+1)
}

// Reset clears the surrogate cache and draws a new date shift. Call it at
// every document boundary.
func (st *DocumentState) Reset() {
	st.ensure()
	clear(st.cache)
	st.drawShift()
}

// ResetFor reseeds from the state's seed and key, then resets. Surrogates
// for a document depend only on the seed and the key, not on which worker
// processed it or what it processed before.
func (st *DocumentState) ResetFor(key string) {
	st.ensure()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], st.seed)
	d := xxhash.New()
	_, _ = d.Write(buf[:])
	_, _ = d.WriteString(key)
	s := d.Sum64()
	if s == 0 {
		s = 1
	}
	st.reseed(s)
	st.Reset()
}

// DateShift returns the current document's date offset in days.
func (st *DocumentState) DateShift() int {
	st.ensure()
	return st.dateShift
}

// SetDateShift overrides the current document's date offset.
func (st *DocumentState) SetDateShift(days int) {
	st.ensure()
	st.dateShift = days
}

// Len returns the number of cached surrogates.
func (st *DocumentState) Len() int {
	return len(st.cache)
}

func (st *DocumentState) lookup(t schema.EntityType, original string, generate func() string) string {
	st.ensure()
	k := cacheKey{typ: t, original: original}
	if v, ok := st.cache[k]; ok {
		return v
	}
	v := generate()
	st.cache[k] = v
	return v
}

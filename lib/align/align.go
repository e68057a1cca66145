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

// Package align converts between entity spans and per-token BILOU label ids.
//
// Align maps character spans onto a tokenizer's offset mapping, producing the
// label sequence a token-classification model trains on. Decode is its
// inverse: it groups a predicted label sequence back into spans using the
// same offsets.
//
// Both directions work on whatever offset unit the token spans use. Go
// tokenizers report byte offsets, so spans coming from character-indexed
// sources are converted with OffsetIndex first.
package align

import (
	"github.com/antflydb/phimask/lib/schema"
	"github.com/gomlx/go-huggingface/tokenizers/api"
)

// TokenSpan is the offset range of one token in the original text.
// Special and padding tokens carry the (0,0) sentinel.
type TokenSpan = api.TokenSpan

// Span is an annotated entity: [Start, End) in the offset unit of the
// token spans it is aligned against.
type Span struct {
	Start int               `json:"start"`
	End   int               `json:"end"`
	Type  schema.EntityType `json:"label"`
}

// Len returns the span length in offset units.
func (s Span) Len() int {
	return s.End - s.Start
}

// Result is the outcome of aligning one token sequence.
type Result struct {
	// Labels holds one label id per token. Sentinel tokens hold
	// schema.IgnoreID.
	Labels []int

	// Dropped lists spans that overlapped no visible token, typically
	// because they fell in a truncated tail.
	Dropped []Span
}

// Option configures Align and Decode.
type Option func(*options)

type options struct {
	vocab            *schema.Vocabulary
	exemptFirstToken bool
}

// WithVocabulary selects the label vocabulary. Defaults to schema.Default().
func WithVocabulary(v *schema.Vocabulary) Option {
	return func(o *options) { o.vocab = v }
}

// WithExemptFirstToken keeps a label assigned to a sentinel-offset token at
// index 0 instead of masking it with schema.IgnoreID.
func WithExemptFirstToken() Option {
	return func(o *options) { o.exemptFirstToken = true }
}

func buildOptions(opts []Option) options {
	o := options{vocab: schema.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// IsSentinel reports whether a token carries the (0,0) special-token offsets.
func IsSentinel(tok TokenSpan) bool {
	return tok.Start == 0 && tok.End == 0
}

// Align assigns a label id to every token.
//
// Tokens start as Outside. For each span in input order, the tokens with
// tok.End > span.Start and tok.Start < span.End receive U for a single
// token, or B, I..., L for several. Sentinel tokens other than index 0 never
// overlap. Later spans overwrite earlier ones on shared tokens. Finally every
// sentinel token, index 0 included unless WithExemptFirstToken is set, is
// forced to schema.IgnoreID.
func Align(tokens []TokenSpan, spans []Span, opts ...Option) Result {
	o := buildOptions(opts)

	res := Result{Labels: make([]int, len(tokens))}
	for i := range res.Labels {
		res.Labels[i] = schema.OutsideID
	}

	indices := make([]int, 0, 16)
	for _, span := range spans {
		ids, ok := tagIDs(o.vocab, span.Type)
		if !ok {
			res.Dropped = append(res.Dropped, span)
			continue
		}

		indices = overlapping(indices[:0], tokens, span)
		switch len(indices) {
		case 0:
			res.Dropped = append(res.Dropped, span)
		case 1:
			res.Labels[indices[0]] = ids.unit
		default:
			last := len(indices) - 1
			for n, idx := range indices {
				switch n {
				case 0:
					res.Labels[idx] = ids.begin
				case last:
					res.Labels[idx] = ids.last
				default:
					res.Labels[idx] = ids.inside
				}
			}
		}
	}

	for i, tok := range tokens {
		if !IsSentinel(tok) {
			continue
		}
		if i == 0 && o.exemptFirstToken {
			continue
		}
		res.Labels[i] = schema.IgnoreID
	}

	return res
}

// overlapping appends to dst the indices of tokens overlapping span.
func overlapping(dst []int, tokens []TokenSpan, span Span) []int {
	for i, tok := range tokens {
		if i != 0 && IsSentinel(tok) {
			continue
		}
		if tok.End > span.Start && tok.Start < span.End {
			dst = append(dst, i)
		}
	}
	return dst
}

type bilouIDs struct {
	begin, inside, last, unit int
}

func tagIDs(v *schema.Vocabulary, t schema.EntityType) (bilouIDs, bool) {
	var ids bilouIDs
	var ok bool
	if ids.begin, ok = v.ID(schema.Label{Tag: schema.TagBegin, Type: t}); !ok {
		return ids, false
	}
	if ids.inside, ok = v.ID(schema.Label{Tag: schema.TagInside, Type: t}); !ok {
		return ids, false
	}
	if ids.last, ok = v.ID(schema.Label{Tag: schema.TagLast, Type: t}); !ok {
		return ids, false
	}
	if ids.unit, ok = v.ID(schema.Label{Tag: schema.TagUnit, Type: t}); !ok {
		return ids, false
	}
	return ids, true
}

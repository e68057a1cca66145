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

package align

import "sort"

// OffsetIndex converts between code-point offsets (as used by annotated
// corpora) and byte offsets (as reported by Go tokenizers) for one text.
type OffsetIndex struct {
	// byteAt[r] is the byte offset of code point r; the final entry is
	// len(text).
	byteAt []int
}

// NewOffsetIndex indexes text.
func NewOffsetIndex(text string) *OffsetIndex {
	byteAt := make([]int, 0, len(text)+1)
	for i := range text {
		byteAt = append(byteAt, i)
	}
	byteAt = append(byteAt, len(text))
	return &OffsetIndex{byteAt: byteAt}
}

// RuneCount returns the number of code points in the text.
func (x *OffsetIndex) RuneCount() int {
	return len(x.byteAt) - 1
}

// ByteOffset returns the byte offset of code point r, clamped to the text.
func (x *OffsetIndex) ByteOffset(r int) int {
	switch {
	case r <= 0:
		return 0
	case r >= len(x.byteAt):
		return x.byteAt[len(x.byteAt)-1]
	}
	return x.byteAt[r]
}

// RuneOffset returns the code-point offset of byte b, clamped to the text.
// A byte inside a multi-byte character maps to the following character.
func (x *OffsetIndex) RuneOffset(b int) int {
	if b <= 0 {
		return 0
	}
	if b >= x.byteAt[len(x.byteAt)-1] {
		return x.RuneCount()
	}
	return sort.SearchInts(x.byteAt, b)
}

// SpansToBytes converts code-point spans to byte spans.
func (x *OffsetIndex) SpansToBytes(spans []Span) []Span {
	out := make([]Span, len(spans))
	for i, s := range spans {
		out[i] = Span{Start: x.ByteOffset(s.Start), End: x.ByteOffset(s.End), Type: s.Type}
	}
	return out
}

// SpansToRunes converts byte spans to code-point spans.
func (x *OffsetIndex) SpansToRunes(spans []Span) []Span {
	out := make([]Span, len(spans))
	for i, s := range spans {
		out[i] = Span{Start: x.RuneOffset(s.Start), End: x.RuneOffset(s.End), Type: s.Type}
	}
	return out
}

// TokensToRunes converts byte token spans to code-point token spans.
// Sentinel tokens stay (0,0).
func (x *OffsetIndex) TokensToRunes(tokens []TokenSpan) []TokenSpan {
	out := make([]TokenSpan, len(tokens))
	for i, t := range tokens {
		out[i] = TokenSpan{Start: x.RuneOffset(t.Start), End: x.RuneOffset(t.End)}
	}
	return out
}

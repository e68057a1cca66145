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

package tokenizer

import (
	"fmt"
	"strings"
	"testing"
	"unicode"

	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/stretchr/testify/require"
)

const (
	clsID = 101
	sepID = 102
	padID = 7
)

// wordTokenizer emits one token per whitespace-separated word. Token ids
// are the word's byte length.
type wordTokenizer struct {
	specials map[api.SpecialToken]int
}

func newWordTokenizer() *wordTokenizer {
	return &wordTokenizer{specials: map[api.SpecialToken]int{
		api.TokClassification: clsID,
		api.TokEndOfSentence:  sepID,
		api.TokPad:            padID,
	}}
}

func (w *wordTokenizer) EncodeWithSpans(text string) api.EncodingResult {
	var res api.EncodingResult
	start := -1
	for i, r := range text + " " {
		switch {
		case unicode.IsSpace(r) && start >= 0:
			res.IDs = append(res.IDs, i-start)
			res.Spans = append(res.Spans, api.TokenSpan{Start: start, End: i})
			start = -1
		case !unicode.IsSpace(r) && start < 0:
			start = i
		}
	}
	return res
}

func (w *wordTokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	if id, ok := w.specials[token]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("no %s", token)
}

type idsOnlyTokenizer struct{ wordTokenizer }

func (t *idsOnlyTokenizer) EncodeWithSpans(text string) api.EncodingResult {
	return api.EncodingResult{IDs: []int{1, 2, 3}}
}

type panickyTokenizer struct{ wordTokenizer }

func (t *panickyTokenizer) EncodeWithSpans(string) api.EncodingResult {
	panic("index out of range")
}

func TestEncodePadsToMaxLength(t *testing.T) {
	enc, err := NewEncoder(newWordTokenizer(), WithMaxLength(8))
	require.NoError(t, err)

	got, err := enc.Encode("John Smith, DOB")
	require.NoError(t, err)

	require.Equal(t, []int{clsID, 4, 6, 3, sepID, padID, padID, padID}, got.InputIDs)
	require.Equal(t, []int{1, 1, 1, 1, 1, 0, 0, 0}, got.AttentionMask)
	require.Equal(t, []TokenSpan{
		{Start: 0, End: 0},
		{Start: 0, End: 4},
		{Start: 5, End: 11},
		{Start: 12, End: 15},
		{Start: 0, End: 0},
		{Start: 0, End: 0},
		{Start: 0, End: 0},
		{Start: 0, End: 0},
	}, got.Spans)
	require.Equal(t, 3, got.OriginalLength)
	require.False(t, got.Truncated)
}

func TestEncodeTruncatesKeepingSpecials(t *testing.T) {
	enc, err := NewEncoder(newWordTokenizer(), WithMaxLength(5))
	require.NoError(t, err)

	got, err := enc.Encode("a bb ccc dddd eeeee ffffff")
	require.NoError(t, err)
	require.Equal(t, []int{clsID, 1, 2, 3, sepID}, got.InputIDs)
	require.Equal(t, 6, got.OriginalLength)
	require.True(t, got.Truncated)
	require.Len(t, got.Spans, 5)
	require.Len(t, got.AttentionMask, 5)
}

func TestEncodeWithoutTruncation(t *testing.T) {
	enc, err := NewEncoder(newWordTokenizer(), WithMaxLength(4), WithTruncation(false))
	require.NoError(t, err)

	_, err = enc.Encode("one two three")
	require.ErrorIs(t, err, ErrTooLong)
}

func TestEncodeWithoutPadding(t *testing.T) {
	enc, err := NewEncoder(newWordTokenizer(), WithPadding(PaddingNone), WithSpecialTokens(false), WithPadTokenID(0))
	require.NoError(t, err)

	got, err := enc.Encode("one two")
	require.NoError(t, err)
	require.Equal(t, []int{3, 3}, got.InputIDs)
	require.Equal(t, []int{1, 1}, got.AttentionMask)
	require.Equal(t, 0, enc.Config().PadTokenID)
}

func TestEncodeEmptyText(t *testing.T) {
	enc, err := NewEncoder(newWordTokenizer(), WithMaxLength(4))
	require.NoError(t, err)

	got, err := enc.Encode("")
	require.NoError(t, err)
	require.Equal(t, []int{clsID, sepID, padID, padID}, got.InputIDs)
	require.Zero(t, got.OriginalLength)
}

func TestEncodeFailures(t *testing.T) {
	enc, err := NewEncoder(&idsOnlyTokenizer{*newWordTokenizer()})
	require.NoError(t, err)
	_, err = enc.Encode("x")
	require.ErrorIs(t, err, ErrNoSpans)

	enc, err = NewEncoder(&panickyTokenizer{*newWordTokenizer()})
	require.NoError(t, err)
	_, err = enc.Encode("x")
	require.ErrorContains(t, err, "index out of range")

	_, err = NewEncoder(newWordTokenizer(), WithMaxLength(2))
	require.Error(t, err)
}

func TestMatchPieces(t *testing.T) {
	text := "John Smith's MRN"

	tests := []struct {
		name   string
		pieces []string
		want   []TokenSpan
	}{
		{
			name:   "wordpiece",
			pieces: []string{"john", "smith", "'", "s", "mr", "##n"},
			want: []TokenSpan{
				{Start: 0, End: 4}, {Start: 5, End: 10}, {Start: 10, End: 11},
				{Start: 11, End: 12}, {Start: 13, End: 15}, {Start: 15, End: 16},
			},
		},
		{
			name:   "byte level markers",
			pieces: []string{"John", "ĠSmith", "'s", "ĠMRN"},
			want:   []TokenSpan{{Start: 0, End: 4}, {Start: 5, End: 10}, {Start: 10, End: 12}, {Start: 13, End: 16}},
		},
		{
			name:   "unknown token",
			pieces: []string{"john", "[UNK]", "smith"},
			want:   []TokenSpan{{Start: 0, End: 4}, {Start: 5, End: 5}, {Start: 5, End: 10}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, matchPieces(text, tt.pieces))
		})
	}
}

func TestBPESpansCoverText(t *testing.T) {
	tok, err := Load("tiktoken:cl100k_base")
	require.NoError(t, err)

	text := "Zoë Ångström was seen 05/02/1960 at St. Mary's."
	res := tok.EncodeWithSpans(text)
	require.Len(t, res.Spans, len(res.IDs))

	var b strings.Builder
	prev := 0
	for _, s := range res.Spans {
		require.Equal(t, prev, s.Start)
		b.WriteString(text[s.Start:s.End])
		prev = s.End
	}
	require.Equal(t, text, b.String())
}

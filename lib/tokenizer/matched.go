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
	"strings"
	"unicode"

	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/gomlx/go-huggingface/tokenizers/hftokenizer"
)

// matchedTokenizer recovers spans for the pure Go tokenizer.json
// implementation, which reports ids only, by locating each token's text in
// the input in order.
type matchedTokenizer struct {
	tok *hftokenizer.Tokenizer
}

var _ Tokenizer = (*matchedTokenizer)(nil)

func (t *matchedTokenizer) EncodeWithSpans(text string) api.EncodingResult {
	ids := t.tok.Encode(text)
	pieces := make([]string, len(ids))
	for i, id := range ids {
		pieces[i], _ = t.tok.IDToToken(id)
	}
	return api.EncodingResult{IDs: ids, Spans: matchPieces(text, pieces)}
}

func (t *matchedTokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	return t.tok.SpecialTokenID(token)
}

// matchPieces aligns token strings to text left to right. Piece markers
// ("##", "Ġ", "▁") are removed and matching ignores case. A piece that cannot
// be found, such as an unknown token, gets an empty span at the cursor.
func matchPieces(text string, pieces []string) []api.TokenSpan {
	hay := text
	if lower := strings.ToLower(text); len(lower) == len(text) {
		hay = lower
	}

	spans := make([]api.TokenSpan, len(pieces))
	pos := 0
	for i, p := range pieces {
		p = strings.ToLower(cleanPiece(p))
		for pos < len(text) && unicode.IsSpace(rune(text[pos])) && text[pos] < 0x80 {
			pos++
		}
		if p == "" {
			spans[i] = api.TokenSpan{Start: pos, End: pos}
			continue
		}
		if idx := strings.Index(hay[pos:], p); idx >= 0 {
			start := pos + idx
			spans[i] = api.TokenSpan{Start: start, End: start + len(p)}
			pos = start + len(p)
			continue
		}
		spans[i] = api.TokenSpan{Start: pos, End: pos}
	}
	return spans
}

var pieceReplacer = strings.NewReplacer("Ġ", " ", "Ċ", "\n", "▁", " ")

func cleanPiece(p string) string {
	p = strings.TrimPrefix(p, "##")
	return strings.TrimSpace(pieceReplacer.Replace(p))
}

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

	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

const defaultBPEEncoding = "cl100k_base"

func init() {
	// Use the embedded dictionaries; never fetch encodings over the network.
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// BPETokenizer uses OpenAI's tiktoken byte-level BPE. Every token decodes
// to an exact byte slice of the input, so spans are cumulative lengths.
type BPETokenizer struct {
	tiktoken *tiktoken.Tiktoken
	encoding string
}

var _ Tokenizer = (*BPETokenizer)(nil)

// NewBPE returns a tiktoken tokenizer for encoding, one of cl100k_base,
// o200k_base, p50k_base or r50k_base. Empty selects cl100k_base.
func NewBPE(encoding string) (*BPETokenizer, error) {
	if encoding == "" {
		encoding = defaultBPEEncoding
	}
	tk, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding %q: %w", encoding, err)
	}
	return &BPETokenizer{tiktoken: tk, encoding: encoding}, nil
}

// EncodeWithSpans encodes text and derives byte spans by decoding each
// token on its own.
func (t *BPETokenizer) EncodeWithSpans(text string) api.EncodingResult {
	ids := t.tiktoken.Encode(text, nil, nil)
	res := api.EncodingResult{
		IDs:   ids,
		Spans: make([]api.TokenSpan, len(ids)),
	}
	pos := 0
	for i, id := range ids {
		n := len(t.tiktoken.Decode([]int{id}))
		end := min(pos+n, len(text))
		res.Spans[i] = api.TokenSpan{Start: pos, End: end}
		pos = end
	}
	return res
}

// SpecialTokenID pads with the end-of-text token. Sequences are not
// wrapped, so no other specials are reported.
func (t *BPETokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	switch token {
	case api.TokPad:
		ids := t.tiktoken.Encode("<|endoftext|>", []string{"all"}, nil)
		if len(ids) == 1 {
			return ids[0], nil
		}
	}
	return 0, fmt.Errorf("special token %s not defined for %s", token, t.encoding)
}

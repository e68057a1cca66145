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
	"os"
	"strings"

	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/decoder"
	"github.com/sugarme/tokenizer/model"
	"github.com/sugarme/tokenizer/model/wordpiece"
	"github.com/sugarme/tokenizer/normalizer"
	"github.com/sugarme/tokenizer/pretokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	"github.com/sugarme/tokenizer/util"
)

// sugarmeTokenizer adapts github.com/sugarme/tokenizer, which reports
// offsets for WordPiece, BPE and Unigram models loaded from tokenizer.json.
type sugarmeTokenizer struct {
	tk *tokenizer.Tokenizer
}

var _ Tokenizer = (*sugarmeTokenizer)(nil)

// loadPretrained loads a tokenizer.json file.
func loadPretrained(path string) (Tokenizer, error) {
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return &sugarmeTokenizer{tk: tk}, nil
}

// NewWordPiece builds an uncased BERT WordPiece tokenizer from a vocab.txt
// file (one token per line, id is the line number).
func NewWordPiece(vocabPath string) (Tokenizer, error) {
	data, err := os.ReadFile(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("reading vocab: %w", err)
	}

	vocab := make(model.Vocab)
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line != "" {
			vocab[line] = i
		}
	}

	opts := util.NewParams(map[string]any{
		"unk_token": "[UNK]",
	})
	wp, err := wordpiece.New(vocab, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create wordpiece model: %w", err)
	}

	tk := tokenizer.NewTokenizer(wp)
	tk.WithNormalizer(normalizer.NewBertNormalizer(true, true, true, true))
	tk.WithPreTokenizer(pretokenizer.NewBertPreTokenizer())
	tk.AddSpecialTokens([]tokenizer.AddedToken{tokenizer.NewAddedToken("[MASK]", true)})
	tk.AddSpecialTokens([]tokenizer.AddedToken{tokenizer.NewAddedToken("[SEP]", true)})
	tk.AddSpecialTokens([]tokenizer.AddedToken{tokenizer.NewAddedToken("[CLS]", true)})
	tk.WithDecoder(decoder.DefaultWordpieceDecoder())

	return &sugarmeTokenizer{tk: tk}, nil
}

// EncodeWithSpans encodes text without special tokens. The library reports
// failures by error and, for some inputs, by panicking inside its
// normalizer; both surface as a panic the Encoder recovers.
func (t *sugarmeTokenizer) EncodeWithSpans(text string) api.EncodingResult {
	enc, err := t.tk.EncodeSingle(text, false)
	if err != nil {
		panic(fmt.Errorf("wordpiece encode: %w", err))
	}

	res := api.EncodingResult{
		IDs:   make([]int, len(enc.Ids)),
		Spans: make([]api.TokenSpan, len(enc.Ids)),
	}
	copy(res.IDs, enc.Ids)
	for i := range res.Spans {
		if i < len(enc.Offsets) && len(enc.Offsets[i]) == 2 {
			res.Spans[i] = api.TokenSpan{Start: enc.Offsets[i][0], End: enc.Offsets[i][1]}
		}
	}
	return res
}

var sugarmeSpecials = map[api.SpecialToken][]string{
	api.TokUnknown:             {"[UNK]", "<unk>"},
	api.TokPad:                 {"[PAD]", "<pad>"},
	api.TokBeginningOfSentence: {"<s>", "[CLS]"},
	api.TokEndOfSentence:       {"</s>", "[SEP]"},
	api.TokClassification:      {"[CLS]", "<s>"},
	api.TokMask:                {"[MASK]", "<mask>"},
}

// SpecialTokenID looks up the conventional BERT and RoBERTa spellings.
func (t *sugarmeTokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	for _, s := range sugarmeSpecials[token] {
		if id, ok := t.tk.TokenToId(s); ok {
			return id, nil
		}
	}
	return 0, fmt.Errorf("special token %s not found", token)
}

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

//go:build onnx && ORT

package tokenizer

import (
	"fmt"
	"os"

	"github.com/daulet/tokenizers"
	"github.com/gomlx/go-huggingface/tokenizers/api"
)

// rustTokenizer binds the HuggingFace tokenizers library through cgo. It is
// the only backend that reports exact offsets for every tokenizer.json model.
type rustTokenizer struct {
	tk  *tokenizers.Tokenizer
	cfg *api.Config
}

var _ Tokenizer = (*rustTokenizer)(nil)

func loadRustTokenizer(path string, cfg *api.Config) (Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tk, err := tokenizers.FromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("rust tokenizer: %w", err)
	}
	return &rustTokenizer{tk: tk, cfg: cfg}, nil
}

func (t *rustTokenizer) EncodeWithSpans(text string) api.EncodingResult {
	enc := t.tk.EncodeWithOptions(text, false, tokenizers.WithReturnOffsets())

	ids := make([]int, len(enc.IDs))
	spans := make([]api.TokenSpan, len(enc.IDs))
	for i := range enc.IDs {
		ids[i] = int(enc.IDs[i])
		if i < len(enc.Offsets) {
			off := enc.Offsets[i]
			spans[i] = api.TokenSpan{Start: int(off[0]), End: int(off[1])}
		}
	}
	return api.EncodingResult{IDs: ids, Spans: spans}
}

// SpecialTokenID resolves the token's text from tokenizer_config.json and
// looks it up in the vocabulary.
func (t *rustTokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	text, err := specialTokenText(t.cfg, token)
	if err != nil {
		return 0, err
	}
	enc := t.tk.EncodeWithOptions(text, false)
	if len(enc.IDs) == 0 {
		return 0, fmt.Errorf("special token %q not in vocabulary", text)
	}
	return int(enc.IDs[0]), nil
}

func (t *rustTokenizer) Close() error {
	if t.tk == nil {
		return nil
	}
	return t.tk.Close()
}

// specialTokenText maps a special token to its configured spelling. An
// end-of-sentence token falls back to the separator for BERT-style configs.
func specialTokenText(cfg *api.Config, token api.SpecialToken) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("special token %s: no tokenizer_config.json", token)
	}
	candidates := map[api.SpecialToken][]string{
		api.TokUnknown:             {cfg.UnkToken},
		api.TokPad:                 {cfg.PadToken},
		api.TokBeginningOfSentence: {cfg.BosToken},
		api.TokEndOfSentence:       {cfg.EosToken, cfg.SepToken},
		api.TokClassification:      {cfg.ClsToken},
		api.TokMask:                {cfg.MaskToken},
	}[token]
	for _, s := range candidates {
		if s != "" {
			return s, nil
		}
	}
	return "", fmt.Errorf("special token %s not configured", token)
}

// rustTokenizerAvailable reports whether the Rust backend may be used.
// TOKENIZER_BACKEND=go forces the pure Go backends.
func rustTokenizerAvailable() bool {
	return os.Getenv("TOKENIZER_BACKEND") != "go"
}

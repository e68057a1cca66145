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

// Package tokenizer loads offset-reporting tokenizers and encodes text into
// fixed-length model inputs with a byte span for every position.
package tokenizer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	esentencepiece "github.com/eliben/go-sentencepiece"
	"github.com/goccy/go-json"
	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/gomlx/go-huggingface/tokenizers/hftokenizer"
	"github.com/gomlx/go-huggingface/tokenizers/sentencepiece"
)

// ErrNoSpans is returned when a tokenizer cannot report token offsets.
var ErrNoSpans = errors.New("tokenizer does not report token spans")

// Tokenizer encodes text into content token ids with byte spans. Special
// tokens are not added; the Encoder wraps them.
type Tokenizer interface {
	EncodeWithSpans(text string) api.EncodingResult
	SpecialTokenID(token api.SpecialToken) (int, error)
}

const (
	tiktokenPrefix  = "tiktoken:"
	wordpiecePrefix = "wordpiece:"
)

// Load resolves a tokenizer reference:
//
//	tiktoken:<encoding>   OpenAI BPE encoding, e.g. tiktoken:cl100k_base
//	wordpiece:<vocab.txt> BERT WordPiece over a vocabulary file
//	<dir>                 HuggingFace model directory
//
// A directory is searched for tokenizer.json, then tokenizer.model, then
// vocab.txt.
func Load(ref string) (Tokenizer, error) {
	if enc, ok := strings.CutPrefix(ref, tiktokenPrefix); ok {
		return NewBPE(enc)
	}
	if vocab, ok := strings.CutPrefix(ref, wordpiecePrefix); ok {
		return NewWordPiece(vocab)
	}
	return loadDir(ref)
}

type dirLoader func(path string, cfg *api.Config) (Tokenizer, error)

// dirFormats are probed in order; the first file present wins.
var dirFormats = []struct {
	file string
	load dirLoader
}{
	{"tokenizer.json", loadTokenizerJSON},
	{"tokenizer.model", loadSentencePiece},
	{"vocab.txt", func(path string, _ *api.Config) (Tokenizer, error) { return NewWordPiece(path) }},
}

func loadDir(dir string) (Tokenizer, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("tokenizer %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("tokenizer %s: not a directory", dir)
	}

	cfg, err := readTokenizerConfig(dir)
	if err != nil {
		return nil, err
	}

	for _, f := range dirFormats {
		path := filepath.Join(dir, f.file)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		tok, err := f.load(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", f.file, err)
		}
		return tok, nil
	}
	return nil, fmt.Errorf("no tokenizer found in %s (expected tokenizer.json, tokenizer.model or vocab.txt)", dir)
}

// loadTokenizerJSON prefers the Rust library when it is compiled in, then
// the sugarme pretrained loader, then go-huggingface's parser with offsets
// recovered by matching pieces against the text.
func loadTokenizerJSON(path string, cfg *api.Config) (Tokenizer, error) {
	if rustTokenizerAvailable() {
		if tok, err := loadRustTokenizer(path, cfg); err == nil && tok != nil {
			return tok, nil
		}
	}
	if tok, err := loadPretrained(path); err == nil {
		return tok, nil
	}
	tok, err := hftokenizer.NewFromFile(cfg, path)
	if err != nil {
		return nil, err
	}
	return &matchedTokenizer{tok: tok}, nil
}

func loadSentencePiece(path string, _ *api.Config) (Tokenizer, error) {
	proc, err := esentencepiece.NewProcessorFromPath(path)
	if err != nil {
		return nil, err
	}
	return &sentencepiece.Tokenizer{Processor: proc, Info: proc.ModelInfo()}, nil
}

// readTokenizerConfig parses tokenizer_config.json when the directory has
// one. A missing file is not an error.
func readTokenizerConfig(dir string) (*api.Config, error) {
	path := filepath.Join(dir, "tokenizer_config.json")
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	content, err := normalizeTokenizerConfig(path)
	if err != nil {
		return nil, fmt.Errorf("tokenizer config: %w", err)
	}
	cfg, err := api.ParseConfigContent(content)
	if err != nil {
		return nil, fmt.Errorf("tokenizer config %s: %w", path, err)
	}
	cfg.ConfigFile = path
	return cfg, nil
}

// Close releases tokenizer resources, if it holds any.
func Close(tok Tokenizer) error {
	if c, ok := tok.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// normalizeTokenizerConfig flattens every "*_token" entry of a
// tokenizer_config.json to a plain string. Newer exports write special
// tokens as {"__type": "AddedToken", "content": "<s>", ...} objects, which
// api.ParseConfigContent rejects.
func normalizeTokenizerConfig(path string) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	for k, v := range raw {
		if !strings.HasSuffix(k, "_token") {
			continue
		}
		if obj, ok := v.(map[string]any); ok {
			content, _ := obj["content"].(string)
			raw[k] = content
		}
	}
	return json.Marshal(raw)
}

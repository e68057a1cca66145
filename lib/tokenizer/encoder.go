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
	"errors"
	"fmt"

	"github.com/gomlx/go-huggingface/tokenizers/api"
)

// TokenSpan is the byte span of a token in the original text.
type TokenSpan = api.TokenSpan

// PaddingStrategy specifies how to pad sequences.
type PaddingStrategy string

const (
	// PaddingNone leaves sequences at their natural length.
	PaddingNone PaddingStrategy = "none"
	// PaddingMaxLength pads to the configured max length.
	PaddingMaxLength PaddingStrategy = "max_length"
)

// ErrTooLong is returned when truncation is disabled and a sequence exceeds
// the max length.
var ErrTooLong = errors.New("sequence exceeds max length")

// EncoderConfig holds configuration for an Encoder.
type EncoderConfig struct {
	// MaxLength is the maximum sequence length, special tokens included.
	MaxLength int

	// Padding specifies the padding strategy.
	Padding PaddingStrategy

	// Truncation drops content tokens past MaxLength.
	Truncation bool

	// PadTokenID is the token ID used for padding.
	// If negative, it is taken from the tokenizer, falling back to 0.
	PadTokenID int

	// AddSpecialTokens wraps content with the tokenizer's CLS/BOS and
	// SEP/EOS tokens when it defines them.
	AddSpecialTokens bool
}

// DefaultEncoderConfig matches the training preprocessing: 4096 tokens,
// padded to max length, truncated.
func DefaultEncoderConfig() *EncoderConfig {
	return &EncoderConfig{
		MaxLength:        4096,
		Padding:          PaddingMaxLength,
		Truncation:       true,
		PadTokenID:       -1,
		AddSpecialTokens: true,
	}
}

// EncoderOption is a functional option for configuring an Encoder.
type EncoderOption func(*EncoderConfig)

// WithMaxLength sets the maximum sequence length.
func WithMaxLength(length int) EncoderOption {
	return func(c *EncoderConfig) {
		c.MaxLength = length
	}
}

// WithPadding sets the padding strategy.
func WithPadding(strategy PaddingStrategy) EncoderOption {
	return func(c *EncoderConfig) {
		c.Padding = strategy
	}
}

// WithTruncation enables or disables truncation.
func WithTruncation(truncate bool) EncoderOption {
	return func(c *EncoderConfig) {
		c.Truncation = truncate
	}
}

// WithPadTokenID sets the padding token ID.
func WithPadTokenID(id int) EncoderOption {
	return func(c *EncoderConfig) {
		c.PadTokenID = id
	}
}

// WithSpecialTokens controls whether to add special tokens.
func WithSpecialTokens(add bool) EncoderOption {
	return func(c *EncoderConfig) {
		c.AddSpecialTokens = add
	}
}

// Encoding is one encoded text. All slices have the same length.
type Encoding struct {
	InputIDs      []int
	AttentionMask []int

	// Spans holds the byte span of each position. Special and padding
	// tokens carry the (0,0) sentinel.
	Spans []TokenSpan

	// OriginalLength is the number of content tokens before truncation.
	OriginalLength int

	// Truncated reports whether content tokens were dropped.
	Truncated bool
}

// Encoder turns text into fixed-shape model inputs with offsets. It is
// safe for concurrent use if the underlying tokenizer is.
type Encoder struct {
	tok    Tokenizer
	config EncoderConfig

	prefix []int
	suffix []int
}

// NewEncoder resolves special and padding tokens from tok.
func NewEncoder(tok Tokenizer, opts ...EncoderOption) (*Encoder, error) {
	config := DefaultEncoderConfig()
	for _, opt := range opts {
		opt(config)
	}

	e := &Encoder{tok: tok, config: *config}

	if e.config.PadTokenID < 0 {
		e.config.PadTokenID = 0
		if padID, err := tok.SpecialTokenID(api.TokPad); err == nil {
			e.config.PadTokenID = padID
		}
	}

	if e.config.AddSpecialTokens {
		if id, err := tok.SpecialTokenID(api.TokClassification); err == nil {
			e.prefix = []int{id}
		} else if id, err := tok.SpecialTokenID(api.TokBeginningOfSentence); err == nil {
			e.prefix = []int{id}
		}
		if id, err := tok.SpecialTokenID(api.TokEndOfSentence); err == nil {
			e.suffix = []int{id}
		}
	}

	if e.config.MaxLength <= len(e.prefix)+len(e.suffix) {
		return nil, fmt.Errorf("max length %d leaves no room for content", e.config.MaxLength)
	}
	return e, nil
}

// Config returns the effective configuration.
func (e *Encoder) Config() EncoderConfig {
	return e.config
}

// Encode tokenizes text. Panics raised by tokenizer libraries are returned
// as errors.
func (e *Encoder) Encode(text string) (enc *Encoding, err error) {
	defer func() {
		if r := recover(); r != nil {
			enc = nil
			err = fmt.Errorf("tokenizer panic: %v", r)
		}
	}()

	res := e.tok.EncodeWithSpans(text)
	if len(res.Spans) != len(res.IDs) {
		return nil, ErrNoSpans
	}

	ids, spans := res.IDs, res.Spans
	budget := e.config.MaxLength - len(e.prefix) - len(e.suffix)
	enc = &Encoding{OriginalLength: len(ids)}
	if len(ids) > budget {
		if !e.config.Truncation {
			return nil, fmt.Errorf("%w: %d tokens, max %d", ErrTooLong, len(ids)+len(e.prefix)+len(e.suffix), e.config.MaxLength)
		}
		ids, spans = ids[:budget], spans[:budget]
		enc.Truncated = true
	}

	n := len(e.prefix) + len(ids) + len(e.suffix)
	targetLen := n
	if e.config.Padding == PaddingMaxLength {
		targetLen = e.config.MaxLength
	}

	enc.InputIDs = make([]int, 0, targetLen)
	enc.AttentionMask = make([]int, targetLen)
	enc.Spans = make([]TokenSpan, targetLen)

	enc.InputIDs = append(enc.InputIDs, e.prefix...)
	enc.InputIDs = append(enc.InputIDs, ids...)
	enc.InputIDs = append(enc.InputIDs, e.suffix...)
	copy(enc.Spans[len(e.prefix):], spans)
	for j := range n {
		enc.AttentionMask[j] = 1
	}

	// Padding tokens get zero spans (already zeroed by make)
	for len(enc.InputIDs) < targetLen {
		enc.InputIDs = append(enc.InputIDs, e.config.PadTokenID)
	}

	return enc, nil
}

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

// Package phimask prepares PHI-annotated corpora for token-classification
// training and de-identifies documents, as batch jobs or as an HTTP service.
package phimask

import (
	"fmt"
	"time"

	"github.com/antflydb/phimask/lib/deid"
	"github.com/antflydb/phimask/lib/tokenizer"
)

// Config holds the settings shared by the service and the batch commands.
type Config struct {
	// ApiUrl is the address the HTTP service listens on.
	ApiUrl string `json:"api_url" yaml:"api_url"`

	// Tokenizer is a tokenizer directory, "tiktoken:<encoding>" or
	// "wordpiece:<vocab.txt>".
	Tokenizer string `json:"tokenizer" yaml:"tokenizer"`

	MaxLength int    `json:"max_length" yaml:"max_length"`
	Padding   string `json:"padding" yaml:"padding"`
	Workers   int    `json:"workers" yaml:"workers"`

	// Seed makes surrogates reproducible. Zero draws a random seed.
	Seed uint64 `json:"seed" yaml:"seed"`

	// DateLayouts replaces the date formats tried for DATE and
	// DATE_OF_BIRTH, in order. Empty keeps the built-in formats.
	DateLayouts []deid.DateLayout `json:"date_layouts,omitempty" yaml:"date_layouts"`

	// Domain selects corpus records by domain. Empty keeps every record.
	Domain string `json:"domain" yaml:"domain"`

	// ModelsDir holds pulled artifacts; a tagger in ModelsDir/models/... or
	// ModelDir enables /api/recognize.
	ModelsDir string `json:"models_dir" yaml:"models_dir"`
	ModelDir  string `json:"model_dir" yaml:"model_dir"`

	// Backend is the preferred inference backend ("go", "onnx" or empty).
	Backend string `json:"backend" yaml:"backend"`
	Device  string `json:"device" yaml:"device"`

	MaxConcurrentRequests int    `json:"max_concurrent_requests" yaml:"max_concurrent_requests"`
	MaxQueueSize          int    `json:"max_queue_size" yaml:"max_queue_size"`
	RequestTimeout        string `json:"request_timeout" yaml:"request_timeout"`
	CacheTTL              string `json:"cache_ttl" yaml:"cache_ttl"`
}

// Defaults applied to zero-valued Config fields.
const (
	DefaultApiUrl    = "http://localhost:11435"
	DefaultMaxLength = 4096
	DefaultDomain    = "Healthcare"
)

// WithDefaults returns a copy of c with zero fields filled in.
func (c Config) WithDefaults() Config {
	if c.ApiUrl == "" {
		c.ApiUrl = DefaultApiUrl
	}
	if c.MaxLength <= 0 {
		c.MaxLength = DefaultMaxLength
	}
	if c.Padding == "" {
		c.Padding = string(tokenizer.PaddingMaxLength)
	}
	return c
}

// Deidentifier returns a Deidentifier using DateLayouts, after checking
// that every layout parses what it renders.
func (c Config) Deidentifier() (*deid.Deidentifier, error) {
	for i, l := range c.DateLayouts {
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("date_layouts[%d]: %w", i, err)
		}
	}
	return deid.New(deid.WithDateLayouts(c.DateLayouts...)), nil
}

// PaddingStrategy parses Padding.
func (c Config) PaddingStrategy() (tokenizer.PaddingStrategy, error) {
	switch p := tokenizer.PaddingStrategy(c.Padding); p {
	case "", tokenizer.PaddingMaxLength:
		return tokenizer.PaddingMaxLength, nil
	case tokenizer.PaddingNone, "longest":
		return tokenizer.PaddingNone, nil
	default:
		return "", fmt.Errorf("invalid padding %q: expected max_length or none", c.Padding)
	}
}

// EncoderOptions returns the encoder options for MaxLength and Padding.
func (c Config) EncoderOptions() ([]tokenizer.EncoderOption, error) {
	padding, err := c.PaddingStrategy()
	if err != nil {
		return nil, err
	}
	c = c.WithDefaults()
	return []tokenizer.EncoderOption{
		tokenizer.WithMaxLength(c.MaxLength),
		tokenizer.WithPadding(padding),
		tokenizer.WithTruncation(true),
	}, nil
}

func parseDuration(name, s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration %q: %w", name, s, err)
	}
	return d, nil
}

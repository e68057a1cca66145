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

package ner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/antflydb/phimask/lib/schema"
	"github.com/goccy/go-json"
)

// ErrLabelMismatch is returned when a model's label map does not match the
// label vocabulary id for id.
var ErrLabelMismatch = errors.New("model labels do not match the label vocabulary")

// LabelConfig is the label map of a token-classification model directory.
type LabelConfig struct {
	// Labels is id2label flattened into id order.
	Labels []string `json:"labels"`

	ID2Label map[string]string `json:"id2label"`
	Label2ID map[string]int    `json:"label2id"`
}

// LoadLabelConfig reads id2label from config.json in modelPath and checks it
// against the default vocabulary.
func LoadLabelConfig(modelPath string) (*LabelConfig, error) {
	return LoadLabelConfigFor(modelPath, schema.Default())
}

// LoadLabelConfigFor is LoadLabelConfig against an explicit vocabulary.
func LoadLabelConfigFor(modelPath string, vocab *schema.Vocabulary) (*LabelConfig, error) {
	path := filepath.Join(modelPath, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model config: %w", err)
	}

	var cfg LabelConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing model config: %w", err)
	}
	if len(cfg.ID2Label) == 0 {
		return nil, fmt.Errorf("no id2label found in %s", path)
	}

	cfg.Labels = make([]string, len(cfg.ID2Label))
	for idStr, label := range cfg.ID2Label {
		id, err := strconv.Atoi(idStr)
		if err != nil || id < 0 || id >= len(cfg.Labels) {
			return nil, fmt.Errorf("%w: id %q out of range", ErrLabelMismatch, idStr)
		}
		cfg.Labels[id] = label
	}

	if err := cfg.Verify(vocab); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Verify checks that the label list equals the vocabulary id for id.
func (c *LabelConfig) Verify(vocab *schema.Vocabulary) error {
	want := vocab.Labels()
	if len(c.Labels) != len(want) {
		return fmt.Errorf("%w: model has %d labels, vocabulary has %d",
			ErrLabelMismatch, len(c.Labels), len(want))
	}
	for id, label := range c.Labels {
		if label != want[id] {
			return fmt.Errorf("%w: id %d is %q, expected %q", ErrLabelMismatch, id, label, want[id])
		}
	}
	return nil
}

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

// Package corpus reads and writes the record formats that flow through
// phimask: annotated source documents, aligned training rows, model
// predictions and redacted documents.
package corpus

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/antflydb/phimask/lib/align"
	"github.com/antflydb/phimask/lib/deid"
	"github.com/antflydb/phimask/lib/schema"
)

// ErrEmptyText is returned for records without text.
var ErrEmptyText = errors.New("record has no text")

// SourceSpan is an annotation as published by the dataset: code-point
// offsets and a source label.
type SourceSpan struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Label string `json:"label"`
	Text  string `json:"text,omitempty"`
}

// SpanList decodes from either a JSON array or a string holding a JSON or
// Python-literal list, the two shapes found in dataset exports.
type SpanList []SourceSpan

func (s *SpanList) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		spans, err := ParseSpans(raw)
		if err != nil {
			return err
		}
		*s = spans
		return nil
	}
	var spans []SourceSpan
	if err := json.Unmarshal(data, &spans); err != nil {
		return err
	}
	*s = spans
	return nil
}

// ParseSpans decodes a span list serialized as JSON or as a Python literal
// such as [{'start': 0, 'end': 4, 'label': 'first_name'}].
func ParseSpans(raw string) ([]SourceSpan, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "None" {
		return nil, nil
	}
	var spans []SourceSpan
	if err := json.Unmarshal([]byte(raw), &spans); err == nil {
		return spans, nil
	}
	converted, err := pythonToJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing spans: %w", err)
	}
	if err := json.Unmarshal([]byte(converted), &spans); err != nil {
		return nil, fmt.Errorf("parsing spans: %w", err)
	}
	return spans, nil
}

// Record is one annotated source document.
type Record struct {
	UID          string   `json:"uid"`
	Domain       string   `json:"domain,omitempty"`
	DocumentType string   `json:"document_type,omitempty"`
	Text         string   `json:"text"`
	Spans        SpanList `json:"spans"`
}

// EntitySpans resolves source labels through m and converts code-point
// offsets to byte offsets. Unmapped labels are dropped.
func (r Record) EntitySpans(m schema.SourceMapping) []align.Span {
	idx := align.NewOffsetIndex(r.Text)
	out := make([]align.Span, 0, len(r.Spans))
	for _, s := range r.Spans {
		t, ok := m.Resolve(s.Label)
		if !ok {
			continue
		}
		out = append(out, align.Span{
			Start: idx.ByteOffset(s.Start),
			End:   idx.ByteOffset(s.End),
			Type:  t,
		})
	}
	return out
}

// AlignedRecord is a training row: model inputs and BILOU label ids.
type AlignedRecord struct {
	UID           string `json:"uid"`
	DocumentType  string `json:"document_type,omitempty"`
	InputIDs      []int  `json:"input_ids"`
	AttentionMask []int  `json:"attention_mask"`
	Labels        []int  `json:"labels"`
}

// Prediction is a model's label sequence for a text, aligned with the
// configured tokenizer.
type Prediction struct {
	UID    string `json:"uid"`
	Text   string `json:"text,omitempty"`
	Labels []int  `json:"labels"`
}

// RedactedRecord is a de-identified document. Replacement offsets are
// code points into the original text.
type RedactedRecord struct {
	UID          string             `json:"uid"`
	DocumentType string             `json:"document_type,omitempty"`
	Text         string             `json:"text"`
	Replacements []deid.Replacement `json:"replacements,omitempty"`
	DateShift    int                `json:"date_shift"`
}

// Filter selects records by domain and, optionally, document type.
type Filter struct {
	Domain        string
	DocumentTypes []string
}

// Match reports whether r passes the filter. Empty fields match anything.
func (f Filter) Match(r Record) bool {
	if f.Domain != "" && r.Domain != f.Domain {
		return false
	}
	if len(f.DocumentTypes) > 0 && !slices.Contains(f.DocumentTypes, r.DocumentType) {
		return false
	}
	return true
}

// Counts tallies string keys for reports.
type Counts map[string]int

// Add increments key by n.
func (c Counts) Add(key string, n int) {
	c[key] += n
}

// CountEntry is one row of Counts.Sorted.
type CountEntry struct {
	Key   string `json:"key" yaml:"key"`
	Count int    `json:"count" yaml:"count"`
}

// Sorted returns entries by descending count, then key.
func (c Counts) Sorted() []CountEntry {
	out := make([]CountEntry, 0, len(c))
	for k, v := range c {
		out = append(out, CountEntry{Key: k, Count: v})
	}
	slices.SortFunc(out, func(a, b CountEntry) int {
		if n := cmp.Compare(b.Count, a.Count); n != 0 {
			return n
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return out
}

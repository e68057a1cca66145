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

package deid

import (
	"cmp"
	"slices"
	"unicode/utf8"

	"github.com/antflydb/phimask/lib/align"
	"github.com/antflydb/phimask/lib/schema"
)

// Replacement records one substitution made by Redact. Offsets are byte
// offsets into the original text.
type Replacement struct {
	Start     int               `json:"start"`
	End       int               `json:"end"`
	Type      schema.EntityType `json:"label"`
	Original  string            `json:"original"`
	Surrogate string            `json:"surrogate"`
	Policy    Policy            `json:"policy"`
}

// Redact replaces every span in text with its surrogate. Spans are byte
// offsets. Spans that are empty, out of bounds or not on rune boundaries are
// ignored; of overlapping spans the one starting first is kept. Surrogates
// are drawn in document order so a seeded state is reproducible.
func (d *Deidentifier) Redact(text string, spans []align.Span, st *DocumentState) (string, []Replacement) {
	kept := dedupe(validSpans(text, spans))
	if len(kept) == 0 {
		return text, nil
	}

	reps := make([]Replacement, len(kept))
	for i, sp := range kept {
		orig := text[sp.Start:sp.End]
		reps[i] = Replacement{
			Start:     sp.Start,
			End:       sp.End,
			Type:      sp.Type,
			Original:  orig,
			Surrogate: d.Replace(orig, sp.Type, st),
			Policy:    d.Classify(sp.Type),
		}
	}

	// Substitute right to left so earlier offsets stay valid.
	out := text
	for i := len(reps) - 1; i >= 0; i-- {
		r := reps[i]
		out = out[:r.Start] + r.Surrogate + out[r.End:]
	}
	return out, reps
}

func validSpans(text string, spans []align.Span) []align.Span {
	out := make([]align.Span, 0, len(spans))
	for _, sp := range spans {
		if sp.Start < 0 || sp.End > len(text) || sp.Start >= sp.End {
			continue
		}
		if !isRuneBoundary(text, sp.Start) || !isRuneBoundary(text, sp.End) {
			continue
		}
		out = append(out, sp)
	}
	return out
}

// dedupe sorts spans by start, longest first on ties, and drops any span
// overlapping one already kept.
func dedupe(spans []align.Span) []align.Span {
	slices.SortStableFunc(spans, func(a, b align.Span) int {
		if c := cmp.Compare(a.Start, b.Start); c != 0 {
			return c
		}
		return cmp.Compare(b.End, a.End)
	})
	out := spans[:0]
	end := -1
	for _, sp := range spans {
		if sp.Start >= end {
			out = append(out, sp)
			end = sp.End
		}
	}
	return out
}

func isRuneBoundary(s string, i int) bool {
	if i == 0 || i == len(s) {
		return true
	}
	return utf8.RuneStart(s[i])
}

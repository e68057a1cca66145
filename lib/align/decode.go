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

package align

import "github.com/antflydb/phimask/lib/schema"

// Decode groups a label sequence back into spans using the token offsets.
//
// A U token is a span on its own. B opens a span, I extends it and L closes
// it. Outside, ignore, unknown ids and zero-width tokens close any open
// span. Model output is not always well formed, so an I or L with no open
// span of the same type starts a new span rather than being discarded.
func Decode(tokens []TokenSpan, labels []int, opts ...Option) []Span {
	o := buildOptions(opts)

	n := min(len(tokens), len(labels))
	var (
		out []Span
		cur *Span
	)
	flush := func() {
		if cur != nil {
			out = append(out, *cur)
			cur = nil
		}
	}

	for i := 0; i < n; i++ {
		tok := tokens[i]
		if tok.End <= tok.Start {
			flush()
			continue
		}

		l, ok := o.vocab.Label(labels[i])
		if !ok || l.IsOutside() {
			flush()
			continue
		}

		switch l.Tag {
		case schema.TagUnit:
			flush()
			out = append(out, Span{Start: tok.Start, End: tok.End, Type: l.Type})

		case schema.TagBegin:
			flush()
			cur = &Span{Start: tok.Start, End: tok.End, Type: l.Type}

		case schema.TagInside, schema.TagLast:
			if cur != nil && cur.Type == l.Type {
				cur.End = tok.End
			} else {
				flush()
				cur = &Span{Start: tok.Start, End: tok.End, Type: l.Type}
			}
			if l.Tag == schema.TagLast {
				flush()
			}
		}
	}
	flush()

	return out
}

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

package schema

import (
	"fmt"
	"slices"
)

const (
	// OutsideID is the id of the Outside label in every vocabulary.
	OutsideID = 0

	// IgnoreID marks token positions excluded from loss computation.
	// It is not part of the vocabulary.
	IgnoreID = -100
)

// Vocabulary is an immutable bijection between labels and integer ids.
type Vocabulary struct {
	types  []EntityType
	labels []Label
	ids    map[Label]int
}

// NewVocabulary builds the label vocabulary for types. The result depends
// only on the order of types.
func NewVocabulary(types []EntityType) *Vocabulary {
	v := &Vocabulary{
		types:  slices.Clone(types),
		labels: make([]Label, 0, 1+len(entityTags)*len(types)),
		ids:    make(map[Label]int, 1+len(entityTags)*len(types)),
	}
	v.add(Outside)
	for _, t := range types {
		for _, tag := range entityTags {
			v.add(Label{Tag: tag, Type: t})
		}
	}
	return v
}

func (v *Vocabulary) add(l Label) {
	if _, dup := v.ids[l]; dup {
		return
	}
	v.ids[l] = len(v.labels)
	v.labels = append(v.labels, l)
}

var defaultVocabulary = NewVocabulary(canonicalTypes)

// Default returns the vocabulary over the canonical entity types. It is
// shared and must not be modified.
func Default() *Vocabulary {
	return defaultVocabulary
}

// Size returns the number of labels, 1 + 4 * number of entity types.
func (v *Vocabulary) Size() int {
	return len(v.labels)
}

// Types returns the entity types the vocabulary was built from.
func (v *Vocabulary) Types() []EntityType {
	return slices.Clone(v.types)
}

// ID returns the id of l.
func (v *Vocabulary) ID(l Label) (int, bool) {
	id, ok := v.ids[l]
	return id, ok
}

// MustID returns the id of l and panics if l is not in the vocabulary.
func (v *Vocabulary) MustID(l Label) int {
	id, ok := v.ids[l]
	if !ok {
		panic(fmt.Sprintf("label %s not in vocabulary", l))
	}
	return id
}

// Label returns the label with the given id.
func (v *Vocabulary) Label(id int) (Label, bool) {
	if id < 0 || id >= len(v.labels) {
		return Label{}, false
	}
	return v.labels[id], true
}

// LookupString resolves a label string such as "U-AGE" to its id.
func (v *Vocabulary) LookupString(s string) (int, bool) {
	l, err := ParseLabel(s)
	if err != nil {
		return 0, false
	}
	return v.ID(l)
}

// Labels returns the label strings indexed by id.
func (v *Vocabulary) Labels() []string {
	out := make([]string, len(v.labels))
	for i, l := range v.labels {
		out[i] = l.String()
	}
	return out
}

// ID2Label returns the id to label-string mapping used in model configs.
func (v *Vocabulary) ID2Label() map[int]string {
	out := make(map[int]string, len(v.labels))
	for i, l := range v.labels {
		out[i] = l.String()
	}
	return out
}

// Label2ID returns the label-string to id mapping used in model configs.
func (v *Vocabulary) Label2ID() map[string]int {
	out := make(map[string]int, len(v.labels))
	for i, l := range v.labels {
		out[l.String()] = i
	}
	return out
}

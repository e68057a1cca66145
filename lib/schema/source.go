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

import "strings"

// SourceMapping maps an external dataset's label names to canonical types.
type SourceMapping map[string]EntityType

// Nemotron returns the mapping for the nvidia/Nemotron-PII dataset, whose
// labels are the lower-case canonical names.
func Nemotron() SourceMapping {
	m := make(SourceMapping, len(canonicalTypes))
	for _, t := range canonicalTypes {
		m[strings.ToLower(string(t))] = t
	}
	return m
}

// Resolve maps a source label. Unmapped labels report false and are meant to
// be dropped by the caller.
func (m SourceMapping) Resolve(label string) (EntityType, bool) {
	t, ok := m[label]
	return t, ok
}

// Canonical is a mapping that accepts canonical names as-is, used when spans
// already carry canonical types (API requests, model output).
func Canonical() SourceMapping {
	m := make(SourceMapping, len(canonicalTypes))
	for _, t := range canonicalTypes {
		m[string(t)] = t
	}
	return m
}

// Merge returns a mapping containing the entries of m and others. Later
// mappings win on conflict.
func (m SourceMapping) Merge(others ...SourceMapping) SourceMapping {
	out := make(SourceMapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	for _, o := range others {
		for k, v := range o {
			out[k] = v
		}
	}
	return out
}

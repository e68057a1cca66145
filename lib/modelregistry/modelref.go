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

package modelregistry

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Kind is what a pull fetches from a HuggingFace repo.
type Kind string

const (
	KindTokenizer Kind = "tokenizer"
	KindModel     Kind = "model"
	KindDataset   Kind = "dataset"
)

// ParseKind parses a kind name, accepting plural forms.
func ParseKind(s string) (Kind, error) {
	switch strings.TrimSuffix(strings.ToLower(s), "s") {
	case "tokenizer":
		return KindTokenizer, nil
	case "model":
		return KindModel, nil
	case "dataset":
		return KindDataset, nil
	default:
		return "", fmt.Errorf("unknown kind %q: valid kinds are tokenizer, model, dataset", s)
	}
}

// DirName returns the directory that holds artifacts of this kind.
func (k Kind) DirName() string {
	return string(k) + "s"
}

// Ref is a parsed "hf:owner/name" reference.
type Ref struct {
	// Owner is the namespace (e.g., "nvidia")
	Owner string
	// Name is the repo name (e.g., "Nemotron-PII")
	Name string
}

// RepoID returns "owner/name".
func (r Ref) RepoID() string {
	if r.Owner == "" {
		return r.Name
	}
	return r.Owner + "/" + r.Name
}

// DirPath returns the path of the artifact relative to its kind directory.
func (r Ref) DirPath() string {
	if r.Owner == "" {
		return r.Name
	}
	return filepath.Join(r.Owner, r.Name)
}

func (r Ref) String() string {
	return "hf:" + r.RepoID()
}

// ParseHuggingFaceRef parses a reference like "hf:owner/repo" and returns the repo ID
func ParseHuggingFaceRef(ref string) (repoID string, isHF bool) {
	if after, ok := strings.CutPrefix(ref, "hf:"); ok {
		return after, true
	}
	return "", false
}

// ParseRef parses "hf:owner/name" or a bare "owner/name".
func ParseRef(ref string) (Ref, error) {
	if ref == "" {
		return Ref{}, fmt.Errorf("empty reference")
	}
	if repoID, ok := ParseHuggingFaceRef(ref); ok {
		ref = repoID
	}

	var r Ref
	if owner, name, ok := strings.Cut(ref, "/"); ok {
		r.Owner, r.Name = owner, name
	} else {
		r.Name = ref
	}
	if r.Name == "" || strings.Contains(r.Name, "/") {
		return Ref{}, fmt.Errorf("invalid reference %q: expected owner/name", ref)
	}
	return r, nil
}

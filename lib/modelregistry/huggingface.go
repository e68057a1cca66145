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
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"time"

	"github.com/gomlx/go-huggingface/hub"
)

// ProgressHandler is called to report download progress
type ProgressHandler func(downloaded, total int64, filename string)

// HuggingFaceClient pulls tokenizers, models and datasets from HuggingFace Hub
type HuggingFaceClient struct {
	token           string
	progressHandler ProgressHandler
}

// HFClientOption configures the HuggingFace client
type HFClientOption func(*HuggingFaceClient)

// NewHuggingFaceClient creates a new HuggingFace client
func NewHuggingFaceClient(opts ...HFClientOption) *HuggingFaceClient {
	c := &HuggingFaceClient{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithHFToken sets the HuggingFace API token for gated repos
func WithHFToken(token string) HFClientOption {
	return func(c *HuggingFaceClient) { c.token = token }
}

// WithHFProgressHandler sets the progress handler for downloads
func WithHFProgressHandler(h ProgressHandler) HFClientOption {
	return func(c *HuggingFaceClient) { c.progressHandler = h }
}

// DefaultDatasetPattern selects the parquet shards of a dataset repo.
const DefaultDatasetPattern = "*.parquet"

// tokenizerFiles are fetched by every pull of a tokenizer or model.
var tokenizerFiles = []string{
	"tokenizer.json",
	"tokenizer_config.json",
	"special_tokens_map.json",
	"vocab.txt",
	"merges.txt",
	"tokenizer.model",
	"config.json",
}

func (c *HuggingFaceClient) repo(repoID string, kind Kind) *hub.Repo {
	repo := hub.New(repoID)
	if kind == KindDataset {
		repo = repo.WithType(hub.RepoTypeDataset)
	}
	if c.token != "" {
		repo = repo.WithAuth(c.token)
	}
	return repo
}

// ListRepoFiles returns all files in a HuggingFace repo.
func (c *HuggingFaceClient) ListRepoFiles(ctx context.Context, repoID string, kind Kind) ([]string, error) {
	var files []string
	for fileName, err := range c.repo(repoID, kind).IterFileNames() {
		if err != nil {
			return nil, fmt.Errorf("listing files: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		files = append(files, fileName)
	}
	return files, nil
}

// PullTokenizer downloads the tokenizer files of repoID into
// destDir/tokenizers/owner/name and returns that directory.
func (c *HuggingFaceClient) PullTokenizer(ctx context.Context, repoID, destDir string) (string, error) {
	return c.pull(ctx, repoID, KindTokenizer, destDir, "", func(files []string) []string {
		return selectTokenizerFiles(files)
	})
}

// PullModel downloads the tokenizer files and the ONNX file of variant into
// destDir/models/owner/name and returns that directory.
// variant can be: "", "fp16", "q4", "q4f16", "quantized"
func (c *HuggingFaceClient) PullModel(ctx context.Context, repoID, destDir, variant string) (string, error) {
	if !IsValidVariant(variant) {
		return "", fmt.Errorf("invalid variant %q: valid variants are %v", variant, ValidVariants())
	}
	return c.pull(ctx, repoID, KindModel, destDir, variant, func(files []string) []string {
		onnx := selectONNXFiles(files, variant)
		if len(onnx) == 0 {
			return nil
		}
		return append(selectTokenizerFiles(files), onnx...)
	})
}

// PullDataset downloads the files of a dataset repo matching pattern
// (DefaultDatasetPattern when empty) into destDir/datasets/owner/name,
// keeping their relative paths.
func (c *HuggingFaceClient) PullDataset(ctx context.Context, repoID, destDir, pattern string) (string, error) {
	if pattern == "" {
		pattern = DefaultDatasetPattern
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return "", fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return c.pull(ctx, repoID, KindDataset, destDir, "", func(files []string) []string {
		return selectDatasetFiles(files, pattern)
	})
}

func (c *HuggingFaceClient) pull(
	ctx context.Context,
	repoID string,
	kind Kind,
	destDir string,
	variant string,
	selectFiles func([]string) []string,
) (string, error) {
	ref, err := ParseRef(repoID)
	if err != nil {
		return "", fmt.Errorf("parsing repo ID: %w", err)
	}

	files, err := c.ListRepoFiles(ctx, ref.RepoID(), kind)
	if err != nil {
		return "", err
	}
	toDownload := selectFiles(files)
	if len(toDownload) == 0 {
		return "", fmt.Errorf("no %s files found in %s", kind, ref.RepoID())
	}

	dir := filepath.Join(destDir, kind.DirName(), ref.DirPath())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating directory: %w", err)
	}

	repo := c.repo(ref.RepoID(), kind)
	for _, fileName := range toDownload {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		localPath, err := repo.DownloadFile(fileName)
		if err != nil {
			return "", fmt.Errorf("downloading %s: %w", fileName, err)
		}

		// Models and tokenizers are flattened ("onnx/model.onnx" -> "model.onnx").
		destName := filepath.Base(fileName)
		if kind == KindDataset {
			destName = filepath.FromSlash(fileName)
		}
		destPath := filepath.Join(dir, destName)

		if c.progressHandler != nil {
			c.progressHandler(0, 0, destName)
		}
		if err := copyFile(localPath, destPath); err != nil {
			return "", fmt.Errorf("copying %s: %w", fileName, err)
		}
		if c.progressHandler != nil {
			if info, err := os.Stat(destPath); err == nil {
				c.progressHandler(info.Size(), info.Size(), destName)
			}
		}
	}

	if kind != KindDataset {
		if err := writeManifest(dir, ref, kind, variant); err != nil {
			return "", fmt.Errorf("writing manifest: %w", err)
		}
	}
	return dir, nil
}

func writeManifest(dir string, ref Ref, kind Kind, variant string) error {
	files, err := ScanFiles(dir)
	if err != nil {
		return err
	}
	m := &Manifest{
		SchemaVersion: CurrentSchemaVersion,
		Source:        ref.String(),
		Kind:          kind,
		Variant:       variant,
		Files:         files,
		DownloadedAt:  time.Now().UTC(),
	}
	return m.SaveTo(filepath.Join(dir, ManifestFilename))
}

// selectTokenizerFiles returns the first file with each tokenizer basename.
func selectTokenizerFiles(files []string) []string {
	var result []string
	for _, tf := range tokenizerFiles {
		for _, f := range files {
			if filepath.Base(f) == tf {
				result = append(result, f)
				break
			}
		}
	}
	return result
}

// selectONNXFiles returns the ONNX graph of variant and its external data
// file, if any.
func selectONNXFiles(files []string, variant string) []string {
	v, ok := lookupVariant(variant)
	if !ok {
		return nil
	}
	var result []string
	for _, f := range files {
		switch filepath.Base(f) {
		case v.stem + ".onnx", v.stem + ".onnx_data":
			result = append(result, f)
		}
	}
	return result
}

// selectDatasetFiles matches pattern against both the repo path and the
// basename of every file.
func selectDatasetFiles(files []string, pattern string) []string {
	var result []string
	for _, f := range files {
		full, _ := path.Match(pattern, f)
		base, _ := path.Match(pattern, path.Base(f))
		if full || base {
			result = append(result, f)
		}
	}
	slices.Sort(result)
	return result
}

// onnxVariant is one of the ONNX exports a HuggingFace repo may carry.
type onnxVariant struct {
	name string
	stem string
	desc string
}

var onnxVariants = []onnxVariant{
	{"", "model", "full precision (default)"},
	{"fp16", "model_fp16", "half precision (FP16)"},
	{"q4", "model_q4", "4-bit quantized"},
	{"q4f16", "model_q4f16", "4-bit quantized with FP16"},
	{"quantized", "model_quantized", "INT8 quantized"},
}

func lookupVariant(name string) (onnxVariant, bool) {
	i := slices.IndexFunc(onnxVariants, func(v onnxVariant) bool { return v.name == name })
	if i < 0 {
		return onnxVariant{}, false
	}
	return onnxVariants[i], true
}

// ValidVariants lists the accepted --variant values.
func ValidVariants() []string {
	names := make([]string, len(onnxVariants))
	for i, v := range onnxVariants {
		names[i] = v.name
	}
	return names
}

func IsValidVariant(variant string) bool {
	_, ok := lookupVariant(variant)
	return ok
}

// VariantDescription returns a human-readable description of a variant.
func VariantDescription(variant string) string {
	if v, ok := lookupVariant(variant); ok {
		return v.desc
	}
	return "unknown"
}

// copyFile copies a file from src to dst, creating dst's directory.
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer func() { _ = srcFile.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	dstFile, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}
	if _, err := io.Copy(dstFile, srcFile); err != nil {
		_ = dstFile.Close()
		return fmt.Errorf("copying: %w", err)
	}
	return dstFile.Close()
}

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

// Package cli provides shared functions for the phimask command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/antflydb/phimask/lib/modelregistry"
)

// PullOptions contains options for pulling from HuggingFace.
type PullOptions struct {
	// Dir is the root directory; artifacts land in Dir/<kind>s/owner/name.
	Dir     string
	Kind    modelregistry.Kind
	HFToken string
	// Variant selects the ONNX file for model pulls.
	Variant string
	// Pattern selects dataset files; defaults to "*.parquet".
	Pattern string
}

type puller func(ctx context.Context, c *modelregistry.HuggingFaceClient, repoID string, opts PullOptions) (string, error)

var pullers = map[modelregistry.Kind]puller{
	modelregistry.KindTokenizer: func(ctx context.Context, c *modelregistry.HuggingFaceClient, repoID string, opts PullOptions) (string, error) {
		return c.PullTokenizer(ctx, repoID, opts.Dir)
	},
	modelregistry.KindModel: func(ctx context.Context, c *modelregistry.HuggingFaceClient, repoID string, opts PullOptions) (string, error) {
		return c.PullModel(ctx, repoID, opts.Dir, opts.Variant)
	},
	modelregistry.KindDataset: func(ctx context.Context, c *modelregistry.HuggingFaceClient, repoID string, opts PullOptions) (string, error) {
		return c.PullDataset(ctx, repoID, opts.Dir, opts.Pattern)
	},
}

// Pull fetches ref ("hf:owner/name" or "owner/name") and returns the
// directory it was written to. HF_TOKEN is used when no token is given.
func Pull(ctx context.Context, ref string, opts PullOptions) (string, error) {
	r, err := modelregistry.ParseRef(ref)
	if err != nil {
		return "", err
	}
	if opts.Kind == "" {
		opts.Kind = modelregistry.KindModel
	}
	pull, ok := pullers[opts.Kind]
	if !ok {
		return "", fmt.Errorf("unknown kind %q", opts.Kind)
	}
	if !modelregistry.IsValidVariant(opts.Variant) {
		return "", fmt.Errorf("invalid variant %q, valid options: %s",
			opts.Variant, strings.Join(modelregistry.ValidVariants()[1:], ", "))
	}
	if opts.HFToken == "" {
		opts.HFToken = os.Getenv("HF_TOKEN")
	}

	client := modelregistry.NewHuggingFaceClient(
		modelregistry.WithHFToken(opts.HFToken),
		modelregistry.WithHFProgressHandler(PrintProgress),
	)

	fmt.Printf("Pulling %s %s from HuggingFace\n", opts.Kind, r.RepoID())
	if opts.Kind == modelregistry.KindModel {
		fmt.Printf("Variant: %s\n", modelregistry.VariantDescription(opts.Variant))
	}

	dir, err := pull(ctx, client, r.RepoID(), opts)
	if err != nil {
		return "", fmt.Errorf("pulling %s %s: %w", opts.Kind, r.RepoID(), err)
	}
	fmt.Printf("\n✓ Pulled %s to %s\n", opts.Kind, dir)
	return dir, nil
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(n int64) string {
	units := []string{"KB", "MB", "GB"}
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	v := float64(n) / 1024
	u := 0
	for v >= 1024 && u < len(units)-1 {
		v /= 1024
		u++
	}
	return fmt.Sprintf("%.1f %s", v, units[u])
}

// PrintProgress prints download progress to stdout
func PrintProgress(downloaded, total int64, filename string) {
	fmt.Print(progressLine(downloaded, total, filename))
	if total > 0 && downloaded >= total {
		fmt.Println()
	}
}

func progressLine(downloaded, total int64, filename string) string {
	if total <= 0 {
		return fmt.Sprintf("\r  %s: %s", filename, FormatBytes(downloaded))
	}

	percent := float64(downloaded) / float64(total) * 100
	barWidth := 30
	filled := min(int(float64(barWidth)*float64(downloaded)/float64(total)), barWidth)

	bar := strings.Repeat("=", filled) + strings.Repeat("-", barWidth-filled)
	return fmt.Sprintf("\r  %s: [%s] %.1f%% (%s/%s)",
		filename, bar, percent, FormatBytes(downloaded), FormatBytes(total))
}

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

package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/antflydb/phimask/lib/cli"
	"github.com/antflydb/phimask/lib/modelregistry"
	"github.com/spf13/cobra"
)

var pullCmd = &cobra.Command{
	Use:   "pull <ref> [ref...]",
	Short: "Pull tokenizers, models or datasets from HuggingFace",
	Long: `Download artifacts from HuggingFace into the models directory:
  - Tokenizers:  <models-dir>/tokenizers/<owner>/<name>/
  - Models:      <models-dir>/models/<owner>/<name>/
  - Datasets:    <models-dir>/datasets/<owner>/<name>/

Model variants:
  (default)  - model.onnx (FP32)
  fp16       - model_fp16.onnx
  q4         - model_q4.onnx
  q4f16      - model_q4f16.onnx
  quantized  - model_quantized.onnx

Examples:
  # Pull a tokenizer for preprocessing
  phimask pull --kind tokenizer google-bert/bert-base-cased

  # Pull a quantized token-classification model
  phimask pull --kind model --variant quantized hf:acme/phi-tagger-onnx

  # Pull the parquet shards of a gated dataset
  phimask pull --kind dataset --hf-token $HF_TOKEN nvidia/Nemotron-PII`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPull,
}

func init() {
	rootCmd.AddCommand(pullCmd)

	pullCmd.Flags().String("kind", string(modelregistry.KindModel),
		"what to pull (tokenizer, model or dataset)")
	pullCmd.Flags().String("hf-token", "",
		"HuggingFace API token for gated repos (or use HF_TOKEN env var)")
	pullCmd.Flags().String("variant", "",
		"ONNX variant for models (fp16, q4, q4f16, quantized)")
	pullCmd.Flags().String("pattern", modelregistry.DefaultDatasetPattern,
		"file pattern for datasets")
}

func runPull(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kindStr, _ := cmd.Flags().GetString("kind")
	hfToken, _ := cmd.Flags().GetString("hf-token")
	variant, _ := cmd.Flags().GetString("variant")
	pattern, _ := cmd.Flags().GetString("pattern")

	kind, err := modelregistry.ParseKind(kindStr)
	if err != nil {
		return err
	}

	for _, ref := range args {
		fmt.Printf("\n=== Pulling %s ===\n", ref)
		if _, err := cli.Pull(ctx, ref, cli.PullOptions{
			Dir:     modelsDir,
			Kind:    kind,
			HFToken: hfToken,
			Variant: variant,
			Pattern: pattern,
		}); err != nil {
			return fmt.Errorf("failed to pull %s: %w", ref, err)
		}
	}

	return nil
}

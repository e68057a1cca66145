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
	"os/signal"
	"syscall"

	"github.com/antflydb/phimask"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var preprocessCmd = &cobra.Command{
	Use:   "preprocess",
	Short: "Align annotated spans to token-level BILOU labels",
	Long: `Tokenize every record of an annotated corpus and write input ids, attention
masks and BILOU label ids for token-classification training.

Examples:
  # Align a pulled Nemotron-PII shard with a BERT tokenizer
  phimask preprocess -i train.parquet -o aligned.jsonl --tokenizer ~/.phimask/models/tokenizers/google-bert/bert-base-cased

  # Align with tiktoken, no padding
  phimask preprocess -i train.jsonl -o aligned.jsonl --tokenizer tiktoken:cl100k_base --padding none`,
	RunE: runPreprocess,
}

func init() {
	rootCmd.AddCommand(preprocessCmd)
	addBatchFlags(preprocessCmd)
	addTokenizerFlags(preprocessCmd)
}

func runPreprocess(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	cfg, err := configFromViper()
	if err != nil {
		return err
	}
	report, err := phimask.RunPreprocess(ctx, logger, phimask.PreprocessConfig{
		Config: cfg,
		Input:  viper.GetString("input"),
		Output: viper.GetString("output"),
	})
	printReport("preprocess", report)
	return err
}

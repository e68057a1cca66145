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

var redactCmd = &cobra.Command{
	Use:   "redact",
	Short: "Replace PHI spans with surrogates",
	Long: `De-identify every record of a corpus. Spans come from the corpus annotations
(--source gold), from per-token label predictions (--source predictions) or
from a token-classification model (--source model).

Names, emails and record numbers get consistent fake values within a
document, dates shift by a per-document offset, ages over 89 and postcodes
are generalized, and the remaining identifiers become placeholders.

Examples:
  # Reproducible surrogates from gold spans
  phimask redact -i notes.jsonl -o redacted.jsonl --seed 42

  # Spans from a pulled model
  phimask redact -i notes.jsonl -o redacted.jsonl --source model --model-dir ~/.phimask/models/models/acme/phi-tagger`,
	RunE: runRedact,
}

func init() {
	rootCmd.AddCommand(redactCmd)
	addBatchFlags(redactCmd)
	addTokenizerFlags(redactCmd)
	addModelFlags(redactCmd)
	redactCmd.Flags().String("source", string(phimask.SourceGold), "span source (gold, predictions or model)")
	redactCmd.Flags().String("predictions", "", "JSONL file of per-token label predictions, for --source predictions")
	redactCmd.Flags().Uint64("seed", 0, "surrogate seed (0 draws a random seed)")
}

func runRedact(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	cfg, err := configFromViper()
	if err != nil {
		return err
	}
	report, err := phimask.RunRedact(ctx, logger, phimask.RedactConfig{
		Config:      cfg,
		Input:       viper.GetString("input"),
		Output:      viper.GetString("output"),
		Source:      phimask.SpanSource(viper.GetString("source")),
		Predictions: viper.GetString("predictions"),
	})
	printReport("redact", report)
	return err
}

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
	"fmt"
	"os"
	"time"

	"github.com/antflydb/phimask"
	"github.com/antflydb/phimask/lib/cli"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// configFromViper builds the shared config from flags, environment and the
// config file.
func configFromViper() (phimask.Config, error) {
	cfg := phimask.Config{
		ApiUrl:                viper.GetString("api_url"),
		Tokenizer:             viper.GetString("tokenizer"),
		MaxLength:             viper.GetInt("max_length"),
		Padding:               viper.GetString("padding"),
		Workers:               viper.GetInt("workers"),
		Seed:                  viper.GetUint64("seed"),
		Domain:                viper.GetString("domain"),
		ModelsDir:             modelsDir,
		ModelDir:              viper.GetString("model_dir"),
		Backend:               viper.GetString("backend"),
		Device:                viper.GetString("device"),
		MaxConcurrentRequests: viper.GetInt("max_concurrent_requests"),
		MaxQueueSize:          viper.GetInt("max_queue_size"),
		RequestTimeout:        viper.GetString("request_timeout"),
		CacheTTL:              viper.GetString("cache_ttl"),
	}
	// date_layouts is a list, so only a config file can set it.
	if err := viper.UnmarshalKey("date_layouts", &cfg.DateLayouts); err != nil {
		return cfg, fmt.Errorf("date_layouts: %w", err)
	}
	return cfg, nil
}

func addTokenizerFlags(cmd *cobra.Command) {
	cmd.Flags().String("tokenizer", "", `tokenizer directory, "tiktoken:<encoding>" or "wordpiece:<vocab.txt>"`)
	cmd.Flags().Int("max-length", phimask.DefaultMaxLength, "maximum sequence length including special tokens")
	cmd.Flags().String("padding", "max_length", "padding strategy (max_length or none)")
}

func addModelFlags(cmd *cobra.Command) {
	cmd.Flags().String("model-dir", "", "token-classification model directory (config.json plus ONNX file)")
	cmd.Flags().String("backend", "", "inference backend (go or onnx; empty picks the best available)")
	cmd.Flags().String("device", "auto", "inference device (auto, cuda or cpu)")
}

func addBatchFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("input", "i", "", "input corpus (.jsonl or .parquet)")
	cmd.Flags().StringP("output", "o", "", `output JSONL file ("-" for stdout)`)
	cmd.Flags().Int("workers", 0, "parallel workers (default number of CPUs)")
	cmd.Flags().String("domain", phimask.DefaultDomain, `keep only records of this domain ("" keeps all)`)
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
}

// printReport writes a batch summary to stderr so stdout can carry output.
func printReport(title string, r phimask.Report) {
	fmt.Fprintf(os.Stderr, "%s: read %d, processed %d, skipped %d, filtered %d in %s\n",
		title, r.Read, r.Processed, r.Skipped, r.Filtered, r.Duration.Round(time.Millisecond))
	if r.DroppedSpans > 0 || r.Truncated > 0 {
		fmt.Fprintf(os.Stderr, "dropped spans %d, truncated records %d, longest %d tokens\n",
			r.DroppedSpans, r.Truncated, r.MaxTokens)
	}
	if len(r.Entities) > 0 {
		fmt.Fprintln(os.Stderr, cli.RenderReport(title, r.Entities))
	}
}

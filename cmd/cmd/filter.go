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

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Select corpus records by domain and document type",
	Long: `Copy the records of a JSONL or parquet corpus that match a domain and,
optionally, a set of document types, and print entity counts.

Examples:
  # Keep Healthcare records of a pulled dataset shard
  phimask filter -i data/train-00000.parquet -o healthcare.jsonl

  # Keep discharge summaries only
  phimask filter -i train.jsonl -o discharge.jsonl --document-type discharge_summary`,
	RunE: runFilter,
}

func init() {
	rootCmd.AddCommand(filterCmd)
	addBatchFlags(filterCmd)
	filterCmd.Flags().StringSlice("document-type", nil, "document types to keep (default all)")
}

func runFilter(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	report, err := phimask.RunFilter(ctx, logger, phimask.FilterConfig{
		Input:         viper.GetString("input"),
		Output:        viper.GetString("output"),
		Domain:        viper.GetString("domain"),
		DocumentTypes: viper.GetStringSlice("document_type"),
		Workers:       viper.GetInt("workers"),
	})
	printReport("filter", report)
	return err
}

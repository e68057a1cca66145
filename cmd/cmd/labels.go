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

	"github.com/antflydb/phimask/lib/cli"
	"github.com/antflydb/phimask/lib/schema"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var labelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "Print the BILOU label vocabulary",
	Long: `Print the label vocabulary shared by preprocessing and inference.

The json and yaml formats emit id2label and label2id maps suitable for a
model's config.json.`,
	Args: cobra.NoArgs,
	RunE: runLabels,
}

func init() {
	rootCmd.AddCommand(labelsCmd)
	labelsCmd.Flags().String("format", "table", "output format (table, json or yaml)")
}

type labelMaps struct {
	ID2Label map[int]string `json:"id2label" yaml:"id2label"`
	Label2ID map[string]int `json:"label2id" yaml:"label2id"`
}

func runLabels(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	v := schema.Default()
	maps := labelMaps{ID2Label: v.ID2Label(), Label2ID: v.Label2ID()}

	switch format {
	case "table":
		fmt.Println(cli.RenderLabelTable(v))
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(maps)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(maps); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("invalid format %q: expected table, json or yaml", format)
	}
	return nil
}

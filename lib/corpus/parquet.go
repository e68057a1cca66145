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

package corpus

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/parquet-go/parquet-go"
)

// parquetRow is the column layout of Nemotron-PII shards. Spans are stored
// as a serialized list.
type parquetRow struct {
	UID          string `parquet:"uid"`
	Domain       string `parquet:"domain"`
	DocumentType string `parquet:"document_type"`
	Text         string `parquet:"text"`
	Spans        string `parquet:"spans,optional"`
}

// ReadParquet reads every row of a dataset shard.
func ReadParquet(path string) ([]Record, error) {
	rows, err := parquet.ReadFile[parquetRow](path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	out := make([]Record, 0, len(rows))
	for i, row := range rows {
		spans, err := ParseSpans(row.Spans)
		if err != nil {
			return nil, fmt.Errorf("%s row %d (%s): %w", path, i, row.UID, err)
		}
		out = append(out, Record{
			UID:          row.UID,
			Domain:       row.Domain,
			DocumentType: row.DocumentType,
			Text:         row.Text,
			Spans:        spans,
		})
	}
	return out, nil
}

// WriteParquet writes records in the shard layout ReadParquet expects.
func WriteParquet(path string, records []Record) error {
	rows := make([]parquetRow, len(records))
	for i, r := range records {
		spans, err := json.Marshal(r.Spans)
		if err != nil {
			return err
		}
		rows[i] = parquetRow{
			UID:          r.UID,
			Domain:       r.Domain,
			DocumentType: r.DocumentType,
			Text:         r.Text,
			Spans:        string(spans),
		}
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

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

package cli

import (
	"strconv"

	"github.com/antflydb/phimask/lib/corpus"
	"github.com/antflydb/phimask/lib/schema"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = cellStyle.Align(lipgloss.Right)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...)
}

// RenderReport renders entity counts, most frequent first, under title.
func RenderReport(title string, entries []corpus.CountEntry) string {
	total := 0
	t := newTable("ENTITY", "COUNT").StyleFunc(func(row, col int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return headerStyle
		case col == 1:
			return numberStyle
		default:
			return cellStyle
		}
	})
	for _, e := range entries {
		t.Row(e.Key, strconv.Itoa(e.Count))
		total += e.Count
	}
	t.Row("TOTAL", strconv.Itoa(total))

	return titleStyle.Render(title) + "\n" + t.String()
}

// RenderLabelTable renders the vocabulary as ID, LABEL, TAG and TYPE columns.
func RenderLabelTable(v *schema.Vocabulary) string {
	t := newTable("ID", "LABEL", "TAG", "TYPE").StyleFunc(func(row, col int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return headerStyle
		case col == 0:
			return numberStyle
		default:
			return cellStyle
		}
	})
	for id := range v.Size() {
		l, _ := v.Label(id)
		t.Row(strconv.Itoa(id), l.String(), l.Tag.String(), string(l.Type))
	}
	return t.String()
}

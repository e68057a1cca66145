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

package deid

import (
	"fmt"
	"time"

	"golang.org/x/text/unicode/norm"
)

// DateLayout pairs a lenient parse layout with the layout used to render
// the shifted value. Parse layouts accept one-digit days and months and
// month names in any case; render layouts are zero padded.
type DateLayout struct {
	Parse  string `json:"parse" yaml:"parse"`
	Render string `json:"render" yaml:"render"`
}

var defaultDateLayouts = []DateLayout{
	{Parse: "2006-1-2", Render: "2006-01-02"},
	{Parse: "1/2/2006", Render: "01/02/2006"},
	{Parse: "1-2-2006", Render: "01-02-2006"},
	{Parse: "January 2, 2006", Render: "January 02, 2006"},
	{Parse: "Jan 2, 2006", Render: "Jan 02, 2006"},
	{Parse: "2 January 2006", Render: "02 January 2006"},
}

var defaultDateTimeLayouts = []DateLayout{
	{Parse: "2006-1-2 15:4:5", Render: "2006-01-02 15:04:05"},
	{Parse: "2006-1-2T15:4:5", Render: "2006-01-02T15:04:05"},
	{Parse: "2006-1-2 15:4", Render: "2006-01-02 15:04"},
	{Parse: "1/2/2006 15:4", Render: "01/02/2006 15:04"},
	{Parse: "1/2/2006 3:4 PM", Render: "01/02/2006 03:04 PM"},
}

// layoutProbe is rendered and re-parsed to check a DateLayout. Day and
// month differ and exceed 9 so padding and field order both show.
var layoutProbe = time.Date(2021, time.November, 23, 16, 45, 30, 0, time.UTC)

// Validate reports whether l parses what it renders.
func (l DateLayout) Validate() error {
	if l.Parse == "" || l.Render == "" {
		return fmt.Errorf("date layout %+v: parse and render are required", l)
	}
	got, err := time.Parse(l.Parse, layoutProbe.Format(l.Render))
	if err != nil {
		return fmt.Errorf("date layout %+v: %w", l, err)
	}
	if got.Year() != layoutProbe.Year() || got.YearDay() != layoutProbe.YearDay() {
		return fmt.Errorf("date layout %+v: rendered %s parses as %s",
			l, layoutProbe.Format(l.Render), got.Format(time.DateOnly))
	}
	return nil
}

// parseDate tries each layout in order and returns the first match.
func parseDate(s string, layouts []DateLayout) (time.Time, DateLayout, bool) {
	s = normalizeSpace(norm.NFKC.String(s))
	for _, l := range layouts {
		if t, err := time.Parse(l.Parse, s); err == nil {
			return t, l, true
		}
	}
	return time.Time{}, DateLayout{}, false
}

// shift moves the date in s by days and renders it in the layout it was
// parsed with. Unparseable input becomes the date placeholder.
func (d *Deidentifier) shift(s string, days int, layouts []DateLayout) string {
	t, l, ok := parseDate(s, layouts)
	if !ok {
		return datePlaceholder
	}
	return t.AddDate(0, 0, days).Format(l.Render)
}

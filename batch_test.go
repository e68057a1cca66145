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

package phimask

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/antflydb/phimask/lib/align"
	"github.com/antflydb/phimask/lib/corpus"
	"github.com/antflydb/phimask/lib/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	sampleText  = "Patient Zoë Ångström, MRN 12345678, seen 05/02/2020."
	sampleSpans = `[{"start":8,"end":11,"label":"first_name"},{"start":12,"end":20,"label":"last_name"},` +
		`{"start":26,"end":34,"label":"medical_record_number"},{"start":41,"end":51,"label":"date"}]`
)

func writeCorpus(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return path
}

func sampleCorpus(t *testing.T) string {
	return writeCorpus(t,
		`{"uid":"a","domain":"Healthcare","document_type":"note","text":"`+sampleText+`","spans":`+sampleSpans+`}`,
		`{"uid":"b","domain":"Finance","text":"Account 991 for Ann.","spans":[]}`,
		`{"uid":"c","domain":"Healthcare","document_type":"letter","text":"Dear Ann Lee,","spans":"[{'start': 5, 'end': 8, 'label': 'first_name'}, {'start': 9, 'end': 12, 'label': 'last_name'}]"}`,
		`{"domain":"Healthcare","text":""}`,
		`{not json`,
	)
}

func countsOf(entries []corpus.CountEntry) map[string]int {
	m := make(map[string]int, len(entries))
	for _, e := range entries {
		m[e.Key] = e.Count
	}
	return m
}

func TestRunFilter(t *testing.T) {
	out := filepath.Join(t.TempDir(), "nested", "filtered.jsonl")
	report, err := RunFilter(context.Background(), zaptest.NewLogger(t), FilterConfig{
		Input:  sampleCorpus(t),
		Output: out,
		Domain: DefaultDomain,
	})
	require.NoError(t, err)

	assert.Equal(t, 4, report.Read, "malformed lines are not read")
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Filtered)
	assert.Equal(t, 2, report.Skipped, "empty text and a malformed line")
	assert.Equal(t, map[string]int{
		"FIRST_NAME":            2,
		"LAST_NAME":             2,
		"MEDICAL_RECORD_NUMBER": 1,
		"DATE":                  1,
	}, countsOf(report.Entities))

	recs, bad, err := corpus.ReadAll[corpus.Record](out)
	require.NoError(t, err)
	require.Empty(t, bad)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].UID)
	assert.Equal(t, "c", recs[1].UID)
	assert.Equal(t, "Ann", recs[1].Text[recs[1].Spans[0].Start:recs[1].Spans[0].End])
}

func TestRunFilterDocumentTypes(t *testing.T) {
	out := filepath.Join(t.TempDir(), "letters.jsonl")
	report, err := RunFilter(context.Background(), zaptest.NewLogger(t), FilterConfig{
		Input:         sampleCorpus(t),
		Output:        out,
		DocumentTypes: []string{"letter"},
		Workers:       3,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)

	recs, _, err := corpus.ReadAll[corpus.Record](out)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "c", recs[0].UID)
}

func TestPrepareRecordAssignsStableUID(t *testing.T) {
	a := corpus.Record{Text: "same text"}
	b := corpus.Record{Text: "same text"}
	require.NoError(t, prepareRecord(&a, corpus.Filter{}))
	require.NoError(t, prepareRecord(&b, corpus.Filter{}))
	assert.NotEmpty(t, a.UID)
	assert.Equal(t, a.UID, b.UID)

	require.ErrorIs(t, prepareRecord(&corpus.Record{}, corpus.Filter{}), corpus.ErrEmptyText)
}

func preprocessSample(t *testing.T) (string, Report) {
	t.Helper()
	out := filepath.Join(t.TempDir(), "aligned.jsonl")
	report, err := RunPreprocess(context.Background(), zaptest.NewLogger(t), PreprocessConfig{
		Config: Config{
			Tokenizer: "tiktoken:cl100k_base",
			MaxLength: 128,
			Padding:   "none",
			Workers:   2,
			Domain:    DefaultDomain,
		},
		Input:  sampleCorpus(t),
		Output: out,
	})
	require.NoError(t, err)
	return out, report
}

func TestRunPreprocess(t *testing.T) {
	out, report := preprocessSample(t)

	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 0, report.DroppedSpans)
	assert.Equal(t, 0, report.Truncated)
	assert.Positive(t, report.MaxTokens)
	assert.Equal(t, 2, countsOf(report.Entities)["FIRST_NAME"])

	recs, bad, err := corpus.ReadAll[corpus.AlignedRecord](out)
	require.NoError(t, err)
	require.Empty(t, bad)
	require.Len(t, recs, 2)

	vocab := schema.Default()
	for _, rec := range recs {
		require.Len(t, rec.AttentionMask, len(rec.InputIDs))
		require.Len(t, rec.Labels, len(rec.InputIDs))

		var types []schema.EntityType
		for _, id := range rec.Labels {
			l, ok := vocab.Label(id)
			require.True(t, ok, "label id %d", id)
			if l.Tag == schema.TagBegin || l.Tag == schema.TagUnit {
				types = append(types, l.Type)
			}
		}
		if rec.UID == "a" {
			assert.Equal(t, []schema.EntityType{
				schema.FirstName, schema.LastName, schema.MedicalRecordNumber, schema.Date,
			}, types)
		}
	}
}

func TestRunPreprocessTruncation(t *testing.T) {
	out := filepath.Join(t.TempDir(), "aligned.jsonl")
	report, err := RunPreprocess(context.Background(), zaptest.NewLogger(t), PreprocessConfig{
		Config: Config{Tokenizer: "tiktoken:cl100k_base", MaxLength: 4},
		Input:  sampleCorpus(t),
		Output: out,
	})
	require.NoError(t, err)
	assert.Positive(t, report.Truncated)
	assert.Positive(t, report.DroppedSpans)

	recs, _, err := corpus.ReadAll[corpus.AlignedRecord](out)
	require.NoError(t, err)
	for _, rec := range recs {
		assert.Len(t, rec.InputIDs, 4)
	}
}

func TestRunPreprocessRequiresTokenizer(t *testing.T) {
	_, err := RunPreprocess(context.Background(), zaptest.NewLogger(t), PreprocessConfig{
		Input:  sampleCorpus(t),
		Output: filepath.Join(t.TempDir(), "out.jsonl"),
	})
	require.Error(t, err)
}

func TestParseSpanSource(t *testing.T) {
	tests := []struct {
		in      string
		want    SpanSource
		wantErr bool
	}{
		{"", SourceGold, false},
		{"gold", SourceGold, false},
		{"predictions", SourcePredictions, false},
		{"model", SourceModel, false},
		{"silver", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSpanSource(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func redactSample(t *testing.T, cfg RedactConfig) []corpus.RedactedRecord {
	t.Helper()
	if cfg.Input == "" {
		cfg.Input = sampleCorpus(t)
	}
	cfg.Output = filepath.Join(t.TempDir(), "redacted.jsonl")
	cfg.Domain = DefaultDomain
	_, err := RunRedact(context.Background(), zaptest.NewLogger(t), cfg)
	require.NoError(t, err)

	recs, bad, err := corpus.ReadAll[corpus.RedactedRecord](cfg.Output)
	require.NoError(t, err)
	require.Empty(t, bad)
	return recs
}

func TestRunRedactGold(t *testing.T) {
	recs := redactSample(t, RedactConfig{Config: Config{Seed: 5}})
	require.Len(t, recs, 2)

	a := recs[0]
	assert.Equal(t, "a", a.UID)
	require.Len(t, a.Replacements, 4)
	assert.Equal(t, "Ångström", a.Replacements[1].Original)
	assert.Equal(t, 12, a.Replacements[1].Start)
	assert.Equal(t, 20, a.Replacements[1].End)
	assert.True(t, strings.HasPrefix(a.Replacements[2].Surrogate, "MRN-"))
	assert.NotContains(t, a.Text, "12345678")
	assert.NotContains(t, a.Text, "05/02/2020")
	assert.True(t, strings.HasPrefix(a.Text, "Patient "))
	assert.NotZero(t, a.DateShift)
}

func TestRunRedactDeterministicAcrossWorkers(t *testing.T) {
	input := sampleCorpus(t)
	one := redactSample(t, RedactConfig{Config: Config{Seed: 11, Workers: 1}, Input: input})
	many := redactSample(t, RedactConfig{Config: Config{Seed: 11, Workers: 4}, Input: input})
	assert.Equal(t, one, many)
}

func TestRunRedactModel(t *testing.T) {
	model := &fakeModel{spans: map[string][]align.Span{
		"Dear Ann Lee,": {{Start: 5, End: 8, Type: schema.FirstName}},
	}}
	recs := redactSample(t, RedactConfig{Config: Config{Seed: 1}, Source: SourceModel, Model: model})
	require.Len(t, recs, 2)

	assert.Empty(t, recs[0].Replacements, "the model found nothing in the first text")
	require.Len(t, recs[1].Replacements, 1)
	assert.Equal(t, "Ann", recs[1].Replacements[0].Original)
	assert.True(t, strings.HasSuffix(recs[1].Text, " Lee,"))
}

func TestRunRedactModelResultCount(t *testing.T) {
	cfg := RedactConfig{
		Config: Config{Seed: 1, Domain: DefaultDomain},
		Input:  sampleCorpus(t),
		Output: filepath.Join(t.TempDir(), "redacted.jsonl"),
		Source: SourceModel,
		Model:  shortModel{},
	}
	var report Report
	require.NotPanics(t, func() {
		var err error
		report, err = RunRedact(context.Background(), zaptest.NewLogger(t), cfg)
		require.NoError(t, err)
	})
	assert.Equal(t, 2, report.Skipped)
	assert.Zero(t, report.Processed)
}

func TestRunRedactPredictions(t *testing.T) {
	aligned, _ := preprocessSample(t)
	recs, _, err := corpus.ReadAll[corpus.AlignedRecord](aligned)
	require.NoError(t, err)

	predPath := filepath.Join(t.TempDir(), "predictions.jsonl")
	w, err := corpus.Create[corpus.Prediction](predPath)
	require.NoError(t, err)
	for _, rec := range recs {
		require.NoError(t, w.Write(corpus.Prediction{UID: rec.UID, Labels: rec.Labels}))
	}
	require.NoError(t, w.Close())

	out := redactSample(t, RedactConfig{
		Config:      Config{Seed: 2, Tokenizer: "tiktoken:cl100k_base", MaxLength: 128, Padding: "none"},
		Source:      SourcePredictions,
		Predictions: predPath,
	})
	require.Len(t, out, 2)
	assert.Len(t, out[0].Replacements, 4)
	assert.NotContains(t, out[0].Text, "12345678")
	assert.Len(t, out[1].Replacements, 2)
}

func TestRunRedactPredictionsRequiresFile(t *testing.T) {
	_, err := RunRedact(context.Background(), zaptest.NewLogger(t), RedactConfig{
		Input:  sampleCorpus(t),
		Output: filepath.Join(t.TempDir(), "out.jsonl"),
		Source: SourcePredictions,
	})
	require.Error(t, err)
}

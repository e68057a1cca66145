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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/antflydb/phimask/lib/align"
	"github.com/antflydb/phimask/lib/deid"
	"github.com/antflydb/phimask/lib/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeModel struct {
	spans map[string][]align.Span
	err   error
}

func (m *fakeModel) Recognize(_ context.Context, texts []string) ([][]align.Span, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]align.Span, len(texts))
	for i, text := range texts {
		out[i] = m.spans[text]
	}
	return out, nil
}

func (m *fakeModel) Close() error { return nil }

// shortModel drops every result.
type shortModel struct{}

func (shortModel) Recognize(context.Context, []string) ([][]align.Span, error) { return nil, nil }

func (shortModel) Close() error { return nil }

func newTestNode(t *testing.T, cfg Config, opts ...NodeOption) (*Node, http.Handler) {
	t.Helper()
	node, err := NewNode(zaptest.NewLogger(t), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, node.Close()) })
	return node, node.Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestNode_Health(t *testing.T) {
	_, h := newTestNode(t, Config{})

	w := doJSON(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ready := decodeBody[ReadyResponse](t, w)
	assert.Equal(t, "ready", ready.Status)
	assert.True(t, ready.Components.Deidentifier)
	assert.False(t, ready.Components.Model)
	assert.Equal(t, 101, ready.Components.Labels)

	w = doJSON(t, h, http.MethodGet, "/api/version", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, Version, decodeBody[VersionResponse](t, w).Version)
}

func TestNode_RequestID(t *testing.T) {
	_, h := newTestNode(t, Config{})

	w := doJSON(t, h, http.MethodGet, "/api/labels", nil)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/api/labels", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestNode_Labels(t *testing.T) {
	_, h := newTestNode(t, Config{})

	w := doJSON(t, h, http.MethodGet, "/api/labels", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeBody[LabelsResponse](t, w)
	require.Len(t, resp.Labels, 101)
	assert.Equal(t, "O", resp.Labels[0])
	assert.Len(t, resp.Types, 25)
	assert.Contains(t, resp.Labels, "U-MEDICAL_RECORD_NUMBER")
}

func TestNode_Deidentify(t *testing.T) {
	_, h := newTestNode(t, Config{})

	text := "John Smith was seen on 05/02/2020 in Boston."
	seed := uint64(42)
	req := DeidentifyRequest{
		Text: text,
		Spans: []APISpan{
			{Start: 0, End: 4, Label: "first_name"},
			{Start: 5, End: 10, Label: "LAST_NAME"},
			{Start: 23, End: 33, Label: "date"},
			{Start: 37, End: 43, Label: "city"},
		},
		Seed: &seed,
	}

	w := doJSON(t, h, http.MethodPost, "/api/deidentify", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decodeBody[DeidentifyResponse](t, w)

	require.Len(t, first.Replacements, 4)
	assert.Equal(t, "John", first.Replacements[0].Original)
	assert.Equal(t, schema.FirstName, first.Replacements[0].Type)
	assert.Equal(t, "05/02/2020", first.Replacements[2].Original)
	assert.Equal(t, 23, first.Replacements[2].Start)
	assert.True(t, strings.HasSuffix(first.Text, " in [CITY]."), first.Text)

	// Same seed, same surrogates.
	w = doJSON(t, h, http.MethodPost, "/api/deidentify", req)
	require.Equal(t, http.StatusOK, w.Code)
	second := decodeBody[DeidentifyResponse](t, w)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, first.DateShift, second.DateShift)
}

func TestNode_DateLayouts(t *testing.T) {
	_, h := newTestNode(t, Config{
		DateLayouts: []deid.DateLayout{{Parse: "2.1.2006", Render: "02.01.2006"}},
	})

	w := doJSON(t, h, http.MethodPost, "/api/deidentify", DeidentifyRequest{
		Text:  "Seen 15.3.2020.",
		Spans: []APISpan{{Start: 5, End: 14, Label: "date"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody[DeidentifyResponse](t, w)

	want := time.Date(2020, time.March, 15, 0, 0, 0, 0, time.UTC).AddDate(0, 0, resp.DateShift).Format("02.01.2006")
	assert.Equal(t, "Seen "+want+".", resp.Text)

	_, err := NewNode(zaptest.NewLogger(t), Config{
		DateLayouts: []deid.DateLayout{{Parse: "1/2/2006", Render: "02/01/2006"}},
	})
	require.ErrorContains(t, err, "date_layouts[0]")
}

func TestNode_DeidentifyCodePointOffsets(t *testing.T) {
	_, h := newTestNode(t, Config{Seed: 7})

	text := "Zoë Ångström called."
	w := doJSON(t, h, http.MethodPost, "/api/deidentify", DeidentifyRequest{
		Text: text,
		Spans: []APISpan{
			{Start: 0, End: 3, Label: "FIRST_NAME"},
			{Start: 4, End: 12, Label: "LAST_NAME"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeBody[DeidentifyResponse](t, w)
	require.Len(t, resp.Replacements, 2)
	assert.Equal(t, "Zoë", resp.Replacements[0].Original)
	assert.Equal(t, 0, resp.Replacements[0].Start)
	assert.Equal(t, 3, resp.Replacements[0].End)
	assert.Equal(t, "Ångström", resp.Replacements[1].Original)
	assert.Equal(t, 4, resp.Replacements[1].Start)
	assert.Equal(t, 12, resp.Replacements[1].End)
	assert.True(t, strings.HasSuffix(resp.Text, " called."))
}

func TestNode_DeidentifyBadRequest(t *testing.T) {
	_, h := newTestNode(t, Config{})

	req := httptest.NewRequest(http.MethodPost, "/api/deidentify", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNode_AlignWithoutTokenizer(t *testing.T) {
	_, h := newTestNode(t, Config{})

	w := doJSON(t, h, http.MethodPost, "/api/align", AlignRequest{Text: "hello"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doJSON(t, h, http.MethodPost, "/api/decode", DecodeRequest{Text: "hello"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNode_AlignAndDecode(t *testing.T) {
	node, h := newTestNode(t, Config{
		Tokenizer: "tiktoken:cl100k_base",
		MaxLength: 64,
		Padding:   "none",
	})

	text := "Zoë visited Boston on 05/02/2020."
	req := AlignRequest{
		Text: text,
		Spans: []APISpan{
			{Start: 0, End: 3, Label: "FIRST_NAME"},
			{Start: 12, End: 18, Label: "city"},
			{Start: 1, End: 2, Label: "NOT_A_LABEL"},
		},
	}

	w := doJSON(t, h, http.MethodPost, "/api/align", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody[AlignResponse](t, w)

	n := len(resp.InputIDs)
	require.Positive(t, n)
	assert.Len(t, resp.AttentionMask, n)
	assert.Len(t, resp.Labels, n)
	assert.Len(t, resp.LabelNames, n)
	assert.Len(t, resp.Offsets, n)
	assert.False(t, resp.Truncated)

	require.Len(t, resp.Dropped, 1)
	assert.Equal(t, "NOT_A_LABEL", resp.Dropped[0].Label)

	assert.Contains(t, resp.LabelNames, "U-CITY", "a single BPE token covers Boston")

	// The second identical request is served from the cache.
	w = doJSON(t, h, http.MethodPost, "/api/align", req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uint64(1), node.alignCache.Stats().Hits)

	w = doJSON(t, h, http.MethodPost, "/api/decode", DecodeRequest{Text: text, Labels: resp.Labels})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decoded := decodeBody[DecodeResponse](t, w).Spans
	require.Len(t, decoded, 2)
	assert.Equal(t, APISpan{Start: 0, End: 3, Label: "FIRST_NAME", Text: "Zoë"}, decoded[0])
	assert.Equal(t, "CITY", decoded[1].Label)
	assert.Contains(t, decoded[1].Text, "Boston")
}

func TestNode_Recognize(t *testing.T) {
	text := "Call John at 555-123-4567."
	model := &fakeModel{spans: map[string][]align.Span{
		text: {
			{Start: 5, End: 9, Type: schema.FirstName},
			{Start: 13, End: 25, Type: schema.PhoneNumber},
		},
	}}
	_, h := newTestNode(t, Config{Seed: 3}, WithModel(model))

	w := doJSON(t, h, http.MethodPost, "/api/recognize", RecognizeRequest{Texts: []string{text, "nothing here"}, Redact: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeBody[RecognizeResponse](t, w)
	require.Len(t, resp.Spans, 2)
	assert.Equal(t, []APISpan{
		{Start: 5, End: 9, Label: "FIRST_NAME", Text: "John"},
		{Start: 13, End: 25, Label: "PHONE_NUMBER", Text: "555-123-4567"},
	}, resp.Spans[0])
	assert.Empty(t, resp.Spans[1])

	require.Len(t, resp.Redacted, 2)
	assert.NotEqual(t, text, resp.Redacted[0])
	assert.True(t, strings.HasSuffix(resp.Redacted[0], " at [PHONE]."), resp.Redacted[0])
	assert.Equal(t, "nothing here", resp.Redacted[1])
}

func TestNode_RecognizeErrors(t *testing.T) {
	_, h := newTestNode(t, Config{})
	w := doJSON(t, h, http.MethodPost, "/api/recognize", RecognizeRequest{Texts: []string{"x"}})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	_, h = newTestNode(t, Config{}, WithModel(&fakeModel{err: errors.New("boom")}))
	w = doJSON(t, h, http.MethodPost, "/api/recognize", RecognizeRequest{Texts: []string{"x"}})
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = doJSON(t, h, http.MethodPost, "/api/recognize", RecognizeRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	_, h = newTestNode(t, Config{}, WithModel(shortModel{}))
	w = doJSON(t, h, http.MethodPost, "/api/recognize", RecognizeRequest{Texts: []string{"x", "y"}})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "0 results for 2 texts")
}

func TestNode_QueueFull(t *testing.T) {
	node, h := newTestNode(t, Config{MaxConcurrentRequests: 1, MaxQueueSize: 1})

	release, err := node.requestQueue.Acquire(context.Background())
	require.NoError(t, err)

	// A second caller waits in the queue.
	waiting := make(chan struct{})
	go func() {
		defer close(waiting)
		r, err := node.requestQueue.Acquire(context.Background())
		if err == nil {
			r()
		}
	}()
	require.Eventually(t, func() bool {
		return node.requestQueue.Stats().CurrentQueued == 1
	}, time.Second, 5*time.Millisecond)

	w := doJSON(t, h, http.MethodPost, "/api/deidentify", DeidentifyRequest{Text: "x"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "5", w.Header().Get("Retry-After"))

	release()
	<-waiting

	w = doJSON(t, h, http.MethodPost, "/api/deidentify", DeidentifyRequest{Text: "x"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNode_CORSPreflight(t *testing.T) {
	_, h := newTestNode(t, Config{})

	req := httptest.NewRequest(http.MethodOptions, "/api/deidentify", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

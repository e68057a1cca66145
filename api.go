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
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/antflydb/phimask/lib/align"
	"github.com/antflydb/phimask/lib/deid"
	"github.com/antflydb/phimask/lib/ner"
	"github.com/antflydb/phimask/lib/schema"
	"github.com/antflydb/phimask/lib/tokenizer"
	"github.com/bytedance/sonic/decoder"
	"github.com/bytedance/sonic/encoder"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request id assigned by the service.
const RequestIDHeader = "X-Request-ID"

// APISpan is an entity span in code-point offsets.
type APISpan struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Label string `json:"label"`
	Text  string `json:"text,omitempty"`
}

// AlignRequest is the body of POST /api/align.
type AlignRequest struct {
	Text  string    `json:"text"`
	Spans []APISpan `json:"spans"`
}

// AlignResponse holds model inputs and BILOU label ids for one text.
// Offsets and dropped spans are in code points.
type AlignResponse struct {
	InputIDs      []int     `json:"input_ids"`
	AttentionMask []int     `json:"attention_mask"`
	Labels        []int     `json:"labels"`
	LabelNames    []string  `json:"label_names"`
	Offsets       [][2]int  `json:"offsets"`
	Dropped       []APISpan `json:"dropped,omitempty"`
	Truncated     bool      `json:"truncated,omitempty"`
}

// DecodeRequest is the body of POST /api/decode.
type DecodeRequest struct {
	Text   string `json:"text"`
	Labels []int  `json:"labels"`
}

// DecodeResponse is the response of POST /api/decode.
type DecodeResponse struct {
	Spans []APISpan `json:"spans"`
}

// DeidentifyRequest is the body of POST /api/deidentify. Without a seed
// the service seed is used; a zero service seed draws a random one.
type DeidentifyRequest struct {
	Text  string    `json:"text"`
	Spans []APISpan `json:"spans"`
	Seed  *uint64   `json:"seed,omitempty"`
}

// DeidentifyResponse is the de-identified text. Replacement offsets are
// code points into the request text.
type DeidentifyResponse struct {
	Text         string             `json:"text"`
	Replacements []deid.Replacement `json:"replacements"`
	DateShift    int                `json:"date_shift"`
}

// RecognizeRequest is the body of POST /api/recognize.
type RecognizeRequest struct {
	Texts  []string `json:"texts"`
	Redact bool     `json:"redact,omitempty"`
	Seed   *uint64  `json:"seed,omitempty"`
}

// RecognizeResponse holds detected spans per text and, when requested,
// the redacted texts.
type RecognizeResponse struct {
	Spans    [][]APISpan `json:"spans"`
	Redacted []string    `json:"redacted,omitempty"`
}

// LabelsResponse lists the label vocabulary in id order.
type LabelsResponse struct {
	Labels []string `json:"labels"`
	Types  []string `json:"types"`
}

// Node serves the alignment and de-identification API.
type Node struct {
	logger *zap.Logger
	deid   *deid.Deidentifier
	seed   uint64

	// encoders is nil when no tokenizer is configured.
	tokenizerName string
	encoders      chan *tokenizer.Encoder
	tokenizers    []tokenizer.Tokenizer

	// model is nil when no tagger is configured.
	model      ner.Model
	closeModel func() error

	requestQueue *RequestQueue
	alignCache   *AlignmentCache
}

// NodeOption configures a Node.
type NodeOption func(*Node)

// WithModel serves /api/recognize from m instead of loading Config.ModelDir.
// The caller keeps ownership of m.
func WithModel(m ner.Model) NodeOption {
	return func(n *Node) { n.model = m }
}

// NewNode loads the configured tokenizer and tagger.
func NewNode(logger *zap.Logger, cfg Config, opts ...NodeOption) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.WithDefaults()

	requestTimeout, err := parseDuration("request_timeout", cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parseDuration("cache_ttl", cfg.CacheTTL)
	if err != nil {
		return nil, err
	}

	d, err := cfg.Deidentifier()
	if err != nil {
		return nil, err
	}

	n := &Node{
		logger: logger,
		deid:   d,
		seed:   cfg.Seed,
		requestQueue: NewRequestQueue(RequestQueueConfig{
			MaxConcurrentRequests: cfg.MaxConcurrentRequests,
			MaxQueueSize:          cfg.MaxQueueSize,
			RequestTimeout:        requestTimeout,
		}, logger.Named("queue")),
	}
	for _, opt := range opts {
		opt(n)
	}

	if cfg.Tokenizer != "" {
		if err := n.loadEncoders(cfg); err != nil {
			_ = n.Close()
			return nil, err
		}
		n.alignCache = NewAlignmentCache(cacheTTL, logger.Named("align-cache"))
	}

	if n.model == nil && cfg.ModelDir != "" {
		tagger, err := loadTagger(cfg, logger)
		if err != nil {
			_ = n.Close()
			return nil, err
		}
		n.model = tagger
		n.closeModel = tagger.Close
		logger.Info("Loaded tagger", zap.String("path", cfg.ModelDir), zap.Int("pool_size", tagger.Size()))
	}

	return n, nil
}

// loadEncoders loads one tokenizer per worker; encoders are checked out
// per request.
func (n *Node) loadEncoders(cfg Config) error {
	encOpts, err := cfg.EncoderOptions()
	if err != nil {
		return err
	}
	size := max(cfg.Workers, 1)
	n.encoders = make(chan *tokenizer.Encoder, size)
	for range size {
		tok, err := tokenizer.Load(cfg.Tokenizer)
		if err != nil {
			return fmt.Errorf("loading tokenizer %s: %w", cfg.Tokenizer, err)
		}
		n.tokenizers = append(n.tokenizers, tok)
		enc, err := tokenizer.NewEncoder(tok, encOpts...)
		if err != nil {
			return err
		}
		n.encoders <- enc
	}
	n.tokenizerName = cfg.Tokenizer
	n.logger.Info("Loaded tokenizer",
		zap.String("tokenizer", cfg.Tokenizer),
		zap.Int("max_length", cfg.MaxLength),
		zap.Int("instances", size))
	return nil
}

// Close releases the tokenizers, the cache and an owned tagger.
func (n *Node) Close() error {
	var errs []error
	if n.alignCache != nil {
		n.alignCache.Close()
	}
	for _, tok := range n.tokenizers {
		errs = append(errs, tokenizer.Close(tok))
	}
	n.tokenizers = nil
	if n.closeModel != nil {
		errs = append(errs, n.closeModel())
		n.closeModel = nil
	}
	return errors.Join(errs...)
}

// Handler returns the service's HTTP routes.
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints (outside /api prefix for k8s compatibility)
	mux.HandleFunc("GET /healthz", n.handleHealthz)
	mux.HandleFunc("GET /readyz", n.handleReadyz)

	mux.HandleFunc("GET /api/version", n.handleVersion)
	mux.HandleFunc("GET /api/labels", n.handleLabels)
	mux.Handle("POST /api/align", n.queued("align", n.handleAlign))
	mux.Handle("POST /api/decode", n.queued("decode", n.handleDecode))
	mux.Handle("POST /api/deidentify", n.queued("deidentify", n.handleDeidentify))
	mux.Handle("POST /api/recognize", n.queued("recognize", n.handleRecognize))

	return corsMiddleware(requestIDMiddleware(mux))
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// queued applies backpressure via the request queue and records the
// request duration.
func (n *Node) queued(endpoint string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() { _ = r.Body.Close() }()
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			RecordRequestDuration(endpoint, strconv.Itoa(rec.status), time.Since(start).Seconds())
		}()

		release, err := n.requestQueue.Acquire(r.Context())
		if err != nil {
			switch {
			case errors.Is(err, ErrQueueFull):
				RecordQueueRejection()
				rec.status = http.StatusServiceUnavailable
				WriteQueueFullResponse(w, 5*time.Second)
			case errors.Is(err, ErrRequestTimeout):
				RecordQueueTimeout()
				rec.status = http.StatusServiceUnavailable
				WriteTimeoutResponse(w)
			default:
				http.Error(rec, "request cancelled", http.StatusRequestTimeout)
			}
			return
		}
		defer release()
		UpdateQueueMetrics(n.requestQueue.Stats())

		h(rec, r)
	})
}

func (n *Node) handleLabels(w http.ResponseWriter, r *http.Request) {
	v := schema.Default()
	types := make([]string, 0, len(v.Types()))
	for _, t := range v.Types() {
		types = append(types, string(t))
	}
	writeJSON(w, n.logger, http.StatusOK, LabelsResponse{Labels: v.Labels(), Types: types})
}

func (n *Node) handleAlign(w http.ResponseWriter, r *http.Request) {
	if n.encoders == nil {
		writeError(w, n.logger, http.StatusServiceUnavailable, "alignment not available: no tokenizer configured")
		return
	}

	var req AlignRequest
	if err := decoder.NewStreamDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, n.logger, http.StatusBadRequest, fmt.Sprintf("decoding request: %v", err))
		return
	}
	if req.Text == "" {
		writeError(w, n.logger, http.StatusBadRequest, "text is required")
		return
	}

	idx := align.NewOffsetIndex(req.Text)
	spans := idx.SpansToBytes(resolveSpans(req.Spans))

	resp, err := n.alignCache.GetOrCompute(n.tokenizerName, req.Text, spans, func() (*AlignResponse, error) {
		return n.align(r.Context(), idx, req.Text, spans)
	})
	if err != nil {
		n.logger.Error("align failed", zap.Error(err), zap.String("request_id", w.Header().Get(RequestIDHeader)))
		writeError(w, n.logger, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, n.logger, http.StatusOK, resp)
}

func (n *Node) align(ctx context.Context, idx *align.OffsetIndex, text string, spans []align.Span) (*AlignResponse, error) {
	enc, err := n.checkoutEncoder(ctx)
	if err != nil {
		return nil, err
	}
	encoding, err := enc.Encode(text)
	n.encoders <- enc
	if err != nil {
		return nil, err
	}

	res := align.Align(encoding.Spans, spans)
	vocab := schema.Default()
	resp := &AlignResponse{
		InputIDs:      encoding.InputIDs,
		AttentionMask: encoding.AttentionMask,
		Labels:        res.Labels,
		LabelNames:    make([]string, len(res.Labels)),
		Offsets:       make([][2]int, len(encoding.Spans)),
		Truncated:     encoding.Truncated,
	}
	for i, id := range res.Labels {
		if l, ok := vocab.Label(id); ok {
			resp.LabelNames[i] = l.String()
		}
	}
	for i, tok := range idx.TokensToRunes(encoding.Spans) {
		resp.Offsets[i] = [2]int{tok.Start, tok.End}
	}
	resp.Dropped = toAPISpans(text, idx, res.Dropped)
	RecordSpansDropped(len(res.Dropped))
	return resp, nil
}

func (n *Node) handleDecode(w http.ResponseWriter, r *http.Request) {
	if n.encoders == nil {
		writeError(w, n.logger, http.StatusServiceUnavailable, "decoding not available: no tokenizer configured")
		return
	}

	var req DecodeRequest
	if err := decoder.NewStreamDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, n.logger, http.StatusBadRequest, fmt.Sprintf("decoding request: %v", err))
		return
	}

	enc, err := n.checkoutEncoder(r.Context())
	if err != nil {
		http.Error(w, "request cancelled", http.StatusRequestTimeout)
		return
	}
	encoding, err := enc.Encode(req.Text)
	n.encoders <- enc
	if err != nil {
		writeError(w, n.logger, http.StatusInternalServerError, err.Error())
		return
	}

	idx := align.NewOffsetIndex(req.Text)
	spans := align.Decode(encoding.Spans, req.Labels)
	writeJSON(w, n.logger, http.StatusOK, DecodeResponse{Spans: toAPISpans(req.Text, idx, spans)})
}

func (n *Node) handleDeidentify(w http.ResponseWriter, r *http.Request) {
	var req DeidentifyRequest
	if err := decoder.NewStreamDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, n.logger, http.StatusBadRequest, fmt.Sprintf("decoding request: %v", err))
		return
	}

	idx := align.NewOffsetIndex(req.Text)
	st := deid.NewDocumentState(n.requestSeed(req.Seed))
	text, reps := n.redact(req.Text, idx, idx.SpansToBytes(resolveSpans(req.Spans)), st)
	writeJSON(w, n.logger, http.StatusOK, DeidentifyResponse{
		Text:         text,
		Replacements: reps,
		DateShift:    st.DateShift(),
	})
}

func (n *Node) handleRecognize(w http.ResponseWriter, r *http.Request) {
	if n.model == nil {
		writeError(w, n.logger, http.StatusServiceUnavailable, "recognition not available: no model configured")
		return
	}

	var req RecognizeRequest
	if err := decoder.NewStreamDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, n.logger, http.StatusBadRequest, fmt.Sprintf("decoding request: %v", err))
		return
	}
	if len(req.Texts) == 0 {
		writeError(w, n.logger, http.StatusBadRequest, "texts are required")
		return
	}

	found, err := n.model.Recognize(r.Context(), req.Texts)
	if err != nil {
		n.logger.Error("recognize failed", zap.Error(err), zap.String("request_id", w.Header().Get(RequestIDHeader)))
		writeError(w, n.logger, http.StatusInternalServerError, err.Error())
		return
	}
	if len(found) != len(req.Texts) {
		n.logger.Error("recognize returned wrong result count",
			zap.Int("texts", len(req.Texts)), zap.Int("results", len(found)),
			zap.String("request_id", w.Header().Get(RequestIDHeader)))
		writeError(w, n.logger, http.StatusInternalServerError,
			fmt.Sprintf("model returned %d results for %d texts", len(found), len(req.Texts)))
		return
	}

	resp := RecognizeResponse{Spans: make([][]APISpan, len(req.Texts))}
	if req.Redact {
		resp.Redacted = make([]string, len(req.Texts))
	}
	st := deid.NewDocumentState(n.requestSeed(req.Seed))
	for i, text := range req.Texts {
		idx := align.NewOffsetIndex(text)
		resp.Spans[i] = toAPISpans(text, idx, found[i])
		if req.Redact {
			st.Reset()
			resp.Redacted[i], _ = n.redact(text, idx, found[i], st)
		}
	}
	writeJSON(w, n.logger, http.StatusOK, resp)
}

// redact replaces byte spans in text and reports replacements in code
// points.
func (n *Node) redact(text string, idx *align.OffsetIndex, spans []align.Span, st *deid.DocumentState) (string, []deid.Replacement) {
	out, reps := n.deid.Redact(text, spans, st)
	for i := range reps {
		reps[i].Start = idx.RuneOffset(reps[i].Start)
		reps[i].End = idx.RuneOffset(reps[i].End)
		RecordReplacement(string(reps[i].Type), string(reps[i].Policy))
	}
	if reps == nil {
		reps = []deid.Replacement{}
	}
	return out, reps
}

func (n *Node) requestSeed(seed *uint64) uint64 {
	if seed != nil {
		return *seed
	}
	return n.seed
}

func (n *Node) checkoutEncoder(ctx context.Context) (*tokenizer.Encoder, error) {
	select {
	case enc := <-n.encoders:
		return enc, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolveSpans maps request labels onto entity types. Labels that do not
// resolve keep their name and are reported as dropped by Align.
func resolveSpans(in []APISpan) []align.Span {
	out := make([]align.Span, len(in))
	for i, s := range in {
		t, ok := sourceMapping.Resolve(s.Label)
		if !ok {
			t = schema.EntityType(s.Label)
		}
		out[i] = align.Span{Start: s.Start, End: s.End, Type: t}
	}
	return out
}

// toAPISpans converts byte spans to code-point spans with their text.
func toAPISpans(text string, idx *align.OffsetIndex, spans []align.Span) []APISpan {
	out := make([]APISpan, 0, len(spans))
	for _, s := range spans {
		var covered string
		if s.Start >= 0 && s.End <= len(text) && s.Start < s.End {
			covered = text[s.Start:s.End]
		}
		out = append(out, APISpan{
			Start: idx.RuneOffset(s.Start),
			End:   idx.RuneOffset(s.End),
			Label: string(s.Type),
			Text:  covered,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := encoder.NewStreamEncoder(w).Encode(v); err != nil {
		logger.Error("encoding response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, status int, msg string) {
	writeJSON(w, logger, status, errorResponse{Error: msg})
}

// requestIDMiddleware assigns each request an id, keeping one supplied by
// the client.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds permissive CORS headers for browser clients.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, Accept, Origin, "+RequestIDHeader)
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

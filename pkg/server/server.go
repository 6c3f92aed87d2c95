package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pario-ai/chargeback/pkg/meter"
	"github.com/pario-ai/chargeback/pkg/models"
	"github.com/pario-ai/chargeback/pkg/pipeline"
)

const maxBodySize = 64 << 20

// Summarizer reports recorded usage for an app key.
type Summarizer interface {
	Summary(ctx context.Context, appKey string) ([]models.UsageSummary, error)
}

// Server is the chargeback HTTP ingest endpoint.
type Server struct {
	listen   string
	pipeline *pipeline.Pipeline
	usage    Summarizer
	logger   *zap.Logger
	mux      *http.ServeMux
}

// New creates a Server. usage and gatherer may be nil, which disables the
// usage and metrics endpoints.
func New(listen string, p *pipeline.Pipeline, usage Summarizer, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		listen:   listen,
		pipeline: p,
		usage:    usage,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("/v1/batches", s.handleBatch)
	s.mux.HandleFunc("/v1/usage/{appKey}", s.handleUsage)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("chargeback ingest listening", zap.String("addr", s.listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

// BatchResponse reports the outcome of an ingested batch.
type BatchResponse struct {
	BatchID   string          `json:"batch_id"`
	Total     int             `json:"total"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Skipped   int             `json:"skipped"`
	Failures  []FailureDetail `json:"failures,omitempty"`
}

// FailureDetail describes one failed record of a batch.
type FailureDetail struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

func newBatchResponse(batchID string, out *meter.Outcome) BatchResponse {
	resp := BatchResponse{
		BatchID:   batchID,
		Total:     out.Total(),
		Succeeded: len(out.Records),
		Failed:    len(out.Failures),
		Skipped:   out.Skipped,
	}
	for _, f := range out.Failures {
		resp.Failures = append(resp.Failures, FailureDetail{Index: f.Index, Error: f.Err.Error()})
	}
	return resp
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	payloads, err := pipeline.ReadBatch(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeJSONError(w, http.StatusRequestEntityTooLarge, "batch too large")
		case errors.Is(err, pipeline.ErrEmptyBatch):
			writeJSONError(w, http.StatusBadRequest, "empty batch")
		default:
			writeJSONError(w, http.StatusBadRequest, "invalid batch body")
		}
		return
	}

	batchID, out := s.pipeline.Run(r.Context(), pipeline.SourceHTTP, r.Header.Get("X-Batch-ID"), payloads)

	code := http.StatusOK
	if len(out.Failures) > 0 {
		code = http.StatusMultiStatus
	}
	writeJSON(w, code, newBatchResponse(batchID, out))
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.usage == nil {
		writeJSONError(w, http.StatusNotFound, "usage tracking disabled")
		return
	}

	summaries, err := s.usage.Summary(r.Context(), r.PathValue("appKey"))
	if err != nil {
		s.logger.Error("usage summary", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "usage summary failed")
		return
	}
	if summaries == nil {
		summaries = []models.UsageSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"chargeback_error","code":%d}}`, message, code)
}

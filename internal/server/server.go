// Package server exposes the restoration pipeline over HTTP.
//
//   - POST /restore_batch_url   JSON {"urls": [...]}
//   - POST /restore_batch_file  multipart form, one or more "files" parts
//   - GET  /batches/{id}        a previously returned batch result
//   - GET  /healthz
//
// The batch endpoints block until every item in the batch has finished and
// respond with the aggregated domain.BatchResult.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog/log"

	"github.com/fpang/card-restore/internal/domain"
	"github.com/fpang/card-restore/internal/jobs"
	"github.com/fpang/card-restore/internal/pipeline"
	"github.com/fpang/card-restore/internal/store"
)

// Processor runs batches. *pipeline.Processor implements it.
type Processor interface {
	ProcessURLs(ctx context.Context, urls []string) domain.BatchResult
	ProcessFiles(ctx context.Context, files []pipeline.FileSource) domain.BatchResult
}

// DefaultMaxUploadBytes bounds a multipart request body.
const DefaultMaxUploadBytes = 512 << 20

// multipartMemory is the part of a multipart body kept in memory; the rest
// spills to temporary files.
const multipartMemory = 32 << 20

// Server holds the handler dependencies.
type Server struct {
	processor      Processor
	batches        store.BatchStore
	maxUploadBytes int64
}

// New creates a Server. batches may be nil, in which case GET /batches/{id}
// always answers 404.
func New(processor Processor, batches store.BatchStore, maxUploadBytes int64) *Server {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &Server{processor: processor, batches: batches, maxUploadBytes: maxUploadBytes}
}

// Handler returns the routed, compressed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(withLogging)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/restore_batch_url", s.handleRestoreURLs)
	r.Post("/restore_batch_file", s.handleRestoreFiles)
	r.Get("/batches/{id}", s.handleGetBatch)

	return gzhttp.GzipHandler(r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type restoreURLsRequest struct {
	URLs []string `json:"urls"`
}

func (s *Server) handleRestoreURLs(w http.ResponseWriter, r *http.Request) {
	var req restoreURLsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	urls := make([]string, 0, len(req.URLs))
	for _, u := range req.URLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		httpError(w, http.StatusBadRequest, "urls must not be empty")
		return
	}

	log.Info().Int("count", len(urls)).Msg("URL batch received")
	respondJSON(w, http.StatusOK, s.processor.ProcessURLs(r.Context(), urls))
}

func (s *Server) handleRestoreFiles(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		httpError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		httpError(w, http.StatusBadRequest, "files must not be empty")
		return
	}

	files := make([]pipeline.FileSource, len(headers))
	for i, fh := range headers {
		files[i] = pipeline.FileSource{
			Name: fh.Filename,
			Open: func() (io.ReadCloser, error) { return fh.Open() },
		}
	}

	log.Info().Int("count", len(files)).Msg("File batch received")
	respondJSON(w, http.StatusOK, s.processor.ProcessFiles(r.Context(), files))
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !jobs.ValidBatchID(id) {
		httpError(w, http.StatusBadRequest, "invalid batch id")
		return
	}
	if s.batches == nil {
		httpError(w, http.StatusNotFound, "batch not found")
		return
	}

	batch, err := s.batches.GetBatch(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("batch_id", id).Msg("Failed to load batch")
		httpError(w, http.StatusInternalServerError, "failed to load batch")
		return
	}
	if batch == nil {
		httpError(w, http.StatusNotFound, "batch not found")
		return
	}
	respondJSON(w, http.StatusOK, batch)
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/healthz" {
			return
		}
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("API request")
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func httpError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

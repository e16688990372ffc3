// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package verifyserver exposes bytecode verification as an HTTP service:
// POST /verify accepts a chunk and starts a verification job; GET
// /verify/{id} polls that job's outcome. Jobs run in background workers
// decoupled from the request that created them, so a client disconnect
// never aborts an in-flight verification.
package verifyserver

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"zombiezen.com/go/log"
	"zombiezen.com/go/uritemplate"
	"zombiezen.com/go/xcontext"

	"lbcv.dev/verifier/bytebuffer"
	"lbcv.dev/verifier/internal/bytecode"
	"lbcv.dev/verifier/internal/verify"
	"lbcv.dev/verifier/internal/verifycache"
	"lbcv.dev/verifier/internal/xio"
)

// maxUploadBytes bounds a single POST /verify body: large enough for any
// real Lua chunk, small enough that a client can't exhaust the spool
// directory with one request.
const maxUploadBytes = 256 << 20

// smallUploadThreshold is the request-body size below which uploadSpool
// keeps the body in memory instead of touching disk: real Lua chunks
// submitted for verification are typically a few KiB, and spilling
// every one of them to a temp file would be needless I/O under normal
// load.
const smallUploadThreshold = 64 << 10

// uploadSpool spools request bodies through an in-memory buffer for
// small uploads and a temporary file for anything larger, since this
// endpoint accepts bytecode from untrusted network clients and a client
// reporting (or lying about) a large Content-Length shouldn't be able
// to force a big allocation — only a bounded disk spool it can already
// fill at maxUploadBytes regardless.
var uploadSpool bytebuffer.Creator = bytebuffer.CreateFunc(func(size int64) (bytebuffer.ReadWriteSeekCloser, error) {
	if size >= 0 && size <= smallUploadThreshold {
		return bytebuffer.BufferCreator{Limit: maxUploadBytes}.CreateBuffer(size)
	}
	return bytebuffer.TempFileCreator{Pattern: "lbcv-upload-*"}.CreateBuffer(size)
})

// jobHrefTemplate expands a job ID into its polling URL, the same way
// a templated HAL resource link is expanded elsewhere in this stack.
const jobHrefTemplate = "/verify/{id}"

// Status is a verification job's lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Job is the polling representation of a verification request.
type Job struct {
	ID     uuid.UUID `json:"id"`
	Href   string    `json:"href"`
	Status Status    `json:"status"`
	Reason string    `json:"reason,omitempty"`
}

// Options configures a [Server].
type Options struct {
	// Allocator bounds each decode session's memory use. Nil means
	// [bytecode.NoLimitAllocator].
	Allocator bytecode.Allocator
	// MaxDepth bounds prototype nesting. Zero means the decoder's
	// built-in default.
	MaxDepth int
	// Cache, if non-nil, memoizes verdicts by content hash.
	Cache *verifycache.Cache
}

// Server is an HTTP handler implementing the verification API.
type Server struct {
	opts Options

	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
}

// New returns a [Server] ready to be wrapped in logging/recovery
// middleware and served.
func New(opts Options) *Server {
	return &Server{
		opts: opts,
		jobs: make(map[uuid.UUID]*Job),
	}
}

// Handler returns the complete HTTP handler for s, with request logging
// and panic recovery middleware applied the way the rest of this stack's
// HTTP surfaces are wrapped.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /verify", s.handleSubmit)
	mux.HandleFunc("GET /verify/{id}", s.handleStatus)
	return handlers.RecoveryHandler()(handlers.CombinedLoggingHandler(logWriter{}, mux))
}

// logWriter adapts this package's structured logger to the io.Writer
// gorilla/handlers' access-log middleware expects.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	log.Infof(context.Background(), "%s", p)
	return len(p), nil
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := spoolRequestBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := uuid.New()
	href, err := uritemplate.Expand(jobHrefTemplate, map[string]any{"id": id.String()})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	job := &Job{ID: id, Href: href, Status: StatusPending}

	s.mu.Lock()
	s.jobs[id] = job
	s.mu.Unlock()

	// Detach the worker's context from the request's: the request
	// handler returns as soon as the job is queued, and the request's
	// context would otherwise be canceled the moment that happens.
	workCtx := xcontext.Detach(r.Context())
	go s.runJob(workCtx, id, body)

	w.Header().Set("Location", href)
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(job)
}

// spoolRequestBody copies r's body through uploadSpool (an in-memory
// buffer for small bodies, a temporary file otherwise), bounding it at
// maxUploadBytes, and returns the spooled bytes once fully received.
// The spool is closed, and any temporary file removed, before returning.
func spoolRequestBody(r *http.Request) ([]byte, error) {
	buf, err := uploadSpool.CreateBuffer(r.ContentLength)
	if err != nil {
		return nil, err
	}
	closer := xio.CloseOnce(buf)
	defer closer.Close()

	var counter xio.WriteCounter
	if _, err := io.Copy(io.MultiWriter(buf, &counter), io.LimitReader(r.Body, maxUploadBytes)); err != nil {
		return nil, err
	}
	if _, err := buf.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(buf)
	if err != nil {
		return nil, err
	}
	log.Debugf(r.Context(), "verifyserver: spooled %d bytes for verification", int64(counter))
	return data, nil
}

func (s *Server) runJob(ctx context.Context, id uuid.UUID, body []byte) {
	start := time.Now()
	status, reason := s.verify(ctx, body)

	s.mu.Lock()
	if job, ok := s.jobs[id]; ok {
		job.Status = status
		job.Reason = reason
	}
	s.mu.Unlock()

	log.Debugf(ctx, "verifyserver: job %s finished in %v: %s", id, time.Since(start), status)
}

func (s *Server) verify(ctx context.Context, body []byte) (Status, string) {
	sum := sha256Sum(body)
	if s.opts.Cache != nil {
		if verdict, ok, err := s.opts.Cache.Lookup(ctx, sum); err == nil && ok {
			if verdict.Accepted {
				return StatusAccepted, ""
			}
			return StatusRejected, verdict.Reason
		}
	}

	allocator := s.opts.Allocator
	if allocator == nil {
		allocator = bytecode.NoLimitAllocator
	}
	proto, err := bytecode.DecodeAll(bytes.NewReader(body), allocator, s.opts.MaxDepth)
	if err == nil {
		err = verify.Verify(proto)
	}

	status, reason := StatusAccepted, ""
	if err != nil {
		status, reason = StatusRejected, err.Error()
	}
	if s.opts.Cache != nil {
		_ = s.opts.Cache.Store(ctx, sum, verifycache.Verdict{Accepted: status == StatusAccepted, Reason: reason})
	}
	return status, reason
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, "malformed job id", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	job, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

func sha256Sum(data []byte) [32]byte {
	return sha256.Sum256(data)
}

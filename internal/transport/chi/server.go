package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fortuspay/supportkb/internal/domain"
	answeruc "github.com/fortuspay/supportkb/internal/usecase/answer"
	healthuc "github.com/fortuspay/supportkb/internal/usecase/health"
	ingestuc "github.com/fortuspay/supportkb/internal/usecase/ingest"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server exposes the answer, ingestion and health services over HTTP.
type Server struct {
	answer        *answeruc.Service
	ingest        *ingestuc.Service
	health        *healthuc.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	answer *answeruc.Service,
	ingest *ingestuc.Service,
	health *healthuc.Service,
	logger *zap.Logger,
) *Server {
	s := &Server{
		answer: answer,
		ingest: ingest,
		health: health,
		logger: logger,
	}
	s.errorHandlers = []errorHandler{
		validationHandler(domain.ErrNoUserMessage),
		validationHandler(domain.ErrNoValidChunks),
		upstreamHandler(domain.ErrIndexNameMissing),
		upstreamHandler(domain.ErrVectorDimMismatch),
		upstreamHandler(domain.ErrEmbeddingProviderError),
		upstreamHandler(domain.ErrIndexProviderError),
		upstreamHandler(domain.ErrCompletionProviderError),
	}
	return s
}

// Register mounts all routes onto the router.
func (s *Server) Register(r chi.Router) {
	r.Post("/answer", s.Answer)
	r.Post("/ingest", s.Ingest)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

type messagePayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type answerRequest struct {
	Messages []messagePayload `json:"messages"`
	// Message is the single-question form accepted for older clients.
	Message string `json:"message"`
}

type answerResponse struct {
	Answer string `json:"answer"`
}

type chunkPayload struct {
	Keyword string `json:"keyword"`
	Text    string `json:"text"`
}

type ingestRequest struct {
	Chunks []chunkPayload `json:"chunks"`
}

type ingestResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	UploadedCount int    `json:"uploadedCount"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Answer handles POST /answer.
func (s *Server) Answer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error(), "")
		return
	}

	history, err := historyFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	answer, err := s.answer.Answer(r.Context(), history)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, answerResponse{Answer: answer})
}

// Ingest handles POST /ingest.
func (s *Server) Ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error(), "")
		return
	}

	if len(req.Chunks) == 0 {
		writeError(w, http.StatusBadRequest, "chunks are required", "")
		return
	}

	chunks := make([]domain.KnowledgeChunk, len(req.Chunks))
	for i, c := range req.Chunks {
		chunks[i] = domain.KnowledgeChunk{Keyword: c.Keyword, Text: c.Text}
	}

	count, err := s.ingest.Ingest(r.Context(), chunks)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		Success:       true,
		Message:       fmt.Sprintf("uploaded %d chunks", count),
		UploadedCount: count,
	})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func historyFromRequest(req answerRequest) ([]domain.Message, error) {
	if len(req.Messages) == 0 {
		if req.Message == "" {
			return nil, errors.New("messages are required")
		}
		return []domain.Message{{Role: domain.RoleUser, Content: req.Message}}, nil
	}

	history := make([]domain.Message, len(req.Messages))
	for i, m := range req.Messages {
		role := domain.Role(m.Role)
		if !domain.ValidRole(role) {
			return nil, fmt.Errorf("message %d has invalid role %q", i, m.Role)
		}
		history[i] = domain.Message{Role: role, Content: m.Content}
	}
	return history, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, errorResponse{Error: message, Details: details})
}

// validationHandler maps a sentinel error to 400 with its message.
func validationHandler(sentinel error) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, http.StatusBadRequest, sentinel.Error(), "")
		return true
	}
}

// upstreamHandler maps a sentinel error to 500, keeping the wrapped chain
// in the details field for operator diagnosis.
func upstreamHandler(sentinel error) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, http.StatusInternalServerError, sentinel.Error(), err.Error())
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	for _, h := range s.errorHandlers {
		if h(w, err) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error", err.Error())
}
